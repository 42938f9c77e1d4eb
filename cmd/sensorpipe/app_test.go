package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/config"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/remote"
	"codeberg.org/mutker/sensorpipe/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppEndToEnd(t *testing.T) {
	logger.SetOutput(io.Discard)
	t.Setenv("SENSORPIPE_CONFIG", "")

	dir := t.TempDir()
	sessionDB := filepath.Join(dir, "sessions.db")
	metricsDB := filepath.Join(dir, "metrics.db")

	cfg, err := config.Load([]string{
		"--console=false",
		"--remote", "--remote-addr", "127.0.0.1:0",
		"--session-db", sessionDB,
		"--metrics", "--metrics-db", metricsDB,
	}, config.WithSearchDirs(dir))
	require.NoError(t, err)

	a, err := newApp(cfg, strings.NewReader(""), io.Discard)
	require.NoError(t, err)
	require.Nil(t, a.keyboard, "keyboard needs a terminal")
	base := "http://" + a.listener.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	resp, err := http.Get(base + "/control?cmd=start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return a.ctrl.Measuring() && a.exp.Buffers.TotalLen() > 0
	}, 5*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/status")
	require.NoError(t, err)
	var st remote.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.True(t, st.Measuring)
	assert.NotEmpty(t, st.RunID)
	assert.Contains(t, st.Buffers, "accAbs")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}

	store, err := session.Open(sessionDB)
	require.NoError(t, err)
	defer store.Close()
	snap, err := store.Load(context.Background(), session.DefaultName)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Buffers["accX"])
	assert.False(t, snap.BeforeStart)

	db, err := sql.Open("sqlite3", metricsDB)
	require.NoError(t, err)
	defer db.Close()
	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM pipeline_metrics").Scan(&rows))
	assert.Positive(t, rows)
}

func TestAppRestoresSession(t *testing.T) {
	logger.SetOutput(io.Discard)
	t.Setenv("SENSORPIPE_CONFIG", "")

	dir := t.TempDir()
	sessionDB := filepath.Join(dir, "sessions.db")

	store, err := session.Open(sessionDB)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "bench", session.Snapshot{
		Buffers: map[string][]float64{"accMean": {9.81}, "gone": {1}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfg, err := config.Load([]string{
		"--console=false",
		"--session-db", sessionDB,
		"--session-name", "bench",
	}, config.WithSearchDirs(dir))
	require.NoError(t, err)

	a, err := newApp(cfg, nil, io.Discard)
	require.NoError(t, err)

	a.restoreSession(context.Background())
	mean, ok := a.exp.Buffers.Get("accMean")
	require.True(t, ok)
	assert.Equal(t, []float64{9.81}, mean.Snapshot())
	assert.False(t, a.ctrl.BeforeStart())

	require.NoError(t, a.ctrl.Shutdown(time.Second))
	require.NoError(t, a.close())
}

func TestNewAppRejectsBadExperiment(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	path := filepath.Join(dir, "sensorpipe.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[experiment]
title = "Broken"

[[experiment.buffers]]
name = "x"
capacity = 10

[[experiment.inputs]]
sensor = "thermometer"
x = "x"
`), 0o600))

	cfg, err := config.Load([]string{"--config", path, "--console=false"}, config.WithSearchDirs(dir))
	require.NoError(t, err)

	_, err = newApp(cfg, nil, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thermometer")
}
