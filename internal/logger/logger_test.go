package logger_test

import (
	"bytes"
	"os"
	"testing"

	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"debug", logger.DebugLevel},
		{"info", logger.InfoLevel},
		{"", logger.InfoLevel},
		{"warning", logger.WarnLevel},
		{"error", logger.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logger.ParseLevel("loud")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestComponentLoggerTagsEvents(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel(logger.DebugLevel)
	defer logger.SetOutput(os.Stdout)

	log := logger.Component("analysis")
	log.Info().Msg("pass done")

	assert.Contains(t, buf.String(), `"component":"analysis"`)
	assert.Contains(t, buf.String(), `"message":"pass done"`)
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel(logger.DebugLevel)
	defer logger.SetOutput(os.Stdout)

	err := errors.New().New(errors.ErrTimeout)
	logger.Component("run").ErrorWithCode(err).Msg("shutdown")

	assert.Contains(t, buf.String(), `"error_code":"operation_timeout"`)
	assert.Contains(t, buf.String(), `"component":"run"`)
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel(logger.WarnLevel)
	defer func() {
		logger.SetOutput(os.Stdout)
		logger.SetLogLevel(logger.InfoLevel)
	}()

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
