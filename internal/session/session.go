// Package session saves and restores experiment state: every buffer's
// contents together with the run settings that survive a restart.
package session

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/run"
	"codeberg.org/mutker/sensorpipe/internal/store"
	"github.com/google/uuid"
)

const DefaultName = "default"

type Config struct {
	// DBPath enables persistence when set.
	DBPath string
	Name   string
}

func (c Config) Enabled() bool { return c.DBPath != "" }

// Snapshot is one saved experiment state.
type Snapshot struct {
	ID          string
	Name        string
	SavedAt     time.Time
	Buffers     map[string][]float64
	BeforeStart bool
	TimedRun    run.TimedRun
}

// Settings is the controller state persisted alongside the buffers.
type Settings interface {
	BeforeStart() bool
	TimedRun() run.TimedRun
	RestoreSettings(beforeStart bool, tr run.TimedRun) error
}

// Capture takes a consistent snapshot of reg under its structural lock.
func Capture(reg *buffer.Registry, s Settings) Snapshot {
	return Snapshot{
		Buffers:     reg.Snapshot(),
		BeforeStart: s.BeforeStart(),
		TimedRun:    s.TimedRun(),
	}
}

// Apply restores snap into reg and s. Saved buffers without a counterpart in
// reg are skipped. It returns the number of buffers restored.
func Apply(snap Snapshot, reg *buffer.Registry, s Settings) (int, error) {
	if err := s.RestoreSettings(snap.BeforeStart, snap.TimedRun); err != nil {
		return 0, err
	}
	return reg.Restore(snap.Buffers), nil
}

type Store struct {
	db  *sql.DB
	log logger.Logger
	mu  sync.Mutex
}

func Open(path string) (*Store, error) {
	log := logger.Component("session")

	db, err := store.Open(path, Schema, log)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Session store opened")

	return &Store{db: db, log: log}, nil
}

// Save stores snap under name, replacing any earlier save with that name.
// It returns the new record ID.
func (s *Store) Save(ctx context.Context, name string, snap Snapshot) (string, error) {
	errFactory := errors.New()

	if name == "" {
		return "", errFactory.New(ErrInvalidName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errFactory.Wrap(ErrStorageAccess, err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.log.Debug().Err(err).Msg("Failed to rollback session save")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, deleteBuffersSQL, name); err != nil {
		return "", errFactory.Wrap(ErrStorageAccess, err)
	}

	if _, err := tx.ExecContext(ctx, upsertSessionSQL,
		id,
		name,
		time.Now().UnixMilli(),
		store.BoolToInt(snap.BeforeStart),
		store.BoolToInt(snap.TimedRun.Enabled),
		snap.TimedRun.StartDelay.Milliseconds(),
		snap.TimedRun.StopDelay.Milliseconds(),
	); err != nil {
		return "", errFactory.Wrap(ErrStorageAccess, err)
	}

	for bufName, values := range snap.Buffers {
		if _, err := tx.ExecContext(ctx, insertBufferSQL, id, bufName, encodeValues(values)); err != nil {
			return "", errFactory.WithData(ErrStorageAccess, struct {
				Buffer string
				Error  string
			}{
				Buffer: bufName,
				Error:  err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errFactory.Wrap(ErrStorageAccess, err)
	}
	committed = true

	s.log.Info().
		Str("name", name).
		Str("id", id).
		Int("buffers", len(snap.Buffers)).
		Msg("Session saved")

	return id, nil
}

// Load returns the snapshot saved under name.
func (s *Store) Load(ctx context.Context, name string) (Snapshot, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		snap         Snapshot
		savedAt      int64
		beforeStart  int
		timedEnabled int
		start, stop  int64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT id, name, saved_at, before_start, timed_enabled, start_delay_ms, stop_delay_ms
        FROM sessions
        WHERE name = ?`, name).
		Scan(&snap.ID, &snap.Name, &savedAt, &beforeStart, &timedEnabled, &start, &stop)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, errFactory.WithData(ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	snap.SavedAt = time.UnixMilli(savedAt)
	snap.BeforeStart = beforeStart == 1
	snap.TimedRun = run.TimedRun{
		Enabled:    timedEnabled == 1,
		StartDelay: time.Duration(start) * time.Millisecond,
		StopDelay:  time.Duration(stop) * time.Millisecond,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, data FROM session_buffers WHERE session_id = ?`, snap.ID)
	if err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	snap.Buffers = make(map[string][]float64)
	for rows.Next() {
		var (
			bufName string
			data    []byte
		)
		if err := rows.Scan(&bufName, &data); err != nil {
			return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
		}
		values, err := decodeValues(data)
		if err != nil {
			return Snapshot{}, errFactory.Wrap(ErrCorrupt, err).WithMessage("buffer " + bufName)
		}
		snap.Buffers[bufName] = values
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	return snap, nil
}

// Delete removes the save with the given name. Deleting a missing save is
// not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteBuffersSQL, name); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.Close(s.db); err != nil {
		return err
	}
	s.log.Debug().Msg("Session store closed")
	return nil
}

// Values are stored as little-endian IEEE 754 so NaN and infinities survive
// the round trip.
func encodeValues(values []float64) []byte {
	out := make([]byte, 0, len(values)*8)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

func decodeValues(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, errors.New().WithData(ErrCorrupt, struct {
			Length int
		}{
			Length: len(data),
		})
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}
