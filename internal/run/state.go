// Package run owns the measurement lifecycle: start, stop and timed runs.
package run

import (
	"time"

	"codeberg.org/mutker/sensorpipe/internal/errors"
)

// State is the measurement lifecycle phase.
type State int32

const (
	Idle State = iota
	Measuring
	CountdownToStart
	CountdownToStop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Measuring:
		return "Measuring"
	case CountdownToStart:
		return "CountdownToStart"
	case CountdownToStop:
		return "CountdownToStop"
	default:
		return "Unknown"
	}
}

// Acquiring reports whether channels are delivering samples in this state.
func (s State) Acquiring() bool {
	return s == Measuring || s == CountdownToStop
}

// TimedRun configures automatic start and stop.
type TimedRun struct {
	Enabled    bool
	StartDelay time.Duration
	StopDelay  time.Duration
}

func (t TimedRun) Validate() error {
	if t.StartDelay < 0 || t.StopDelay < 0 {
		return errors.New().WithData(ErrInvalidTimedRun, t)
	}
	return nil
}

const (
	ErrInvalidTimedRun     = errors.ErrorCode("run_invalid_timed_run")
	ErrChannelStartFailed  = errors.ErrorCode("run_channel_start_failed")
	ErrRestoreWhileRunning = errors.ErrorCode("run_restore_while_running")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidTimedRun:     "Timed run delays must not be negative",
		ErrChannelStartFailed:  "Failed to start sensor channel",
		ErrRestoreWhileRunning: "Cannot restore settings while a run is active",
	})
}
