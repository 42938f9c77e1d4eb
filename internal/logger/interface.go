package logger

import "codeberg.org/mutker/sensorpipe/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
}

// Component returns a Logger that tags every event with the component name.
func Component(name string) Logger {
	return componentLogger{name: name}
}

type componentLogger struct {
	name string
}

func (c componentLogger) Debug() *LogEvent { return Debug().Str("component", c.name) }
func (c componentLogger) Info() *LogEvent  { return Info().Str("component", c.name) }
func (c componentLogger) Warn() *LogEvent  { return Warn().Str("component", c.name) }
func (c componentLogger) Error() *LogEvent { return Error().Str("component", c.name) }

func (c componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return ErrorWithCode(err).Str("component", c.name)
}
