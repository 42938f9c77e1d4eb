// Package experiment assembles buffers, sensor channels and the analysis
// pass from a declarative definition.
package experiment

import (
	"fmt"

	"codeberg.org/mutker/sensorpipe/internal/analysis"
	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/run"
	"codeberg.org/mutker/sensorpipe/internal/sensor"
)

const ErrInvalidDefinition = errors.ErrorCode("experiment_invalid_definition")

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidDefinition: "Invalid experiment definition",
	})
}

// Definition is the declarative experiment layout, usually loaded from the
// [experiment] table of the config file.
type Definition struct {
	Title    string      `mapstructure:"title"`
	Buffers  []BufferDef `mapstructure:"buffers"`
	Inputs   []InputDef  `mapstructure:"inputs"`
	Analysis []StepDef   `mapstructure:"analysis"`
}

type BufferDef struct {
	Name     string `mapstructure:"name"`
	Capacity int    `mapstructure:"capacity"`
}

// InputDef binds one sensor to up to four buffers by name. Empty names are
// unused axes.
type InputDef struct {
	Sensor  string  `mapstructure:"sensor"`
	Rate    float64 `mapstructure:"rate"`
	Average bool    `mapstructure:"average"`
	X       string  `mapstructure:"x"`
	Y       string  `mapstructure:"y"`
	Z       string  `mapstructure:"z"`
	T       string  `mapstructure:"t"`
}

type StepDef struct {
	Type   string   `mapstructure:"type"`
	Inputs []string `mapstructure:"inputs"`
	Output string   `mapstructure:"output"`
}

// Default is the acceleration experiment used when none is configured.
func Default() Definition {
	return Definition{
		Title: "Acceleration",
		Buffers: []BufferDef{
			{Name: "accX", Capacity: 1000},
			{Name: "accY", Capacity: 1000},
			{Name: "accZ", Capacity: 1000},
			{Name: "accT", Capacity: 1000},
			{Name: "accAbs", Capacity: 1000},
			{Name: "accMean", Capacity: 1},
			{Name: "accStdDev", Capacity: 1},
		},
		Inputs: []InputDef{
			{Sensor: "accelerometer", Rate: 50, Average: true, X: "accX", Y: "accY", Z: "accZ", T: "accT"},
		},
		Analysis: []StepDef{
			{Type: analysis.StepMagnitude, Inputs: []string{"accX", "accY", "accZ"}, Output: "accAbs"},
			{Type: analysis.StepMean, Inputs: []string{"accAbs"}, Output: "accMean"},
			{Type: analysis.StepStdDev, Inputs: []string{"accAbs"}, Output: "accStdDev"},
		},
	}
}

// Kinds returns the sensor kinds the definition uses.
func (d Definition) Kinds() ([]sensor.Kind, error) {
	seen := make(map[sensor.Kind]bool)
	var kinds []sensor.Kind
	for _, in := range d.Inputs {
		k, err := sensor.ParseKind(in.Sensor)
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// Experiment is a built definition ready to hand to a run controller.
type Experiment struct {
	Title    string
	Buffers  *buffer.Registry
	Channels []*sensor.Channel
	Pass     analysis.Chain
}

// Build validates def against source. Configuration errors such as unknown
// or unavailable sensors are returned here, before any acquisition.
func Build(def Definition, source sensor.Source) (*Experiment, error) {
	errFactory := errors.New()

	if len(def.Buffers) == 0 {
		return nil, errFactory.WithMessage(ErrInvalidDefinition, "no buffers declared")
	}

	reg := buffer.NewRegistry()
	for _, b := range def.Buffers {
		if _, err := reg.Add(b.Name, b.Capacity); err != nil {
			return nil, errFactory.Wrap(ErrInvalidDefinition, err)
		}
	}

	lookup := func(name string) (*buffer.RingBuffer, error) {
		if name == "" {
			return nil, nil
		}
		return reg.Lookup(name)
	}

	// Each buffer has at most one writer.
	writers := make(map[string]string)
	claim := func(name, writer string) error {
		if name == "" {
			return nil
		}
		if prev, ok := writers[name]; ok {
			return errFactory.WithMessage(ErrInvalidDefinition,
				fmt.Sprintf("buffer %q written by both %s and %s", name, prev, writer))
		}
		writers[name] = writer
		return nil
	}

	exp := &Experiment{Title: def.Title, Buffers: reg}

	for i, in := range def.Inputs {
		kind, err := sensor.ParseKind(in.Sensor)
		if err != nil {
			return nil, err
		}

		var targets sensor.Targets
		for _, axis := range []struct {
			name string
			dst  **buffer.RingBuffer
		}{
			{in.X, &targets.X}, {in.Y, &targets.Y}, {in.Z, &targets.Z}, {in.T, &targets.T},
		} {
			b, err := lookup(axis.name)
			if err != nil {
				return nil, errFactory.Wrap(ErrInvalidDefinition, err).
					WithMessage(fmt.Sprintf("input %d (%s)", i, in.Sensor))
			}
			if err := claim(axis.name, fmt.Sprintf("input %d", i)); err != nil {
				return nil, err
			}
			*axis.dst = b
		}

		ch, err := sensor.NewChannel(source, sensor.Config{Kind: kind, Rate: in.Rate, Average: in.Average}, targets)
		if err != nil {
			return nil, err
		}
		exp.Channels = append(exp.Channels, ch)
	}

	for i, st := range def.Analysis {
		inputs := make([]*buffer.RingBuffer, 0, len(st.Inputs))
		for _, name := range st.Inputs {
			b, err := reg.Lookup(name)
			if err != nil {
				return nil, errFactory.Wrap(ErrInvalidDefinition, err).
					WithMessage(fmt.Sprintf("analysis step %d (%s)", i, st.Type))
			}
			inputs = append(inputs, b)
		}

		output, err := reg.Lookup(st.Output)
		if err != nil {
			return nil, errFactory.Wrap(ErrInvalidDefinition, err).
				WithMessage(fmt.Sprintf("analysis step %d (%s)", i, st.Type))
		}

		if err := claim(st.Output, fmt.Sprintf("analysis step %d", i)); err != nil {
			return nil, err
		}

		step, err := analysis.NewStep(st.Type, inputs, output)
		if err != nil {
			return nil, err
		}
		exp.Pass = append(exp.Pass, step)
	}

	return exp, nil
}

// RunChannels adapts the channels for run.Options.
func (e *Experiment) RunChannels() []run.Channel {
	out := make([]run.Channel, len(e.Channels))
	for i, ch := range e.Channels {
		out[i] = ch
	}
	return out
}
