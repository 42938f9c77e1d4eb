package analysis

import (
	"context"
	"math"
	"slices"

	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Step kinds accepted by NewStep.
const (
	StepMagnitude = "magnitude"
	StepMean      = "mean"
	StepStdDev    = "stddev"
	StepMedian    = "median"
	StepLatest    = "latest"
)

// Step reads its inputs and replaces its output buffer.
type Step interface {
	Name() string
	Apply() error
}

// NewStep builds a step of the given kind. magnitude takes one to three
// inputs, every other kind exactly one.
func NewStep(kind string, inputs []*buffer.RingBuffer, output *buffer.RingBuffer) (Step, error) {
	errFactory := errors.New()

	if output == nil {
		return nil, errFactory.WithMessage(ErrInvalidStep, kind+": missing output")
	}
	for _, in := range inputs {
		if in == nil {
			return nil, errFactory.WithMessage(ErrInvalidStep, kind+": missing input")
		}
	}

	switch kind {
	case StepMagnitude:
		if len(inputs) < 1 || len(inputs) > 3 {
			return nil, errFactory.WithMessage(ErrInvalidStep, "magnitude takes one to three inputs")
		}
		return &magnitudeStep{inputs: inputs, output: output}, nil

	case StepMean, StepStdDev, StepMedian, StepLatest:
		if len(inputs) != 1 {
			return nil, errFactory.WithMessage(ErrInvalidStep, kind+" takes exactly one input")
		}
		return &reduceStep{kind: kind, input: inputs[0], output: output, reduce: reducers[kind]}, nil

	default:
		return nil, errFactory.WithData(ErrUnknownStep, kind)
	}
}

// Chain runs steps in order and is itself a Pass.
type Chain []Step

func (c Chain) Run(ctx context.Context) error {
	for _, step := range c {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Apply(); err != nil {
			return errors.New().Wrap(ErrPassFailed, err).WithMessage("step " + step.Name() + " failed")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func filterFinite(xs []float64) []float64 {
	out := xs[:0]
	for _, v := range xs {
		if finite(v) {
			out = append(out, v)
		}
	}
	return out
}

// magnitudeStep writes the Euclidean norm of aligned input rows. Inputs are
// read independently and may differ in length; rows are aligned on the
// newest sample.
type magnitudeStep struct {
	inputs []*buffer.RingBuffer
	output *buffer.RingBuffer
}

func (s *magnitudeStep) Name() string { return StepMagnitude }

func (s *magnitudeStep) Apply() error {
	cols := make([][]float64, len(s.inputs))
	n := math.MaxInt
	for i, in := range s.inputs {
		cols[i] = in.Snapshot()
		n = min(n, len(cols[i]))
	}
	for i := range cols {
		cols[i] = cols[i][len(cols[i])-n:]
	}

	out := make([]float64, 0, n)
	row := make([]float64, len(cols))
rows:
	for r := range n {
		for c := range cols {
			if !finite(cols[c][r]) {
				continue rows
			}
			row[c] = cols[c][r]
		}
		out = append(out, floats.Norm(row, 2))
	}

	s.output.Replace(out)
	return nil
}

type reducer func(xs []float64) float64

var reducers = map[string]reducer{
	StepMean: func(xs []float64) float64 {
		return stat.Mean(xs, nil)
	},
	StepStdDev: func(xs []float64) float64 {
		if len(xs) < 2 {
			return 0
		}
		return stat.StdDev(xs, nil)
	},
	StepMedian: func(xs []float64) float64 {
		slices.Sort(xs)
		return stat.Quantile(0.5, stat.Empirical, xs, nil)
	},
	StepLatest: func(xs []float64) float64 {
		return xs[len(xs)-1]
	},
}

// reduceStep collapses its input to one value. An input with no finite
// samples empties the output.
type reduceStep struct {
	kind   string
	input  *buffer.RingBuffer
	output *buffer.RingBuffer
	reduce reducer
}

func (s *reduceStep) Name() string { return s.kind }

func (s *reduceStep) Apply() error {
	xs := filterFinite(s.input.Snapshot())
	if len(xs) == 0 {
		s.output.Replace(nil)
		return nil
	}

	s.output.Replace([]float64{s.reduce(xs)})
	return nil
}
