package sensor

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"go.bug.st/serial"
)

// SerialSource reads line-framed readings from a sensor bridge attached to a
// serial port. Each line is "kind,timestamp_ns,x[,y,z]".
type SerialSource struct {
	fanout
	port      io.ReadCloser
	available map[Kind]bool
	log       logger.Logger
}

// OpenSerialSource opens path at baud and reports kinds as available.
func OpenSerialSource(path string, baud int, kinds []Kind) (*SerialSource, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.New().Wrap(ErrSourceOpen, err).WithData(path)
	}

	return NewSerialSourceFromReader(port, kinds), nil
}

// NewSerialSourceFromReader wraps an already open stream.
func NewSerialSourceFromReader(r io.ReadCloser, kinds []Kind) *SerialSource {
	s := &SerialSource{
		port:      r,
		available: make(map[Kind]bool, len(kinds)),
		log:       logger.Component("serial"),
	}
	for _, k := range kinds {
		s.available[k] = true
	}
	return s
}

func (s *SerialSource) Available(kind Kind) bool {
	return s.available[kind]
}

func (s *SerialSource) Subscribe(kind Kind, l Listener) (Subscription, error) {
	if !s.available[kind] {
		return nil, errors.New().WithData(ErrUnavailable, kind.String())
	}
	return s.add(kind, l), nil
}

// Run reads lines until ctx is canceled or the stream ends. Malformed lines
// are logged and skipped.
func (s *SerialSource) Run(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs on its own goroutine so cancellation is observed
	// between lines.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return errors.New().Wrap(ErrSourceRead, err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return errors.New().Wrap(ErrSourceRead, err)
				default:
					return nil
				}
			}

			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			ev, err := ParseLine(line)
			if err != nil {
				s.log.Warn().Err(err).Str("line", line).Msg("Skipping malformed line")
				continue
			}
			if !s.available[ev.Kind] {
				continue
			}
			s.deliver(ev)
		}
	}
}

func (s *SerialSource) Close() error {
	return s.port.Close()
}

// ParseLine decodes "kind,timestamp_ns,x[,y,z]". Missing axes are zero.
func ParseLine(line string) (Event, error) {
	errFactory := errors.New()

	fields := strings.Split(line, ",")
	if len(fields) < 3 || len(fields) > 5 {
		return Event{}, errFactory.WithData(ErrMalformedLine, line)
	}

	kind, err := ParseKind(strings.TrimSpace(fields[0]))
	if err != nil {
		return Event{}, err
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Event{}, errFactory.Wrap(ErrMalformedLine, err)
	}

	ev := Event{Kind: kind, Timestamp: ts}
	for i, f := range fields[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Event{}, errFactory.Wrap(ErrMalformedLine, err)
		}
		ev.Values[i] = v
	}

	return ev, nil
}
