package console

import (
	"context"
	"io"
	"os"

	"codeberg.org/mutker/sensorpipe/internal/logger"
	"golang.org/x/term"
)

// Commands receive keyboard intents. remote.Bridge implements it, so keys
// and remote requests share one path into the run controller.
type Commands interface {
	RequestStart()
	RequestStop()
	RequestDefocus()
}

// Keyboard maps single key presses onto Commands.
type Keyboard struct {
	in   io.Reader
	cmds Commands
	view *View
	log  logger.Logger
}

func NewKeyboard(in io.Reader, cmds Commands, view *View) *Keyboard {
	return &Keyboard{in: in, cmds: cmds, view: view, log: logger.Component("console")}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// MakeRaw puts stdin into raw mode when it is a terminal. The returned
// function restores the previous state.
func MakeRaw(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(fd, old) }, nil
}

// Run handles keys until q is pressed, input ends or ctx is done. It returns
// nil for q and end of input. The read goroutine stays blocked on in after
// ctx is done until the next key or EOF.
func (k *Keyboard) Run(ctx context.Context) error {
	keyCh := make(chan byte, 10)
	go func() {
		defer close(keyCh)
		buf := make([]byte, 3)
		for {
			n, err := k.in.Read(buf)
			for i := range n {
				select {
				case keyCh <- buf[i]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case key, ok := <-keyCh:
			if !ok {
				return nil
			}
			if k.handleKey(key) {
				return nil
			}
		}
	}
}

func (k *Keyboard) handleKey(key byte) bool {
	switch key {
	case 'q', 'Q', 0x03: // Ctrl-C arrives as a byte in raw mode
		k.log.Debug().Msg("Quit requested from keyboard")
		return true
	case 's', 'S':
		k.cmds.RequestStart()
	case 'x', 'X':
		k.cmds.RequestStop()
	case 0x1b:
		k.cmds.RequestDefocus()
	case 'j':
		if k.view != nil {
			k.view.Scroll(1)
		}
	case 'k':
		if k.view != nil {
			k.view.Scroll(-1)
		}
	}
	return false
}
