package ptyproxy

import (
	"sync"

	"golang.org/x/term"

	"github.com/ehrlich-b/omnish/internal/errkind"
)

// RawModeGuard snapshots a terminal's termios state on Enter and
// restores it exactly once on Exit, regardless of which exit path (EOF,
// signal, panic-recovery defer) triggers it — the RAII-style lifecycle
// guard spec §4.4/§5 requires. Grounded on term.MakeRaw/term.Restore as
// used in other_examples/986daf0e_kir-gadjello-llm/session.go
// (golang.org/x/term) and the teacher's own dependency on
// golang.org/x/term.
type RawModeGuard struct {
	fd       int
	oldState *term.State
	once     sync.Once
}

// EnterRawMode puts fd into raw mode and returns a guard whose Exit
// restores the prior termios. If fd is not a terminal, EnterRawMode is
// a no-op guard so callers (e.g. tests, piped input) don't need to
// special-case it.
func EnterRawMode(fd int) (*RawModeGuard, error) {
	if !term.IsTerminal(fd) {
		return &RawModeGuard{fd: fd}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errkind.New(errkind.Io, "ptyproxy.EnterRawMode", err)
	}
	return &RawModeGuard{fd: fd, oldState: old}, nil
}

// Exit restores the original termios state. Safe to call multiple
// times or from multiple goroutines/defers — only the first call has
// effect.
func (g *RawModeGuard) Exit() error {
	var err error
	g.once.Do(func() {
		if g.oldState == nil {
			return
		}
		err = term.Restore(g.fd, g.oldState)
	})
	if err != nil {
		return errkind.New(errkind.Io, "ptyproxy.RawModeGuard.Exit", err)
	}
	return nil
}
