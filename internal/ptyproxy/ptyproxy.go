// Package ptyproxy spawns a shell under a pseudo-terminal and exposes
// a byte-level read/write/resize contract, per spec §4.4. Grounded on
// github.com/creack/pty usage across the example pack (the teacher's
// internal/egg/server.go, and other_examples' schmux session tracker
// and kir-gadjello-llm session runner).
package ptyproxy

import (
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/ehrlich-b/omnish/internal/errkind"
)

// Proxy wraps a running child process attached to a PTY master.
type Proxy struct {
	cmd    *exec.Cmd
	master *os.File

	sigCh   chan os.Signal
	closeWg sync.Once
}

// Spawn starts cmd/args with env under a new PTY, sized rows x cols.
// Grounded on pty.StartWithSize as used in internal/egg/server.go and
// other_examples/a4822b0f_sergeknystautas-schmux session-tracker.go.
func Spawn(name string, args []string, env []string, rows, cols uint16) (*Proxy, error) {
	c := exec.Command(name, args...)
	if env != nil {
		c.Env = env
	}

	master, err := pty.StartWithSize(c, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, errkind.New(errkind.Io, "ptyproxy.Spawn", err)
	}

	return &Proxy{cmd: c, master: master}, nil
}

// Read reads from the PTY master (child's combined stdout/stderr).
func (p *Proxy) Read(buf []byte) (int, error) {
	return p.master.Read(buf)
}

// WriteAll writes data to the PTY master (child's stdin), retrying
// short writes.
func (p *Proxy) WriteAll(data []byte) error {
	total := 0
	for total < len(data) {
		n, err := p.master.Write(data[total:])
		if err != nil {
			return errkind.New(errkind.Io, "ptyproxy.WriteAll", err)
		}
		total += n
	}
	return nil
}

// SetWindowSize applies TIOCSWINSZ to the PTY master.
func (p *Proxy) SetWindowSize(rows, cols uint16) error {
	if err := pty.Setsize(p.master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return errkind.New(errkind.Io, "ptyproxy.SetWindowSize", err)
	}
	return nil
}

// MasterFd exposes the raw PTY master file descriptor, e.g. for
// select/poll-based I/O multiplexing by the caller.
func (p *Proxy) MasterFd() uintptr { return p.master.Fd() }

// WatchResize forwards SIGWINCH from the controlling terminal (stdin)
// to the child PTY for the lifetime of done, grounded on
// other_examples/986daf0e_kir-gadjello-llm/session.go's SIGWINCH
// forwarding goroutine (signal.Notify + pty.InheritSize).
func (p *Proxy) WatchResize(stdin *os.File, done <-chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	p.sigCh = ch

	// Apply the current size immediately so the child starts correctly
	// sized even if no resize event ever fires.
	_ = pty.InheritSize(stdin, p.master)

	go func() {
		for {
			select {
			case <-done:
				signal.Stop(ch)
				return
			case <-ch:
				_ = pty.InheritSize(stdin, p.master)
			}
		}
	}()
}

// Wait blocks until the child exits and returns its exit code.
func (p *Proxy) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, errkind.New(errkind.Io, "ptyproxy.Wait", err)
}

// Close closes the PTY master, signalling EOF to any reader.
func (p *Proxy) Close() error {
	var err error
	p.closeWg.Do(func() {
		err = p.master.Close()
	})
	return err
}
