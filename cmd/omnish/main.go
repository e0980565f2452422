// Command omnish is the terminal-augmentation client: it proxies a
// shell through a PTY, intercepts a chat-mode prefix from stdin, and
// streams session I/O to omnishd over the RPC link.
//
// Grounded on cmd/wt/egg.go's raw-mode + SIGWINCH + stdin/stdout pump
// idiom, generalized from a gRPC session stream to the framed RPC link
// of internal/rpc.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ehrlich-b/omnish/internal/buildinfo"
	"github.com/ehrlich-b/omnish/internal/framing"
	"github.com/ehrlich-b/omnish/internal/intercept"
	"github.com/ehrlich-b/omnish/internal/omnishlog"
	"github.com/ehrlich-b/omnish/internal/ptyproxy"
	"github.com/ehrlich-b/omnish/internal/rpc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	var logLevelFlag string

	root := &cobra.Command{
		Use:     "omnish",
		Short:   "omnish terminal session client",
		Version: buildinfo.Version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := omnishlog.Init(logLevelFlag, ""); err != nil {
				return err
			}
			return run(cmd.Context())
		},
	}
	root.Flags().StringVar(&logLevelFlag, "log-level", "warn", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveSocket picks the RPC socket address: the OMNISH_SOCKET env var,
// or ~/.omnish/omnishd.sock.
func resolveSocket(env string, homeDir string) string {
	if env != "" {
		return env
	}
	return filepath.Join(homeDir, ".omnish", "omnishd.sock")
}

// resolveSessionID picks OMNISH_SESSION_ID if the parent process (e.g. a
// wrapper script) already minted one, so nested omnish invocations or a
// supervising process can pin a stable session id; otherwise mints a
// fresh one via newID.
func resolveSessionID(env string, newID func() string) string {
	if env != "" {
		return env
	}
	return newID()
}

// resolveShell picks the login shell to spawn: $SHELL, or /bin/sh.
func resolveShell(env string) string {
	if env != "" {
		return env
	}
	return "/bin/sh"
}

func run(parent context.Context) error {
	home, _ := os.UserHomeDir()
	socket := resolveSocket(os.Getenv("OMNISH_SOCKET"), home)
	sessionID := resolveSessionID(os.Getenv("OMNISH_SESSION_ID"), uuid.NewString)
	shell := resolveShell(os.Getenv("SHELL"))

	fd := int(os.Stdin.Fd())
	cols, rows := 80, 24
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
	}

	guard, err := ptyproxy.EnterRawMode(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer guard.Exit()

	proxy, err := ptyproxy.Spawn(shell, nil, os.Environ(), uint16(rows), uint16(cols))
	if err != nil {
		return fmt.Errorf("spawn shell: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	resizeDone := make(chan struct{})
	proxy.WatchResize(os.Stdin, resizeDone)
	defer close(resizeDone)

	rc := rpc.NewReconnectingClient(socket)
	rc.Logger = omnishlog.Log
	rc.OnReconnect = func(ctx context.Context, c *rpc.Client) error {
		_, err := c.Call(ctx, framing.Message{
			Type: framing.TypeSessionStart,
			SessionStart: &framing.SessionStartPayload{
				SessionID:   sessionID,
				StartedAtMs: time.Now().UnixMilli(),
				Attrs:       map[string]string{"shell": shell},
			},
		})
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rc.Run(ctx)
	}()

	pump := &clientPump{
		proxy:     proxy,
		rc:        rc,
		sessionID: sessionID,
		ic:        intercept.NewInterceptor(0, nil),
		alt:       intercept.NewAltScreenDetector(),
		ioQueue:   make(chan ioJob, 256),
	}

	wg.Add(3)
	go func() { defer wg.Done(); pump.runIOQueue(ctx) }()
	go func() { defer wg.Done(); pump.pumpStdin(ctx) }()
	go func() { defer wg.Done(); pump.pumpOutput(ctx) }()

	exitCode, waitErr := proxy.Wait()

	endCtx, endCancel := context.WithTimeout(context.Background(), 2*time.Second)
	rc.Call(endCtx, framing.Message{
		Type: framing.TypeSessionEnd,
		SessionEnd: &framing.SessionEndPayload{
			SessionID: sessionID,
			EndedAtMs: time.Now().UnixMilli(),
		},
	})
	endCancel()

	cancel()
	proxy.Close()
	wg.Wait()

	if waitErr != nil {
		return waitErr
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// clientPump owns the two I/O pumps between the controlling terminal
// and the PTY master, per spec §5's "two dedicated goroutines plus one
// coordinating channel" shape (no portable poll() from Go's stdlib).
type clientPump struct {
	proxy     *ptyproxy.Proxy
	rc        *rpc.ReconnectingClient
	sessionID string
	ic        *intercept.Interceptor
	alt       *intercept.AltScreenDetector

	// ioQueue is the single coordinating channel between the two read
	// pumps and the one goroutine that actually calls sendIO, so
	// IoData messages reach the daemon in the same order the bytes
	// were produced — two independent "go sendIO" calls racing the RPC
	// write loop would otherwise let the daemon append them to the
	// stream store out of order.
	ioQueue chan ioJob
}

// ioJob is one queued IoData send.
type ioJob struct {
	ts   time.Time
	dir  framing.Direction
	data []byte
}

// runIOQueue drains ioQueue in order, one sendIO call at a time, until
// ctx is cancelled.
func (p *clientPump) runIOQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.ioQueue:
			p.sendIO(ctx, job.ts, job.dir, job.data)
		}
	}
}

// enqueueIO hands data off to runIOQueue, blocking briefly under
// backpressure rather than spawning an unordered goroutine per chunk.
func (p *clientPump) enqueueIO(ctx context.Context, ts time.Time, dir framing.Direction, data []byte) {
	select {
	case p.ioQueue <- ioJob{ts: ts, dir: dir, data: data}:
	case <-ctx.Done():
	}
}

// pumpStdin reads keystrokes, classifies them through the interceptor,
// and forwards shell-bound bytes to the PTY while accumulating/
// dispatching chat-mode captures.
func (p *clientPump) pumpStdin(ctx context.Context) {
	buf := make([]byte, 4096)
	var forward []byte
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			forward = forward[:0]
			now := time.Now()
			for _, b := range buf[:n] {
				action := p.ic.Feed(b, now)
				switch action.Kind {
				case intercept.ActionForward:
					forward = append(forward, action.Byte)
				case intercept.ActionChat:
					if len(forward) > 0 {
						p.writeInput(ctx, now, forward)
						forward = forward[:0]
					}
					p.dispatchChat(ctx, action.Chat)
				default:
					// Buffering/Backspace/Cancel/Tab/Pending: held locally
					// in the interceptor, not sent to the shell.
				}
			}
			if len(forward) > 0 {
				p.writeInput(ctx, now, forward)
			}
		}
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *clientPump) writeInput(ctx context.Context, ts time.Time, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	if err := p.proxy.WriteAll(cp); err != nil {
		return
	}
	p.enqueueIO(ctx, ts, framing.DirInput, cp)
}

func (p *clientPump) dispatchChat(ctx context.Context, text string) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	reply, err := p.rc.Call(reqCtx, framing.Message{
		Type: framing.TypeRequest,
		Request: &framing.RequestPayload{
			Scope: framing.RequestScope{Kind: framing.ScopeCurrentSession, SessionIDs: []string{p.sessionID}},
			Query: text,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "\r\n[omnish] chat request failed: %v\r\n", err)
		return
	}
	if reply.Error != nil {
		fmt.Fprintf(os.Stderr, "\r\n[omnish] %s\r\n", reply.Error.Message)
		return
	}
	if reply.Response != nil {
		fmt.Fprintf(os.Stdout, "\r\n[omnish] %s\r\n", reply.Response.Text)
	}
}

// pumpOutput reads PTY output to stdout and forwards it to the daemon,
// tracking alt-screen transitions to suppress chat-mode interception
// while a full-screen program owns the terminal.
func (p *clientPump) pumpOutput(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := p.proxy.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			os.Stdout.Write(chunk)
			if p.alt.Feed(chunk) {
				p.ic.SetSuppressed(p.alt.Active())
			}
			p.enqueueIO(ctx, time.Now(), framing.DirOutput, chunk)
		}
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *clientPump) sendIO(ctx context.Context, ts time.Time, dir framing.Direction, data []byte) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	reply, err := p.rc.Call(callCtx, framing.Message{
		Type: framing.TypeIoData,
		IoData: &framing.IoDataPayload{
			SessionID: p.sessionID,
			TsMs:      ts.UnixMilli(),
			Direction: dir,
			Data:      data,
		},
	})
	if err != nil || reply.Ack == nil {
		return
	}
	for _, ev := range reply.Ack.Events {
		omnishlog.Log.Info("event", "session_id", ev.SessionID, "kind", ev.Kind, "detail", ev.Detail)
	}
}
