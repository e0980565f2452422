package rpc

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/omnish/internal/errkind"
	"github.com/ehrlich-b/omnish/internal/framing"
)

// OnReconnectFunc re-registers session state with the server after a
// successful (re)connect, before the client drains its replay buffer
// and is marked connected. Grounded on internal/ws/client.go's
// OnReconnect hook.
type OnReconnectFunc func(ctx context.Context, c *Client) error

// ReconnectingClient wraps Client in the supervisor described by spec
// §4.3: on disconnect, wait with exponential backoff and jitter, then
// reconnect; call OnReconnect to re-register and replay buffered
// traffic before admitting new calls. Grounded on internal/ws/client.go's
// Run/connectAndServe reconnect loop, generalized from a hardcoded
// WebSocket dial to ParseAddr's UDS/TCP resolution.
type ReconnectingClient struct {
	Addr        string
	Logger      *slog.Logger
	OnReconnect OnReconnectFunc
	// OnStateChange mirrors the teacher's Client.OnStateChange hook for
	// UI/log integration ("connecting", "connected", "disconnected").
	OnStateChange func(state string, err error)

	mu     sync.Mutex
	client *Client

	replay *replayBuffer
}

// NewReconnectingClient constructs a supervisor for addr.
func NewReconnectingClient(addr string) *ReconnectingClient {
	return &ReconnectingClient{Addr: addr, replay: newReplayBuffer(defaultReplayCapacity)}
}

// Run connects and reconnects until ctx is cancelled.
func (rc *ReconnectingClient) Run(ctx context.Context) error {
	rc.notify("connecting", nil)
	backoff := NewBackoff()

	network, resolved := ParseAddr(rc.Addr)

	for {
		client := NewClient()
		client.Logger = rc.Logger

		err := client.Connect(ctx, rc.Addr)
		if err == nil {
			backoff.Reset()
			rc.notify("connected", nil)

			if rc.OnReconnect != nil {
				if hookErr := rc.OnReconnect(ctx, client); hookErr != nil {
					rc.logger().Warn("rpc: OnReconnect hook failed", "err", hookErr)
				}
			}
			rc.drainReplay(ctx, client)

			// Only now admit live traffic via rc.Call/currentClient: if
			// this ran before drainReplay finished, a concurrent live
			// Call could race the buffered replay onto the same wire
			// and land before it, reordering the daemon's stream.
			rc.setClient(client)

			// Block until this connection's loops exit (read or write
			// loop failure), then fall through to backoff+reconnect.
			client.loopsWg.Wait()
			rc.setClient(nil)
			rc.notify("disconnected", nil)
		} else {
			rc.notify("disconnected", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.Next()
		if network == Unix {
			if waitForSocket(ctx, resolved, delay) {
				continue // socket appeared before the backoff elapsed
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		rc.notify("connecting", nil)
	}
}

// waitForSocket watches resolved's parent directory via fsnotify for up
// to delay, returning early (true) if the socket file is created or
// written. This is the fsnotify-based fast path mentioned in
// SPEC_FULL.md's domain stack section: the teacher's go.mod lists
// fsnotify but no teacher source file uses it, so this wires it to a
// genuine purpose — waking a blocked reconnect loop the instant the
// daemon's socket reappears instead of waiting out the full backoff.
func waitForSocket(ctx context.Context, socketPath string, delay time.Duration) bool {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// fsnotify unavailable (e.g. inotify exhaustion) — fall back to
		// plain backoff rather than failing the whole reconnect loop.
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		return false
	}
	defer watcher.Close()

	dir := filepath.Dir(socketPath)
	if err := watcher.Add(dir); err != nil {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		return false
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case ev, ok := <-watcher.Events:
			if !ok {
				return false
			}
			if filepath.Clean(ev.Name) == filepath.Clean(socketPath) &&
				(ev.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				return true
			}
		case <-watcher.Errors:
		}
	}
}

func (rc *ReconnectingClient) drainReplay(ctx context.Context, client *Client) {
	pending := rc.replay.drain()
	for i, msg := range pending {
		if _, err := client.Call(ctx, msg); err != nil {
			if !errkind.Is(err, errkind.Disconnected) {
				// The frame may well have reached and been applied by
				// the daemon (e.g. a deadline/timeout, not a torn-down
				// connection) — re-queuing it here would resend and
				// double-apply it on the next reconnect. Drop it,
				// matching rc.Call's own disconnect-only replay rule.
				rc.logger().Warn("rpc: replay message failed (non-disconnect), dropping", "err", err)
				continue
			}
			rc.logger().Warn("rpc: replay message failed, re-queuing remainder", "err", err)
			// This message and everything after it never reached the
			// daemon on this connection attempt — push them back so
			// the next reconnect retries them instead of losing them.
			for _, rest := range pending[i:] {
				rc.replay.push(rest)
			}
			return
		}
	}
}

// Call routes through the current connection. If the call fails with
// ErrDisconnected — meaning the message may never have reached the
// server — eligible message types (IoData, CommandComplete) are
// buffered so the next successful reconnect replays them via
// drainReplay before admitting new traffic, per spec §4.3.
func (rc *ReconnectingClient) Call(ctx context.Context, msg framing.Message) (framing.Message, error) {
	client := rc.currentClient()
	if client == nil {
		rc.replay.push(msg)
		return framing.Message{}, ErrDisconnected
	}
	reply, err := client.Call(ctx, msg)
	if err != nil && errkind.Is(err, errkind.Disconnected) {
		// Only a disconnect means the message may never have reached
		// the server. Other errors (e.g. a context deadline on a call
		// the server did receive and process) must not be replayed, or
		// a slow-but-successful IoData/CommandComplete gets resent and
		// double-applied server-side after the next reconnect.
		rc.replay.push(msg)
	}
	return reply, err
}

func (rc *ReconnectingClient) IsConnected() bool {
	client := rc.currentClient()
	return client != nil && client.IsConnected()
}

func (rc *ReconnectingClient) currentClient() *Client {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.client
}

func (rc *ReconnectingClient) setClient(c *Client) {
	rc.mu.Lock()
	rc.client = c
	rc.mu.Unlock()
}

func (rc *ReconnectingClient) notify(state string, err error) {
	if rc.OnStateChange != nil {
		rc.OnStateChange(state, err)
	}
}

func (rc *ReconnectingClient) logger() *slog.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return slog.Default()
}
