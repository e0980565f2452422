package rpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/omnish/internal/errkind"
	"github.com/ehrlich-b/omnish/internal/framing"
)

type writeRequest struct {
	id      uint64
	msg     framing.Message
	replyCh chan framing.Message
}

// Client is a single (non-reconnecting) duplex connection implementing
// spec §4.3's client contract: a write task owns the socket's write
// half and the pending-request table insert; a read task owns the
// read half and delivers matched replies. Use ReconnectingClient for
// the supervised, auto-reconnecting variant most callers want.
type Client struct {
	Logger *slog.Logger

	nextID  atomic.Uint64
	pending *pendingTable

	mu        sync.Mutex
	conn      net.Conn
	writeCh   chan writeRequest
	stopped   chan struct{}
	stopOnce  *sync.Once
	loopsWg   sync.WaitGroup

	connected atomic.Bool
}

// NewClient constructs an unconnected Client.
func NewClient() *Client {
	return &Client{pending: newPendingTable()}
}

// Connect resolves addr and opens one connection, then starts the read
// and write loops. Connect must not be called again until the
// previous connection's loops have fully exited (IsConnected() false).
func (c *Client) Connect(ctx context.Context, addr string) error {
	network, resolved := ParseAddr(addr)
	var d net.Dialer
	conn, err := d.DialContext(ctx, string(network), resolved)
	if err != nil {
		return errkind.New(errkind.Io, "rpc.Client.Connect", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.writeCh = make(chan writeRequest, 64)
	c.stopped = make(chan struct{})
	c.stopOnce = &sync.Once{}
	c.mu.Unlock()

	c.connected.Store(true)

	c.loopsWg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn)
	return nil
}

// IsConnected reflects the current connected flag, per spec §4.3.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Call allocates the next request id, enqueues the request to the
// write loop, and awaits its matched reply. Returns ErrDisconnected if
// the connection tears down before a reply arrives.
func (c *Client) Call(ctx context.Context, msg framing.Message) (framing.Message, error) {
	c.mu.Lock()
	writeCh := c.writeCh
	c.mu.Unlock()
	if writeCh == nil {
		return framing.Message{}, ErrDisconnected
	}

	id := c.nextID.Add(1)
	replyCh := make(chan framing.Message, 1)
	req := writeRequest{id: id, msg: msg, replyCh: replyCh}

	select {
	case writeCh <- req:
	case <-ctx.Done():
		return framing.Message{}, errkind.New(errkind.Timeout, "rpc.Client.Call", ctx.Err())
	case <-c.stoppedCh():
		return framing.Message{}, ErrDisconnected
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return framing.Message{}, ErrDisconnected
		}
		return reply, nil
	case <-ctx.Done():
		// The write loop already registered id's reply slot (or is
		// about to); nothing will ever read from replyCh again, so
		// drop the entry now instead of leaving it until the whole
		// connection disconnects and clear() sweeps it up.
		c.pending.remove(id)
		return framing.Message{}, errkind.New(errkind.Timeout, "rpc.Client.Call", ctx.Err())
	}
}

func (c *Client) stoppedCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Close tears down the current connection, causing both loops to exit
// and the pending table to drain.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	c.loopsWg.Wait()
	return err
}

func (c *Client) writeLoop(conn net.Conn) {
	defer c.onLoopExit()
	for {
		select {
		case req, ok := <-c.writeChSnapshot():
			if !ok {
				return
			}
			// Insert the reply slot before the write completes, per
			// spec §4.3's write-task ordering requirement.
			c.pending.mu.Lock()
			c.pending.entries[req.id] = req.replyCh
			c.pending.mu.Unlock()

			if err := framing.WriteFrame(conn, framing.Frame{RequestID: req.id, Payload: req.msg}); err != nil {
				c.logger().Debug("rpc: write failed, closing connection", "err", err)
				return
			}
		case <-c.stoppedCh():
			return
		}
	}
}

func (c *Client) writeChSnapshot() chan writeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCh
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.onLoopExit()
	for {
		frame, err := framing.DecodeFrame(conn)
		if err != nil {
			c.logger().Debug("rpc: read loop exiting", "err", err)
			return
		}
		if matched := c.pending.deliver(frame.RequestID, frame.Payload); !matched {
			c.logger().Warn("rpc: unmatched request id, dropping", "request_id", frame.RequestID)
		}
	}
}

// onLoopExit is invoked by whichever of the read/write loops exits
// first. It closes the socket (unblocking the other loop), clears the
// pending table (resolving every outstanding Call with
// ErrDisconnected), and marks the client disconnected. Both loops call
// it: stopOnce makes closing stopped happen once, Close on an
// already-closed conn errors but is ignored, and clear() on an empty
// table is a no-op; each call marks its own loop done on loopsWg.
func (c *Client) onLoopExit() {
	c.mu.Lock()
	conn := c.conn
	stopped := c.stopped
	stopOnce := c.stopOnce
	c.mu.Unlock()

	c.connected.Store(false)
	c.pending.clear()

	stopOnce.Do(func() { close(stopped) })
	if conn != nil {
		conn.Close()
	}
	c.loopsWg.Done()
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
