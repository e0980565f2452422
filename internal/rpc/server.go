// Package rpc implements the framed duplex request/response link of
// spec §4.3: Server.Serve accepts connections and dispatches frames to
// a handler; Client.Call sends a request and awaits its matched reply
// through a pending-request table that is cleared en masse whenever
// either connection loop exits, so no call blocks forever past
// disconnect.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/ehrlich-b/omnish/internal/errkind"
	"github.com/ehrlich-b/omnish/internal/framing"
)

// Handler processes one inbound Message and returns the reply to frame
// back with the same request id. A handler error becomes an
// ErrorPayload response rather than closing the connection — one slow
// or failing client never affects others (spec §4.3).
type Handler func(ctx context.Context, msg framing.Message) framing.Message

// Server accepts connections on a resolved network address and serves
// each with its own goroutine, mirroring the teacher's
// handlePTYWS-per-connection dispatch shape (internal/relay/pty_relay.go)
// generalized from WebSocket upgrades to a raw net.Listener.
type Server struct {
	Logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// Bind resolves addr via ParseAddr and opens a listener.
func (s *Server) Bind(addr string) error {
	network, resolved := ParseAddr(addr)
	ln, err := net.Listen(string(network), resolved)
	if err != nil {
		return errkind.New(errkind.Io, "rpc.Server.Bind", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, spawning one goroutine per connection running handler.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errkind.New(errkind.Config, "rpc.Server.Serve", errNotBound)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return errkind.New(errkind.Io, "rpc.Server.Serve", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn, handler)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight handler
// invocations to finish, matching spec §5's shutdown semantics
// ("existing per-connection tasks finish their current handler
// invocation then exit").
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	logger := s.logger()

	// DecodeFrame below blocks on conn's read with no ctx awareness; an
	// idle-but-open connection would otherwise never notice shutdown.
	// Closing conn on ctx.Done() unblocks that read with an error so the
	// loop exits and Close()'s wg.Wait() can return.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var writeMu sync.Mutex
	for {
		frame, err := framing.DecodeFrame(conn)
		if err != nil {
			if !errkind.Is(err, errkind.Protocol) {
				return // clean close or io error: drop this one connection only
			}
			logger.Warn("rpc: protocol error, closing connection", "err", err)
			return
		}

		reply := handler(ctx, frame.Payload)

		writeMu.Lock()
		writeErr := framing.WriteFrame(conn, framing.Frame{RequestID: frame.RequestID, Payload: reply})
		writeMu.Unlock()
		if writeErr != nil {
			logger.Debug("rpc: write reply failed, closing connection", "err", writeErr)
			return
		}
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

var errNotBound = errors.New("Bind must be called before Serve")
