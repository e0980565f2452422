package rpc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/omnish/internal/framing"
)

func startEchoServer(t *testing.T, addr string) *Server {
	t.Helper()
	srv := &Server{}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	go srv.Serve(ctx, func(_ context.Context, msg framing.Message) framing.Message {
		return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
	})
	return srv
}

func TestClientCallAgainstServer(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "test.sock")
	startEchoServer(t, addr)
	time.Sleep(20 * time.Millisecond) // let the listener start accepting

	client := NewClient()
	ctx := context.Background()
	if err := client.Connect(ctx, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	reply, err := client.Call(ctx, framing.Message{Type: framing.TypeSessionStart, SessionStart: &framing.SessionStartPayload{SessionID: "s1"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Type != framing.TypeAck {
		t.Fatalf("reply.Type = %v, want Ack", reply.Type)
	}
}

func TestConcurrentCallsRouteToCorrectCaller(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "test.sock")
	srv := &Server{}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, func(_ context.Context, msg framing.Message) framing.Message {
		// Echo back the query text so callers can verify identity.
		return framing.Message{Type: framing.TypeResponse, Response: &framing.ResponsePayload{Text: msg.Request.Query}}
	})
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	client := NewClient()
	if err := client.Connect(ctx, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	type result struct {
		query string
		reply framing.Message
		err   error
	}
	n := 5
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		query := string(rune('a' + i))
		go func(q string) {
			reply, err := client.Call(ctx, framing.Message{Type: framing.TypeRequest, Request: &framing.RequestPayload{Query: q}})
			results <- result{query: q, reply: reply, err: err}
		}(query)
	}

	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Call(%q): %v", r.query, r.err)
		}
		if r.reply.Response == nil || r.reply.Response.Text != r.query {
			t.Fatalf("query %q got reply %+v, want matching echo", r.query, r.reply.Response)
		}
	}
}

func TestPendingCallsResolveOnDisconnect(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "test.sock")
	srv := &Server{}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	go srv.Serve(ctx, func(_ context.Context, msg framing.Message) framing.Message {
		<-block // never reply until test releases it
		return framing.Message{Type: framing.TypeAck}
	})
	time.Sleep(20 * time.Millisecond)

	client := NewClient()
	if err := client.Connect(ctx, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	callDone := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), framing.Message{Type: framing.TypeRequest, Request: &framing.RequestPayload{Query: "x"}})
		callDone <- err
	}()

	time.Sleep(50 * time.Millisecond) // ensure the call is registered
	client.Close()                    // force disconnect while the call is pending

	select {
	case err := <-callDone:
		if err != ErrDisconnected {
			t.Fatalf("Call error = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not resolve within bound after disconnect — zombie call")
	}
	close(block)
	srv.Close()
}

func TestCallTimeoutRemovesPendingEntry(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "test.sock")
	srv := &Server{}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	defer close(block)
	go srv.Serve(ctx, func(_ context.Context, msg framing.Message) framing.Message {
		<-block // hold the reply past the caller's own deadline
		return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
	})
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	client := NewClient()
	if err := client.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer callCancel()
	if _, err := client.Call(callCtx, framing.Message{Type: framing.TypeRequest, Request: &framing.RequestPayload{Query: "x"}}); err == nil {
		t.Fatal("expected a timeout error")
	}

	client.pending.mu.Lock()
	n := len(client.pending.entries)
	client.pending.mu.Unlock()
	if n != 0 {
		t.Fatalf("pending.entries len = %d, want 0: a timed-out call must not leak its reply slot", n)
	}
}

func TestServeConnClosesIdleConnOnShutdown(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "test.sock")
	srv := &Server{}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, func(_ context.Context, msg framing.Message) framing.Message {
		return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
	})
	time.Sleep(20 * time.Millisecond)

	client := NewClient()
	if err := client.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	// Leave the connection open and idle, then cancel — serveConn is
	// blocked reading a frame that will never arrive, so this only
	// returns promptly if cancellation closes the conn out from under it.
	cancel()

	closeDone := make(chan error, 1)
	go func() { closeDone <- srv.Close() }()

	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Server.Close did not return promptly for an idle connection — serveConn ignored ctx cancellation")
	}
}
