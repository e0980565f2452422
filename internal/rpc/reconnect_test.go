package rpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/omnish/internal/framing"
)

func TestReconnectingClientSurvivesServerRestart(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "test.sock")

	newServer := func() (*Server, context.CancelFunc) {
		srv := &Server{}
		if err := srv.Bind(addr); err != nil {
			t.Fatalf("Bind: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		go srv.Serve(ctx, func(_ context.Context, msg framing.Message) framing.Message {
			return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
		})
		return srv, cancel
	}

	srv, cancelSrv := newServer()
	time.Sleep(20 * time.Millisecond)

	rc := NewReconnectingClient(addr)
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go rc.Run(runCtx)

	waitConnected(t, rc)

	// Kill the server and remove the socket file, simulating a crash.
	cancelSrv()
	srv.Close()
	os.Remove(addr)
	time.Sleep(50 * time.Millisecond)

	// Bring the server back up on the same path.
	srv2, cancelSrv2 := newServer()
	defer func() { cancelSrv2(); srv2.Close() }()

	waitConnected(t, rc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := rc.Call(ctx, framing.Message{Type: framing.TypeSessionStart, SessionStart: &framing.SessionStartPayload{SessionID: "s1"}})
	if err != nil {
		t.Fatalf("Call after reconnect: %v", err)
	}
	if reply.Type != framing.TypeAck {
		t.Fatalf("reply.Type = %v, want Ack", reply.Type)
	}
}

func TestDrainReplayRequeuesRemainderOnFailure(t *testing.T) {
	rc := NewReconnectingClient("unused")
	msg := func(id string) framing.Message {
		return framing.Message{Type: framing.TypeIoData, IoData: &framing.IoDataPayload{SessionID: id}}
	}
	rc.replay.push(msg("a"))
	rc.replay.push(msg("b"))
	rc.replay.push(msg("c"))

	client := NewClient() // never connected: every Call fails immediately
	rc.drainReplay(context.Background(), client)

	if got := rc.replay.len(); got != 3 {
		t.Fatalf("replay buffer len = %d, want 3 (all three re-queued after the first failed)", got)
	}
}

func TestDrainReplayDropsOnNonDisconnectError(t *testing.T) {
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
		<-block // received, but the caller's deadline fires before a reply
		return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
	})
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	client := NewClient()
	if err := client.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	rc := NewReconnectingClient(addr)
	rc.replay.push(framing.Message{Type: framing.TypeIoData, IoData: &framing.IoDataPayload{SessionID: "s1"}})

	callCtx, callCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer callCancel()
	rc.drainReplay(callCtx, client)

	if got := rc.replay.len(); got != 0 {
		t.Fatalf("replay buffer len = %d, want 0: a timed-out-but-delivered replay must be dropped, not re-queued", got)
	}
}

func TestLiveCallNotAdmittedUntilReplayDrained(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "test.sock")
	srv := &Server{}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	go srv.Serve(ctx, func(_ context.Context, msg framing.Message) framing.Message {
		<-block // hold the replayed message's reply to widen the race window
		return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
	})
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	rc := NewReconnectingClient(addr)
	rc.replay.push(framing.Message{Type: framing.TypeIoData, IoData: &framing.IoDataPayload{SessionID: "s1"}})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go rc.Run(runCtx)

	// While the buffered replay message is still in flight (blocked in
	// the handler above), the client must not yet be admitting live
	// traffic — otherwise a concurrent Call could race onto the wire
	// ahead of the replayed one.
	time.Sleep(100 * time.Millisecond)
	if rc.IsConnected() {
		t.Fatal("client reported connected while replay drain was still in flight")
	}

	close(block)

	deadline := time.Now().Add(5 * time.Second)
	for !rc.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("client never became connected after replay drain completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCallTimeoutDoesNotBufferForReplay(t *testing.T) {
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
		<-block // received, but never replied within the caller's deadline
		return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
	})
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	rc := NewReconnectingClient(addr)
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go rc.Run(runCtx)
	waitConnected(t, rc)

	callCtx, callCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer callCancel()
	_, err := rc.Call(callCtx, framing.Message{
		Type:   framing.TypeIoData,
		IoData: &framing.IoDataPayload{SessionID: "s1"},
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if rc.replay.len() != 0 {
		t.Fatalf("replay buffer len = %d, want 0: a timed-out-but-delivered call must not be queued for replay", rc.replay.len())
	}
}

func waitConnected(t *testing.T, rc *ReconnectingClient) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rc.IsConnected() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ReconnectingClient never became connected")
}
