package rpc

import (
	"sync"

	"github.com/ehrlich-b/omnish/internal/errkind"
	"github.com/ehrlich-b/omnish/internal/framing"
)

// pendingTable maps request_id to a single-shot reply slot. It is the
// one piece of state shared between a Client's read and write loops;
// spec §4.3's "no zombie calls" invariant requires it be cleared
// before either loop exits, which drops every reply-slot channel and
// causes outstanding Call()s to observe Disconnected instead of
// blocking forever.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint64]chan framing.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint64]chan framing.Message)}
}

// register inserts a reply slot before the corresponding write
// completes, per spec §4.3's write-task ordering requirement.
func (p *pendingTable) register(id uint64) chan framing.Message {
	ch := make(chan framing.Message, 1)
	p.mu.Lock()
	p.entries[id] = ch
	p.mu.Unlock()
	return ch
}

// deliver looks up id and sends msg to its reply slot if still present.
// An unmatched request id is dropped (with the caller expected to log
// a warning), per spec §4.3.
func (p *pendingTable) deliver(id uint64, msg framing.Message) (matched bool) {
	p.mu.Lock()
	ch, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// remove discards id's reply slot without delivering to it, used when
// the caller gives up waiting (ctx cancelled/timed out) so the entry
// doesn't linger in the table until the whole connection disconnects.
// A no-op if deliver already claimed id first.
func (p *pendingTable) remove(id uint64) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// clear drains the table, closing every remaining reply slot so
// blocked Call()s resolve with Disconnected rather than hang.
func (p *pendingTable) clear() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[uint64]chan framing.Message)
	p.mu.Unlock()
	for _, ch := range entries {
		close(ch)
	}
}

// ErrDisconnected is returned by Call when its reply slot is closed
// without a value (connection torn down before a reply arrived).
var ErrDisconnected = errkind.New(errkind.Disconnected, "rpc.Client.Call", nil)
