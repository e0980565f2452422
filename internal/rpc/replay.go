package rpc

import (
	"sync"

	"github.com/ehrlich-b/omnish/internal/framing"
)

// defaultReplayCapacity is the replay buffer's default bound, per spec
// §4.3.
const defaultReplayCapacity = 10000

// replayBuffer holds IoData and CommandComplete messages only, dropping
// the oldest entry once over capacity, so a transient disconnect does
// not lose recent traffic that on_reconnect can resubmit. Grounded on
// the teacher's internal/egg/server.go replayBuffer's bounded-queue
// shape, adapted from a byte ring to a message queue.
type replayBuffer struct {
	mu       sync.Mutex
	cap      int
	messages []framing.Message
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = defaultReplayCapacity
	}
	return &replayBuffer{cap: capacity}
}

// push appends msg if it is a replayable type (IoData or
// CommandComplete); other message types are not buffered.
func (r *replayBuffer) push(msg framing.Message) {
	if msg.Type != framing.TypeIoData && msg.Type != framing.TypeCommandComplete {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	if len(r.messages) > r.cap {
		r.messages = r.messages[len(r.messages)-r.cap:]
	}
}

// drain returns and clears all buffered messages in insertion order.
func (r *replayBuffer) drain() []framing.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.messages
	r.messages = nil
	return out
}

func (r *replayBuffer) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
