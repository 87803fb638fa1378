package bridge

import (
	"sync"

	"github.com/rytilahti/mqtt-bridge/internal/action"
	"github.com/rytilahti/mqtt-bridge/internal/process"
)

type eventKind int

const (
	eventMessage eventKind = iota
	eventConnectionLost
	eventExecutionDone
)

// event is one input to the dispatcher loop.
type event struct {
	kind eventKind

	// session generation the event belongs to
	gen uint64

	topic   string
	payload []byte

	err error

	action  action.Action
	outcome process.Outcome
}

// inbox is an unbounded FIFO between broker callbacks and the loop.
// push never blocks.
type inbox struct {
	mu     sync.Mutex
	events []event
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) push(ev event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued event in arrival order.
func (q *inbox) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	evs := q.events
	q.events = nil
	return evs
}
