package obr

import (
	"sync"

	"github.com/hankstore/ebms_backend/models"
)

// StatusChange is emitted whenever a declaration record changes sync status.
type StatusChange struct {
	Kind   models.RecordKind `json:"kind"`
	ID     int               `json:"id"`
	Ref    string            `json:"ref"`
	Status models.SyncStatus `json:"status"`
}

// StatusNotifier fans status changes out to in-process subscribers.
// Publishing never blocks: a subscriber that falls behind drops events.
type StatusNotifier struct {
	mu   sync.Mutex
	subs map[int]chan StatusChange
	next int
}

func NewStatusNotifier() *StatusNotifier {
	return &StatusNotifier{subs: map[int]chan StatusChange{}}
}

// Subscribe returns a receive channel and a cancel func. Cancel closes the
// channel and removes the subscription.
func (n *StatusNotifier) Subscribe() (<-chan StatusChange, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan StatusChange, 16)
	n.subs[id] = ch
	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (n *StatusNotifier) Publish(change StatusChange) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
