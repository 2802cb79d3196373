package call

import (
	"context"
	"sync"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

// utteranceQueue hands utterances from the capture goroutine to the turn
// goroutine. Push never blocks, so a slow turn never stalls frame capture.
type utteranceQueue struct {
	mu     sync.Mutex
	items  []audio.Utterance
	closed bool
	ready  chan struct{}
}

func newUtteranceQueue() *utteranceQueue {
	return &utteranceQueue{ready: make(chan struct{}, 1)}
}

func (q *utteranceQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Push appends u. Pushing to a closed queue drops u.
func (q *utteranceQueue) Push(u audio.Utterance) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, u)
	q.mu.Unlock()
	q.signal()
}

// Close stops accepting utterances. Queued ones can still be popped.
func (q *utteranceQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued utterances.
func (q *utteranceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop blocks until an utterance is available. It returns false once the
// queue is closed and drained, or when ctx is done.
func (q *utteranceQueue) Pop(ctx context.Context) (audio.Utterance, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items[0] = audio.Utterance{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return u, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return audio.Utterance{}, false
		}
		select {
		case <-ctx.Done():
			return audio.Utterance{}, false
		case <-q.ready:
		}
	}
}
