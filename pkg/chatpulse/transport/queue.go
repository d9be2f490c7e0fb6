package transport

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// sendQueue buffers outbound frames while the link is down. Bounded; when
// full the oldest entry is dropped with a warning, never an error.
type sendQueue struct {
	mu    sync.Mutex
	items [][]byte
	cap   int
	log   *logrus.Entry
}

func newSendQueue(cap int, log *logrus.Entry) *sendQueue {
	if cap <= 0 {
		cap = DefaultQueueCap
	}
	return &sendQueue{cap: cap, log: log}
}

func (q *sendQueue) push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		if q.log != nil {
			q.log.Warn("Send queue full, dropping oldest queued frame")
		}
	}
	q.items = append(q.items, frame)
}

// drain returns all queued frames in FIFO order and empties the queue.
func (q *sendQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
