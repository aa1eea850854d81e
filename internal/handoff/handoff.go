// Package handoff moves observations from the collection stage to the
// aggregation stage. Observations travel by value, so once Put returns the
// producer's instance and the consumer's copy share nothing.
package handoff

import (
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	"nuha.dev/rflocate/internal/observation"
)

type Queue struct {
	ch      chan observation.Observation
	log     log.Logger
	put     uint64
	dropped uint64
	closed  uint32

	// close_mu guards the send side against a concurrent Close.
	close_mu sync.RWMutex
}

type Stats struct {
	Put     uint64 `json:"put"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
	Cap     int    `json:"capacity"`
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{ch: make(chan observation.Observation, size)}
	q.log = log.DefaultLogger
	q.log.Context = log.NewContext(nil).Str("module", "handoff").Value()
	return q
}

// Put copies o into the queue without blocking. It returns false when the
// queue is full or closed and the observation was dropped.
func (q *Queue) Put(o *observation.Observation) bool {
	q.close_mu.RLock()
	defer q.close_mu.RUnlock()
	if atomic.LoadUint32(&q.closed) == 1 {
		atomic.AddUint64(&q.dropped, 1)
		return false
	}
	select {
	case q.ch <- *o:
		atomic.AddUint64(&q.put, 1)
		return true
	default:
		atomic.AddUint64(&q.dropped, 1)
		q.log.Warn().Str("emitter", o.Identification().String()).Msg("handoff queue full, observation dropped")
		return false
	}
}

func (q *Queue) C() <-chan observation.Observation {
	return q.ch
}

// Close ends the stream. Observations already queued can still be received.
func (q *Queue) Close() {
	q.close_mu.Lock()
	defer q.close_mu.Unlock()
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Put:     atomic.LoadUint64(&q.put),
		Dropped: atomic.LoadUint64(&q.dropped),
		Queued:  len(q.ch),
		Cap:     cap(q.ch),
	}
}
