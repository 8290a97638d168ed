// Package turns serializes work per call: at most one task runs for a
// given call id at a time, in FIFO submission order. Task failures
// propagate to their own caller only; the queue keeps going.
package turns

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned to callers whose task was dropped because the
// call's queue was closed before the task ran.
var ErrClosed = errors.New("turns: queue closed")

// Serializer is a keyed FIFO executor. The zero value is not usable;
// construct with NewSerializer.
type Serializer struct {
	mu     sync.Mutex
	queues map[string]*callQueue
}

type callQueue struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tail    chan struct{} // done channel of the newest enqueued task
	pending int
}

// NewSerializer creates an empty serializer.
func NewSerializer() *Serializer {
	return &Serializer{queues: make(map[string]*callQueue)}
}

// Do runs task for callID after every previously submitted task for the
// same id has settled. It blocks until the task returns and propagates
// its error. If ctx is canceled while the task is still queued, Do
// returns ctx.Err() without running it; if the call's queue is closed
// first, Do returns ErrClosed. The task's context is canceled when
// either ctx is canceled or the queue is closed.
func (s *Serializer) Do(ctx context.Context, callID string, task func(context.Context) error) error {
	s.mu.Lock()
	q, ok := s.queues[callID]
	if !ok {
		qctx, cancel := context.WithCancel(context.Background())
		q = &callQueue{ctx: qctx, cancel: cancel}
		s.queues[callID] = q
	}
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.pending++
	qctx := q.ctx
	s.mu.Unlock()

	// finish releases this task's slot in the chain. done must never
	// close before prev has fired: the successor only waits on done, so
	// an early close would let it overlap the still-running predecessor.
	finish := func() {
		close(done)
		s.mu.Lock()
		q.pending--
		if q.pending == 0 && s.queues[callID] == q {
			q.cancel()
			delete(s.queues, callID)
		}
		s.mu.Unlock()
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// The caller stops waiting, but the slot stays linked until
			// the predecessor settles so successors keep their turn.
			go func() {
				select {
				case <-prev:
				case <-qctx.Done():
				}
				finish()
			}()
			return ctx.Err()
		case <-qctx.Done():
			finish()
			return ErrClosed
		}
	}
	defer finish()

	// The queue may have been closed while this task waited its turn.
	select {
	case <-qctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(qctx, cancel)
	defer stop()

	return task(runCtx)
}

// Close cancels the call's queue: the in-flight task (if any) has its
// context canceled, queued tasks return ErrClosed unexecuted, and the
// next Do for the same id starts a fresh queue.
func (s *Serializer) Close(callID string) {
	s.mu.Lock()
	q, ok := s.queues[callID]
	if ok {
		delete(s.queues, callID)
	}
	s.mu.Unlock()
	if ok {
		q.cancel()
	}
}

// Pending reports how many tasks are queued or running for the call.
func (s *Serializer) Pending(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[callID]; ok {
		return q.pending
	}
	return 0
}
