package migration

import (
	"container/heap"
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueClosed is returned by Append/Prepend/ScheduleDeferred after
// Shutdown, and is swallowed by the exception classifier when it escapes a
// handler mid-shutdown.
var ErrQueueClosed = errors.New("migration: event loop queue closed")

// eventFunc is one unit of work executed serially by the loop's worker.
type eventFunc func() error

// deferredEntry is one entry in the deadline-ordered side heap.
type deferredEntry struct {
	deadline time.Time
	seq      int
	fn       eventFunc
}

type deferredHeap []*deferredEntry

func (h deferredHeap) Len() int { return len(h) }
func (h deferredHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h deferredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *deferredHeap) Push(x any)   { *h = append(*h, x.(*deferredEntry)) }
func (h *deferredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EventLoop is a single-consumer FIFO queue with deferred scheduling and
// per-event exception classification (§4.2). External callers only ever
// enqueue; all driver-field mutation happens on the loop's one worker.
type EventLoop struct {
	logger       zerolog.Logger
	faultHandler FaultHandler

	mu       sync.Mutex
	queue    *list.List
	deferred deferredHeap
	seq      int
	closed   bool
	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewEventLoop creates an EventLoop. Start must be called before any
// submitted event will run.
func NewEventLoop(logger zerolog.Logger, faultHandler FaultHandler) *EventLoop {
	return &EventLoop{
		logger:       logger,
		faultHandler: faultHandler,
		queue:        list.New(),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (el *EventLoop) Start() {
	go el.run()
}

// Append enqueues fn at the tail of the FIFO.
func (el *EventLoop) Append(fn eventFunc) error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return ErrQueueClosed
	}
	el.queue.PushBack(fn)
	el.mu.Unlock()
	el.signal()
	return nil
}

// Prepend enqueues fn at the head of the FIFO. Used once, at startup, to
// give the initial poll event priority over anything submitted afterward.
func (el *EventLoop) Prepend(fn eventFunc) error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return ErrQueueClosed
	}
	el.queue.PushFront(fn)
	el.mu.Unlock()
	el.signal()
	return nil
}

// ScheduleDeferred enqueues fn to run no earlier than deadline. Among
// deferred events sharing a deadline, submission order is preserved.
func (el *EventLoop) ScheduleDeferred(deadline time.Time, fn eventFunc) error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return ErrQueueClosed
	}
	el.seq++
	heap.Push(&el.deferred, &deferredEntry{deadline: deadline, seq: el.seq, fn: fn})
	el.mu.Unlock()
	el.signal()
	return nil
}

func (el *EventLoop) signal() {
	select {
	case el.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops accepting new events and returns once the worker has
// exited. The in-flight event completes and the worker keeps running queued
// events while it finds any; it exits once it finds the queue empty, and
// deferred events that are not yet due never run.
func (el *EventLoop) Shutdown() {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return
	}
	el.closed = true
	el.mu.Unlock()
	close(el.stopCh)
	<-el.doneCh
}

func (el *EventLoop) run() {
	defer close(el.doneCh)
	for {
		el.mu.Lock()
		if front := el.queue.Front(); front != nil {
			el.queue.Remove(front)
			fn := front.Value.(eventFunc)
			el.mu.Unlock()
			el.execute(fn)
			continue
		}

		if len(el.deferred) > 0 && !el.deferred[0].deadline.After(time.Now()) {
			entry := heap.Pop(&el.deferred).(*deferredEntry)
			el.mu.Unlock()
			el.execute(entry.fn)
			continue
		}

		var waitTimer *time.Timer
		if len(el.deferred) > 0 {
			waitTimer = time.NewTimer(time.Until(el.deferred[0].deadline))
		}
		closed := el.closed
		el.mu.Unlock()

		if closed {
			if waitTimer != nil {
				waitTimer.Stop()
			}
			return
		}

		if waitTimer == nil {
			select {
			case <-el.wake:
			case <-el.stopCh:
				return
			}
		} else {
			select {
			case <-el.wake:
				waitTimer.Stop()
			case <-waitTimer.C:
			case <-el.stopCh:
				waitTimer.Stop()
				return
			}
		}
	}
}

func (el *EventLoop) execute(fn eventFunc) {
	err := fn()
	if err == nil {
		return
	}
	el.classify(err)
}

// classify implements the §4.2/§7 exception policy.
func (el *EventLoop) classify(err error) {
	var authErr *MigrationClientAuthException
	var storeErr *MigrationClientException

	switch {
	case errors.Is(err, ErrQueueClosed):
		// swallow
	case errors.Is(err, errMirrorConditionalUpdateFailed):
		// already handled: applyMirror has transitioned the driver back to
		// INACTIVE, this just unwinds the rest of the in-flight mirror delta.
		el.logger.Info().Msg("mirror conditional update lost, driver fell back to inactive")
	case errors.As(err, &authErr):
		el.faultHandler.HandleFault("legacystore authentication failure", authErr)
	case errors.As(err, &storeErr):
		el.logger.Info().Err(storeErr).Msg("transient legacystore error, will retry on next poll")
	case errors.Is(err, ErrTimeout):
		el.faultHandler.HandleFault("timed out waiting for logmeta commit", err)
	default:
		el.faultHandler.HandleFault("unhandled fault in migration event loop", err)
	}
}
