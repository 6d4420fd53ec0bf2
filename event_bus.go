// event_bus.go: Broadcast and request-reply event dispatch between plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"golang.org/x/sync/semaphore"
)

// EventCallback is the signature every subscriber registers. The returned
// value is surfaced to synchronous callers and through async handles.
type EventCallback func(args map[string]any) (any, error)

// EventSubscription ties a callback to its event and owning plugin so that
// unloading the owner can remove its subscriptions en masse.
type EventSubscription struct {
	Event string
	Owner string

	callback EventCallback
}

// CallResult is one subscriber's outcome from a synchronous dispatch, in
// registration order. Exactly one of Value and Err is meaningful.
type CallResult struct {
	Owner string
	Value any
	Err   error
}

// EventHandle tracks one callback submitted by an async dispatch. It can be
// queried for completion and, once done, for the callback's result.
type EventHandle struct {
	Owner string
	Event string

	done  chan struct{}
	value any
	err   error
}

// Done returns a channel closed when the callback has finished.
func (h *EventHandle) Done() <-chan struct{} {
	return h.done
}

// Completed reports whether the callback has finished without blocking.
func (h *EventHandle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result blocks until the callback finishes and returns its value or error.
func (h *EventHandle) Result() (any, error) {
	<-h.done
	return h.value, h.err
}

// EventBusMetrics tracks dispatch activity.
type EventBusMetrics struct {
	EventsEmitted    atomic.Int64
	SyncCalls        atomic.Int64
	CallbacksRun     atomic.Int64
	CallbackFailures atomic.Int64
}

// EventBus routes named events to ordered subscriber lists.
//
// Emit submits every callback to a bounded worker pool and returns
// immediately with one handle per callback. Call executes the callbacks
// sequentially on the calling goroutine, never on the pool, so a
// synchronous call issued from inside an async worker cannot exhaust the
// pool and deadlock the bus. Both modes dispatch in registration order and
// both snapshot the subscriber list under the lock, then run callbacks
// outside it, so a callback may subscribe or unsubscribe freely.
type EventBus struct {
	logger  Logger
	metrics EventBusMetrics

	mu   sync.Mutex
	subs map[string][]*EventSubscription

	// Bounded async dispatch pool. ctx is cancelled on Close; in-flight
	// callbacks are not drained.
	workers *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// NewEventBus creates a bus whose async dispatch runs at most maxWorkers
// callbacks concurrently.
func NewEventBus(maxWorkers int, logger Logger) *EventBus {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	if logger == nil {
		logger = DefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		logger:  logger,
		subs:    make(map[string][]*EventSubscription),
		workers: semaphore.NewWeighted(int64(maxWorkers)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers a callback for an event on behalf of owner. Multiple
// subscriptions may share an event name; dispatch follows registration order.
func (eb *EventBus) Subscribe(event, owner string, callback EventCallback) *EventSubscription {
	sub := &EventSubscription{
		Event:    event,
		Owner:    owner,
		callback: callback,
	}

	eb.mu.Lock()
	eb.subs[event] = append(eb.subs[event], sub)
	eb.mu.Unlock()

	eb.logger.Debug("Event subscription registered",
		"event", event,
		"owner", owner)
	return sub
}

// RemoveOwner drops every subscription owned by a plugin and returns how
// many were removed. Invoked by the kernel when the owner unloads.
func (eb *EventBus) RemoveOwner(owner string) int {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	removed := 0
	for event, subs := range eb.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.Owner == owner {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) == 0 {
			delete(eb.subs, event)
		} else {
			eb.subs[event] = kept
		}
	}
	return removed
}

// SubscriberCount returns the number of subscriptions for an event.
func (eb *EventBus) SubscriberCount(event string) int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.subs[event])
}

// OwnerSubscriptions returns the number of subscriptions held by a plugin.
func (eb *EventBus) OwnerSubscriptions(owner string) int {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	count := 0
	for _, subs := range eb.subs {
		for _, sub := range subs {
			if sub.Owner == owner {
				count++
			}
		}
	}
	return count
}

// snapshot copies the subscriber list for an event under the lock.
func (eb *EventBus) snapshot(event string) []*EventSubscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subs[event]
	out := make([]*EventSubscription, len(subs))
	copy(out, subs)
	return out
}

// Emit broadcasts an event asynchronously. Each subscriber callback is
// submitted to the bounded pool; the returned handles, one per callback in
// registration order, resolve as the callbacks complete. A callback failure
// or panic is logged with its owner's name and never affects siblings.
func (eb *EventBus) Emit(event string, args map[string]any) []*EventHandle {
	if eb.closed.Load() {
		return nil
	}

	subs := eb.snapshot(event)
	eb.metrics.EventsEmitted.Add(1)

	handles := make([]*EventHandle, 0, len(subs))
	for _, sub := range subs {
		handle := &EventHandle{
			Owner: sub.Owner,
			Event: event,
			done:  make(chan struct{}),
		}
		handles = append(handles, handle)

		go func(sub *EventSubscription, handle *EventHandle) {
			defer close(handle.done)

			if err := eb.workers.Acquire(eb.ctx, 1); err != nil {
				handle.err = NewKernelShutdownError()
				return
			}
			defer eb.workers.Release(1)

			handle.value, handle.err = eb.invoke(event, sub, args)
		}(sub, handle)
	}
	return handles
}

// Call dispatches an event synchronously, running every subscriber in
// sequence on the calling goroutine and collecting results in registration
// order. A subscriber's failure is surfaced as the error at its position,
// never propagated to siblings.
//
// The timeout parameter is advisory: it documents the caller's tolerance
// and is attached to the dispatch log, but a callback is not cut off when
// it elapses. Cancellation here is cooperative like everywhere else in the
// kernel.
func (eb *EventBus) Call(event string, timeout time.Duration, args map[string]any) []CallResult {
	subs := eb.snapshot(event)
	eb.metrics.SyncCalls.Add(1)

	start := timecache.CachedTime()
	results := make([]CallResult, 0, len(subs))
	for _, sub := range subs {
		value, err := eb.invoke(event, sub, args)
		results = append(results, CallResult{
			Owner: sub.Owner,
			Value: value,
			Err:   err,
		})
	}

	eb.logger.Debug("Synchronous event dispatch completed",
		"event", event,
		"subscribers", len(subs),
		"advisory_timeout", timeout,
		"elapsed", time.Since(start))
	return results
}

// invoke runs a single callback with panic containment.
func (eb *EventBus) invoke(event string, sub *EventSubscription, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewEventCallbackError(event, sub.Owner, fmt.Errorf("panic: %v", r))
			eb.metrics.CallbackFailures.Add(1)
			eb.logger.Error("Event callback panicked",
				"event", event,
				"owner", sub.Owner,
				"panic", r)
		}
	}()

	eb.metrics.CallbacksRun.Add(1)
	value, cbErr := sub.callback(args)
	if cbErr != nil {
		eb.metrics.CallbackFailures.Add(1)
		eb.logger.Error("Event callback failed",
			"event", event,
			"owner", sub.Owner,
			"error", cbErr)
		return nil, NewEventCallbackError(event, sub.Owner, cbErr)
	}
	return value, nil
}

// Metrics returns a point-in-time copy of the dispatch counters.
func (eb *EventBus) Metrics() (emitted, syncCalls, run, failures int64) {
	return eb.metrics.EventsEmitted.Load(),
		eb.metrics.SyncCalls.Load(),
		eb.metrics.CallbacksRun.Load(),
		eb.metrics.CallbackFailures.Load()
}

// Close releases the async pool. Pending pool admissions fail with a
// shutdown error; callbacks already running are not waited for.
func (eb *EventBus) Close() {
	if eb.closed.CompareAndSwap(false, true) {
		eb.cancel()
	}
}
