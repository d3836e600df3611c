// Package live provides continuous subscriptions: a watcher re-runs its
// query whenever one of the collections it depends on changes and delivers
// the new snapshot when it differs from the last one.
package live

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"moneymanager/internal/log"
)

// Relay forwards local changes to other processes.
type Relay interface {
	Publish(ctx context.Context, collection string) error
}

// Notifier is what writers call after a successful mutation.
type Notifier interface {
	Notify(ctx context.Context, collections ...string)
}

type watcher struct {
	collections []string
	dirty       chan struct{}
}

// Hub tracks active watchers and fans change notifications out to them.
type Hub struct {
	mu       sync.Mutex
	watchers map[int]*watcher
	nextID   int
	relay    Relay
	logger   *log.Logger
}

var _ Notifier = (*Hub)(nil)

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		watchers: make(map[int]*watcher),
		logger:   logger.WithComponent(log.ComponentLive),
	}
}

// SetRelay enables cross-process propagation.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Notify marks watchers of the given collections dirty and forwards the
// change to the relay. Relay failures are logged, never returned.
func (h *Hub) Notify(ctx context.Context, collections ...string) {
	h.Apply(collections...)

	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay == nil {
		return
	}
	for _, c := range collections {
		if err := relay.Publish(ctx, c); err != nil {
			h.logger.WarnContext(ctx, "Failed to relay change", log.FieldCollection, c, log.FieldError, err)
		}
	}
}

// Apply marks watchers dirty without relaying. Used for changes that
// arrived from another process.
func (h *Hub) Apply(collections ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		if overlaps(w.collections, collections) {
			select {
			case w.dirty <- struct{}{}:
			default:
				// a refresh is already queued
			}
		}
	}
}

// Len returns the number of active watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func (h *Hub) register(collections []string) (int, *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &watcher{collections: slices.Clone(collections), dirty: make(chan struct{}, 1)}
	id := h.nextID
	h.nextID++
	h.watchers[id] = w
	return id, w
}

func (h *Hub) unregister(id int) {
	h.mu.Lock()
	delete(h.watchers, id)
	h.mu.Unlock()
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

// Subscription is a registered watcher. It must be released with
// Unsubscribe or by cancelling the context passed to Watch.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe stops the watcher and waits for its goroutine to exit.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Done is closed once the watcher has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Watch runs query now and after every change to collections, calling
// deliver with each distinct snapshot. Query errors are logged and the
// last delivered snapshot stands; if the very first query fails the zero
// value is delivered so consumers start from an empty state.
//
// deliver runs on the watcher goroutine and must not block for long.
func Watch[T any](ctx context.Context, h *Hub, collections []string, query func(context.Context) (T, error), deliver func(T)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	id, w := h.register(collections)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	// first evaluation
	w.dirty <- struct{}{}

	go func() {
		defer close(sub.done)
		defer h.unregister(id)

		var (
			last      T
			delivered bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.dirty:
			}

			snapshot, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				h.logger.WarnContext(ctx, "Subscription refresh failed", "collections", collections, log.FieldError, err)
				if delivered {
					continue
				}
				var zero T
				snapshot = zero
			}
			if delivered && reflect.DeepEqual(snapshot, last) {
				continue
			}
			last, delivered = snapshot, true
			deliver(snapshot)
		}
	}()

	return sub
}
