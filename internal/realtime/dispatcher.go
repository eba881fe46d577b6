package realtime

import (
	"context"
	"sync"
	"time"
)

// Snapshot carries the full current value stored at a path.
// Exists is false when nothing is stored there.
type Snapshot struct {
	Path      string
	Exists    bool
	Data      any
	Timestamp time.Time
}

// Dispatcher fans snapshots out to the subscribers of each path.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id     int64
	stream chan Snapshot
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
	}
}

// Subscribe registers interest in path until ctx is done or the returned cleanup runs.
// The stream holds at most one pending snapshot; a newer snapshot replaces an unread one.
func (d *Dispatcher) Subscribe(ctx context.Context, path string) (<-chan Snapshot, func()) {
	return d.subscribe(ctx, path, nil)
}

// SubscribeFrom behaves like Subscribe with initial already pending on the stream.
func (d *Dispatcher) SubscribeFrom(ctx context.Context, path string, initial Snapshot) (<-chan Snapshot, func()) {
	return d.subscribe(ctx, path, &initial)
}

func (d *Dispatcher) subscribe(ctx context.Context, path string, initial *Snapshot) (<-chan Snapshot, func()) {
	if path == "" {
		ch := make(chan Snapshot)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Snapshot, 1),
	}
	if initial != nil {
		sub.stream <- *initial
	}
	d.registerSubscriber(path, sub)

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(path, sub.id)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

// Publish delivers snapshot to every current subscriber of its path.
// Callers publishing the same path concurrently must serialize their calls
// for the newest snapshot to be the one left pending.
func (d *Dispatcher) Publish(snapshot Snapshot) {
	if snapshot.Path == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[snapshot.Path]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		sub.deliver(snapshot)
	}
}

// SubscriberCount reports the live subscriptions for path.
func (d *Dispatcher) SubscriberCount(path string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[path])
}

func (s *subscriber) deliver(snapshot Snapshot) {
	for {
		select {
		case s.stream <- snapshot:
			return
		default:
		}
		// stale snapshot still pending
		select {
		case <-s.stream:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(path string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[path]; !ok {
		d.subscribers[path] = make(map[int64]*subscriber)
	}
	d.subscribers[path][sub.id] = sub
}

func (d *Dispatcher) unregisterSubscriber(path string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[path]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, path)
		}
	}
	d.mu.Unlock()
}
