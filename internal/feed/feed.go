package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/angelmondragon/wishspace-backend/pkg/metrics"
)

const (
	defaultQueueSize  = 256
	defaultGapTimeout = 200 * time.Millisecond
	minTickInterval   = 5 * time.Millisecond
)

var (
	// ErrResyncRequired terminates a subscription whose queue overflowed. The
	// subscriber must rebuild its view from a fresh snapshot.
	ErrResyncRequired = errors.New("feed: subscriber fell behind, resync required")
	// ErrFeedClosed terminates subscriptions when the feed shuts down.
	ErrFeedClosed = errors.New("feed: closed")
)

// Options tunes a Feed.
type Options struct {
	// QueueSize bounds each subscription's delivery queue.
	QueueSize int
	// GapTimeout is how long an event that arrived ahead of its predecessor is
	// held before the missing versions are skipped.
	GapTimeout time.Duration
	Metrics    *metrics.FeedMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Feed fans committed wish mutations out to subscriptions. Publishing only
// enqueues; a single dispatcher goroutine started by Run orders events per
// wish by version and delivers them to every subscription in the same order.
type Feed struct {
	queueSize  int
	gapTimeout time.Duration
	metrics    *metrics.FeedMetrics
	logg       *logger.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending []Event
	stopped bool
	wake    chan struct{}

	subsMu sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	// owned by the dispatcher
	cursors map[string]int64
	held    map[string]*heldEvents
}

type heldEvents struct {
	since  time.Time
	events map[int64]Event
}

// New builds a feed. Run must be started for events to be delivered.
func New(opts Options) *Feed {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.GapTimeout <= 0 {
		opts.GapTimeout = defaultGapTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Feed{
		queueSize:  opts.QueueSize,
		gapTimeout: opts.GapTimeout,
		metrics:    opts.Metrics,
		logg:       opts.Logger,
		now:        opts.Now,
		wake:       make(chan struct{}, 1),
		subs:       make(map[uint64]*Subscription),
		cursors:    make(map[string]int64),
		held:       make(map[string]*heldEvents),
	}
}

// Seed records the versions already committed before the feed started so that
// the next update of each wish is delivered without waiting for older versions.
// It must be called before Run.
func (f *Feed) Seed(versions map[string]int64) {
	for id, v := range versions {
		if v > f.cursors[id] {
			f.cursors[id] = v
		}
	}
}

// WishCreated implements wishes.Notifier.
func (f *Feed) WishCreated(_ context.Context, wish wishes.Wish) {
	f.Publish(CreatedEvent(wish, f.now()))
}

// WishUpdated implements wishes.Notifier.
func (f *Feed) WishUpdated(_ context.Context, wishID string, likeCount int64, version int64) {
	f.Publish(UpdatedEvent(wishID, likeCount, version, f.now()))
}

// Publish enqueues evt for dispatch. It never blocks.
func (f *Feed) Publish(evt Event) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.pending = append(f.pending, evt)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers a new subscription. Events committed after Subscribe
// returns are delivered to it.
func (f *Feed) Subscribe() (*Subscription, error) {
	f.subsMu.Lock()
	if f.closed {
		f.subsMu.Unlock()
		return nil, ErrFeedClosed
	}
	f.nextID++
	sub := &Subscription{
		id:     f.nextID,
		feed:   f,
		events: make(chan Event, f.queueSize),
	}
	f.subs[sub.id] = sub
	f.subsMu.Unlock()

	f.metrics.SessionOpened()
	return sub, nil
}

// Active returns the number of registered subscriptions.
func (f *Feed) Active() int {
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()
	return len(f.subs)
}

// Run dispatches events until ctx is done, then terminates every subscription
// with ErrFeedClosed.
func (f *Feed) Run(ctx context.Context) error {
	interval := f.gapTimeout / 4
	if interval < minTickInterval {
		interval = minTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer f.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.wake:
			f.drain()
		case <-ticker.C:
			f.releaseExpired(f.now())
		}
	}
}

func (f *Feed) drain() {
	f.mu.Lock()
	batch := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, evt := range batch {
		f.order(evt)
	}
}

func (f *Feed) order(evt Event) {
	delivered, known := f.cursors[evt.WishID]
	switch {
	case evt.Version <= delivered:
		f.metrics.IncDropped("stale")
		return
	case evt.Version == delivered+1, !known && evt.Type == EventWishCreated:
		f.deliver(evt)
		f.flushHeld(evt.WishID)
	default:
		h := f.held[evt.WishID]
		if h == nil {
			h = &heldEvents{since: f.now(), events: make(map[int64]Event)}
			f.held[evt.WishID] = h
		}
		h.events[evt.Version] = evt
	}
}

func (f *Feed) deliver(evt Event) {
	f.cursors[evt.WishID] = evt.Version
	f.dispatch(evt)
}

// flushHeld delivers held events that have become consecutive.
func (f *Feed) flushHeld(wishID string) {
	h := f.held[wishID]
	if h == nil {
		return
	}
	for {
		next := f.cursors[wishID] + 1
		evt, ok := h.events[next]
		if !ok {
			break
		}
		delete(h.events, next)
		f.deliver(evt)
	}
	for v := range h.events {
		if v <= f.cursors[wishID] {
			delete(h.events, v)
		}
	}
	if len(h.events) == 0 {
		delete(f.held, wishID)
	}
}

// releaseExpired gives up on missing versions that did not arrive within the
// gap timeout and delivers the held events in version order.
func (f *Feed) releaseExpired(now time.Time) {
	for wishID, h := range f.held {
		if now.Sub(h.since) < f.gapTimeout {
			continue
		}
		versions := make([]int64, 0, len(h.events))
		for v := range h.events {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
		delete(f.held, wishID)

		if f.logg != nil {
			ctx := f.logg.WithWishVersion(context.Background(), wishID, f.cursors[wishID])
			f.logg.Warn(ctx, "feed.gap_skipped")
		}
		for _, v := range versions {
			if v > f.cursors[wishID] {
				f.deliver(h.events[v])
			}
		}
	}
}

func (f *Feed) dispatch(evt Event) {
	f.metrics.IncPublished(string(evt.Type))

	var lagging []*Subscription
	f.subsMu.RLock()
	for _, sub := range f.subs {
		if !sub.offer(evt) {
			lagging = append(lagging, sub)
		}
	}
	f.subsMu.RUnlock()

	for _, sub := range lagging {
		if f.logg != nil {
			f.logg.Warn(context.Background(), fmt.Sprintf("feed.subscriber_lagging: subscription %d disconnected", sub.id))
		}
		f.remove(sub, ErrResyncRequired, "resync")
	}
}

func (f *Feed) remove(sub *Subscription, cause error, reason string) {
	f.subsMu.Lock()
	delete(f.subs, sub.id)
	f.subsMu.Unlock()

	if sub.terminate(cause) {
		f.metrics.SessionClosed(reason)
	}
}

func (f *Feed) shutdown() {
	f.mu.Lock()
	f.stopped = true
	f.pending = nil
	f.mu.Unlock()

	f.subsMu.Lock()
	f.closed = true
	subs := make([]*Subscription, 0, len(f.subs))
	for id, sub := range f.subs {
		subs = append(subs, sub)
		delete(f.subs, id)
	}
	f.subsMu.Unlock()

	for _, sub := range subs {
		if sub.terminate(ErrFeedClosed) {
			f.metrics.SessionClosed("shutdown")
		}
	}
}

// Subscription is one registered delivery queue.
type Subscription struct {
	id     uint64
	feed   *Feed
	events chan Event

	mu     sync.Mutex
	closed bool
	err    error
}

// Events is closed when the subscription terminates.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err reports why the subscription terminated: nil after Close,
// ErrResyncRequired or ErrFeedClosed otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. It is idempotent and safe to call while
// an event is being delivered.
func (s *Subscription) Close() {
	s.feed.remove(s, nil, "closed")
}

func (s *Subscription) offer(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- evt:
		return true
	default:
		return false
	}
}

func (s *Subscription) terminate(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = cause
	close(s.events)
	return true
}
