package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	"github.com/angelmondragon/wishspace-backend/pkg/redis"
)

// memoryBroker fans payloads out to every subscription of a channel.
type memoryBroker struct {
	mu   sync.Mutex
	subs map[string][]*memorySubscription
}

type memorySubscription struct {
	broker  *memoryBroker
	channel string
	ch      chan []byte
	once    sync.Once
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{subs: make(map[string][]*memorySubscription)}
}

func (b *memoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[channel] {
		sub.ch <- payload
	}
	return nil
}

func (b *memoryBroker) Subscribe(_ context.Context, channel string) (redis.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &memorySubscription{broker: b, channel: channel, ch: make(chan []byte, 64)}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

func (b *memoryBroker) subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (s *memorySubscription) Messages() <-chan []byte { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		subs := s.broker.subs[s.channel]
		for i, other := range subs {
			if other == s {
				s.broker.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}

type instance struct {
	feed  *Feed
	relay *Relay
}

func startInstance(t *testing.T, broker *memoryBroker, id string) instance {
	t.Helper()
	f := startFeed(t, Options{})
	relay, err := NewRelay(RelayParams{Feed: f, Broker: broker, Channel: "ws:channel:feed", InstanceID: id})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return instance{feed: f, relay: relay}
}

func TestRelayShareEventsAcrossInstances(t *testing.T) {
	broker := newMemoryBroker()
	a := startInstance(t, broker, "a")
	b := startInstance(t, broker, "b")
	require.Eventually(t, func() bool { return broker.subscribers("ws:channel:feed") == 2 }, waitFor, time.Millisecond)

	subA, err := a.feed.Subscribe()
	require.NoError(t, err)
	subB, err := b.feed.Subscribe()
	require.NoError(t, err)

	a.relay.WishCreated(context.Background(), wishes.Wish{ID: "w1", Text: "from a", Version: 1})
	b.relay.WishUpdated(context.Background(), "w1", 1, 2)

	for _, sub := range []*Subscription{subA, subB} {
		got := receive(t, sub, 2)
		assert.Equal(t, []int64{1, 2}, versions(got))
		require.NotNil(t, got[0].Wish)
		assert.Equal(t, "from a", got[0].Wish.Text)
		assert.Equal(t, int64(1), got[1].LikeCount)
	}
	// own-origin echoes are ignored; nothing is delivered twice
	expectQuiet(t, subA, 50*time.Millisecond)
	expectQuiet(t, subB, 50*time.Millisecond)
}

func TestRelayIgnoresMalformedPayloads(t *testing.T) {
	broker := newMemoryBroker()
	a := startInstance(t, broker, "a")
	require.Eventually(t, func() bool { return broker.subscribers("ws:channel:feed") == 1 }, waitFor, time.Millisecond)
	sub, err := a.feed.Subscribe()
	require.NoError(t, err)

	require.NoError(t, broker.Publish(context.Background(), "ws:channel:feed", []byte("not json")))
	valid, err := json.Marshal(envelope{Origin: "b", Event: CreatedEvent(wishes.Wish{ID: "w9", Version: 1}, time.Now())})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), "ws:channel:feed", valid))

	got := receive(t, sub, 1)
	assert.Equal(t, "w9", got[0].WishID)
}

func TestRelayRunReportsLostSubscription(t *testing.T) {
	broker := newMemoryBroker()
	f := startFeed(t, Options{})
	relay, err := NewRelay(RelayParams{Feed: f, Broker: broker, Channel: "c", InstanceID: "a"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()
	require.Eventually(t, func() bool { return broker.subscribers("c") == 1 }, waitFor, time.Millisecond)

	broker.mu.Lock()
	sub := broker.subs["c"][0]
	broker.mu.Unlock()
	require.NoError(t, sub.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("relay did not stop")
	}
}

func TestNewRelayValidatesParams(t *testing.T) {
	f := New(Options{})
	broker := newMemoryBroker()
	_, err := NewRelay(RelayParams{Broker: broker, Channel: "c", InstanceID: "a"})
	assert.Error(t, err)
	_, err = NewRelay(RelayParams{Feed: f, Channel: "c", InstanceID: "a"})
	assert.Error(t, err)
	_, err = NewRelay(RelayParams{Feed: f, Broker: broker, InstanceID: "a"})
	assert.Error(t, err)
	_, err = NewRelay(RelayParams{Feed: f, Broker: broker, Channel: "c"})
	assert.Error(t, err)
}
