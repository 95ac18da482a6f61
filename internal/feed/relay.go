package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/angelmondragon/wishspace-backend/pkg/metrics"
	"github.com/angelmondragon/wishspace-backend/pkg/redis"
)

const defaultRelayBuffer = 1024

// Broker is the pub/sub transport used to exchange events between instances.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (redis.Subscription, error)
}

// RelayParams groups dependencies for the relay.
type RelayParams struct {
	Feed       *Feed
	Broker     Broker
	Channel    string
	InstanceID string
	Buffer     int
	Metrics    *metrics.FeedMetrics
	Logger     *logger.Logger
}

// Relay publishes local events to every other instance and feeds their events
// into the local Feed. It implements wishes.Notifier so writers only talk to it.
type Relay struct {
	feed       *Feed
	broker     Broker
	channel    string
	instanceID string
	metrics    *metrics.FeedMetrics
	logg       *logger.Logger
	out        chan Event
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewRelay builds a relay with the required dependencies.
func NewRelay(params RelayParams) (*Relay, error) {
	if params.Feed == nil {
		return nil, errors.New("feed is required")
	}
	if params.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if params.Channel == "" {
		return nil, errors.New("channel is required")
	}
	if params.InstanceID == "" {
		return nil, errors.New("instance id is required")
	}
	if params.Buffer <= 0 {
		params.Buffer = defaultRelayBuffer
	}
	return &Relay{
		feed:       params.Feed,
		broker:     params.Broker,
		channel:    params.Channel,
		instanceID: params.InstanceID,
		metrics:    params.Metrics,
		logg:       params.Logger,
		out:        make(chan Event, params.Buffer),
	}, nil
}

func (r *Relay) WishCreated(_ context.Context, wish wishes.Wish) {
	r.publish(CreatedEvent(wish, r.feed.now()))
}

func (r *Relay) WishUpdated(_ context.Context, wishID string, likeCount int64, version int64) {
	r.publish(UpdatedEvent(wishID, likeCount, version, r.feed.now()))
}

func (r *Relay) publish(evt Event) {
	r.feed.Publish(evt)
	select {
	case r.out <- evt:
	default:
		r.metrics.IncDropped("relay_full")
		if r.logg != nil {
			r.logg.Warn(r.logg.WithWishID(context.Background(), evt.WishID), "feed.relay_buffer_full")
		}
	}
}

// Run subscribes to the relay channel and forwards events in both directions
// until ctx is done or the subscription ends.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.broker.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("subscribe feed relay: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.forwardLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = sub.Close()
	}()

	r.receiveLoop(ctx, sub.Messages())
	subscriptionLost := ctx.Err() == nil
	cancel()
	wg.Wait()

	if subscriptionLost {
		return errors.New("feed relay subscription closed")
	}
	return nil
}

func (r *Relay) forwardLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-r.out:
			payload, err := json.Marshal(envelope{Origin: r.instanceID, Event: evt})
			if err != nil {
				r.logError(ctx, "feed.relay_encode_failed", err)
				continue
			}
			if err := r.broker.Publish(ctx, r.channel, payload); err != nil && ctx.Err() == nil {
				r.metrics.IncDropped("relay_publish")
				r.logError(ctx, "feed.relay_publish_failed", err)
			}
		}
	}
}

func (r *Relay) receiveLoop(ctx context.Context, messages <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				r.metrics.IncDropped("relay_decode")
				r.logError(ctx, "feed.relay_decode_failed", err)
				continue
			}
			if env.Origin == r.instanceID || env.Event.WishID == "" {
				continue
			}
			r.feed.Publish(env.Event)
		}
	}
}

func (r *Relay) logError(ctx context.Context, msg string, err error) {
	if r.logg == nil {
		return
	}
	r.logg.Error(ctx, msg, err)
}
