// Package events relays queue events between server instances over Redis
// pub/sub so every instance's websocket hub sees every transition.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/opd/internal/platform/websocket"
)

// PubSub is the part of the Redis client the relay uses.
type PubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// subscription is the part of *goredis.PubSub the relay reads from.
type subscription interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...goredis.ChannelOption) <-chan *goredis.Message
	Close() error
}

// Relay publishes events to a Redis channel and, while subscribed, forwards
// everything received on that channel to a local publisher (normally the
// websocket hub). Events published by this instance come back through the
// subscription like everyone else's. While the subscription is down, events
// go straight to the local publisher so this instance's screens keep
// updating.
type Relay struct {
	rdb        PubSub
	subscribe  func(ctx context.Context, channel string) subscription
	channel    string
	local      websocket.EventPublisher
	log        zerolog.Logger
	subscribed atomic.Bool
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRelay(rdb PubSub, channel string, local websocket.EventPublisher, log zerolog.Logger) *Relay {
	return &Relay{
		rdb: rdb,
		subscribe: func(ctx context.Context, channel string) subscription {
			return rdb.Subscribe(ctx, channel)
		},
		channel:    channel,
		local:      local,
		log:        log.With().Str("component", "events").Str("channel", channel).Logger(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Subscribed reports whether events currently flow through Redis.
func (r *Relay) Subscribed() bool { return r.subscribed.Load() }

func (r *Relay) Publish(ctx context.Context, ev websocket.Event) error {
	if !r.subscribed.Load() {
		return r.local.Publish(ctx, ev)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.Warn().Err(err).Str("type", ev.Type).Msg("redis publish failed, delivering locally")
		return r.local.Publish(ctx, ev)
	}
	return nil
}

// Run keeps a subscription open until ctx is done, resubscribing with
// exponential backoff whenever it fails or closes.
func (r *Relay) Run(ctx context.Context) {
	backoff := r.minBackoff
	for {
		connected, err := r.listen(ctx)
		r.subscribed.Store(false)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = r.minBackoff
		}
		r.log.Warn().Err(err).Dur("retry_in", backoff).Msg("event relay down, publishing locally")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// listen subscribes and forwards messages until the subscription ends.
// connected reports whether the subscription was established.
func (r *Relay) listen(ctx context.Context) (connected bool, err error) {
	sub := r.subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("redis subscribe: %w", err)
	}
	r.subscribed.Store(true)
	r.log.Info().Msg("event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("redis subscription closed")
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload string) {
	var ev websocket.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Warn().Err(err).Msg("discarding malformed event")
		return
	}
	if err := r.local.Publish(ctx, ev); err != nil {
		r.log.Warn().Err(err).Str("type", ev.Type).Msg("local delivery failed")
	}
}
