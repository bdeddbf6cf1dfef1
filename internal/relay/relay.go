// Package relay carries queue events between service instances over Redis
// pub/sub so observers connected to any instance see every committed change.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TalelCS/melek/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "melek:queue-events"

const (
	minRetry = 250 * time.Millisecond
	maxRetry = 10 * time.Second
)

// Sink receives events for local observers.
type Sink interface {
	Publish(ctx context.Context, event models.Event)
}

// envelope is the wire form. Origin identifies the publishing instance so
// it can drop its own echo.
type envelope struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

type Relay struct {
	client   *redis.Client
	channel  string
	sink     Sink
	log      zerolog.Logger
	origin   string
	minRetry time.Duration
	maxRetry time.Duration
}

func New(client *redis.Client, channel string, sink Sink, log zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		client:   client,
		channel:  channel,
		sink:     sink,
		log:      log,
		origin:   uuid.NewString(),
		minRetry: minRetry,
		maxRetry: maxRetry,
	}
}

// Publish delivers event to local observers, then forwards it to the other
// instances. A Redis failure only affects remote observers.
func (r *Relay) Publish(ctx context.Context, event models.Event) {
	r.sink.Publish(ctx, event)

	payload, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		r.log.Error().Err(err).Str("event", event.Type).Msg("encode event")
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn().Err(err).Str("event", event.Type).Msg("redis publish failed")
	}
}

// Run forwards events published by other instances to the sink. A failed or
// dropped subscription is retried with backoff until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	delay := r.minRetry
	for {
		subscribed, err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			delay = r.minRetry
		}
		r.log.Warn().Err(err).Dur("retry_in", delay).Msg("relay subscription lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, r.maxRetry)
	}
}

func (r *Relay) listen(ctx context.Context) (bool, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return true, fmt.Errorf("subscription %s closed", r.channel)
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload string) {
	origin, event, err := decode(payload)
	if err != nil {
		r.log.Warn().Err(err).Msg("discard malformed event")
		return
	}
	if origin == r.origin {
		return
	}
	r.sink.Publish(ctx, event)
}

func decode(payload string) (string, models.Event, error) {
	var msg envelope
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", models.Event{}, err
	}
	if msg.Event.Type == "" || msg.Event.DayID == "" {
		return "", models.Event{}, fmt.Errorf("event missing type or day")
	}
	return msg.Origin, msg.Event, nil
}
