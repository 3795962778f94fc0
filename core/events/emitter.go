// Package events emits one event per completed state transition (allocate,
// release, fulfill, cancel). Delivery is fire-and-forget: an emitter must
// never block or fail the operation that triggered it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Action string

const (
	ActionAllocate Action = "allocate"
	ActionRelease  Action = "release"
	ActionFulfill  Action = "fulfill"
	ActionCancel   Action = "cancel"
)

// Event describes a completed transition on a tag line.
type Event struct {
	Action      Action    `json:"action"`
	TagID       string    `json:"tag_id"`
	TagType     string    `json:"tag_type,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	InstanceIDs []uint    `json:"instance_ids,omitempty"`
	Quantity    int       `json:"quantity"`
	Method      string    `json:"method,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	At          time.Time `json:"at"`
}

type Emitter interface {
	Emit(Event)
}

// Nop discards all events. Used when observability is not configured.
type Nop struct{}

func (Nop) Emit(Event) {}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct {
	Log zerolog.Logger
}

func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{Log: log}
}

func (e *LogEmitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	e.Log.Info().
		Str("action", string(ev.Action)).
		Str("tag_id", ev.TagID).
		Str("tag_type", ev.TagType).
		Str("sku", ev.SKU).
		Uints("instance_ids", ev.InstanceIDs).
		Int("quantity", ev.Quantity).
		Str("method", ev.Method).
		Str("actor", ev.Actor).
		Time("at", ev.At).
		Msg("stock transition")
}

// RedisEmitter publishes events on a pub/sub channel. Publishing runs in its
// own goroutine with a short deadline; failures are logged and dropped.
type RedisEmitter struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisEmitter(client *redis.Client, channel string, log zerolog.Logger) *RedisEmitter {
	return &RedisEmitter{client: client, channel: channel, log: log}
}

func (e *RedisEmitter) Emit(ev Event) {
	if e.client == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Warn().Interface("panic", r).Msg("event publish panicked")
			}
		}()
		payload, err := json.Marshal(ev)
		if err != nil {
			e.log.Warn().Err(err).Msg("event marshal failed")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.client.Publish(ctx, e.channel, payload).Err(); err != nil {
			e.log.Warn().Err(err).Str("channel", e.channel).Msg("event publish failed")
		}
	}()
}

// Multi fans out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}
