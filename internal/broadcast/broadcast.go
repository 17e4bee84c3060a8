// Package broadcast carries cache invalidations between service instances.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// DefaultChannel is the channel or subject name used when none is configured.
const DefaultChannel = "tenantctx.invalidate"

// Message announces that a tenant's context changed. Origin identifies the
// publishing instance so it can ignore its own echoes.
type Message struct {
	Slug    string `json:"slug"`
	Version int64  `json:"version"`
	Origin  string `json:"origin"`
}

// Handler is called once per received message.
type Handler func(Message)

// Broadcaster publishes and receives invalidation messages.
type Broadcaster interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers messages to h until stop is called or ctx is done.
	Subscribe(ctx context.Context, h Handler) (stop func(), err error)
	Close() error
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode invalidation: %w", err)
	}
	return data, nil
}

func decode(data []byte, h Handler) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Msg("Ignoring malformed invalidation message")
		return
	}
	if msg.Slug == "" {
		return
	}
	h(msg)
}

// Noop is used when a single instance is deployed.
type Noop struct{}

func (Noop) Publish(context.Context, Message) error { return nil }

func (Noop) Subscribe(context.Context, Handler) (func(), error) { return func() {}, nil }

func (Noop) Close() error { return nil }
