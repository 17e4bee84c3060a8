package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATS broadcasts over a core NATS subject. Delivery is at-most-once; the
// store's change feed and the cache TTL cover lost messages.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// ConnectNATS dials url and returns a NATS broadcaster.
func ConnectNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("tenantctx"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if subject == "" {
		subject = DefaultChannel
	}
	log.Info().Str("url", url).Str("subject", subject).Msg("NATS connected")
	return &NATS{nc: nc, subject: subject}, nil
}

func (n *NATS) Publish(_ context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, h Handler) (func(), error) {
	sub, err := n.nc.Subscribe(n.subject, func(m *nats.Msg) {
		decode(m.Data, h)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", n.subject, err)
	}
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-stopped:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopped)
			err := sub.Unsubscribe()
			if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
				log.Warn().Err(err).Msg("Failed to unsubscribe from NATS")
			}
		})
	}, nil
}

func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}
