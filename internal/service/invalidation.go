package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/broadcast"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

// ChangeSource streams config store writes.
type ChangeSource interface {
	Watch(ctx context.Context) (<-chan model.OverrideChange, error)
}

// Invalidator is the part of the cache the worker drives.
type Invalidator interface {
	Invalidate(slug string)
	InvalidateAll()
}

type invalidation struct {
	slug    string
	version int64
	origin  string
}

const (
	minWatchBackoff = time.Second
	maxWatchBackoff = 30 * time.Second
)

// InvalidationWorker applies changes announced by the config store and by
// other instances to the local cache.
type InvalidationWorker struct {
	// Clock paces store reconnects. Defaults to the wall clock.
	Clock clock.Clock

	cache       Invalidator
	source      ChangeSource
	broadcaster broadcast.Broadcaster
	origin      string
	events      chan invalidation
}

// NewInvalidationWorker creates a worker. source and b may be nil.
func NewInvalidationWorker(c Invalidator, source ChangeSource, b broadcast.Broadcaster, origin string) *InvalidationWorker {
	if b == nil {
		b = broadcast.Noop{}
	}
	return &InvalidationWorker{
		Clock:       clock.New(),
		cache:       c,
		source:      source,
		broadcaster: b,
		origin:      origin,
		events:      make(chan invalidation, 256),
	}
}

// Run processes invalidations until ctx is done.
func (w *InvalidationWorker) Run(ctx context.Context) error {
	stop, err := w.broadcaster.Subscribe(ctx, func(msg broadcast.Message) {
		if msg.Origin == w.origin {
			return
		}
		w.enqueue(ctx, invalidation{slug: msg.Slug, version: msg.Version, origin: "broadcast"})
	})
	if err != nil {
		return err
	}
	defer stop()

	if w.source != nil {
		go w.watchStore(ctx)
	}

	log.Info().Msg("Invalidation worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Invalidation worker stopped")
			return nil
		case ev := <-w.events:
			w.apply(ev)
		}
	}
}

func (w *InvalidationWorker) apply(ev invalidation) {
	log.Debug().Str("tenant", ev.slug).Int64("version", ev.version).Str("origin", ev.origin).Msg("Invalidation received")
	if ev.slug == "" {
		w.cache.InvalidateAll()
	} else {
		w.cache.Invalidate(ev.slug)
	}
	monitoring.Invalidations.WithLabelValues(ev.origin).Inc()
	log.Debug().Str("tenant", ev.slug).Msg("Invalidation applied")
}

func (w *InvalidationWorker) enqueue(ctx context.Context, ev invalidation) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// watchStore follows the store's change feed, reconnecting with backoff.
// Changes may have been missed while disconnected, so every reconnect
// clears the whole cache.
func (w *InvalidationWorker) watchStore(ctx context.Context) {
	backoff := minWatchBackoff
	connected := false
	for ctx.Err() == nil {
		changes, err := w.source.Watch(ctx)
		if err != nil {
			log.Error().Err(err).Dur("retry_in", backoff).Msg("Failed to watch config store changes")
			select {
			case <-w.Clock.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxWatchBackoff)
			continue
		}
		if connected {
			w.enqueue(ctx, invalidation{origin: "store"})
		}
		connected = true
		backoff = minWatchBackoff
		for change := range changes {
			w.enqueue(ctx, invalidation{slug: change.Slug, version: change.Version, origin: "store"})
		}
	}
}
