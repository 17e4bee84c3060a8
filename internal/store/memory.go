package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// MemoryStore is an in-process config store used for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]model.TenantRecord
	overrides map[string]model.TenantOverride
	domains   map[string]string
	watchers  map[chan model.OverrideChange]struct{}

	// Reads, when set, is called before every read; tests use it to inject
	// latency and failures.
	Reads func(ctx context.Context, op, slug string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]model.TenantRecord),
		overrides: make(map[string]model.TenantOverride),
		domains:   make(map[string]string),
		watchers:  make(map[chan model.OverrideChange]struct{}),
	}
}

func (s *MemoryStore) hook(ctx context.Context, op, slug string) error {
	if s.Reads != nil {
		return s.Reads(ctx, op, slug)
	}
	return ctx.Err()
}

func (s *MemoryStore) GetTenantRecord(ctx context.Context, slug string) (*model.TenantRecord, error) {
	if err := s.hook(ctx, "record", slug); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[slug]
	if !ok {
		return nil, nil
	}
	rec.Domains = append([]string(nil), rec.Domains...)
	return &rec, nil
}

func (s *MemoryStore) GetOverride(ctx context.Context, slug string) (*model.TenantOverride, error) {
	if err := s.hook(ctx, "override", slug); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ov, ok := s.overrides[slug]
	if !ok {
		return nil, nil
	}
	ov.Document = append(json.RawMessage(nil), ov.Document...)
	return &ov, nil
}

func (s *MemoryStore) SlugForDomain(ctx context.Context, domain string) (string, error) {
	if err := s.hook(ctx, "domain", domain); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domains[domain], nil
}

func (s *MemoryStore) CreateTenant(ctx context.Context, rec *model.TenantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Slug]; exists {
		return ErrConflict
	}
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	s.records[rec.Slug] = *rec
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, slug string, status model.Status) (*model.TenantRecord, error) {
	s.mu.Lock()
	rec, ok := s.records[slug]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrTenantNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	if status == model.StatusDeleted && rec.DeletedAt == nil {
		now := rec.UpdatedAt
		rec.DeletedAt = &now
	}
	s.records[slug] = rec
	version := s.overrides[slug].Version
	s.mu.Unlock()

	s.notify(model.OverrideChange{Slug: slug, Version: version})
	return &rec, nil
}

func (s *MemoryStore) AddDomain(ctx context.Context, slug, domain string) error {
	s.mu.Lock()
	rec, ok := s.records[slug]
	if !ok {
		s.mu.Unlock()
		return model.ErrTenantNotFound
	}
	if owner, taken := s.domains[domain]; taken && owner != slug {
		s.mu.Unlock()
		return ErrConflict
	}
	s.domains[domain] = slug
	rec.Domains = append(rec.Domains, domain)
	s.records[slug] = rec
	version := s.overrides[slug].Version
	s.mu.Unlock()

	s.notify(model.OverrideChange{Slug: slug, Version: version})
	return nil
}

func (s *MemoryStore) PutOverride(ctx context.Context, slug string, doc json.RawMessage) (int64, error) {
	s.mu.Lock()
	if _, ok := s.records[slug]; !ok {
		s.mu.Unlock()
		return 0, model.ErrTenantNotFound
	}
	ov := s.overrides[slug]
	ov.Slug = slug
	ov.Document = append(json.RawMessage(nil), doc...)
	ov.Version++
	ov.UpdatedAt = time.Now()
	s.overrides[slug] = ov
	s.mu.Unlock()

	s.notify(model.OverrideChange{Slug: slug, Version: ov.Version})
	return ov.Version, nil
}

// DeleteOverride clears the override. The version still advances so caches
// can order the change.
func (s *MemoryStore) DeleteOverride(ctx context.Context, slug string) (int64, error) {
	return s.PutOverride(ctx, slug, json.RawMessage(`{}`))
}

// Watch streams override and record changes until ctx is done.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan model.OverrideChange, error) {
	ch := make(chan model.OverrideChange, 64)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func (s *MemoryStore) notify(change model.OverrideChange) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.watchers {
		select {
		case ch <- change:
		default:
			log.Warn().Str("tenant", change.Slug).Msg("Dropped override change notification; watcher is behind")
		}
	}
}
