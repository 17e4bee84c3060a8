package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// ErrConflict is returned when a slug or domain is already taken.
var ErrConflict = errors.New("already exists")

// ChangeChannel is the Postgres NOTIFY channel for override and record writes.
const ChangeChannel = "tenant_override_changed"

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// TenantRepository is the Postgres-backed config store.
type TenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository creates a new TenantRepository
func NewTenantRepository(ctx context.Context, dsn string, maxConns int32) (*TenantRepository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &TenantRepository{pool: pool}, nil
}

// Close closes the database connection pool
func (r *TenantRepository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity.
func (r *TenantRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const recordColumns = `t.id, t.slug, t.display_name, t.status, t.created_at, t.updated_at, t.deleted_at,
	ARRAY(SELECT d.domain FROM tenant_domains d WHERE d.slug = t.slug ORDER BY d.domain)`

func scanRecord(row pgx.Row) (*model.TenantRecord, error) {
	rec := &model.TenantRecord{}
	var status string
	err := row.Scan(&rec.ID, &rec.Slug, &rec.DisplayName, &status,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt, &rec.Domains)
	if err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	return rec, nil
}

// GetTenantRecord retrieves a tenant by slug, including soft-deleted ones.
func (r *TenantRepository) GetTenantRecord(ctx context.Context, slug string) (*model.TenantRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM tenants t WHERE t.slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetOverride retrieves the tenant's override document.
func (r *TenantRepository) GetOverride(ctx context.Context, slug string) (*model.TenantOverride, error) {
	ov := &model.TenantOverride{}
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT slug, document, version, updated_at FROM tenant_overrides WHERE slug = $1`, slug,
	).Scan(&ov.Slug, &doc, &ov.Version, &ov.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ov.Document = json.RawMessage(doc)
	return ov, nil
}

// SlugForDomain returns the tenant owning a custom domain, or "".
func (r *TenantRepository) SlugForDomain(ctx context.Context, domain string) (string, error) {
	var slug string
	err := r.pool.QueryRow(ctx, `SELECT slug FROM tenant_domains WHERE domain = $1`, domain).Scan(&slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return slug, err
}

// CreateTenant inserts a new tenant record.
func (r *TenantRepository) CreateTenant(ctx context.Context, rec *model.TenantRecord) error {
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (slug, display_name, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		rec.Slug, rec.DisplayName, string(rec.Status),
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	return mapWriteError(err)
}

// SetStatus changes a tenant's status. Deletion is soft: deleted_at is set and
// the row is kept.
func (r *TenantRepository) SetStatus(ctx context.Context, slug string, status model.Status) (*model.TenantRecord, error) {
	var rec *model.TenantRecord
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tenants
			SET status = $2,
			    updated_at = now(),
			    deleted_at = CASE WHEN $2 = 'deleted' THEN COALESCE(deleted_at, now()) ELSE NULL END
			WHERE slug = $1`, slug, string(status))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return model.ErrTenantNotFound
		}
		rec, err = scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM tenants t WHERE t.slug = $1`, slug))
		if err != nil {
			return err
		}
		return notifyChange(ctx, tx, slug)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AddDomain maps a custom domain to a tenant.
func (r *TenantRepository) AddDomain(ctx context.Context, slug, domain string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tenant_domains (domain, slug) VALUES ($1, $2)`, domain, slug); err != nil {
			return mapWriteError(err)
		}
		return notifyChange(ctx, tx, slug)
	})
}

// PutOverride replaces the override document and returns its new version.
func (r *TenantRepository) PutOverride(ctx context.Context, slug string, doc json.RawMessage) (int64, error) {
	var version int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO tenant_overrides (slug, document, version, updated_at)
			VALUES ($1, $2::jsonb, 1, now())
			ON CONFLICT (slug) DO UPDATE
			SET document = EXCLUDED.document,
			    version = tenant_overrides.version + 1,
			    updated_at = now()
			RETURNING version`, slug, string(doc),
		).Scan(&version)
		if err != nil {
			return mapWriteError(err)
		}
		return notifyChange(ctx, tx, slug)
	})
	return version, err
}

// DeleteOverride clears the override while advancing its version.
func (r *TenantRepository) DeleteOverride(ctx context.Context, slug string) (int64, error) {
	return r.PutOverride(ctx, slug, json.RawMessage(`{}`))
}

// notifyChange queues a NOTIFY carrying the tenant's current override version;
// Postgres delivers it when the transaction commits.
func notifyChange(ctx context.Context, tx pgx.Tx, slug string) error {
	_, err := tx.Exec(ctx, `
		SELECT pg_notify($1, json_build_object(
			'slug', $2::text,
			'version', COALESCE((SELECT version FROM tenant_overrides WHERE slug = $2), 0)
		)::text)`, ChangeChannel, slug)
	return err
}

// Watch listens for change notifications on a dedicated connection until ctx
// is done or the connection fails; the channel is closed either way.
func (r *TenantRepository) Watch(ctx context.Context) (<-chan model.OverrideChange, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}

	out := make(chan model.OverrideChange, 64)
	go func() {
		defer close(out)
		defer func() {
			// The session still holds LISTEN state; drop it rather than reuse it.
			conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Lost config store change listener")
				}
				return
			}
			var change model.OverrideChange
			if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
				log.Warn().Err(err).Str("payload", n.Payload).Msg("Ignoring malformed change notification")
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrConflict
		case pgForeignKeyViolation:
			return model.ErrTenantNotFound
		}
	}
	return err
}
