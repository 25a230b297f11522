package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by the kv_entries and kv_set_members tables
// (see migrations/000001_ledger.up.sql).
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// liveEntry restricts queries to rows that have not expired.
const liveEntry = `(expires_at IS NULL OR expires_at > now())`

// expiryExpr turns a millisecond TTL parameter into an absolute expiry.
const expiryExpr = `CASE WHEN $3::bigint > 0 THEN now() + ($3::bigint * interval '1 millisecond') ELSE NULL END`

// NewPostgres creates a PostgreSQL store with a connection pool.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Get returns the value stored at key.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND `+liveEntry, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select entry: %w", err)
	}
	return value, nil
}

// GetMany fetches keys in one query.
func (p *Postgres) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM kv_entries WHERE key = ANY($1) AND `+liveEntry, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		found[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	for i, k := range keys {
		out[i] = found[k]
	}
	return out, nil
}

// Set stores value at key, replacing any existing entry.
func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, `+expiryExpr+`)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// SetNX inserts value at key unless a live entry already exists.
// An expired entry is replaced in the same statement.
func (p *Postgres) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, `+expiryExpr+`)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
		WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now()`,
		key, value, ttl.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Exists checks whether a live entry exists at key.
func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM kv_entries WHERE key = $1 AND `+liveEntry+`)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check entry: %w", err)
	}
	return exists, nil
}

// Del removes key.
func (p *Postgres) Del(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// DelIfEqual removes key if it still holds value.
func (p *Postgres) DelIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE key = $1 AND value = $2`, key, value,
	)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetDel returns and removes key.
func (p *Postgres) GetDel(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM kv_entries WHERE key = $1 RETURNING value, expires_at
		)
		SELECT value FROM deleted WHERE `+liveEntry, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("take entry: %w", err)
	}
	return value, nil
}

// AddToSet adds member to the set at setKey.
func (p *Postgres) AddToSet(ctx context.Context, setKey, member string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv_set_members (set_key, member)
		VALUES ($1, $2)
		ON CONFLICT (set_key, member) DO NOTHING`,
		setKey, member,
	)
	if err != nil {
		return fmt.Errorf("insert set member: %w", err)
	}
	return nil
}

// Members lists the set at setKey in insertion order.
func (p *Postgres) Members(ctx context.Context, setKey string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT member FROM kv_set_members WHERE set_key = $1 ORDER BY added_at, member`, setKey,
	)
	if err != nil {
		return nil, fmt.Errorf("select set members: %w", err)
	}

	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect set members: %w", err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Pool returns the underlying connection pool.
// Use sparingly - prefer adding methods to Postgres.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}
