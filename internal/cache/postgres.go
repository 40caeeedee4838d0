package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	migrations "github.com/dropDatabas3/gpgauth/migrations/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgClient implementa Client sobre la tabla gpgauth_slots.
type pgClient struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewPostgres abre el pool y aplica las migraciones embebidas (idempotentes).
func NewPostgres(ctx context.Context, dsn, prefix string) (*pgClient, error) {
	if dsn == "" {
		return nil, errors.New("cache: postgres driver requires a dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: postgres pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: postgres ping failed: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgClient{pool: pool, prefix: prefix}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("cache: migration %s: %w", name, err)
		}
	}
	return nil
}

func (c *pgClient) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := c.pool.QueryRow(ctx, `
		SELECT value FROM gpgauth_slots
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		prefixed(c.prefix, key)).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (c *pgClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var exp *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl).UTC()
		exp = &t
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO gpgauth_slots (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value,
		              expires_at = EXCLUDED.expires_at,
		              updated_at = NOW()`,
		prefixed(c.prefix, key), value, exp)
	return err
}

func (c *pgClient) Delete(ctx context.Context, key string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM gpgauth_slots WHERE key = $1`, prefixed(c.prefix, key))
	return err
}

func (c *pgClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *pgClient) Close() error {
	c.pool.Close()
	return nil
}
