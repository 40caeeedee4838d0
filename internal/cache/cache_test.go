package cache

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// exercise corre el mismo contrato contra cualquier backend.
func exercise(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping err: %v", err)
	}
	_ = c.Delete(ctx, "auth_status")

	if _, err := c.Get(ctx, "auth_status"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound on empty slot, got %v", err)
	}
	if err := c.Set(ctx, "auth_status", `{"a":1}`, 0); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	if err := c.Set(ctx, "auth_status", `{"b":2}`, 0); err != nil {
		t.Fatalf("overwrite err: %v", err)
	}
	got, err := c.Get(ctx, "auth_status")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got != `{"b":2}` {
		t.Fatalf("got %q want whole-record overwrite", got)
	}
	if err := c.Delete(ctx, "auth_status"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := c.Get(ctx, "auth_status"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryClient(t *testing.T) {
	c := NewMemory("test")
	defer c.Close()
	exercise(t, c)
}

func TestFileClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "slots.json")
	c, err := NewFile(path, "")
	if err != nil {
		t.Fatalf("NewFile err: %v", err)
	}
	exercise(t, c)

	// otra instancia sobre el mismo archivo ve lo persistido
	if err := c.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	c2, _ := NewFile(path, "")
	if v, err := c2.Get(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("expected persisted value, got %q %v", v, err)
	}
}

func TestFileClient_TTL(t *testing.T) {
	c, _ := NewFile(filepath.Join(t.TempDir(), "slots.json"), "")
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected expired entry to be not found, got %v", err)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), Config{Driver: "etcd"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestRedisClient(t *testing.T) {
	addr := os.Getenv("GPGAUTH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GPGAUTH_TEST_REDIS_ADDR not set")
	}
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad GPGAUTH_TEST_REDIS_ADDR: %v", err)
	}
	port, _ := strconv.Atoi(p)
	c, err := NewRedis(context.Background(), Config{Host: host, Port: port, Prefix: "gpgauth-test"})
	if err != nil {
		t.Fatalf("NewRedis err: %v", err)
	}
	defer c.Close()
	exercise(t, c)
}

func TestPostgresClient(t *testing.T) {
	dsn := os.Getenv("GPGAUTH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GPGAUTH_TEST_PG_DSN not set")
	}
	c, err := NewPostgres(context.Background(), dsn, "gpgauth-test")
	if err != nil {
		t.Fatalf("NewPostgres err: %v", err)
	}
	defer c.Close()
	exercise(t, c)
}
