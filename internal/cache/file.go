package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/util/atomicwrite"
)

// fileClient implementa Client sobre un único archivo JSON. Cada Set
// reescribe el archivo completo de forma atómica.
type fileClient struct {
	path   string
	prefix string
	mu     sync.Mutex
}

type fileEntry struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewFile crea un cliente de cache respaldado por el archivo path.
func NewFile(path, prefix string) (*fileClient, error) {
	if path == "" {
		return nil, errors.New("cache: file driver requires a path")
	}
	return &fileClient{path: path, prefix: prefix}, nil
}

func (c *fileClient) load() (map[string]fileEntry, error) {
	data := map[string]fileEntry{}
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", c.path, err)
	}
	if len(b) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", c.path, err)
	}
	return data, nil
}

func (c *fileClient) save(data map[string]fileEntry) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return atomicwrite.WriteFile(c.path, b, 0o600)
}

func (c *fileClient) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load()
	if err != nil {
		return "", err
	}
	e, ok := data[prefixed(c.prefix, key)]
	if !ok {
		return "", ErrNotFound
	}
	if e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt) {
		return "", ErrNotFound
	}
	return e.Value, nil
}

func (c *fileClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load()
	if err != nil {
		return err
	}
	e := fileEntry{Value: value}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		e.ExpiresAt = &exp
	}
	data[prefixed(c.prefix, key)] = e
	return c.save(data)
}

func (c *fileClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load()
	if err != nil {
		return err
	}
	k := prefixed(c.prefix, key)
	if _, ok := data[k]; !ok {
		return nil
	}
	delete(data, k)
	return c.save(data)
}

func (c *fileClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.load()
	return err
}

func (c *fileClient) Close() error { return nil }
