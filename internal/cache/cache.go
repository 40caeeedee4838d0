// Package cache provee el almacenamiento persistente clave→valor donde el
// cliente guarda su último estado de autenticación.
//
// Soporta:
//   - memory (in-process, go-cache; tests y procesos de vida corta)
//   - file (JSON en disco con escritura atómica; default de la CLI)
//   - redis (compartido entre procesos)
//   - postgres (pgx; tabla gpgauth_slots)
//
// Cada Set reemplaza el valor completo: no hay merges parciales.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor. Si ttl es 0, no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "file" | "redis" | "postgres"
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string // Prefijo para todas las keys
	Path     string // driver file
	DSN      string // driver postgres
}

// ErrNotFound se devuelve cuando la key no existe (o expiró).
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea un cliente de cache según la configuración.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	case "file":
		return NewFile(cfg.Path, cfg.Prefix)
	case "redis":
		return NewRedis(ctx, cfg)
	case "postgres", "pg":
		return NewPostgres(ctx, cfg.DSN, cfg.Prefix)
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
