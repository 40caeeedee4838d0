// Package authstatus mantiene el estado de autenticación cacheado de la
// cuenta y lo refresca contra el servidor cuando hace falta.
//
// El estado vive en un único slot ("auth_status") del cache.Client
// configurado; cada probe exitoso lo sobreescribe completo. Probes
// concurrentes se coalescen en un solo request.
package authstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/cache"
	"github.com/dropDatabas3/gpgauth/internal/gpgauth"
	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StorageKey es la clave del slot en el cache.
const StorageKey = "auth_status"

// Status es el registro persistido.
type Status struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	IsMfaRequired   bool `json:"isMfaRequired"`
}

// FromRemote mapea el resultado del probe al registro persistido.
func FromRemote(rs gpgauth.RemoteStatus) Status {
	switch rs {
	case gpgauth.Authenticated:
		return Status{IsAuthenticated: true}
	case gpgauth.AuthenticatedNeedsMfa:
		return Status{IsAuthenticated: true, IsMfaRequired: true}
	}
	return Status{}
}

// Options controla CheckAuthStatus.
type Options struct {
	// RequestAPI fuerza el probe remoto aunque haya valor cacheado.
	RequestAPI bool
}

// DefaultOptions pide siempre al servidor.
func DefaultOptions() Options {
	return Options{RequestAPI: true}
}

// Prober es lo que Cache necesita del lado remoto (gpgauth.Prober lo cumple).
type Prober interface {
	ProbeStatus(ctx context.Context) (gpgauth.RemoteStatus, error)
}

// Cache combina el slot persistido con el probe remoto.
type Cache struct {
	store  cache.Client
	prober Prober
	group  singleflight.Group
}

// New crea el Cache.
func New(store cache.Client, prober Prober) *Cache {
	return &Cache{store: store, prober: prober}
}

// ReadCachedStatus devuelve el registro guardado. ok=false si no hay nada
// (o si lo guardado no se puede decodificar).
func (c *Cache) ReadCachedStatus(ctx context.Context) (st Status, ok bool, err error) {
	raw, err := c.store.Get(ctx, StorageKey)
	if cache.IsNotFound(err) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("authstatus: read: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		logger.From(ctx).Debug("discarding unreadable auth status record", logger.Err(err))
		return Status{}, false, nil
	}
	return st, true, nil
}

// Store sobreescribe el registro completo (sin TTL).
func (c *Cache) Store(ctx context.Context, st Status) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, StorageKey, string(b), 0); err != nil {
		return fmt.Errorf("authstatus: write: %w", err)
	}
	return nil
}

// ProbeRemoteStatus consulta al servidor y persiste el resultado antes de
// devolverlo. Los errores del probe se devuelven sin modificar y no tocan
// el registro. Llamadas concurrentes comparten un único probe; éste corre
// desacoplado de la cancelación de quien lo inició, y cada caller deja de
// esperar cuando se cancela su propio ctx.
func (c *Cache) ProbeRemoteStatus(ctx context.Context) (Status, error) {
	pctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(StorageKey, func() (any, error) {
		rs, err := c.prober.ProbeStatus(pctx)
		if err != nil {
			return Status{}, err
		}
		st := FromRemote(rs)
		if err := c.Store(pctx, st); err != nil {
			return Status{}, err
		}
		logger.From(pctx).Debug("auth status refreshed",
			logger.Bool("is_authenticated", st.IsAuthenticated),
			logger.Bool("is_mfa_required", st.IsMfaRequired),
		)
		return st, nil
	})

	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			logger.From(ctx).Debug("auth status probe coalesced", zap.Bool("shared", res.Shared))
		}
		if res.Err != nil {
			return Status{}, res.Err
		}
		return res.Val.(Status), nil
	}
}

// CheckAuthStatus devuelve el registro cacheado salvo que opts.RequestAPI
// lo pida explícito o no haya nada cacheado.
func (c *Cache) CheckAuthStatus(ctx context.Context, opts Options) (Status, error) {
	if !opts.RequestAPI {
		st, ok, err := c.ReadCachedStatus(ctx)
		if err != nil {
			return Status{}, err
		}
		if ok {
			return st, nil
		}
	}
	return c.ProbeRemoteStatus(ctx)
}

// IsAuthenticated es el atajo booleano de CheckAuthStatus.
func (c *Cache) IsAuthenticated(ctx context.Context, opts Options) (bool, error) {
	st, err := c.CheckAuthStatus(ctx, opts)
	if err != nil {
		return false, err
	}
	return st.IsAuthenticated, nil
}

// IsMfaRequired siempre consulta al servidor.
func (c *Cache) IsMfaRequired(ctx context.Context) (bool, error) {
	st, err := c.CheckAuthStatus(ctx, Options{RequestAPI: true})
	if err != nil {
		return false, err
	}
	return st.IsMfaRequired, nil
}

// Watch hace un probe inmediato y luego uno cada interval, llamando fn con
// cada resultado. Termina cuando ctx se cancela.
func (c *Cache) Watch(ctx context.Context, interval time.Duration, fn func(Status, error)) error {
	if interval <= 0 {
		return errors.New("authstatus: watch interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.ProbeRemoteStatus(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(st, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
