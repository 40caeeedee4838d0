package gpgauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/keyring"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/google/uuid"
)

// Session agrupa el contexto de cuenta que usan verifier y handshake:
// servidor, keyring y reloj. Se construye una vez y se pasa explícito.
type Session struct {
	ServerURL string
	Keyring   keyring.Keyring

	// UserFingerprint es opcional; si está vacío se toma de la clave
	// pública del usuario en el keyring.
	UserFingerprint string

	// Now se usa para evaluar expiración de claves (default time.Now).
	Now func() time.Time
}

// NewSession valida serverURL (http/https absoluto) y arma la sesión.
func NewSession(serverURL string, kr keyring.Keyring) (*Session, error) {
	if _, err := parseServerURL(serverURL); err != nil {
		return nil, err
	}
	if kr == nil {
		return nil, errors.New("gpgauth: session requires a keyring")
	}
	return &Session{ServerURL: strings.TrimRight(serverURL, "/"), Keyring: kr}, nil
}

func parseServerURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("gpgauth: invalid server url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("gpgauth: server url %q must be an absolute http(s) url", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// Domain devuelve el dominio normalizado de la sesión.
func (s *Session) Domain() string { return keyring.NormalizeDomain(s.ServerURL) }

// ServerKeyID es el id bajo el que está pinneada la clave del servidor.
func (s *Session) ServerKeyID() uuid.UUID { return keyring.DomainID(s.ServerURL) }

// PinnedServerKey devuelve la clave pinneada del dominio.
func (s *Session) PinnedServerKey(ctx context.Context) (*pgp.PublicKey, error) {
	return s.PinnedServerKeyFor(ctx, s.ServerURL)
}

// PinnedServerKeyFor devuelve la clave pinneada para otro servidor del
// mismo keyring.
func (s *Session) PinnedServerKeyFor(ctx context.Context, serverURL string) (*pgp.PublicKey, error) {
	k, err := s.Keyring.ServerKey(ctx, keyring.DomainID(serverURL))
	if err != nil {
		return nil, fmt.Errorf("gpgauth: pinned server key for %s: %w", keyring.NormalizeDomain(serverURL), err)
	}
	return k, nil
}

// PinServerKey reemplaza la clave pinneada del dominio.
func (s *Session) PinServerKey(ctx context.Context, key *pgp.PublicKey) error {
	return s.Keyring.PinServerKey(ctx, s.ServerKeyID(), key)
}

// Fingerprint resuelve el fingerprint del usuario (uppercase hex).
func (s *Session) Fingerprint(ctx context.Context) (string, error) {
	if s.UserFingerprint != "" {
		return strings.ToUpper(s.UserFingerprint), nil
	}
	pub, err := s.Keyring.UserPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("gpgauth: user key: %w", err)
	}
	return pub.Fingerprint(), nil
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
