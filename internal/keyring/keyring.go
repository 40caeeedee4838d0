// Package keyring es el key-store del cliente: el par de claves del usuario
// y las claves públicas de servidor "pinneadas" por dominio.
//
// El core de gpgauth sólo lee de acá; PinServerKey lo usa la CLI (o el
// flujo de setup) para fijar la clave de confianza inicial.
package keyring

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/google/uuid"
)

var (
	ErrKeyNotFound = errors.New("keyring: key not found")
)

// Keyring define las operaciones de lectura/escritura de claves.
type Keyring interface {
	// UserPublicKey devuelve la clave pública del usuario actual.
	UserPublicKey(ctx context.Context) (*pgp.PublicKey, error)

	// UserPrivateKey devuelve el par del usuario, desbloqueado con passphrase.
	UserPrivateKey(ctx context.Context, passphrase []byte) (*pgp.PrivateKey, error)

	// ServerKey devuelve la clave pinneada para el id de dominio.
	// Retorna ErrKeyNotFound si no hay ninguna.
	ServerKey(ctx context.Context, id uuid.UUID) (*pgp.PublicKey, error)

	// PinServerKey reemplaza la clave pinneada para el id de dominio.
	PinServerKey(ctx context.Context, id uuid.UUID, key *pgp.PublicKey) error
}

// DomainID deriva el identificador determinístico con el que se indexa la
// clave pinneada de un dominio. Esquema y host se pasan a minúsculas y se
// descarta la barra final, así "https://Pass.Example.com/" y
// "https://pass.example.com" comparten id.
func DomainID(domain string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(NormalizeDomain(domain)))
}

// NormalizeDomain devuelve scheme://host[:port][/path] sin barra final.
func NormalizeDomain(domain string) string {
	d := strings.TrimSpace(domain)
	u, err := url.Parse(d)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(d), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/")
}
