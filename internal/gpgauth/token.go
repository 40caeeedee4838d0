package gpgauth

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	tokenMarker = "gpgauthv1.3.0"
	tokenSep    = "|"
	nonceLength = 36
)

// AuthToken es el nonce del protocolo dentro de su envelope:
//
//	gpgauthv1.3.0|36|<uuid>|gpgauthv1.3.0
//
// Se crea uno nuevo por intento de verify/login y nunca se persiste.
type AuthToken struct {
	nonce string
}

// GenerateAuthToken crea un token con un UUID v4 aleatorio.
func GenerateAuthToken() (AuthToken, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return AuthToken{}, newError(KindCryptoFailure, "could not generate nonce", err)
	}
	return AuthToken{nonce: id.String()}, nil
}

// ParseAuthToken parsea raw exactamente: cuatro secciones, marcador de
// apertura y cierre iguales a gpgauthv1.3.0, marcador de largo decimal
// igual al largo real del nonce, y nonce UUID canónico.
func ParseAuthToken(raw string) (AuthToken, error) {
	parts := strings.Split(raw, tokenSep)
	if len(parts) != 4 {
		return AuthToken{}, newError(KindTokenFormatInvalid, "the user authentication token does not have the expected number of sections", nil)
	}
	if parts[0] != tokenMarker || parts[3] != tokenMarker {
		return AuthToken{}, newError(KindTokenFormatInvalid, "the user authentication token version marker is invalid", nil)
	}
	n, ok := parseLength(parts[1])
	if !ok || n != len(parts[2]) {
		return AuthToken{}, newError(KindTokenFormatInvalid, "the user authentication token length marker does not match the nonce", nil)
	}
	if n != nonceLength {
		return AuthToken{}, newError(KindTokenFormatInvalid, "the user authentication token nonce has an unexpected length", nil)
	}
	if _, err := uuid.Parse(parts[2]); err != nil {
		return AuthToken{}, newError(KindTokenFormatInvalid, "the user authentication token nonce is not a valid uuid", err)
	}
	return AuthToken{nonce: parts[2]}, nil
}

// parseLength acepta sólo dígitos (sin signo ni espacios).
func parseLength(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// Nonce devuelve el nonce sin envelope.
func (t AuthToken) Nonce() string { return t.nonce }

// IsZero reporta si el token no fue inicializado.
func (t AuthToken) IsZero() bool { return t.nonce == "" }

// String serializa el token en su envelope.
func (t AuthToken) String() string {
	return tokenMarker + tokenSep + strconv.Itoa(len(t.nonce)) + tokenSep + t.nonce + tokenSep + tokenMarker
}

// Equal compara por nonce; los UUID hex no distinguen mayúsculas.
func (t AuthToken) Equal(other AuthToken) bool {
	return !t.IsZero() && strings.EqualFold(t.nonce, other.nonce)
}
