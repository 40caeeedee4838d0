package gpgauth

import (
	"errors"
	"fmt"
)

// Kind clasifica los errores del protocolo.
type Kind string

const (
	// KindTransport: respuesta no-OK sin body estructurado, o fallo de red.
	KindTransport Kind = "transport_error"
	// KindServerReported: respuesta no-OK con mensaje del servidor, o header X-GPGAuth-Error.
	KindServerReported Kind = "server_reported_error"
	// KindProtocolHeaderMissing: falta un header requerido para la etapa.
	KindProtocolHeaderMissing Kind = "protocol_header_missing"
	// KindCryptoFailure: falló encrypt/decrypt o el parseo de una clave.
	KindCryptoFailure Kind = "crypto_failure"
	// KindTokenFormatInvalid: el texto no respeta el envelope del AuthToken.
	KindTokenFormatInvalid Kind = "token_format_invalid"
	// KindIdentityMismatch: el servidor devolvió otro valor que el nonce enviado.
	KindIdentityMismatch Kind = "identity_mismatch"
	// KindMfaRequired: la sesión existe pero falta el segundo factor.
	KindMfaRequired Kind = "mfa_required"

	// Diagnósticos que produce Verifier.Diagnose a pedido del caller.
	KindServerKeyChanged Kind = "server_key_changed"
	KindServerKeyExpired Kind = "server_key_expired"
)

// Error es el error estándar del protocolo.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int   // 0 si no hubo respuesta HTTP
	Err        error // causa original, si la hay
}

// Error implementa la interfaz error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap permite acceder al error original
func (e *Error) Unwrap() error {
	return e.Err
}

// Is compara por Kind, así errors.Is(err, ErrMfaRequired) funciona con
// cualquier *Error de ese kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// ErrMfaRequired es el sentinel del probe booleano IsAuthenticated.
var ErrMfaRequired = &Error{Kind: KindMfaRequired, Message: "MFA authentication is required"}

// KindOf devuelve el Kind de err, o "" si no es un *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reporta si err (o alguno de los que envuelve) es del kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
