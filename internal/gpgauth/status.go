package gpgauth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dropDatabas3/gpgauth/internal/metrics"
)

// mfaErrorPath es el destino al que el servidor redirige cuando la sesión
// existe pero falta el segundo factor.
const mfaErrorPath = "/mfa/verify/error.json"

// RemoteStatus es el resultado del probe de sesión.
type RemoteStatus int

const (
	Unauthenticated RemoteStatus = iota
	Authenticated
	AuthenticatedNeedsMfa
)

func (s RemoteStatus) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case AuthenticatedNeedsMfa:
		return "mfa_required"
	default:
		return "unauthenticated"
	}
}

// Prober consulta el estado de sesión en el servidor.
type Prober struct {
	tr *Transport
}

// NewProber crea un Prober sobre tr; comparte sus cookies.
func NewProber(tr *Transport) *Prober {
	return &Prober{tr: tr}
}

// ProbeStatus consulta is-authenticated:
//
//	2xx                                  → Authenticated
//	401                                  → Unauthenticated
//	403 redirigido a /mfa/verify/error.json → AuthenticatedNeedsMfa
//	otro                                 → error (OnResponseError)
func (p *Prober) ProbeStatus(ctx context.Context) (status RemoteStatus, err error) {
	defer func() {
		observe(ctx, "probe", err)
		if err == nil {
			metrics.StatusProbes.WithLabelValues(status.String()).Inc()
		}
	}()

	resp, err := p.tr.do(ctx, http.MethodGet, PathIsAuthenticated, nil)
	if err != nil {
		return Unauthenticated, err
	}
	switch {
	case ok(resp):
		drain(resp)
		return Authenticated, nil
	case resp.StatusCode == http.StatusUnauthorized:
		drain(resp)
		return Unauthenticated, nil
	case resp.StatusCode == http.StatusForbidden:
		body := readBody(resp)
		if isMfaRedirect(resp, body) {
			return AuthenticatedNeedsMfa, nil
		}
		return Unauthenticated, classify(resp.StatusCode, body)
	}
	return Unauthenticated, OnResponseError(resp)
}

func isMfaRedirect(resp *http.Response, body []byte) bool {
	if resp.Request != nil && resp.Request.URL != nil && strings.HasSuffix(resp.Request.URL.Path, mfaErrorPath) {
		return true
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if u := eb.Header.URL; u != "" {
			if i := strings.IndexAny(u, "?#"); i >= 0 {
				u = u[:i]
			}
			return strings.HasSuffix(u, mfaErrorPath)
		}
	}
	return false
}

// IsAuthenticated es la forma booleana del probe. La variante MFA no se
// pliega a un booleano: se devuelve ErrMfaRequired.
func (p *Prober) IsAuthenticated(ctx context.Context) (bool, error) {
	st, err := p.ProbeStatus(ctx)
	if err != nil {
		return false, err
	}
	switch st {
	case Authenticated:
		return true, nil
	case AuthenticatedNeedsMfa:
		return false, ErrMfaRequired
	}
	return false, nil
}
