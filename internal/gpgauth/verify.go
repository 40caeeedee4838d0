package gpgauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
)

// Verifier prueba la identidad del servidor y vigila su clave pinneada.
type Verifier struct {
	session *Session
	tr      *Transport
}

// NewVerifier crea un Verifier para la sesión y el transport dados.
func NewVerifier(s *Session, tr *Transport) *Verifier {
	return &Verifier{session: s, tr: tr}
}

// VerifyOptions permite sobreescribir valores de la sesión para una sola
// verificación (p.ej. durante el setup, antes de pinnear nada). Con
// ServerURL y sin ServerArmoredKey se usa la clave pinneada de ese
// servidor, no la de la sesión.
type VerifyOptions struct {
	ServerURL        string
	ServerArmoredKey string
	UserFingerprint  string
}

// ServerKey es la clave que anuncia el servidor en GET verify.
type ServerKey struct {
	Fingerprint string
	Key         *pgp.PublicKey
}

type serverKeyResponse struct {
	Body struct {
		Fingerprint string `json:"fingerprint"`
		Keydata     string `json:"keydata"`
	} `json:"body"`
}

// Verify cifra un AuthToken nuevo con la clave del servidor, lo envía y
// exige que el servidor devuelva exactamente el token serializado en
// X-GPGAuth-Verify-Response. No reintenta.
func (v *Verifier) Verify(ctx context.Context, opts VerifyOptions) (err error) {
	defer func() { observe(ctx, "verify", err) }()

	tr := v.tr
	if opts.ServerURL != "" {
		if tr, err = v.tr.WithBaseURL(opts.ServerURL); err != nil {
			return err
		}
	}

	var serverKey *pgp.PublicKey
	if opts.ServerArmoredKey != "" {
		if serverKey, err = pgp.ParsePublicKey(opts.ServerArmoredKey); err != nil {
			return newError(KindCryptoFailure, "could not read the server key", err)
		}
	} else if opts.ServerURL != "" {
		if serverKey, err = v.session.PinnedServerKeyFor(ctx, opts.ServerURL); err != nil {
			return err
		}
	} else if serverKey, err = v.session.PinnedServerKey(ctx); err != nil {
		return err
	}

	fingerprint := strings.ToUpper(opts.UserFingerprint)
	if fingerprint == "" {
		if fingerprint, err = v.session.Fingerprint(ctx); err != nil {
			return err
		}
	}

	token, err := GenerateAuthToken()
	if err != nil {
		return err
	}
	encrypted, err := pgp.Encrypt(token.String(), serverKey)
	if err != nil {
		return newError(KindCryptoFailure, "could not encrypt the verify token for the server", err)
	}

	logger.From(ctx).Debug("verifying server identity",
		logger.Stage(string(StageVerify)),
		logger.Fingerprint(fingerprint),
		logger.Domain(tr.base.Host),
	)

	form := url.Values{}
	form.Set(FieldKeyID, fingerprint)
	form.Set(FieldServerVerifyToken, encrypted)
	resp, err := tr.do(ctx, http.MethodPost, PathVerify, form)
	if err != nil {
		return err
	}
	if !ok(resp) {
		return OnResponseError(resp)
	}
	drain(resp)

	hs, err := ReadHeaders(resp.Header, StageVerify)
	if err != nil {
		return err
	}
	if hs.Get(HeaderVerifyResponse) != token.String() {
		return newError(KindIdentityMismatch, "the server was unable to prove it can use the advertised OpenPGP key", nil)
	}
	return nil
}

// FetchServerKey obtiene la clave que el servidor anuncia hoy.
func (v *Verifier) FetchServerKey(ctx context.Context) (sk *ServerKey, err error) {
	defer func() { observe(ctx, "server_key", err) }()

	resp, err := v.tr.do(ctx, http.MethodGet, PathVerify, nil)
	if err != nil {
		return nil, err
	}
	if !ok(resp) {
		return nil, OnResponseError(resp)
	}
	var body serverKeyResponse
	if err := json.Unmarshal(readBody(resp), &body); err != nil {
		return nil, newError(KindTransport, "could not decode the server key response", err)
	}
	if body.Body.Keydata == "" {
		return nil, newError(KindTransport, "the server key response has no key data", nil)
	}
	key, err := pgp.ParsePublicKey(body.Body.Keydata)
	if err != nil {
		return nil, newError(KindCryptoFailure, "could not read the server key", err)
	}
	return &ServerKey{Fingerprint: key.Fingerprint(), Key: key}, nil
}

// ServerKeyChanged reporta si la clave publicada difiere de la pinneada.
// La comparación es por fingerprint, no por texto armored. Se consulta al
// servidor en cada llamada.
func (v *Verifier) ServerKeyChanged(ctx context.Context) (bool, error) {
	remote, err := v.FetchServerKey(ctx)
	if err != nil {
		return false, err
	}
	pinned, err := v.session.PinnedServerKey(ctx)
	if err != nil {
		return false, err
	}
	changed := !pinned.Equal(remote.Key)
	if changed {
		logger.From(ctx).Info("server key differs from pinned key",
			logger.Domain(v.session.Domain()),
			logger.Fingerprint(remote.Fingerprint),
		)
	}
	return changed, nil
}

// IsServerKeyExpired reporta si la clave pinneada ya expiró según el reloj
// de la sesión. Sin fecha de expiración nunca expira.
func (v *Verifier) IsServerKeyExpired(ctx context.Context) (bool, error) {
	pinned, err := v.session.PinnedServerKey(ctx)
	if err != nil {
		return false, err
	}
	return pinned.Info().IsExpiredAt(v.session.now()), nil
}

// Diagnose enriquece un error de Verify: si la clave del servidor cambió o
// la pinneada expiró devuelve ese diagnóstico (envolviendo el original);
// si no, o si el diagnóstico mismo falla, devuelve verifyErr sin tocar.
func (v *Verifier) Diagnose(ctx context.Context, verifyErr error) error {
	switch KindOf(verifyErr) {
	case KindIdentityMismatch, KindCryptoFailure, KindServerReported:
	default:
		return verifyErr
	}
	if changed, err := v.ServerKeyChanged(ctx); err == nil && changed {
		return &Error{Kind: KindServerKeyChanged, Message: "the server key has changed since it was pinned", Err: verifyErr}
	}
	if expired, err := v.IsServerKeyExpired(ctx); err == nil && expired {
		return &Error{Kind: KindServerKeyExpired, Message: "the pinned server key has expired", Err: verifyErr}
	}
	return verifyErr
}
