package gpgauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
)

// State es el estado de un Handshake.
type State int

const (
	StateIdle State = iota
	StateStage1Sent
	StateStage1TokenDecrypted
	StateStage2Sent
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStage1Sent:
		return "stage1_sent"
	case StateStage1TokenDecrypted:
		return "stage1_token_decrypted"
	case StateStage2Sent:
		return "stage2_sent"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrHandshakeState se devuelve cuando una etapa se invoca fuera de orden.
// Un Handshake sirve para un único intento; para reintentar se crea otro.
var ErrHandshakeState = errors.New("gpgauth: handshake step called out of order")

// Handshake ejecuta el login en dos etapas contra el servidor.
type Handshake struct {
	tr *Transport

	mu    sync.Mutex
	state State
}

// NewHandshake crea un handshake en estado Idle.
func NewHandshake(tr *Transport) *Handshake {
	return &Handshake{tr: tr}
}

// State devuelve el estado actual.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handshake) advance(from, to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != from {
		return fmt.Errorf("%w: %s while %s", ErrHandshakeState, to, h.state)
	}
	h.state = to
	return nil
}

func (h *Handshake) set(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// fail deja el handshake en Failed y devuelve err sin modificar.
func (h *Handshake) fail(err error) error {
	h.set(StateFailed)
	return err
}

// Stage1 envía el fingerprint de key, descifra el token que devuelve el
// servidor en X-GPGAuth-User-Auth-Token y lo valida. Devuelve el token
// serializado, que es la prueba de posesión para Stage2.
func (h *Handshake) Stage1(ctx context.Context, key *pgp.PrivateKey) (token string, err error) {
	defer func() { observe(ctx, "stage1", err) }()

	if err := h.advance(StateIdle, StateStage1Sent); err != nil {
		return "", err
	}
	fingerprint := key.Fingerprint()
	logger.From(ctx).Debug("login stage1", logger.Stage(string(StageStage1)), logger.Fingerprint(fingerprint))

	form := url.Values{}
	form.Set(FieldKeyID, fingerprint)
	resp, err := h.tr.do(ctx, http.MethodPost, PathLogin, form)
	if err != nil {
		return "", h.fail(err)
	}
	if !ok(resp) {
		return "", h.fail(OnResponseError(resp))
	}
	drain(resp)

	hs, err := ReadHeaders(resp.Header, StageStage1)
	if err != nil {
		return "", h.fail(err)
	}
	encrypted := DecodeHeaderToken(hs.Get(HeaderUserAuthToken))
	plain, err := pgp.Decrypt(encrypted, key)
	if err != nil {
		return "", h.fail(newError(KindCryptoFailure, "could not decrypt the user authentication token", err))
	}
	parsed, err := ParseAuthToken(plain)
	if err != nil {
		return "", h.fail(err)
	}
	if err := h.advance(StateStage1Sent, StateStage1TokenDecrypted); err != nil {
		return "", h.fail(err)
	}
	return parsed.String(), nil
}

// Stage2 devuelve al servidor el token descifrado en Stage1. Si el
// servidor acepta, la cookie de sesión queda en el jar del transport y se
// devuelve la URL absoluta de X-GPGAuth-Refer.
func (h *Handshake) Stage2(ctx context.Context, userAuthToken string, key *pgp.PrivateKey) (refer string, err error) {
	defer func() { observe(ctx, "stage2", err) }()

	if err := h.advance(StateStage1TokenDecrypted, StateStage2Sent); err != nil {
		return "", err
	}
	logger.From(ctx).Debug("login stage2", logger.Stage(string(StageComplete)), logger.Fingerprint(key.Fingerprint()))

	form := url.Values{}
	form.Set(FieldKeyID, key.Fingerprint())
	form.Set(FieldUserTokenResult, userAuthToken)
	resp, err := h.tr.do(ctx, http.MethodPost, PathLogin, form)
	if err != nil {
		return "", h.fail(err)
	}
	if !ok(resp) {
		return "", h.fail(OnResponseError(resp))
	}
	drain(resp)

	hs, err := ReadHeaders(resp.Header, StageComplete)
	if err != nil {
		return "", h.fail(err)
	}
	refer, err = h.resolveRefer(hs.Get(HeaderRefer))
	if err != nil {
		return "", h.fail(err)
	}
	h.set(StateAuthenticated)
	return refer, nil
}

// Login ejecuta Stage1 y Stage2. No reintenta: el primer error se
// devuelve tal cual.
func (h *Handshake) Login(ctx context.Context, key *pgp.PrivateKey) (refer string, err error) {
	defer func() { observe(ctx, "login", err) }()

	token, err := h.Stage1(ctx, key)
	if err != nil {
		return "", err
	}
	return h.Stage2(ctx, token, key)
}

// resolveRefer resuelve refer contra la URL base y exige mismo origen.
func (h *Handshake) resolveRefer(refer string) (string, error) {
	ref, err := url.Parse(refer)
	if err != nil {
		return "", newError(KindServerReported, "the server returned an invalid redirect url", err)
	}
	abs := h.tr.base.ResolveReference(ref)
	if !strings.EqualFold(abs.Scheme, h.tr.base.Scheme) || !strings.EqualFold(abs.Host, h.tr.base.Host) {
		return "", newError(KindServerReported, "unexpected redirect origin "+abs.Scheme+"://"+abs.Host, nil)
	}
	return abs.String(), nil
}

// DecodeHeaderToken deshace el encoding con el que el servidor manda el
// mensaje armored en un header: url-encoding (tolerante a '%' sueltos) y
// luego backslash-escaping.
func DecodeHeaderToken(v string) string {
	v = escapeLonePercents(v)
	if dec, err := url.QueryUnescape(v); err == nil {
		v = dec
	}
	return stripSlashes(v)
}

func escapeLonePercents(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && !(i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2])) {
			b.WriteString("%25")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func stripSlashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			if i < len(s) {
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EncodeHeaderToken es la inversa de DecodeHeaderToken; la usan los
// servidores (y el servidor de pruebas) para mandar el token en un header.
func EncodeHeaderToken(armored string) string {
	return quoteMeta(url.QueryEscape(armored))
}

func quoteMeta(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(`.\+*?[^]$()`, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
