package gpgauth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/metrics"
	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Endpoints relativos a la URL base del servidor.
const (
	PathVerify          = "/auth/verify.json"
	PathLogin           = "/auth/login.json"
	PathIsAuthenticated = "/auth/is-authenticated.json"
	PathLogout          = "/auth/logout.json"

	apiVersionQuery = "api-version=v2"
)

// Campos de formulario del protocolo.
const (
	FieldKeyID             = "data[gpg_auth][keyid]"
	FieldServerVerifyToken = "data[gpg_auth][server_verify_token]"
	FieldUserTokenResult   = "data[gpg_auth][user_token_result]"
)

const (
	csrfCookie = "csrfToken"
	csrfHeader = "X-CSRF-Token"

	maxBodyBytes   = 1 << 20
	defaultTimeout = 20 * time.Second
)

// Transport es el cliente HTTP hacia un servidor gpgauth. Mantiene un
// cookie jar propio: la cookie de sesión que deja stage2 viaja en los
// requests siguientes y el csrfToken se reenvía como header.
type Transport struct {
	base   *url.URL
	client *http.Client
	jar    *recordingJar
}

// TransportOption configura NewTransport.
type TransportOption func(*Transport)

// WithHTTPClient usa c en lugar del cliente por defecto. Si c no trae
// cookie jar se le asigna uno. Un c nil se ignora.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		if c == nil {
			return
		}
		cp := *c
		t.client = &cp
	}
}

// WithTimeout fija el timeout total de cada request.
func WithTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithInsecureSkipVerify desactiva la verificación TLS (solo desarrollo).
func WithInsecureSkipVerify() TransportOption {
	return func(t *Transport) {
		t.client.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
}

// NewTransport crea el transport para serverURL.
func NewTransport(serverURL string, opts ...TransportOption) (*Transport, error) {
	base, err := parseServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	t := &Transport{base: base, client: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(t)
	}
	if t.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		t.client.Jar = jar
	}
	t.jar = newRecordingJar(t.client.Jar)
	t.client.Jar = t.jar
	return t, nil
}

// WithBaseURL devuelve un Transport hacia otro servidor que comparte el
// cliente HTTP (y por lo tanto el cookie jar).
func (t *Transport) WithBaseURL(serverURL string) (*Transport, error) {
	base, err := parseServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Transport{base: base, client: t.client, jar: t.jar}, nil
}

// BaseURL devuelve una copia de la URL base.
func (t *Transport) BaseURL() *url.URL {
	u := *t.base
	return &u
}

// Endpoint arma la URL absoluta de path con el query de versión de API.
func (t *Transport) Endpoint(path string) string {
	u := *t.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = apiVersionQuery
	return u.String()
}

// Cookies devuelve las cookies vigentes del servidor con los atributos
// con que llegaron (Path, Domain, Secure, HttpOnly, Expires), listas
// para guardarse y pasarse a SetCookies en otro proceso.
func (t *Transport) Cookies() []*http.Cookie {
	return t.jar.persistent(t.base)
}

// SetCookies carga cookies guardadas de otro proceso para la URL base.
func (t *Transport) SetCookies(cs []*http.Cookie) {
	t.jar.SetCookies(t.base, cs)
}

// recordingJar envuelve un http.CookieJar y guarda los atributos de cada
// cookie, que CookieJar.Cookies no devuelve.
type recordingJar struct {
	http.CookieJar

	mu   sync.Mutex
	seen map[string]*http.Cookie // name|domain|path
}

func newRecordingJar(j http.CookieJar) *recordingJar {
	return &recordingJar{CookieJar: j, seen: map[string]*http.Cookie{}}
}

func (j *recordingJar) SetCookies(u *url.URL, cs []*http.Cookie) {
	j.CookieJar.SetCookies(u, cs)

	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cs {
		cp := http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   strings.TrimPrefix(strings.ToLower(c.Domain), "."),
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: c.SameSite,
		}
		if cp.Path == "" || cp.Path[0] != '/' {
			cp.Path = defaultCookiePath(u.Path)
		}
		if c.MaxAge > 0 {
			cp.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		key := cp.Name + "|" + cp.Domain + "|" + cp.Path
		if c.MaxAge < 0 || (!cp.Expires.IsZero() && !cp.Expires.After(now)) {
			delete(j.seen, key)
			continue
		}
		j.seen[key] = &cp
	}
}

// persistent devuelve las cookies registradas que el jar todavía mandaría
// a u (o a un path bajo u).
func (j *recordingJar) persistent(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	keys := make([]string, 0, len(j.seen))
	for k := range j.seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	candidates := make([]http.Cookie, 0, len(keys))
	for _, k := range keys {
		candidates = append(candidates, *j.seen[k])
	}
	j.mu.Unlock()

	var out []*http.Cookie
	for i := range candidates {
		c := candidates[i]
		at := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: c.Path}
		for _, live := range j.CookieJar.Cookies(at) {
			if live.Name == c.Name && live.Value == c.Value {
				out = append(out, &c)
				break
			}
		}
	}
	return out
}

// defaultCookiePath es el path por defecto de RFC 6265 5.1.4.
func defaultCookiePath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func (t *Transport) csrfToken() string {
	for _, c := range t.client.Jar.Cookies(t.base) {
		if c.Name == csrfCookie {
			return c.Value
		}
	}
	return ""
}

// do ejecuta el request. form != nil → POST urlencoded. Un fallo de red
// se devuelve como KindTransport; el status HTTP lo evalúa el caller.
func (t *Transport) do(ctx context.Context, method, path string, form url.Values) (*http.Response, error) {
	endpoint := t.Endpoint(path)

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, newError(KindTransport, "could not build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if tok := t.csrfToken(); tok != "" {
		req.Header.Set(csrfHeader, tok)
	}

	log := logger.From(ctx).With(logger.Component("transport"))
	start := time.Now()
	resp, err := t.client.Do(req)
	elapsed := time.Since(start)
	metrics.RoundTrip.WithLabelValues(path).Observe(float64(elapsed.Milliseconds()))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Debug("request failed", zap.String("method", method), logger.URL(endpoint), logger.Err(err))
		return nil, &Error{Kind: KindTransport, Message: "could not reach " + t.base.Host, Err: err}
	}
	log.Debug("request done",
		zap.String("method", method),
		logger.URL(endpoint),
		logger.Status(resp.StatusCode),
		logger.Duration(elapsed),
	)
	return resp, nil
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// drain descarta el body para reusar la conexión.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}

func readBody(resp *http.Response) []byte {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return b
}

// errorBody cubre los dos formatos de error que devuelve el servidor:
// {"header":{"message":...}} y {"message":...}.
type errorBody struct {
	Header struct {
		Message string `json:"message"`
		URL     string `json:"url"`
	} `json:"header"`
	Message string `json:"message"`
}

func (b errorBody) message() string {
	if b.Header.Message != "" {
		return b.Header.Message
	}
	return b.Message
}

// OnResponseError convierte una respuesta no-OK en *Error. Si el body es
// JSON con mensaje, el mensaje se devuelve tal cual como error reportado
// por el servidor; si no, es un error de transporte con el status.
// Consume y cierra el body.
func OnResponseError(resp *http.Response) *Error {
	return classify(resp.StatusCode, readBody(resp))
}

func classify(status int, body []byte) *Error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.message() != "" {
		return &Error{Kind: KindServerReported, Message: eb.message(), HTTPStatus: status}
	}
	return &Error{
		Kind:       KindTransport,
		Message:    fmt.Sprintf("unexpected response status %d %s", status, http.StatusText(status)),
		HTTPStatus: status,
	}
}

// Logout cierra la sesión del servidor. Las cookies del jar para la URL
// base se invalidan según lo que responda el servidor.
func (t *Transport) Logout(ctx context.Context) (err error) {
	defer func() { observe(ctx, "logout", err) }()

	resp, err := t.do(ctx, http.MethodGet, PathLogout, nil)
	if err != nil {
		return err
	}
	if !ok(resp) {
		return OnResponseError(resp)
	}
	drain(resp)
	return nil
}

// observe registra métricas y loguea el resultado de op.
func observe(ctx context.Context, op string, err error) {
	log := logger.From(ctx).With(logger.Op(op))
	if err == nil {
		metrics.Observe(op, "")
		log.Debug("operation ok")
		return
	}
	kind := string(KindOf(err))
	if kind == "" {
		kind = "internal"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = "canceled"
		}
	}
	metrics.Observe(op, kind)
	log.Warn("operation failed", logger.Kind(kind), logger.Err(err))
}
