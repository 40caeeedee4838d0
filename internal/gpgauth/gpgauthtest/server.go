// Package gpgauthtest levanta un servidor gpgauth en memoria para tests:
// verify, login en dos etapas, is-authenticated (con MFA) y logout, sobre
// chi + httptest.
package gpgauthtest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dropDatabas3/gpgauth/internal/gpgauth"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/go-chi/chi/v5"
)

const sessionCookie = "passbolt_session"

// Failure es una respuesta de error forzada.
type Failure struct {
	Status int
	Body   string
}

// Server es el servidor falso. Los setters son seguros en concurrencia.
type Server struct {
	*httptest.Server

	ServerKey *pgp.PrivateKey

	mu          sync.Mutex
	users       map[string]*pgp.PublicKey // fingerprint → clave
	pending     map[string]string         // fingerprint → token stage1
	sessions    map[string]string         // session id → fingerprint
	mfaRequired bool
	verifyEcho  func(decrypted string) string
	stage1Token func(user *pgp.PublicKey, token string) string
	stage1Fail  *Failure
	refer       string
	calls       map[string]int
	csrfSeen    []string
}

// New arranca el servidor y lo cierra al terminar el test.
func New(t testing.TB, serverKey *pgp.PrivateKey) *Server {
	t.Helper()
	s := &Server{
		ServerKey: serverKey,
		users:     map[string]*pgp.PublicKey{},
		pending:   map[string]string{},
		sessions:  map[string]string{},
		calls:     map[string]int{},
		refer:     "/",
	}
	s.Server = httptest.NewServer(s.Router())
	t.Cleanup(s.Close)
	return s
}

// Router expone las rutas, por si un test quiere montarlas en otro server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.csrf)
	r.Get(gpgauth.PathVerify, s.getServerKey)
	r.Post(gpgauth.PathVerify, s.postVerify)
	r.Post(gpgauth.PathLogin, s.postLogin)
	r.Get(gpgauth.PathIsAuthenticated, s.isAuthenticated)
	r.Get("/mfa/verify/error.json", s.mfaError)
	r.Get(gpgauth.PathLogout, s.logout)
	return r
}

// AddUser registra la clave pública de un usuario.
func (s *Server) AddUser(pub *pgp.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[pub.Fingerprint()] = pub
}

// SetServerKey rota la clave del servidor.
func (s *Server) SetServerKey(k *pgp.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ServerKey = k
}

// SetVerifyResponse reemplaza el eco del verify (p.ej. para simular un
// servidor que no prueba su identidad).
func (s *Server) SetVerifyResponse(fn func(decrypted string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyEcho = fn
}

// SetStage1Token reemplaza el mensaje armored que stage1 manda en
// X-GPGAuth-User-Auth-Token (p.ej. cifrado a otra clave, o un texto que no
// es un token). Si fn devuelve "", stage1 responde 200 sin el header.
func (s *Server) SetStage1Token(fn func(user *pgp.PublicKey, token string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage1Token = fn
}

// FailStage1 hace que stage1 responda f.
func (s *Server) FailStage1(f *Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage1Fail = f
}

// RequireMfa activa la redirección MFA para sesiones válidas.
func (s *Server) RequireMfa(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mfaRequired = v
}

// SetRefer cambia el X-GPGAuth-Refer de stage2.
func (s *Server) SetRefer(refer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refer = refer
}

// Calls devuelve cuántas veces se atendió name
// (verify, server_key, stage1, stage2, is_authenticated, logout).
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// CSRFTokens devuelve los X-CSRF-Token recibidos en POSTs.
func (s *Server) CSRFTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.csrfSeen...)
}

func (s *Server) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Server) csrf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("csrfToken"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "csrfToken", Value: randomHex(16), Path: "/"})
		}
		if r.Method == http.MethodPost {
			s.mu.Lock()
			s.csrfSeen = append(s.csrfSeen, r.Header.Get("X-CSRF-Token"))
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"header": map[string]any{"status": "error", "message": msg},
		"body":   nil,
	})
}

func setProtocolHeaders(w http.ResponseWriter, authenticated bool, progress string) {
	w.Header().Set("X-GPGAuth-Version", gpgauth.ProtocolVersion)
	if authenticated {
		w.Header().Set("X-GPGAuth-Authenticated", "true")
	} else {
		w.Header().Set("X-GPGAuth-Authenticated", "false")
	}
	w.Header().Set("X-GPGAuth-Progress", progress)
}

func (s *Server) getServerKey(w http.ResponseWriter, r *http.Request) {
	s.count("server_key")
	s.mu.Lock()
	key := s.ServerKey.Public()
	s.mu.Unlock()
	armored, err := key.Armor()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"header": map[string]any{"status": "success"},
		"body":   map[string]any{"fingerprint": key.Fingerprint(), "keydata": armored},
	})
}

func (s *Server) user(fingerprint string) (*pgp.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.users[strings.ToUpper(fingerprint)]
	return pub, ok
}

func (s *Server) postVerify(w http.ResponseWriter, r *http.Request) {
	s.count("verify")
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid form")
		return
	}
	if _, ok := s.user(r.PostForm.Get(gpgauth.FieldKeyID)); !ok {
		writeMessage(w, http.StatusNotFound, "There is no user associated with this key.")
		return
	}
	s.mu.Lock()
	key, echo := s.ServerKey, s.verifyEcho
	s.mu.Unlock()

	plain, err := pgp.Decrypt(r.PostForm.Get(gpgauth.FieldServerVerifyToken), key)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Decryption failed")
		return
	}
	if _, err := gpgauth.ParseAuthToken(plain); err != nil {
		writeMessage(w, http.StatusBadRequest, "The server verify token is not valid.")
		return
	}
	if echo != nil {
		plain = echo(plain)
	}
	setProtocolHeaders(w, false, "stage0")
	w.Header().Set("X-GPGAuth-Verify-Response", plain)
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}})
}

func (s *Server) postLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid form")
		return
	}
	if r.PostForm.Get(gpgauth.FieldUserTokenResult) == "" {
		s.stage1(w, r)
		return
	}
	s.stage2(w, r)
}

func (s *Server) stage1(w http.ResponseWriter, r *http.Request) {
	s.count("stage1")
	s.mu.Lock()
	fail, override := s.stage1Fail, s.stage1Token
	s.mu.Unlock()
	if fail != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fail.Status)
		_, _ = w.Write([]byte(fail.Body))
		return
	}

	fingerprint := strings.ToUpper(r.PostForm.Get(gpgauth.FieldKeyID))
	pub, ok := s.user(fingerprint)
	if !ok {
		writeMessage(w, http.StatusNotFound, "There is no user associated with this key.")
		return
	}
	token, err := gpgauth.GenerateAuthToken()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	var encrypted string
	if override != nil {
		encrypted = override(pub, token.String())
	} else if encrypted, err = pgp.Encrypt(token.String(), pub); err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	s.pending[fingerprint] = token.String()
	s.mu.Unlock()

	setProtocolHeaders(w, false, "stage1")
	if encrypted != "" {
		w.Header().Set("X-GPGAuth-User-Auth-Token", gpgauth.EncodeHeaderToken(encrypted))
	}
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}})
}

func (s *Server) stage2(w http.ResponseWriter, r *http.Request) {
	s.count("stage2")
	fingerprint := strings.ToUpper(r.PostForm.Get(gpgauth.FieldKeyID))
	result := r.PostForm.Get(gpgauth.FieldUserTokenResult)

	s.mu.Lock()
	want, ok := s.pending[fingerprint]
	delete(s.pending, fingerprint)
	refer := s.refer
	s.mu.Unlock()

	if !ok || want != result {
		writeMessage(w, http.StatusBadRequest, "The user token result could not be verified.")
		return
	}
	sid := randomHex(16)
	s.mu.Lock()
	s.sessions[sid] = fingerprint
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sid, Path: "/", HttpOnly: true})
	setProtocolHeaders(w, true, "complete")
	w.Header().Set("X-GPGAuth-Refer", refer)
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}})
}

func (s *Server) session(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[c.Value]
	return c.Value, ok
}

func (s *Server) isAuthenticated(w http.ResponseWriter, r *http.Request) {
	s.count("is_authenticated")
	if _, ok := s.session(r); !ok {
		writeMessage(w, http.StatusUnauthorized, "You need to login to access this location.")
		return
	}
	s.mu.Lock()
	mfa := s.mfaRequired
	s.mu.Unlock()
	if mfa {
		http.Redirect(w, r, "/mfa/verify/error.json", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}, "body": "success"})
}

func (s *Server) mfaError(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"header": map[string]any{
			"status":  "error",
			"message": "MFA authentication is required.",
			"url":     "/mfa/verify/error.json",
		},
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.count("logout")
	if sid, ok := s.session(r); ok {
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}})
}
