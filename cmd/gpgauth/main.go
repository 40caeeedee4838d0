package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/authstatus"
	"github.com/dropDatabas3/gpgauth/internal/cache"
	"github.com/dropDatabas3/gpgauth/internal/config"
	"github.com/dropDatabas3/gpgauth/internal/gpgauth"
	"github.com/dropDatabas3/gpgauth/internal/keyring"
	"github.com/dropDatabas3/gpgauth/internal/metrics"
	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/dropDatabas3/gpgauth/internal/util"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cookiesKey es el slot donde se guardan las cookies de sesión entre
// invocaciones de la CLI.
const cookiesKey = "session_cookies"

type flags struct {
	configPath string
	server     string
	keysDir    string
	out        string
	logLevel   string
	metrics    bool
}

// app agrupa lo que comparten los comandos; se arma en PersistentPreRunE.
type app struct {
	cfg      *config.Config
	out      *printer
	kr       *keyring.FileKeyring
	sess     *gpgauth.Session
	tr       *gpgauth.Transport
	store    cache.Client
	status   *authstatus.Cache
	registry *prometheus.Registry
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	f := &flags{}
	a := &app{}

	root := &cobra.Command{
		Use:           "gpgauth",
		Short:         "Cliente GPGAuth: verificación del servidor, login y estado de sesión",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context(), f, stdout)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd.Context(), f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", os.Getenv("GPGAUTH_CONFIG"), "Archivo YAML de configuración (env GPGAUTH_CONFIG)")
	pf.StringVar(&f.server, "server", "", "URL base del servidor (pisa server.url)")
	pf.StringVar(&f.keysDir, "keys-dir", "", "Directorio del keyring (pisa keys.dir)")
	pf.StringVar(&f.out, "out", "text", "Formato de salida: json|text")
	pf.StringVar(&f.logLevel, "log-level", "", "Nivel de log (pisa log.level)")
	pf.BoolVar(&f.metrics, "metrics", false, "Imprimir métricas al terminar")

	root.AddCommand(
		verifyCmd(a),
		loginCmd(a),
		statusCmd(a),
		serverKeyCmd(a),
		logoutCmd(a),
		watchCmd(a),
		keysCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context, f *flags, stdout io.Writer) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.server != "" {
		cfg.Server.URL = f.server
	}
	if f.keysDir != "" {
		cfg.Keys.Dir = f.keysDir
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.out != "json" && f.out != "text" {
		return fmt.Errorf("--out debe ser json o text")
	}
	a.cfg = cfg
	a.out = &printer{w: stdout, format: f.out}

	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level})

	a.registry = prometheus.NewRegistry()
	if err := metrics.Register(a.registry); err != nil {
		return err
	}

	if a.kr, err = keyring.NewFileKeyring(cfg.Keys.Dir); err != nil {
		return err
	}

	host, port := cfg.RedisHostPort()
	a.store, err = cache.New(ctx, cache.Config{
		Driver:   cfg.Cache.Kind,
		Host:     host,
		Port:     port,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Prefix,
		Path:     cfg.Cache.File.Path,
		DSN:      cfg.Cache.Postgres.DSN,
	})
	if err != nil {
		return err
	}
	logger.L().Debug("cache opened",
		zap.String("kind", cfg.Cache.Kind),
		zap.String("dsn", util.MaskDSN(cfg.Cache.Postgres.DSN)),
	)

	// comandos de keys no necesitan servidor
	if cfg.Server.URL == "" {
		return nil
	}
	if a.sess, err = gpgauth.NewSession(cfg.Server.URL, a.kr); err != nil {
		return err
	}
	a.sess.UserFingerprint = cfg.Keys.UserFingerprint

	opts := []gpgauth.TransportOption{gpgauth.WithTimeout(cfg.ServerTimeout())}
	if cfg.Server.InsecureSkipVerify {
		opts = append(opts, gpgauth.WithInsecureSkipVerify())
	}
	if a.tr, err = gpgauth.NewTransport(cfg.Server.URL, opts...); err != nil {
		return err
	}
	a.restoreCookies(ctx)
	a.status = authstatus.New(a.store, gpgauth.NewProber(a.tr))

	logger.L().Debug("cli ready",
		logger.Domain(a.sess.Domain()),
		zap.String("keys_dir", cfg.Keys.Dir),
	)
	return nil
}

func (a *app) teardown(ctx context.Context, f *flags) error {
	defer func() { _ = logger.Sync() }()
	if a.tr != nil {
		a.saveCookies(ctx)
	}
	if f.metrics {
		if err := a.out.metrics(a.registry); err != nil {
			return err
		}
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// requireServer se usa en los comandos que hablan con el servidor.
func (a *app) requireServer() error {
	if a.tr == nil {
		return fmt.Errorf("falta la URL del servidor (flag --server, server.url o GPGAUTH_SERVER_URL)")
	}
	return nil
}

type savedCookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Path     string     `json:"path,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HttpOnly bool       `json:"http_only,omitempty"`
}

func toSavedCookie(c *http.Cookie) savedCookie {
	sc := savedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if !c.Expires.IsZero() {
		exp := c.Expires.UTC()
		sc.Expires = &exp
	}
	return sc
}

func (sc savedCookie) cookie() *http.Cookie {
	c := &http.Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Path:     sc.Path,
		Domain:   sc.Domain,
		Secure:   sc.Secure,
		HttpOnly: sc.HttpOnly,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if sc.Expires != nil {
		c.Expires = *sc.Expires
	}
	return c
}

func (a *app) restoreCookies(ctx context.Context) {
	raw, err := a.store.Get(ctx, cookiesKey+":"+a.sess.ServerKeyID().String())
	if err != nil {
		return
	}
	var saved []savedCookie
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		return
	}
	cs := make([]*http.Cookie, 0, len(saved))
	for _, c := range saved {
		cs = append(cs, c.cookie())
	}
	a.tr.SetCookies(cs)
}

func (a *app) saveCookies(ctx context.Context) {
	key := cookiesKey + ":" + a.sess.ServerKeyID().String()
	cs := a.tr.Cookies()
	if len(cs) == 0 {
		_ = a.store.Delete(ctx, key)
		return
	}
	saved := make([]savedCookie, 0, len(cs))
	for _, c := range cs {
		saved = append(saved, toSavedCookie(c))
	}
	b, _ := json.Marshal(saved)
	if err := a.store.Set(ctx, key, string(b), 0); err != nil {
		logger.L().Warn("could not persist session cookies", logger.Err(err))
	}
}

// userKey desbloquea la clave privada del usuario con la passphrase del
// entorno (keys.passphrase_env).
func (a *app) userKey(ctx context.Context) (*pgp.PrivateKey, error) {
	var pass []byte
	if v := os.Getenv(a.cfg.Keys.PassphraseEnv); v != "" {
		pass = []byte(v)
	}
	return a.kr.UserPrivateKey(ctx, pass)
}
