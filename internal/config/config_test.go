package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gpgauth.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if c.Cache.Kind != "file" || c.Log.Level != "info" || c.Keys.PassphraseEnv != "GPGAUTH_PASSPHRASE" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.ServerTimeout() != 20*time.Second || c.PollInterval() != 30*time.Second {
		t.Fatalf("unexpected durations: %s %s", c.ServerTimeout(), c.PollInterval())
	}
	if c.Log.Env != c.App.Env {
		t.Fatalf("log.env should follow app env, got %q vs %q", c.Log.Env, c.App.Env)
	}
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	p := writeYAML(t, `
app:
  app_env: prod
server:
  url: https://pass.example.com
  timeout: 5s
cache:
  kind: redis
  redis:
    addr: cache.internal:6380
    db: 2
status:
  poll_interval: 1m
`)
	t.Setenv("GPGAUTH_SERVER_URL", "https://other.example.com")
	t.Setenv("GPGAUTH_REDIS_DB", "4")
	t.Setenv("GPGAUTH_USER_FINGERPRINT", "abcdef")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if c.Server.URL != "https://other.example.com" {
		t.Fatalf("env should win over yaml, got %q", c.Server.URL)
	}
	if c.Cache.Redis.DB != 4 {
		t.Fatalf("expected redis db 4, got %d", c.Cache.Redis.DB)
	}
	if c.Keys.UserFingerprint != "ABCDEF" {
		t.Fatalf("fingerprint should be uppercased, got %q", c.Keys.UserFingerprint)
	}
	if host, port := c.RedisHostPort(); host != "cache.internal" || port != 6380 {
		t.Fatalf("unexpected redis host/port %s:%d", host, port)
	}
	if c.PollInterval() != time.Minute || c.Log.Env != "prod" {
		t.Fatalf("unexpected values: %s %s", c.PollInterval(), c.Log.Env)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad timeout":    "server:\n  timeout: soon\n",
		"bad url":        "server:\n  url: pass.example.com\n",
		"unknown cache":  "cache:\n  kind: etcd\n",
		"pg without dsn": "cache:\n  kind: postgres\n",
		"zero poll":      "status:\n  poll_interval: 0s\n",
		"malformed yaml": "server: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeYAML(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	_, err := Load(writeYAML(t, "server:\n  timeout: x\nstatus:\n  poll_interval: y\n"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "server.timeout") || !strings.Contains(err.Error(), "status.poll_interval") {
		t.Fatalf("expected both problems in %q", err)
	}
}
