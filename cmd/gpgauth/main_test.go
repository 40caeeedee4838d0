package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/cache"
	"github.com/dropDatabas3/gpgauth/internal/gpgauth"
	"github.com/dropDatabas3/gpgauth/internal/gpgauth/gpgauthtest"
	"github.com/dropDatabas3/gpgauth/internal/keyring"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCmd(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCLI_FullFlow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GPGAUTH_CONFIG", "")
	t.Setenv("GPGAUTH_SERVER_URL", "")
	t.Setenv("GPGAUTH_CACHE_KIND", "file")
	t.Setenv("GPGAUTH_CACHE_FILE_PATH", filepath.Join(dir, "state.json"))
	t.Setenv("GPGAUTH_LOG_LEVEL", "error")
	keysDir := filepath.Join(dir, "keys")

	out, err := run(t, "--keys-dir", keysDir, "--out", "json",
		"keys", "generate", "--name", "ada", "--email", "ada@example.com", "--bits", "1024")
	require.NoError(t, err)
	var generated map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &generated))
	require.NotEmpty(t, generated["fingerprint"])

	kr, err := keyring.NewFileKeyring(keysDir)
	require.NoError(t, err)
	userPub, err := kr.UserPublicKey(context.Background())
	require.NoError(t, err)

	serverKey, err := pgp.Generate("server", "server@example.com", 1024, 0)
	require.NoError(t, err)
	srv := gpgauthtest.New(t, serverKey)
	srv.AddUser(userPub)

	base := []string{"--keys-dir", keysDir, "--server", srv.URL}
	cli := func(args ...string) string {
		t.Helper()
		out, err := run(t, append(append([]string{}, base...), args...)...)
		require.NoError(t, err, "gpgauth %s", strings.Join(args, " "))
		return strings.TrimSpace(out)
	}

	require.Equal(t, "pinned "+serverKey.Fingerprint(), cli("server-key", "pin", "--expect", serverKey.Fingerprint()))
	require.Equal(t, "server identity verified", cli("verify"))
	require.Equal(t, "changed=false", cli("server-key", "changed"))
	require.Equal(t, "expired=false", cli("server-key", "expired"))

	require.Equal(t, "authenticated (refer "+srv.URL+"/)", cli("login"))
	require.Equal(t, "authenticated", cli("status", "--cached"))

	// otra invocación: la sesión viaja en las cookies persistidas
	require.Equal(t, "authenticated", cli("status"))

	srv.RequireMfa(true)
	require.Equal(t, "authenticated, MFA required", cli("status"))
	srv.RequireMfa(false)

	require.Equal(t, "logged out", cli("logout"))
	require.Equal(t, "not authenticated", cli("status", "--cached"))
	require.Equal(t, "not authenticated", cli("status"))
}

func TestCLI_VerifyDiagnosesRotatedKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GPGAUTH_CONFIG", "")
	t.Setenv("GPGAUTH_CACHE_KIND", "memory")
	t.Setenv("GPGAUTH_LOG_LEVEL", "error")
	keysDir := filepath.Join(dir, "keys")

	_, err := run(t, "--keys-dir", keysDir, "keys", "generate", "--name", "bob", "--email", "bob@example.com", "--bits", "1024")
	require.NoError(t, err)
	kr, _ := keyring.NewFileKeyring(keysDir)
	userPub, err := kr.UserPublicKey(context.Background())
	require.NoError(t, err)

	serverKey, _ := pgp.Generate("server", "server@example.com", 1024, 0)
	srv := gpgauthtest.New(t, serverKey)
	srv.AddUser(userPub)

	_, err = run(t, "--keys-dir", keysDir, "--server", srv.URL, "server-key", "pin")
	require.NoError(t, err)

	rotated, _ := pgp.Generate("server2", "server@example.com", 1024, 0)
	srv.SetServerKey(rotated)

	_, err = run(t, "--keys-dir", keysDir, "--server", srv.URL, "verify")
	require.Error(t, err)
	require.Contains(t, err.Error(), "server_key_changed")

	_, err = run(t, "--keys-dir", keysDir, "--server", srv.URL, "server-key", "pin", "--expect", serverKey.Fingerprint())
	require.Error(t, err, "pin must refuse an unexpected fingerprint")
}

func TestCLI_RequiresServer(t *testing.T) {
	t.Setenv("GPGAUTH_CONFIG", "")
	t.Setenv("GPGAUTH_SERVER_URL", "")
	t.Setenv("GPGAUTH_CACHE_KIND", "memory")
	_, err := run(t, "--keys-dir", t.TempDir(), "status")
	require.Error(t, err)

	_, err = run(t, "--keys-dir", t.TempDir(), "--out", "yaml", "keys", "show")
	require.Error(t, err)
}

func TestSessionCookiesPersistAttributes(t *testing.T) {
	ctx := context.Background()
	sess, err := gpgauth.NewSession("https://pass.example.com", keyring.NewMemory(nil))
	require.NoError(t, err)
	store := cache.NewMemory("test")
	defer store.Close()

	tr, err := gpgauth.NewTransport("https://pass.example.com")
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	tr.SetCookies([]*http.Cookie{
		{Name: "passbolt_session", Value: "s1", Path: "/app", Secure: true, HttpOnly: true, Expires: exp},
	})
	(&app{sess: sess, tr: tr, store: store}).saveCookies(ctx)

	fresh, err := gpgauth.NewTransport("https://pass.example.com")
	require.NoError(t, err)
	(&app{sess: sess, tr: fresh, store: store}).restoreCookies(ctx)

	got := fresh.Cookies()
	require.Len(t, got, 1)
	require.Equal(t, "s1", got[0].Value)
	require.Equal(t, "/app", got[0].Path)
	require.True(t, got[0].Secure)
	require.True(t, got[0].HttpOnly)
	require.True(t, got[0].Expires.Equal(exp))
}
