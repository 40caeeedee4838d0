package authstatus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/cache"
	"github.com/dropDatabas3/gpgauth/internal/gpgauth"
	"github.com/dropDatabas3/gpgauth/internal/gpgauth/gpgauthtest"
	"github.com/dropDatabas3/gpgauth/internal/keyring"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	calls   atomic.Int32
	status  gpgauth.RemoteStatus
	err     error
	release chan struct{}
	ctxErr  atomic.Value
}

func (f *fakeProber) ProbeStatus(ctx context.Context) (gpgauth.RemoteStatus, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if err := ctx.Err(); err != nil {
		f.ctxErr.Store(err)
		return gpgauth.Unauthenticated, err
	}
	return f.status, f.err
}

func TestCheckAuthStatus_UsesCacheUnlessAsked(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory("test")
	p := &fakeProber{status: gpgauth.Authenticated}
	c := New(store, p)

	require.NoError(t, c.Store(ctx, Status{IsAuthenticated: false}))

	st, err := c.CheckAuthStatus(ctx, Options{RequestAPI: false})
	require.NoError(t, err)
	require.Equal(t, Status{}, st)
	require.Equal(t, int32(0), p.calls.Load(), "cached value must not trigger a probe")

	st, err = c.CheckAuthStatus(ctx, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, Status{IsAuthenticated: true}, st)
	require.Equal(t, int32(1), p.calls.Load())

	raw, err := store.Get(ctx, StorageKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"isAuthenticated":true,"isMfaRequired":false}`, raw)
}

func TestCheckAuthStatus_EmptyCacheProbes(t *testing.T) {
	ctx := context.Background()
	p := &fakeProber{status: gpgauth.AuthenticatedNeedsMfa}
	c := New(cache.NewMemory("test"), p)

	_, ok, err := c.ReadCachedStatus(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	st, err := c.CheckAuthStatus(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, Status{IsAuthenticated: true, IsMfaRequired: true}, st)

	cached, ok, err := c.ReadCachedStatus(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, st, cached)
}

func TestCheckAuthStatus_UnreadableRecordIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory("test")
	require.NoError(t, store.Set(ctx, StorageKey, "{not json", 0))
	p := &fakeProber{status: gpgauth.Unauthenticated}
	c := New(store, p)

	st, err := c.CheckAuthStatus(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, Status{}, st)
	require.Equal(t, int32(1), p.calls.Load())
}

func TestProbeRemoteStatus_ErrorPropagatesAndKeepsRecord(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory("test")
	probeErr := &gpgauth.Error{Kind: gpgauth.KindTransport, Message: "unexpected response status 500", HTTPStatus: 500}
	c := New(store, &fakeProber{err: probeErr})
	require.NoError(t, c.Store(ctx, Status{IsAuthenticated: true}))

	_, err := c.ProbeRemoteStatus(ctx)
	require.Same(t, probeErr, err)

	cached, ok, err := c.ReadCachedStatus(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cached.IsAuthenticated)
}

func TestIsMfaRequired_AlwaysProbes(t *testing.T) {
	ctx := context.Background()
	p := &fakeProber{status: gpgauth.AuthenticatedNeedsMfa}
	c := New(cache.NewMemory("test"), p)
	require.NoError(t, c.Store(ctx, Status{IsAuthenticated: true}))

	mfa, err := c.IsMfaRequired(ctx)
	require.NoError(t, err)
	require.True(t, mfa)
	require.Equal(t, int32(1), p.calls.Load())

	authed, err := c.IsAuthenticated(ctx, Options{})
	require.NoError(t, err)
	require.True(t, authed)
	require.Equal(t, int32(1), p.calls.Load())
}

func TestProbeRemoteStatus_ConcurrentCallsShareOneProbe(t *testing.T) {
	ctx := context.Background()
	p := &fakeProber{status: gpgauth.Authenticated, release: make(chan struct{})}
	c := New(cache.NewMemory("test"), p)

	const n = 8
	var wg sync.WaitGroup
	results := make([]Status, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.ProbeRemoteStatus(ctx)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(p.release)
	wg.Wait()

	require.Equal(t, int32(1), p.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, Status{IsAuthenticated: true}, results[i])
	}
}

func TestRemoteStatus_CallerCancelDoesNotAbortSharedRequest(t *testing.T) {
	p := &fakeProber{status: gpgauth.Authenticated, release: make(chan struct{})}
	store := cache.NewMemory("test")
	c := New(store, p)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.ProbeRemoteStatus(ctxA)
		errA <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		st  Status
		err error
	}
	resB := make(chan result, 1)
	go func() {
		st, err := c.ProbeRemoteStatus(context.Background())
		resB <- result{st, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// A deja de esperar en cuanto cancela, sin que el request haya terminado
	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("canceled caller kept waiting on the shared request")
	}

	close(p.release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		require.Equal(t, Status{IsAuthenticated: true}, r.st)
	case <-time.After(time.Second):
		t.Fatalf("live caller never got the shared result")
	}
	require.Nil(t, p.ctxErr.Load(), "shared request must not see the first caller's cancellation")
	require.Equal(t, int32(1), p.calls.Load())

	cached, ok, err := c.ReadCachedStatus(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cached.IsAuthenticated)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakeProber{status: gpgauth.Authenticated}
	c := New(cache.NewMemory("test"), p)

	seen := 0
	err := c.Watch(ctx, 5*time.Millisecond, func(st Status, err error) {
		require.NoError(t, err)
		require.True(t, st.IsAuthenticated)
		seen++
		if seen == 3 {
			cancel()
		}
	})
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 3, seen)

	require.Error(t, c.Watch(context.Background(), 0, func(Status, error) {}))
}

func TestCache_AgainstServer(t *testing.T) {
	ctx := context.Background()
	serverKey, err := pgp.Generate("server", "server@example.com", 1024, 0)
	require.NoError(t, err)
	user, err := pgp.Generate("ada", "ada@example.com", 1024, 0)
	require.NoError(t, err)
	srv := gpgauthtest.New(t, serverKey)
	srv.AddUser(user.Public())

	tr, err := gpgauth.NewTransport(srv.URL)
	require.NoError(t, err)
	sess, err := gpgauth.NewSession(srv.URL, keyring.NewMemory(user))
	require.NoError(t, err)
	require.NotEmpty(t, sess.Domain())

	c := New(cache.NewMemory("test"), gpgauth.NewProber(tr))
	authed, err := c.IsAuthenticated(ctx, DefaultOptions())
	require.NoError(t, err)
	require.False(t, authed)

	_, err = gpgauth.NewHandshake(tr).Login(ctx, user)
	require.NoError(t, err)

	// el cache todavía dice que no, hasta que se pide al servidor
	authed, _ = c.IsAuthenticated(ctx, Options{})
	require.False(t, authed)
	authed, err = c.IsAuthenticated(ctx, DefaultOptions())
	require.NoError(t, err)
	require.True(t, authed)

	srv.RequireMfa(true)
	mfa, err := c.IsMfaRequired(ctx)
	require.NoError(t, err)
	require.True(t, mfa)
}
