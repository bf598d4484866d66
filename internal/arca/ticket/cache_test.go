package ticket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lotefact/lotefact/internal/arca/domain"
	"github.com/lotefact/lotefact/internal/clock"
)

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]string)}
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	for {
		f.mu.Lock()
		if _, ok := f.held[key]; !ok {
			token := key + "-token"
			f.held[key] = token
			f.mu.Unlock()
			return token, nil
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeLocks) Release(ctx context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

func (f *fakeLocks) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

type fakeLogin struct {
	mu          sync.Mutex
	calls       int32
	inFlight    int32
	maxInFlight int32
	fn          func(attempt int) (domain.AccessTicket, error)
}

func (f *fakeLogin) Login(ctx context.Context, creds domain.Credentials, service string) (domain.AccessTicket, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	if n > f.maxInFlight {
		f.maxInFlight = n
	}
	f.mu.Unlock()

	attempt := int(atomic.AddInt32(&f.calls, 1))
	time.Sleep(2 * time.Millisecond)
	return f.fn(attempt)
}

func (f *fakeLogin) callCount() int { return int(atomic.LoadInt32(&f.calls)) }

var raceErr = errors.New("el CEE ya posee un TA valido para el acceso al WSN solicitado")

func newTestCache(t *testing.T, login *fakeLogin) (*Cache, *fakeLocks, *Store, domain.Credentials) {
	t.Helper()
	store := NewStore(t.TempDir())
	locks := newFakeLocks()
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := NewCache(store, login, locks, clk, zap.NewNop(), nil, time.Minute)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	creds := domain.NewCredentials("20123456789", []byte("cert"), []byte("key"), domain.EnvironmentTesting)
	return c, locks, store, creds
}

func TestObtainReturnsCachedValidTicket(t *testing.T) {
	login := &fakeLogin{fn: func(int) (domain.AccessTicket, error) {
		return domain.AccessTicket{}, errors.New("login must not be called")
	}}
	c, _, store, creds := newTestCache(t, login)

	cached := domain.AccessTicket{
		Token:  "tok",
		Sign:   "sig",
		Expiry: domain.ExpiresAt(time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, store.Save(creds, domain.ServiceInvoicing, cached))

	got, err := c.Obtain(context.Background(), creds, domain.ServiceInvoicing)
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, 0, login.callCount())
}

func TestObtainLogsInOnMissAndPersists(t *testing.T) {
	fresh := domain.AccessTicket{
		Token:  "fresh",
		Sign:   "sig",
		Expiry: domain.ExpiresAt(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)),
	}
	login := &fakeLogin{fn: func(int) (domain.AccessTicket, error) { return fresh, nil }}
	c, locks, store, creds := newTestCache(t, login)

	got, err := c.Obtain(context.Background(), creds, domain.ServiceInvoicing)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Token)
	assert.Equal(t, 1, login.callCount())
	assert.Equal(t, 0, locks.heldCount())

	persisted, err := store.Load(creds, domain.ServiceInvoicing)
	require.NoError(t, err)
	assert.Equal(t, "fresh", persisted.Token)
}

func TestObtainRaceThenSuccess(t *testing.T) {
	login := &fakeLogin{fn: func(attempt int) (domain.AccessTicket, error) {
		if attempt == 1 {
			return domain.AccessTicket{}, raceErr
		}
		return domain.AccessTicket{Token: "second"}, nil
	}}
	c, _, _, creds := newTestCache(t, login)

	got, err := c.Obtain(context.Background(), creds, domain.ServiceInvoicing)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Token)
	assert.Equal(t, 2, login.callCount())
}

func TestObtainAlwaysRaceFallsBackToCached(t *testing.T) {
	login := &fakeLogin{fn: func(int) (domain.AccessTicket, error) {
		return domain.AccessTicket{}, raceErr
	}}
	c, _, store, creds := newTestCache(t, login)

	// Expiry unknown: trusted optimistically in the fallback path only.
	cached := domain.AccessTicket{Token: "cached", Sign: "sig"}
	require.NoError(t, store.Save(creds, domain.ServiceInvoicing, cached))

	got, err := c.Obtain(context.Background(), creds, domain.ServiceInvoicing)
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Token)
	assert.Equal(t, 3, login.callCount())
}

func TestObtainAlwaysRaceWithoutCacheFails(t *testing.T) {
	login := &fakeLogin{fn: func(int) (domain.AccessTicket, error) {
		return domain.AccessTicket{}, raceErr
	}}
	c, locks, _, creds := newTestCache(t, login)

	_, err := c.Obtain(context.Background(), creds, domain.ServiceInvoicing)
	require.ErrorIs(t, err, domain.ErrAuthFailed)
	assert.Equal(t, 3, login.callCount())
	assert.Equal(t, 0, locks.heldCount())
}

func TestObtainNonRaceErrorFailsImmediately(t *testing.T) {
	login := &fakeLogin{fn: func(int) (domain.AccessTicket, error) {
		return domain.AccessTicket{}, errors.New("certificado expirado")
	}}
	c, locks, _, creds := newTestCache(t, login)

	_, err := c.Obtain(context.Background(), creds, domain.ServiceInvoicing)
	require.ErrorIs(t, err, domain.ErrAuthFailed)
	assert.Equal(t, 1, login.callCount())
	assert.Equal(t, 0, locks.heldCount())
}

func TestObtainSerializesLoginPerScope(t *testing.T) {
	login := &fakeLogin{fn: func(int) (domain.AccessTicket, error) {
		return domain.AccessTicket{Token: "t"}, nil
	}}
	c, locks, _, creds := newTestCache(t, login)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Obtain(context.Background(), creds, domain.ServiceInvoicing)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	login.mu.Lock()
	max := login.maxInFlight
	login.mu.Unlock()
	assert.Equal(t, int32(1), max)
	assert.Equal(t, 0, locks.heldCount())
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	creds := domain.NewCredentials("20123456789", nil, nil, domain.EnvironmentProduction)

	_, err := store.Load(creds, domain.ServiceRegistry)
	require.ErrorIs(t, err, ErrNotCached)

	in := domain.AccessTicket{Token: "a", Sign: "b", Expiry: domain.ExpiredFlag(false)}
	require.NoError(t, store.Save(creds, domain.ServiceRegistry, in))

	out, err := store.Load(creds, domain.ServiceRegistry)
	require.NoError(t, err)
	assert.Equal(t, in.Token, out.Token)
	assert.Equal(t, domain.ExpiryFlag, out.Expiry.Kind)
}
