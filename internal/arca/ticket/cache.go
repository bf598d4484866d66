package ticket

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lotefact/lotefact/internal/arca/domain"
	"github.com/lotefact/lotefact/internal/clock"
	"github.com/lotefact/lotefact/internal/metrics"
)

const loginAttempts = 3

// LockManager serializes ticket acquisition per scope across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// Cache wraps a login client with durable ticket reuse. The authority's
// login endpoint rejects a second concurrent login for the same credential,
// so all acquisition for one (credential, environment, service) scope runs
// under a cross-process lock, and the "already holds a valid ticket"
// rejection is resolved by waiting and falling back to the cached ticket.
type Cache struct {
	store   *Store
	login   domain.LoginClient
	locks   LockManager
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Pipeline
	lockTTL time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewCache(store *Store, login domain.LoginClient, locks LockManager, clk clock.Clock, log *zap.Logger, m *metrics.Pipeline, lockTTL time.Duration) *Cache {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Cache{
		store:   store,
		login:   login,
		locks:   locks,
		clock:   clk,
		log:     log.Named("ticket.cache"),
		metrics: m,
		lockTTL: lockTTL,
		sleep:   clock.Sleep,
	}
}

func lockKey(creds domain.Credentials, service string) string {
	return fmt.Sprintf("arca:ta:%s:%s:%s", creds.Environment, creds.TaxID, service)
}

// Obtain returns a usable ticket for the scope, logging in when the cached
// one is missing or expired. It fails with ErrAuthFailed once the retry
// budget is exhausted or the credential is rejected outright.
func (c *Cache) Obtain(ctx context.Context, creds domain.Credentials, service string) (domain.AccessTicket, error) {
	key := lockKey(creds, service)

	waitStart := c.clock.Now()
	token, err := c.locks.Acquire(ctx, key, c.lockTTL)
	if err != nil {
		return domain.AccessTicket{}, fmt.Errorf("%w: lock: %w", domain.ErrAuthFailed, err)
	}
	c.metrics.ObserveLockWait(c.clock.Now().Sub(waitStart))

	// The lock must be dropped on every exit path, including when the
	// caller's context is already canceled.
	defer func() {
		if err := c.locks.Release(context.WithoutCancel(ctx), key, token); err != nil {
			c.log.Warn("ticket lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	if cached, err := c.store.Load(creds, service); err == nil {
		if cached.Expiry.Kind != domain.ExpiryUnknown && cached.Expiry.Valid(c.clock.Now()) {
			return cached, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		t, err := c.login.Login(ctx, creds, service)
		if err == nil {
			if serr := c.store.Save(creds, service, t); serr != nil {
				c.log.Warn("ticket persist failed", zap.String("key", key), zap.Error(serr))
			}
			return t, nil
		}
		if !domain.IsTicketRace(err) {
			return domain.AccessTicket{}, fmt.Errorf("%w: %w", domain.ErrAuthFailed, err)
		}

		lastErr = err
		c.metrics.IncLoginRetry()
		if attempt == loginAttempts {
			break
		}

		cachedValid := false
		if cached, lerr := c.store.Load(creds, service); lerr == nil {
			cachedValid = cached.Expiry.Valid(c.clock.Now())
		}
		c.log.Warn("ticket already valid upstream, backing off",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Bool("cached_valid", cachedValid),
		)
		if serr := c.sleep(ctx, time.Duration(attempt+1)*time.Second); serr != nil {
			return domain.AccessTicket{}, fmt.Errorf("%w: %w", domain.ErrAuthFailed, serr)
		}
	}

	// Every attempt hit the race: another worker holds a ticket the
	// authority still considers valid. Reuse ours if it plausibly is.
	if cached, err := c.store.Load(creds, service); err == nil && cached.Expiry.Valid(c.clock.Now()) {
		c.log.Info("reusing cached ticket after login race", zap.String("key", key))
		return cached, nil
	}
	return domain.AccessTicket{}, fmt.Errorf("%w: %w", domain.ErrAuthFailed, lastErr)
}
