// Package arca wires the tax-authority clients: authentication, ticket
// caching, invoicing and the fiscal registry.
package arca

import (
	"net/http"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lotefact/lotefact/internal/arca/auth"
	"github.com/lotefact/lotefact/internal/arca/domain"
	"github.com/lotefact/lotefact/internal/arca/padron"
	"github.com/lotefact/lotefact/internal/arca/ticket"
	"github.com/lotefact/lotefact/internal/arca/wsfe"
	"github.com/lotefact/lotefact/internal/clock"
	"github.com/lotefact/lotefact/internal/config"
	"github.com/lotefact/lotefact/internal/metrics"
)

func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Arca.RequestTimeout}
}

func NewTicketStore(cfg config.Config) *ticket.Store {
	return ticket.NewStore(cfg.Arca.TicketDir)
}

func NewLockManager(client *redis.Client) ticket.LockManager {
	return ticket.NewLocker(client)
}

func NewSigner() auth.Signer {
	return auth.NewOpenSSLSigner()
}

func NewLoginClient(httpClient *http.Client, signer auth.Signer, clk clock.Clock, log *zap.Logger) domain.LoginClient {
	return auth.NewClient(httpClient, signer, clk, log)
}

func NewTicketSource(cfg config.Config, store *ticket.Store, login domain.LoginClient, locks ticket.LockManager, clk clock.Clock, log *zap.Logger, m *metrics.Pipeline) domain.TicketSource {
	return ticket.NewCache(store, login, locks, clk, log, m, cfg.Arca.TicketLockTTL)
}

func NewInvoicingClient(httpClient *http.Client, tickets domain.TicketSource, log *zap.Logger) domain.InvoicingClient {
	return wsfe.NewClient(httpClient, tickets, log)
}

func NewRegistryClient(httpClient *http.Client, tickets domain.TicketSource, log *zap.Logger) domain.RegistryClient {
	return padron.NewClient(httpClient, tickets, log)
}

var Module = fx.Module("arca",
	fx.Provide(
		NewRedisClient,
		NewHTTPClient,
		NewTicketStore,
		NewLockManager,
		NewSigner,
		NewLoginClient,
		NewTicketSource,
		NewInvoicingClient,
		NewRegistryClient,
	),
)
