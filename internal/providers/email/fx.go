package email

import (
	"go.uber.org/fx"

	"github.com/lotefact/lotefact/internal/config"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
	fx.Provide(NewReceiptMailer),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.SMTP.Host == "" {
		return &NoOpProvider{}
	}
	return NewSMTP(cfg.SMTP)
}
