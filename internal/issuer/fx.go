package issuer

import (
	"go.uber.org/fx"

	"github.com/lotefact/lotefact/internal/issuer/service"
)

var Module = fx.Module("issuer.service",
	fx.Provide(service.NewService),
)
