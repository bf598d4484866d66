package batch

import (
	"go.uber.org/fx"

	"github.com/lotefact/lotefact/internal/batch/service"
)

var Module = fx.Module("batch.service",
	fx.Provide(service.NewService),
	fx.Provide(service.NewAuthorizer),
)
