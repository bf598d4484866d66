package worker

import (
	"go.uber.org/fx"

	"github.com/lotefact/lotefact/internal/worker/service"
)

var Module = fx.Module("worker",
	fx.Provide(service.NewQueue),
	fx.Provide(service.NewRunner),
)
