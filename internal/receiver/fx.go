package receiver

import (
	"go.uber.org/fx"

	"github.com/lotefact/lotefact/internal/receiver/service"
)

var Module = fx.Module("receiver.service",
	fx.Provide(service.NewService),
)
