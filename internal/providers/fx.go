package providers

import (
	"go.uber.org/fx"

	"github.com/lotefact/lotefact/internal/providers/email"
)

var Module = fx.Module("providers",
	email.Module,
)
