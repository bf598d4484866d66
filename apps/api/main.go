package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/lotefact/lotefact/internal/arca"
	"github.com/lotefact/lotefact/internal/batch"
	"github.com/lotefact/lotefact/internal/clock"
	"github.com/lotefact/lotefact/internal/config"
	"github.com/lotefact/lotefact/internal/invoice"
	"github.com/lotefact/lotefact/internal/issuer"
	"github.com/lotefact/lotefact/internal/logger"
	"github.com/lotefact/lotefact/internal/metrics"
	"github.com/lotefact/lotefact/internal/migration"
	"github.com/lotefact/lotefact/internal/receiver"
	"github.com/lotefact/lotefact/internal/secrets"
	"github.com/lotefact/lotefact/internal/server"
	"github.com/lotefact/lotefact/internal/worker"
	"github.com/lotefact/lotefact/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		metrics.Module,
		secrets.Module,

		arca.Module,
		issuer.Module,
		receiver.Module,
		invoice.Module,
		batch.Module,
		worker.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
