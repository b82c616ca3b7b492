package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ersonp/draft-core/internal/application/handlers"
	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
	"github.com/ersonp/draft-core/internal/domain/services"
	"github.com/ersonp/draft-core/internal/infrastructure/config"
	"github.com/ersonp/draft-core/internal/infrastructure/logging"
	"github.com/ersonp/draft-core/internal/infrastructure/metrics"
	"github.com/ersonp/draft-core/internal/infrastructure/relationaldb/postgres"
	"github.com/ersonp/draft-core/internal/infrastructure/relationaldb/sqlite"
)

// Deps holds high-level dependencies for commands.
// Only handlers are exposed - services and repositories are internal.
type Deps struct {
	Config        *config.Config
	Log           logrus.FieldLogger
	ReviewHandler *handlers.ReviewHandler
	ImportHandler *handlers.ImportHandler

	metrics *metrics.Recorder
}

// store is what both database backends provide.
type store interface {
	ports.DraftStore
	ports.RecordStore
	ports.TxRunner
	EnsureRecordTables(ctx context.Context, types []*entities.RecordType) error
}

// newRecordTypes returns the registry of types the CLI reviews.
func newRecordTypes() *services.RecordTypeService {
	types := services.NewRecordTypeService()
	types.MustRegister(entities.SampleTypes()...)
	return types
}

// openStore opens the database the config selects.
func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		repo, err := postgres.NewRepository(ctx, cfg.Database.Postgres)
		if err != nil {
			return nil, fmt.Errorf("creating postgres repository: %w", err)
		}
		return repo, nil
	default:
		repo, err := sqlite.NewRepository(cfg.Database.SQLite)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite repository: %w", err)
		}
		return repo, nil
	}
}

// openSchemaStore adapts openStore for the init handler.
func openSchemaStore(ctx context.Context, cfg *config.Config) (handlers.SchemaStore, error) {
	return openStore(ctx, cfg)
}

// withDeps loads config and builds dependencies, then calls the provided function.
// It handles cleanup automatically.
func withDeps(ctx context.Context, fn func(*Deps) error) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Log, os.Stderr)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	types := newRecordTypes()

	// Ensure schema exists
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	if err := db.EnsureRecordTables(ctx, types.List()); err != nil {
		return fmt.Errorf("ensuring record tables: %w", err)
	}

	recorder := metrics.NewRecorder()
	txns := services.NewTransactionService(db, db, log, recorder)
	serializer := services.NewSerializer(types, db, db)
	approval := services.NewApprovalService(txns, types, serializer, db)
	inspector := services.NewInspector(types, db, db)

	deps := &Deps{
		Config:        cfg,
		Log:           log,
		ReviewHandler: handlers.NewReviewHandler(db, approval, inspector),
		ImportHandler: handlers.NewImportHandler(txns, services.NewDraftWriter(txns, types, serializer), types, db),
		metrics:       recorder,
	}

	return fn(deps)
}

// pushMetrics sends the review metrics to the configured pushgateway. A
// failed push is logged and does not fail the command.
func (d *Deps) pushMetrics() {
	url := d.Config.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	if err := d.metrics.Push(url, d.Config.Metrics.Job); err != nil {
		d.Log.WithError(err).Warn("pushing metrics")
	}
}
