// Package handlers contains application use case handlers.
package handlers

import (
	"context"
	"fmt"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/services"
	"github.com/ersonp/draft-core/internal/infrastructure/config"
)

// SchemaStore creates the tables a store needs.
type SchemaStore interface {
	EnsureSchema(ctx context.Context) error
	EnsureRecordTables(ctx context.Context, types []*entities.RecordType) error
	Close() error
}

// StoreOpener opens the store a config selects.
type StoreOpener func(ctx context.Context, cfg *config.Config) (SchemaStore, error)

// InitHandler handles project initialization.
type InitHandler struct {
	open  StoreOpener
	types *services.RecordTypeService
}

// NewInitHandler creates a new init handler.
func NewInitHandler(open StoreOpener, types *services.RecordTypeService) *InitHandler {
	return &InitHandler{
		open:  open,
		types: types,
	}
}

// InitResult contains the result of initialization.
type InitResult struct {
	ConfigPath string
	Driver     string
	Tables     []string
}

// Handle writes the default config and creates the draft and record tables.
func (h *InitHandler) Handle(ctx context.Context, basePath string) (*InitResult, error) {
	if config.Exists(basePath) {
		return nil, fmt.Errorf("draft already initialized in %s", basePath)
	}

	if err := config.WriteDefault(basePath); err != nil {
		return nil, fmt.Errorf("writing default config: %w", err)
	}

	cfg, err := config.Load(basePath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := h.open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating draft tables: %w", err)
	}

	types := h.types.List()
	if err := store.EnsureRecordTables(ctx, types); err != nil {
		return nil, fmt.Errorf("creating record tables: %w", err)
	}

	tables := make([]string, 0, len(types)+2)
	tables = append(tables, "draft_transactions", "drafts")
	for _, rt := range types {
		tables = append(tables, rt.Table)
	}

	return &InitResult{
		ConfigPath: config.ConfigFilePath(basePath),
		Driver:     cfg.Database.Driver,
		Tables:     tables,
	}, nil
}
