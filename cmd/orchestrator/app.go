package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"nickel_agent/internal/config"
	"nickel_agent/internal/drafts"
	"nickel_agent/internal/fs"
	"nickel_agent/internal/messaging/inproc"
	"nickel_agent/internal/orchestrator"
	"nickel_agent/internal/policy"
	"nickel_agent/internal/skills/customs"
	"nickel_agent/internal/skills/finance"
	"nickel_agent/internal/skills/inventory"
	"nickel_agent/internal/skills/logistics"
	"nickel_agent/internal/skills/price"
	"nickel_agent/internal/skills/quality"
	sqlitestore "nickel_agent/internal/store/sqlite"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      config.Config
	store    *sqlitestore.Store
	files    *fs.Gateway
	bus      *inproc.Bus
	service  *orchestrator.Service
	ledger   *inventory.Ledger
	book     *quality.Book
	drafter  *drafts.Drafter
	logger   *zap.Logger
	dataRoot string
	dbPath   string
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	dbPath, err := config.ExpandHome(firstNonEmpty(dbFlag, cfg.Orchestrator.DBPath, "data/nickel.db"))
	if err != nil {
		return nil, err
	}
	dataRoot, err := config.ExpandHome(firstNonEmpty(dataFlag, cfg.Data.Root, "data"))
	if err != nil {
		return nil, err
	}
	dbPath = filepath.Clean(dbPath)
	dataRoot = filepath.Clean(dataRoot)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	engine, err := policy.New(cfg.Data.Permissions)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build file policy: %w", err)
	}
	files, err := fs.NewGateway(dataRoot, engine, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create file gateway: %w", err)
	}

	ledger := inventory.NewLedger(files)
	book := quality.NewBook(files, ledger)
	registry, err := orchestrator.NewRegistry(
		inventory.NewAgent(ledger, logger.Named("inventory")),
		price.NewAgent(files, logger.Named("price")),
		customs.NewAgent(files, logger.Named("customs")),
		logistics.NewAgent(files, logger.Named("logistics")),
		quality.NewAgent(book, logger.Named("quality")),
		finance.NewAgent(cfg.Finance, logger.Named("finance")),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register skill agents: %w", err)
	}

	bus := inproc.New(256)
	service := orchestrator.New(registry, store, bus, orchestrator.Config{
		MaxSteps: intOrDefault(cfg.Orchestrator.MaxSteps, orchestrator.DefaultMaxSteps),
	}, logger.Named("orchestrator"))

	drafter, err := newDrafter(cfg.Drafts, logger.Named("drafts"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		files:    files,
		bus:      bus,
		service:  service,
		ledger:   ledger,
		book:     book,
		drafter:  drafter,
		logger:   logger,
		dataRoot: dataRoot,
		dbPath:   dbPath,
	}, nil
}

func newDrafter(dc config.DraftsConfig, logger *zap.Logger) (*drafts.Drafter, error) {
	if !dc.Enabled() {
		return drafts.New(nil, logger), nil
	}
	client, err := drafts.NewClient(drafts.ClientConfig{
		Endpoint:  dc.Endpoint,
		Model:     dc.Model,
		AuthToken: dc.APIKey(),
		Timeout:   time.Duration(dc.TimeoutSeconds) * time.Second,
		Retries:   dc.Retries,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create drafting client: %w", err)
	}
	return drafts.New(client, logger), nil
}

func (a *app) Close() {
	_ = a.store.Close()
}
