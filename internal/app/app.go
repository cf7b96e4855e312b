// Package app assembles the service: config, storage, agents, payment
// gateway, orchestrator and the chat layer, in one place so the CLI and
// tests wire the same graph.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"yieldpilot/internal/agents"
	"yieldpilot/internal/cardano"
	"yieldpilot/internal/chat"
	"yieldpilot/internal/config"
	"yieldpilot/internal/db"
	"yieldpilot/internal/events"
	"yieldpilot/internal/jobs"
	"yieldpilot/internal/llm"
	"yieldpilot/internal/market"
	"yieldpilot/internal/metrics"
	"yieldpilot/internal/migrate"
	"yieldpilot/internal/optimizer"
	"yieldpilot/internal/payment"
	"yieldpilot/internal/repo"
	"yieldpilot/internal/risk"
)

// Options configure App construction.
type Options struct {
	Workspace string
	LogLevel  slog.Level

	// Completer overrides the configured LLM backend. Used by tests.
	Completer llm.Completer
}

// App is the assembled service.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	DB           *sql.DB
	Repo         *repo.Repo
	Metrics      *metrics.Metrics
	Market       *market.Client
	Gateway      payment.Gateway
	Registry     *agents.Registry
	Orchestrator *jobs.Orchestrator
	Chat         *chat.Service
	TxBuilder    *cardano.Builder

	closeLog func()
}

// New builds the full service graph for a workspace.
func New(opts Options) (*App, error) {
	logger, closeLog, err := config.SetupLogger(opts.Workspace, opts.LogLevel)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		closeLog()
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		closeLog()
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		closeLog()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	completer := opts.Completer
	if completer == nil {
		model, err := llm.NewModel(cfg.LLM)
		if err != nil {
			conn.Close()
			closeLog()
			return nil, err
		}
		completer = model
	}

	m := metrics.New()
	r := repo.New(conn)
	writer := events.Writer{DB: conn}
	marketClient := market.NewClient(cfg.Market, logger)
	scorer := risk.NewScorer(cfg.Risk)

	registry := agents.NewRegistry(cfg.Agents)
	registry.Register(agents.NewMarketAgent(marketClient, completer))
	registry.Register(agents.NewStrategyAgent(optimizer.New(), scorer, marketClient, completer))
	registry.Register(agents.NewRiskAgent(scorer, completer))

	gateway := payment.New(cfg.Payment)
	orchestrator := jobs.NewOrchestrator(jobs.NewStore(), registry, gateway, writer, m, logger, cfg.Payment)
	chatSvc := chat.NewService(completer, registry, r, m, logger)

	logger.Info("service assembled",
		"service", cfg.Service.Name,
		"version", cfg.Service.Version,
		"payment_mode", cfg.Payment.Mode,
		"llm_provider", cfg.LLM.Provider)

	return &App{
		Config:       cfg,
		Logger:       logger,
		DB:           conn,
		Repo:         r,
		Metrics:      m,
		Market:       marketClient,
		Gateway:      gateway,
		Registry:     registry,
		Orchestrator: orchestrator,
		Chat:         chatSvc,
		TxBuilder:    cardano.NewBuilder("preprod"),
		closeLog:     closeLog,
	}, nil
}

// Close drains in-flight jobs, then releases storage and log handles.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.closeLog != nil {
		a.closeLog()
	}
	return firstErr
}
