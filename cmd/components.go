package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/bindings"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/flow"
	"github.com/xkilldash9x/formpilot/internal/frames"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// Activator runs one activation against a tab.
type Activator interface {
	Activate(ctx context.Context, tabID string) flow.Outcome
}

// AssistLoop runs the page assistant until ctx is done.
type AssistLoop interface {
	Run(ctx context.Context, tabID string) error
}

// components holds the wired services for one command invocation.
type components struct {
	TabID        string
	Orchestrator Activator
	Assistant    AssistLoop
	shutdown     func()
}

// Shutdown releases the browser connection.
func (c *components) Shutdown() {
	if c != nil && c.shutdown != nil {
		c.shutdown()
	}
}

// componentsFunc builds the services a command needs. Tests substitute fakes.
type componentsFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error)

// defaultComponents connects to the browser and wires the store client,
// bridge, locator, bindings, orchestrator and assistant around the tab.
func defaultComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	manager := browser.NewManager(cfg.Browser, logger)
	tab, err := manager.Connect(ctx)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	store := recordstore.NewClient(cfg.Store, nil, logger)
	runner := bridge.New(tab, logger)
	locator := frames.NewLocator(tab, frames.WithLogger(logger))
	registry := bindings.NewRegistry(cfg.Flow, bindings.WithLogger(logger))

	return &components{
		TabID:        tab.ID(),
		Orchestrator: flow.NewOrchestrator(cfg.Flow, store, locator, runner, registry, logger),
		Assistant:    flow.NewAssistant(cfg.Assist, store, runner, logger),
		shutdown:     manager.Close,
	}, nil
}
