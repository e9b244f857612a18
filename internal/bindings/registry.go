// Package bindings holds the page-specific knowledge for each automated stage:
// how to recognise the page and how to fill it from a record. All DOM access
// happens in embedded JavaScript capabilities run through the bridge.
package bindings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// StageKind classifies the page currently shown in the tab.
type StageKind int

const (
	StageUnknown StageKind = iota
	StageLogin
	StageSignup
	StageTicketSelection
	StagePayment
)

func (s StageKind) String() string {
	switch s {
	case StageLogin:
		return "login"
	case StageSignup:
		return "signup"
	case StageTicketSelection:
		return "ticket_selection"
	case StagePayment:
		return "payment"
	default:
		return "unknown"
	}
}

// PageState is one snapshot of the DOM features stage detection looks at.
type PageState struct {
	Href             string `json:"href"`
	HasLoginEmail    bool   `json:"hasLoginEmail"`
	HasLoginPassword bool   `json:"hasLoginPassword"`
	HasSignupName    bool   `json:"hasSignupName"`
	HasTicketList    bool   `json:"hasTicketList"`
}

// Binding is the page-specific half of a stage.
type Binding interface {
	Stage() StageKind
	// Detect is a pure read of a page snapshot.
	Detect(state PageState) bool
	// Fill applies the record to the page and submits. It reports whether
	// the fields it requires were present.
	Fill(ctx context.Context, r bridge.Runner, target bridge.Target, rec recordstore.Record) bool
}

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Registry evaluates bindings in priority order.
type Registry struct {
	bindings     []Binding
	ticketListID string
	logger       *zap.Logger
}

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	logger *zap.Logger
	sleep  SleepFunc
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *registryOptions) { o.logger = l }
}

// WithSleep replaces the timer used between ticket expansion and selection.
func WithSleep(fn SleepFunc) Option {
	return func(o *registryOptions) { o.sleep = fn }
}

// NewRegistry builds the four stage bindings in detection order:
// Login, Signup, TicketSelection, then Payment as the fallback.
func NewRegistry(cfg config.FlowConfig, opts ...Option) *Registry {
	o := registryOptions{logger: zap.NewNop(), sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named("bindings")

	return &Registry{
		bindings: []Binding{
			Login{},
			Signup{},
			NewTicketSelection(cfg.TicketListID, cfg.TicketExpandDelay, o.sleep, logger),
			Payment{AutoSubmit: cfg.PaymentAutoSubmit},
		},
		ticketListID: cfg.TicketListID,
		logger:       logger,
	}
}

// Probe snapshots the page features of target.
func (r *Registry) Probe(ctx context.Context, runner bridge.Runner, target bridge.Target) (PageState, bool) {
	return bridge.Decode[PageState](runner.Run(ctx, target, probeCapability, r.ticketListID))
}

// Detect classifies a snapshot. The first binding in priority order that
// matches wins, so exactly one stage is selected.
func (r *Registry) Detect(state PageState) StageKind {
	for _, b := range r.bindings {
		if b.Detect(state) {
			return b.Stage()
		}
	}
	return StageUnknown
}

// Binding returns the binding for stage, or nil.
func (r *Registry) Binding(stage StageKind) Binding {
	for _, b := range r.bindings {
		if b.Stage() == stage {
			return b
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
