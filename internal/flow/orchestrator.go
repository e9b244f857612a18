// Package flow drives one activation of the form automation: detect the page
// stage, fetch the record it needs, run the stage binding and report the
// record's new status.
package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/bindings"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/frames"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// Reasons an activation ended.
const (
	ReasonCompleted      = "completed"
	ReasonProbeFailed    = "page probe returned nothing"
	ReasonNoRecord       = "no matching record"
	ReasonNoPaymentFrame = "payment frame not found"
	ReasonCancelled      = "cancelled"
	ReasonNoBinding      = "no binding for stage"
	reasonPanicPrefix    = "panic: "
)

// Outcome summarises one activation.
type Outcome struct {
	RunID    string
	Stage    bindings.StageKind
	Email    string
	Name     string
	Filled   bool
	Reported recordstore.Status
	Reason   string
}

// Orchestrator runs activations. It keeps no state between runs.
type Orchestrator struct {
	cfg      config.FlowConfig
	store    recordstore.Store
	locator  FrameLocator
	runner   bridge.Runner
	registry *bindings.Registry
	names    *NameResolver
	logger   *zap.Logger
}

// NewOrchestrator wires the stage machine to its collaborators.
func NewOrchestrator(cfg config.FlowConfig, store recordstore.Store, locator FrameLocator, runner bridge.Runner, registry *bindings.Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("flow")

	headerSpec := frames.WaitSpec{
		URLSubstring: cfg.HeaderFrameURL,
		Timeout:      cfg.FrameTimeout,
		PollInterval: cfg.PollInterval,
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		locator:  locator,
		runner:   runner,
		registry: registry,
		names:    NewNameResolver(locator, runner, headerSpec, logger),
		logger:   logger,
	}
}

// Activate runs exactly one stage against the tab. Failures of sub-steps end
// the run; a panic is logged and ends the run without retrying.
func (o *Orchestrator) Activate(ctx context.Context, tabID string) (out Outcome) {
	out = Outcome{RunID: uuid.NewString(), Stage: bindings.StageUnknown}
	log := observability.ForRun(o.logger, out.RunID, tabID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Activation panicked; stopping.", zap.Any("panic", r), zap.Stack("stack"))
			out.Reason = fmt.Sprintf("%s%v", reasonPanicPrefix, r)
		}
	}()

	top := bridge.TopFrame(tabID)
	state, ok := o.registry.Probe(ctx, o.runner, top)
	if !ok {
		out.Reason = ReasonProbeFailed
		if ctx.Err() != nil {
			out.Reason = ReasonCancelled
		}
		log.Warn("Could not read the page; nothing to do.", zap.String("reason", out.Reason))
		return out
	}

	out.Stage = o.registry.Detect(state)
	log = log.With(zap.String("stage", out.Stage.String()))
	log.Info("Stage detected.", zap.String("href", state.Href))

	binding := o.registry.Binding(out.Stage)
	if binding == nil {
		out.Reason = ReasonNoBinding
		return out
	}

	switch out.Stage {
	case bindings.StageLogin, bindings.StageSignup:
		o.runCredentials(ctx, log, binding, top, &out)
	case bindings.StageTicketSelection:
		o.runTicketSelection(ctx, log, binding, tabID, top, &out)
	case bindings.StagePayment:
		o.runPayment(ctx, log, binding, tabID, &out)
	}

	log.Info("Activation finished.",
		zap.String("reason", out.Reason),
		zap.String("email", out.Email),
		zap.Bool("filled", out.Filled),
		zap.String("reported", string(out.Reported)))
	return out
}

// runCredentials fills the login or signup form with an unused record and
// marks the record Used.
func (o *Orchestrator) runCredentials(ctx context.Context, log *zap.Logger, b bindings.Binding, top bridge.Target, out *Outcome) {
	rec, ok := o.store.FetchUnused(ctx)
	if !ok {
		out.Reason = ReasonNoRecord
		return
	}
	out.Email = rec.Email
	out.Name = rec.Name

	out.Filled = b.Fill(ctx, o.runner, top, rec)
	if !out.Filled {
		log.Warn("Form fields missing; the record is still marked used.", zap.String("email", rec.Email))
	}
	o.report(ctx, rec.Email, recordstore.StatusUsed, out)
}

// runTicketSelection applies the logged-in user's ticket choice. The record
// status is left alone.
func (o *Orchestrator) runTicketSelection(ctx context.Context, log *zap.Logger, b bindings.Binding, tabID string, top bridge.Target, out *Outcome) {
	out.Name = o.names.Resolve(ctx, tabID)
	rec, ok := o.store.FetchByName(ctx, out.Name)
	if !ok {
		out.Reason = ReasonNoRecord
		return
	}
	out.Email = rec.Email
	log.Debug("Ticket selection record found.", zap.String("email", rec.Email), zap.String("name", out.Name))

	out.Filled = b.Fill(ctx, o.runner, top, rec)
	out.Reason = ReasonCompleted
}

// runPayment waits for the payment frame, fills the card form inside it and
// marks the record Done. A missing frame is an expected outcome.
func (o *Orchestrator) runPayment(ctx context.Context, log *zap.Logger, b bindings.Binding, tabID string, out *Outcome) {
	spec := frames.WaitSpec{
		URLSubstring: o.cfg.PaymentFrameURL,
		Timeout:      o.cfg.PaymentFrameTimeout,
		PollInterval: o.cfg.PollInterval,
	}
	h, err := o.locator.Locate(ctx, tabID, spec)
	if err != nil {
		out.Reason = ReasonNoPaymentFrame
		if ctx.Err() != nil {
			out.Reason = ReasonCancelled
		}
		log.Debug("No payment frame.", zap.Error(err))
		return
	}

	out.Name = o.names.Resolve(ctx, tabID)
	rec, ok := o.store.FetchByName(ctx, out.Name)
	if !ok {
		out.Reason = ReasonNoRecord
		return
	}
	out.Email = rec.Email

	out.Filled = b.Fill(ctx, o.runner, bridge.InFrame(tabID, h), rec)
	o.report(ctx, rec.Email, recordstore.StatusDone, out)
}

// report posts the new status once. The page has already been changed, so the
// report goes out even if the activation context was cancelled meanwhile.
func (o *Orchestrator) report(ctx context.Context, email string, status recordstore.Status, out *Outcome) {
	o.store.ReportStatus(context.WithoutCancel(ctx), email, status)
	out.Reported = status
	out.Reason = ReasonCompleted
}
