package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/bindings"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// Assistant actions, reported by Tick.
const (
	ActionPassword      = "password"
	ActionProfile       = "profile"
	ActionSubmitProfile = "submit_profile"
	ActionBallot        = "ballot"
	ActionContinue      = "continue"
)

// Assistant watches a tab and handles the pages between the automated stages:
// it autofills the fan profile form from the store, fills the signup password
// and presses the profile, ballot and continue buttons. Each action runs at
// most once per page session.
type Assistant struct {
	cfg     config.AssistConfig
	store   recordstore.Store
	runner  bridge.Runner
	profile bindings.Profile
	logger  *zap.Logger

	session string
	done    map[string]bool
}

// NewAssistant creates an Assistant.
func NewAssistant(cfg config.AssistConfig, store recordstore.Store, runner bridge.Runner, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		profile: bindings.Profile{FanCountry: cfg.FanCountry, SaveDelay: cfg.SaveDelay},
		logger:  logger.Named("assist"),
		done:    make(map[string]bool),
	}
}

// Run ticks every cfg.Interval until ctx is done.
func (a *Assistant) Run(ctx context.Context, tabID string) error {
	interval := a.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("Page assistant started.", zap.String("tab_id", tabID), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Page assistant stopped.")
			return nil
		case <-ticker.C:
			a.Tick(ctx, tabID)
		}
	}
}

// Tick inspects the page once and returns the actions it performed.
func (a *Assistant) Tick(ctx context.Context, tabID string) []string {
	top := bridge.TopFrame(tabID)
	state, ok := bindings.ProbeAssist(ctx, a.runner, top, a.cfg.BallotID)
	if !ok {
		return nil
	}
	if state.Session != a.session {
		a.session = state.Session
		a.done = make(map[string]bool)
	}
	// Nothing is touched until the window load event has fired.
	if state.ReadyState != "complete" {
		return nil
	}

	var acted []string
	if state.PasswordForm && a.cfg.SignupPassword != "" && a.once(ActionPassword) {
		if bindings.FillPassword(ctx, a.runner, top, a.cfg.SignupPassword) {
			acted = append(acted, ActionPassword)
		}
	}

	switch {
	case state.ProfileForm && state.ProfileEmail != "" && a.once(ActionProfile):
		if a.fillProfile(ctx, top, state.ProfileEmail) {
			acted = append(acted, ActionProfile)
		}
	case state.SubmitProfile && a.once(ActionSubmitProfile):
		if bindings.Click(ctx, a.runner, top, bindings.ClickSubmitProfile, a.cfg.BallotID) {
			acted = append(acted, ActionSubmitProfile)
		}
	case state.Ballot && a.once(ActionBallot):
		if bindings.Click(ctx, a.runner, top, bindings.ClickBallot, a.cfg.BallotID) {
			acted = append(acted, ActionBallot)
		}
	case state.ContinueButton && a.once(ActionContinue):
		if bindings.Click(ctx, a.runner, top, bindings.ClickContinue, a.cfg.BallotID) {
			acted = append(acted, ActionContinue)
		}
	}

	if len(acted) > 0 {
		a.logger.Info("Assistant acted.", zap.Strings("actions", acted), zap.String("session", state.Session))
	}
	return acted
}

func (a *Assistant) fillProfile(ctx context.Context, top bridge.Target, email string) bool {
	rec, ok := a.store.FetchByEmail(ctx, email)
	if !ok {
		a.logger.Warn("No profile record for the signed-in email.", zap.String("email", email))
		return false
	}
	return a.profile.Fill(ctx, a.runner, top, rec)
}

// once marks action as done for the current page session and reports whether
// it had not been done yet.
func (a *Assistant) once(action string) bool {
	if a.done[action] {
		return false
	}
	a.done[action] = true
	return true
}
