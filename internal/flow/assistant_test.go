package flow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/bindings"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

func testAssistConfig() config.AssistConfig {
	return config.AssistConfig{
		Interval:   time.Second,
		SaveDelay:  time.Second,
		FanCountry: "USA",
		BallotID:   "stx-ballot-selection-details-10229650558900",
	}
}

func TestAssistant_ProfileOncePerSession(t *testing.T) {
	store := &mockStore{}
	store.On("FetchByEmail", mock.Anything, "fan@x.com").Return(recordstore.Record{Email: "fan@x.com", Address: "1 Main St", City: "Austin"}, true).Once()

	state := bindings.AssistState{ReadyState: "complete", Session: "s1", ProfileForm: true, ProfileEmail: "fan@x.com"}
	runner := newFakeRunner().
		on("assist_probe", func(_ bridge.Target, args []any) any {
			assert.Equal(t, "stx-ballot-selection-details-10229650558900", args[0])
			return state
		}).
		returns("fill_profile", true)
	a := NewAssistant(testAssistConfig(), store, runner, zaptest.NewLogger(t))

	assert.Equal(t, []string{ActionProfile}, a.Tick(context.Background(), tabID))
	assert.Empty(t, a.Tick(context.Background(), tabID))
	store.AssertExpectations(t)

	fills := runner.called("fill_profile")
	require.Len(t, fills, 1)
	assert.Equal(t, "USA", fills[0].args[1])
	assert.Equal(t, int64(1000), fills[0].args[2])

	// Navigation opens a new session.
	state.Session = "s2"
	store.On("FetchByEmail", mock.Anything, "fan@x.com").Return(recordstore.Record{Email: "fan@x.com"}, true).Once()
	assert.Equal(t, []string{ActionProfile}, a.Tick(context.Background(), tabID))
}

func TestAssistant_ProfileWithoutRecord(t *testing.T) {
	store := &mockStore{}
	store.On("FetchByEmail", mock.Anything, "fan@x.com").Return(recordstore.Record{}, false).Once()
	runner := newFakeRunner().
		returns("assist_probe", bindings.AssistState{ReadyState: "complete", Session: "s1", ProfileForm: true, ProfileEmail: "fan@x.com", SubmitProfile: true}).
		returns("assist_click", true)
	a := NewAssistant(testAssistConfig(), store, runner, zaptest.NewLogger(t))

	assert.Empty(t, a.Tick(context.Background(), tabID))
	assert.Empty(t, runner.called("fill_profile"))

	// The profile attempt is spent; the next tick moves on to the submit button.
	assert.Equal(t, []string{ActionSubmitProfile}, a.Tick(context.Background(), tabID))
	store.AssertExpectations(t)
}

func TestAssistant_WaitsForProfileEmail(t *testing.T) {
	store := &mockStore{}
	state := bindings.AssistState{ReadyState: "complete", Session: "s1", ProfileForm: true}
	runner := newFakeRunner().on("assist_probe", func(bridge.Target, []any) any { return state }).returns("fill_profile", true)
	a := NewAssistant(testAssistConfig(), store, runner, zaptest.NewLogger(t))

	assert.Empty(t, a.Tick(context.Background(), tabID))
	store.AssertNotCalled(t, "FetchByEmail", mock.Anything, mock.Anything)

	state.ProfileEmail = "fan@x.com"
	store.On("FetchByEmail", mock.Anything, "fan@x.com").Return(recordstore.Record{Email: "fan@x.com"}, true)
	assert.Equal(t, []string{ActionProfile}, a.Tick(context.Background(), tabID))
}

func TestAssistant_PasswordAndContinue(t *testing.T) {
	cfg := testAssistConfig()
	cfg.SignupPassword = "Tickets@123"
	runner := newFakeRunner().
		returns("assist_probe", bindings.AssistState{ReadyState: "complete", Session: "s1", PasswordForm: true, ContinueButton: true}).
		returns("fill_password", true).
		on("assist_click", func(_ bridge.Target, args []any) any { return args[0] == string(bindings.ClickContinue) })
	a := NewAssistant(cfg, &mockStore{}, runner, zaptest.NewLogger(t))

	assert.Equal(t, []string{ActionPassword, ActionContinue}, a.Tick(context.Background(), tabID))
	assert.Empty(t, a.Tick(context.Background(), tabID))

	pw := runner.called("fill_password")
	require.Len(t, pw, 1)
	assert.Equal(t, []any{"Tickets@123"}, pw[0].args)
}

func TestAssistant_NoPasswordConfigured(t *testing.T) {
	runner := newFakeRunner().returns("assist_probe", bindings.AssistState{ReadyState: "complete", Session: "s1", PasswordForm: true})
	a := NewAssistant(testAssistConfig(), &mockStore{}, runner, zaptest.NewLogger(t))

	assert.Empty(t, a.Tick(context.Background(), tabID))
	assert.Empty(t, runner.called("fill_password"))
}

func TestAssistant_BallotBeforeContinue(t *testing.T) {
	runner := newFakeRunner().
		returns("assist_probe", bindings.AssistState{ReadyState: "complete", Session: "s1", Ballot: true, ContinueButton: true}).
		returns("assist_click", true)
	a := NewAssistant(testAssistConfig(), &mockStore{}, runner, zaptest.NewLogger(t))

	assert.Equal(t, []string{ActionBallot}, a.Tick(context.Background(), tabID))
	assert.Equal(t, []string{ActionContinue}, a.Tick(context.Background(), tabID))
	assert.Empty(t, a.Tick(context.Background(), tabID))

	clicks := runner.called("assist_click")
	require.Len(t, clicks, 2)
	assert.Equal(t, []any{"ballot", "stx-ballot-selection-details-10229650558900"}, clicks[0].args)
}

func TestAssistant_WaitsForLoad(t *testing.T) {
	state := bindings.AssistState{ReadyState: "interactive", Session: "s1", Ballot: true}
	runner := newFakeRunner().
		on("assist_probe", func(bridge.Target, []any) any { return state }).
		returns("assist_click", true)
	a := NewAssistant(testAssistConfig(), &mockStore{}, runner, zaptest.NewLogger(t))

	assert.Empty(t, a.Tick(context.Background(), tabID))
	assert.Empty(t, runner.called("assist_click"))

	state.ReadyState = "complete"
	assert.Equal(t, []string{ActionBallot}, a.Tick(context.Background(), tabID))
}

func TestAssistant_ProbeAbsent(t *testing.T) {
	a := NewAssistant(testAssistConfig(), &mockStore{}, newFakeRunner(), nil)
	assert.Nil(t, a.Tick(context.Background(), tabID))
}

func TestAssistant_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var probes atomic.Int32
	runner := newFakeRunner().on("assist_probe", func(bridge.Target, []any) any {
		probes.Add(1)
		return bindings.AssistState{ReadyState: "complete", Session: "s1"}
	})
	cfg := testAssistConfig()
	cfg.Interval = 5 * time.Millisecond
	a := NewAssistant(cfg, &mockStore{}, runner, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, tabID) }()

	require.Eventually(t, func() bool { return probes.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("assistant did not stop")
	}
}
