package flow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/bindings"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/frames"
)

// UnknownUser is the name used when the header frame or its name element is
// missing. It is still searched for in the store.
const UnknownUser = "Unknown User"

// FrameLocator finds a frame in a tab by URL substring.
type FrameLocator interface {
	Locate(ctx context.Context, tabID string, spec frames.WaitSpec) (frames.Handle, error)
}

// NameResolver reads the logged-in user's full name from the site header frame.
type NameResolver struct {
	locator FrameLocator
	runner  bridge.Runner
	spec    frames.WaitSpec
	logger  *zap.Logger
}

// NewNameResolver creates a resolver that waits for the header frame described by spec.
func NewNameResolver(locator FrameLocator, runner bridge.Runner, spec frames.WaitSpec, logger *zap.Logger) *NameResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NameResolver{locator: locator, runner: runner, spec: spec, logger: logger}
}

// Resolve returns the header name, or UnknownUser.
func (n *NameResolver) Resolve(ctx context.Context, tabID string) string {
	h, err := n.locator.Locate(ctx, tabID, n.spec)
	if err != nil {
		n.logger.Warn("Header frame not accessible; using placeholder name.", zap.Error(err))
		return UnknownUser
	}

	name, ok := bridge.Decode[string](n.runner.Run(ctx, bridge.InFrame(tabID, h), bindings.HeaderName))
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		n.logger.Warn("Header frame has no user name; using placeholder name.", zap.String("frame_id", h.ID))
		return UnknownUser
	}
	return name
}
