// Package bridge runs page capabilities against a tab or a set of frames and
// hands back their single result value.
//
// Every DOM interaction goes through here. A capability that throws, returns
// null or undefined, or targets a frame that no longer exists yields absence.
package bridge

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/frames"
)

// Target identifies where a capability runs. No frame IDs means the tab's top frame.
type Target struct {
	TabID    string
	FrameIDs []string
}

// TopFrame targets the top-level document of a tab.
func TopFrame(tabID string) Target {
	return Target{TabID: tabID}
}

// InFrame targets a frame discovered by the locator.
func InFrame(tabID string, h frames.Handle) Target {
	return Target{TabID: tabID, FrameIDs: []string{h.ID}}
}

// Capability is a named JavaScript function declaration, e.g.
// "function (data) { ... }", invoked with JSON arguments.
type Capability struct {
	Name   string
	Source string
}

// Evaluator executes a function declaration inside one frame of a tab. An
// empty frameID selects the top frame. A nil result with a nil error means the
// function returned undefined.
type Evaluator interface {
	Evaluate(ctx context.Context, tabID, frameID, fn string, args []stdjson.RawMessage) (stdjson.RawMessage, error)
}

// Runner is what page bindings and the orchestrator use to reach the page.
type Runner interface {
	Run(ctx context.Context, target Target, capability Capability, args ...any) (stdjson.RawMessage, bool)
}

// Bridge is the Evaluator backed Runner.
type Bridge struct {
	eval   Evaluator
	logger *zap.Logger
}

var _ Runner = (*Bridge)(nil)

// New creates a Bridge.
func New(eval Evaluator, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{eval: eval, logger: logger.Named("bridge")}
}

// Run executes capability in each frame of target in order and returns the
// first present result.
func (b *Bridge) Run(ctx context.Context, target Target, capability Capability, args ...any) (stdjson.RawMessage, bool) {
	log := b.logger.With(zap.String("capability", capability.Name), zap.String("tab_id", target.TabID))

	encoded, err := encodeArgs(args)
	if err != nil {
		log.Error("Failed to encode capability arguments.", zap.Error(err))
		return nil, false
	}

	frameIDs := target.FrameIDs
	if len(frameIDs) == 0 {
		frameIDs = []string{""}
	}

	for _, frameID := range frameIDs {
		if err := ctx.Err(); err != nil {
			return nil, false
		}

		res, err := b.eval.Evaluate(ctx, target.TabID, frameID, capability.Source, encoded)
		if err != nil {
			log.Debug("Capability produced no result.", zap.String("frame_id", frameID), zap.Error(err))
			continue
		}
		if isAbsent(res) {
			log.Debug("Capability returned nothing.", zap.String("frame_id", frameID))
			continue
		}
		return res, true
	}
	return nil, false
}

// Decode unmarshals a capability result. A missing or undecodable result is
// reported as not ok.
func Decode[T any](raw stdjson.RawMessage, ok bool) (T, bool) {
	var out T
	if !ok || isAbsent(raw) {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// Truthy reports whether a result is present and is JavaScript-truthy for the
// JSON-representable values.
func Truthy(raw stdjson.RawMessage, ok bool) bool {
	if !ok || isAbsent(raw) {
		return false
	}
	switch v := bytes.TrimSpace(raw); string(v) {
	case "false", "0", `""`, "-0":
		return false
	default:
		return true
	}
}

func isAbsent(raw stdjson.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func encodeArgs(args []any) ([]stdjson.RawMessage, error) {
	out := make([]stdjson.RawMessage, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}
