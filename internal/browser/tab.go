package browser

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/frames"
)

// worldName names the isolated world capabilities run in. It shares the DOM
// with the page but not its JavaScript globals.
const worldName = "formpilot"

// ErrUnknownTab is returned when a call names a tab other than the attached one.
var ErrUnknownTab = errors.New("unknown tab")

// errNoContext marks failures to obtain an execution context, as opposed to
// the capability itself failing.
var errNoContext = errors.New("no execution context for frame")

// Tab is one attached page target. It enumerates frames and evaluates
// capabilities inside them.
type Tab struct {
	id     string
	ctx    context.Context
	logger *zap.Logger

	worlds *worldCache

	mu           sync.Mutex
	frameTargets map[string]frameTarget
	parents      map[string]string
}

type frameTarget struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ frames.Source    = (*Tab)(nil)
	_ bridge.Evaluator = (*Tab)(nil)
)

// tabSession keys the tab's own session in the world cache; frame target
// sessions are keyed by their target ID.
const tabSession = ""

func newTab(ctx context.Context, id string, logger *zap.Logger) *Tab {
	t := &Tab{
		id:           id,
		ctx:          ctx,
		logger:       logger.With(zap.String("tab_id", id)),
		worlds:       newWorldCache(),
		frameTargets: make(map[string]frameTarget),
		parents:      make(map[string]string),
	}
	t.worlds.watch(ctx, tabSession)
	return t
}

// ID returns the DevTools target ID of the tab.
func (t *Tab) ID() string { return t.id }

func (t *Tab) check(tabID string) error {
	if tabID != "" && tabID != t.id {
		return fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	return nil
}

// Frames returns the tab's frame tree in document order, followed by any
// out-of-process iframe targets of this tab the tree does not include.
func (t *Tab) Frames(ctx context.Context, tabID string) ([]frames.Handle, error) {
	if err := t.check(tabID); err != nil {
		return nil, err
	}
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	var tree *page.FrameTree
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get frame tree: %w", err)
	}

	handles := flattenFrameTree(tree)

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		t.logger.Debug("Could not list targets; using the frame tree only.", zap.Error(err))
		return handles, nil
	}
	handles = mergeFrameTargets(handles, infos, t.targetParent(ctx))
	t.releaseForeignTargets(handles)
	return handles, nil
}

// targetParent reads the parent frame of an iframe target's root frame from
// the target's own session. Results are cached per target.
func (t *Tab) targetParent(ctx context.Context) parentFunc {
	return func(targetID string) (string, bool) {
		t.mu.Lock()
		parent, ok := t.parents[targetID]
		t.mu.Unlock()
		if ok {
			return parent, true
		}

		fctx, err := t.frameTarget(targetID)
		if err != nil {
			t.logger.Debug("Could not attach iframe target.", zap.String("target_id", targetID), zap.Error(err))
			return "", false
		}
		runCtx, cancel := CombineContext(fctx, ctx)
		defer cancel()

		var tree *page.FrameTree
		err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			tree, err = page.GetFrameTree().Do(ctx)
			return err
		}))
		if err != nil || tree == nil || tree.Frame == nil {
			return "", false
		}

		parent = string(tree.Frame.ParentID)
		t.mu.Lock()
		t.parents[targetID] = parent
		t.mu.Unlock()
		return parent, true
	}
}

// releaseForeignTargets detaches from iframe targets that turned out to
// belong to another tab.
func (t *Tab) releaseForeignTargets(handles []frames.Handle) {
	own := make(map[string]bool, len(handles))
	for _, h := range handles {
		own[h.ID] = true
	}

	t.mu.Lock()
	var foreign []string
	for id := range t.parents {
		if !own[id] {
			foreign = append(foreign, id)
		}
	}
	t.mu.Unlock()

	for _, id := range foreign {
		t.dropFrameTarget(id)
	}
}

// Evaluate calls fn in an isolated world of the frame. When the frame cannot
// be reached through the tab session it is attached as its own target.
func (t *Tab) Evaluate(ctx context.Context, tabID, frameID, fn string, args []stdjson.RawMessage) (stdjson.RawMessage, error) {
	if err := t.check(tabID); err != nil {
		return nil, err
	}

	res, err := t.evaluateIn(ctx, t.ctx, tabSession, frameID, fn, args)
	if err == nil || frameID == "" || !errors.Is(err, errNoContext) {
		return res, err
	}

	fctx, ferr := t.frameTarget(frameID)
	if ferr != nil {
		return nil, fmt.Errorf("%w; attaching frame target: %w", err, ferr)
	}
	res, err = t.evaluateIn(ctx, fctx, frameID, frameID, fn, args)
	if errors.Is(err, errNoContext) {
		t.dropFrameTarget(frameID)
	}
	return res, err
}

// frameTarget returns a chromedp context attached to the frame's own target.
func (t *Tab) frameTarget(frameID string) (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ft, ok := t.frameTargets[frameID]; ok && ft.ctx.Err() == nil {
		return ft.ctx, nil
	}

	fctx, cancel := chromedp.NewContext(t.ctx, chromedp.WithTargetID(target.ID(frameID)))
	if err := chromedp.Run(fctx); err != nil {
		cancel()
		return nil, err
	}
	t.worlds.watch(fctx, frameID)
	t.logger.Debug("Attached out-of-process frame.", zap.String("frame_id", frameID))
	t.frameTargets[frameID] = frameTarget{ctx: fctx, cancel: cancel}
	return fctx, nil
}

func (t *Tab) dropFrameTarget(frameID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ft, ok := t.frameTargets[frameID]; ok {
		ft.cancel()
		delete(t.frameTargets, frameID)
		t.worlds.forgetSession(frameID)
	}
}

func (t *Tab) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ft := range t.frameTargets {
		ft.cancel()
		delete(t.frameTargets, id)
	}
}

// evaluateIn runs fn against frameID through the session carried by cdpCtx.
// An empty frameID selects the session's main frame. The isolated world is
// created once per frame and reused until Chrome destroys it.
func (t *Tab) evaluateIn(opCtx, cdpCtx context.Context, session, frameID, fn string, args []stdjson.RawMessage) (stdjson.RawMessage, error) {
	runCtx, cancel := CombineContext(cdpCtx, opCtx)
	defer cancel()

	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		callArgs = append(callArgs, &runtime.CallArgument{Value: []byte(a)})
	}

	var out stdjson.RawMessage
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		fid := cdp.FrameID(frameID)
		if fid == "" {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("%w: %w", errNoContext, err)
			}
			fid = tree.Frame.ID
		}

		key := worldKey{session: session, frame: string(fid)}
		execID, cached := t.worlds.get(key)
		if !cached {
			var err error
			if execID, err = createWorld(ctx, fid); err != nil {
				return err
			}
			t.worlds.put(key, execID)
		}

		res, exc, err := callFunction(ctx, execID, fn, callArgs)
		if err != nil && cached && ctx.Err() == nil {
			// A protocol error means the call never ran; the cached world is stale.
			t.worlds.forget(key)
			if execID, err = createWorld(ctx, fid); err != nil {
				return err
			}
			t.worlds.put(key, execID)
			res, exc, err = callFunction(ctx, execID, fn, callArgs)
		}
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if res == nil || res.Type == runtime.TypeUndefined {
			return nil
		}
		out = stdjson.RawMessage(res.Value)
		return nil
	}))
	return out, err
}

func createWorld(ctx context.Context, fid cdp.FrameID) (runtime.ExecutionContextID, error) {
	execID, err := page.CreateIsolatedWorld(fid).WithWorldName(worldName).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w %s: %w", errNoContext, fid, err)
	}
	return execID, nil
}

func callFunction(ctx context.Context, execID runtime.ExecutionContextID, fn string, args []*runtime.CallArgument) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	return runtime.CallFunctionOn(fn).
		WithExecutionContextID(execID).
		WithArguments(args).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		Do(ctx)
}
