package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

type worldKey struct {
	session string
	frame   string
}

// worldCache remembers the isolated world created in each frame so repeated
// evaluations do not pile up execution contexts. Entries are dropped when
// Chrome reports the context destroyed, which happens on navigation.
type worldCache struct {
	mu  sync.Mutex
	ids map[worldKey]runtime.ExecutionContextID
}

func newWorldCache() *worldCache {
	return &worldCache{ids: make(map[worldKey]runtime.ExecutionContextID)}
}

func (w *worldCache) get(k worldKey) (runtime.ExecutionContextID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.ids[k]
	return id, ok
}

func (w *worldCache) put(k worldKey, id runtime.ExecutionContextID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids[k] = id
}

func (w *worldCache) forget(k worldKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.ids, k)
}

// forgetContext drops the entry of session whose world is id.
func (w *worldCache) forgetContext(session string, id runtime.ExecutionContextID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range w.ids {
		if k.session == session && v == id {
			delete(w.ids, k)
		}
	}
}

// forgetSession drops every entry of session.
func (w *worldCache) forgetSession(session string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k := range w.ids {
		if k.session == session {
			delete(w.ids, k)
		}
	}
}

// handle applies a Runtime event received on session.
func (w *worldCache) handle(session string, ev any) {
	switch e := ev.(type) {
	case *runtime.EventExecutionContextDestroyed:
		w.forgetContext(session, e.ExecutionContextID)
	case *runtime.EventExecutionContextsCleared:
		w.forgetSession(session)
	}
}

// watch subscribes the cache to context lifecycle events of the chromedp
// session in ctx. Contexts without a chromedp session are ignored.
func (w *worldCache) watch(ctx context.Context, session string) {
	if chromedp.FromContext(ctx) == nil {
		return
	}
	chromedp.ListenTarget(ctx, func(ev any) { w.handle(session, ev) })
}
