package bindings

import (
	"context"
	stdjson "encoding/json"
	"sync"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/internal/bridge"
)

type runCall struct {
	capability string
	target     bridge.Target
	args       []any
}

// fakeRunner answers capabilities by name from handler functions.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []runCall
	handlers map[string]func(args []any) any
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{handlers: make(map[string]func(args []any) any)}
}

func (f *fakeRunner) on(capability string, fn func(args []any) any) {
	f.handlers[capability] = fn
}

func (f *fakeRunner) Run(_ context.Context, target bridge.Target, c bridge.Capability, args ...any) (stdjson.RawMessage, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{capability: c.Name, target: target, args: args})
	h := f.handlers[c.Name]
	f.mu.Unlock()

	if h == nil {
		return nil, false
	}
	v := h(args)
	if v == nil {
		return nil, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (f *fakeRunner) count(capability string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.capability == capability {
			n++
		}
	}
	return n
}

func (f *fakeRunner) lastArgs(capability string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].capability == capability {
			return f.calls[i].args
		}
	}
	return nil
}

// fakeTicketPage models the product list: which items are expanded and the
// quantity currently selected on each.
type fakeTicketPage struct {
	session  string
	matches  []string
	expanded map[int]bool
	quantity map[int]int
}

func newFakeTicketPage(session string, matches ...string) *fakeTicketPage {
	return &fakeTicketPage{session: session, matches: matches, expanded: map[int]bool{}, quantity: map[int]int{}}
}

func (p *fakeTicketPage) install(r *fakeRunner) {
	r.on("ticket_items", func([]any) any {
		items := make([]ticketItem, 0, len(p.matches))
		for i, m := range p.matches {
			items = append(items, ticketItem{Index: i, Match: m})
		}
		return ticketList{Session: p.session, Items: items}
	})
	r.on("ticket_expand", func(args []any) any {
		p.expanded[args[1].(int)] = true
		return true
	})
	r.on("ticket_select", func(args []any) any {
		idx := args[1].(int)
		if !p.expanded[idx] {
			return false
		}
		p.quantity[idx] += args[3].(int)
		return true
	})
}
