package flow

import (
	"context"
	stdjson "encoding/json"
	"sync"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/frames"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FetchUnused(ctx context.Context) (recordstore.Record, bool) {
	args := m.Called(ctx)
	return args.Get(0).(recordstore.Record), args.Bool(1)
}

func (m *mockStore) FetchByKey(ctx context.Context, key recordstore.Key, value string) (recordstore.Record, bool) {
	args := m.Called(ctx, key, value)
	return args.Get(0).(recordstore.Record), args.Bool(1)
}

func (m *mockStore) FetchByName(ctx context.Context, name string) (recordstore.Record, bool) {
	args := m.Called(ctx, name)
	return args.Get(0).(recordstore.Record), args.Bool(1)
}

func (m *mockStore) FetchByEmail(ctx context.Context, email string) (recordstore.Record, bool) {
	args := m.Called(ctx, email)
	return args.Get(0).(recordstore.Record), args.Bool(1)
}

func (m *mockStore) ReportStatus(ctx context.Context, email string, status recordstore.Status) {
	m.Called(ctx, email, status)
}

type mockLocator struct {
	mock.Mock
}

func (m *mockLocator) Locate(ctx context.Context, tabID string, spec frames.WaitSpec) (frames.Handle, error) {
	args := m.Called(ctx, tabID, spec)
	return args.Get(0).(frames.Handle), args.Error(1)
}

type runCall struct {
	capability string
	target     bridge.Target
	args       []any
}

// fakeRunner answers capabilities by name from handler functions.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []runCall
	handlers map[string]func(target bridge.Target, args []any) any
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{handlers: make(map[string]func(bridge.Target, []any) any)}
}

func (f *fakeRunner) on(capability string, fn func(target bridge.Target, args []any) any) *fakeRunner {
	f.handlers[capability] = fn
	return f
}

func (f *fakeRunner) returns(capability string, v any) *fakeRunner {
	return f.on(capability, func(bridge.Target, []any) any { return v })
}

func (f *fakeRunner) Run(_ context.Context, target bridge.Target, c bridge.Capability, args ...any) (stdjson.RawMessage, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{capability: c.Name, target: target, args: args})
	h := f.handlers[c.Name]
	f.mu.Unlock()

	if h == nil {
		return nil, false
	}
	v := h(target, args)
	if v == nil {
		return nil, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (f *fakeRunner) called(capability string) []runCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runCall
	for _, c := range f.calls {
		if c.capability == capability {
			out = append(out, c)
		}
	}
	return out
}

func toJSON(t interface{ Fatalf(string, ...any) }, v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
