package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/frames"
)

func TestAllocatorFlags(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless: true,
		Args:     []string{"--window-size=1280,800", "--lang=en-US", "mute-audio", "--"},
	}
	flags := allocatorFlags(cfg)

	assert.Equal(t, true, flags["headless"])
	assert.Equal(t, false, flags["enable-automation"], "automation banner flag is removed")
	assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	assert.Equal(t, true, flags["disable-site-isolation-trials"])
	assert.Equal(t, "IsolateOrigins,site-per-process", flags["disable-features"])
	assert.Equal(t, "1280,800", flags["window-size"])
	assert.Equal(t, "en-US", flags["lang"])
	assert.Equal(t, true, flags["mute-audio"])
	assert.NotContains(t, flags, "")

	if runtime.GOOS == "linux" {
		assert.Equal(t, true, flags["no-sandbox"])
	}

	headful := allocatorFlags(config.BrowserConfig{})
	assert.Equal(t, false, headful["headless"])
	assert.Equal(t, false, headful["disable-gpu"])
}

func TestDefaultAllocatorOptions(t *testing.T) {
	base := len(DefaultAllocatorOptionsBase())
	cfg := config.BrowserConfig{UserDataDir: "/tmp/profile"}
	opts := DefaultAllocatorOptions(cfg)
	assert.Equal(t, base+len(allocatorFlags(cfg))+1, len(opts))

	opts = DefaultAllocatorOptions(config.BrowserConfig{})
	assert.Equal(t, base+len(allocatorFlags(config.BrowserConfig{})), len(opts))
}

func TestFlattenFrameTree(t *testing.T) {
	tree := &page.FrameTree{
		Frame: &cdp.Frame{ID: "TOP", URL: "https://fifa-fwc26-us.tickets.fifa.com/secure/cart", URLFragment: "#step2"},
		ChildFrames: []*page.FrameTree{
			{
				Frame: &cdp.Frame{ID: "HDR", URL: "https://fifa-fwc26-us.tickets.fifa.com/api/1/resources/custom/en/header.html"},
				ChildFrames: []*page.FrameTree{
					{Frame: &cdp.Frame{ID: "HDR-AD", URL: "https://ads.example/"}},
				},
			},
			{Frame: &cdp.Frame{ID: "PAY", URL: "https://payment-p8.secutix.com/alias/widget"}},
			{Frame: nil},
		},
	}

	got := flattenFrameTree(tree)
	assert.Equal(t, []frames.Handle{
		{ID: "TOP", URL: "https://fifa-fwc26-us.tickets.fifa.com/secure/cart#step2"},
		{ID: "HDR", URL: "https://fifa-fwc26-us.tickets.fifa.com/api/1/resources/custom/en/header.html"},
		{ID: "HDR-AD", URL: "https://ads.example/"},
		{ID: "PAY", URL: "https://payment-p8.secutix.com/alias/widget"},
	}, got)

	assert.Empty(t, flattenFrameTree(nil))
}

func TestMergeFrameTargets(t *testing.T) {
	handles := []frames.Handle{
		{ID: "TOP", URL: "https://tickets/"},
		{ID: "PAY", URL: ""},
	}
	infos := []*target.Info{
		{TargetID: "TOP", Type: "page", URL: "https://tickets/"},
		{TargetID: "PAY", Type: "iframe", URL: "https://payment-p8.secutix.com/alias"},
		{TargetID: "NESTED", Type: "iframe", URL: "https://widget.example/inner"},
		{TargetID: "OWN", Type: "iframe", URL: "https://other.example/frame"},
		{TargetID: "SW", Type: "service_worker", URL: "https://tickets/sw.js"},
		nil,
	}
	parents := map[string]string{"OWN": "TOP", "NESTED": "OWN"}
	parentOf := func(id string) (string, bool) {
		p, ok := parents[id]
		return p, ok
	}

	got := mergeFrameTargets(handles, infos, parentOf)
	assert.Equal(t, []frames.Handle{
		{ID: "TOP", URL: "https://tickets/"},
		{ID: "PAY", URL: "https://payment-p8.secutix.com/alias", TargetID: "PAY"},
		{ID: "OWN", URL: "https://other.example/frame", TargetID: "OWN"},
		{ID: "NESTED", URL: "https://widget.example/inner", TargetID: "NESTED"},
	}, got)
}

func TestMergeFrameTargets_SkipsOtherTabs(t *testing.T) {
	handles := []frames.Handle{{ID: "TAB1", URL: "https://fifa-fwc26-us.tickets.fifa.com/checkout"}}
	infos := []*target.Info{
		{TargetID: "TAB1", Type: "page", URL: "https://fifa-fwc26-us.tickets.fifa.com/checkout"},
		{TargetID: "TAB2", Type: "page", URL: "https://fifa-fwc26-us.tickets.fifa.com/checkout"},
		{TargetID: "OTHERPAY", Type: "iframe", URL: "https://payment-p8.secutix.com/alias/widget"},
		{TargetID: "UNREADABLE", Type: "iframe", URL: "https://payment-p8.secutix.com/alias/widget"},
	}
	parentOf := func(id string) (string, bool) {
		if id == "OTHERPAY" {
			return "TAB2", true
		}
		return "", false
	}

	got := mergeFrameTargets(handles, infos, parentOf)
	assert.Equal(t, []frames.Handle{{ID: "TAB1", URL: "https://fifa-fwc26-us.tickets.fifa.com/checkout"}}, got)

	_, found := frames.Match(got, "payment-p8.secutix.com/alias")
	assert.False(t, found, "an iframe of another tab must not be locatable")

	assert.Equal(t, handles, mergeFrameTargets(handles, infos, nil))
}

func TestWorldCache(t *testing.T) {
	w := newWorldCache()
	top := worldKey{session: tabSession, frame: "TOP"}
	pay := worldKey{session: tabSession, frame: "PAY"}
	oopif := worldKey{session: "PAY", frame: "PAY"}
	w.put(top, 7)
	w.put(pay, 8)
	w.put(oopif, 7)

	id, ok := w.get(top)
	require.True(t, ok)
	assert.Equal(t, cdpruntime.ExecutionContextID(7), id)

	// Context IDs are only unique within a session.
	w.handle(tabSession, &cdpruntime.EventExecutionContextDestroyed{ExecutionContextID: 7})
	_, ok = w.get(top)
	assert.False(t, ok)
	_, ok = w.get(oopif)
	assert.True(t, ok)
	_, ok = w.get(pay)
	assert.True(t, ok)

	w.handle(tabSession, &cdpruntime.EventExecutionContextsCleared{})
	_, ok = w.get(pay)
	assert.False(t, ok)

	w.handle("PAY", &page.EventFrameNavigated{})
	_, ok = w.get(oopif)
	assert.True(t, ok)

	w.forgetSession("PAY")
	_, ok = w.get(oopif)
	assert.False(t, ok)

	assert.NotPanics(t, func() { w.watch(context.Background(), tabSession) })
}

func TestChoosePage(t *testing.T) {
	infos := []targetInfo{
		{ID: "bg", Type: "background_page", URL: "chrome-extension://x"},
		{ID: "t1", Type: "page", URL: "https://news.example/"},
		{ID: "t2", Type: "page", URL: "https://fifa-fwc26-us.tickets.fifa.com/account"},
	}

	got, err := choosePage(infos, "tickets.fifa.com")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.ID)

	got, err = choosePage(infos, "nowhere")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID, "falls back to the first page")

	_, err = choosePage(infos[:1], "")
	assert.ErrorIs(t, err, ErrNoTab)
}

func TestDevtoolsHTTPBase(t *testing.T) {
	for in, want := range map[string]string{
		"http://127.0.0.1:9222":                          "http://127.0.0.1:9222",
		"http://127.0.0.1:9222/":                         "http://127.0.0.1:9222",
		"ws://127.0.0.1:9222/devtools/browser/abc":       "http://127.0.0.1:9222",
		"wss://chrome.internal:443/devtools/browser/abc": "https://chrome.internal:443",
	} {
		got, err := devtoolsHTTPBase(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"ftp://x", "http://", "::"} {
		_, err := devtoolsHTTPBase(bad)
		assert.Error(t, err, bad)
	}
}

func TestPickTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[
			{"id":"A","type":"page","url":"about:blank","webSocketDebuggerUrl":"ws://x/devtools/page/A"},
			{"id":"B","type":"page","url":"https://fifa-fwc26-us.tickets.fifa.com/secure","webSocketDebuggerUrl":"ws://x/devtools/page/B"}
		]`)
	}))
	defer srv.Close()

	m := NewManager(config.BrowserConfig{RemoteURL: srv.URL, TabURLContains: "tickets.fifa.com"}, zaptest.NewLogger(t))
	m.httpClient = srv.Client()

	info, err := m.pickTarget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", info.ID)
}

func TestPickTarget_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(config.BrowserConfig{RemoteURL: srv.URL}, zaptest.NewLogger(t))
	m.httpClient = srv.Client()
	_, err := m.pickTarget(context.Background())
	assert.Error(t, err)
}

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	type key struct{}
	primary := context.WithValue(context.Background(), key{}, "cdp")

	t.Run("SecondaryCancels", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, secondary)
		defer cancel()

		assert.Equal(t, "cdp", combined.Value(key{}))
		cancelSecondary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not cancelled by secondary")
		}
	})

	t.Run("PrimaryCancels", func(t *testing.T) {
		p, cancelPrimary := context.WithCancel(primary)
		combined, cancel := CombineContext(p, context.Background())
		defer cancel()

		cancelPrimary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not cancelled by primary")
		}
	})

	t.Run("DeadlineFromSecondary", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelSecondary()
		combined, cancel := CombineContext(primary, secondary)
		defer cancel()

		<-combined.Done()
		assert.True(t, errors.Is(combined.Err(), context.Canceled))
	})
}

func TestTab_RejectsOtherTabs(t *testing.T) {
	tab := newTab(context.Background(), "TAB-1", zaptest.NewLogger(t))

	_, err := tab.Frames(context.Background(), "TAB-2")
	assert.ErrorIs(t, err, ErrUnknownTab)

	_, err = tab.Evaluate(context.Background(), "TAB-2", "", "function () {}", nil)
	assert.ErrorIs(t, err, ErrUnknownTab)

	assert.Equal(t, "TAB-1", tab.ID())
}

func TestManager_CloseWithoutConnect(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, nil)
	assert.NotPanics(t, m.Close)
}
