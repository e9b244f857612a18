// Package browser connects formpilot to Chromium over the DevTools protocol.
// It either attaches to a browser the user already runs (started with
// --remote-debugging-port) or launches one, then binds to a single tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// ErrNoTab is returned when a remote browser has no page target to attach to.
var ErrNoTab = errors.New("no page target available")

// Manager owns the browser connection and the attached tab.
type Manager struct {
	cfg        config.BrowserConfig
	logger     *zap.Logger
	httpClient *http.Client

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         *Tab
}

// NewManager creates a Manager. Nothing is started until Connect.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger.Named("browser"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Connect attaches to the configured browser and returns the working tab.
// Calling it again returns the same tab.
func (m *Manager) Connect(ctx context.Context) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tab != nil {
		return m.tab, nil
	}

	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
		tabOpts     []chromedp.ContextOption
	)

	if m.cfg.RemoteURL != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, timeout)
		info, err := m.pickTarget(lookupCtx)
		cancel()
		if err != nil {
			return nil, err
		}
		m.logger.Info("Attaching to existing tab.", zap.String("tab_id", info.ID), zap.String("url", info.URL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, m.cfg.RemoteURL)
		tabOpts = append(tabOpts, chromedp.WithTargetID(target.ID(info.ID)))
	} else {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless), zap.String("user_data_dir", m.cfg.UserDataDir))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(m.cfg)...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx, tabOpts...)

	// The first Run allocates the browser and binds it to tabCtx, so it must
	// not carry the connect deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	if m.cfg.RemoteURL == "" && m.cfg.StartURL != "" {
		navCtx, cancelNav := context.WithTimeout(tabCtx, timeout)
		err := chromedp.Run(navCtx, chromedp.Navigate(m.cfg.StartURL))
		cancelNav()
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to open %s: %w", m.cfg.StartURL, err)
		}
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		tabCancel()
		allocCancel()
		return nil, errors.New("browser context has no target")
	}

	m.allocCancel = allocCancel
	m.tabCancel = tabCancel
	m.tab = newTab(tabCtx, string(c.Target.TargetID), m.logger)
	m.logger.Info("Browser tab ready.", zap.String("tab_id", m.tab.ID()))
	return m.tab, nil
}

// Close releases the tab and the allocator. A launched browser is shut down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tab != nil {
		m.tab.close()
		m.tab = nil
	}
	if m.tabCancel != nil {
		m.tabCancel()
		m.tabCancel = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}
}

// targetInfo is one entry of the DevTools /json/list endpoint.
type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// pickTarget chooses the tab to drive: the first page whose URL contains
// TabURLContains, otherwise the first page.
func (m *Manager) pickTarget(ctx context.Context) (targetInfo, error) {
	base, err := devtoolsHTTPBase(m.cfg.RemoteURL)
	if err != nil {
		return targetInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/list", nil)
	if err != nil {
		return targetInfo{}, fmt.Errorf("failed to build target list request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return targetInfo{}, fmt.Errorf("failed to list browser targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return targetInfo{}, fmt.Errorf("failed to list browser targets: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return targetInfo{}, fmt.Errorf("failed to read target list: %w", err)
	}
	var infos []targetInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return targetInfo{}, fmt.Errorf("failed to decode target list: %w", err)
	}

	return choosePage(infos, m.cfg.TabURLContains)
}

func choosePage(infos []targetInfo, urlContains string) (targetInfo, error) {
	var first *targetInfo
	for i := range infos {
		if infos[i].Type != "page" {
			continue
		}
		if first == nil {
			first = &infos[i]
		}
		if urlContains != "" && strings.Contains(infos[i].URL, urlContains) {
			return infos[i], nil
		}
	}
	if first == nil {
		return targetInfo{}, ErrNoTab
	}
	return *first, nil
}

// devtoolsHTTPBase converts a DevTools endpoint (http, https, ws or wss) to
// the HTTP origin serving the /json endpoints.
func devtoolsHTTPBase(remote string) (string, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid browser.remote_url %q: %w", remote, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid browser.remote_url %q: unsupported scheme", remote)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid browser.remote_url %q: missing host", remote)
	}
	return u.Scheme + "://" + u.Host, nil
}
