// Package recordstore is the HTTP client for the external record store.
//
// The store is a soft dependency. Every read degrades to absence on failure
// and status reports are best-effort, so callers branch on a boolean instead
// of handling errors.
package recordstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// Key is a searchable store column.
type Key string

const (
	KeyStatus Key = "status"
	KeyName   Key = "name"
	KeyEmail  Key = "email"
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 1 << 20

// Store is the contract the flow components depend on.
type Store interface {
	FetchUnused(ctx context.Context) (Record, bool)
	FetchByKey(ctx context.Context, key Key, value string) (Record, bool)
	FetchByName(ctx context.Context, name string) (Record, bool)
	FetchByEmail(ctx context.Context, email string) (Record, bool)
	ReportStatus(ctx context.Context, email string, status Status)
}

// Client talks to the store over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	reported map[string]Status
}

var _ Store = (*Client)(nil)

// NewClient creates a store client. A nil httpClient uses a dedicated client
// with the configured timeout.
func NewClient(cfg config.StoreConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    cfg.Timeout,
		logger:     logger.Named("recordstore"),
		reported:   make(map[string]Status),
	}
}

// FetchUnused returns one record whose status is Available. A record this
// process has already reported as Used or Done is treated as absent, since the
// store may not have applied the update yet.
func (c *Client) FetchUnused(ctx context.Context) (Record, bool) {
	rec, ok := c.FetchByKey(ctx, KeyStatus, string(StatusAvailable))
	if !ok {
		return Record{}, false
	}
	if rec.Status != "" && rec.Status != StatusAvailable {
		c.logger.Warn("Store returned a non-available record for the unused query.",
			zap.String("email", rec.Email), zap.String("status", string(rec.Status)))
		return Record{}, false
	}
	if prev, seen := c.reportedStatus(rec.Email); seen && prev.Terminal() {
		c.logger.Warn("Store returned a record already consumed in this session.",
			zap.String("email", rec.Email), zap.String("reported", string(prev)))
		return Record{}, false
	}
	return rec, true
}

// FetchByName searches the store by the record's full name.
func (c *Client) FetchByName(ctx context.Context, name string) (Record, bool) {
	return c.FetchByKey(ctx, KeyName, name)
}

// FetchByEmail searches the store by the record identifier.
func (c *Client) FetchByEmail(ctx context.Context, email string) (Record, bool) {
	return c.FetchByKey(ctx, KeyEmail, email)
}

// FetchByKey issues GET {base}/search/{key}?value={value}.
func (c *Client) FetchByKey(ctx context.Context, key Key, value string) (Record, bool) {
	log := c.logger.With(zap.String("key", string(key)), zap.String("value", value))

	endpoint := fmt.Sprintf("%s/search/%s?value=%s", c.baseURL, url.PathEscape(string(key)), url.QueryEscape(value))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Debug("Store lookup failed; treating as absent.", zap.Error(err))
		return Record{}, false
	}

	rec, ok, err := decodeRecord(body)
	if err != nil {
		log.Debug("Store response could not be decoded; treating as absent.", zap.Error(err))
		return Record{}, false
	}
	if !ok {
		log.Debug("No record matched.")
		return Record{}, false
	}
	log.Debug("Record fetched.", zap.String("email", rec.Email))
	return rec, true
}

// ReportStatus posts {email, status} to {base}/update-status. Failures are
// logged and dropped, and the response body is ignored. Reports that would
// move a record backwards, or repeat the last reported status, are skipped.
func (c *Client) ReportStatus(ctx context.Context, email string, status Status) {
	log := c.logger.With(zap.String("email", email), zap.String("status", string(status)))

	if !c.advance(email, status) {
		log.Warn("Skipping status report that does not move the record forward.")
		return
	}

	payload, err := json.Marshal(statusUpdate{Email: email, Status: status})
	if err != nil {
		log.Error("Failed to encode status update.", zap.Error(err))
		return
	}

	if _, err := c.do(ctx, http.MethodPost, c.baseURL+"/update-status", payload); err != nil {
		log.Warn("Status report failed; not retrying.", zap.Error(err))
		return
	}
	log.Info("Status reported.")
}

type statusUpdate struct {
	Email  string `json:"email"`
	Status Status `json:"status"`
}

// advance records status for email if it ranks above anything reported before.
func (c *Client) advance(email string, status Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.reported[email]; ok && status.Rank() <= prev.Rank() {
		return false
	}
	c.reported[email] = status
	return true
}

func (c *Client) reportedStatus(email string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.reported[email]
	return s, ok
}

// do performs one rate limited request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return body, nil
}
