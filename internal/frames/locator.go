// Package frames discovers browsing-context frames inside a tab by polling
// frame-tree snapshots until one whose URL matches appears.
package frames

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Default polling parameters.
const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultTimeout      = 15 * time.Second
)

// Handle identifies a frame inside a tab. Handles are only valid for the
// navigation during which they were discovered.
type Handle struct {
	ID  string
	URL string
	// TargetID is set when the frame lives in its own renderer process and
	// must be attached to as a separate DevTools target.
	TargetID string
}

// WaitSpec configures a single Locate call.
type WaitSpec struct {
	URLSubstring string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Source returns the frames currently attached to a tab, in a stable order.
type Source interface {
	Frames(ctx context.Context, tabID string) ([]Handle, error)
}

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// NotFoundError is returned when no matching frame appeared before the deadline.
type NotFoundError struct {
	URLSubstring string
	Elapsed      time.Duration
	Polls        int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("frame matching %q not found after %s (%d polls)", e.URLSubstring, e.Elapsed, e.Polls)
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Locator polls a Source for frames.
type Locator struct {
	source Source
	logger *zap.Logger
	sleep  SleepFunc
}

// Option configures a Locator.
type Option func(*Locator)

// WithLogger sets the logger used for poll diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(loc *Locator) { loc.logger = l }
}

// WithSleep replaces the timer used between polls.
func WithSleep(fn SleepFunc) Option {
	return func(loc *Locator) { loc.sleep = fn }
}

// NewLocator creates a Locator reading frames from source.
func NewLocator(source Source, opts ...Option) *Locator {
	l := &Locator{
		source: source,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate polls the tab's frames until one whose URL contains spec.URLSubstring
// appears, or spec.Timeout of accumulated poll intervals has elapsed.
//
// Elapsed time is counted in poll-interval increments, not wall clock, so the
// real duration exceeds the timeout by the time spent taking snapshots. A
// snapshot is taken at elapsed 0, one interval, ..., and finally at the
// timeout itself before giving up.
func (l *Locator) Locate(ctx context.Context, tabID string, spec WaitSpec) (Handle, error) {
	spec = spec.withDefaults()
	log := l.logger.With(zap.String("url_substring", spec.URLSubstring), zap.String("tab_id", tabID))

	var elapsed time.Duration
	polls := 0
	for {
		if err := ctx.Err(); err != nil {
			return Handle{}, err
		}

		polls++
		snapshot, err := l.source.Frames(ctx, tabID)
		if err != nil {
			// The tab navigated away or closed; treat as no match for this tick.
			log.Debug("Frame snapshot failed.", zap.Int("poll", polls), zap.Error(err))
		} else if h, ok := Match(snapshot, spec.URLSubstring); ok {
			log.Debug("Frame located.", zap.String("frame_id", h.ID), zap.Duration("elapsed", elapsed), zap.Int("polls", polls))
			return h, nil
		}

		if elapsed >= spec.Timeout {
			return Handle{}, &NotFoundError{URLSubstring: spec.URLSubstring, Elapsed: elapsed, Polls: polls}
		}

		if err := l.sleep(ctx, spec.PollInterval); err != nil {
			return Handle{}, err
		}
		elapsed += spec.PollInterval
	}
}

// Match returns the first frame whose URL contains substr.
func Match(snapshot []Handle, substr string) (Handle, bool) {
	for _, h := range snapshot {
		if strings.Contains(h.URL, substr) {
			return h, true
		}
	}
	return Handle{}, false
}

func (s WaitSpec) withDefaults() WaitSpec {
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
