// Package client keeps a live view of usage for UI and middleware callers.
//
// A UsageTracker follows one (subject, feature) pair and a SubjectTracker
// follows every feature of one subject. Both fetch on retarget, optionally
// refresh on an interval, and never let an older response overwrite a newer
// one. Mutations made through a tracker are detached from the caller's
// cancellation, so navigating away never abandons a half-sent write.
package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/guard/usage"
)

// DefaultRefreshInterval is how often trackers refetch when auto-refresh
// is on.
const DefaultRefreshInterval = 30 * time.Second

var (
	// ErrClosed is returned by trackers after Close.
	ErrClosed = errors.New("client: tracker closed")

	// ErrNoTarget is returned by mutations before a complete target is set.
	ErrNoTarget = errors.New("client: no subject or feature to track")
)

// Service is the ledger a tracker reads and writes. *guard.Guard
// satisfies it; so does an HTTP client for the guard API.
type Service interface {
	GetUsage(ctx context.Context, subjectID, featureSlug string) (*usage.Record, error)
	RecordUsage(ctx context.Context, subjectID, featureSlug string, amount int64) (*usage.Record, error)
	ResetUsage(ctx context.Context, subjectID, featureSlug string) error
	ListUsageForSubject(ctx context.Context, subjectID string) ([]*usage.Record, error)
}

// Notification describes a failed tracker mutation.
type Notification struct {
	Op          string
	SubjectID   string
	FeatureSlug string
	Message     string
	Err         error
}

// Notifier receives transient failure notices, typically rendered as toasts.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

type options struct {
	autoRefresh bool
	interval    time.Duration
	logger      *slog.Logger
	notifier    Notifier
	onChange    func()
}

func defaultOptions() options {
	return options{
		autoRefresh: true,
		interval:    DefaultRefreshInterval,
		logger:      slog.Default(),
	}
}

// Option configures a tracker.
type Option func(*options)

// WithAutoRefresh toggles interval refetching. It is on by default.
func WithAutoRefresh(enabled bool) Option {
	return func(o *options) { o.autoRefresh = enabled }
}

// WithRefreshInterval sets the auto-refresh period. Non-positive values
// keep the default.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNotifier sets where mutation failures are announced.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithOnChange registers fn to run after every applied response. fn may
// read State and may call Track or Close. It runs on the goroutine that
// completed the request, so it should return quickly.
func WithOnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}
