// Package notify delivers proxy list refresh summaries.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
)

// Log writes each refresh diff to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

// NotifyRefresh implements fetch.Notifier.
func (l *Log) NotifyRefresh(_ context.Context, diff fetch.Diff) error {
	l.logger.Info("proxy list refreshed",
		zap.Int("before", diff.Before),
		zap.Int("after", diff.After),
		zap.Int("added", diff.Added),
		zap.Int("removed", diff.Removed),
		zap.Int("retained", diff.Retained),
		zap.String("checksum", diff.Checksum),
	)
	return nil
}

// Multi fans a diff out to several notifiers and returns the first error.
type Multi []fetch.Notifier

// NotifyRefresh implements fetch.Notifier. Every notifier is called even if an
// earlier one fails.
func (m Multi) NotifyRefresh(ctx context.Context, diff fetch.Diff) error {
	var first error
	for _, n := range m {
		if err := n.NotifyRefresh(ctx, diff); err != nil && first == nil {
			first = err
		}
	}
	return first
}
