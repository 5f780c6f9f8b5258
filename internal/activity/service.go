package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	defaultRecent = 20
	maxRecent     = 50
)

// Recorder writes and reads the activity log.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder builds a Recorder.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record stores one entry. Entries without action or table are rejected.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.Action == "" || e.Table == "" {
		return errors.New("activity: action and table required")
	}
	if err := r.repo.Insert(ctx, e); err != nil {
		return fmt.Errorf("activity: record %s on %s: %w", e.Action, e.Table, err)
	}
	return nil
}

// Log records an entry and only logs failures, for callers whose mutation already committed.
func (r *Recorder) Log(ctx context.Context, e Entry) {
	if err := r.Record(ctx, e); err != nil {
		r.logger.Warn("record activity", slog.String("table", e.Table), slog.Int64("row_id", e.RowID), slog.Any("error", err))
	}
}

// Recent returns the newest entries, limit clamped to [1, 50].
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	if limit > maxRecent {
		limit = maxRecent
	}
	return r.repo.Recent(ctx, limit)
}
