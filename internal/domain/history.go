package domain

import (
	"context"
	"time"
)

// HistoryRecord is a persisted coordinator run.
type HistoryRecord struct {
	ID            string              `json:"id"`
	CorrelationID string              `json:"correlation_id"`
	Source        string              `json:"source"` // "api", "cli", "watch:<name>"
	Intent        IntentKey           `json:"intent"`
	Query         string              `json:"query"`
	Success       bool                `json:"success"`
	TotalMs       int64               `json:"total_ms"`
	Response      CoordinatorResponse `json:"response"`
	CreatedAt     time.Time           `json:"created_at"`
}

// HistoryStore persists coordinator runs.
type HistoryStore interface {
	Save(ctx context.Context, rec *HistoryRecord) error
	Get(ctx context.Context, id string) (*HistoryRecord, error)
	List(ctx context.Context, limit int) ([]*HistoryRecord, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
