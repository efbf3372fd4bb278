package scheduling

import (
	"context"
	"fmt"
	"time"

	"supplyintel/internal/domain"
)

// QueryRunner is the coordinator entry point used by watch queries.
type QueryRunner interface {
	Process(ctx context.Context, req domain.CoordinatorRequest) (*domain.CoordinatorResponse, error)
}

// CachePruner evicts expired shell cache entries.
type CachePruner interface {
	PruneCaches() int
}

// WatchQuery runs the task's query through the coordinator and fails the
// run when the primary agent did not succeed.
func WatchQuery(runner QueryRunner) ActionFunc {
	return func(ctx context.Context, task Task) (string, error) {
		resp, err := runner.Process(ctx, domain.CoordinatorRequest{
			Query:  task.Query,
			Intent: task.Intent,
			Origin: "watch:" + task.Name,
		})
		if err != nil {
			return "", err
		}
		if !resp.Success {
			return "", domain.NewDomainError("scheduling.WatchQuery", domain.ErrAgentFailed, resp.PrimaryResult.Error)
		}
		return fmt.Sprintf("intent=%s correlation_id=%s confidence=%.0f",
			resp.Intent, resp.CorrelationID, resp.PrimaryResult.Confidence), nil
	}
}

// HistoryPrune deletes history records older than retention.
func HistoryPrune(store domain.HistoryStore, retention time.Duration, now func() time.Time) ActionFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ Task) (string, error) {
		if retention <= 0 {
			return "retention disabled", nil
		}
		n, err := store.PruneBefore(ctx, now().Add(-retention))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pruned %d records", n), nil
	}
}

// CachePrune evicts expired cache entries.
func CachePrune(p CachePruner) ActionFunc {
	return func(_ context.Context, _ Task) (string, error) {
		return fmt.Sprintf("evicted %d entries", p.PruneCaches()), nil
	}
}
