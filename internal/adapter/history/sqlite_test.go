package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyintel/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string, at time.Time) *domain.HistoryRecord {
	return &domain.HistoryRecord{
		ID:            id,
		CorrelationID: "corr-" + id,
		Source:        "api",
		Intent:        domain.IntentAnalyzeRisks,
		Query:         "Assess port risks",
		Success:       true,
		TotalMs:       420,
		Response: domain.CoordinatorResponse{
			Success:       true,
			Intent:        domain.IntentAnalyzeRisks,
			CorrelationID: "corr-" + id,
			PrimaryResult: domain.NewAgentOutput("RiskAnalysisAgent", domain.RoleRiskAnalysis,
				domain.RiskAnalysisData{
					Risks:            []domain.Risk{{Title: "Port strike", Category: "logistics", Severity: "high", Probability: 0.4}},
					OverallRiskScore: 64,
				}, 72, "One high risk", []string{"Recommend mitigations for the top risks"}, 300*time.Millisecond),
			SynthesizedResponse: "Expect delays at the port.",
			SuggestedActions:    []string{"Recommend mitigations for the top risks"},
		},
		CreatedAt: at,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 9, 30, 0, 123456789, time.UTC)

	require.NoError(t, s.Save(ctx, sampleRecord("r1", at)))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "corr-r1", got.CorrelationID)
	assert.Equal(t, domain.IntentAnalyzeRisks, got.Intent)
	assert.True(t, got.Success)
	assert.Equal(t, int64(420), got.TotalMs)
	assert.True(t, at.Equal(got.CreatedAt))

	data, ok := got.Response.PrimaryResult.Data.(domain.RiskAnalysisData)
	require.True(t, ok, "primary data should decode to its concrete variant")
	require.Len(t, data.Risks, 1)
	assert.Equal(t, "Port strike", data.Risks[0].Title)
	assert.Equal(t, "Expect delays at the port.", got.Response.SynthesizedResponse)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveRejectsDuplicateAndEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleRecord("dup", time.Now())))

	assert.ErrorIs(t, s.Save(ctx, sampleRecord("dup", time.Now())), domain.ErrHistoryStore)
	assert.ErrorIs(t, s.Save(ctx, &domain.HistoryRecord{}), domain.ErrInvalidInput)
}

func TestSaveDefaultsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord("now", time.Time{})
	require.NoError(t, s.Save(context.Background(), rec))
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, sampleRecord(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	recs, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "r4", recs[0].ID)
	assert.Equal(t, "r3", recs[1].ID)
	assert.Equal(t, "r2", recs[2].ID)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	recs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Save(ctx, sampleRecord(fmt.Sprintf("r%d", i), base.AddDate(0, 0, i))))
	}

	n, err := s.PruneBefore(ctx, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r3", recs[0].ID)
	assert.Equal(t, "r2", recs[1].ID)

	n, err = s.PruneBefore(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, n)
}
