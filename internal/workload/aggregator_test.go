package workload_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/workload"
)

type stubReader struct {
	rows []domain.PriorityCount
	err  error
	got  []string
}

func (s *stubReader) OpenLoadByAgent(_ context.Context, ids []string) ([]domain.PriorityCount, error) {
	s.got = ids
	return s.rows, s.err
}

func TestSnapshotWeightsByPriority(t *testing.T) {
	reader := &stubReader{rows: []domain.PriorityCount{
		{AgentID: "a", Priority: domain.TicketPriorityUrgent, Count: 1},
		{AgentID: "a", Priority: domain.TicketPriorityHigh, Count: 2},
		{AgentID: "b", Priority: domain.TicketPriorityMedium, Count: 2},
		{AgentID: "b", Priority: domain.TicketPriorityLow, Count: 1},
	}}
	fixed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	agg := workload.NewAggregator(reader, func() time.Time { return fixed })

	snap, err := agg.Snapshot(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, fixed, snap.TakenAt)
	assert.InDelta(t, 7.0, snap.Load("a"), 1e-9)
	assert.InDelta(t, 4.0, snap.Load("b"), 1e-9)
	assert.Contains(t, snap.Loads, "c")
	assert.Zero(t, snap.Load("c"))
	assert.Equal(t, []string{"a", "b", "c"}, reader.got)
}

func TestSnapshotEmptyAgentListSkipsRead(t *testing.T) {
	reader := &stubReader{err: errors.New("should not be called")}
	agg := workload.NewAggregator(reader, nil)

	snap, err := agg.Snapshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Loads)
	assert.Nil(t, reader.got)
}

func TestSnapshotPropagatesReadError(t *testing.T) {
	boom := errors.New("db down")
	agg := workload.NewAggregator(&stubReader{err: boom}, nil)

	_, err := agg.Snapshot(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
}

func TestStdDev(t *testing.T) {
	tests := map[string]struct {
		loads    map[string]float64
		ids      []string
		expected float64
	}{
		"Empty":     {loads: map[string]float64{}, ids: nil, expected: 0},
		"Balanced":  {loads: map[string]float64{"a": 3, "b": 3}, ids: []string{"a", "b"}, expected: 0},
		"Skewed":    {loads: map[string]float64{"a": 9, "b": 1}, ids: []string{"a", "b"}, expected: 4},
		"MissingID": {loads: map[string]float64{"a": 4}, ids: []string{"a", "b"}, expected: 2},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, workload.StdDev(tc.loads, tc.ids), 1e-9)
		})
	}
}
