package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/TalelCS/melek/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	joined := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	closedAt := func(minutes int) *time.Time {
		at := joined.Add(time.Duration(minutes) * time.Minute)
		return &at
	}
	tickets := []models.Ticket{
		{Status: models.StatusDone, JoinedAt: joined, ClosedAt: closedAt(20)},
		{Status: models.StatusDone, JoinedAt: joined, ClosedAt: closedAt(40)},
		{Status: models.StatusWaiting, JoinedAt: joined},
		{Status: models.StatusNoShow, JoinedAt: joined, ClosedAt: closedAt(5)},
		{Status: models.StatusLeft, JoinedAt: joined, ClosedAt: closedAt(1)},
		{Status: models.StatusRemovedByAdmin, JoinedAt: joined, ClosedAt: closedAt(2)},
	}

	stats := computeStats("today", tickets)
	assert.Equal(t, Stats{
		DayID:           "today",
		Joined:          6,
		Waiting:         1,
		Done:            2,
		NoShow:          1,
		Left:            1,
		Removed:         1,
		AvgVisitMinutes: 30,
	}, stats)
}

func TestStatsAfterService(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	first := join(t, l, "Amine", "22000001")
	join(t, l, "Sami", "22000002")
	_, err := l.StartService(ctx)
	require.NoError(t, err)
	_, err = l.Advance(ctx, first.TicketID)
	require.NoError(t, err)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Joined)
	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, 1, stats.Waiting)
	assert.Greater(t, stats.AvgVisitMinutes, 0.0)
}
