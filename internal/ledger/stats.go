package ledger

import (
	"context"

	"github.com/TalelCS/melek/internal/models"
)

// Stats summarises the outcome of the day's tickets. AvgVisitMinutes is the
// mean time from joining to being marked done.
type Stats struct {
	DayID           string  `json:"day_id"`
	Joined          int     `json:"joined"`
	Waiting         int     `json:"waiting"`
	Done            int     `json:"done"`
	NoShow          int     `json:"no_show"`
	Left            int     `json:"left"`
	Removed         int     `json:"removed_by_admin"`
	AvgVisitMinutes float64 `json:"avg_visit_minutes"`
}

func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	tickets, err := l.Tickets(ctx)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(l.dayID, tickets), nil
}

func computeStats(dayID string, tickets []models.Ticket) Stats {
	stats := Stats{DayID: dayID, Joined: len(tickets)}
	var visitMinutes float64
	for _, ticket := range tickets {
		switch ticket.Status {
		case models.StatusWaiting:
			stats.Waiting++
		case models.StatusDone:
			stats.Done++
			if ticket.ClosedAt != nil {
				visitMinutes += ticket.ClosedAt.Sub(ticket.JoinedAt).Minutes()
			}
		case models.StatusNoShow:
			stats.NoShow++
		case models.StatusLeft:
			stats.Left++
		case models.StatusRemovedByAdmin:
			stats.Removed++
		}
	}
	if stats.Done > 0 {
		stats.AvgVisitMinutes = visitMinutes / float64(stats.Done)
	}
	return stats
}
