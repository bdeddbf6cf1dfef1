package ledger

import (
	"context"

	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"
)

// Board is the admin view of the queue. WaitingCount includes the client
// being served.
type Board struct {
	Day                   models.Day      `json:"day"`
	Current               *models.Ticket  `json:"current,omitempty"`
	Waiting               []models.Ticket `json:"waiting"`
	WaitingCount          int             `json:"waiting_count"`
	EstimatedTotalMinutes int             `json:"estimated_total_minutes"`
}

type TicketView struct {
	Ticket               models.Ticket `json:"ticket"`
	PeopleAhead          int           `json:"people_ahead"`
	EstimatedWaitMinutes int           `json:"estimated_wait_minutes"`
	IsCurrent            bool          `json:"is_current"`
	QueueOpen            bool          `json:"queue_open"`
}

// Summary is the public view of the day. It names no clients.
type Summary struct {
	IsOpen                 bool `json:"is_open"`
	WaitingCount           int  `json:"waiting_count"`
	CurrentServingPosition int  `json:"current_serving_position"`
	CurrentTicketNumber    int  `json:"current_ticket_number,omitempty"`
	AverageServiceMinutes  int  `json:"average_service_minutes"`
	EstimatedTotalMinutes  int  `json:"estimated_total_minutes"`
}

func (l *Ledger) Board(ctx context.Context) (Board, error) {
	var board Board
	err := l.view(ctx, "Board", func(ctx context.Context, tx store.Tx) error {
		day, waiting, err := l.snapshot(ctx, tx)
		if err != nil {
			return err
		}
		board = Board{
			Day:                   day,
			Waiting:               make([]models.Ticket, 0, len(waiting)),
			WaitingCount:          len(waiting),
			EstimatedTotalMinutes: len(waiting) * day.AverageServiceMinutes,
		}
		current, ok := currentTicket(day, waiting)
		if ok {
			board.Current = &current
		}
		for _, ticket := range waiting {
			if ok && ticket.TicketID == current.TicketID {
				continue
			}
			board.Waiting = append(board.Waiting, ticket)
		}
		return nil
	})
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

// Tickets lists every ticket of the day, terminal ones included, by position.
func (l *Ledger) Tickets(ctx context.Context) ([]models.Ticket, error) {
	return l.store.ListTickets(ctx, l.dayID)
}

func (l *Ledger) TicketStatus(ctx context.Context, ticketID string) (TicketView, error) {
	var view TicketView
	err := l.view(ctx, "TicketStatus", func(ctx context.Context, tx store.Tx) error {
		ticket, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		day, waiting, err := l.snapshot(ctx, tx)
		if err != nil {
			return err
		}
		view = TicketView{Ticket: ticket, QueueOpen: day.IsOpen}
		if !ticket.IsWaiting() {
			return nil
		}
		view.PeopleAhead = peopleAhead(waiting, ticket.Position)
		view.EstimatedWaitMinutes = view.PeopleAhead * day.AverageServiceMinutes
		view.IsCurrent = day.Serving() && ticket.Position == day.CurrentServingPosition
		return nil
	})
	if err != nil {
		return TicketView{}, err
	}
	return view, nil
}

func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	var summary Summary
	err := l.view(ctx, "Summary", func(ctx context.Context, tx store.Tx) error {
		day, waiting, err := l.snapshot(ctx, tx)
		if err != nil {
			return err
		}
		summary = Summary{
			IsOpen:                 day.IsOpen,
			WaitingCount:           len(waiting),
			CurrentServingPosition: day.CurrentServingPosition,
			AverageServiceMinutes:  day.AverageServiceMinutes,
			EstimatedTotalMinutes:  len(waiting) * day.AverageServiceMinutes,
		}
		if current, ok := currentTicket(day, waiting); ok {
			summary.CurrentTicketNumber = current.TicketNumber
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// TicketEvents returns the audit trail of one ticket, oldest first.
func (l *Ledger) TicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	return l.store.ListTicketEvents(ctx, l.dayID, ticketID)
}

func (l *Ledger) snapshot(ctx context.Context, tx store.Tx) (models.Day, []models.Ticket, error) {
	day, err := l.loadDay(ctx, tx)
	if err != nil {
		return models.Day{}, nil, err
	}
	waiting, err := tx.WaitingTickets(ctx)
	if err != nil {
		return models.Day{}, nil, err
	}
	return day, waiting, nil
}
