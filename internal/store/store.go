package store

import (
	"context"
	"time"

	"github.com/TalelCS/melek/internal/models"
)

// Tx is one atomic unit of work against a single day's queue. Reads observe
// the same snapshot the writes are committed against.
type Tx interface {
	Day(ctx context.Context) (models.Day, error)
	PutDay(ctx context.Context, day models.Day) error
	Ticket(ctx context.Context, ticketID string) (models.Ticket, error)
	WaitingTickets(ctx context.Context) ([]models.Ticket, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) error
	UpdateTicket(ctx context.Context, ticket models.Ticket) error
	DeleteTickets(ctx context.Context) (int, error)
	// AppendTicketEvent chains an audit entry stamped at onto the ticket's history.
	AppendTicketEvent(ctx context.Context, ticketID, eventType string, payload []byte, at time.Time) error
}

type Store interface {
	// Update runs fn in a read-write transaction and commits when fn returns
	// nil. Transient conflicts are retried; errors returned by fn are not.
	Update(ctx context.Context, dayID string, fn func(tx Tx) error) error
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, dayID string, fn func(tx Tx) error) error
	ListTickets(ctx context.Context, dayID string) ([]models.Ticket, error)
	ListTicketEvents(ctx context.Context, dayID, ticketID string) ([]TicketEvent, error)
	AddFeedback(ctx context.Context, feedback models.Feedback) error
	Ping(ctx context.Context) error
}
