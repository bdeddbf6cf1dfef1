package models

import "time"

// Event announces a committed change to a day's queue. Observers treat it as
// a signal to re-read their view; it carries no state they must apply.
type Event struct {
	Type      string    `json:"type"`
	DayID     string    `json:"day_id"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Position  int       `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	EventTicketJoined   = "ticket.joined"
	EventTicketDone     = "ticket.done"
	EventTicketDeferred = "ticket.deferred"
	EventTicketNoShow   = "ticket.no_show"
	EventTicketLeft     = "ticket.left"
	EventTicketRemoved  = "ticket.removed"
	EventTicketMoved    = "ticket.moved"
	EventQueueStarted   = "queue.started"
	EventQueueReordered = "queue.reordered"
	EventQueueReset     = "queue.reset"
	EventQueueToggled   = "queue.toggled"
	EventAverageChanged = "queue.average_changed"
)
