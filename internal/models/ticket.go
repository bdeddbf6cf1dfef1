package models

import "time"

type Ticket struct {
	TicketID      string     `json:"ticket_id"`
	DayID         string     `json:"day_id"`
	TicketNumber  int        `json:"ticket_number"`
	Position      int        `json:"position"`
	Status        string     `json:"status"`
	SkipCount     int        `json:"skip_count"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	PhoneNumber   string     `json:"phone_number"`
	RemovalReason *string    `json:"removal_reason,omitempty"`
	JoinedAt      time.Time  `json:"joined_at"`
	SkippedAt     *time.Time `json:"skipped_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

const (
	StatusWaiting        = "waiting"
	StatusDone           = "done"
	StatusNoShow         = "no_show"
	StatusLeft           = "left"
	StatusRemovedByAdmin = "removed_by_admin"
)

// MaxSkips is the number of deferrals after which a ticket becomes a no-show.
const MaxSkips = 3

func (t Ticket) IsWaiting() bool {
	return t.Status == StatusWaiting
}
