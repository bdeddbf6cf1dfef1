// Package notify derives the local-notification triggers of a watched
// ticket from successive views of it. Delivery is left to the client.
package notify

import (
	"strconv"

	"github.com/TalelCS/melek/internal/ledger"
	"github.com/TalelCS/melek/internal/models"
)

type Kind string

const (
	KindNext        Kind = "next"
	KindAlmostNext  Kind = "almost_next"
	KindSkipped     Kind = "skipped"
	KindDone        Kind = "done"
	KindNoShow      Kind = "no_show"
	KindRemoved     Kind = "removed_by_admin"
	KindLeft        Kind = "left"
	KindQueueOpened Kind = "queue_opened"
	KindGone        Kind = "gone"
)

const DefaultLang = "fr"

// AlmostNextThreshold is the largest number of people ahead that still
// counts as almost next.
const AlmostNextThreshold = 2

type Notice struct {
	Kind        Kind   `json:"kind"`
	TicketID    string `json:"ticket_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Position    int    `json:"position,omitempty"`
	PeopleAhead int    `json:"people_ahead,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type proximity int

const (
	far proximity = iota
	almost
	next
)

// Tracker remembers what a single watcher has already been told so each
// notice fires once per state. It is not safe for concurrent use.
type Tracker struct {
	lang      string
	seen      bool
	position  int
	proximity proximity
	closed    bool
	queueOpen bool
}

func NewTracker(lang string) *Tracker {
	if _, ok := templates[lang]; !ok {
		lang = DefaultLang
	}
	return &Tracker{lang: lang}
}

func (t *Tracker) Lang() string {
	return t.lang
}

// Observe compares view with the previous one and returns the notices it
// triggers.
func (t *Tracker) Observe(view ledger.TicketView) []Notice {
	if t.closed {
		return nil
	}
	ticket := view.Ticket
	var notices []Notice

	if t.seen && !t.queueOpen && view.QueueOpen && ticket.IsWaiting() {
		notices = append(notices, t.notice(KindQueueOpened, ticket, view, ""))
	}
	t.queueOpen = view.QueueOpen

	if !ticket.IsWaiting() {
		t.closed = true
		kind, reason := terminalKind(ticket, t.lang)
		return append(notices, t.notice(kind, ticket, view, reason))
	}

	if t.seen && ticket.Position > t.position {
		notices = append(notices, t.notice(KindSkipped, ticket, view, ""))
	}
	t.seen = true
	t.position = ticket.Position

	current := far
	switch {
	case view.PeopleAhead == 0:
		current = next
	case view.PeopleAhead <= AlmostNextThreshold:
		current = almost
	}
	switch {
	case current == next && t.proximity != next:
		notices = append(notices, t.notice(KindNext, ticket, view, ""))
	case current == almost && t.proximity == far:
		notices = append(notices, t.notice(KindAlmostNext, ticket, view, ""))
	}
	if current == far || current == next || t.proximity == far {
		t.proximity = current
	}
	return notices
}

// Gone reports that the watched ticket no longer exists, which happens when
// the day is reset.
func (t *Tracker) Gone(ticketID string) []Notice {
	if t.closed {
		return nil
	}
	t.closed = true
	tmpl := lookup(t.lang, KindGone)
	return []Notice{{Kind: KindGone, TicketID: ticketID, Title: tmpl.Title, Body: tmpl.Body}}
}

func (t *Tracker) notice(kind Kind, ticket models.Ticket, view ledger.TicketView, reason string) Notice {
	tmpl := lookup(t.lang, kind)
	minutes := view.EstimatedWaitMinutes
	values := map[string]string{
		"first_name":    ticket.FirstName,
		"ticket_number": strconv.Itoa(ticket.TicketNumber),
		"position":      strconv.Itoa(ticket.Position),
		"people_ahead":  peopleLabel(t.lang, view.PeopleAhead),
		"minutes":       strconv.Itoa(minutes),
		"reason":        reason,
	}
	return Notice{
		Kind:        kind,
		TicketID:    ticket.TicketID,
		Title:       renderTemplate(tmpl.Title, values),
		Body:        renderTemplate(tmpl.Body, values),
		Position:    ticket.Position,
		PeopleAhead: view.PeopleAhead,
		Reason:      reason,
	}
}

func terminalKind(ticket models.Ticket, lang string) (Kind, string) {
	switch ticket.Status {
	case models.StatusDone:
		return KindDone, ""
	case models.StatusNoShow:
		return KindNoShow, ""
	case models.StatusLeft:
		return KindLeft, ""
	default:
		reason := defaultReason[lang]
		if ticket.RemovalReason != nil && *ticket.RemovalReason != "" {
			reason = *ticket.RemovalReason
		}
		return KindRemoved, reason
	}
}
