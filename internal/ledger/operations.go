package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"
)

type JoinInput struct {
	FirstName   string
	LastName    string
	PhoneNumber string
}

// JoinResult carries what a client needs to resume watching its ticket.
type JoinResult struct {
	Ticket               models.Ticket `json:"ticket"`
	InitialPeopleAhead   int           `json:"initial_people_ahead"`
	EstimatedWaitMinutes int           `json:"estimated_wait_minutes"`
}

// Outcome reports the state left behind by a ticket operation. Swapped is set
// when a deferral moved another client into the serving slot.
type Outcome struct {
	Day     models.Day     `json:"day"`
	Ticket  models.Ticket  `json:"ticket"`
	Swapped *models.Ticket `json:"swapped,omitempty"`
}

func (l *Ledger) Join(ctx context.Context, input JoinInput) (JoinResult, error) {
	input, err := l.normalizeJoin(input)
	if err != nil {
		return JoinResult{}, err
	}

	var result JoinResult
	err = l.mutate(ctx, "Join", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, err := l.loadDay(ctx, tx)
		if err != nil {
			return err
		}
		if !day.IsOpen {
			return store.ErrQueueClosed
		}
		waiting, err := tx.WaitingTickets(ctx)
		if err != nil {
			return err
		}
		for _, ticket := range waiting {
			if ticket.PhoneNumber == input.PhoneNumber {
				return store.ErrDuplicatePhone
			}
		}

		number := day.LastTicketNumber + 1
		ticket := models.Ticket{
			TicketID:     l.newID(),
			DayID:        l.dayID,
			TicketNumber: number,
			Position:     number,
			Status:       models.StatusWaiting,
			FirstName:    input.FirstName,
			LastName:     input.LastName,
			PhoneNumber:  input.PhoneNumber,
			JoinedAt:     rec.at,
		}
		day.LastTicketNumber = number
		if err := l.putDay(ctx, tx, day, rec.at); err != nil {
			return err
		}
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return err
		}
		if err := rec.ticket(ctx, tx, models.EventTicketJoined, ticket, true); err != nil {
			return err
		}

		ahead := peopleAhead(waiting, ticket.Position)
		result = JoinResult{
			Ticket:               ticket,
			InitialPeopleAhead:   ahead,
			EstimatedWaitMinutes: ahead * day.AverageServiceMinutes,
		}
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	return result, nil
}

// StartService puts the lowest-positioned waiting client in the serving slot
// and returns that position.
func (l *Ledger) StartService(ctx context.Context) (int, error) {
	var position int
	err := l.mutate(ctx, "StartService", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, err := l.loadDay(ctx, tx)
		if err != nil {
			return err
		}
		if day.Serving() {
			return store.ErrAlreadyServing
		}
		waiting, err := tx.WaitingTickets(ctx)
		if err != nil {
			return err
		}
		if len(waiting) == 0 {
			return store.ErrNoWaitingClients
		}
		first := waiting[0]
		day.CurrentServingPosition = first.Position
		if err := l.putDay(ctx, tx, day, rec.at); err != nil {
			return err
		}
		rec.events = append(rec.events, models.Event{
			Type:      models.EventQueueStarted,
			DayID:     l.dayID,
			TicketID:  first.TicketID,
			Status:    first.Status,
			Position:  first.Position,
			CreatedAt: rec.at,
		})
		position = first.Position
		return nil
	})
	if err != nil {
		return 0, err
	}
	return position, nil
}

// Advance marks the current client done and moves the serving slot to the
// next waiting position, or to idle when nobody is left.
func (l *Ledger) Advance(ctx context.Context, ticketID string) (Outcome, error) {
	var outcome Outcome
	err := l.mutate(ctx, "Advance", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, ticket, waiting, err := l.loadCurrent(ctx, tx, ticketID, "advance")
		if err != nil {
			return err
		}
		ticket, err = l.closeTicket(ctx, tx, rec, ticket, "advance", nil)
		if err != nil {
			return err
		}
		day, err = l.advanceFrom(ctx, tx, rec, day, waiting, ticket)
		if err != nil {
			return err
		}
		outcome = Outcome{Day: day, Ticket: ticket}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// Defer sets the current client aside. The first two deferrals swap the
// client with the next waiting one; the third marks the ticket a no-show.
func (l *Ledger) Defer(ctx context.Context, ticketID string) (Outcome, error) {
	var outcome Outcome
	err := l.mutate(ctx, "Defer", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, ticket, waiting, err := l.loadCurrent(ctx, tx, ticketID, "defer")
		if err != nil {
			return err
		}

		if ticket.SkipCount >= models.MaxSkips-1 {
			ticket.SkipCount++
			skippedAt := rec.at
			ticket.SkippedAt = &skippedAt
			ticket, err = l.closeTicket(ctx, tx, rec, ticket, "no_show", nil)
			if err != nil {
				return err
			}
			day, err = l.advanceFrom(ctx, tx, rec, day, waiting, ticket)
			if err != nil {
				return err
			}
			outcome = Outcome{Day: day, Ticket: ticket}
			return nil
		}

		next, ok := nextAfter(waiting, day.CurrentServingPosition, ticket.TicketID)
		if !ok {
			return store.ErrNoOneToSwapWith
		}
		ticket.Position, next.Position = next.Position, ticket.Position
		ticket.SkipCount++
		skippedAt := rec.at
		ticket.SkippedAt = &skippedAt

		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		if err := tx.UpdateTicket(ctx, next); err != nil {
			return err
		}
		if err := rec.ticket(ctx, tx, models.EventTicketDeferred, ticket, true); err != nil {
			return err
		}
		if err := rec.ticket(ctx, tx, models.EventTicketMoved, next, false); err != nil {
			return err
		}
		if err := l.putDay(ctx, tx, day, rec.at); err != nil {
			return err
		}
		outcome = Outcome{Day: day, Ticket: ticket, Swapped: &next}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// Remove takes a waiting ticket out of the queue on the admin's behalf.
func (l *Ledger) Remove(ctx context.Context, ticketID, reason string) (Outcome, error) {
	reason = strings.TrimSpace(reason)
	return l.withdraw(ctx, "Remove", ticketID, "remove", &reason)
}

// Leave withdraws a waiting ticket on the client's behalf.
func (l *Ledger) Leave(ctx context.Context, ticketID string) (Outcome, error) {
	return l.withdraw(ctx, "Leave", ticketID, "leave", nil)
}

func (l *Ledger) withdraw(ctx context.Context, op, ticketID, action string, reason *string) (Outcome, error) {
	var outcome Outcome
	err := l.mutate(ctx, op, func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, err := l.loadDay(ctx, tx)
		if err != nil {
			return err
		}
		ticket, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		if !store.ValidTransition(action, ticket.Status) {
			return store.ErrNotWaiting
		}
		waiting, err := tx.WaitingTickets(ctx)
		if err != nil {
			return err
		}
		wasCurrent := day.Serving() && ticket.Position == day.CurrentServingPosition

		ticket, err = l.closeTicket(ctx, tx, rec, ticket, action, reason)
		if err != nil {
			return err
		}
		if wasCurrent {
			day, err = l.advanceFrom(ctx, tx, rec, day, waiting, ticket)
			if err != nil {
				return err
			}
		}
		outcome = Outcome{Day: day, Ticket: ticket}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// Reorder renumbers the waiting clients behind the serving slot in the given
// order. ticketIDs must name every waiting ticket except the current one.
func (l *Ledger) Reorder(ctx context.Context, ticketIDs []string) ([]models.Ticket, error) {
	var reordered []models.Ticket
	err := l.mutate(ctx, "Reorder", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, err := l.loadDay(ctx, tx)
		if err != nil {
			return err
		}
		waiting, err := tx.WaitingTickets(ctx)
		if err != nil {
			return err
		}
		current, serving := currentTicket(day, waiting)

		byID := make(map[string]models.Ticket, len(waiting))
		for _, ticket := range waiting {
			if serving && ticket.TicketID == current.TicketID {
				continue
			}
			byID[ticket.TicketID] = ticket
		}
		if len(ticketIDs) != len(byID) {
			return fmt.Errorf("%w: expected %d tickets, got %d", store.ErrInvalidReorder, len(byID), len(ticketIDs))
		}

		reordered = make([]models.Ticket, 0, len(ticketIDs))
		seen := make(map[string]bool, len(ticketIDs))
		for i, id := range ticketIDs {
			ticket, ok := byID[id]
			if !ok || seen[id] {
				return fmt.Errorf("%w: unexpected ticket %s", store.ErrInvalidReorder, id)
			}
			seen[id] = true
			if !store.ValidTransition("reorder", ticket.Status) {
				return store.ErrNotWaiting
			}
			position := day.CurrentServingPosition + i + 1
			if ticket.Position != position {
				ticket.Position = position
				if err := tx.UpdateTicket(ctx, ticket); err != nil {
					return err
				}
				if err := rec.ticket(ctx, tx, models.EventTicketMoved, ticket, false); err != nil {
					return err
				}
			}
			reordered = append(reordered, ticket)
		}
		if err := l.putDay(ctx, tx, day, rec.at); err != nil {
			return err
		}
		rec.queue(models.EventQueueReordered)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reordered, nil
}

// ResetDay deletes every ticket of the day and restarts numbering at 1.
// The open flag is left as it was. It returns the number of deleted tickets.
func (l *Ledger) ResetDay(ctx context.Context) (int, error) {
	var deleted int
	err := l.mutate(ctx, "ResetDay", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, err := l.loadDay(ctx, tx)
		if err != nil {
			return err
		}
		deleted, err = tx.DeleteTickets(ctx)
		if err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
		day.LastTicketNumber = 0
		day.CurrentServingPosition = 0
		if err := l.putDay(ctx, tx, day, rec.at); err != nil {
			return err
		}
		rec.queue(models.EventQueueReset)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ToggleOpen flips the open flag and returns the new value.
func (l *Ledger) ToggleOpen(ctx context.Context) (bool, error) {
	var open bool
	err := l.mutate(ctx, "ToggleOpen", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		day, err := l.loadDay(ctx, tx)
		if err != nil {
			return err
		}
		day.IsOpen = !day.IsOpen
		if err := l.putDay(ctx, tx, day, rec.at); err != nil {
			return err
		}
		rec.queue(models.EventQueueToggled)
		open = day.IsOpen
		return nil
	})
	return open, err
}

func (l *Ledger) SetAverageServiceMinutes(ctx context.Context, minutes int) (models.Day, error) {
	if minutes <= 0 {
		return models.Day{}, fmt.Errorf("%w: average service minutes must be positive", store.ErrInvalidInput)
	}
	var day models.Day
	err := l.mutate(ctx, "SetAverageServiceMinutes", func(ctx context.Context, tx store.Tx, rec *recorder) error {
		var err error
		day, err = l.loadDay(ctx, tx)
		if err != nil {
			return err
		}
		day.AverageServiceMinutes = minutes
		day.UpdatedAt = rec.at
		if err := l.putDay(ctx, tx, day, rec.at); err != nil {
			return err
		}
		rec.queue(models.EventAverageChanged)
		return nil
	})
	if err != nil {
		return models.Day{}, err
	}
	return day, nil
}

// loadCurrent fetches a ticket that must be the client being served.
func (l *Ledger) loadCurrent(ctx context.Context, tx store.Tx, ticketID, action string) (models.Day, models.Ticket, []models.Ticket, error) {
	day, err := l.loadDay(ctx, tx)
	if err != nil {
		return models.Day{}, models.Ticket{}, nil, err
	}
	ticket, err := tx.Ticket(ctx, ticketID)
	if err != nil {
		return models.Day{}, models.Ticket{}, nil, err
	}
	if !store.ValidTransition(action, ticket.Status) {
		return models.Day{}, models.Ticket{}, nil, store.ErrNotWaiting
	}
	if !day.Serving() || ticket.Position != day.CurrentServingPosition {
		return models.Day{}, models.Ticket{}, nil, store.ErrNotCurrentClient
	}
	waiting, err := tx.WaitingTickets(ctx)
	if err != nil {
		return models.Day{}, models.Ticket{}, nil, err
	}
	return day, ticket, waiting, nil
}

// closeTicket moves a waiting ticket to the terminal status of action.
func (l *Ledger) closeTicket(ctx context.Context, tx store.Tx, rec *recorder, ticket models.Ticket, action string, reason *string) (models.Ticket, error) {
	status, ok := store.TerminalStatus(action)
	if !ok || !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, store.ErrNotWaiting
	}
	ticket.Status = status
	if status == models.StatusRemovedByAdmin && reason != nil && *reason != "" {
		ticket.RemovalReason = reason
	}
	closedAt := rec.at
	ticket.ClosedAt = &closedAt
	if err := tx.UpdateTicket(ctx, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err := rec.ticket(ctx, tx, closedEventType(status), ticket, true); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// advanceFrom moves the serving slot past served. The next client is the
// waiting ticket with the smallest position greater than served's.
func (l *Ledger) advanceFrom(ctx context.Context, tx store.Tx, rec *recorder, day models.Day, waiting []models.Ticket, served models.Ticket) (models.Day, error) {
	day.CurrentServingPosition = 0
	if next, ok := nextAfter(waiting, served.Position, served.TicketID); ok {
		day.CurrentServingPosition = next.Position
	}
	if err := l.putDay(ctx, tx, day, rec.at); err != nil {
		return models.Day{}, err
	}
	day.UpdatedAt = rec.at
	return day, nil
}

func closedEventType(status string) string {
	switch status {
	case models.StatusDone:
		return models.EventTicketDone
	case models.StatusNoShow:
		return models.EventTicketNoShow
	case models.StatusLeft:
		return models.EventTicketLeft
	default:
		return models.EventTicketRemoved
	}
}

func (l *Ledger) normalizeJoin(input JoinInput) (JoinInput, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.PhoneNumber = strings.TrimSpace(input.PhoneNumber)
	if input.FirstName == "" || input.LastName == "" {
		return JoinInput{}, fmt.Errorf("%w: first and last name are required", store.ErrInvalidInput)
	}
	if !l.phonePattern.MatchString(input.PhoneNumber) {
		return JoinInput{}, fmt.Errorf("%w: phone number must be %d digits", store.ErrInvalidInput, l.phoneDigits)
	}
	return input, nil
}
