// Package ledger implements the walk-in queue state machine for one business
// day. Every mutation runs as a single store transaction: the precondition
// check and its effect see the same snapshot and commit together.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Publisher receives change events after they are committed.
type Publisher interface {
	Publish(ctx context.Context, event models.Event)
}

type Options struct {
	DayID                 string
	AverageServiceMinutes int
	PhoneDigits           int
	Publisher             Publisher
	Now                   func() time.Time
	NewID                 func() string
}

type Ledger struct {
	store          store.Store
	dayID          string
	defaultAverage int
	phonePattern   *regexp.Regexp
	phoneDigits    int
	publisher      Publisher
	now            func() time.Time
	newID          func() string
	tracer         trace.Tracer
}

func New(st store.Store, options Options) *Ledger {
	dayID := options.DayID
	if dayID == "" {
		dayID = "today"
	}
	average := options.AverageServiceMinutes
	if average <= 0 {
		average = models.DefaultAverageServiceMinutes
	}
	digits := options.PhoneDigits
	if digits <= 0 {
		digits = 8
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	newID := options.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{
		store:          st,
		dayID:          dayID,
		defaultAverage: average,
		phonePattern:   regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, digits)),
		phoneDigits:    digits,
		publisher:      options.Publisher,
		now:            now,
		newID:          newID,
		tracer:         otel.Tracer("github.com/TalelCS/melek/internal/ledger"),
	}
}

func (l *Ledger) DayID() string {
	return l.dayID
}

// recorder collects the audit entries and change events of one transaction
// attempt. Events are only published once the attempt commits.
type recorder struct {
	ledger *Ledger
	at     time.Time
	events []models.Event
}

func (r *recorder) ticket(ctx context.Context, tx store.Tx, eventType string, ticket models.Ticket, publish bool) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	if err := tx.AppendTicketEvent(ctx, ticket.TicketID, eventType, payload, r.at); err != nil {
		return fmt.Errorf("append ticket event: %w", err)
	}
	if publish {
		r.events = append(r.events, models.Event{
			Type:      eventType,
			DayID:     r.ledger.dayID,
			TicketID:  ticket.TicketID,
			Status:    ticket.Status,
			Position:  ticket.Position,
			CreatedAt: r.at,
		})
	}
	return nil
}

func (r *recorder) queue(eventType string) {
	r.events = append(r.events, models.Event{
		Type:      eventType,
		DayID:     r.ledger.dayID,
		CreatedAt: r.at,
	})
}

func (l *Ledger) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx, rec *recorder) error) error {
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("queue.day_id", l.dayID)))
	defer span.End()

	var rec *recorder
	err := l.store.Update(ctx, l.dayID, func(tx store.Tx) error {
		rec = &recorder{ledger: l, at: l.now().UTC()}
		return fn(ctx, tx, rec)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if l.publisher != nil {
		for _, event := range rec.events {
			l.publisher.Publish(ctx, event)
		}
	}
	return nil
}

func (l *Ledger) view(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("queue.day_id", l.dayID)))
	defer span.End()

	err := l.store.View(ctx, l.dayID, func(tx store.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// loadDay returns the stored day, or a fresh open day when none exists yet.
// The fresh day is only persisted once an operation writes it.
func (l *Ledger) loadDay(ctx context.Context, tx store.Tx) (models.Day, error) {
	day, err := tx.Day(ctx)
	if errors.Is(err, store.ErrDayNotFound) {
		return models.NewDay(l.dayID, l.defaultAverage), nil
	}
	if err != nil {
		return models.Day{}, err
	}
	if day.AverageServiceMinutes <= 0 {
		day.AverageServiceMinutes = l.defaultAverage
	}
	return day, nil
}

func (l *Ledger) putDay(ctx context.Context, tx store.Tx, day models.Day, at time.Time) error {
	day.UpdatedAt = at
	if err := tx.PutDay(ctx, day); err != nil {
		return fmt.Errorf("put day: %w", err)
	}
	return nil
}

// currentTicket finds the waiting ticket in the serving slot.
func currentTicket(day models.Day, waiting []models.Ticket) (models.Ticket, bool) {
	if !day.Serving() {
		return models.Ticket{}, false
	}
	for _, ticket := range waiting {
		if ticket.Position == day.CurrentServingPosition {
			return ticket, true
		}
	}
	return models.Ticket{}, false
}

// nextAfter returns the waiting ticket with the smallest position strictly
// greater than position, ignoring excludeID.
func nextAfter(waiting []models.Ticket, position int, excludeID string) (models.Ticket, bool) {
	for _, ticket := range waiting {
		if ticket.TicketID == excludeID {
			continue
		}
		if ticket.Position > position {
			return ticket, true
		}
	}
	return models.Ticket{}, false
}

func peopleAhead(waiting []models.Ticket, position int) int {
	count := 0
	for _, ticket := range waiting {
		if ticket.Position < position {
			count++
		}
	}
	return count
}
