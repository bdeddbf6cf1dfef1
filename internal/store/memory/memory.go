// Package memory is an in-process store.Store used in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"
)

type dayState struct {
	day     *models.Day
	tickets map[string]models.Ticket
	events  map[string][]store.TicketEvent
}

func newDayState() *dayState {
	return &dayState{
		tickets: make(map[string]models.Ticket),
		events:  make(map[string][]store.TicketEvent),
	}
}

func (s *dayState) clone() *dayState {
	out := newDayState()
	if s.day != nil {
		day := *s.day
		out.day = &day
	}
	for id, ticket := range s.tickets {
		out.tickets[id] = ticket
	}
	for id, events := range s.events {
		out.events[id] = append([]store.TicketEvent(nil), events...)
	}
	return out
}

type Store struct {
	mu       sync.Mutex
	days     map[string]*dayState
	feedback []models.Feedback
}

func New() *Store {
	return &Store{
		days: make(map[string]*dayState),
	}
}

var _ store.Store = (*Store)(nil)

// Update applies fn to a private copy of the day and swaps it in on success,
// so a failing fn leaves no partial writes behind.
func (s *Store) Update(ctx context.Context, dayID string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.days[dayID]
	if !ok {
		current = newDayState()
	}
	tx := &memTx{dayID: dayID, state: current.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.days[dayID] = tx.state
	return nil
}

func (s *Store) View(ctx context.Context, dayID string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.days[dayID]
	if !ok {
		current = newDayState()
	}
	return fn(&memTx{dayID: dayID, state: current.clone(), readOnly: true})
}

func (s *Store) ListTickets(ctx context.Context, dayID string) ([]models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.days[dayID]
	if !ok {
		return []models.Ticket{}, nil
	}
	tickets := make([]models.Ticket, 0, len(current.tickets))
	for _, ticket := range current.tickets {
		tickets = append(tickets, ticket)
	}
	sortByPosition(tickets)
	return tickets, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, dayID, ticketID string) ([]store.TicketEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.days[dayID]
	if !ok {
		return nil, store.ErrTicketNotFound
	}
	if _, ok := current.tickets[ticketID]; !ok {
		return nil, store.ErrTicketNotFound
	}
	return append([]store.TicketEvent(nil), current.events[ticketID]...), nil
}

func (s *Store) AddFeedback(ctx context.Context, feedback models.Feedback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, feedback)
	return nil
}

// Feedback returns the feedback recorded so far.
func (s *Store) Feedback() []models.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Feedback(nil), s.feedback...)
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memTx struct {
	dayID    string
	state    *dayState
	readOnly bool
}

func (t *memTx) Day(ctx context.Context) (models.Day, error) {
	if t.state.day == nil {
		return models.Day{}, store.ErrDayNotFound
	}
	return *t.state.day, nil
}

func (t *memTx) PutDay(ctx context.Context, day models.Day) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	day.DayID = t.dayID
	t.state.day = &day
	return nil
}

func (t *memTx) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, ok := t.state.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (t *memTx) WaitingTickets(ctx context.Context) ([]models.Ticket, error) {
	waiting := make([]models.Ticket, 0, len(t.state.tickets))
	for _, ticket := range t.state.tickets {
		if ticket.IsWaiting() {
			waiting = append(waiting, ticket)
		}
	}
	sortByPosition(waiting)
	return waiting, nil
}

func (t *memTx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if _, exists := t.state.tickets[ticket.TicketID]; exists {
		return store.ErrInvalidInput
	}
	if ticket.IsWaiting() {
		for _, other := range t.state.tickets {
			if other.IsWaiting() && other.PhoneNumber == ticket.PhoneNumber {
				return store.ErrDuplicatePhone
			}
		}
	}
	ticket.DayID = t.dayID
	t.state.tickets[ticket.TicketID] = ticket
	return nil
}

func (t *memTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if _, ok := t.state.tickets[ticket.TicketID]; !ok {
		return store.ErrTicketNotFound
	}
	ticket.DayID = t.dayID
	t.state.tickets[ticket.TicketID] = ticket
	return nil
}

func (t *memTx) DeleteTickets(ctx context.Context) (int, error) {
	if t.readOnly {
		return 0, store.ErrReadOnly
	}
	n := len(t.state.tickets)
	t.state.tickets = make(map[string]models.Ticket)
	t.state.events = make(map[string][]store.TicketEvent)
	return n, nil
}

func (t *memTx) AppendTicketEvent(ctx context.Context, ticketID, eventType string, payload []byte, at time.Time) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	history := t.state.events[ticketID]
	var last *store.TicketEvent
	if len(history) > 0 {
		last = &history[len(history)-1]
	}
	event := store.ChainTicketEvent(last, ticketID, eventType, payload, at)
	t.state.events[ticketID] = append(history, event)
	return nil
}

func sortByPosition(tickets []models.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].Position == tickets[j].Position {
			return tickets[i].TicketNumber < tickets[j].TicketNumber
		}
		return tickets[i].Position < tickets[j].Position
	})
}
