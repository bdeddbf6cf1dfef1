package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"
	"github.com/TalelCS/melek/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

func newTestLedger(t *testing.T) (*Ledger, *memory.Store, *recordingPublisher) {
	t.Helper()
	st := memory.New()
	pub := &recordingPublisher{}
	var mu sync.Mutex
	seq := 0
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := New(st, Options{
		DayID:     "today",
		Publisher: pub,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("t-%d", seq)
		},
	})
	return l, st, pub
}

func join(t *testing.T, l *Ledger, first, phone string) models.Ticket {
	t.Helper()
	result, err := l.Join(context.Background(), JoinInput{FirstName: first, LastName: "Client", PhoneNumber: phone})
	require.NoError(t, err)
	return result.Ticket
}

func ticketByID(t *testing.T, l *Ledger, id string) models.Ticket {
	t.Helper()
	view, err := l.TicketStatus(context.Background(), id)
	require.NoError(t, err)
	return view.Ticket
}

func day(t *testing.T, l *Ledger) models.Day {
	t.Helper()
	board, err := l.Board(context.Background())
	require.NoError(t, err)
	return board.Day
}

func TestJoinStartAdvanceToIdle(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	result, err := l.Join(ctx, JoinInput{FirstName: "Ali", LastName: "Ben", PhoneNumber: "12345678"})
	require.NoError(t, err)
	ticket := result.Ticket
	assert.Equal(t, 1, ticket.TicketNumber)
	assert.Equal(t, 1, ticket.Position)
	assert.Equal(t, models.StatusWaiting, ticket.Status)
	assert.Equal(t, 0, result.InitialPeopleAhead)

	position, err := l.StartService(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, position)
	assert.Equal(t, 1, day(t, l).CurrentServingPosition)

	outcome, err := l.Advance(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, outcome.Ticket.Status)
	assert.NotNil(t, outcome.Ticket.ClosedAt)
	assert.Equal(t, 0, outcome.Day.CurrentServingPosition)
	assert.Equal(t, 0, day(t, l).CurrentServingPosition)
}

func TestDeferSwapsWithNextWaiting(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	first := join(t, l, "Ali", "11111111")
	second := join(t, l, "Sami", "22222222")
	third := join(t, l, "Nour", "33333333")
	assert.Equal(t, []int{1, 2, 3}, []int{first.TicketNumber, second.TicketNumber, third.TicketNumber})

	_, err := l.StartService(ctx)
	require.NoError(t, err)

	outcome, err := l.Defer(ctx, first.TicketID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Swapped)
	assert.Equal(t, second.TicketID, outcome.Swapped.TicketID)

	first = ticketByID(t, l, first.TicketID)
	second = ticketByID(t, l, second.TicketID)
	assert.Equal(t, 2, first.Position)
	assert.Equal(t, 1, first.SkipCount)
	assert.Equal(t, 1, first.TicketNumber)
	assert.NotNil(t, first.SkippedAt)
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 2, second.TicketNumber)
	assert.Equal(t, 1, day(t, l).CurrentServingPosition)

	board, err := l.Board(ctx)
	require.NoError(t, err)
	require.NotNil(t, board.Current)
	assert.Equal(t, second.TicketID, board.Current.TicketID)
}

func TestThirdDeferMarksNoShowAndAdvances(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	b := join(t, l, "B", "10000002")
	c := join(t, l, "C", "10000003")
	_, err := l.StartService(ctx)
	require.NoError(t, err)

	// a: 1 -> 2, b serving at 1
	_, err = l.Defer(ctx, a.TicketID)
	require.NoError(t, err)
	_, err = l.Advance(ctx, b.TicketID)
	require.NoError(t, err)
	assert.Equal(t, 2, day(t, l).CurrentServingPosition)

	// a: 2 -> 3, c serving at 2
	_, err = l.Defer(ctx, a.TicketID)
	require.NoError(t, err)
	require.Equal(t, 2, ticketByID(t, l, a.TicketID).SkipCount)

	_, err = l.Advance(ctx, c.TicketID)
	require.NoError(t, err)
	d := join(t, l, "D", "10000004")
	assert.Equal(t, 3, day(t, l).CurrentServingPosition)

	outcome, err := l.Defer(ctx, a.TicketID)
	require.NoError(t, err)
	assert.Nil(t, outcome.Swapped)
	assert.Equal(t, models.StatusNoShow, outcome.Ticket.Status)
	assert.Equal(t, 3, outcome.Ticket.Position)
	assert.Equal(t, models.MaxSkips, outcome.Ticket.SkipCount)
	assert.Equal(t, d.Position, day(t, l).CurrentServingPosition)
}

func TestJoinWhileClosed(t *testing.T) {
	ctx := context.Background()
	l, _, pub := newTestLedger(t)

	open, err := l.ToggleOpen(ctx)
	require.NoError(t, err)
	require.False(t, open)
	pub.reset()

	_, err = l.Join(ctx, JoinInput{FirstName: "Ali", LastName: "Ben", PhoneNumber: "12345678"})
	require.ErrorIs(t, err, store.ErrQueueClosed)

	tickets, err := l.Tickets(ctx)
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Equal(t, 0, day(t, l).LastTicketNumber)
	assert.Empty(t, pub.types())
}

func TestJoinValidation(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	cases := []JoinInput{
		{FirstName: " ", LastName: "Ben", PhoneNumber: "12345678"},
		{FirstName: "Ali", LastName: "", PhoneNumber: "12345678"},
		{FirstName: "Ali", LastName: "Ben", PhoneNumber: "1234567"},
		{FirstName: "Ali", LastName: "Ben", PhoneNumber: "12345678a"},
		{FirstName: "Ali", LastName: "Ben", PhoneNumber: "+2161234567"},
	}
	for _, input := range cases {
		_, err := l.Join(ctx, input)
		assert.ErrorIs(t, err, store.ErrInvalidInput, "input %+v", input)
	}

	result, err := l.Join(ctx, JoinInput{FirstName: "  Ali ", LastName: " Ben", PhoneNumber: " 12345678 "})
	require.NoError(t, err)
	assert.Equal(t, "Ali", result.Ticket.FirstName)
	assert.Equal(t, "12345678", result.Ticket.PhoneNumber)
}

func TestDuplicatePhoneOnlyWhileWaiting(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	first := join(t, l, "Ali", "12345678")
	_, err := l.Join(ctx, JoinInput{FirstName: "Other", LastName: "Person", PhoneNumber: "12345678"})
	require.ErrorIs(t, err, store.ErrDuplicatePhone)

	_, err = l.Leave(ctx, first.TicketID)
	require.NoError(t, err)

	again := join(t, l, "Ali", "12345678")
	assert.Equal(t, 2, again.TicketNumber)
}

func TestStartServiceErrors(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	_, err := l.StartService(ctx)
	require.ErrorIs(t, err, store.ErrNoWaitingClients)

	join(t, l, "Ali", "12345678")
	_, err = l.StartService(ctx)
	require.NoError(t, err)
	_, err = l.StartService(ctx)
	require.ErrorIs(t, err, store.ErrAlreadyServing)
}

func TestAdvanceRequiresCurrentClient(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	b := join(t, l, "B", "10000002")

	_, err := l.Advance(ctx, a.TicketID)
	require.ErrorIs(t, err, store.ErrNotCurrentClient)

	_, err = l.StartService(ctx)
	require.NoError(t, err)
	_, err = l.Advance(ctx, b.TicketID)
	require.ErrorIs(t, err, store.ErrNotCurrentClient)
	_, err = l.Advance(ctx, "missing")
	require.ErrorIs(t, err, store.ErrTicketNotFound)

	outcome, err := l.Advance(ctx, a.TicketID)
	require.NoError(t, err)
	assert.Equal(t, b.Position, outcome.Day.CurrentServingPosition)

	_, err = l.Advance(ctx, a.TicketID)
	require.ErrorIs(t, err, store.ErrNotWaiting)
}

func TestAdvanceSkipsGaps(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	b := join(t, l, "B", "10000002")
	c := join(t, l, "C", "10000003")
	_, err := l.StartService(ctx)
	require.NoError(t, err)
	_, err = l.Remove(ctx, b.TicketID, "asked to leave")
	require.NoError(t, err)

	outcome, err := l.Advance(ctx, a.TicketID)
	require.NoError(t, err)
	assert.Equal(t, c.Position, outcome.Day.CurrentServingPosition)
}

func TestDeferWithoutLaterClientIsRejected(t *testing.T) {
	ctx := context.Background()
	l, _, pub := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	_, err := l.StartService(ctx)
	require.NoError(t, err)
	pub.reset()

	_, err = l.Defer(ctx, a.TicketID)
	require.ErrorIs(t, err, store.ErrNoOneToSwapWith)

	a = ticketByID(t, l, a.TicketID)
	assert.Equal(t, 0, a.SkipCount)
	assert.Nil(t, a.SkippedAt)
	assert.Equal(t, 1, a.Position)
	assert.Equal(t, 1, day(t, l).CurrentServingPosition)
	assert.Empty(t, pub.types())

	events, err := l.TicketEvents(ctx, a.TicketID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRemoveKeepsServingUnlessCurrent(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	b := join(t, l, "B", "10000002")
	c := join(t, l, "C", "10000003")
	_, err := l.StartService(ctx)
	require.NoError(t, err)

	outcome, err := l.Remove(ctx, c.TicketID, "  rude  ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemovedByAdmin, outcome.Ticket.Status)
	require.NotNil(t, outcome.Ticket.RemovalReason)
	assert.Equal(t, "rude", *outcome.Ticket.RemovalReason)
	assert.Equal(t, 1, outcome.Day.CurrentServingPosition)

	outcome, err = l.Remove(ctx, a.TicketID, "")
	require.NoError(t, err)
	assert.Nil(t, outcome.Ticket.RemovalReason)
	assert.Equal(t, b.Position, outcome.Day.CurrentServingPosition)

	_, err = l.Remove(ctx, a.TicketID, "again")
	require.ErrorIs(t, err, store.ErrNotWaiting)
	_, err = l.Remove(ctx, "missing", "")
	require.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestLeaveCurrentAdvances(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	_, err := l.StartService(ctx)
	require.NoError(t, err)

	outcome, err := l.Leave(ctx, a.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLeft, outcome.Ticket.Status)
	assert.Equal(t, 0, outcome.Day.CurrentServingPosition)

	_, err = l.Leave(ctx, a.TicketID)
	require.ErrorIs(t, err, store.ErrNotWaiting)
}

func TestReorderRenumbersBehindServingSlot(t *testing.T) {
	ctx := context.Background()
	l, _, pub := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	b := join(t, l, "B", "10000002")
	c := join(t, l, "C", "10000003")
	d := join(t, l, "D", "10000004")
	_, err := l.StartService(ctx)
	require.NoError(t, err)
	_, err = l.Leave(ctx, c.TicketID)
	require.NoError(t, err)
	pub.reset()

	reordered, err := l.Reorder(ctx, []string{d.TicketID, b.TicketID})
	require.NoError(t, err)
	require.Len(t, reordered, 2)
	assert.Equal(t, 2, ticketByID(t, l, d.TicketID).Position)
	assert.Equal(t, 3, ticketByID(t, l, b.TicketID).Position)
	assert.Equal(t, 1, ticketByID(t, l, a.TicketID).Position)
	assert.Equal(t, []string{models.EventQueueReordered}, pub.types())

	_, err = l.Reorder(ctx, []string{d.TicketID})
	require.ErrorIs(t, err, store.ErrInvalidReorder)
	_, err = l.Reorder(ctx, []string{d.TicketID, d.TicketID})
	require.ErrorIs(t, err, store.ErrInvalidReorder)
	_, err = l.Reorder(ctx, []string{a.TicketID, b.TicketID})
	require.ErrorIs(t, err, store.ErrInvalidReorder)
	_, err = l.Reorder(ctx, []string{c.TicketID, b.TicketID})
	require.ErrorIs(t, err, store.ErrInvalidReorder)
}

func TestResetDayIsTotal(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	join(t, l, "B", "10000002")
	_, err := l.StartService(ctx)
	require.NoError(t, err)
	_, err = l.Advance(ctx, a.TicketID)
	require.NoError(t, err)
	_, err = l.ToggleOpen(ctx)
	require.NoError(t, err)

	deleted, err := l.ResetDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	board, err := l.Board(ctx)
	require.NoError(t, err)
	assert.Empty(t, board.Waiting)
	assert.Nil(t, board.Current)
	assert.Equal(t, 0, board.Day.LastTicketNumber)
	assert.Equal(t, 0, board.Day.CurrentServingPosition)
	assert.False(t, board.Day.IsOpen)

	_, err = l.ToggleOpen(ctx)
	require.NoError(t, err)
	next := join(t, l, "C", "10000001")
	assert.Equal(t, 1, next.TicketNumber)
	assert.Equal(t, 1, next.Position)

	_, err = l.TicketEvents(ctx, a.TicketID)
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestSetAverageServiceMinutes(t *testing.T) {
	ctx := context.Background()
	l, _, pub := newTestLedger(t)

	_, err := l.SetAverageServiceMinutes(ctx, 0)
	require.ErrorIs(t, err, store.ErrInvalidInput)

	updated, err := l.SetAverageServiceMinutes(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, updated.AverageServiceMinutes)
	assert.Equal(t, []string{models.EventAverageChanged}, pub.types())

	join(t, l, "A", "10000001")
	second, err := l.Join(ctx, JoinInput{FirstName: "B", LastName: "Client", PhoneNumber: "10000002"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.InitialPeopleAhead)
	assert.Equal(t, 20, second.EstimatedWaitMinutes)

	summary, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.WaitingCount)
	assert.Equal(t, 40, summary.EstimatedTotalMinutes)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	ctx := context.Background()
	l, _, pub := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	b := join(t, l, "B", "10000002")
	_, err := l.StartService(ctx)
	require.NoError(t, err)
	_, err = l.Defer(ctx, a.TicketID)
	require.NoError(t, err)
	_, err = l.Advance(ctx, b.TicketID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		models.EventTicketJoined,
		models.EventTicketJoined,
		models.EventQueueStarted,
		models.EventTicketDeferred,
		models.EventTicketDone,
	}, pub.types())

	events, err := l.TicketEvents(ctx, a.TicketID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTicketJoined, events[0].Type)
	assert.Equal(t, models.EventTicketDeferred, events[1].Type)
	require.NoError(t, store.VerifyTicketEvents(events))

	// Audit entries carry the ledger clock, same as the ticket fields.
	deferred := ticketByID(t, l, a.TicketID)
	assert.Equal(t, a.JoinedAt, events[0].CreatedAt)
	require.NotNil(t, deferred.SkippedAt)
	assert.Equal(t, *deferred.SkippedAt, events[1].CreatedAt)

	moved, err := l.TicketEvents(ctx, b.TicketID)
	require.NoError(t, err)
	require.Len(t, moved, 3)
	assert.Equal(t, models.EventTicketMoved, moved[1].Type)
}

func TestTicketStatusPeopleAhead(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	a := join(t, l, "A", "10000001")
	join(t, l, "B", "10000002")
	c := join(t, l, "C", "10000003")

	view, err := l.TicketStatus(ctx, c.TicketID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.PeopleAhead)
	assert.Equal(t, 30, view.EstimatedWaitMinutes)
	assert.False(t, view.IsCurrent)
	assert.True(t, view.QueueOpen)

	_, err = l.StartService(ctx)
	require.NoError(t, err)
	view, err = l.TicketStatus(ctx, a.TicketID)
	require.NoError(t, err)
	assert.True(t, view.IsCurrent)
	assert.Equal(t, 0, view.PeopleAhead)

	_, err = l.Advance(ctx, a.TicketID)
	require.NoError(t, err)
	view, err = l.TicketStatus(ctx, a.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, view.Ticket.Status)
	assert.False(t, view.IsCurrent)

	_, err = l.TicketStatus(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLedger(t)

	_, err := l.SubmitFeedback(ctx, FeedbackInput{FirstName: "A", LastName: "B", PhoneNumber: "12345678", Rating: 6})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = l.SubmitFeedback(ctx, FeedbackInput{FirstName: "A", LastName: "B", PhoneNumber: "123", Rating: 4})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	feedback, err := l.SubmitFeedback(ctx, FeedbackInput{FirstName: "A", LastName: "B", PhoneNumber: "12345678", Rating: 5, Review: "  great cut "})
	require.NoError(t, err)
	require.NotNil(t, feedback.Review)
	assert.Equal(t, "great cut", *feedback.Review)

	stored := st.Feedback()
	require.Len(t, stored, 1)
	assert.Equal(t, 5, stored[0].Rating)
}
