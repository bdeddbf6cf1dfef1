package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/TalelCS/melek/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentJoinsAssignDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	const clients = 50
	var wg sync.WaitGroup
	numbers := make(chan int, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := l.Join(ctx, JoinInput{FirstName: "C", LastName: "Client", PhoneNumber: fmt.Sprintf("%08d", i)})
			if err != nil {
				t.Errorf("join %d: %v", i, err)
				return
			}
			numbers <- result.Ticket.TicketNumber
		}(i)
	}
	wg.Wait()
	close(numbers)

	var got []int
	for n := range numbers {
		got = append(got, n)
	}
	sort.Ints(got)
	require.Len(t, got, clients)
	for i, n := range got {
		assert.Equal(t, i+1, n)
	}
	assert.Equal(t, clients, day(t, l).LastTicketNumber)
}

func TestConcurrentJoinsSamePhone(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Join(ctx, JoinInput{FirstName: "A", LastName: "B", PhoneNumber: "12345678"}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

// TestRandomOperationsKeepInvariants drives the ledger with a seeded random
// mix of operations and checks the queue invariants after every step.
func TestRandomOperationsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	rng := rand.New(rand.NewSource(42))

	statuses := map[string]string{}
	numbers := map[string]int{}
	phone := 0

	for step := 0; step < 400; step++ {
		board, err := l.Board(ctx)
		require.NoError(t, err)

		var currentID string
		if board.Current != nil {
			currentID = board.Current.TicketID
		}
		pick := func() string {
			if len(board.Waiting) == 0 {
				return currentID
			}
			return board.Waiting[rng.Intn(len(board.Waiting))].TicketID
		}

		switch rng.Intn(9) {
		case 0, 1:
			phone++
			result, err := l.Join(ctx, JoinInput{FirstName: "R", LastName: "Client", PhoneNumber: fmt.Sprintf("%08d", phone)})
			if err == nil {
				numbers[result.Ticket.TicketID] = result.Ticket.TicketNumber
			}
		case 2:
			_, _ = l.StartService(ctx)
		case 3:
			if currentID != "" {
				_, _ = l.Advance(ctx, currentID)
			}
		case 4, 5:
			if currentID != "" {
				_, _ = l.Defer(ctx, currentID)
			}
		case 6:
			if id := pick(); id != "" {
				_, _ = l.Remove(ctx, id, "random")
			}
		case 7:
			if id := pick(); id != "" {
				_, _ = l.Leave(ctx, id)
			}
		case 8:
			ids := make([]string, 0, len(board.Waiting))
			for _, ticket := range board.Waiting {
				ids = append(ids, ticket.TicketID)
			}
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			_, err := l.Reorder(ctx, ids)
			require.NoError(t, err)
		}
		if step%97 == 96 {
			_, _ = l.ToggleOpen(ctx)
		}

		tickets, err := l.Tickets(ctx)
		require.NoError(t, err)
		checkInvariants(t, day(t, l), tickets)
		for _, ticket := range tickets {
			if previous, ok := statuses[ticket.TicketID]; ok && previous != models.StatusWaiting {
				require.Equal(t, previous, ticket.Status, "status of %s left terminal state", ticket.TicketID)
			}
			statuses[ticket.TicketID] = ticket.Status
			require.Equal(t, numbers[ticket.TicketID], ticket.TicketNumber, "ticket number changed")
			require.LessOrEqual(t, ticket.SkipCount, models.MaxSkips)
		}
	}
}

func checkInvariants(t *testing.T, day models.Day, tickets []models.Ticket) {
	t.Helper()
	atCurrent := 0
	positions := map[int]bool{}
	for _, ticket := range tickets {
		if !ticket.IsWaiting() {
			continue
		}
		require.False(t, positions[ticket.Position], "duplicate waiting position %d", ticket.Position)
		positions[ticket.Position] = true
		if day.Serving() && ticket.Position == day.CurrentServingPosition {
			atCurrent++
		}
		if day.Serving() {
			require.GreaterOrEqual(t, ticket.Position, day.CurrentServingPosition, "waiting ticket ahead of serving slot")
		}
		require.LessOrEqual(t, ticket.TicketNumber, day.LastTicketNumber)
	}
	require.LessOrEqual(t, atCurrent, 1)
	if day.Serving() {
		require.Equal(t, 1, atCurrent, "serving slot points at no waiting ticket")
	}
}
