package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/TalelCS/melek/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization", &pgconn.PgError{Code: sqlStateSerializationFailure}, true},
		{"deadlock wrapped", fmt.Errorf("commit: %w", &pgconn.PgError{Code: sqlStateDeadlockDetected}), true},
		{"unique violation", &pgconn.PgError{Code: sqlStateUniqueViolation}, false},
		{"business rule", store.ErrQueueClosed, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryable(tc.err); got != tc.want {
				t.Fatalf("retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestMapWriteError(t *testing.T) {
	dup := &pgconn.PgError{Code: sqlStateUniqueViolation, ConstraintName: waitingPhoneIndex}
	if err := mapWriteError(dup); !errors.Is(err, store.ErrDuplicatePhone) {
		t.Fatalf("expected duplicate phone, got %v", err)
	}
	other := &pgconn.PgError{Code: sqlStateUniqueViolation, ConstraintName: "tickets_day_id_ticket_number_key"}
	if err := mapWriteError(other); errors.Is(err, store.ErrDuplicatePhone) {
		t.Fatalf("unexpected duplicate phone mapping")
	}
	if mapWriteError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestBackoffGrowsWithJitter(t *testing.T) {
	s := NewStore(nil, Options{Backoff: 10 * time.Millisecond})
	if s.maxAttempts != 10 {
		t.Fatalf("expected 10 attempts by default, got %d", s.maxAttempts)
	}
	cases := []struct {
		attempt int
		max     time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{4, 80 * time.Millisecond},
		{6, 320 * time.Millisecond},
		{9, 320 * time.Millisecond},
	}
	for _, tc := range cases {
		seen := make(map[time.Duration]bool)
		for i := 0; i < 50; i++ {
			d := s.backoffFor(tc.attempt)
			if d < tc.max/2 || d > tc.max {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", tc.attempt, d, tc.max/2, tc.max)
			}
			seen[d] = true
		}
		if len(seen) < 2 {
			t.Fatalf("attempt %d: expected jittered delays, got %v", tc.attempt, seen)
		}
	}
}

func TestValidTicketID(t *testing.T) {
	if !validTicketID("0b6d3f0e-8f5e-4c7a-9d55-3c1f6f2b9a10") {
		t.Fatalf("expected uuid to be valid")
	}
	for _, id := range []string{"", "abc", "t-1", "0b6d3f0e-8f5e-4c7a-9d55"} {
		if validTicketID(id) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}
