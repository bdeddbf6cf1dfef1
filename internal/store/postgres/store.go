package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"

	waitingPhoneIndex = "tickets_waiting_phone_idx"
)

type Store struct {
	pool        *pgxpool.Pool
	maxAttempts int
	backoff     time.Duration
}

type Options struct {
	// MaxAttempts bounds how often a transaction is retried after a
	// serialization failure or deadlock.
	MaxAttempts int
	// Backoff is the base delay before the first retry. Later retries double
	// it, up to 32x, with jitter.
	Backoff time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	attempts := options.MaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	backoff := options.Backoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	return &Store{pool: pool, maxAttempts: attempts, backoff: backoff}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Update(ctx context.Context, dayID string, fn func(tx store.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	for attempt := 1; ; attempt++ {
		err := s.runTx(ctx, dayID, opts, false, fn)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= s.maxAttempts {
			return store.ErrConflict
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoffFor(attempt)):
		}
	}
}

// backoffFor returns a delay in [d/2, d] where d grows exponentially with
// attempt, so writers that conflicted together do not retry together.
func (s *Store) backoffFor(attempt int) time.Duration {
	d := s.backoff << min(attempt-1, 5)
	return d/2 + rand.N(d/2+1)
}

func (s *Store) View(ctx context.Context, dayID string, fn func(tx store.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return s.runTx(ctx, dayID, opts, true, fn)
}

func (s *Store) runTx(ctx context.Context, dayID string, opts pgx.TxOptions, readOnly bool, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx, dayID: dayID, readOnly: readOnly}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

func (s *Store) ListTickets(ctx context.Context, dayID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE day_id = $1
		ORDER BY position ASC, ticket_number ASC
	`, dayID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ListTicketEvents(ctx context.Context, dayID, ticketID string) ([]store.TicketEvent, error) {
	if !validTicketID(ticketID) {
		return nil, store.ErrTicketNotFound
	}
	var exists bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1 AND day_id = $2)
	`, ticketID, dayID)
	if err := row.Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrTicketNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1 AND day_id = $2
		ORDER BY ticket_seq ASC
	`, ticketID, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) AddFeedback(ctx context.Context, feedback models.Feedback) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (feedback_id, day_id, first_name, last_name, phone_number, rating, review, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, feedback.FeedbackID, feedback.DayID, feedback.FirstName, feedback.LastName, feedback.PhoneNumber, feedback.Rating, feedback.Review, feedback.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx       pgx.Tx
	dayID    string
	readOnly bool
}

func (t *pgTx) Day(ctx context.Context) (models.Day, error) {
	query := `
		SELECT day_id, is_open, last_ticket_number, current_serving_position, average_service_minutes, updated_at
		FROM days
		WHERE day_id = $1
	`
	if !t.readOnly {
		query += " FOR UPDATE"
	}
	var day models.Day
	row := t.tx.QueryRow(ctx, query, t.dayID)
	if err := row.Scan(&day.DayID, &day.IsOpen, &day.LastTicketNumber, &day.CurrentServingPosition, &day.AverageServiceMinutes, &day.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Day{}, store.ErrDayNotFound
		}
		return models.Day{}, err
	}
	return day, nil
}

func (t *pgTx) PutDay(ctx context.Context, day models.Day) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO days (day_id, is_open, last_ticket_number, current_serving_position, average_service_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (day_id) DO UPDATE SET
			is_open = EXCLUDED.is_open,
			last_ticket_number = EXCLUDED.last_ticket_number,
			current_serving_position = EXCLUDED.current_serving_position,
			average_service_minutes = EXCLUDED.average_service_minutes,
			updated_at = EXCLUDED.updated_at
	`, t.dayID, day.IsOpen, day.LastTicketNumber, day.CurrentServingPosition, day.AverageServiceMinutes, day.UpdatedAt)
	return err
}

func (t *pgTx) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if !validTicketID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1 AND day_id = $2
	`, ticketID, t.dayID)
	if err != nil {
		return models.Ticket{}, err
	}
	tickets, err := collectTickets(rows)
	if err != nil {
		return models.Ticket{}, err
	}
	if len(tickets) == 0 {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return tickets[0], nil
}

func (t *pgTx) WaitingTickets(ctx context.Context) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE day_id = $1 AND status = 'waiting'
		ORDER BY position ASC, ticket_number ASC
	`, t.dayID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (t *pgTx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, day_id, ticket_number, position, status, skip_count,
			first_name, last_name, phone_number, removal_reason, joined_at, skipped_at, closed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, ticket.TicketID, t.dayID, ticket.TicketNumber, ticket.Position, ticket.Status, ticket.SkipCount,
		ticket.FirstName, ticket.LastName, ticket.PhoneNumber, ticket.RemovalReason, ticket.JoinedAt, ticket.SkippedAt, ticket.ClosedAt)
	return mapWriteError(err)
}

func (t *pgTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET position = $3, status = $4, skip_count = $5, removal_reason = $6, skipped_at = $7, closed_at = $8
		WHERE ticket_id = $1 AND day_id = $2
	`, ticket.TicketID, t.dayID, ticket.Position, ticket.Status, ticket.SkipCount, ticket.RemovalReason, ticket.SkippedAt, ticket.ClosedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

func (t *pgTx) DeleteTickets(ctx context.Context) (int, error) {
	if t.readOnly {
		return 0, store.ErrReadOnly
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM ticket_events WHERE day_id = $1`, t.dayID); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM tickets WHERE day_id = $1`, t.dayID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) AppendTicketEvent(ctx context.Context, ticketID, eventType string, payload []byte, at time.Time) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	var last *store.TicketEvent
	var seq int
	var hash string
	row := t.tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticketID)
	switch err := row.Scan(&seq, &hash); {
	case err == nil:
		last = &store.TicketEvent{TicketSeq: seq, Hash: hash}
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	// Postgres keeps microseconds; truncate so the stored hash verifies on read.
	event := store.ChainTicketEvent(last, ticketID, eventType, payload, at.Truncate(time.Microsecond))
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, day_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.TicketID, t.dayID, event.TicketSeq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

// ticket_id is a UUID column; any other string can never match a row.
func validTicketID(ticketID string) bool {
	_, err := uuid.Parse(ticketID)
	return err == nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation && pgErr.ConstraintName == waitingPhoneIndex {
		return store.ErrDuplicatePhone
	}
	return err
}

const ticketColumns = `ticket_id, day_id, ticket_number, position, status, skip_count,
	first_name, last_name, phone_number, removal_reason, joined_at, skipped_at, closed_at`

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		var ticket models.Ticket
		var reason sql.NullString
		var skippedAt sql.NullTime
		var closedAt sql.NullTime
		if err := rows.Scan(&ticket.TicketID, &ticket.DayID, &ticket.TicketNumber, &ticket.Position, &ticket.Status, &ticket.SkipCount,
			&ticket.FirstName, &ticket.LastName, &ticket.PhoneNumber, &reason, &ticket.JoinedAt, &skippedAt, &closedAt); err != nil {
			return nil, err
		}
		ticket.RemovalReason = nullStringPtr(reason)
		ticket.SkippedAt = nullTimePtr(skippedAt)
		ticket.ClosedAt = nullTimePtr(closedAt)
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
