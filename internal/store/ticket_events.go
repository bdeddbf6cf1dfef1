package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// ChainTicketEvent builds the event that follows last in a ticket's history.
// last is nil for the first event.
func ChainTicketEvent(last *TicketEvent, ticketID, eventType string, payload []byte, createdAt time.Time) TicketEvent {
	seq := 1
	prev := ""
	if last != nil {
		seq = last.TicketSeq + 1
		prev = last.Hash
	}
	createdAt = createdAt.UTC()
	return TicketEvent{
		TicketID:  ticketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   json.RawMessage(payload),
		CreatedAt: createdAt,
		PrevHash:  prev,
		Hash:      ComputeTicketEventHash(prev, ticketID, eventType, payload, createdAt, seq),
	}
}

// VerifyTicketEvents checks sequence numbers and hash links of one ticket's
// history, ordered by TicketSeq.
func VerifyTicketEvents(events []TicketEvent) error {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("event %d: unexpected seq %d", i, event.TicketSeq)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: broken link", event.TicketSeq)
		}
		want := ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != want {
			return fmt.Errorf("event %d: hash mismatch", event.TicketSeq)
		}
		prev = event.Hash
	}
	return nil
}
