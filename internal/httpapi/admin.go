package httpapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/TalelCS/melek/internal/store"

	"github.com/go-chi/chi/v5"
)

type averageRequest struct {
	Minutes int `json:"minutes"`
}

type reorderRequest struct {
	TicketIDs []string `json:"ticket_ids"`
}

type removeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) {
	board, err := h.queue.Board(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) tickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.queue.Tickets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (h *Handler) toggleOpen(w http.ResponseWriter, r *http.Request) {
	open, err := h.queue.ToggleOpen(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_open": open})
}

func (h *Handler) startService(w http.ResponseWriter, r *http.Request) {
	position, err := h.queue.StartService(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"current_serving_position": position})
}

func (h *Handler) resetDay(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.queue.ResetDay(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info().Str("day_id", h.queue.DayID()).Int("deleted", deleted).Msg("queue reset")
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handler) setAverage(w http.ResponseWriter, r *http.Request) {
	var req averageRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	day, err := h.queue.SetAverageServiceMinutes(r.Context(), req.Minutes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	tickets, err := h.queue.Reorder(r.Context(), req.TicketIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.queue.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) deferTicket(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.queue.Defer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// remove accepts an optional JSON body carrying the reason.
func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	outcome, err := h.queue.Remove(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) ticketEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.queue.TicketEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	verified := true
	if err := store.VerifyTicketEvents(events); err != nil {
		verified = false
		h.log.Warn().Err(err).Str("ticket_id", chi.URLParam(r, "id")).Msg("ticket history failed verification")
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "verified": verified})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// export streams the day's tickets as CSV.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.queue.Tickets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+h.queue.DayID()+".csv")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"ticket_id", "ticket_number", "position", "status", "skip_count", "first_name", "last_name", "phone_number", "removal_reason", "joined_at", "skipped_at", "closed_at"})
	for _, ticket := range tickets {
		reason := ""
		if ticket.RemovalReason != nil {
			reason = *ticket.RemovalReason
		}
		_ = writer.Write([]string{
			ticket.TicketID,
			strconv.Itoa(ticket.TicketNumber),
			strconv.Itoa(ticket.Position),
			ticket.Status,
			strconv.Itoa(ticket.SkipCount),
			ticket.FirstName,
			ticket.LastName,
			ticket.PhoneNumber,
			reason,
			ticket.JoinedAt.Format(time.RFC3339),
			formatTime(ticket.SkippedAt),
			formatTime(ticket.ClosedAt),
		})
	}
	writer.Flush()
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(time.RFC3339)
}
