package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"net/http"
	"strings"

	"github.com/TalelCS/melek/internal/hub"
	"github.com/TalelCS/melek/internal/ledger"
	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Queue is the ledger surface the HTTP layer drives.
type Queue interface {
	DayID() string
	Join(ctx context.Context, input ledger.JoinInput) (ledger.JoinResult, error)
	StartService(ctx context.Context) (int, error)
	Advance(ctx context.Context, ticketID string) (ledger.Outcome, error)
	Defer(ctx context.Context, ticketID string) (ledger.Outcome, error)
	Remove(ctx context.Context, ticketID, reason string) (ledger.Outcome, error)
	Leave(ctx context.Context, ticketID string) (ledger.Outcome, error)
	Reorder(ctx context.Context, ticketIDs []string) ([]models.Ticket, error)
	ResetDay(ctx context.Context) (int, error)
	ToggleOpen(ctx context.Context) (bool, error)
	SetAverageServiceMinutes(ctx context.Context, minutes int) (models.Day, error)
	Board(ctx context.Context) (ledger.Board, error)
	Tickets(ctx context.Context) ([]models.Ticket, error)
	TicketStatus(ctx context.Context, ticketID string) (ledger.TicketView, error)
	Summary(ctx context.Context) (ledger.Summary, error)
	Stats(ctx context.Context) (ledger.Stats, error)
	TicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error)
	SubmitFeedback(ctx context.Context, input ledger.FeedbackInput) (models.Feedback, error)
}

type Options struct {
	Auth *Auth
	Hub  *hub.Hub
	Log  zerolog.Logger
	// RequestsPerMinute caps public and admin API calls per client IP.
	RequestsPerMinute int
	// LoginAttemptsPerMinute caps PIN attempts per client IP.
	LoginAttemptsPerMinute int
	CORSOrigin             string
	NoticeLang             string
	Ping                   func(ctx context.Context) error
}

type Handler struct {
	queue        Queue
	auth         *Auth
	hub          *hub.Hub
	log          zerolog.Logger
	limiter      func(http.Handler) http.Handler
	loginLimiter func(http.Handler) http.Handler
	corsOrigin   string
	noticeLang   string
	ping         func(ctx context.Context) error
}

func NewHandler(queue Queue, options Options) *Handler {
	if options.CORSOrigin == "" {
		options.CORSOrigin = "*"
	}
	return &Handler{
		queue:        queue,
		auth:         options.Auth,
		hub:          options.Hub,
		log:          options.Log,
		limiter:      newRateLimiter(options.RequestsPerMinute),
		loginLimiter: newLoginLimiter(options.LoginAttemptsPerMinute),
		corsOrigin:   options.CORSOrigin,
		noticeLang:   options.NoticeLang,
		ping:         options.Ping,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(h.log))
	r.Use(Recoverer(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(h.corsOrigin, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", expvar.Handler())
	if h.hub != nil {
		r.Handle("/realtime/*", h.realtimeHandler())
	}

	r.Group(func(r chi.Router) {
		r.Use(h.limiter)
		r.Get("/api/queue", h.summary)
		r.Post("/api/tickets", h.join)
		r.Get("/api/tickets/{id}", h.ticketStatus)
		r.Post("/api/tickets/{id}/leave", h.leave)
		r.Post("/api/feedback", h.feedback)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.With(h.loginLimiter).Post("/login", h.login)
		r.Group(func(r chi.Router) {
			r.Use(h.limiter)
			r.Use(h.auth.RequireAdmin)
			r.Get("/board", h.board)
			r.Get("/tickets", h.tickets)
			r.Get("/stats", h.stats)
			r.Get("/export", h.export)
			r.Post("/queue/toggle", h.toggleOpen)
			r.Post("/queue/start", h.startService)
			r.Post("/queue/reset", h.resetDay)
			r.Put("/queue/average", h.setAverage)
			r.Put("/queue/order", h.reorder)
			r.Post("/tickets/{id}/done", h.advance)
			r.Post("/tickets/{id}/skip", h.deferTicket)
			r.Post("/tickets/{id}/remove", h.remove)
			r.Get("/tickets/{id}/events", h.ticketEvents)
		})
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.log.Error().Err(err).Msg("health check failed")
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "unavailable", "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type joinRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

type feedbackRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Rating      int    `json:"rating"`
	Review      string `json:"review"`
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queue.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	result, err := h.queue.Join(r.Context(), ledger.JoinInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) ticketStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.queue.TicketStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.queue.Leave(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": outcome.Ticket})
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	feedback, err := h.queue.SubmitFeedback(r.Context(), ledger.FeedbackInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		Rating:      req.Rating,
		Review:      req.Review,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, feedback)
}

// fail maps err onto the response envelope and logs anything unexpected.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestIDFromRequest(r)).Msg("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, message)
}

// decodeRequest reads a single JSON object into target. An empty body is
// accepted only when allowEmpty is set.
func decodeRequest(w http.ResponseWriter, r *http.Request, target any, allowEmpty bool) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid json body")
		return false
	}
	if decoder.More() {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid json body")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrInvalidReorder):
		return http.StatusBadRequest, "invalid_reorder", "order must list every waiting client once"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrDayNotFound):
		return http.StatusNotFound, "day_not_found", "day not found"
	case errors.Is(err, store.ErrQueueClosed):
		return http.StatusConflict, "queue_closed", "queue is closed"
	case errors.Is(err, store.ErrDuplicatePhone):
		return http.StatusConflict, "duplicate_phone", "phone number already waiting"
	case errors.Is(err, store.ErrNoWaitingClients):
		return http.StatusConflict, "no_waiting_clients", "no clients waiting"
	case errors.Is(err, store.ErrAlreadyServing):
		return http.StatusConflict, "already_serving", "a client is already being served"
	case errors.Is(err, store.ErrNoOneToSwapWith):
		return http.StatusConflict, "no_one_to_swap_with", "no later client to swap with"
	case errors.Is(err, store.ErrNotCurrentClient):
		return http.StatusConflict, "not_current_client", "ticket is not being served"
	case errors.Is(err, store.ErrNotWaiting):
		return http.StatusConflict, "not_waiting", "ticket is no longer waiting"
	case errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable, "conflict", "queue busy, please retry"
	case errors.Is(err, ErrInvalidPIN):
		return http.StatusUnauthorized, "invalid_pin", "invalid pin"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error:     responseError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func requestIDFromRequest(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(middleware.RequestIDHeader)
}
