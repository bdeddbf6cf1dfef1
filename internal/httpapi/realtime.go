package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/TalelCS/melek/internal/hub"
	"github.com/TalelCS/melek/internal/ledger"
	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/notify"
	"github.com/TalelCS/melek/internal/store"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const (
	closeUnauthorized = 4001
	closeBadRequest   = 4003
	sendBuffer        = 32
)

// eventSnapshot asks the pump to push the current view right after a
// subscription change.
const eventSnapshot = "snapshot"

var errSessionExpired = errors.New("admin session expired")

type realtimeMessage struct {
	Type    string             `json:"type"`
	Event   *models.Event      `json:"event,omitempty"`
	Board   *ledger.Board      `json:"board,omitempty"`
	Ticket  *ledger.TicketView `json:"ticket,omitempty"`
	Gone    bool               `json:"gone,omitempty"`
	Notices []notify.Notice    `json:"notices,omitempty"`
}

func (h *Handler) realtimeHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, h.serveRealtime)
}

func (h *Handler) serveRealtime(session sockjs.Session) {
	client := &hub.Client{ID: uuid.NewString(), Send: make(chan models.Event, sendBuffer)}
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.pump(ctx, session, client)

	logger := h.log.With().Str("client_id", client.ID).Logger()
	logger.Debug().Msg("realtime session opened")
	defer func() { logger.Debug().Msg("realtime session closed") }()

	for {
		raw, err := session.Recv()
		if err != nil {
			return
		}
		msg, ok := hub.ParseSubscribe([]byte(raw))
		if !ok {
			_ = session.Close(closeBadRequest, "invalid subscription")
			return
		}
		if msg.Action == "unsubscribe" {
			h.hub.UpdateSubscription(client, hub.Subscription{})
			continue
		}
		var expires time.Time
		if msg.Scope == hub.ScopeBoard {
			if h.auth == nil {
				_ = session.Close(closeUnauthorized, "unauthorized")
				return
			}
			claims, err := h.auth.Verify(msg.Token)
			if err != nil {
				_ = session.Close(closeUnauthorized, "unauthorized")
				return
			}
			expires = claims.ExpiresAt.Time
		}
		lang := msg.Lang
		if lang == "" {
			lang = h.noticeLang
		}
		h.hub.UpdateSubscription(client, hub.Subscription{
			DayID:    h.queue.DayID(),
			Scope:    msg.Scope,
			TicketID: msg.TicketID,
			Lang:     lang,
			Expires:  expires,
		})
		select {
		case client.Send <- models.Event{Type: eventSnapshot, DayID: h.queue.DayID()}:
		default:
		}
	}
}

// pump turns hub events into views for the session until Send is closed.
func (h *Handler) pump(ctx context.Context, session sockjs.Session, client *hub.Client) {
	var (
		watched hub.Subscription
		tracker *notify.Tracker
	)
	for event := range client.Send {
		sub := h.hub.Subscription(client)
		if !sub.Active() {
			continue
		}
		if sub != watched {
			watched = sub
			tracker = notify.NewTracker(sub.Lang)
		}
		msg, err := h.renderUpdate(ctx, sub, tracker, event)
		if errors.Is(err, errSessionExpired) {
			_ = session.Close(closeUnauthorized, "session expired")
			return
		}
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("render realtime update")
			continue
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := session.Send(string(payload)); err != nil {
			return
		}
	}
}

// renderUpdate re-reads the subscribed view after event.
func (h *Handler) renderUpdate(ctx context.Context, sub hub.Subscription, tracker *notify.Tracker, event models.Event) (realtimeMessage, error) {
	msg := realtimeMessage{Type: sub.Scope}
	if event.Type != eventSnapshot {
		msg.Event = &event
	}
	switch sub.Scope {
	case hub.ScopeBoard:
		if !sub.Expires.IsZero() && !h.now().Before(sub.Expires) {
			return realtimeMessage{}, errSessionExpired
		}
		board, err := h.queue.Board(ctx)
		if err != nil {
			return realtimeMessage{}, err
		}
		msg.Board = &board
	case hub.ScopeTicket:
		view, err := h.queue.TicketStatus(ctx, sub.TicketID)
		if errors.Is(err, store.ErrTicketNotFound) {
			msg.Gone = true
			msg.Notices = tracker.Gone(sub.TicketID)
			return msg, nil
		}
		if err != nil {
			return realtimeMessage{}, err
		}
		msg.Ticket = &view
		msg.Notices = tracker.Observe(view)
	}
	return msg, nil
}

func (h *Handler) now() time.Time {
	if h.auth != nil {
		return h.auth.now()
	}
	return time.Now()
}
