// Package websocket is the push transport: it owns the per-account
// subscriptions that the notification dispatcher publishes into.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/bidhaus/auction-server/internal/auth"
	"github.com/bidhaus/auction-server/internal/database"
	"github.com/bidhaus/auction-server/internal/notify"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks connected sessions per account. An account may hold several
// sessions; each gets its own copy of every event.
type Hub struct {
	db database.Service

	mu       sync.Mutex
	sessions map[string]map[*Client]struct{}
}

func NewHub(db database.Service) *Hub {
	return &Hub{
		db:       db,
		sessions: make(map[string]map[*Client]struct{}),
	}
}

// HandleNotifications authenticates the caller and upgrades the request into
// a subscription session.
func (h *Hub) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ValidateTokenFromCookie(r)
	if err != nil || token == nil {
		log.Error("Invalid token: ", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var email string
	if err := token.Get("email", &email); err != nil {
		log.Error("Error retrieving email from token claims")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	account, err := h.db.GetAccountByEmail(r.Context(), email)
	if err != nil {
		log.Error("Account not found: ", err)
		http.Error(w, "Account not found", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		AccountID:   account.AccountID,
		Conn:        conn,
		Send:        make(chan []byte, 16),
		RateLimiter: rate.NewLimiter(1, 3),
	}

	h.mu.Lock()
	set, ok := h.sessions[client.AccountID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[client.AccountID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	log.Debug("notification subscription opened", "accountId", client.AccountID)

	go client.ReadMessages(h.remove)
	go client.WriteMessages()
}

// Publish delivers an event to every connected session of the account.
// At-most-once per session: a session with a full buffer is dropped rather
// than blocking the dispatcher.
func (h *Hub) Publish(accountID string, event notify.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error("Error marshalling event: ", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.sessions[accountID] {
		select {
		case client.Send <- payload:
		default:
			// Slow consumer; disconnect instead of queueing unboundedly.
			h.removeLocked(client)
			client.close()
		}
	}
}

// Connected reports whether the account has at least one open session.
func (h *Hub) Connected(accountID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[accountID]) > 0
}

// Shutdown closes every session, e.g. on server stop.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.sessions {
		for client := range set {
			all = append(all, client)
		}
	}
	h.sessions = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range all {
		client.close()
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) removeLocked(c *Client) {
	set := h.sessions[c.AccountID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.sessions, c.AccountID)
	}
}
