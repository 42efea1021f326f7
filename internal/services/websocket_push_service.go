package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"intent-backend/internal/metrics"
	"intent-backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket Upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS layer in front of this handler
		return true
	},
}

// wsConnection is one subscribed client.
type wsConnection struct {
	ID    string
	Owner string // owner address the connection is authenticated as
	Conn  *websocket.Conn
	Send  chan []byte
}

// IntentUpdateMessage is the push envelope sent to subscribers.
type IntentUpdateMessage struct {
	Type      string         `json:"type"` // "intent_update"
	Timestamp string         `json:"timestamp"`
	MessageID string         `json:"message_id"`
	Reason    string         `json:"reason"`
	Intent    *models.Intent `json:"intent"`
}

// WebSocketPushService broadcasts intent status transitions to the owner's
// connected clients. Updates for an intent are only ever pushed to
// connections authenticated as that intent's owner.
type WebSocketPushService struct {
	mu          sync.RWMutex
	connections map[string]*wsConnection            // by connection id
	byOwner     map[string]map[string]*wsConnection // owner -> connection ids
}

// NewWebSocketPushService creates a new WebSocketPushService
func NewWebSocketPushService() *WebSocketPushService {
	return &WebSocketPushService{
		connections: make(map[string]*wsConnection),
		byOwner:     make(map[string]map[string]*wsConnection),
	}
}

// HandleConnection upgrades the request and registers the connection for the
// authenticated owner. Blocks until the connection closes.
func (s *WebSocketPushService) HandleConnection(w http.ResponseWriter, r *http.Request, owner string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &wsConnection{
		ID:    uuid.New().String(),
		Owner: owner,
		Conn:  conn,
		Send:  make(chan []byte, 64),
	}
	s.register(c)
	defer s.unregister(c)

	go s.writeLoop(c)

	// Read loop only services control frames; clients do not send data.
	conn.SetReadLimit(1024)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (s *WebSocketPushService) register(c *wsConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.ID] = c
	if s.byOwner[c.Owner] == nil {
		s.byOwner[c.Owner] = make(map[string]*wsConnection)
	}
	s.byOwner[c.Owner][c.ID] = c
	metrics.WSActiveConnections.Set(float64(len(s.connections)))
	log.Printf("🔌 WebSocket connected: %s", c.ID)
}

func (s *WebSocketPushService) unregister(c *wsConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[c.ID]; !ok {
		return
	}
	delete(s.connections, c.ID)
	delete(s.byOwner[c.Owner], c.ID)
	close(c.Send)
	c.Conn.Close()
	metrics.WSActiveConnections.Set(float64(len(s.connections)))
	log.Printf("🔌 WebSocket disconnected: %s", c.ID)
}

func (s *WebSocketPushService) writeLoop(c *wsConnection) {
	for payload := range c.Send {
		c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		metrics.WSMessagesSent.Inc()
	}
}

// PushIntentUpdate implements StatusPusher.
func (s *WebSocketPushService) PushIntentUpdate(intent *models.Intent, reason string) {
	msg := IntentUpdateMessage{
		Type:      "intent_update",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.New().String(),
		Reason:    reason,
		Intent:    intent,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ Failed to encode intent update: %v", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byOwner[intent.Owner] {
		select {
		case c.Send <- payload:
		default:
			// Slow consumer: drop rather than block the orchestrator.
			log.Printf("⚠️ Dropping push for slow WebSocket client %s", c.ID)
		}
	}
}
