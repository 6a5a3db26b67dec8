package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"uk.co.dudmesh.courier/internal/model"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 512
	DefaultSendBuffer = 64
)

type EventType string

const (
	EventMessageRead      EventType = "messageRead"
	EventNewMessage       EventType = "newMessage"
	EventMessageDelivered EventType = "messageDelivered"
	EventMessageDeleted   EventType = "messageDeleted"
)

type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

type MessageRef struct {
	MessageID model.MessageID `json:"messageId"`
}

// MessagePreview announces a new message without revealing its content.
type MessagePreview struct {
	MessageID   model.MessageID `json:"messageId"`
	Sender      model.UserID    `json:"senderId"`
	Receiver    model.UserID    `json:"receiverId"`
	SentAt      time.Time       `json:"sentAt"`
	Attachments int             `json:"attachments"`
}

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "notify",
		Name:      "events_total",
		Help:      "Notification events by type and outcome.",
	}, []string{"type", "outcome"})
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "courier",
		Subsystem: "notify",
		Name:      "sessions",
		Help:      "Live notification sessions.",
	})
)

// Hub tracks the live sessions of each user. Delivery is best effort: events
// for users without a session, or for sessions whose buffer is full, are dropped.
type Hub struct {
	mu         sync.RWMutex
	clients    map[model.UserID]map[*Client]struct{}
	sendBuffer int
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		clients:    map[model.UserID]map[*Client]struct{}{},
		sendBuffer: sendBuffer,
	}
}

// Attach registers conn as a session of userID and starts its pumps. The
// session is detached when the connection closes.
func (h *Hub) Attach(userID model.UserID, conn *websocket.Conn) *Client {
	c := newClient(h, userID, conn)
	h.add(c)

	go c.writePump()
	go c.readPump()

	return c
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = map[*Client]struct{}{}
	}
	h.clients[c.userID][c] = struct{}{}
	h.mu.Unlock()

	sessionsGauge.Inc()
}

// Detach removes c from the registry and closes it. Safe to call more than once.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	_, present := set[c]
	if ok && present {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()

	if present {
		sessionsGauge.Dec()
	}
	c.close()
}

// Publish offers ev to every live session of userID and returns how many
// sessions accepted it. It never blocks.
func (h *Hub) Publish(userID model.UserID, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients[userID] {
		if c.enqueue(ev) {
			delivered++
		} else {
			log.Warnf("notify: dropping %s for user %s, session buffer full", ev.Type, userID)
		}
	}

	if delivered > 0 {
		eventsTotal.WithLabelValues(string(ev.Type), "delivered").Inc()
	} else {
		eventsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
	}

	return delivered
}

// Sessions returns the number of live sessions of userID.
func (h *Hub) Sessions(userID model.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close detaches every session.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0)
	for _, set := range h.clients {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Detach(c)
	}
}
