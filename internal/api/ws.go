package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/orchestrator"
	"github.com/DelaneKay/memeradar/internal/telemetry"
)

// WebSocket topics.
const (
	TopicHotlist  = "hotlist"
	TopicListings = "listings"
	TopicHealth   = "health"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientSendBuf  = 32
	maxMessageSize = 4096
)

// envelope is the frame every outbound message uses.
type envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// clientCommand is the inbound subscribe/unsubscribe frame.
type clientCommand struct {
	Action string `json:"action"` // subscribe | unsubscribe
	Topic  string `json:"topic"`
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan envelope
	topics map[string]bool
	mu     sync.Mutex
}

func (c *wsClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (c *wsClient) setTopic(topic string, on bool) {
	c.mu.Lock()
	if on {
		c.topics[topic] = true
	} else {
		delete(c.topics, topic)
	}
	c.mu.Unlock()
}

// enqueue drops the frame if the client's buffer is full; a slow reader
// never blocks the broadcast path.
func (c *wsClient) enqueue(ev envelope) {
	select {
	case c.send <- ev:
	default:
	}
}

// Hub fans orchestrator updates out to WebSocket clients by topic.
type Hub struct {
	orch    *orchestrator.Orchestrator
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[string]*wsClient

	upgrader websocket.Upgrader
}

// NewHub creates the hub.
func NewHub(orch *orchestrator.Orchestrator, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		orch:    orch,
		metrics: metrics,
		logger:  log.With().Str("component", "ws").Logger(),
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start subscribes the hub to orchestrator updates. Subscriptions live for
// the process lifetime; ctx only gates future work.
func (h *Hub) Start(ctx context.Context) {
	h.orch.SubscribeHotlist(func(list []models.TokenSummary) {
		h.broadcast(TopicHotlist, list)
	})
	h.orch.SubscribeListings(func(ev models.CEXListingEvent) {
		h.broadcast(TopicListings, ev)
	})
	h.orch.SubscribeHealth(func(snap models.HealthSnapshot) {
		h.broadcast(TopicHealth, snap)
	})
}

func (h *Hub) broadcast(topic string, data interface{}) {
	ev := envelope{Type: topic, Data: data, Timestamp: time.Now().UnixMilli()}

	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(ev)
	}
}

// HandleWS upgrades the connection and runs the read/write pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan envelope, clientSendBuf),
		topics: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
	h.logger.Debug().Str("client", client.id).Int("clients", n).Msg("connected")

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) readPump(c *wsClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			if validTopic(cmd.Topic) {
				c.setTopic(cmd.Topic, true)
				h.sendSnapshot(c, cmd.Topic)
			}
		case "unsubscribe":
			c.setTopic(cmd.Topic, false)
		}
	}
}

// sendSnapshot pushes the current state of a topic right after subscribe,
// so clients render without waiting for the next pipeline pass.
func (h *Hub) sendSnapshot(c *wsClient, topic string) {
	var data interface{}
	switch topic {
	case TopicHotlist:
		data = h.orch.Hotlist()
	case TopicHealth:
		data = h.orch.Health()
	default:
		return // listings have no snapshot
	}
	c.enqueue(envelope{Type: topic, Data: data, Timestamp: time.Now().UnixMilli()})
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	c.conn.Close()
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
	h.logger.Debug().Str("client", c.id).Msg("disconnected")
}

func validTopic(t string) bool {
	return t == TopicHotlist || t == TopicListings || t == TopicHealth
}
