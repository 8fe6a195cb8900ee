package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/logging"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// Feed message types. Clients send subscribe, unsubscribe and ping; the
// server sends hello once, then events, acks, pongs and errors.
const (
	FeedHello       = "hello"
	FeedEvent       = "event"
	FeedSubscribe   = "subscribe"
	FeedUnsubscribe = "unsubscribe"
	FeedAck         = "ack"
	FeedPing        = "ping"
	FeedPong        = "pong"
	FeedError       = "error"
)

// Event channels.
const (
	EventReadingCreated = "reading.created"
	EventRelayChanged   = "relay.changed"
	EventAlertCreated   = "alert.created"
	EventBrokerState    = "broker.state"
)

// EventChannels lists every channel, in the order clients see them in hello.
var EventChannels = []string{EventReadingCreated, EventRelayChanged, EventAlertCreated, EventBrokerState}

const (
	// feedBufferSize is the per-client outbound queue.
	feedBufferSize = 256

	// maxMissedEvents consecutive drops on a full queue disconnect the client.
	maxMissedEvents = 32

	defaultPingInterval = 30 // seconds
	defaultPongTimeout  = 10 // seconds
)

// FeedMessage is every frame the server writes.
type FeedMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Time    string `json:"time,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// FeedRequest is every frame a client may send.
type FeedRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// HelloData is sent once after the upgrade.
type HelloData struct {
	Channels []string          `json:"channels"`
	Broker   *BrokerStateEvent `json:"broker,omitempty"`
}

// BrokerStateEvent is the data of broker.state events.
type BrokerStateEvent struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// Hub fans stored records out to live feed clients.
//
// It is an ingest observer, so clients see a record only after it is
// durable. Sequence numbers are hub-wide and increase by one per event,
// letting a client detect events it missed. Broadcasts never block: a
// client whose queue stays full for maxMissedEvents events is dropped.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	broker  *BrokerStateEvent
	closed  bool
}

// feedClient is one live feed connection. conn is nil in unit tests.
type feedClient struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	mu       sync.Mutex
	channels map[string]bool
	missed   int
	gone     bool
}

// NewHub creates a hub. Zero keepalive settings take the defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*feedClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedEvents returns how many events were not queued because a
// client's buffer was full.
func (h *Hub) DroppedEvents() uint64 {
	return h.dropped.Load()
}

// OnReading publishes a stored reading on reading.created.
func (h *Hub) OnReading(r *telemetry.Reading) {
	h.Broadcast(EventReadingCreated, r)
}

// OnRelayEvent publishes a stored relay event on relay.changed.
func (h *Hub) OnRelayEvent(e *telemetry.RelayEvent) {
	h.Broadcast(EventRelayChanged, e)
}

// OnAlert publishes a stored alert on alert.created.
func (h *Hub) OnAlert(a *telemetry.Alert) {
	h.Broadcast(EventAlertCreated, a)
}

// BroadcastBrokerState publishes a broker transition and remembers it for
// the hello of clients that connect later. Its signature matches
// mqtt.Connection.OnStateChange.
func (h *Hub) BroadcastBrokerState(state mqtt.State) {
	event := &BrokerStateEvent{State: state.String(), Connected: state == mqtt.StateConnected}

	h.mu.Lock()
	h.broker = event
	h.mu.Unlock()

	h.Broadcast(EventBrokerState, event)
}

// Broadcast sends data to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, data any) {
	frame, err := json.Marshal(FeedMessage{
		Type:    FeedEvent,
		Channel: channel,
		Seq:     h.seq.Add(1),
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	})
	if err != nil {
		h.logger.Error("live feed event not encoded", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		queued, slow := c.push(frame)
		if !queued {
			h.dropped.Add(1)
		}
		if slow {
			h.logger.Warn("live feed client too slow, disconnecting", "missed", maxMissedEvents)
			h.remove(c)
		}
	}
}

// add registers c. It reports false once the hub has shut down.
func (h *Hub) add(c *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("live feed client connected", "clients", len(h.clients))
	return true
}

// remove unregisters c and closes it. Safe to call more than once.
func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	remaining := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.logger.Debug("live feed client disconnected", "clients", remaining)
	}
}

func (h *Hub) hello(channels []string) FeedMessage {
	h.mu.RLock()
	broker := h.broker
	h.mu.RUnlock()

	return FeedMessage{
		Type: FeedHello,
		Time: time.Now().UTC().Format(time.RFC3339Nano),
		Data: HelloData{Channels: channels, Broker: broker},
	}
}

// splitChannels returns the known and unknown names in list.
func splitChannels(list []string) (known, unknown []string) {
	for _, name := range list {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
		case slices.Contains(EventChannels, name):
			known = append(known, name)
		default:
			unknown = append(unknown, name)
		}
	}
	return known, unknown
}

func newFeedClient(h *Hub, conn *websocket.Conn, channels []string) *feedClient {
	c := &feedClient{
		hub:      h,
		conn:     conn,
		out:      make(chan []byte, feedBufferSize),
		channels: make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		c.channels[ch] = true
	}
	return c
}

// push queues frame without blocking. slow reports that the client has
// now missed maxMissedEvents events in a row.
func (c *feedClient) push(frame []byte) (queued, slow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return false, false
	}
	select {
	case c.out <- frame:
		c.missed = 0
		return true, false
	default:
		c.missed++
		return false, c.missed >= maxMissedEvents
	}
}

// reply queues a response frame. Replies do not count towards missed events.
func (c *feedClient) reply(msg FeedMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return
	}
	select {
	case c.out <- frame:
	default:
	}
}

func (c *feedClient) fail(id, message string) {
	c.reply(FeedMessage{Type: FeedError, ID: id, Data: map[string]string{"message": message}})
}

func (c *feedClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channel]
}

func (c *feedClient) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]string, 0, len(c.channels))
	for _, ch := range EventChannels {
		if c.channels[ch] {
			list = append(list, ch)
		}
	}
	return list
}

// close ends the write pump by closing out, then closes the socket.
func (c *feedClient) close() {
	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		return
	}
	c.gone = true
	close(c.out)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}

// handleWebSocket upgrades to the live feed.
//
// The optional channels query parameter (comma-separated) selects the
// initial subscriptions; without it the client receives every channel.
// Unknown channel names are rejected with 400 before the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels := EventChannels
	if raw := r.URL.Query().Get("channels"); raw != "" {
		known, unknown := splitChannels(strings.Split(raw, ","))
		if len(unknown) > 0 {
			writeBadRequest(w, "unknown channels: "+strings.Join(unknown, ", "))
			return
		}
		channels = known
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newFeedClient(s.hub, conn, channels)
	if !s.hub.add(client) {
		conn.Close()
		return
	}
	client.reply(s.hub.hello(client.subscriptions()))

	go client.writePump()
	go client.readPump()
}

func (c *feedClient) keepalive() (pingEvery, readWait time.Duration) {
	pingEvery = time.Duration(c.hub.cfg.PingInterval) * time.Second
	return pingEvery, pingEvery + time.Duration(c.hub.cfg.PongTimeout)*time.Second
}

// readPump handles client requests until the connection fails. Any frame,
// including pongs, extends the read deadline.
func (c *feedClient) readPump() {
	defer c.hub.remove(c)

	_, readWait := c.keepalive()
	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("live feed read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.handle(data)
	}
}

// writePump drains out and sends pings until out is closed or a write fails.
func (c *feedClient) writePump() {
	pingEvery, _ := c.keepalive()
	writeWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.out:
			//nolint:errcheck // a failed deadline surfaces as a write error
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // peer may already be gone
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // a failed deadline surfaces as a write error
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *feedClient) handle(data []byte) {
	var req FeedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case FeedPing:
		c.reply(FeedMessage{Type: FeedPong, ID: req.ID})
	case FeedSubscribe, FeedUnsubscribe:
		known, unknown := splitChannels(req.Channels)
		if len(unknown) > 0 {
			c.fail(req.ID, "unknown channels: "+strings.Join(unknown, ", "))
			return
		}
		c.mu.Lock()
		for _, ch := range known {
			if req.Type == FeedSubscribe {
				c.channels[ch] = true
			} else {
				delete(c.channels, ch)
			}
		}
		c.mu.Unlock()
		c.reply(FeedMessage{Type: FeedAck, ID: req.ID, Data: map[string][]string{"channels": c.subscriptions()}})
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}
