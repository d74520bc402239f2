package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/slotline/slotline/internal/coordinator"
)

// Hub manages the WebSocket connections and bridges them to the
// coordinator: inbound frames become coordinator calls, coordinator
// snapshots and notices become outbound frames.
//
// Connections are keyed by session identity. A reconnect with the same
// session id supersedes the previous socket without touching coordination
// state.
type Hub struct {
	sessions map[string]*Connection
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	coord    *coordinator.Coordinator

	outboundCh chan outbound

	// Set once by Start before the server accepts traffic.
	runCtx context.Context
}

// Connection represents one WebSocket client.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds the socket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// outbound is a frame queued for delivery. An empty sessionID means every
// connected client.
type outbound struct {
	sessionID string
	payload   []byte
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewHub creates a hub bridging sockets to the given coordinator.
func NewHub(coord *coordinator.Coordinator, config ConnectionConfig) *Hub {
	return &Hub{
		sessions: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:     config,
		coord:      coord,
		outboundCh: make(chan outbound, 1000),
		runCtx:     context.Background(),
	}
}

// Start launches the outbound delivery loop. It must be called before the
// hub accepts connections so handler goroutines observe the run context.
func (h *Hub) Start(ctx context.Context) {
	h.runCtx = ctx
	go h.run(ctx)
}

func (h *Hub) run(ctx context.Context) {
	log.Info().Msg("gateway hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway hub shutting down")
			return
		case out := <-h.outboundCh:
			h.deliver(out)
		}
	}
}

// ServeConnection upgrades the request and attaches the socket to the
// session. The welcome frame is queued before the coordinator learns of the
// connection, so every client sees its identity before the first snapshot.
func (h *Hub) ServeConnection(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Hub:         h,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	h.register(connection)
	connection.sendEnvelope(TypeWelcome, WelcomePayload{SessionID: sessionID})
	h.coord.Connect(h.runCtx, sessionID)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("session_id", sessionID).
		Msg("WebSocket connection established")
	return nil
}

// register attaches the connection to its session, superseding any previous
// socket for the same identity.
func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	old := h.sessions[conn.SessionID]
	h.sessions[conn.SessionID] = conn
	h.mu.Unlock()

	if old != nil {
		// Same identity reconnected; drop the stale socket. Coordination
		// state carries over untouched. Closing the socket lets both pumps
		// wind down on their own.
		old.Conn.Close()
		log.Info().
			Str("session_id", conn.SessionID).
			Str("old_connection_id", old.ID).
			Str("connection_id", conn.ID).
			Msg("session superseded previous connection")
	}
}

// unregister detaches the connection. Only the currently registered socket
// for the session takes it offline; a superseded socket detaching is a no-op.
func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	current, ok := h.sessions[conn.SessionID]
	if !ok || current != conn {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, conn.SessionID)
	h.mu.Unlock()

	conn.Conn.Close()

	h.coord.Disconnect(h.runCtx, conn.SessionID)
	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Msg("connection unregistered")
}

// PublishSnapshot implements coordinator.SnapshotSink by broadcasting the
// snapshot to every connected client.
func (h *Hub) PublishSnapshot(snap coordinator.Snapshot) {
	payload, err := marshalEnvelope(TypeUpdateState, snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal state snapshot")
		return
	}
	h.enqueue(outbound{payload: payload})
}

// SelectionStarted implements coordinator.Notifier.
func (h *Hub) SelectionStarted(sessionID, eventID string, expiresAt time.Time) {
	h.notify(sessionID, TypeSelectionStarted, SelectionStartedPayload{EventID: eventID, ExpiresAt: expiresAt})
}

// SelectionExpired implements coordinator.Notifier.
func (h *Hub) SelectionExpired(sessionID, eventID string) {
	h.notify(sessionID, TypeSelectionExpired, NoticePayload{EventID: eventID})
}

// HoldExpired implements coordinator.Notifier.
func (h *Hub) HoldExpired(sessionID, eventID string) {
	h.notify(sessionID, TypeHoldExpired, NoticePayload{EventID: eventID})
}

func (h *Hub) notify(sessionID string, t MessageType, payload any) {
	data, err := marshalEnvelope(t, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal notice")
		return
	}
	h.enqueue(outbound{sessionID: sessionID, payload: data})
}

func (h *Hub) enqueue(out outbound) {
	select {
	case h.outboundCh <- out:
	default:
		log.Warn().Str("session_id", out.sessionID).Msg("outbound channel full, dropping frame")
	}
}

func (h *Hub) deliver(out outbound) {
	h.mu.RLock()
	var targets []*Connection
	if out.sessionID != "" {
		if conn, ok := h.sessions[out.sessionID]; ok {
			targets = append(targets, conn)
		}
	} else {
		for _, conn := range h.sessions {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- out.payload:
		default:
			// Connection is slow or dead, close it.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("session_id", conn.SessionID).
				Msg("connection send buffer full, closing connection")
			h.unregister(conn)
		}
	}
}

// Stats returns connection counts for the stats endpoint.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"connections": len(h.sessions),
	}
}

// writePump sends queued frames and pings on one goroutine per connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Hub.unregister(c)
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads client frames and dispatches them to the coordinator.
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	}
}

// handleClientMessage routes one inbound frame. Responses travel through the
// hub's outbound queue, not this goroutine: the coordinator invokes the
// responder on its own loop before queueing any notice or snapshot the same
// request produces, so each connection sees response, notice, snapshot in
// causal order. State changes reach other clients through the next snapshot
// broadcast.
func (c *Connection) handleClientMessage(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Debug().
			Str("connection_id", c.ID).
			Err(err).
			Msg("discarding malformed frame")
		return
	}

	ctx := c.Hub.runCtx
	switch env.Type {
	case TypeJoinQueue:
		var ref EventRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			c.sendEnvelope(TypeQueueResponse, ResponsePayload{Message: "invalid request"})
			return
		}
		if !c.Hub.coord.PostJoinQueue(ctx, c.SessionID, ref.EventID, c.responder(TypeQueueResponse)) {
			c.sendEnvelope(TypeQueueResponse, ResponsePayload{Message: "service unavailable"})
		}

	case TypeLeaveQueue:
		var ref EventRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			c.sendEnvelope(TypeQueueResponse, ResponsePayload{Message: "invalid request"})
			return
		}
		if !c.Hub.coord.PostLeaveQueue(ctx, c.SessionID, ref.EventID, c.responder(TypeQueueResponse)) {
			c.sendEnvelope(TypeQueueResponse, ResponsePayload{Message: "service unavailable"})
		}

	case TypeReserveEvent:
		var ref EventRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			c.sendEnvelope(TypeReservationResponse, ResponsePayload{Message: "invalid request"})
			return
		}
		if !c.Hub.coord.PostReserve(ctx, c.SessionID, ref.EventID, c.responder(TypeReservationResponse)) {
			c.sendEnvelope(TypeReservationResponse, ResponsePayload{Message: "service unavailable"})
		}

	case TypeConfirmReservation:
		var payload ConfirmPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.sendEnvelope(TypeConfirmationResponse, ResponsePayload{Message: "invalid request"})
			return
		}
		if !c.Hub.coord.PostConfirm(ctx, c.SessionID, payload.EventID, payload.UserData, c.responder(TypeConfirmationResponse)) {
			c.sendEnvelope(TypeConfirmationResponse, ResponsePayload{Message: "service unavailable"})
		}

	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", string(env.Type)).
			Msg("received unknown frame type")
	}
}

// responder builds the callback that turns a coordinator decision into an
// addressed frame. It is addressed by session identity, so after a takeover
// the response reaches whichever socket currently holds the session.
func (c *Connection) responder(t MessageType) func(coordinator.Result) {
	return func(res coordinator.Result) {
		data, err := marshalEnvelope(t, ResponsePayload{Success: res.OK, Message: res.Message})
		if err != nil {
			log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal response")
			return
		}
		c.Hub.enqueue(outbound{sessionID: c.SessionID, payload: data})
	}
}

func (c *Connection) sendEnvelope(t MessageType, payload any) {
	data, err := marshalEnvelope(t, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal frame")
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("type", string(t)).
			Msg("send buffer full, dropping frame")
	}
}
