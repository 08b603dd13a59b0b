// Package socket is the real-time channel layer: worker and user connections,
// capability-keyed rooms, the redis-leased worker registry and the
// availability handshake used to route operations.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/foldstream/foldstream/internal/auth"
	"github.com/foldstream/foldstream/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const messageTypeCheckAvailability = "CHECK_AVAILABILITY"

// connState is the per-connection handshake state machine. A connection that
// fails credential verification never leaves connStateConnecting; there is no
// unauthenticated-but-connected state.
type connState int

const (
	connStateConnecting connState = iota
	connStateAuthenticated
	connStateRegistered
	connStateDisconnected
)

type envelope struct {
	Event     string          `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type workRequestPayload struct {
	MessageType string           `json:"messageType"`
	Task        domain.WorkOffer `json:"task"`
}

type workRequestAck struct {
	WillComplete bool `json:"willComplete"`
}

type connection struct {
	id       string
	state    connState
	workerID string
	rooms    []string
	done     chan struct{}

	sock    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan bool
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteJSON(v)
}

// Hub owns all live socket connections and implements domain.WorkerChannel.
type Hub struct {
	registry domain.WorkerRegistry
	verifier *auth.TokenVerifier
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	workers map[string]*connection
	rooms   map[string]map[*connection]struct{}
}

type HubDependencies struct {
	Registry domain.WorkerRegistry
	Verifier *auth.TokenVerifier
}

func NewHub(deps HubDependencies) *Hub {
	return &Hub{
		registry: deps.Registry,
		verifier: deps.Verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		workers: make(map[string]*connection),
		rooms:   make(map[string]map[*connection]struct{}),
	}
}

// ServeHTTP upgrades a socket connection after validating the query-string
// credential. Workers register a lease and join capability rooms; users join
// the folder room their token is scoped to; apps join their app room.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := h.verifier.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		log.Warn().Err(err).Msg("Rejected socket connection")
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	conn := &connection{
		id:      xid.New().String(),
		state:   connStateConnecting,
		pending: make(map[string]chan bool),
		done:    make(chan struct{}),
	}

	switch principal.Kind {
	case auth.PrincipalWorker:
		if err := h.prepareWorker(r, conn); err != nil {
			log.Warn().Err(err).Msg("Rejected worker connection")
			http.Error(w, "invalid worker handshake", http.StatusUnauthorized)
			return
		}
	case auth.PrincipalUser:
		folderID := r.URL.Query().Get("folderId")
		if folderID == "" || !principal.HasScope(auth.SocketConnectScope(folderID)) {
			log.Warn().Str("user_id", principal.UserID).Msg("Rejected user connection without folder scope")
			http.Error(w, "missing folder scope", http.StatusForbidden)
			return
		}
		conn.rooms = []string{domain.FolderRoom(folderID)}
	case auth.PrincipalApp:
		conn.rooms = []string{domain.AppRoom(principal.AppIdentifier)}
	}

	conn.state = connStateAuthenticated

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Socket upgrade failed")
		return
	}
	conn.sock = sock

	if err := h.register(r.Context(), conn); err != nil {
		log.Error().Err(err).Msg("Failed to register socket connection")
		sock.Close()
		return
	}

	go h.readPump(conn)
}

func (h *Hub) prepareWorker(r *http.Request, conn *connection) error {
	externalID := r.URL.Query().Get("externalId")
	if externalID == "" {
		return domain.NewWorkerInvalidError("missing externalId")
	}

	capabilitiesParam := r.URL.Query().Get("capabilities")
	if capabilitiesParam == "" {
		return domain.NewWorkerInvalidError("missing capabilities")
	}

	var capabilities []string
	for _, capability := range strings.Split(capabilitiesParam, ",") {
		if capability = strings.TrimSpace(capability); capability != "" {
			capabilities = append(capabilities, capability)
		}
	}
	if len(capabilities) == 0 {
		return domain.NewWorkerInvalidError("empty capability set")
	}

	conn.workerID = externalID
	for _, capability := range capabilities {
		conn.rooms = append(conn.rooms, domain.CapabilityRoom(capability))
	}

	return nil
}

func (h *Hub) register(ctx context.Context, conn *connection) error {
	if conn.workerID != "" {
		registration := domain.WorkerRegistration{
			WorkerID:     conn.workerID,
			Capabilities: capabilitiesFromRooms(conn.rooms),
			ConnectedAt:  time.Now().UTC(),
		}

		if err := h.registry.Register(context.WithoutCancel(ctx), registration); err != nil {
			return err
		}

		go h.heartbeat(conn)
	}

	h.mu.Lock()
	if conn.workerID != "" {
		h.workers[conn.workerID] = conn
	}
	for _, room := range conn.rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*connection]struct{})
		}
		h.rooms[room][conn] = struct{}{}
	}
	conn.state = connStateRegistered
	h.mu.Unlock()

	log.Info().
		Str("connection_id", conn.id).
		Str("worker_id", conn.workerID).
		Strs("rooms", conn.rooms).
		Msg("Socket connection registered")

	return nil
}

// heartbeat refreshes the worker's lease until the connection closes or the
// registry reports the lease gone.
func (h *Hub) heartbeat(conn *connection) {
	ticker := time.NewTicker(domain.WorkerLeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if h.refreshLease(conn.workerID) {
				return
			}
		}
	}
}

// refreshLease renews the worker's registry lease and reports whether the
// heartbeat should stop. Transport errors are retried on the next tick; only
// a lease the registry no longer knows ends the heartbeat.
func (h *Hub) refreshLease(workerID string) bool {
	err := h.registry.Refresh(context.Background(), workerID)
	if err == nil {
		return false
	}

	var workerErr *domain.WorkerInvalidError
	if errors.As(err, &workerErr) {
		log.Warn().Str("worker_id", workerID).Msg("Worker lease is gone, stopping heartbeat")
		return true
	}

	log.Warn().Err(err).Str("worker_id", workerID).Msg("Failed to refresh worker lease")
	return false
}

func (h *Hub) readPump(conn *connection) {
	defer h.disconnect(conn)

	for {
		var msg envelope
		if err := conn.sock.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Event {
		case domain.MessageTypeWorkRequestAck:
			h.deliverAck(conn, msg)
		default:
			log.Debug().
				Str("connection_id", conn.id).
				Str("event", msg.Event).
				Msg("Ignoring unexpected socket message")
		}
	}
}

func (h *Hub) deliverAck(conn *connection, msg envelope) {
	var ack workRequestAck
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.id).Msg("Malformed work request ack")
		return
	}

	conn.pendingMu.Lock()
	ch, ok := conn.pending[msg.RequestID]
	delete(conn.pending, msg.RequestID)
	conn.pendingMu.Unlock()

	if ok {
		ch <- ack.WillComplete
	}
}

// disconnect tears the connection down: rooms left, lease deleted. Lease TTL
// expiry covers the case where this never runs. A connection replaced by a
// reconnect under the same worker ID no longer owns the lease and must not
// delete its successor's; its own lease copy is left to TTL expiry.
func (h *Hub) disconnect(conn *connection) {
	h.mu.Lock()
	conn.state = connStateDisconnected
	close(conn.done)
	ownsWorker := conn.workerID != "" && h.workers[conn.workerID] == conn
	if ownsWorker {
		delete(h.workers, conn.workerID)
	}
	for _, room := range conn.rooms {
		delete(h.rooms[room], conn)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	conn.sock.Close()

	if ownsWorker {
		if err := h.registry.Deregister(context.Background(), conn.workerID); err != nil {
			log.Warn().Err(err).Str("worker_id", conn.workerID).Msg("Failed to deregister worker")
		}
	}

	log.Info().Str("connection_id", conn.id).Str("worker_id", conn.workerID).Msg("Socket connection closed")
}

// OfferOperation sends a CHECK_AVAILABILITY request to one worker and waits
// at most OfferTimeout for its acknowledgment. A timeout counts as a decline.
func (h *Hub) OfferOperation(ctx context.Context, workerID string, offer domain.WorkOffer) (bool, error) {
	h.mu.RLock()
	conn, ok := h.workers[workerID]
	h.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("worker %s is not connected to this node", workerID)
	}

	requestID := xid.New().String()
	ackCh := make(chan bool, 1)

	conn.pendingMu.Lock()
	conn.pending[requestID] = ackCh
	conn.pendingMu.Unlock()

	defer func() {
		conn.pendingMu.Lock()
		delete(conn.pending, requestID)
		conn.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(workRequestPayload{
		MessageType: messageTypeCheckAvailability,
		Task:        offer,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal work request: %w", err)
	}

	if err := conn.writeJSON(envelope{
		Event:     domain.MessageTypeWorkRequest,
		RequestID: requestID,
		Payload:   payload,
	}); err != nil {
		return false, fmt.Errorf("failed to send work request: %w", err)
	}

	select {
	case willComplete := <-ackCh:
		return willComplete, nil
	case <-time.After(domain.OfferTimeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// BroadcastToRoom fans a message out to every connection in the room.
func (h *Hub) BroadcastToRoom(ctx context.Context, room string, messageType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}

	h.mu.RLock()
	conns := make([]*connection, 0, len(h.rooms[room]))
	for conn := range h.rooms[room] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.writeJSON(envelope{Event: messageType, Payload: raw}); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.id).Str("room", room).Msg("Failed to deliver broadcast")
		}
	}

	return nil
}

func capabilitiesFromRooms(rooms []string) []string {
	var capabilities []string
	for _, room := range rooms {
		if capability, ok := strings.CutPrefix(room, "capability:"); ok {
			capabilities = append(capabilities, capability)
		}
	}
	return capabilities
}
