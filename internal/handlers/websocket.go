// -----------------------------------------------------------------------
// WebSocket Handler - per-job subscription rooms with ordered broadcasts
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame sent to a client.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient tracks one connection's identity and room memberships. Writes to
// the connection are serialized through writeMu; gorilla/websocket does not
// allow concurrent writers.
type wsClient struct {
	conn     *websocket.Conn
	callerID string // empty for anonymous connections
	rooms    map[string]bool
	writeMu  sync.Mutex
}

// WebSocketHandler is the subscription hub: it accepts connections, manages
// job rooms, and relays job lifecycle events to subscribers. A slow consumer
// only ever loses its own connection; broadcasts never block the producers.
type WebSocketHandler struct {
	logger       arbor.ILogger
	jobService   interfaces.JobService
	eventService interfaces.EventService
	config       *common.WebSocketConfig
	authSecret   string

	mu        sync.RWMutex
	clients   map[*websocket.Conn]*wsClient
	rooms     map[string]map[*wsClient]struct{} // jobID -> subscribed clients
	throttles map[string]*rate.Limiter          // per-job progress throttle

	throttleInterval time.Duration
	serverInstanceID string
}

// NewWebSocketHandler creates the hub and subscribes it to the event bus.
func NewWebSocketHandler(jobService interfaces.JobService, eventService interfaces.EventService, config *common.WebSocketConfig, authSecret string, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		jobService:       jobService,
		eventService:     eventService,
		config:           config,
		authSecret:       authSecret,
		clients:          make(map[*websocket.Conn]*wsClient),
		rooms:            make(map[string]map[*wsClient]struct{}),
		throttles:        make(map[string]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config.ProgressThrottle != "" {
		if d, err := time.ParseDuration(config.ProgressThrottle); err == nil && d > 0 {
			h.throttleInterval = d
		} else {
			logger.Warn().
				Str("interval", config.ProgressThrottle).
				Msg("Invalid progress throttle interval, throttling disabled")
		}
	}

	if err := eventService.Subscribe(interfaces.EventJobLifecycle, h.onJobEvent); err != nil {
		logger.Error().Err(err).Msg("Failed to subscribe to job lifecycle events")
	}
	if err := eventService.Subscribe(interfaces.EventQueueStats, h.onQueueStats); err != nil {
		logger.Error().Err(err).Msg("Failed to subscribe to queue stats events")
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Msg("WebSocket hub initialized")

	return h
}

// HandleWebSocket upgrades the connection and runs its read loop.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	callerID, err := h.authenticate(r)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket authentication rejected")
		WriteError(w, http.StatusUnauthorized, "invalid or missing bearer token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{
		conn:     conn,
		callerID: callerID,
		rooms:    make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[conn] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("caller_id", callerID).
		Msgf("WebSocket client connected (total: %d)", clientCount)

	h.send(client, WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"caller_id":          callerID,
			"server_instance_id": h.serverInstanceID,
			"timestamp":          time.Now().UTC().Format(time.RFC3339),
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		for jobID := range client.rooms {
			h.removeFromRoomLocked(client, jobID)
		}
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		h.handleClientMessage(r.Context(), client, data)
	}
}

// authenticate resolves the caller identity from the bearer token. Anonymous
// connections are accepted when allowed by config.
func (h *WebSocketHandler) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if token == "" {
		if h.config.AllowAnonymous {
			return "", nil
		}
		return "", errMissingToken
	}

	return common.VerifyBearerToken(token, h.authSecret)
}

// clientMessage is the inbound frame shape for all client operations.
type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

func (h *WebSocketHandler) handleClientMessage(ctx context.Context, client *wsClient, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(client, "malformed message")
		return
	}

	switch msg.Type {
	case "join_job":
		h.joinJob(ctx, client, msg.JobID)
	case "leave_job":
		h.leaveJob(client, msg.JobID)
	case "ping":
		h.send(client, WSMessage{
			Type: "pong",
			Payload: map[string]interface{}{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		})
	default:
		h.sendError(client, "unknown message type: "+msg.Type)
	}
}

// joinJob subscribes the client to a job room and replies with a snapshot of
// the job's current state, so late subscribers never miss where the job is.
func (h *WebSocketHandler) joinJob(ctx context.Context, client *wsClient, jobID string) {
	if jobID == "" {
		h.sendError(client, "job_id is required")
		return
	}

	// Anonymous connections see all jobs; authenticated ones only their own.
	job, err := h.jobService.Get(ctx, jobID, client.callerID)
	if err != nil {
		h.sendError(client, "job "+jobID+" not found")
		return
	}

	h.mu.Lock()
	client.rooms[jobID] = true
	room := h.rooms[jobID]
	if room == nil {
		room = make(map[*wsClient]struct{})
		h.rooms[jobID] = room
	}
	room[client] = struct{}{}
	h.mu.Unlock()

	h.send(client, WSMessage{
		Type: "job_status",
		Payload: map[string]interface{}{
			"job_id":   job.ID,
			"status":   job.Status,
			"progress": job.Progress,
			"result":   job.Result,
			"error":    job.ErrorMessage,
			"message":  "Subscribed to job " + jobID,
		},
	})

	h.logger.Debug().
		Str("job_id", jobID).
		Str("caller_id", client.callerID).
		Msg("Client joined job room")
}

func (h *WebSocketHandler) leaveJob(client *wsClient, jobID string) {
	if jobID == "" {
		return
	}

	h.mu.Lock()
	delete(client.rooms, jobID)
	h.removeFromRoomLocked(client, jobID)
	h.mu.Unlock()

	h.send(client, WSMessage{
		Type: "job_unsubscribed",
		Payload: map[string]interface{}{
			"job_id":  jobID,
			"message": "Unsubscribed from job " + jobID,
		},
	})
}

// onJobEvent relays a job lifecycle event to every subscriber of its room.
// Progress events are throttled per job; terminal and status events always
// go through.
func (h *WebSocketHandler) onJobEvent(ctx context.Context, event interfaces.Event) error {
	jobEvent, ok := event.Payload.(*models.JobEvent)
	if !ok {
		return nil
	}

	if jobEvent.Type.IsTerminal() {
		defer h.dropThrottle(jobEvent.JobID)
	}

	subscribers := h.roomMembers(jobEvent.JobID)
	if len(subscribers) == 0 {
		return nil
	}

	if h.shouldThrottle(jobEvent) {
		return nil
	}

	msg := WSMessage{
		Type:    string(jobEvent.Type),
		Payload: jobEvent,
	}
	for _, client := range subscribers {
		h.send(client, msg)
	}
	return nil
}

// onQueueStats broadcasts queue statistics to every connected client.
func (h *WebSocketHandler) onQueueStats(ctx context.Context, event interfaces.Event) error {
	stats, ok := event.Payload.(*models.QueueStats)
	if !ok {
		return nil
	}

	msg := WSMessage{
		Type:    "queue_stats",
		Payload: stats,
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.send(client, msg)
	}
	return nil
}

// shouldThrottle drops intermediate progress frames that arrive faster than
// the configured interval. Only job_progress is subject to throttling.
func (h *WebSocketHandler) shouldThrottle(event *models.JobEvent) bool {
	if h.throttleInterval <= 0 || event.Type != models.JobEventProgress {
		return false
	}

	h.mu.Lock()
	limiter, ok := h.throttles[event.JobID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.throttleInterval), 1)
		h.throttles[event.JobID] = limiter
	}
	h.mu.Unlock()

	return !limiter.Allow()
}

func (h *WebSocketHandler) dropThrottle(jobID string) {
	h.mu.Lock()
	delete(h.throttles, jobID)
	h.mu.Unlock()
}

// roomMembers snapshots the subscribers of one job room. The room index makes
// events for unwatched jobs a map lookup, not a scan of every connection.
func (h *WebSocketHandler) roomMembers(jobID string) []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[jobID]
	if len(room) == 0 {
		return nil
	}
	members := make([]*wsClient, 0, len(room))
	for client := range room {
		members = append(members, client)
	}
	return members
}

// removeFromRoomLocked drops a client from the room index, discarding the
// room once it empties. Caller holds h.mu.
func (h *WebSocketHandler) removeFromRoomLocked(client *wsClient, jobID string) {
	room := h.rooms[jobID]
	if room == nil {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, jobID)
	}
}

// send marshals and writes one frame to a client. Write failures are logged
// and the read loop notices the dead connection on its own.
func (h *WebSocketHandler) send(client *wsClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	client.writeMu.Lock()
	err = client.conn.WriteMessage(websocket.TextMessage, data)
	client.writeMu.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to write websocket message")
	}
}

func (h *WebSocketHandler) sendError(client *wsClient, message string) {
	h.send(client, WSMessage{
		Type:    "error",
		Payload: map[string]string{"message": message},
	})
}

// ConnectionCount returns the number of connected clients.
func (h *WebSocketHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients in one job room.
func (h *WebSocketHandler) SubscriberCount(jobID string) int {
	return len(h.roomMembers(jobID))
}
