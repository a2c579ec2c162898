package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
	"github.com/brandmill/maestro/internal/services/events"
	"github.com/brandmill/maestro/internal/services/jobs"
	"github.com/brandmill/maestro/internal/storage/badger"
)

type wsRig struct {
	jobService   interfaces.JobService
	eventService interfaces.EventService
	handler      *WebSocketHandler
	server       *httptest.Server
}

func newWSRig(t *testing.T, config *common.WebSocketConfig) *wsRig {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	jobService := jobs.NewService(manager.JobStorage(), logger)
	eventService := events.NewService(logger)
	handler := NewWebSocketHandler(jobService, eventService, config, "test-secret", logger)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &wsRig{
		jobService:   jobService,
		eventService: eventService,
		handler:      handler,
		server:       server,
	}
}

func (r *wsRig) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(r.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg clientMessage) {
	t.Helper()

	data, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write websocket message: %v", err)
	}
}

func TestWebSocket_LateSubscriberGetsSnapshot(t *testing.T) {
	rig := newWSRig(t, &common.WebSocketConfig{AllowAnonymous: true})
	ctx := context.Background()

	job, err := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Progress the job before anyone subscribes.
	if err := rig.jobService.Transition(ctx, job.ID, models.JobStatusRunning, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	pct := 60
	if err := rig.jobService.Transition(ctx, job.ID, models.JobStatusRunning,
		&interfaces.TransitionUpdate{Progress: &pct}); err != nil {
		t.Fatalf("progress failed: %v", err)
	}

	conn := rig.dial(t, nil)
	if msg := readMessage(t, conn); msg.Type != "connected" {
		t.Fatalf("expected connected frame, got %s", msg.Type)
	}

	sendMessage(t, conn, clientMessage{Type: "join_job", JobID: job.ID})

	snapshot := readMessage(t, conn)
	if snapshot.Type != "job_status" {
		t.Fatalf("expected job_status snapshot, got %s", snapshot.Type)
	}
	payload := snapshot.Payload.(map[string]interface{})
	if payload["status"] != string(models.JobStatusRunning) {
		t.Errorf("expected running status in snapshot, got %v", payload["status"])
	}
	if payload["progress"].(float64) != 60 {
		t.Errorf("expected progress 60 in snapshot, got %v", payload["progress"])
	}
}

func TestWebSocket_RoomScopedDelivery(t *testing.T) {
	rig := newWSRig(t, &common.WebSocketConfig{AllowAnonymous: true})
	ctx := context.Background()

	jobA, _ := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)
	jobB, _ := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)

	conn := rig.dial(t, nil)
	readMessage(t, conn) // connected

	sendMessage(t, conn, clientMessage{Type: "join_job", JobID: jobA.ID})
	readMessage(t, conn) // snapshot

	// Events for an unsubscribed job must not reach this client.
	eventB := models.NewJobEvent(models.JobEventProgress, jobB.ID)
	eventB.Progress = 10
	rig.eventService.Publish(ctx, interfaces.Event{Type: interfaces.EventJobLifecycle, Payload: eventB})

	eventA := models.NewJobEvent(models.JobEventProgress, jobA.ID)
	eventA.Progress = 25
	rig.eventService.Publish(ctx, interfaces.Event{Type: interfaces.EventJobLifecycle, Payload: eventA})

	msg := readMessage(t, conn)
	if msg.Type != string(models.JobEventProgress) {
		t.Fatalf("expected job_progress, got %s", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if payload["job_id"] != jobA.ID {
		t.Errorf("received event for unsubscribed job: %v", payload["job_id"])
	}

	// After leaving, lifecycle events stop; a ping confirms no queued frame.
	sendMessage(t, conn, clientMessage{Type: "leave_job", JobID: jobA.ID})
	readMessage(t, conn) // job_unsubscribed

	rig.eventService.Publish(ctx, interfaces.Event{Type: interfaces.EventJobLifecycle, Payload: eventA})
	sendMessage(t, conn, clientMessage{Type: "ping"})
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Errorf("expected pong after leave, got %s", msg.Type)
	}
}

func TestWebSocket_RoomIndexTracksMembership(t *testing.T) {
	rig := newWSRig(t, &common.WebSocketConfig{AllowAnonymous: true})
	ctx := context.Background()

	job, _ := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)

	if n := rig.handler.SubscriberCount(job.ID); n != 0 {
		t.Fatalf("expected empty room before any join, got %d subscribers", n)
	}

	conn := rig.dial(t, nil)
	readMessage(t, conn) // connected

	sendMessage(t, conn, clientMessage{Type: "join_job", JobID: job.ID})
	readMessage(t, conn) // snapshot
	if n := rig.handler.SubscriberCount(job.ID); n != 1 {
		t.Fatalf("expected 1 subscriber after join, got %d", n)
	}

	sendMessage(t, conn, clientMessage{Type: "leave_job", JobID: job.ID})
	readMessage(t, conn) // job_unsubscribed
	if n := rig.handler.SubscriberCount(job.ID); n != 0 {
		t.Fatalf("expected empty room after leave, got %d subscribers", n)
	}

	// Rejoin, then disconnect without leaving: the room must still empty.
	sendMessage(t, conn, clientMessage{Type: "join_job", JobID: job.ID})
	readMessage(t, conn) // snapshot
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for rig.handler.SubscriberCount(job.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room still has subscribers after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_JoinUnknownJob(t *testing.T) {
	rig := newWSRig(t, &common.WebSocketConfig{AllowAnonymous: true})

	conn := rig.dial(t, nil)
	readMessage(t, conn) // connected

	sendMessage(t, conn, clientMessage{Type: "join_job", JobID: "no-such-job"})
	if msg := readMessage(t, conn); msg.Type != "error" {
		t.Errorf("expected error frame for unknown job, got %s", msg.Type)
	}
}

func TestWebSocket_AuthRequired(t *testing.T) {
	rig := newWSRig(t, &common.WebSocketConfig{AllowAnonymous: false})

	wsURL := "ws" + strings.TrimPrefix(rig.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}

	// A signed token is accepted and binds the caller identity.
	token, err := common.SignBearerToken("caller-7", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("expected authenticated dial to succeed: %v", err)
	}
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != "connected" {
		t.Fatalf("expected connected frame, got %s", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if payload["caller_id"] != "caller-7" {
		t.Errorf("expected caller-7 identity, got %v", payload["caller_id"])
	}
}

func TestWebSocket_OwnershipEnforcedForAuthenticatedCaller(t *testing.T) {
	rig := newWSRig(t, &common.WebSocketConfig{AllowAnonymous: false})
	ctx := context.Background()

	job, _ := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)

	token, _ := common.SignBearerToken("caller-2", "test-secret", time.Hour)
	wsURL := "ws" + strings.TrimPrefix(rig.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn) // connected

	sendMessage(t, conn, clientMessage{Type: "join_job", JobID: job.ID})
	if msg := readMessage(t, conn); msg.Type != "error" {
		t.Errorf("expected error joining another caller's job, got %s", msg.Type)
	}
}
