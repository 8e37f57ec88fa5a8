package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const queueTopic = "opd.queue"

func newClient(hub *Hub, id string, topics ...string) *Client {
	if topics == nil {
		topics = []string{}
	}
	return &Client{
		ID:     id,
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	client := newClient(hub, "desk-1", queueTopic)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(queueTopic) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(queueTopic))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(queueTopic) != 0 {
		t.Fatal("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub()
	sub := newClient(hub, "doctor-screen", queueTopic)
	other := newClient(hub, "billing-screen", "opd.bills")
	hub.Register(sub)
	hub.Register(other)

	hub.Broadcast(queueTopic, Event{
		Type:         "VisitChanged",
		Topic:        queueTopic,
		ResourceType: "Visit",
		ResourceID:   "v-1",
		Timestamp:    time.Now(),
	})

	select {
	case msg := <-sub.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.ResourceID != "v-1" {
			t.Errorf("expected v-1, got %s", ev.ResourceID)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("non-subscriber received event")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "slow", Topics: []string{queueTopic}, Send: make(chan []byte, 1), hub: hub}
	hub.Register(client)

	hub.Broadcast(queueTopic, Event{Type: "VisitChanged", Topic: queueTopic})
	hub.Broadcast(queueTopic, Event{Type: "VisitChanged", Topic: queueTopic})

	if len(client.Send) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(client.Send))
	}
}

func TestHub_PublishUsesEventTopic(t *testing.T) {
	hub := NewHub()
	client := newClient(hub, "desk-2", queueTopic)
	hub.Register(client)

	data, _ := json.Marshal(map[string]string{"status": "called"})
	err := hub.Publish(context.Background(), Event{Type: "VisitChanged", Topic: queueTopic, Data: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(<-client.Send, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(string(ev.Data), `"called"`) {
		t.Errorf("expected data to carry status, got %s", ev.Data)
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := newClient(hub, "desk-3")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{queueTopic, "opd.bills"}})
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{queueTopic}})
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", client.Topics)
	}
	if hub.TopicCount(queueTopic) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(queueTopic))
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{queueTopic}})
	if hub.TopicCount(queueTopic) != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.TopicCount(queueTopic))
	}
	if len(client.Topics) != 1 || client.Topics[0] != "opd.bills" {
		t.Fatalf("expected [opd.bills], got %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(hub, "c", queueTopic)
			hub.Register(c)
			hub.Broadcast(queueTopic, Event{Type: "VisitChanged"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestSplitTopics(t *testing.T) {
	got := splitTopics(" opd.queue, ,opd.bills ")
	if len(got) != 2 || got[0] != "opd.queue" || got[1] != "opd.bills" {
		t.Errorf("unexpected topics %v", got)
	}
	if got := splitTopics(""); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://front.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Error("request without Origin should pass")
	}
	req.Header.Set("Origin", "https://front.example")
	if !check(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Error("unknown origin accepted")
	}
	if !originChecker(nil)(req) {
		t.Error("empty allow list should accept any origin")
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewHandler(NewHub(), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub()
	handler := NewHandler(hub, nil)

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=" + queueTopic
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(queueTopic) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(queueTopic) != 1 {
		t.Fatalf("expected 1 subscriber on %s, got %d", queueTopic, hub.TopicCount(queueTopic))
	}

	hub.Broadcast(queueTopic, Event{
		Type:         "VisitChanged",
		Topic:        queueTopic,
		ResourceType: "Visit",
		ResourceID:   "v-42",
		Timestamp:    time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "VisitChanged" || received.ResourceID != "v-42" {
		t.Fatalf("unexpected event %+v", received)
	}
}
