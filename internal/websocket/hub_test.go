// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc, <-chan error) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()
	t.Cleanup(cancel)
	return hub, cancel, done
}

func testClient(hub *Hub, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), subject: "analyst", hub: hub, send: make(chan Message, buffer)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m, ok := <-c.send:
		if !ok {
			t.Fatal("client channel closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestHubBroadcastsToRegisteredClients(t *testing.T) {
	hub, _, _ := startHub(t)
	a, b := testClient(hub, 8), testClient(hub, 8)
	hub.Register <- a
	hub.Register <- b
	waitFor(t, func() bool { return hub.GetClientCount() == 2 })

	if !hub.BroadcastJSON(MessageTypeThreatAlert, map[string]any{"rule": "sql-injection-block"}) {
		t.Fatal("BroadcastJSON() = false")
	}
	for _, c := range []*Client{a, b} {
		m := receive(t, c)
		if m.Type != MessageTypeThreatAlert {
			t.Errorf("Type = %q, want threat_alert", m.Type)
		}
	}

	hub.Unregister <- a
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })
	if _, ok := <-a.send; ok {
		t.Error("unregistered client channel not closed")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub, _, _ := startHub(t)
	slow, fast := testClient(hub, 1), testClient(hub, 8)
	hub.Register <- slow
	hub.Register <- fast
	waitFor(t, func() bool { return hub.GetClientCount() == 2 })

	hub.BroadcastJSON(MessageTypeThreatAlert, 1)
	hub.BroadcastJSON(MessageTypeThreatAlert, 2)
	receive(t, fast)
	receive(t, fast)
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, cancel, done := startHub(t)
	c := testClient(hub, 8)
	hub.Register <- c
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if hub.GetClientCount() != 0 {
		t.Error("clients left after shutdown")
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel not closed on shutdown")
	}
}

func TestBroadcastQueueFullDoesNotBlock(t *testing.T) {
	hub := NewHub() // not running
	for range cap(hub.broadcast) {
		hub.BroadcastJSON(MessageTypeThreatAlert, nil)
	}
	done := make(chan bool, 1)
	go func() { done <- hub.BroadcastJSON(MessageTypeThreatAlert, nil) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("BroadcastJSON() = true on a full queue")
		}
	case <-time.After(time.Second):
		t.Fatal("BroadcastJSON blocked")
	}
}

func TestServeWSStreamsAlerts(t *testing.T) {
	hub, _, _ := startHub(t)
	srv := httptest.NewServer(ServeWS(hub, nil, func(*http.Request) string { return "analyst-1" }))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	hub.BroadcastJSON(MessageTypeIncidentUpdate, map[string]any{"status": "investigating"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if m.Type != MessageTypeIncidentUpdate {
		t.Errorf("Type = %q, want incident_update", m.Type)
	}

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := conn.ReadJSON(&m); err != nil || m.Type != MessageTypePong {
		t.Errorf("ping reply = %+v, %v", m, err)
	}
}

func TestServeWSRejectsForeignOrigin(t *testing.T) {
	hub, _, _ := startHub(t)
	srv := httptest.NewServer(ServeWS(hub, []string{"https://soc.uni.edu"}, nil))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err == nil {
		t.Fatal("Dial() succeeded from a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestBridgeForwardsForeignAlerts(t *testing.T) {
	hub, _, _ := startHub(t)
	c := testClient(hub, 8)
	hub.Register <- c
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()
	bridge := NewBridge(hub, pubsub, "campusguard.alerts", "node-a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridge.Run(ctx) }()
	// gochannel drops messages published before a subscriber exists
	time.Sleep(50 * time.Millisecond)

	own := message.NewMessage(watermill.NewUUID(), mustJSON(t, Message{Type: MessageTypeThreatAlert, Data: "own"}))
	own.Metadata.Set(MetadataOrigin, "node-a")
	foreign := message.NewMessage(watermill.NewUUID(), mustJSON(t, Message{Type: MessageTypeThreatAlert, Data: "foreign"}))
	foreign.Metadata.Set(MetadataOrigin, "node-b")
	garbage := message.NewMessage(watermill.NewUUID(), []byte("{not json"))

	for _, m := range []*message.Message{own, garbage, foreign} {
		if err := pubsub.Publish("campusguard.alerts", m); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	got := receive(t, c)
	if got.Data != "foreign" {
		t.Errorf("forwarded %v, want only the foreign alert", got.Data)
	}
	select {
	case extra := <-c.send:
		t.Errorf("unexpected extra message %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return b
}
