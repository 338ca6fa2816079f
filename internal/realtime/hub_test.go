package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
)

var (
	alice = chain.MustAddress("0xa11ce00000000000000000000000000000000001")
	bob   = chain.MustAddress("0xb0b0000000000000000000000000000000000002")
	carol = chain.MustAddress("0xca40100000000000000000000000000000000003")
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func scan(level thresholds.Level, from, to chain.Address) *risk.ScanRecord {
	return &risk.ScanRecord{ScanID: 1, From: from, To: to, ThreatLevel: level, Timestamp: time.Now()}
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func register(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, 16), sub: sub}
	h.register <- c
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients >= 1 }, time.Second, 5*time.Millisecond)
	return c
}

func TestEventFor(t *testing.T) {
	assert.Equal(t, EventScan, EventFor(scan(thresholds.Low, alice, bob)).Type)
	assert.Equal(t, EventThreat, EventFor(scan(thresholds.High, alice, bob)).Type)
	rec := scan(thresholds.Critical, alice, bob)
	rec.PausedThisScan = true
	assert.Equal(t, EventPause, EventFor(rec).Type)
}

func TestClientWants(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		ev   *Event
		want bool
	}{
		{"all events", Subscription{AllEvents: true, EventTypes: []EventType{EventPause}}, EventFor(scan(thresholds.None, alice, bob)), true},
		{"empty filter", Subscription{}, EventFor(scan(thresholds.None, alice, bob)), true},
		{"type match", Subscription{EventTypes: []EventType{EventThreat}}, EventFor(scan(thresholds.High, alice, bob)), true},
		{"type mismatch", Subscription{EventTypes: []EventType{EventThreat}}, EventFor(scan(thresholds.Low, alice, bob)), false},
		{"address as sender", Subscription{Addresses: []chain.Address{alice}}, EventFor(scan(thresholds.Low, alice, bob)), true},
		{"address as recipient", Subscription{Addresses: []chain.Address{bob}}, EventFor(scan(thresholds.Low, alice, bob)), true},
		{"address unrelated", Subscription{Addresses: []chain.Address{carol}}, EventFor(scan(thresholds.Low, alice, bob)), false},
		{"min level met", Subscription{MinLevel: thresholds.Medium}, EventFor(scan(thresholds.High, alice, bob)), true},
		{"min level not met", Subscription{MinLevel: thresholds.Medium}, EventFor(scan(thresholds.Low, alice, bob)), false},
		{"no scan payload", Subscription{Addresses: []chain.Address{carol}}, &Event{Type: EventScan}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{sub: tt.sub}
			assert.Equal(t, tt.want, c.wants(tt.ev))
		})
	}
}

func TestHub_StatsInitial(t *testing.T) {
	assert.Equal(t, Stats{}, testHub().Stats())
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := runHub(t)
	c := register(t, h, Subscription{AllEvents: true})
	assert.Equal(t, int64(1), h.Stats().PeakClients)

	h.unregister <- c
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().PeakClients)
}

func TestHub_SendDeliversFilteredScans(t *testing.T) {
	h := runHub(t)
	threats := register(t, h, Subscription{EventTypes: []EventType{EventThreat}})

	require.NoError(t, h.Send(context.Background(), scan(thresholds.Low, alice, bob)))
	require.NoError(t, h.Send(context.Background(), scan(thresholds.Critical, alice, bob)))

	select {
	case msg := <-threats.send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, EventThreat, ev.Type)
		assert.Equal(t, thresholds.Critical, ev.Scan.ThreatLevel)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for threat event")
	}
	require.Eventually(t, func() bool { return h.Stats().TotalEvents == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, threats.send)
}

func TestHub_SendBackpressure(t *testing.T) {
	h := testHub() // not running: the queue fills up
	for range cap(h.broadcast) {
		require.NoError(t, h.Send(context.Background(), scan(thresholds.Low, alice, bob)))
	}
	assert.ErrorIs(t, h.Send(context.Background(), scan(thresholds.Low, alice, bob)), ErrBackpressure)
}

func TestHub_StopsOnCancel(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancel")
	}
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := runHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	sub, err := json.Marshal(Subscription{Addresses: []chain.Address{carol}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the subscription apply

	require.NoError(t, h.Send(context.Background(), scan(thresholds.High, alice, bob)))
	require.NoError(t, h.Send(context.Background(), scan(thresholds.High, carol, bob)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, carol, ev.Scan.From)
}
