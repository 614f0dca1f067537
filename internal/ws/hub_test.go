package ws

import (
	"context"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-engine/internal/events"
	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
)

func newTestHub(t *testing.T) (*Hub, *events.Bus, string, context.CancelFunc) {
	t.Helper()
	bus := events.NewBus()
	hub := NewHub(bus, metrics.NewWithRegistry(prometheus.NewRegistry()),
		log.New(log.Writer(), "[WS-TEST] ", 0))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return hub, bus, wsURL, cancel
}

func dialStatus(t *testing.T, wsURL, statusID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?status_id="+statusID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Stats()["connected_clients"] == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients: %v", want, hub.Stats())
}

func readUpdate(t *testing.T, conn *websocket.Conn) StatusUpdate {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update StatusUpdate
	require.NoError(t, conn.ReadJSON(&update))
	return update
}

func TestHub_DeliversToMatchingSubscriber(t *testing.T) {
	hub, bus, wsURL, cancel := newTestHub(t)
	defer cancel()

	conn := dialStatus(t, wsURL, "uploads/a.pdf")
	waitForClients(t, hub, 1)

	bus.Publish(events.StatusEvent{
		StatusID: "uploads/a.pdf",
		Record: &models.StatusRecord{
			Bucket:   "uploads",
			Key:      "a.pdf",
			State:    models.StateEmbedding,
			Progress: 70,
		},
	})

	update := readUpdate(t, conn)
	assert.Equal(t, "status", update.Type)
	assert.Equal(t, "uploads/a.pdf", update.StatusID)
	require.NotNil(t, update.Record)
	assert.Equal(t, models.StateEmbedding, update.Record.State)
	assert.Equal(t, 70, update.Record.Progress)
}

func TestHub_DoesNotDeliverToOtherSubscriptions(t *testing.T) {
	hub, bus, wsURL, cancel := newTestHub(t)
	defer cancel()

	conn := dialStatus(t, wsURL, "uploads/a.pdf")
	waitForClients(t, hub, 1)

	bus.Publish(events.StatusEvent{
		StatusID: "uploads/other.pdf",
		Record:   &models.StatusRecord{Bucket: "uploads", Key: "other.pdf", State: models.StateQueued},
	})
	bus.Publish(events.StatusEvent{
		StatusID: "uploads/a.pdf",
		Record:   &models.StatusRecord{Bucket: "uploads", Key: "a.pdf", State: models.StateCompleted},
	})

	// The first frame received must be for the watched id, not the other one.
	update := readUpdate(t, conn)
	assert.Equal(t, "uploads/a.pdf", update.StatusID)
	assert.Equal(t, models.StateCompleted, update.Record.State)
}

func TestHub_SubscribeFrameAddsWatch(t *testing.T) {
	hub, bus, wsURL, cancel := newTestHub(t)
	defer cancel()

	conn := dialStatus(t, wsURL, "uploads/a.pdf")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(command{Action: "subscribe", StatusID: "uploads/b.pdf"}))

	// The subscribe frame is processed asynchronously by the read pump.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Stats()["watched_documents"] == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 2, hub.Stats()["watched_documents"])

	bus.Publish(events.StatusEvent{
		StatusID: "uploads/b.pdf",
		Record:   &models.StatusRecord{Bucket: "uploads", Key: "b.pdf", State: models.StateQueued},
	})

	update := readUpdate(t, conn)
	assert.Equal(t, "uploads/b.pdf", update.StatusID)
}

func TestHub_PurgesDeadConnectionOnFailedWrite(t *testing.T) {
	hub, bus, wsURL, cancel := newTestHub(t)
	defer cancel()

	conn := dialStatus(t, wsURL, "uploads/a.pdf")
	waitForClients(t, hub, 1)
	conn.Close()

	// First publish after death may still hit the closed socket; keep
	// publishing until the registry notices.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bus.Publish(events.StatusEvent{
			StatusID: "uploads/a.pdf",
			Record:   &models.StatusRecord{Bucket: "uploads", Key: "a.pdf", State: models.StateQueued},
		})
		if hub.Stats()["connected_clients"] == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, 0, hub.Stats()["connected_clients"])
	assert.Equal(t, 0, hub.Stats()["watched_documents"])
}

func TestHub_StatsCountsDistinctDocuments(t *testing.T) {
	hub, _, wsURL, cancel := newTestHub(t)
	defer cancel()

	dialStatus(t, wsURL, "uploads/a.pdf")
	dialStatus(t, wsURL, "uploads/a.pdf")
	dialStatus(t, wsURL, "uploads/b.pdf")
	waitForClients(t, hub, 3)

	stats := hub.Stats()
	assert.Equal(t, 3, stats["connected_clients"])
	assert.Equal(t, 2, stats["watched_documents"])
}
