package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev envelope
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWSSubscribeSendsSnapshot(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialHub(t, s.hub)

	require.NoError(t, conn.WriteJSON(clientCommand{Action: "subscribe", Topic: TopicHealth}))

	ev := readEnvelope(t, conn)
	assert.Equal(t, TopicHealth, ev.Type)
	assert.NotZero(t, ev.Timestamp)
	assert.NotNil(t, ev.Data)
}

func TestWSBroadcastReachesOnlySubscribers(t *testing.T) {
	s, _ := newTestServer(t)
	sub := dialHub(t, s.hub)
	other := dialHub(t, s.hub)

	require.NoError(t, sub.WriteJSON(clientCommand{Action: "subscribe", Topic: TopicListings}))

	// Listings have no snapshot, so wait for the subscription to register.
	require.Eventually(t, func() bool {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		for _, c := range s.hub.clients {
			if c.subscribed(TopicListings) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	s.hub.broadcast(TopicListings, map[string]string{"exchange": "kucoin"})

	ev := readEnvelope(t, sub)
	assert.Equal(t, TopicListings, ev.Type)

	// The unsubscribed connection stays silent.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var ignored envelope
	assert.Error(t, other.ReadJSON(&ignored))
}

func TestWSInvalidTopicIgnored(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialHub(t, s.hub)

	require.NoError(t, conn.WriteJSON(clientCommand{Action: "subscribe", Topic: "bogus"}))
	require.NoError(t, conn.WriteJSON(clientCommand{Action: "subscribe", Topic: TopicHotlist}))

	// The first frame is the hotlist snapshot; the bogus topic produced none.
	ev := readEnvelope(t, conn)
	assert.Equal(t, TopicHotlist, ev.Type)
}

func TestWSUnsubscribeStopsFrames(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialHub(t, s.hub)

	require.NoError(t, conn.WriteJSON(clientCommand{Action: "subscribe", Topic: TopicHotlist}))
	readEnvelope(t, conn) // drain the snapshot

	require.NoError(t, conn.WriteJSON(clientCommand{Action: "unsubscribe", Topic: TopicHotlist}))
	require.Eventually(t, func() bool {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		for _, c := range s.hub.clients {
			if c.subscribed(TopicHotlist) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	s.hub.broadcast(TopicHotlist, nil)
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var ignored envelope
	assert.Error(t, conn.ReadJSON(&ignored))
}
