package rislive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// risServer accepts one subscription and replays msgs, then closes normally.
func risServer(t *testing.T, msgs []string, subscribed chan<- map[string]interface{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if subscribed != nil {
			subscribed <- sub
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_StreamsRecords(t *testing.T) {
	msgs := []string{
		`{"type":"ris_message","data":{"timestamp":1.0,"peer":"192.0.2.1","peer_asn":64496,"path":[64496,13335],"announcements":[{"next_hop":"192.0.2.1","prefixes":["1.1.1.0/24"]}]}}`,
		`{"type":"ris_error","data":{"message":"ignored"}}`,
		`{"type":"ris_message","data":{"timestamp":2.0,"peer":"192.0.2.1","peer_asn":64496,"withdrawals":["1.1.1.0/24","1.0.0.0/24"]}}`,
	}
	subscribed := make(chan map[string]interface{}, 1)
	srv := risServer(t, msgs, subscribed)
	defer srv.Close()

	c := NewClient(wsURL(srv), Options{Collector: "rrc00"})
	c.Start(context.Background())
	defer c.Stop()

	var got int
	for range c.Records() {
		got++
	}
	require.NoError(t, c.Err())
	assert.Equal(t, 3, got)

	sub := <-subscribed
	assert.Equal(t, "ris_subscribe", sub["type"])
	data, ok := sub["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rrc00", data["host"])

	stats := c.Stats()
	assert.Equal(t, uint64(3), stats["records_parsed"])
}

func TestClient_DecodeErrorEndsStream(t *testing.T) {
	srv := risServer(t, []string{`{broken`}, nil)
	defer srv.Close()

	c := NewClient(wsURL(srv), Options{})
	c.Start(context.Background())
	defer c.Stop()

	for range c.Records() {
	}
	assert.Error(t, c.Err())
}

func TestClient_DialError(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/", Options{})
	c.Start(context.Background())
	defer c.Stop()

	for range c.Records() {
	}
	assert.Error(t, c.Err())
}

func TestClient_ContextCancelStopsCleanly(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Keep the stream open without sending anything.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := NewClient(wsURL(srv), Options{})
	c.Start(ctx)
	defer c.Stop()

	for range c.Records() {
	}
	assert.NoError(t, c.Err())
}
