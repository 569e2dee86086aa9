// Package rislive provides a WebSocket client and message parser for the
// RIPE RIS Live BGP stream.
package rislive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/logging"
	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

const (
	// RISLiveURL is the WebSocket endpoint for RIS Live.
	RISLiveURL = "wss://ris-live.ripe.net/v1/ws/"

	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	// Collector restricts the subscription to one RIS collector (e.g. "rrc00").
	// Empty subscribes to all collectors.
	Collector string

	// MaxReconnects is how many times a dropped connection is re-dialed.
	// Zero means the first connection error ends the stream with an error.
	MaxReconnects int

	// BufferSize is the capacity of the record channel.
	BufferSize int
}

// Client streams BGP elements from RIS Live until stopped.
// Unlike a monitoring feed, it never drops records: sends block until
// the consumer reads or the context is cancelled.
type Client struct {
	url     string
	opts    Options
	records chan models.RawRecord
	done    chan struct{}
	wg      sync.WaitGroup
	err     error

	// Stats
	messagesReceived uint64
	recordsParsed    uint64
	errors           uint64
	reconnects       uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a RIS Live client for the given endpoint.
func NewClient(url string, opts Options) *Client {
	if url == "" {
		url = RISLiveURL
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	return &Client{
		url:     url,
		opts:    opts,
		records: make(chan models.RawRecord, opts.BufferSize),
		done:    make(chan struct{}),
	}
}

// Records returns the channel of parsed elements. It is closed when the
// client stops; check Err afterwards.
func (c *Client) Records() <-chan models.RawRecord {
	return c.records
}

// Err returns the error that ended the stream, if any.
// Only valid after Records is closed.
func (c *Client) Err() error {
	return c.err
}

// Start begins the WebSocket connection in a goroutine.
func (c *Client) Start(ctx context.Context) {
	if c.running.Swap(true) {
		return
	}

	c.wg.Add(1)
	go c.runLoop(ctx)
	logging.Component("rislive").Info("client started", "url", c.url, "collector", c.opts.Collector)
}

// Stop gracefully shuts down the client.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
}

// Stats returns current statistics.
func (c *Client) Stats() map[string]interface{} {
	return map[string]interface{}{
		"collector":         c.opts.Collector,
		"connected":         c.connected.Load(),
		"messages_received": atomic.LoadUint64(&c.messagesReceived),
		"records_parsed":    atomic.LoadUint64(&c.recordsParsed),
		"errors":            atomic.LoadUint64(&c.errors),
		"reconnects":        atomic.LoadUint64(&c.reconnects),
	}
}

func (c *Client) runLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.records)

	log := logging.Component("rislive")
	reconnectDelay := initialReconnectDelay
	attempts := 0

	for c.running.Load() {
		err := c.connectAndStream(ctx)
		if err == nil {
			return
		}
		atomic.AddUint64(&c.errors, 1)
		if attempts >= c.opts.MaxReconnects {
			c.err = err
			return
		}
		attempts++
		atomic.AddUint64(&c.reconnects, 1)
		log.Warn("connection error, reconnecting", "error", err, "delay", reconnectDelay)

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

// connectAndStream returns nil when the stream ended normally (stop,
// context done, or server close) and an error when it broke.
func (c *Client) connectAndStream(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "dial failed")
	}
	defer conn.Close()

	data := map[string]interface{}{"type": "UPDATE"}
	if c.opts.Collector != "" {
		data["host"] = c.opts.Collector
	}
	subscribeMsg := map[string]interface{}{
		"type": "ris_subscribe",
		"data": data,
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return errors.Wrap(err, "subscribe failed")
	}

	c.connected.Store(true)
	defer c.connected.Store(false)

	// Ping keeps the connection alive; closing conn unblocks ReadMessage
	// when the client is stopped.
	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				conn.Close()
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !c.running.Load() || ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read failed")
		}

		if messageType != websocket.TextMessage {
			continue
		}
		atomic.AddUint64(&c.messagesReceived, 1)

		records, err := ParseMessage(message, c.opts.Collector)
		if err != nil {
			return errors.Wrap(err, "decode message")
		}
		for _, rec := range records {
			select {
			case c.records <- rec:
				atomic.AddUint64(&c.recordsParsed, 1)
			case <-c.done:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}

	return nil
}
