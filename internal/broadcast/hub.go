package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/plotline/pkg/log"
)

// DefaultQueueSize is the per-connection outbound queue length.
const DefaultQueueSize = 64

// DefaultSendTimeout bounds a single write to a connection.
const DefaultSendTimeout = 10 * time.Second

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("broadcast: hub closed")

// Conn is one live client connection.
type Conn interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Close() error
}

type client struct {
	conn     Conn
	queue    chan []byte
	channels map[string]struct{}
	done     chan struct{}
	once     sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int            `json:"connections"`
	Channels    map[string]int `json:"channels"`
	Published   int64          `json:"published"`
	Delivered   int64          `json:"delivered"`
	Dropped     int64          `json:"dropped"`
	SendErrors  int64          `json:"send_errors"`
}

// Hub fans messages out to channel subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	queueSize   int
	sendTimeout time.Duration
	logger      log.Logger
	onDrop      func(channel string)

	wg sync.WaitGroup

	published  atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	sendErrors atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-connection queue length.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithSendTimeout bounds each connection write.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l log.Logger) Option {
	return func(h *Hub) { h.logger = log.OrNoop(l) }
}

// WithDropObserver is called whenever a full queue drops a message.
func WithDropObserver(fn func(channel string)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:     make(map[string]*client),
		queueSize:   DefaultQueueSize,
		sendTimeout: DefaultSendTimeout,
		logger:      log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers conn on channels. A connection already known to the hub
// is added to the extra channels. Registering with no channels is allowed;
// the client can subscribe later.
func (h *Hub) Subscribe(conn Conn, channels ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	c, ok := h.clients[conn.ID()]
	if !ok {
		c = &client{
			conn:     conn,
			queue:    make(chan []byte, h.queueSize),
			channels: make(map[string]struct{}),
			done:     make(chan struct{}),
		}
		h.clients[conn.ID()] = c
		h.wg.Add(1)
		go h.writeLoop(c)
		h.logger.Debug("client connected", log.String("conn_id", conn.ID()))
	}
	for _, ch := range channels {
		if ch != "" {
			c.channels[ch] = struct{}{}
		}
	}
	return nil
}

// Unsubscribe removes connID from channels. The connection stays registered.
func (h *Hub) Unsubscribe(connID string, channels ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	for _, ch := range channels {
		delete(c.channels, ch)
	}
}

// Channels returns the sorted channels connID is subscribed to.
func (h *Hub) Channels(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Remove drops connID from the hub and closes its connection.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	h.mu.Unlock()
	if ok {
		c.stop()
	}
}

// Broadcast delivers msg to every subscriber of channel without blocking and
// returns how many connections accepted it. msg may be pre-encoded []byte or
// json.RawMessage; anything else is JSON-encoded once.
func (h *Hub) Broadcast(channel string, msg any) int {
	data, err := encode(msg)
	if err != nil {
		h.logger.Error("broadcast encode failed", log.String("channel", channel), log.Err(err))
		return 0
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}
	accepted := 0
	for id, c := range h.clients {
		if _, ok := c.channels[channel]; !ok {
			continue
		}
		select {
		case c.queue <- data:
			accepted++
		default:
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop(channel)
			}
			h.logger.Warn("client queue full, message dropped",
				log.String("conn_id", id),
				log.String("channel", channel),
			)
		}
	}
	return accepted
}

// Publish is Broadcast for callers that only need fire-and-forget.
func (h *Hub) Publish(channel string, msg any) {
	h.Broadcast(channel, msg)
}

// enqueue writes data to a single connection's queue. Used for control replies.
func (h *Hub) enqueue(connID string, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	select {
	case c.queue <- data:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

func encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(msg)
	}
}

// writeLoop drains one client's queue until it is stopped or a send fails.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer func() {
		if err := c.conn.Close(); err != nil {
			h.logger.Debug("client close", log.String("conn_id", c.conn.ID()), log.Err(err))
		}
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
			err := c.conn.Send(ctx, data)
			cancel()
			if err != nil {
				h.sendErrors.Add(1)
				h.logger.Warn("client send failed, removing",
					log.String("conn_id", c.conn.ID()),
					log.Err(err),
				)
				h.Remove(c.conn.ID())
				return
			}
			h.delivered.Add(1)
		}
	}
}

// Stats returns hub counters and per-channel subscriber counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{
		Connections: len(h.clients),
		Channels:    make(map[string]int),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
		SendErrors:  h.sendErrors.Load(),
	}
	for _, c := range h.clients {
		for ch := range c.channels {
			st.Channels[ch]++
		}
	}
	return st
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close removes every connection and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	h.wg.Wait()
}
