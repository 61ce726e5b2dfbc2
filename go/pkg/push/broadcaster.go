// Package push fans ingestion events out to websocket clients.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"basis-tracker/go/pkg/shared"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultSendBuffer = 256

	pingEvery = 20 * time.Second
	pongWait  = 60 * time.Second
	writeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type metrics struct {
	clients prometheus.Gauge
	sent    prometheus.Counter
	dropped prometheus.Counter
}

// Broadcaster is the /ws endpoint. Delivery is best-effort: a client whose
// queue is full misses that message and nothing else.
type Broadcaster struct {
	latest  func() (shared.Tick, bool)
	buffer  int
	log     *zap.Logger
	metrics metrics

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

type Option func(*Broadcaster)

// WithLatest sets the source of the tick sent to every new client.
func WithLatest(fn func() (shared.Tick, bool)) Option {
	return func(b *Broadcaster) { b.latest = fn }
}

func WithSendBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func NewBroadcaster(log *zap.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		buffer:  DefaultSendBuffer,
		log:     shared.Component(log, "push"),
		clients: make(map[string]*client),
		metrics: metrics{
			clients: shared.NewGauge(prometheus.GaugeOpts{Name: "push_clients", Help: "Connected push clients"}),
			sent:    shared.NewCounter(prometheus.CounterOpts{Name: "push_messages_sent_total", Help: "Messages written to push clients"}),
			dropped: shared.NewCounter(prometheus.CounterOpts{Name: "push_messages_dropped_total", Help: "Messages dropped on full client queues"}),
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Clients returns the number of registered clients.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan []byte, b.buffer),
		done: make(chan struct{}),
	}
	if !b.register(c) {
		c.close()
		return
	}
	defer b.unregister(c)

	go b.writeLoop(c)
	b.readLoop(c)
}

// Broadcast serializes ev once and queues it for every client.
func (b *Broadcaster) Broadcast(ev shared.Event) {
	if ev.Kind == shared.EventIgnored {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("marshal event", zap.Error(err))
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		b.enqueue(c, payload)
	}
}

// Run forwards events until ctx is done or events is closed.
func (b *Broadcaster) Run(ctx context.Context, events <-chan shared.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Broadcast(ev)
		}
	}
}

// Close disconnects every client and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		c.close()
	}
}

func (b *Broadcaster) register(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	// seeded under the write lock so no broadcast can overtake it
	if b.latest != nil {
		if t, ok := b.latest(); ok {
			if payload, err := json.Marshal(shared.TickEvent(t)); err == nil {
				b.enqueue(c, payload)
			}
		}
	}
	b.clients[c.id] = c
	b.metrics.clients.Set(float64(len(b.clients)))
	b.log.Debug("client connected", zap.String("client", c.id))
	return true
}

func (b *Broadcaster) unregister(c *client) {
	c.close()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.id]; !ok {
		return
	}
	delete(b.clients, c.id)
	b.metrics.clients.Set(float64(len(b.clients)))
	b.log.Debug("client disconnected", zap.String("client", c.id))
}

func (b *Broadcaster) enqueue(c *client, payload []byte) {
	select {
	case <-c.done:
	case c.out <- payload:
	default:
		b.metrics.dropped.Inc()
	}
}

func (b *Broadcaster) writeLoop(c *client) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			b.metrics.sent.Inc()
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames; it exists to notice the peer leaving.
func (b *Broadcaster) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
