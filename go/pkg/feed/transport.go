// Package feed keeps one logical websocket subscription alive across
// disconnects.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"basis-tracker/go/pkg/shared"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultRetryFloor   = time.Second
	DefaultRetryCeiling = 15 * time.Second
	DefaultKeepalive    = 20 * time.Second

	writeWait = 5 * time.Second
)

// Status is a connection lifecycle notification.
type Status int

const (
	StatusConnecting Status = iota + 1
	StatusOpen
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

type metrics struct {
	status  *prometheus.CounterVec
	dropped prometheus.Counter
}

func newMetrics() metrics {
	return metrics{
		status:  shared.NewCounterVec(prometheus.CounterOpts{Name: "feed_status_events_total", Help: "Feed transport lifecycle events"}, []string{"status"}),
		dropped: shared.NewCounter(prometheus.CounterOpts{Name: "feed_messages_malformed_total", Help: "Feed messages dropped as malformed"}),
	}
}

type Option func(*Transport)

func WithBackoff(floor, ceiling time.Duration) Option {
	return func(t *Transport) { t.backoff = NewBackoff(floor, ceiling) }
}

func WithKeepalive(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.keepalive = d
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) { t.log = shared.Component(l, "feed") }
}

// Transport is one reconnecting subscription. Callbacks run on the transport
// goroutine in arrival order.
type Transport struct {
	url       string
	onMessage func(json.RawMessage)
	onStatus  func(Status)
	dialer    *websocket.Dialer
	backoff   *Backoff
	keepalive time.Duration
	log       *zap.Logger
	metrics   metrics

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Connect starts a Transport and returns its stop function. Stop is
// idempotent; it must not be called from inside onMessage or onStatus.
func Connect(url string, onMessage func(json.RawMessage), onStatus func(Status), opts ...Option) (stop func()) {
	t := &Transport{
		url:       url,
		onMessage: onMessage,
		onStatus:  onStatus,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:   NewBackoff(DefaultRetryFloor, DefaultRetryCeiling),
		keepalive: DefaultKeepalive,
		log:       zap.NewNop(),
		metrics:   newMetrics(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.onMessage == nil {
		t.onMessage = func(json.RawMessage) {}
	}
	if t.onStatus == nil {
		t.onStatus = func(Status) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx)
	return t.Stop
}

func (t *Transport) Stop() {
	t.stopOnce.Do(t.cancel)
	<-t.done
}

func (t *Transport) notify(s Status) {
	t.metrics.status.WithLabelValues(s.String()).Inc()
	t.onStatus(s)
}

// run drives disconnected -> connecting -> open -> disconnected until ctx ends.
func (t *Transport) run(ctx context.Context) {
	defer close(t.done)
	for {
		t.notify(StatusConnecting)
		conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			t.log.Warn("dial failed", zap.String("url", t.url), zap.Error(err))
			t.notify(StatusError)
		} else {
			t.backoff.Reset()
			t.notify(StatusOpen)
			err = t.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			t.log.Info("connection closed", zap.String("url", t.url), zap.Error(err))
			t.notify(StatusClosed)
		}

		delay := t.backoff.Next()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) error {
	connDone := make(chan struct{})
	defer close(connDone)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(t.keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-connDone:
				return
			case <-ctx.Done():
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if !json.Valid(raw) {
			t.metrics.dropped.Inc()
			continue
		}
		t.onMessage(json.RawMessage(raw))
	}
}
