// Package syncbus keeps the visible range and crosshair of several charts
// in step, grouped by key.
package syncbus

import (
	"sync"

	"basis-tracker/go/pkg/shared"

	"go.uber.org/zap"
)

// Range is a visible window in logical bar-index units.
type Range struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Crosshair is an optional time; the zero value clears it.
type Crosshair struct {
	Time  int64 `json:"time"`
	Valid bool  `json:"valid"`
}

type topic[T any] struct {
	last    T
	has     bool
	nextID  int
	subs    map[int]func(T)
	ordered []int
}

// Bus is a keyed publish/subscribe registry that remembers the last value
// per key for late joiners. Subscribers run synchronously on the publishing
// goroutine and must not block.
type Bus struct {
	log *zap.Logger

	mu         sync.Mutex
	ranges     map[string]*topic[Range]
	crosshairs map[string]*topic[Crosshair]
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		log:        shared.Component(log, "syncbus"),
		ranges:     make(map[string]*topic[Range]),
		crosshairs: make(map[string]*topic[Crosshair]),
	}
}

func (b *Bus) PublishRange(key string, r Range) {
	publish(b, b.ranges, key, r)
}

func (b *Bus) SubscribeRange(key string, fn func(Range)) (unsubscribe func()) {
	return subscribe(b, b.ranges, key, fn)
}

func (b *Bus) Range(key string) (Range, bool) {
	return last(b, b.ranges, key)
}

func (b *Bus) PublishCrosshair(key string, c Crosshair) {
	publish(b, b.crosshairs, key, c)
}

func (b *Bus) SubscribeCrosshair(key string, fn func(Crosshair)) (unsubscribe func()) {
	return subscribe(b, b.crosshairs, key, fn)
}

func (b *Bus) Crosshair(key string) (Crosshair, bool) {
	return last(b, b.crosshairs, key)
}

func topicFor[T any](m map[string]*topic[T], key string) *topic[T] {
	t, ok := m[key]
	if !ok {
		t = &topic[T]{subs: make(map[int]func(T))}
		m[key] = t
	}
	return t
}

func publish[T any](b *Bus, m map[string]*topic[T], key string, v T) {
	b.mu.Lock()
	t := topicFor(m, key)
	t.last, t.has = v, true
	fns := make([]func(T), 0, len(t.ordered))
	for _, id := range t.ordered {
		fns = append(fns, t.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		b.notify(key, func() { fn(v) })
	}
}

func subscribe[T any](b *Bus, m map[string]*topic[T], key string, fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := topicFor(m, key)
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.ordered = append(t.ordered, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(t.subs, id)
			for i, v := range t.ordered {
				if v == id {
					t.ordered = append(t.ordered[:i], t.ordered[i+1:]...)
					break
				}
			}
		})
	}
}

func last[T any](b *Bus, m map[string]*topic[T], key string) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := m[key]; ok && t.has {
		return t.last, true
	}
	var zero T
	return zero, false
}

// notify isolates subscribers from each other.
func (b *Bus) notify(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("subscriber panic", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	fn()
}
