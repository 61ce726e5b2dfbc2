package ingest

import (
	"sort"
	"sync"

	"basis-tracker/go/pkg/shared"
)

// Ring is a fixed-capacity, ascending-by-ts tick buffer for one symbol's
// stream. The oldest tick is evicted when full.
type Ring struct {
	mu    sync.RWMutex
	buf   []shared.Tick
	start int
	n     int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultRingCap
	}
	return &Ring{buf: make([]shared.Tick, capacity)}
}

func (r *Ring) at(i int) shared.Tick {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Push appends t unless its ts does not strictly exceed the newest entry.
func (r *Ring) Push(t shared.Tick) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n > 0 && t.Ts <= r.at(r.n-1).Ts {
		return false
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = t
		r.n++
		return true
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
	return true
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

func (r *Ring) Cap() int { return len(r.buf) }

func (r *Ring) Last() (shared.Tick, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.n == 0 {
		return shared.Tick{}, false
	}
	return r.at(r.n - 1), true
}

// lowerBound returns the first index with ts >= ms. Caller holds the lock.
func (r *Ring) lowerBound(ms int64) int {
	return sort.Search(r.n, func(i int) bool { return r.at(i).Ts >= ms })
}

// Since returns every tick with ts >= fromMs, ascending.
func (r *Ring) Since(fromMs int64) []shared.Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.lowerBound(fromMs)
	out := make([]shared.Tick, 0, r.n-i)
	for ; i < r.n; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// Between returns up to limit ticks of symbol with fromMs <= ts <= toMs,
// ascending. limit <= 0 means no limit.
func (r *Ring) Between(symbol string, fromMs, toMs int64, limit int) []shared.Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []shared.Tick{}
	for i := r.lowerBound(fromMs); i < r.n; i++ {
		t := r.at(i)
		if t.Ts > toMs {
			break
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
