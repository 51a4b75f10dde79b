// Package progress tracks one byte counter per concurrent transfer plus an
// aggregate row, and renders them as live terminal output. Entries are
// mutated from many goroutines; the registry serializes all access.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UnknownLength marks an entry whose total size is not (yet) known. Unknown
// entries contribute their position but nothing to the aggregate length.
const UnknownLength int64 = -1

type state int

const (
	stateActive state = iota
	stateAbandoned
	stateFinished
)

type entry struct {
	id       uuid.UUID
	name     string
	state    state
	position int64
	length   int64
	started  time.Time

	// speed sampling
	lastPos  int64
	lastTick time.Time
	speed    float64 // bytes/sec, EMA smoothed
}

func (e *entry) isFinished() bool {
	return e.state == stateFinished
}

// knownLength returns the entry's length and whether it is known.
func (e *entry) knownLength() (int64, bool) {
	if e.length < 0 {
		return 0, false
	}

	return e.length, true
}

// Handle gives one transfer exclusive update access to its entry.
type Handle struct {
	registry *Registry
	id       uuid.UUID
}

// Registry owns all progress entries of one process run.
type Registry struct {
	mu       sync.Mutex
	entries  []*entry
	byID     map[uuid.UUID]*entry
	started  time.Time
	renderer *renderer
}

// NewRegistry creates a registry rendering to w; nil w means stderr.
func NewRegistry(w io.Writer) *Registry {
	if w == nil {
		w = os.Stderr
	}

	return &Registry{
		byID:     make(map[uuid.UUID]*entry),
		started:  time.Now(),
		renderer: newRenderer(w),
	}
}

// Register allocates a sub-progress entry. Pass UnknownLength when the total
// is not known up front.
func (r *Registry) Register(name string, length int64) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{
		id:       uuid.New(),
		name:     name,
		length:   length,
		started:  time.Now(),
		lastTick: time.Now(),
	}

	r.entries = append(r.entries, e)
	r.byID[e.id] = e

	return &Handle{registry: r, id: e.id}
}

// Update sets the entry's position and, when lengthHint is non-negative,
// its total. A known total never drops below the current position.
func (h *Handle) Update(position, lengthHint int64) {
	r := h.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.byID[h.id]
	if e == nil || e.state != stateActive {
		return
	}

	e.position = position

	if lengthHint >= 0 {
		if lengthHint < position {
			lengthHint = position
		}
		e.length = lengthHint
	}

	now := time.Now()
	if dt := now.Sub(e.lastTick).Seconds(); dt >= 0.5 {
		instant := float64(e.position-e.lastPos) / dt
		if e.speed == 0 {
			e.speed = instant
		} else {
			e.speed = 0.3*instant + 0.7*e.speed
		}
		e.lastPos = e.position
		e.lastTick = now
	}
}

// Finish marks a clean completion; the length becomes the final position.
func (h *Handle) Finish() {
	r := h.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.byID[h.id]
	if e == nil || e.state != stateActive {
		return
	}

	e.state = stateFinished
	e.length = e.position
}

// Abandon marks a failed transfer, keeping its last known position and
// length so the aggregate does not silently lose that stream.
func (h *Handle) Abandon() {
	r := h.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.byID[h.id]
	if e == nil || e.state != stateActive {
		return
	}

	e.state = stateAbandoned
}

// Totals is the aggregate view over all entries.
type Totals struct {
	Position    int64
	KnownLength int64
	Finished    int
	Count       int
}

// Totals sums positions and known lengths over every entry.
func (r *Registry) Totals() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.totalsLocked()
}

func (r *Registry) totalsLocked() Totals {
	var t Totals

	for _, e := range r.entries {
		t.Count++
		t.Position += e.position

		if length, known := e.knownLength(); known {
			t.KnownLength += length
		}

		if e.isFinished() {
			t.Finished++
		}
	}

	return t
}

// TickForever re-renders all live indicators every 100ms. It never returns;
// callers race it against the real work and must treat its completion as a
// bug.
func (r *Registry) TickForever() {
	const tickInterval = 100 * time.Millisecond

	for {
		r.renderOnce()
		time.Sleep(tickInterval)
	}
}

func (r *Registry) renderOnce() {
	r.mu.Lock()
	rows := make([]row, 0, len(r.entries)+1)

	for _, e := range r.entries {
		rows = append(rows, row{
			name:      e.name,
			position:  e.position,
			length:    e.length,
			finished:  e.isFinished(),
			abandoned: e.state == stateAbandoned,
			speed:     e.speed,
			started:   e.started,
		})
	}

	totals := r.totalsLocked()
	started := r.started
	r.mu.Unlock()

	r.renderer.render(rows, totals, started)
}

// Clear finalizes the display after all work is done.
func (r *Registry) Clear() {
	r.renderOnce()
	r.renderer.close()
}
