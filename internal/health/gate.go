// Package health tracks readiness of the three pipeline subsystems.
//
// Every subsystem starts not-ready. Startup code initializes engines
// asynchronously and records the outcome with MarkReady or MarkFailed;
// request handlers only ever read. A failed subsystem stays failed for the
// life of the process.
package health

import (
	"sync"
	"sync/atomic"
	"time"
)

// Subsystem identifies one stage of the conversation pipeline
type Subsystem string

const (
	Recognition Subsystem = "recognition"
	Generation  Subsystem = "generation"
	Synthesis   Subsystem = "synthesis"
)

// Subsystems lists every subsystem in pipeline order
var Subsystems = []Subsystem{Recognition, Generation, Synthesis}

// State is the lifecycle state of a subsystem
type State string

const (
	StatePending State = "initializing"
	StateReady   State = "ready"
	StateFailed  State = "not available"
)

// Metadata is descriptive information an engine reports about itself
type Metadata map[string]any

// Status is an immutable snapshot of one subsystem
type Status struct {
	Subsystem Subsystem
	State     State
	LastError string
	Since     time.Time
	Metadata  Metadata
}

// Ready reports whether the subsystem may be used
func (s Status) Ready() bool {
	return s.State == StateReady
}

// Gate records readiness per subsystem.
// Reads are lock-free; writes are serialized and copy-on-write.
type Gate struct {
	mu     sync.Mutex
	states atomic.Pointer[map[Subsystem]Status]
	onSet  func(Status)
}

// NewGate creates a gate with every subsystem pending
func NewGate() *Gate {
	g := &Gate{}
	now := time.Now()
	initial := make(map[Subsystem]Status, len(Subsystems))
	for _, s := range Subsystems {
		initial[s] = Status{Subsystem: s, State: StatePending, Since: now, Metadata: Metadata{}}
	}
	g.states.Store(&initial)
	return g
}

// OnTransition registers a callback invoked after every state change.
// Must be set before startup begins marking subsystems.
func (g *Gate) OnTransition(fn func(Status)) {
	g.onSet = fn
}

// IsReady reports whether a subsystem has been marked ready
func (g *Gate) IsReady(s Subsystem) bool {
	st, ok := (*g.states.Load())[s]
	return ok && st.Ready()
}

// MarkReady records a successful initialization.
// A subsystem that already failed is not revived.
func (g *Gate) MarkReady(s Subsystem, meta Metadata) {
	g.transition(s, StateReady, "", meta)
}

// MarkFailed records an initialization failure.
// A subsystem that is already ready is not demoted.
func (g *Gate) MarkFailed(s Subsystem, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	g.transition(s, StateFailed, msg, nil)
}

// Describe returns the snapshot for a subsystem
func (g *Gate) Describe(s Subsystem) Status {
	st, ok := (*g.states.Load())[s]
	if !ok {
		return Status{Subsystem: s, State: StateFailed, LastError: "unknown subsystem", Metadata: Metadata{}}
	}
	return st
}

// Snapshot returns the status of every subsystem in pipeline order
func (g *Gate) Snapshot() []Status {
	current := *g.states.Load()
	out := make([]Status, 0, len(current))
	for _, s := range Subsystems {
		out = append(out, current[s])
	}
	return out
}

func (g *Gate) transition(s Subsystem, to State, errMsg string, meta Metadata) {
	g.mu.Lock()
	current := *g.states.Load()
	prev, ok := current[s]
	if !ok || prev.State != StatePending {
		g.mu.Unlock()
		return
	}

	next := make(map[Subsystem]Status, len(current))
	for k, v := range current {
		next[k] = v
	}
	if meta == nil {
		meta = prev.Metadata
	}
	st := Status{Subsystem: s, State: to, LastError: errMsg, Since: time.Now(), Metadata: copyMeta(meta)}
	next[s] = st
	g.states.Store(&next)
	g.mu.Unlock()

	if g.onSet != nil {
		g.onSet(st)
	}
}

func copyMeta(meta Metadata) Metadata {
	out := make(Metadata, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
