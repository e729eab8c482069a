package pipeline

import (
	"fmt"
	"slices"
	"sync"
)

// State is a pipeline stage.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateCompressing
	StateUploading
	StateProcessing
	StateSaving
	StateComplete
	StateError
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateValidating:  "validating",
	StateCompressing: "compressing",
	StateUploading:   "uploading",
	StateProcessing:  "processing",
	StateSaving:      "saving",
	StateComplete:    "complete",
	StateError:       "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Status is the current stage plus a human-readable message.
type Status struct {
	State   State
	Message string
}

// Tracker holds the pipeline state machine. It only moves forward on
// success, jumps to StateError on failure and returns to StateIdle through
// Reset.
type Tracker struct {
	mu        sync.Mutex
	status    Status
	listeners []func(Status)
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Subscribe registers fn to receive every status change. fn runs with the
// tracker unlocked and must not block for long.
func (t *Tracker) Subscribe(fn func(Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Advance moves to next. Skipping stages is allowed; going backwards,
// leaving a terminal state or advancing into StateError is not.
func (t *Tracker) Advance(next State, message string) error {
	t.mu.Lock()
	cur := t.status.State
	if next == StateError || next == StateIdle || cur.Terminal() || next <= cur {
		t.mu.Unlock()
		return fmt.Errorf("invalid state transition %s -> %s", cur, next)
	}
	t.status = Status{State: next, Message: message}
	st, ls := t.status, t.snapshotListeners()
	t.mu.Unlock()

	notify(ls, st)
	return nil
}

// Update replaces the message without changing the state.
func (t *Tracker) Update(message string) {
	t.mu.Lock()
	t.status.Message = message
	st, ls := t.status, t.snapshotListeners()
	t.mu.Unlock()

	notify(ls, st)
}

// Fail jumps to StateError from any state.
func (t *Tracker) Fail(message string) {
	t.mu.Lock()
	t.status = Status{State: StateError, Message: message}
	st, ls := t.status, t.snapshotListeners()
	t.mu.Unlock()

	notify(ls, st)
}

// Reset returns to StateIdle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.status = Status{State: StateIdle}
	st, ls := t.status, t.snapshotListeners()
	t.mu.Unlock()

	notify(ls, st)
}

func (t *Tracker) snapshotListeners() []func(Status) {
	return slices.Clone(t.listeners)
}

func notify(ls []func(Status), st Status) {
	for _, fn := range ls {
		fn(st)
	}
}
