// Package status tracks per-document sync state for the UI: a small state
// machine over synced/syncing/offline/error/conflict with subscriber
// callbacks, plus a bounded telemetry buffer of recent engine events.
package status

import (
	"fmt"
	"sync"
	"time"
)

// Status is the UI-facing sync state of one document.
type Status string

const (
	Synced   Status = "synced"
	Syncing  Status = "syncing"
	Offline  Status = "offline"
	Error    Status = "error"
	Conflict Status = "conflict"
)

// State is the per-document snapshot handed to subscribers.
type State struct {
	DocumentID   string
	Status       Status
	Revision     int64
	LastSyncedAt time.Time
	LastError    string
}

// legal transitions; same-state updates are always allowed, and any state
// may move to Conflict (a guard failure can interrupt anything).
var transitions = map[Status][]Status{
	Synced:   {Syncing},
	Syncing:  {Synced, Error, Offline},
	Offline:  {Syncing},
	Error:    {Syncing},
	Conflict: {Synced, Syncing},
}

func canTransition(from, to Status) bool {
	if from == to || to == Conflict || from == "" {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type docState struct {
	state   State
	subs    map[int]func(State)
	nextSub int
}

// Tracker holds the in-memory sync state for every active document. A
// document's entry is created on first interaction and garbage-collected
// once its last subscriber is gone.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*docState
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*docState)}
}

func (t *Tracker) get(documentID string) *docState {
	ds, ok := t.states[documentID]
	if !ok {
		ds = &docState{
			state: State{DocumentID: documentID},
			subs:  make(map[int]func(State)),
		}
		t.states[documentID] = ds
	}
	return ds
}

// Set transitions a document to status and notifies subscribers. Illegal
// transitions are rejected so a buggy caller cannot present impossible
// state to the UI.
func (t *Tracker) Set(documentID string, status Status, mutators ...func(*State)) error {
	t.mu.Lock()
	ds := t.get(documentID)
	if !canTransition(ds.state.Status, status) {
		from := ds.state.Status
		t.mu.Unlock()
		return fmt.Errorf("illegal status transition %s -> %s for %s", from, status, documentID)
	}
	ds.state.Status = status
	for _, m := range mutators {
		m(&ds.state)
	}
	snapshot := ds.state
	subs := make([]func(State), 0, len(ds.subs))
	for _, cb := range ds.subs {
		subs = append(subs, cb)
	}
	t.mu.Unlock()

	// Callbacks run outside the lock; a subscriber may re-enter the tracker.
	for _, cb := range subs {
		cb(snapshot)
	}
	return nil
}

// WithRevision records the revision reached by a successful commit.
func WithRevision(revision int64) func(*State) {
	return func(s *State) {
		s.Revision = revision
	}
}

// WithSyncedAt records the completion time of a successful sync.
func WithSyncedAt(at time.Time) func(*State) {
	return func(s *State) {
		s.LastSyncedAt = at
		s.LastError = ""
	}
}

// WithError records the failure behind an error/offline/conflict state.
func WithError(err error) func(*State) {
	return func(s *State) {
		if err != nil {
			s.LastError = err.Error()
		}
	}
}

// Get returns the current state, creating a fresh (empty-status) entry on
// first interaction.
func (t *Tracker) Get(documentID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(documentID).state
}

// InitIfAbsent seeds a document's initial status without notifying anyone,
// used when deriving the first state from queue contents. No-op if the
// document already has a status.
func (t *Tracker) InitIfAbsent(documentID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ds := t.get(documentID)
	if ds.state.Status == "" {
		ds.state.Status = status
	}
}

// Subscribe registers cb for state changes of documentID and immediately
// delivers the current state. The returned function unsubscribes; when the
// last subscriber leaves, the document's in-memory state is dropped.
func (t *Tracker) Subscribe(documentID string, cb func(State)) (unsubscribe func()) {
	t.mu.Lock()
	ds := t.get(documentID)
	id := ds.nextSub
	ds.nextSub++
	ds.subs[id] = cb
	snapshot := ds.state
	t.mu.Unlock()

	cb(snapshot)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		ds, ok := t.states[documentID]
		if !ok {
			return
		}
		delete(ds.subs, id)
		if len(ds.subs) == 0 {
			delete(t.states, documentID)
		}
	}
}

// Sweep drops subscriber-less entries that carry no state worth keeping:
// settled (synced) documents, whose revision is reconstructible from the
// stores, and empty entries created by a bare Get. Entries in syncing,
// offline, error, or conflict remain until they settle. Returns how many
// entries were dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for documentID, ds := range t.states {
		if len(ds.subs) > 0 {
			continue
		}
		if ds.state.Status == Synced || ds.state.Status == "" {
			delete(t.states, documentID)
			dropped++
		}
	}
	return dropped
}

// SubscriberCount reports active subscribers for a document.
func (t *Tracker) SubscriberCount(documentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ds, ok := t.states[documentID]
	if !ok {
		return 0
	}
	return len(ds.subs)
}
