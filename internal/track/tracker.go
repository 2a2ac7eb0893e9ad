// Package track owns the per-job scalar table and the condition set
// evaluated against it. A Tracker is safe for concurrent use; the
// notification engine holds one per job.
package track

import (
	"errors"
	"sync"
)

// Sentinel errors for tracker operations.
var (
	ErrScalarNotFound = errors.New("track: scalar not tracked")
	ErrNoNames        = errors.New("track: condition references no scalars")
	ErrNilPredicate   = errors.New("track: nil predicate")
)

// DefaultMissingValue substitutes scalars a condition references that have
// never been reported. It is used for evaluation only and never written
// into the scalar table.
const DefaultMissingValue = 1

type series struct {
	latest  float64
	history []float64
}

// Tracker records named scalar values and evaluates conditions on every
// report.
type Tracker struct {
	mu         sync.Mutex
	scalars    map[string]*series
	conditions []*Condition
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{scalars: make(map[string]*series)}
}

// Report overwrites the latest value for name, appends it to the history,
// and re-evaluates every condition referencing name. It returns the
// conditions whose predicate transitioned from false to true on this
// report, in the order they were added.
func (t *Tracker) Report(name string, value float64) []*Condition {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.scalars[name]
	if !ok {
		s = &series{}
		t.scalars[name] = s
	}
	s.latest = value
	s.history = append(s.history, value)

	var fired []*Condition
	for _, c := range t.conditions {
		if !c.references(name) {
			continue
		}
		if c.evaluate(t.lookup) {
			fired = append(fired, c)
		}
	}
	return fired
}

// lookup reads the latest value for name, substituting the default for
// never-reported scalars. Caller must hold t.mu.
func (t *Tracker) lookup(name string) float64 {
	if s, ok := t.scalars[name]; ok {
		return s.latest
	}
	return DefaultMissingValue
}

// AddCondition registers a condition. Conditions may reference scalars
// that have not been reported yet.
func (t *Tracker) AddCondition(c *Condition) error {
	if len(c.names) == 0 {
		return ErrNoNames
	}
	if c.pred == nil {
		return ErrNilPredicate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.conditions = append(t.conditions, c)
	return nil
}

// Latest returns the most recent value reported for name.
func (t *Tracker) Latest(name string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.scalars[name]
	if !ok {
		return 0, false
	}
	return s.latest, true
}

// History returns a copy of every value reported for name, oldest first.
func (t *Tracker) History(name string) ([]float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.scalars[name]
	if !ok {
		return nil, ErrScalarNotFound
	}
	return append([]float64(nil), s.history...), nil
}

// Snapshot returns the latest value of every tracked scalar.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]float64, len(t.scalars))
	for name, s := range t.scalars {
		snap[name] = s.latest
	}
	return snap
}

// SnapshotNames returns the latest values for the given scalar names,
// substituting the default for scalars never reported. Used for
// conditions that only report their own inputs.
func (t *Tracker) SnapshotNames(names []string) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]float64, len(names))
	for _, name := range names {
		snap[name] = t.lookup(name)
	}
	return snap
}
