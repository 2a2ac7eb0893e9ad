package track

import (
	"fmt"
	"strings"
)

// Predicate is a user-supplied check over scalar values. It receives one
// argument per condition scalar name, in the order the names were given.
type Predicate func(vals ...float64) bool

// Condition pairs an ordered list of scalar names with a predicate over
// that many values. A condition is edge-triggered: it fires on a
// false-to-true evaluation and stays silent while the predicate keeps
// holding, re-arming only after an evaluation where it was false.
type Condition struct {
	names []string
	pred  Predicate
	title string

	// onlyRelevant limits the notification payload to the condition's
	// own scalars instead of the job's whole table.
	onlyRelevant bool

	// fired is the trigger state: false = armed. Guarded by the owning
	// tracker's mutex.
	fired bool
}

// NewCondition creates an armed condition over the given scalar names.
func NewCondition(names []string, pred Predicate) *Condition {
	return &Condition{
		names: append([]string(nil), names...),
		pred:  pred,
		title: strings.Join(names, ", "),
	}
}

// WithTitle sets a human-readable title reported with the notification.
func (c *Condition) WithTitle(title string) *Condition {
	c.title = title
	return c
}

// OnlyRelevant restricts the notification payload to the condition's own
// scalars.
func (c *Condition) OnlyRelevant() *Condition {
	c.onlyRelevant = true
	return c
}

// Names returns the scalar names the condition references, in order.
func (c *Condition) Names() []string {
	return append([]string(nil), c.names...)
}

// Title returns the condition's display title.
func (c *Condition) Title() string { return c.title }

// IsOnlyRelevant reports whether the payload is limited to the
// condition's own scalars.
func (c *Condition) IsOnlyRelevant() bool { return c.onlyRelevant }

func (c *Condition) references(name string) bool {
	for _, n := range c.names {
		if n == name {
			return true
		}
	}
	return false
}

// evaluate runs the predicate against the current table and updates the
// trigger state. It returns true only on an armed-to-fired edge. Caller
// must hold the owning tracker's mutex.
func (c *Condition) evaluate(lookup func(string) float64) bool {
	vals := make([]float64, len(c.names))
	for i, name := range c.names {
		vals[i] = lookup(name)
	}

	if !c.pred(vals...) {
		c.fired = false
		return false
	}
	if c.fired {
		return false
	}
	c.fired = true
	return true
}

// Comparison builds a single-argument predicate from an operator name and
// a threshold. It backs condition submissions arriving over the HTTP API
// and the relay, where arbitrary closures cannot travel.
func Comparison(op string, threshold float64) (Predicate, error) {
	var cmp func(float64) bool
	switch op {
	case "lt":
		cmp = func(v float64) bool { return v < threshold }
	case "le":
		cmp = func(v float64) bool { return v <= threshold }
	case "gt":
		cmp = func(v float64) bool { return v > threshold }
	case "ge":
		cmp = func(v float64) bool { return v >= threshold }
	case "eq":
		cmp = func(v float64) bool { return v == threshold }
	case "ne":
		cmp = func(v float64) bool { return v != threshold }
	default:
		return nil, fmt.Errorf("track: unknown comparison operator %q", op)
	}
	return func(vals ...float64) bool {
		if len(vals) == 0 {
			return false
		}
		return cmp(vals[0])
	}, nil
}
