package track

import (
	"errors"
	"testing"
)

func TestTracker_ReportAndLatest(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Report("loss", 0.3)
	tr.Report("loss", 0.5)

	got, ok := tr.Latest("loss")
	if !ok || got != 0.5 {
		t.Errorf("latest = %v, %v; want 0.5, true", got, ok)
	}

	if _, ok := tr.Latest("accuracy"); ok {
		t.Error("latest should report false for unknown scalars")
	}
}

func TestTracker_HistoryOrdered(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Report("loss", 0.3)
	tr.Report("loss", 0.5)

	hist, err := tr.History("loss")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hist) != 2 || hist[0] != 0.3 || hist[1] != 0.5 {
		t.Errorf("history = %v, want [0.3 0.5]", hist)
	}

	// A returned slice must be a copy.
	hist[0] = 99
	again, _ := tr.History("loss")
	if again[0] != 0.3 {
		t.Error("History must return a copy")
	}

	if _, err := tr.History("accuracy"); !errors.Is(err, ErrScalarNotFound) {
		t.Errorf("err = %v, want ErrScalarNotFound", err)
	}
}

func TestTracker_EdgeTriggeredCondition(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	cond := NewCondition([]string{"loss"}, func(vals ...float64) bool {
		return vals[0] < 0.1
	})
	if err := tr.AddCondition(cond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First satisfying report fires.
	if fired := tr.Report("loss", 0.05); len(fired) != 1 || fired[0] != cond {
		t.Fatalf("first satisfying report should fire, got %v", fired)
	}
	// Still satisfied: suppressed.
	if fired := tr.Report("loss", 0.04); len(fired) != 0 {
		t.Fatalf("repeat satisfaction should not fire, got %v", fired)
	}
	// Predicate goes false: re-arms, no fire.
	if fired := tr.Report("loss", 0.5); len(fired) != 0 {
		t.Fatalf("re-arming report should not fire, got %v", fired)
	}
	// Satisfied again: fires again.
	if fired := tr.Report("loss", 0.01); len(fired) != 1 {
		t.Fatalf("second edge should fire, got %v", fired)
	}
}

func TestTracker_ConditionOnlyEvaluatedForItsScalars(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	calls := 0
	cond := NewCondition([]string{"loss"}, func(...float64) bool {
		calls++
		return false
	})
	_ = tr.AddCondition(cond)

	tr.Report("accuracy", 0.9)
	if calls != 0 {
		t.Error("condition should not run for unrelated scalars")
	}
	tr.Report("loss", 0.2)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestTracker_MissingValueSubstitution(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	var seen []float64
	cond := NewCondition([]string{"loss", "accuracy"}, func(vals ...float64) bool {
		seen = append([]float64(nil), vals...)
		return false
	})
	_ = tr.AddCondition(cond)

	tr.Report("loss", 0.2)
	if len(seen) != 2 || seen[0] != 0.2 || seen[1] != DefaultMissingValue {
		t.Errorf("vals = %v, want [0.2 %v]", seen, DefaultMissingValue)
	}

	// Substitution is for evaluation only; the table stays untouched.
	if _, ok := tr.Latest("accuracy"); ok {
		t.Error("default value must not be written into the table")
	}
}

func TestTracker_AddConditionValidation(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if err := tr.AddCondition(NewCondition(nil, func(...float64) bool { return true })); !errors.Is(err, ErrNoNames) {
		t.Errorf("err = %v, want ErrNoNames", err)
	}
	if err := tr.AddCondition(NewCondition([]string{"loss"}, nil)); !errors.Is(err, ErrNilPredicate) {
		t.Errorf("err = %v, want ErrNilPredicate", err)
	}
}

func TestTracker_Snapshot(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Report("loss", 0.5)
	tr.Report("accuracy", 0.9)

	snap := tr.Snapshot()
	if len(snap) != 2 || snap["loss"] != 0.5 || snap["accuracy"] != 0.9 {
		t.Errorf("snapshot = %v", snap)
	}

	named := tr.SnapshotNames([]string{"loss", "never"})
	if named["loss"] != 0.5 || named["never"] != DefaultMissingValue {
		t.Errorf("named snapshot = %v", named)
	}
}

func TestCondition_Builders(t *testing.T) {
	t.Parallel()

	cond := NewCondition([]string{"a", "b"}, func(...float64) bool { return true })
	if cond.Title() != "a, b" {
		t.Errorf("default title = %q", cond.Title())
	}

	cond.WithTitle("custom").OnlyRelevant()
	if cond.Title() != "custom" || !cond.IsOnlyRelevant() {
		t.Errorf("builders not applied: title=%q onlyRelevant=%v", cond.Title(), cond.IsOnlyRelevant())
	}

	names := cond.Names()
	names[0] = "mutated"
	if cond.names[0] != "a" {
		t.Error("Names must return a copy")
	}
}

func TestComparison(t *testing.T) {
	t.Parallel()

	cases := []struct {
		op        string
		threshold float64
		value     float64
		want      bool
	}{
		{"lt", 1, 0.5, true},
		{"lt", 1, 1, false},
		{"le", 1, 1, true},
		{"gt", 1, 2, true},
		{"gt", 1, 1, false},
		{"ge", 1, 1, true},
		{"eq", 3, 3, true},
		{"eq", 3, 2, false},
		{"ne", 3, 2, true},
	}
	for _, tc := range cases {
		pred, err := Comparison(tc.op, tc.threshold)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.op, err)
		}
		if got := pred(tc.value); got != tc.want {
			t.Errorf("%s(%v) with threshold %v = %v, want %v", tc.op, tc.value, tc.threshold, got, tc.want)
		}
	}

	if _, err := Comparison("between", 1); err == nil {
		t.Error("expected error for unknown operator")
	}

	pred, _ := Comparison("lt", 1)
	if pred() {
		t.Error("predicate with no values should be false")
	}
}
