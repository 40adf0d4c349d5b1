package progress

import (
	"fmt"
	"time"
)

// ProgressSource says whether a mutation sets progress explicitly or leaves
// it to be derived by the aggregator.
type ProgressSource struct {
	explicit bool
	value    int
}

// Derived leaves progress to the derivation rules.
func Derived() ProgressSource { return ProgressSource{} }

// Explicit overrides progress with v for this mutation only.
func Explicit(v int) ProgressSource { return ProgressSource{explicit: true, value: v} }

// Value returns the explicit value and whether one was supplied.
func (p ProgressSource) Value() (int, bool) { return p.value, p.explicit }

func (p ProgressSource) IsExplicit() bool { return p.explicit }

func (p ProgressSource) String() string {
	if p.explicit {
		return fmt.Sprintf("explicit(%d)", p.value)
	}
	return "derived"
}

// OptionalTime distinguishes "leave unchanged", "set" and "clear".
type OptionalTime struct {
	set   bool
	value *time.Time
}

// SetTime sets the timestamp to t.
func SetTime(t time.Time) OptionalTime { return OptionalTime{set: true, value: &t} }

// ClearTime removes the timestamp.
func ClearTime() OptionalTime { return OptionalTime{set: true} }

// Get returns the new value and whether the field should change at all.
func (o OptionalTime) Get() (*time.Time, bool) { return o.value, o.set }

// Changes is the set of fields a mutation may touch. Nil pointers and zero
// wrappers leave the stored value alone.
type Changes struct {
	Status         *Status
	Progress       ProgressSource
	Title          *string
	Description    *string
	DueAt          OptionalTime
	EstimatedHours *float64
	ActualHours    *float64
	Priority       *Priority
	// Weight applies to milestones only.
	Weight *float64
}

// IsEmpty reports whether the mutation would change nothing.
func (c Changes) IsEmpty() bool {
	_, dueSet := c.DueAt.Get()
	return c.Status == nil && !c.Progress.IsExplicit() && c.Title == nil &&
		c.Description == nil && !dueSet && c.EstimatedHours == nil &&
		c.ActualHours == nil && c.Priority == nil && c.Weight == nil
}

// Check validates the values carried by the changes, independent of any row.
func (c Changes) Check(kind Kind) error {
	if !kind.IsWorkItem() {
		return fmt.Errorf("%w: %s has no mutable status", ErrInvalidChanges, kind)
	}
	if c.Status != nil && !c.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidChanges, *c.Status)
	}
	if v, ok := c.Progress.Value(); ok && (v < 0 || v > 100) {
		return fmt.Errorf("%w: progress %d outside 0..100", ErrInvalidChanges, v)
	}
	if c.Priority != nil && !c.Priority.IsValid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidChanges, *c.Priority)
	}
	if c.Weight != nil && kind != KindMilestone {
		return fmt.Errorf("%w: weight applies to milestones only", ErrInvalidChanges)
	}
	if (c.EstimatedHours != nil || c.Priority != nil) && kind != KindTask {
		return fmt.Errorf("%w: estimated hours and priority apply to tasks only", ErrInvalidChanges)
	}
	if c.ActualHours != nil && kind != KindTask {
		return fmt.Errorf("%w: actual hours apply to tasks only", ErrInvalidChanges)
	}
	return nil
}
