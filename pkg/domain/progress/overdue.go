package progress

import "time"

// OverdueState is the derived overdue flag and its sticky start marker.
type OverdueState struct {
	IsOverdue bool       `json:"is_overdue"`
	Since     *time.Time `json:"overdue_since,omitempty"`
}

// EvaluateOverdue decides whether a work item is overdue at now.
//
// Terminal items are never overdue. Since is set to the due timestamp the first
// time the item becomes overdue and is carried over from prev while it stays
// overdue, even if the due date is edited in between.
func EvaluateOverdue(due *time.Time, now time.Time, status Status, prev OverdueState) OverdueState {
	if status.IsTerminal() || due == nil {
		return OverdueState{}
	}
	if !now.After(*due) {
		return OverdueState{}
	}
	if prev.IsOverdue && prev.Since != nil {
		since := *prev.Since
		return OverdueState{IsOverdue: true, Since: &since}
	}
	since := *due
	return OverdueState{IsOverdue: true, Since: &since}
}
