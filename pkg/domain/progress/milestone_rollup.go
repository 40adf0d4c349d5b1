package progress

import (
	"math"
	"time"
)

// roundingEpsilon absorbs float error so that exact halves round up.
const roundingEpsilon = 1e-9

// RoundHalfUp rounds x to the nearest integer, halves away from zero for
// non-negative inputs, and clamps the result to 0..100.
func RoundHalfUp(x float64) int {
	if math.IsNaN(x) || x <= 0 {
		return 0
	}
	r := int(math.Floor(x + 0.5 + roundingEpsilon))
	if r > 100 {
		return 100
	}
	return r
}

// Percent returns round(100 * part / total), or 0 when total is zero.
func Percent(part, total int) int {
	if total <= 0 || part <= 0 {
		return 0
	}
	// Integer form of floor(100*part/total + 0.5).
	r := (200*part + total) / (2 * total)
	if r > 100 {
		return 100
	}
	return r
}

// Progress returns the derived milestone progress for these counters.
func (c MilestoneCounters) Progress() int {
	return Percent(c.CompletedTasks, c.TotalTasks)
}

// AggregateMilestone recomputes a milestone's counters from its full task set.
// Overdue tasks are counted with the evaluator at now, not with stored flags.
func AggregateMilestone(tasks []Task, now time.Time) MilestoneCounters {
	var c MilestoneCounters
	c.TotalTasks = len(tasks)
	for i := range tasks {
		t := &tasks[i]
		switch t.Status {
		case StatusCompleted:
			c.CompletedTasks++
		case StatusInProgress:
			c.InProgressTasks++
		case StatusPending:
			c.PendingTasks++
		}
		if EvaluateOverdue(t.DueAt, now, t.Status, t.Overdue()).IsOverdue {
			c.OverdueTasks++
		}
		if t.EstimatedHours != nil {
			c.TotalEstimatedHours += *t.EstimatedHours
		}
		if t.ActualHours != nil {
			c.TotalActualHours += *t.ActualHours
		}
	}
	c.CalculatedStatus = calculatedStatus(c)
	return c
}

func calculatedStatus(c MilestoneCounters) Status {
	switch {
	case c.TotalTasks > 0 && c.CompletedTasks == c.TotalTasks:
		return StatusCompleted
	case c.CompletedTasks > 0 || c.InProgressTasks > 0:
		return StatusInProgress
	default:
		return StatusPending
	}
}
