package progress

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Status is the lifecycle state shared by tasks and milestones.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusOnHold     Status = "on_hold"
)

// Events that move a work item between statuses.
const (
	EventStart    = "start"
	EventComplete = "complete"
	EventHold     = "hold"
	EventResume   = "resume"
	EventCancel   = "cancel"
)

// validTransitions defines the allowed state transitions and their events.
// Map: currentStatus -> event -> targetStatus
var validTransitions = map[Status]map[string]Status{
	StatusPending: {
		EventStart:  StatusInProgress,
		EventCancel: StatusCancelled,
	},
	StatusInProgress: {
		EventComplete: StatusCompleted,
		EventHold:     StatusOnHold,
		EventCancel:   StatusCancelled,
	},
	StatusOnHold: {
		EventResume: StatusInProgress,
		EventCancel: StatusCancelled,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusInProgress,
		StatusOnHold,
		StatusCompleted,
		StatusCancelled,
	}
}

// IsValid returns true if the status is a known status.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for statuses with no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// EventFor returns the event that moves s to target, if any.
func (s Status) EventFor(target Status) (string, bool) {
	for event, t := range validTransitions[s] {
		if t == target {
			return event, true
		}
	}
	return "", false
}

// AllowedTargets returns the statuses reachable from s in one step, sorted.
func (s Status) AllowedTargets() []Status {
	transitions := validTransitions[s]
	targets := make([]Status, 0, len(transitions))
	for _, t := range transitions {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// DisplayName returns a human-readable display name for the status.
func (s Status) DisplayName() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusOnHold:
		return "On Hold"
	default:
		return string(s)
	}
}

// ParseStatus parses a string into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status: %q", s)
	}
	return status, nil
}

// MarshalJSON implements json.Marshaler interface.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	// Rows written before status tracking carry an empty string.
	if str == "" {
		*s = StatusPending
		return nil
	}

	status, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// CanTransition reports whether an entity of the given kind may move from one
// status to another. Same-status requests are always allowed.
func CanTransition(kind Kind, from, to Status) bool {
	if from == to {
		return true
	}
	machines, ok := transitionMachines[kind]
	if !ok {
		return false
	}
	machine, ok := machines[from]
	if !ok {
		return false
	}
	event, ok := from.EventFor(to)
	if !ok {
		return false
	}
	return machine.accepts(event, to)
}

// ValidateTransition returns a TransitionError when CanTransition denies the move.
func ValidateTransition(kind Kind, id string, from, to Status) error {
	if CanTransition(kind, from, to) {
		return nil
	}
	return &TransitionError{Kind: kind, ID: id, From: from, To: to}
}
