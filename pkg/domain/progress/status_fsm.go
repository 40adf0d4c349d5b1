package progress

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// transitionMachines holds one compiled machine per work-item kind and
// starting status. Kinds without an entry have no status graph.
// Machines are immutable after init; every check runs on a fresh interpreter.
var transitionMachines = map[Kind]map[Status]*statusMachine{}

// init compiles the machines and checks they agree with validTransitions,
// so the declarative table and the FSM cannot drift apart.
func init() {
	for _, kind := range []Kind{KindTask, KindMilestone, KindBooking} {
		if !kind.IsWorkItem() {
			continue
		}
		machines := make(map[Status]*statusMachine, len(validTransitions))
		for _, status := range AllStatuses() {
			m, err := newStatusMachine(kind, status)
			if err != nil {
				panic(fmt.Sprintf("build %s machine from %q: %v", kind, status, err))
			}
			machines[status] = m
		}
		transitionMachines[kind] = machines
	}

	for kind, machines := range transitionMachines {
		for from, events := range validTransitions {
			for event, target := range events {
				if !machines[from].accepts(event, target) {
					panic(fmt.Sprintf("%s machine rejects %s -(%s)-> %s declared in validTransitions", kind, from, event, target))
				}
			}
		}
	}
}

// transitionContext is the machine context; it records the kind the machine
// was built for.
type transitionContext struct {
	Kind Kind
}

type statusMachine struct {
	kind    Kind
	initial Status
	start   func() *statekit.Interpreter[transitionContext]
}

func newStatusMachine(kind Kind, initial Status) (*statusMachine, error) {
	builder := statekit.NewMachine[transitionContext](fmt.Sprintf("%s-status", kind)).
		WithInitial(statekit.StateID(initial)).
		WithContext(transitionContext{Kind: kind})

	builder.State(statekit.StateID(StatusPending)).
		On(EventStart).Target(statekit.StateID(StatusInProgress)).
		On(EventCancel).Target(statekit.StateID(StatusCancelled)).
		Done()

	builder.State(statekit.StateID(StatusInProgress)).
		On(EventComplete).Target(statekit.StateID(StatusCompleted)).
		On(EventHold).Target(statekit.StateID(StatusOnHold)).
		On(EventCancel).Target(statekit.StateID(StatusCancelled)).
		Done()

	builder.State(statekit.StateID(StatusOnHold)).
		On(EventResume).Target(statekit.StateID(StatusInProgress)).
		On(EventCancel).Target(statekit.StateID(StatusCancelled)).
		Done()

	// Terminal: reopening is not supported.
	builder.State(statekit.StateID(StatusCompleted)).Done()
	builder.State(statekit.StateID(StatusCancelled)).Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build state machine: %w", err)
	}

	return &statusMachine{
		kind:    kind,
		initial: initial,
		start: func() *statekit.Interpreter[transitionContext] {
			interpreter := statekit.NewInterpreter(machine)
			interpreter.Start()
			return interpreter
		},
	}, nil
}

// accepts sends event to a fresh interpreter and reports whether it landed on target.
func (m *statusMachine) accepts(event string, target Status) bool {
	interpreter := m.start()
	interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	return Status(interpreter.State().Value) == target
}
