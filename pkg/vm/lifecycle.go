package vm

import (
	"context"

	"github.com/qmuntal/stateless"
)

// RunState is the lifecycle state of a ProgramState.
type RunState string

const (
	StateIdle      RunState = "Idle"
	StateRunning   RunState = "Running"
	StateHalted    RunState = "Halted"
	StateSuspended RunState = "Suspended"
	StateFailed    RunState = "Failed"
)

const (
	triggerExecute = "Execute"
	triggerResume  = "Resume"
	triggerHalt    = "Halt"
	triggerSuspend = "Suspend"
	triggerFail    = "Fail"
)

// lifecycle guards the transitions of one ProgramState. Running is never
// re-entered: a built-in that invokes its own program fails instead.
type lifecycle struct {
	state RunState
	fsm   *stateless.StateMachine
}

func newLifecycle() *lifecycle {
	l := &lifecycle{state: StateIdle}
	l.fsm = stateless.NewStateMachineWithExternalStorage(func(_ context.Context) (stateless.State, error) {
		return l.state, nil
	}, func(_ context.Context, s stateless.State) error {
		l.state = s.(RunState)
		return nil
	}, stateless.FiringImmediate)

	l.fsm.Configure(StateIdle).
		Permit(triggerExecute, StateRunning)
	l.fsm.Configure(StateRunning).
		Permit(triggerHalt, StateHalted).
		Permit(triggerSuspend, StateSuspended).
		Permit(triggerFail, StateFailed)
	l.fsm.Configure(StateHalted).
		Permit(triggerExecute, StateRunning)
	l.fsm.Configure(StateSuspended).
		Permit(triggerExecute, StateRunning).
		Permit(triggerResume, StateRunning)
	l.fsm.Configure(StateFailed).
		Permit(triggerExecute, StateRunning)
	return l
}

func (l *lifecycle) fire(trigger string) error {
	from := l.state
	if err := l.fsm.Fire(trigger); err != nil {
		return NewError(ErrorInvalidState, "cannot %s a program in state %s", trigger, from)
	}
	return nil
}
