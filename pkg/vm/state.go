package vm

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// SuspendReason tells the host why a program paused.
type SuspendReason int

const (
	SuspendNone SuspendReason = iota
	// SuspendDialog waits for the player to pick a dialog option.
	SuspendDialog
	// SuspendScript is a pause requested by the script itself.
	SuspendScript
)

func (r SuspendReason) String() string {
	switch r {
	case SuspendNone:
		return "none"
	case SuspendDialog:
		return "dialog"
	case SuspendScript:
		return "script"
	default:
		return fmt.Sprintf("suspend(%d)", int(r))
	}
}

// InvocationResult is the outcome of ExecuteProc or Resume.
type InvocationResult struct {
	// ScriptOverrides is set when the script replaced the default action.
	ScriptOverrides bool
	// Suspend is SuspendNone unless the program paused.
	Suspend SuspendReason
	// Return is the value handed back by a value-returning procedure, None
	// otherwise.
	Return Value
}

// Suspended reports whether the invocation paused.
func (r InvocationResult) Suspended() bool { return r.Suspend != SuspendNone }

type stopKind int

const (
	stopNone stopKind = iota
	stopHalt
	stopSuspend
)

// frame records the stack heights at the start of one host invocation.
type frame struct {
	data int
	ret  int
}

// prologueDataSlots is the number of bookkeeping values the call prologue
// pushes on the data stack.
const prologueDataSlots = 3

// ProgramState is one running instance of a Program. It exclusively owns its
// stacks and bases; only the Program is shared.
type ProgramState struct {
	program *Program
	cfg     *config
	log     *slog.Logger
	lc      *lifecycle

	pos   int
	op    opcode.Opcode
	opPos int

	data       *Stack
	ret        *Stack
	base       int
	globalBase int

	suspended []int
	frames    []frame

	initialized   bool
	critical      bool
	overrides     bool
	returnValue   Value
	stop          stopKind
	suspendReason SuspendReason
	steps         int
}

func newProgramState(p *Program, cfg *config) *ProgramState {
	return &ProgramState{
		program:    p,
		cfg:        cfg,
		log:        cfg.log.With("program", p.Name()),
		lc:         newLifecycle(),
		data:       NewStack("data", cfg.maxStackLen),
		ret:        NewStack("return", cfg.maxStackLen),
		base:       -1,
		globalBase: -1,
		opPos:      -1,
	}
}

// Program returns the program this state runs.
func (s *ProgramState) Program() *Program { return s.program }

// State returns the lifecycle state.
func (s *ProgramState) State() RunState { return s.lc.state }

// Pos returns the instruction pointer.
func (s *ProgramState) Pos() int { return s.pos }

// DataStack returns the data stack.
func (s *ProgramState) DataStack() *Stack { return s.data }

// ReturnStack returns the return stack.
func (s *ProgramState) ReturnStack() *Stack { return s.ret }

// Base returns the frame base, or -1 if unset.
func (s *ProgramState) Base() int { return s.base }

// GlobalBase returns the global base, or -1 if unset.
func (s *ProgramState) GlobalBase() int { return s.globalBase }

// Initialized reports whether the program startup code has run.
func (s *ProgramState) Initialized() bool { return s.initialized }

// CanResume reports whether a suspended invocation is pending.
func (s *ProgramState) CanResume() bool { return len(s.suspended) > 0 }

// SuspendDepth returns the number of pending suspended invocations.
func (s *ProgramState) SuspendDepth() int { return len(s.suspended) }

// LastOpcode returns the most recently decoded opcode and its offset.
func (s *ProgramState) LastOpcode() (opcode.Opcode, int) { return s.op, s.opPos }

func (s *ProgramState) floor() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].data + prologueDataSlots
}

// Initialize runs the program startup code if it has not run yet.
func (s *ProgramState) Initialize(ctx *Context) error {
	if s.initialized {
		return nil
	}
	if err := s.lc.fire(triggerExecute); err != nil {
		return err
	}
	if err := s.initialize(ctx); err != nil {
		return s.fail(err)
	}
	return s.lc.fire(triggerHalt)
}

func (s *ProgramState) initialize(ctx *Context) error {
	s.log.Debug("initializing program")
	s.pos = 0
	if err := s.run(ctx); err != nil {
		return err
	}
	if s.stop == stopSuspend {
		return s.annotate(NewError(ErrorInvalidState, "program suspended during initialization"))
	}
	s.initialized = true
	return nil
}

// ExecuteProc invokes a procedure. args are staged on the data stack after
// the call prologue, in order. The program startup code runs first if it has
// not run yet.
func (s *ProgramState) ExecuteProc(id ProcID, ctx *Context, args ...Value) (InvocationResult, error) {
	proc, ok := s.program.Proc(id)
	if !ok {
		return InvocationResult{}, NewError(ErrorUnresolvedProcedure, "no procedure with id %d in %s", id, s.program.Name())
	}
	if err := s.lc.fire(triggerExecute); err != nil {
		return InvocationResult{}, err
	}
	if !s.initialized {
		if err := s.initialize(ctx); err != nil {
			return InvocationResult{}, s.fail(err)
		}
	}

	s.log.Debug("executing procedure", "proc", proc.Name, "args", len(args))
	if s.cfg.observer != nil {
		s.cfg.observer.Invoked(s.program.Name(), proc.Name)
	}
	s.overrides = false
	s.returnValue = None()

	s.frames = append(s.frames, frame{data: s.data.Len(), ret: s.ret.Len()})
	if err := s.prologue(args); err != nil {
		return InvocationResult{}, s.fail(err)
	}
	s.pos = proc.BodyPos
	return s.finish(ctx)
}

func (s *ProgramState) prologue(args []Value) error {
	if err := s.ret.Push(Int(int32(s.pos))); err != nil {
		return err
	}
	if err := s.ret.Push(Int(prologueMarker)); err != nil {
		return err
	}
	for range prologueDataSlots {
		if err := s.data.Push(Int(0)); err != nil {
			return err
		}
	}
	for _, a := range args {
		if err := s.data.Push(a); err != nil {
			return err
		}
	}
	return nil
}

// Resume continues the most recently suspended invocation from the
// instruction after the suspend point.
func (s *ProgramState) Resume(ctx *Context) (InvocationResult, error) {
	if len(s.suspended) == 0 {
		return InvocationResult{}, NewError(ErrorInvalidState, "%s has no suspended invocation", s.program.Name())
	}
	if err := s.lc.fire(triggerResume); err != nil {
		return InvocationResult{}, err
	}
	last := len(s.suspended) - 1
	s.pos = s.suspended[last]
	s.suspended = s.suspended[:last]
	s.log.Debug("resuming", "pos", s.pos)
	return s.finish(ctx)
}

func (s *ProgramState) finish(ctx *Context) (InvocationResult, error) {
	if err := s.run(ctx); err != nil {
		return InvocationResult{}, s.fail(err)
	}
	r := InvocationResult{
		ScriptOverrides: s.overrides,
		Return:          s.returnValue,
	}
	if s.stop == stopSuspend {
		s.suspended = append(s.suspended, s.pos)
		r.Suspend = s.suspendReason
		if s.cfg.observer != nil {
			s.cfg.observer.Suspended(s.suspendReason)
		}
		s.log.Debug("suspended", "pos", s.pos, "reason", s.suspendReason.String())
		return r, s.lc.fire(triggerSuspend)
	}

	if len(s.frames) > 0 {
		s.frames = s.frames[:len(s.frames)-1]
	}
	if len(s.suspended) > 0 {
		return r, s.lc.fire(triggerSuspend)
	}
	return r, s.lc.fire(triggerHalt)
}

// fail unwinds every pending invocation and moves to the Failed state.
// Program globals below the outermost invocation survive.
func (s *ProgramState) fail(err error) error {
	if len(s.frames) > 0 {
		f := s.frames[0]
		_ = s.data.Truncate(min(f.data, s.data.Len()))
		_ = s.ret.Truncate(min(f.ret, s.ret.Len()))
	}
	s.frames = nil
	s.suspended = nil
	s.base = -1
	s.critical = false
	if s.cfg.observer != nil {
		s.cfg.observer.Failed(KindOf(err))
	}
	if ferr := s.lc.fire(triggerFail); ferr != nil {
		s.log.Error("lifecycle", "error", ferr)
	}
	return err
}

func (s *ProgramState) run(ctx *Context) error {
	c := &Call{state: s, ctx: ctx}
	s.stop = stopNone
	s.suspendReason = SuspendNone
	steps := 0
	defer func() {
		s.steps += steps
		if s.cfg.observer != nil {
			s.cfg.observer.Executed(steps)
		}
	}()
	for s.stop == stopNone {
		if err := s.step(c); err != nil {
			return s.annotate(err)
		}
		steps++
	}
	return nil
}

func (s *ProgramState) step(c *Call) error {
	code := s.program.code
	s.opPos = s.pos
	if s.pos < 0 || s.pos+opcode.Size > len(code) {
		s.op = 0
		return errUnexpectedEnd("opcode", s.pos, opcode.Size, len(code)-s.pos)
	}
	s.op = opcode.Opcode(binary.BigEndian.Uint16(code[s.pos:]))
	h, ok := s.cfg.instructions.Lookup(s.op)
	if !ok {
		return NewError(ErrorBadOpcode, "unknown opcode 0x%04x", uint16(s.op))
	}
	s.pos += opcode.Size
	c.op = s.op
	c.pos = s.opPos
	return h(c)
}

func (s *ProgramState) jump(pos int32) error {
	if pos < 0 || int(pos)+opcode.Size > len(s.program.code) {
		return NewError(ErrorBadJumpTarget, "jump to 0x%x outside of code (%d bytes)", pos, len(s.program.code))
	}
	s.pos = int(pos)
	return nil
}

// exit halts the run at pos. The address is the caller's position saved by
// the prologue and is never executed, so it may be the end of the code.
func (s *ProgramState) exit(pos int32) {
	s.pos = int(pos)
	s.stop = stopHalt
}

// annotate attaches the program location to an error raised by an instruction.
func (s *ProgramState) annotate(err error) error {
	orig, ok := err.(*Error)
	if !ok {
		return fmt.Errorf("%s at 0x%06x (%s): %w", s.program.Name(), s.opPos, s.op, err)
	}
	e := *orig
	if e.Program == "" {
		e.Program = s.program.Name()
	}
	if e.Offset < 0 {
		e.Offset = s.opPos
		e.Opcode = s.op
	}
	return &e
}
