package vm

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// Handler implements one opcode. The call gives it access to the running
// program and the host context.
type Handler func(c *Call) error

// InstructionSet maps opcodes to handlers. It is built once and shared by
// every program of a Vm.
type InstructionSet struct {
	handlers map[opcode.Opcode]Handler
}

// NewInstructionSet returns the standard instruction set.
func NewInstructionSet() *InstructionSet {
	s := &InstructionSet{handlers: make(map[opcode.Opcode]Handler, 128)}
	registerCore(s)
	registerGame(s)
	return s
}

// Register installs h for op, replacing any existing handler.
func (s *InstructionSet) Register(op opcode.Opcode, h Handler) {
	s.handlers[op] = h
}

// Unregister removes the handler for op.
func (s *InstructionSet) Unregister(op opcode.Opcode) {
	delete(s.handlers, op)
}

// Lookup returns the handler for op.
func (s *InstructionSet) Lookup(op opcode.Opcode) (Handler, bool) {
	h, ok := s.handlers[op]
	return h, ok
}

// Len returns the number of registered opcodes.
func (s *InstructionSet) Len() int { return len(s.handlers) }

// Call is the view of a running program given to a handler.
type Call struct {
	state *ProgramState
	ctx   *Context
	op    opcode.Opcode
	pos   int
}

// Op returns the opcode being executed.
func (c *Call) Op() opcode.Opcode { return c.op }

// Pos returns the code offset of the opcode being executed.
func (c *Call) Pos() int { return c.pos }

// Context returns the host context.
func (c *Call) Context() *Context { return c.ctx }

// Program returns the running program.
func (c *Call) Program() *Program { return c.state.program }

// Data returns the data stack.
func (c *Call) Data() *Stack { return c.state.data }

// Return returns the return stack.
func (c *Call) Return() *Stack { return c.state.ret }

// Log returns the VM logger annotated with the current instruction.
func (c *Call) Log() *slog.Logger {
	return c.state.log.With("pos", c.pos, "op", c.op.String())
}

func (c *Call) trace(args ...any) {
	ctx := context.Background()
	if !c.state.log.Enabled(ctx, logger.LevelTrace) {
		return
	}
	c.state.log.Log(ctx, logger.LevelTrace, c.op.String(),
		append([]any{"pos", c.pos}, args...)...)
}

// Push pushes v onto the data stack.
func (c *Call) Push(v Value) error { return c.state.data.Push(v) }

// PopValue pops the raw top of the data stack. Strings may be unresolved.
func (c *Call) PopValue() (Value, error) { return c.state.data.Pop() }

// Pop pops the top of the data stack and resolves string literals against
// the string table.
func (c *Call) Pop() (Value, error) {
	v, err := c.state.data.Pop()
	if err != nil {
		return v, err
	}
	return c.Resolve(v)
}

// Resolve turns a string literal reference into its text.
func (c *Call) Resolve(v Value) (Value, error) {
	return resolveIn(v, c.state.program.strings)
}

// ResolveName resolves a string reference against the identifier table.
func (c *Call) ResolveName(v Value) (string, error) {
	v, err := resolveIn(v, c.state.program.names)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

func resolveIn(v Value, t *StringTable) (Value, error) {
	off, ok := v.StringOffset()
	if !ok {
		return v, nil
	}
	s, ok := t.Get(int(off))
	if !ok {
		return Value{}, NewError(ErrorBadValue, "no string at offset %d", off)
	}
	return String(s), nil
}

// PopInt pops an Int.
func (c *Call) PopInt() (int32, error) {
	v, err := c.state.data.Pop()
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

// PopString pops a string, resolving literals against the string table.
func (c *Call) PopString() (string, error) {
	v, err := c.Pop()
	if err != nil {
		return "", err
	}
	return v.AsString()
}

// PopName pops a string naming an identifier.
func (c *Call) PopName() (string, error) {
	v, err := c.state.data.Pop()
	if err != nil {
		return "", err
	}
	return c.ResolveName(v)
}

// PopObject pops an object reference. Int(0) is accepted as null.
func (c *Call) PopObject() (ObjectHandle, error) {
	v, err := c.state.data.Pop()
	if err != nil {
		return 0, err
	}
	return v.AsObject()
}

// NextInt32 reads the 4-byte big-endian operand following the opcode.
func (c *Call) NextInt32() (int32, error) {
	st := c.state
	code := st.program.code
	if st.pos+opcode.OperandSize > len(code) {
		return 0, errUnexpectedEnd("operand", st.pos, opcode.OperandSize, len(code)-st.pos)
	}
	v := int32(binary.BigEndian.Uint32(code[st.pos:]))
	st.pos += opcode.OperandSize
	return v, nil
}

// NextFloat32 reads a 4-byte big-endian float operand.
func (c *Call) NextFloat32() (float32, error) {
	v, err := c.NextInt32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

// Jump moves the instruction pointer to an absolute code offset.
func (c *Call) Jump(pos int32) error {
	return c.state.jump(pos)
}

// Halt ends the current run normally once the handler returns.
func (c *Call) Halt() {
	c.state.stop = stopHalt
}

// Suspend parks execution after the current instruction. The host continues
// it with Resume.
func (c *Call) Suspend(reason SuspendReason) {
	c.state.stop = stopSuspend
	c.state.suspendReason = reason
}

// SetScriptOverrides marks the invocation as overriding the default action.
func (c *Call) SetScriptOverrides() {
	c.state.overrides = true
}
