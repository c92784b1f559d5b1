package vm

import (
	"fmt"
	"log/slog"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
)

// Observer receives execution events, typically to feed metrics.
type Observer interface {
	Invoked(program, proc string)
	Executed(instructions int)
	Suspended(reason SuspendReason)
	Failed(kind ErrorKind)
}

type config struct {
	instructions    *InstructionSet
	maxStackLen     int
	strictVarBounds bool
	encoding        encoding.Encoding
	log             *slog.Logger
	observer        Observer
}

// Option is a functional option for configuring the Vm.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithMaxStackLen sets the capacity of each data and return stack.
func WithMaxStackLen(n int) Option {
	return func(c *config) {
		c.maxStackLen = n
	}
}

// WithEncoding sets the encoding of name and string tables.
func WithEncoding(enc encoding.Encoding) Option {
	return func(c *config) {
		c.encoding = enc
	}
}

// WithStrictVarBounds controls out-of-range LVAR/MVAR/GVAR access. When
// strict, it fails with IndexOutOfRange; otherwise reads give 0 and writes
// are dropped with a warning.
func WithStrictVarBounds(strict bool) Option {
	return func(c *config) {
		c.strictVarBounds = strict
	}
}

// WithInstructions customizes the instruction set before first use.
func WithInstructions(f func(s *InstructionSet)) Option {
	return func(c *config) {
		f(c.instructions)
	}
}

// WithObserver installs an execution observer.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// Handle addresses a ProgramState in a Vm. Handles of removed states are
// never reused for new ones.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle, which never refers to a state.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.index, h.gen)
}

type slot struct {
	gen   uint32
	state *ProgramState
}

// Vm is the registry of live program states. It owns the instruction set and
// the configuration shared by all of them.
type Vm struct {
	cfg   *config
	slots []slot
	free  []uint32
	live  int
}

// New creates a Vm with the standard instruction set.
func New(opts ...Option) *Vm {
	cfg := &config{
		instructions:    NewInstructionSet(),
		maxStackLen:     DefaultMaxStackLen,
		strictVarBounds: true,
		encoding:        charmap.Windows1252,
		log:             logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Vm{cfg: cfg}
}

// Instructions returns the instruction set.
func (vm *Vm) Instructions() *InstructionSet { return vm.cfg.instructions }

// Load parses a program. It does not register any state.
func (vm *Vm) Load(name string, code []byte) (*Program, error) {
	return LoadProgram(name, code, LoadOptions{
		Encoding: vm.cfg.encoding,
		Logger:   vm.cfg.log,
	})
}

// Insert creates a new ProgramState for p.
func (vm *Vm) Insert(p *Program) Handle {
	st := newProgramState(p, vm.cfg)
	vm.live++
	if n := len(vm.free); n > 0 {
		idx := vm.free[n-1]
		vm.free = vm.free[:n-1]
		s := &vm.slots[idx]
		s.gen++
		s.state = st
		return Handle{index: idx, gen: s.gen}
	}
	vm.slots = append(vm.slots, slot{gen: 1, state: st})
	return Handle{index: uint32(len(vm.slots) - 1), gen: 1}
}

// Remove drops the state addressed by h. It reports whether h was live.
func (vm *Vm) Remove(h Handle) bool {
	if _, ok := vm.ProgramState(h); !ok {
		return false
	}
	s := &vm.slots[h.index]
	s.state = nil
	vm.free = append(vm.free, h.index)
	vm.live--
	return true
}

// Len returns the number of live states.
func (vm *Vm) Len() int { return vm.live }

// ProgramState returns the state addressed by h.
func (vm *Vm) ProgramState(h Handle) (*ProgramState, bool) {
	if h.gen == 0 || int(h.index) >= len(vm.slots) {
		return nil, false
	}
	s := vm.slots[h.index]
	if s.gen != h.gen || s.state == nil {
		return nil, false
	}
	return s.state, true
}

func (vm *Vm) mustState(h Handle) (*ProgramState, error) {
	st, ok := vm.ProgramState(h)
	if !ok {
		return nil, NewError(ErrorInvalidState, "invalid program handle %s", h)
	}
	return st, nil
}

// Initialize runs the startup code of the state addressed by h.
func (vm *Vm) Initialize(h Handle, ctx *Context) error {
	st, err := vm.mustState(h)
	if err != nil {
		return err
	}
	return st.Initialize(ctx)
}

// ExecuteProc invokes procedure id of the state addressed by h.
func (vm *Vm) ExecuteProc(h Handle, id ProcID, ctx *Context, args ...Value) (InvocationResult, error) {
	st, err := vm.mustState(h)
	if err != nil {
		return InvocationResult{}, err
	}
	return st.ExecuteProc(id, ctx, args...)
}

// ExecuteProcName invokes the procedure named name.
func (vm *Vm) ExecuteProcName(h Handle, name string, ctx *Context, args ...Value) (InvocationResult, error) {
	st, err := vm.mustState(h)
	if err != nil {
		return InvocationResult{}, err
	}
	id, ok := st.Program().ProcID(name)
	if !ok {
		return InvocationResult{}, NewError(ErrorUnresolvedProcedure, "no procedure named %s in %s", name, st.Program().Name())
	}
	return st.ExecuteProc(id, ctx, args...)
}

// ExecutePredefinedProc invokes the procedure implementing role. ok is false,
// with no error, if the program does not implement it.
func (vm *Vm) ExecutePredefinedProc(h Handle, role PredefinedProc, ctx *Context) (r InvocationResult, ok bool, err error) {
	st, err := vm.mustState(h)
	if err != nil {
		return InvocationResult{}, false, err
	}
	id, ok := st.Program().PredefinedProcID(role)
	if !ok {
		return InvocationResult{}, false, nil
	}
	r, err = st.ExecuteProc(id, ctx)
	return r, true, err
}

// Resume continues the suspended invocation of the state addressed by h.
func (vm *Vm) Resume(h Handle, ctx *Context) (InvocationResult, error) {
	st, err := vm.mustState(h)
	if err != nil {
		return InvocationResult{}, err
	}
	return st.Resume(ctx)
}

// CanResume reports whether the state addressed by h has a suspended
// invocation.
func (vm *Vm) CanResume(h Handle) bool {
	st, ok := vm.ProgramState(h)
	return ok && st.CanResume()
}
