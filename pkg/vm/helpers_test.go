package vm

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/pingw33n/vault13-sub000/pkg/asm"
	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// opRecord is a test-only instruction that records the stacks.
const opRecord opcode.Opcode = 0x80FF

type recorder struct {
	hits []recordedHit
}

type recordedHit struct {
	pos  int
	data []Value
	ret  []Value
}

func (p *recorder) handler(c *Call) error {
	p.hits = append(p.hits, recordedHit{
		pos:  c.Pos(),
		data: c.Data().Values(),
		ret:  c.Return().Values(),
	})
	return nil
}

func (p *recorder) last(t *testing.T) recordedHit {
	t.Helper()
	if len(p.hits) == 0 {
		t.Fatal("recorder was not reached")
	}
	return p.hits[len(p.hits)-1]
}

func testLogger() *slog.Logger {
	return logger.Discard()
}

func newTestVm(p *recorder, opts ...Option) *Vm {
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	if p != nil {
		opts = append(opts, WithInstructions(func(s *InstructionSet) {
			s.Register(opRecord, p.handler)
		}))
	}
	return New(opts...)
}

func mustLoad(t *testing.T, vm *Vm, name string, b *asm.Builder) *Program {
	t.Helper()
	code, err := b.Build()
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	p, err := vm.Load(name, code)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return p
}

func mustInsert(t *testing.T, vm *Vm, name string, b *asm.Builder) Handle {
	t.Helper()
	return vm.Insert(mustLoad(t, vm, name, b))
}

func mustState(t *testing.T, vm *Vm, h Handle) *ProgramState {
	t.Helper()
	st, ok := vm.ProgramState(h)
	if !ok {
		t.Fatalf("no state for handle %s", h)
	}
	return st
}

func testContext() *Context {
	ctx := NewContext()
	ctx.LocalVars = make([]int32, 4)
	ctx.MapVars = make([]int32, 4)
	ctx.GlobalVars = make([]int32, 4)
	return ctx
}

func expectKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !errors.Is(err, &Error{Kind: kind}) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

func valuesEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
