package vm

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pingw33n/vault13-sub000/pkg/asm"
	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

const maxPropArgs = 5

// sumProgram defines sum0..sum5, each returning the sum of its arguments, and
// paused0..paused5 which suspend once before doing the same.
func sumProgram() *asm.Builder {
	b := asm.New()
	b.Global(0)
	for _, paused := range []bool{false, true} {
		for a := 0; a <= maxPropArgs; a++ {
			name := fmt.Sprintf("sum%d", a)
			if paused {
				name = fmt.Sprintf("paused%d", a)
			}
			b.Proc(name, a, 0)
			b.Enter()
			if paused {
				b.Op(opcode.Suspend)
			}
			b.Int(0)
			for i := range a {
				b.Int(int32(i)).Op(opcode.Fetch).Op(opcode.Add)
			}
			b.Op(opcode.Dup).Int(0).Op(opcode.StoreGlobal)
			b.ReturnValue()
		}
	}
	b.Proc("noise", 2, 0)
	b.Enter().Int(1).Op(opcode.Fetch).Int(0).Op(opcode.Store).Return()
	return b
}

func toValues(vals []int32) []Value {
	r := make([]Value, len(vals))
	for i, v := range vals {
		r[i] = Int(v)
	}
	return r
}

func sum(vals []int32) int32 {
	var s int32
	for _, v := range vals {
		s += v
	}
	return s
}

func genArgs() gopter.Gen {
	return gen.SliceOfN(maxPropArgs+2, gen.Int32Range(-10000, 10000))
}

func TestPropertyArgumentStaging(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("fewer args underflow, otherwise the top argc args are the frame", prop.ForAll(
		func(argc, staged int, vals []int32) bool {
			vm := newTestVm(nil)
			h := vm.Insert(mustLoadProp(vm))
			args := vals[:staged]

			r, err := vm.ExecuteProcName(h, fmt.Sprintf("sum%d", argc), testContext(), toValues(args)...)
			if staged < argc {
				return KindOf(err) == ErrorStackUnderflow
			}
			if err != nil {
				return false
			}
			return r.Return.Equal(Int(sum(args[staged-argc:])))
		},
		gen.IntRange(0, maxPropArgs),
		gen.IntRange(0, maxPropArgs+2),
		genArgs(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPropertySuspendResumeIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("nested invocations while suspended do not disturb the paused frame", prop.ForAll(
		func(argc, nested int, vals []int32) bool {
			vm := newTestVm(nil)
			h := vm.Insert(mustLoadProp(vm))
			ctx := testContext()
			args := vals[:argc]

			r, err := vm.ExecuteProcName(h, fmt.Sprintf("paused%d", argc), ctx, toValues(args)...)
			if err != nil || !r.Suspended() {
				return false
			}
			st, _ := vm.ProgramState(h)
			data, ret, pos, base := st.DataStack().Values(), st.ReturnStack().Values(), st.Pos(), st.Base()

			for i := range nested {
				if _, err := vm.ExecuteProcName(h, "noise", ctx, Int(int32(i)), Int(vals[i%len(vals)])); err != nil {
					return false
				}
			}
			if !valuesEqual(st.DataStack().Values(), data) || !valuesEqual(st.ReturnStack().Values(), ret) {
				return false
			}
			if st.Pos() != pos || st.Base() != base || !vm.CanResume(h) {
				return false
			}

			r, err = vm.Resume(h, ctx)
			if err != nil || r.Suspended() {
				return false
			}
			return r.Return.Equal(Int(sum(args))) && !vm.CanResume(h)
		},
		gen.IntRange(0, maxPropArgs),
		gen.IntRange(0, 5),
		genArgs(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPropertyInstanceIsolation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("instances of one program share no variables", prop.ForAll(
		func(a, b []int32) bool {
			vm := newTestVm(nil)
			p := mustLoadProp(vm)
			ha, hb := vm.Insert(p), vm.Insert(p)
			ctx := testContext()

			if _, err := vm.ExecuteProcName(ha, "paused3", ctx, toValues(a[:3])...); err != nil {
				return false
			}
			if _, err := vm.ExecuteProcName(hb, "sum3", ctx, toValues(b[:3])...); err != nil {
				return false
			}
			ra, err := vm.Resume(ha, ctx)
			if err != nil {
				return false
			}

			global := func(h Handle) Value {
				st, _ := vm.ProgramState(h)
				v, _ := st.DataStack().Get(st.GlobalBase())
				return v
			}
			return ra.Return.Equal(Int(sum(a[:3]))) &&
				global(ha).Equal(Int(sum(a[:3]))) &&
				global(hb).Equal(Int(sum(b[:3])))
		},
		genArgs(),
		genArgs(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func mustLoadProp(vm *Vm) *Program {
	p, err := vm.Load("sum", sumProgram().MustBuild())
	if err != nil {
		panic(err)
	}
	return p
}
