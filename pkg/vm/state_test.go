package vm

import (
	"errors"
	"testing"

	"github.com/pingw33n/vault13-sub000/pkg/asm"
	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

func TestExecuteProc_AddLeavesSumOnTop(t *testing.T) {
	p := &recorder{}
	vm := newTestVm(p)
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Int(3).Int(4).Op(opcode.Add).Raw(opRecord).Op(opcode.Pop).Return()
	h := mustInsert(t, vm, "add", b)

	r, err := vm.ExecuteProcName(h, "start", testContext())
	if err != nil {
		t.Fatalf("ExecuteProc: %v", err)
	}
	hit := p.last(t)
	if top := hit.data[len(hit.data)-1]; !top.Equal(Int(7)) {
		t.Errorf("expected Int(7) on top before the epilogue, got %s", top)
	}
	if r.Suspended() || r.ScriptOverrides || !r.Return.IsNone() {
		t.Errorf("unexpected result %+v", r)
	}

	st := mustState(t, vm, h)
	if st.State() != StateHalted {
		t.Errorf("expected Halted, got %s", st.State())
	}
	if st.DataStack().Len() != 0 || st.ReturnStack().Len() != 0 {
		t.Errorf("expected empty stacks, got %v / %v", st.DataStack().Values(), st.ReturnStack().Values())
	}
}

func TestExecuteProc_SuspendAndResume(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter()
	b.Int(0).Int(1).Op(opcode.SetLocalVar)
	b.Op(opcode.Suspend)
	b.Int(1).Int(2).Op(opcode.SetLocalVar)
	b.Return()
	h := mustInsert(t, vm, "suspend", b)
	ctx := testContext()

	r, err := vm.ExecuteProcName(h, "start", ctx)
	if err != nil {
		t.Fatalf("ExecuteProc: %v", err)
	}
	if r.Suspend != SuspendScript {
		t.Errorf("expected script suspend, got %s", r.Suspend)
	}
	if !vm.CanResume(h) {
		t.Fatal("expected CanResume after suspend")
	}
	if ctx.LocalVars[0] != 1 || ctx.LocalVars[1] != 0 {
		t.Errorf("unexpected local vars %v", ctx.LocalVars)
	}
	st := mustState(t, vm, h)
	if st.State() != StateSuspended || st.SuspendDepth() != 1 {
		t.Errorf("expected one suspended invocation, got %s/%d", st.State(), st.SuspendDepth())
	}

	r, err = vm.Resume(h, ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if r.Suspended() {
		t.Error("expected completion after resume")
	}
	if vm.CanResume(h) {
		t.Error("expected no suspended invocation after halt")
	}
	if ctx.LocalVars[1] != 2 {
		t.Errorf("expected code after the suspend point to run, got %v", ctx.LocalVars)
	}
	if st.State() != StateHalted {
		t.Errorf("expected Halted, got %s", st.State())
	}
}

func TestResume_WithoutSuspend(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Return()
	h := mustInsert(t, vm, "plain", b)

	_, err := vm.Resume(h, testContext())
	expectKind(t, err, ErrorInvalidState)

	if _, err := vm.ExecuteProcName(h, "start", testContext()); err != nil {
		t.Fatalf("ExecuteProc: %v", err)
	}
	_, err = vm.Resume(h, testContext())
	expectKind(t, err, ErrorInvalidState)
}

func TestExecuteProc_FewerArgsUnderflow(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Proc("sum", 2, 0)
	b.Enter().Int(0).Op(opcode.Fetch).Int(1).Op(opcode.Fetch).Op(opcode.Add).ReturnValue()
	b.Proc("reads_past_args", 1, 0)
	b.Enter().Int(1).Op(opcode.Fetch).ReturnValue()
	h := mustInsert(t, vm, "args", b)

	r, err := vm.ExecuteProcName(h, "sum", testContext(), Int(2), Int(40))
	if err != nil {
		t.Fatalf("ExecuteProc: %v", err)
	}
	if !r.Return.Equal(Int(42)) {
		t.Errorf("expected Int(42), got %s", r.Return)
	}

	_, err = vm.ExecuteProcName(h, "sum", testContext(), Int(2))
	expectKind(t, err, ErrorStackUnderflow)

	_, err = vm.ExecuteProcName(h, "sum", testContext())
	expectKind(t, err, ErrorStackUnderflow)

	_, err = vm.ExecuteProcName(h, "reads_past_args", testContext(), Int(1))
	expectKind(t, err, ErrorStackUnderflow)

	st := mustState(t, vm, h)
	if st.State() != StateFailed {
		t.Errorf("expected Failed, got %s", st.State())
	}
	if st.DataStack().Len() != 0 || st.ReturnStack().Len() != 0 {
		t.Errorf("expected unwound stacks, got %v / %v", st.DataStack().Values(), st.ReturnStack().Values())
	}

	// A failed instance can still be invoked.
	if _, err := vm.ExecuteProcName(h, "sum", testContext(), Int(1), Int(1)); err != nil {
		t.Errorf("ExecuteProc after failure: %v", err)
	}
}

func TestExecuteProc_InternalCall(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Call("double", func(b *asm.Builder) { b.Int(21) }).ReturnValue()
	b.Proc("double", 1, 0)
	b.Enter().Int(0).Op(opcode.Fetch).Int(2).Op(opcode.Mul).LeaveValue()
	h := mustInsert(t, vm, "call", b)

	r, err := vm.ExecuteProcName(h, "start", testContext())
	if err != nil {
		t.Fatalf("ExecuteProc: %v", err)
	}
	if !r.Return.Equal(Int(42)) {
		t.Errorf("expected Int(42), got %s", r.Return)
	}
}

func TestExecuteProc_ProgramGlobals(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Global(5)
	b.Global(9)
	b.Proc("bump", 0, 0)
	b.Enter()
	b.Int(1).Op(opcode.FetchGlobal).Int(1).Op(opcode.Add).Int(1).Op(opcode.StoreGlobal)
	b.Int(1).Op(opcode.FetchGlobal).ReturnValue()
	prog := mustLoad(t, vm, "globals", b)
	h := vm.Insert(prog)

	if err := vm.Initialize(h, testContext()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st := mustState(t, vm, h)
	if !st.Initialized() || st.GlobalBase() != 0 {
		t.Fatalf("expected initialized program with global base 0, got %v/%d", st.Initialized(), st.GlobalBase())
	}
	if !valuesEqual(st.DataStack().Values(), []Value{Int(5), Int(9)}) {
		t.Errorf("unexpected globals %v", st.DataStack().Values())
	}

	for want := int32(10); want < 13; want++ {
		r, err := vm.ExecuteProcName(h, "bump", testContext())
		if err != nil {
			t.Fatalf("ExecuteProc: %v", err)
		}
		if !r.Return.Equal(Int(want)) {
			t.Errorf("expected Int(%d), got %s", want, r.Return)
		}
	}

	// Initialization runs once, lazily for a fresh instance.
	h2 := vm.Insert(prog)
	r, err := vm.ExecuteProcName(h2, "bump", testContext())
	if err != nil {
		t.Fatalf("ExecuteProc: %v", err)
	}
	if !r.Return.Equal(Int(10)) {
		t.Errorf("expected a fresh instance to start from its own globals, got %s", r.Return)
	}
}

func TestExecuteProc_ScopeIsolation(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Global(0)
	b.Proc("start", 1, 0)
	b.Enter()
	b.Op(opcode.Suspend)
	b.Int(0).Op(opcode.Fetch).Int(10).Op(opcode.Mul).Int(0).Op(opcode.Store)
	b.Int(0).Op(opcode.Fetch).Int(0).Op(opcode.StoreGlobal)
	b.Op(opcode.Suspend)
	b.Int(0).Op(opcode.Fetch).ReturnValue()
	prog := mustLoad(t, vm, "isolation", b)
	a := vm.Insert(prog)
	c := vm.Insert(prog)
	ctx := testContext()

	mustSuspend := func(r InvocationResult, err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		if !r.Suspended() {
			t.Fatal("expected suspend")
		}
	}
	mustSuspend(vm.ExecuteProcName(a, "start", ctx, Int(1)))
	mustSuspend(vm.ExecuteProcName(c, "start", ctx, Int(2)))
	mustSuspend(vm.Resume(a, ctx))
	mustSuspend(vm.Resume(c, ctx))

	global := func(h Handle) Value {
		st := mustState(t, vm, h)
		v, _ := st.DataStack().Get(st.GlobalBase())
		return v
	}
	if !global(a).Equal(Int(10)) || !global(c).Equal(Int(20)) {
		t.Errorf("globals leaked between instances: %s %s", global(a), global(c))
	}

	ra, err := vm.Resume(a, ctx)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := vm.Resume(c, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ra.Return.Equal(Int(10)) || !rc.Return.Equal(Int(20)) {
		t.Errorf("locals leaked between instances: %s %s", ra.Return, rc.Return)
	}
}

func TestExecuteProc_NestedInvocationWhileSuspended(t *testing.T) {
	p := &recorder{}
	vm := newTestVm(p)
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Int(5).Int(6).Op(opcode.Suspend).Raw(opRecord).Op(opcode.Pop, opcode.Pop).Return()
	b.Proc("other", 1, 0)
	b.Enter().Int(0).Int(0).Op(opcode.Fetch).Op(opcode.SetMapVar).Return()
	h := mustInsert(t, vm, "nested", b)
	ctx := testContext()

	if _, err := vm.ExecuteProcName(h, "start", ctx); err != nil {
		t.Fatal(err)
	}
	st := mustState(t, vm, h)
	data, ret, pos := st.DataStack().Values(), st.ReturnStack().Values(), st.Pos()

	if _, err := vm.ExecuteProcName(h, "other", ctx, Int(77)); err != nil {
		t.Fatalf("nested ExecuteProc: %v", err)
	}
	if ctx.MapVars[0] != 77 {
		t.Errorf("expected nested invocation to run, got %v", ctx.MapVars)
	}
	if st.State() != StateSuspended {
		t.Errorf("expected Suspended after nested invocation, got %s", st.State())
	}

	if _, err := vm.Resume(h, ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	hit := p.last(t)
	if hit.pos != pos {
		t.Errorf("resumed at 0x%x, suspended at 0x%x", hit.pos, pos)
	}
	if !valuesEqual(hit.data, data) || !valuesEqual(hit.ret, ret) {
		t.Errorf("stacks changed across suspend: %v/%v vs %v/%v", hit.data, hit.ret, data, ret)
	}
}

func TestExecuteProc_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *asm.Builder)
		opts  []Option
		want  ErrorKind
	}{
		{
			name:  "bad opcode",
			build: func(b *asm.Builder) { b.Enter().Raw(0x7FFF) },
			want:  ErrorBadOpcode,
		},
		{
			name:  "jump outside code",
			build: func(b *asm.Builder) { b.Enter().Int(1 << 20).Op(opcode.Jmp) },
			want:  ErrorBadJumpTarget,
		},
		{
			name:  "negative jump",
			build: func(b *asm.Builder) { b.Enter().Int(-2).Op(opcode.Jmp) },
			want:  ErrorBadJumpTarget,
		},
		{
			name:  "frame base unset",
			build: func(b *asm.Builder) { b.Int(0).Op(opcode.Fetch) },
			want:  ErrorUndefinedBase,
		},
		{
			name:  "pop_to_base without base",
			build: func(b *asm.Builder) { b.Op(opcode.PopToBase) },
			want:  ErrorUndefinedBase,
		},
		{
			name:  "global out of range",
			build: func(b *asm.Builder) { b.Enter().Int(100).Op(opcode.FetchGlobal) },
			want:  ErrorIndexOutOfRange,
		},
		{
			name:  "type mismatch",
			build: func(b *asm.Builder) { b.Enter().Str("a").Int(1).Op(opcode.Sub) },
			want:  ErrorTypeMismatch,
		},
		{
			name:  "division by zero",
			build: func(b *asm.Builder) { b.Enter().Int(1).Int(0).Op(opcode.Div) },
			want:  ErrorBadValue,
		},
		{
			name:  "return stack underflow",
			build: func(b *asm.Builder) { b.Enter().Op(opcode.PopAddress, opcode.PopAddress, opcode.PopAddress, opcode.PopAddress) },
			want:  ErrorStackUnderflow,
		},
		{
			name: "overflow",
			build: func(b *asm.Builder) {
				b.Enter()
				for range 20 {
					b.Int(1)
				}
			},
			opts: []Option{WithMaxStackLen(16)},
			want: ErrorStackOverflow,
		},
		{
			name:  "running off the end",
			build: func(b *asm.Builder) { b.Enter() },
			want:  ErrorUnexpectedEndOfProgram,
		},
		{
			name:  "call of unknown procedure",
			build: func(b *asm.Builder) { b.Enter().Int(99).Op(opcode.Call) },
			want:  ErrorUnresolvedProcedure,
		},
		{
			name:  "lookup of unknown procedure",
			build: func(b *asm.Builder) { b.Enter().Ident("nowhere").Op(opcode.LookupStringProc) },
			want:  ErrorUnresolvedProcedure,
		},
		{
			name:  "argument count mismatch",
			build: func(b *asm.Builder) { b.Enter().Int(0).Int(3).Op(opcode.CheckArgCount) },
			want:  ErrorBadValue,
		},
		{
			name: "comparison of unset externals",
			build: func(b *asm.Builder) {
				b.Enter().Ident("x").Op(opcode.ExportVar)
				b.Ident("x").Op(opcode.FetchExternal).Ident("x").Op(opcode.FetchExternal).Op(opcode.NotEqual)
			},
			want: ErrorTypeMismatch,
		},
		{
			name:  "string offset outside table",
			build: func(b *asm.Builder) { b.Enter().Raw(opcode.ConstString, 1000).Op(opcode.DisplayMsg) },
			want:  ErrorBadValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVm(nil, tt.opts...)
			b := asm.New()
			b.Global(1)
			b.Proc("start", 0, 0)
			tt.build(b)
			h := mustInsert(t, vm, "errors", b)

			_, err := vm.ExecuteProcName(h, "start", testContext())
			expectKind(t, err, tt.want)

			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if e.Program != "errors" || e.Offset < 0 {
				t.Errorf("expected location on error, got %q at %d", e.Program, e.Offset)
			}
			st := mustState(t, vm, h)
			if st.State() != StateFailed || st.CanResume() {
				t.Errorf("expected Failed without pending invocations, got %s", st.State())
			}
			if !valuesEqual(st.DataStack().Values(), []Value{Int(1)}) {
				t.Errorf("expected only globals to survive, got %v", st.DataStack().Values())
			}
		})
	}
}

func TestExecuteProc_BadOpcodeLocation(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Raw(0x7FFF)
	code := b.MustBuild()
	p, err := vm.Load("where", code)
	if err != nil {
		t.Fatal(err)
	}
	h := vm.Insert(p)
	_, err = vm.ExecuteProc(h, 0, testContext())

	var e *Error
	if !errors.As(err, &e) || e.Kind != ErrorBadOpcode {
		t.Fatalf("expected BadOpcode, got %v", err)
	}
	proc, _ := p.Proc(0)
	if want := proc.BodyPos + 8; e.Offset != want {
		t.Errorf("expected offset 0x%x, got 0x%x", want, e.Offset)
	}
	if e.Opcode != 0x7FFF {
		t.Errorf("expected opcode 0x7fff, got %s", e.Opcode)
	}
}

func TestInstructionSet_Dispatch(t *testing.T) {
	s := NewInstructionSet()
	for _, op := range opcode.All() {
		if _, ok := s.Lookup(op); !ok {
			t.Errorf("no handler for %s", op)
		}
	}
	if s.Len() != len(opcode.All()) {
		t.Errorf("expected %d handlers, got %d", len(opcode.All()), s.Len())
	}

	vm := newTestVm(nil, WithInstructions(func(s *InstructionSet) {
		s.Unregister(opcode.Mul)
	}))
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Int(2).Int(3).Op(opcode.Mul).ReturnValue()
	h := mustInsert(t, vm, "dispatch", b)
	_, err := vm.ExecuteProcName(h, "start", testContext())
	expectKind(t, err, ErrorBadOpcode)
}

func TestExecuteProc_ReentryIsInvalid(t *testing.T) {
	const opReenter opcode.Opcode = 0x80FE
	vm := newTestVm(nil, WithInstructions(func(s *InstructionSet) {
		s.Register(opReenter, func(c *Call) error {
			_, err := c.state.ExecuteProc(0, c.Context())
			return err
		})
	}))
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Raw(opReenter).Return()
	h := mustInsert(t, vm, "reenter", b)

	_, err := vm.ExecuteProcName(h, "start", testContext())
	expectKind(t, err, ErrorInvalidState)
}

func TestInitialize_SuspendIsInvalid(t *testing.T) {
	vm := newTestVm(nil, WithInstructions(func(s *InstructionSet) {
		s.Register(opcode.SetGlobal, func(c *Call) error {
			c.Suspend(SuspendScript)
			return nil
		})
	}))
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Return()
	h := mustInsert(t, vm, "init", b)

	err := vm.Initialize(h, testContext())
	expectKind(t, err, ErrorInvalidState)
	st := mustState(t, vm, h)
	if st.Initialized() || st.State() != StateFailed {
		t.Errorf("expected failed initialization, got %v/%s", st.Initialized(), st.State())
	}
}

func TestExecuteProc_AfterExitAtEndOfCode(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *asm.Builder)
	}{
		{"exit_prog", func(b *asm.Builder) { b.Enter().Op(opcode.ExitProg) }},
		{"bad opcode", func(b *asm.Builder) { b.Enter().Raw(0x7FFF) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVm(nil)
			b := asm.New()
			b.Proc("ok", 0, 0)
			b.Enter().Int(0).Int(7).Op(opcode.SetLocalVar).Return()
			b.Proc("value", 0, 0)
			b.Enter().Int(5).ReturnValue()
			b.Proc("last", 0, 0)
			tt.build(b)
			h := mustInsert(t, vm, "last", b)
			ctx := testContext()

			_, _ = vm.ExecuteProcName(h, "last", ctx)
			if _, err := vm.ExecuteProcName(h, "ok", ctx); err != nil {
				t.Fatalf("ExecuteProc after %s: %v", tt.name, err)
			}
			if ctx.LocalVars[0] != 7 {
				t.Errorf("LVAR0 = %d, want 7", ctx.LocalVars[0])
			}
			_, _ = vm.ExecuteProcName(h, "last", ctx)
			r, err := vm.ExecuteProcName(h, "value", ctx)
			if err != nil {
				t.Fatalf("ExecuteProc with return value: %v", err)
			}
			if !r.Return.Equal(Int(5)) {
				t.Errorf("return = %s, want 5", r.Return)
			}
			if st := mustState(t, vm, h); st.State() != StateHalted {
				t.Errorf("expected Halted, got %s", st.State())
			}
		})
	}
}

func TestExecuteProc_ScriptOverrides(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	b.Proc("use_p_proc", 0, 0)
	b.Enter().Op(opcode.ScriptOverrides).Return()
	b.Proc("look_at_p_proc", 0, 0)
	b.Enter().Return()
	h := mustInsert(t, vm, "overrides", b)

	r, ok, err := vm.ExecutePredefinedProc(h, ProcUse, testContext())
	if err != nil || !ok {
		t.Fatalf("ExecutePredefinedProc: %v %v", ok, err)
	}
	if !r.ScriptOverrides {
		t.Error("expected script overrides")
	}
	r, _, _ = vm.ExecutePredefinedProc(h, ProcLookAt, testContext())
	if r.ScriptOverrides {
		t.Error("overrides must reset per invocation")
	}
}

func TestExecuteProc_ControlFlow(t *testing.T) {
	vm := newTestVm(nil)
	b := asm.New()
	// Sum 1..n with a while loop, n in local 0, accumulator in local 1.
	b.Proc("sum_to", 1, 0)
	b.Enter()
	b.Int(0)
	b.Label("loop")
	b.Addr("done")
	b.Int(0).Op(opcode.Fetch).Int(0).Op(opcode.Greater)
	b.Op(opcode.If)
	b.Int(1).Op(opcode.Fetch).Int(0).Op(opcode.Fetch).Op(opcode.Add).Int(1).Op(opcode.Store)
	b.Int(0).Op(opcode.Fetch).Int(1).Op(opcode.Sub).Int(0).Op(opcode.Store)
	b.Addr("loop").Op(opcode.Jmp)
	b.Label("done")
	b.Int(1).Op(opcode.Fetch).ReturnValue()
	h := mustInsert(t, vm, "loop", b)

	r, err := vm.ExecuteProcName(h, "sum_to", testContext(), Int(10))
	if err != nil {
		t.Fatalf("ExecuteProc: %v", err)
	}
	if !r.Return.Equal(Int(55)) {
		t.Errorf("expected Int(55), got %s", r.Return)
	}
}
