package vm

import (
	"fmt"
	"math"

	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// prologueMarker is the bookkeeping value the call prologue leaves on the
// return stack above the return address. The epilogue discards it.
const prologueMarker = 20

func registerCore(s *InstructionSet) {
	s.Register(opcode.ConstInt, constInt)
	s.Register(opcode.ConstFloat, constFloat)
	s.Register(opcode.ConstString, constString)

	s.Register(opcode.Noop, noop)
	s.Register(opcode.CriticalStart, criticalStart)
	s.Register(opcode.CriticalDone, criticalDone)
	s.Register(opcode.Jmp, jmp)
	s.Register(opcode.Call, call)
	s.Register(opcode.AToD, aToD)
	s.Register(opcode.DToA, dToA)
	s.Register(opcode.ExitProg, exitProg)
	s.Register(opcode.StopProg, exitProg)
	s.Register(opcode.FetchGlobal, fetchGlobal)
	s.Register(opcode.StoreGlobal, storeGlobal)
	s.Register(opcode.FetchExternal, fetchExternal)
	s.Register(opcode.StoreExternal, storeExternal)
	s.Register(opcode.ExportVar, exportVar)
	s.Register(opcode.Swap, swap)
	s.Register(opcode.Swapa, swapa)
	s.Register(opcode.Pop, pop)
	s.Register(opcode.Dup, dup)
	s.Register(opcode.PopReturn, popReturn)
	s.Register(opcode.PopExit, popExit)
	s.Register(opcode.PopAddress, popAddress)
	s.Register(opcode.PopFlags, popFlags)
	s.Register(opcode.PopFlagsReturn, popFlagsReturn)
	s.Register(opcode.PopFlagsExit, popFlagsExit)
	s.Register(opcode.PopFlagsReturnValExit, popFlagsReturnValExit)
	s.Register(opcode.CheckArgCount, checkArgCount)
	s.Register(opcode.LookupStringProc, lookupStringProc)
	s.Register(opcode.PopBase, popBase)
	s.Register(opcode.PopToBase, popToBase)
	s.Register(opcode.PushBase, pushBase)
	s.Register(opcode.SetGlobal, setGlobal)
	s.Register(opcode.FetchProcAddress, fetchProcAddress)
	s.Register(opcode.Dump, dump)
	s.Register(opcode.If, ifJump)
	s.Register(opcode.While, while)
	s.Register(opcode.Store, store)
	s.Register(opcode.Fetch, fetch)
	s.Register(opcode.Suspend, suspend)

	s.Register(opcode.Equal, compare(func(c int) bool { return c == 0 }, false))
	s.Register(opcode.NotEqual, compare(func(c int) bool { return c != 0 }, true))
	s.Register(opcode.LessEqual, compare(func(c int) bool { return c <= 0 }, false))
	s.Register(opcode.GreaterEqual, compare(func(c int) bool { return c >= 0 }, false))
	s.Register(opcode.Less, compare(func(c int) bool { return c < 0 }, false))
	s.Register(opcode.Greater, compare(func(c int) bool { return c > 0 }, false))

	s.Register(opcode.Add, binaryOp(Add))
	s.Register(opcode.Sub, binaryOp(Sub))
	s.Register(opcode.Mul, binaryOp(Mul))
	s.Register(opcode.Div, binaryOp(Div))
	s.Register(opcode.Mod, binaryOp(Mod))
	s.Register(opcode.BwAnd, binaryOp(BwAnd))
	s.Register(opcode.BwOr, binaryOp(BwOr))
	s.Register(opcode.BwXor, binaryOp(BwXor))
	s.Register(opcode.And, binaryOp(func(l, r Value) (Value, error) { return Bool(l.Test() && r.Test()), nil }))
	s.Register(opcode.Or, binaryOp(func(l, r Value) (Value, error) { return Bool(l.Test() || r.Test()), nil }))

	s.Register(opcode.BwNot, unaryOp(BwNot))
	s.Register(opcode.Negate, unaryOp(Negate))
	s.Register(opcode.Floor, unaryOp(Floor))
	s.Register(opcode.Not, unaryOp(func(v Value) (Value, error) { return Bool(!v.Test()), nil }))
}

func binaryOp(f func(l, r Value) (Value, error)) Handler {
	return func(c *Call) error {
		r, err := c.Pop()
		if err != nil {
			return err
		}
		l, err := c.Pop()
		if err != nil {
			return err
		}
		v, err := f(l, r)
		if err != nil {
			return err
		}
		c.trace("l", l, "r", r, "result", v)
		return c.Push(v)
	}
}

func unaryOp(f func(v Value) (Value, error)) Handler {
	return func(c *Call) error {
		v, err := c.Pop()
		if err != nil {
			return err
		}
		r, err := f(v)
		if err != nil {
			return err
		}
		c.trace("arg", v, "result", r)
		return c.Push(r)
	}
}

// compare builds a comparison handler. Incomparable operands yield
// incomparable, which is false for every test except not_equal. None
// operands are a type mismatch.
func compare(test func(c int) bool, incomparable bool) Handler {
	return binaryOp(func(l, r Value) (Value, error) {
		if l.IsNone() || r.IsNone() {
			return None(), errTypeMismatch("compare", l, r)
		}
		c, ok := Compare(l, r)
		if !ok {
			return Bool(incomparable), nil
		}
		return Bool(test(c)), nil
	})
}

func constInt(c *Call) error {
	v, err := c.NextInt32()
	if err != nil {
		return err
	}
	c.trace("value", v)
	return c.Push(Int(v))
}

func constFloat(c *Call) error {
	v, err := c.NextFloat32()
	if err != nil {
		return err
	}
	c.trace("value", v)
	return c.Push(Float(v))
}

func constString(c *Call) error {
	v, err := c.NextInt32()
	if err != nil {
		return err
	}
	if v < 0 {
		return NewError(ErrorBadValue, "negative string offset %d", v)
	}
	c.trace("offset", v)
	return c.Push(StringRef(v))
}

func noop(c *Call) error {
	c.trace()
	return nil
}

func criticalStart(c *Call) error {
	c.state.critical = true
	c.trace()
	return nil
}

func criticalDone(c *Call) error {
	c.state.critical = false
	c.trace()
	return nil
}

func jmp(c *Call) error {
	pos, err := c.PopInt()
	if err != nil {
		return err
	}
	c.trace("target", pos)
	return c.Jump(pos)
}

func call(c *Call) error {
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	proc, ok := c.Program().Proc(ProcID(id))
	if !ok {
		return NewError(ErrorUnresolvedProcedure, "no procedure with id %d", id)
	}
	if proc.Flags.Has(ProcImport) {
		return NewError(ErrorUnresolvedProcedure, "procedure %s is imported", proc.Name)
	}
	c.trace("proc", proc.Name)
	return c.Jump(int32(proc.BodyPos))
}

func aToD(c *Call) error {
	v, err := c.Return().Pop()
	if err != nil {
		return err
	}
	c.trace("value", v)
	return c.Push(v)
}

func dToA(c *Call) error {
	v, err := c.PopValue()
	if err != nil {
		return err
	}
	c.trace("value", v)
	return c.Return().Push(v)
}

func exitProg(c *Call) error {
	c.trace()
	c.Halt()
	return nil
}

func globalIndex(c *Call, id int32) (int, error) {
	base := c.state.globalBase
	if base < 0 {
		return 0, NewError(ErrorUndefinedBase, "global base is not set")
	}
	i := base + int(id)
	if id < 0 || i >= c.Data().Len() {
		return 0, NewError(ErrorIndexOutOfRange, "global %d out of range", id)
	}
	return i, nil
}

func fetchGlobal(c *Call) error {
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	i, err := globalIndex(c, id)
	if err != nil {
		return err
	}
	v, _ := c.Data().Get(i)
	c.trace("id", id, "value", v)
	return c.Push(v)
}

func storeGlobal(c *Call) error {
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	v, err := c.PopValue()
	if err != nil {
		return err
	}
	i, err := globalIndex(c, id)
	if err != nil {
		return err
	}
	c.Data().Set(i, v)
	c.trace("id", id, "value", v)
	return nil
}

func localIndex(c *Call, id int32) (int, error) {
	base := c.state.base
	if base < 0 {
		return 0, NewError(ErrorUndefinedBase, "frame base is not set")
	}
	if id < 0 {
		return 0, NewError(ErrorIndexOutOfRange, "local %d out of range", id)
	}
	i := base + int(id)
	if i >= c.Data().Len() {
		return 0, NewError(ErrorStackUnderflow, "local %d is above the stack top", id)
	}
	return i, nil
}

func fetch(c *Call) error {
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	i, err := localIndex(c, id)
	if err != nil {
		return err
	}
	v, _ := c.Data().Get(i)
	c.trace("id", id, "value", v)
	return c.Push(v)
}

func store(c *Call) error {
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	v, err := c.PopValue()
	if err != nil {
		return err
	}
	i, err := localIndex(c, id)
	if err != nil {
		return err
	}
	c.Data().Set(i, v)
	c.trace("id", id, "value", v)
	return nil
}

func externalVars(c *Call) (ExternalVars, error) {
	if c.ctx.ExternalVars == nil {
		return nil, NewError(ErrorInvalidState, "context has no external variables")
	}
	return c.ctx.ExternalVars, nil
}

func exportVar(c *Call) error {
	name, err := c.PopName()
	if err != nil {
		return err
	}
	vars, err := externalVars(c)
	if err != nil {
		return err
	}
	if _, ok := vars[name]; ok {
		return NewError(ErrorBadValue, "external variable %s already exists", name)
	}
	vars[name] = None()
	c.trace("name", name)
	return nil
}

func fetchExternal(c *Call) error {
	name, err := c.PopName()
	if err != nil {
		return err
	}
	vars, err := externalVars(c)
	if err != nil {
		return err
	}
	v, ok := vars[name]
	if !ok {
		return NewError(ErrorIndexOutOfRange, "external variable %s does not exist", name)
	}
	c.trace("name", name, "value", v)
	return c.Push(v)
}

func storeExternal(c *Call) error {
	name, err := c.PopName()
	if err != nil {
		return err
	}
	v, err := c.Pop()
	if err != nil {
		return err
	}
	vars, err := externalVars(c)
	if err != nil {
		return err
	}
	if _, ok := vars[name]; !ok {
		return NewError(ErrorIndexOutOfRange, "external variable %s does not exist", name)
	}
	vars[name] = v
	c.trace("name", name, "value", v)
	return nil
}

func swap(c *Call) error {
	a, err := c.PopValue()
	if err != nil {
		return err
	}
	b, err := c.PopValue()
	if err != nil {
		return err
	}
	if err := c.Push(a); err != nil {
		return err
	}
	return c.Push(b)
}

func swapa(c *Call) error {
	d, err := c.PopValue()
	if err != nil {
		return err
	}
	r, err := c.Return().Pop()
	if err != nil {
		return err
	}
	if err := c.Push(r); err != nil {
		return err
	}
	c.trace("data", r, "return", d)
	return c.Return().Push(d)
}

func pop(c *Call) error {
	v, err := c.PopValue()
	if err != nil {
		return err
	}
	c.trace("value", v)
	return nil
}

func dup(c *Call) error {
	v, ok := c.Data().Top()
	if !ok {
		return NewError(ErrorStackUnderflow, "data stack underflow")
	}
	return c.Push(v)
}

func popReturnPos(c *Call) (int32, error) {
	v, err := c.Return().Pop()
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func popReturn(c *Call) error {
	pos, err := popReturnPos(c)
	if err != nil {
		return err
	}
	c.trace("target", pos)
	return c.Jump(pos)
}

func popExit(c *Call) error {
	pos, err := popReturnPos(c)
	if err != nil {
		return err
	}
	c.trace("target", pos)
	c.state.exit(pos)
	return nil
}

func popAddress(c *Call) error {
	v, err := c.Return().Pop()
	if err != nil {
		return err
	}
	c.trace("value", v)
	return nil
}

func popFlags(c *Call) error {
	for range 3 {
		if _, err := c.PopValue(); err != nil {
			return err
		}
	}
	c.trace()
	return nil
}

func popFlagsReturn(c *Call) error {
	v, err := c.Return().Pop()
	if err != nil {
		return err
	}
	if _, err := v.AsInt(); err != nil {
		return err
	}
	c.trace("flags", v)
	return nil
}

func popFlagsExit(c *Call) error {
	pos, err := c.PopInt()
	if err != nil {
		return err
	}
	c.trace("target", pos)
	c.state.exit(pos)
	return nil
}

func popFlagsReturnValExit(c *Call) error {
	v, err := c.Pop()
	if err != nil {
		return err
	}
	if err := popFlagsReturn(c); err != nil {
		return err
	}
	pos, err := popReturnPos(c)
	if err != nil {
		return err
	}
	if err := popFlags(c); err != nil {
		return err
	}
	c.state.returnValue = v
	c.trace("value", v)
	c.state.exit(pos)
	return nil
}

func checkArgCount(c *Call) error {
	argc, err := c.PopInt()
	if err != nil {
		return err
	}
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	proc, ok := c.Program().Proc(ProcID(id))
	if !ok {
		return NewError(ErrorUnresolvedProcedure, "no procedure with id %d", id)
	}
	if proc.ArgCount != int(argc) {
		return NewError(ErrorBadValue, "procedure %s takes %d arguments, got %d", proc.Name, proc.ArgCount, argc)
	}
	c.trace("proc", proc.Name, "args", argc)
	return nil
}

func lookupStringProc(c *Call) error {
	name, err := c.PopName()
	if err != nil {
		return err
	}
	id, ok := c.Program().ProcID(name)
	if !ok {
		return NewError(ErrorUnresolvedProcedure, "no procedure named %s", name)
	}
	c.trace("name", name, "id", id)
	return c.Push(Int(int32(id)))
}

func fetchProcAddress(c *Call) error {
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	proc, ok := c.Program().Proc(ProcID(id))
	if !ok {
		return NewError(ErrorUnresolvedProcedure, "no procedure with id %d", id)
	}
	if proc.BodyPos > math.MaxInt32 {
		return NewError(ErrorBadValue, "procedure %s body offset overflows", proc.Name)
	}
	c.trace("proc", proc.Name, "body", proc.BodyPos)
	return c.Push(Int(int32(proc.BodyPos)))
}

func popBase(c *Call) error {
	v, err := c.Return().Pop()
	if err != nil {
		return err
	}
	base, err := v.AsInt()
	if err != nil {
		return err
	}
	c.state.base = int(base)
	c.trace("base", base)
	return nil
}

func popToBase(c *Call) error {
	base := c.state.base
	if base < 0 {
		return NewError(ErrorUndefinedBase, "frame base is not set")
	}
	c.trace("base", base)
	return c.Data().Truncate(base)
}

func pushBase(c *Call) error {
	argc, err := c.PopInt()
	if err != nil {
		return err
	}
	newBase := c.Data().Len() - int(argc)
	if argc < 0 || newBase < c.state.floor() {
		return NewError(ErrorStackUnderflow, "procedure expects %d arguments, %d staged",
			argc, c.Data().Len()-c.state.floor())
	}
	if err := c.Return().Push(Int(int32(c.state.base))); err != nil {
		return err
	}
	c.state.base = newBase
	c.trace("args", argc, "base", newBase)
	return nil
}

func setGlobal(c *Call) error {
	c.state.globalBase = c.Data().Len()
	c.trace("base", c.state.globalBase)
	return nil
}

func dump(c *Call) error {
	n, err := c.PopInt()
	if err != nil {
		return err
	}
	if n < 0 {
		return NewError(ErrorBadValue, "dump: negative count %d", n)
	}
	vals := make([]string, 0, n)
	for range n {
		v, err := c.Pop()
		if err != nil {
			return err
		}
		vals = append(vals, v.String())
	}
	c.Log().Debug("dump", "values", fmt.Sprint(vals))
	return nil
}

func ifJump(c *Call) error {
	cond, err := c.Pop()
	if err != nil {
		return err
	}
	target, err := c.PopInt()
	if err != nil {
		return err
	}
	c.trace("cond", cond, "target", target)
	if !cond.Test() {
		return c.Jump(target)
	}
	return nil
}

func while(c *Call) error {
	done, err := c.Pop()
	if err != nil {
		return err
	}
	if done.Test() {
		c.trace("cond", done)
		return nil
	}
	target, err := c.PopInt()
	if err != nil {
		return err
	}
	c.trace("cond", done, "target", target)
	return c.Jump(target)
}

func suspend(c *Call) error {
	c.trace()
	c.Suspend(SuspendScript)
	return nil
}
