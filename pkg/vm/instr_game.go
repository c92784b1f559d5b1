package vm

import (
	"time"

	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

const (
	// GenericMessages is the program id under which the host serves the
	// engine's shared message file.
	GenericMessages int32 = -1
	// doneMessageID is the "[Done]" option text in the generic messages.
	doneMessageID = 650
	// TickDuration is the length of one game tick.
	TickDuration = 100 * time.Millisecond
	// missingMessage is pushed when a message id cannot be resolved.
	missingMessage = "Error"
	defaultPlayerIQ = 5
)

func registerGame(s *InstructionSet) {
	s.Register(opcode.LocalVar, persistentVar(scopeLocal))
	s.Register(opcode.SetLocalVar, setPersistentVar(scopeLocal))
	s.Register(opcode.MapVar, persistentVar(scopeMap))
	s.Register(opcode.SetMapVar, setPersistentVar(scopeMap))
	s.Register(opcode.GlobalVar, persistentVar(scopeGlobal))
	s.Register(opcode.SetGlobalVar, setPersistentVar(scopeGlobal))

	s.Register(opcode.ScriptOverrides, scriptOverrides)
	s.Register(opcode.SelfObj, pushObject(func(ctx *Context) ObjectHandle { return ctx.SelfObj }))
	s.Register(opcode.SourceObj, pushObject(func(ctx *Context) ObjectHandle { return ctx.SourceObj }))
	s.Register(opcode.TargetObj, pushObject(func(ctx *Context) ObjectHandle { return ctx.TargetObj }))
	s.Register(opcode.DudeObj, dudeObj)
	s.Register(opcode.ObjName, objName)
	s.Register(opcode.ObjPid, objPid)
	s.Register(opcode.CreateObjectSid, createObjectSid)
	s.Register(opcode.DestroyObject, destroyObject)

	s.Register(opcode.Random, random)
	s.Register(opcode.GiveExpPoints, giveExpPoints)
	s.Register(opcode.GameTicks, gameTicks)
	s.Register(opcode.GameTimeHour, gameTimeHour)
	s.Register(opcode.Metarule, metarule)
	s.Register(opcode.FixedParam, pushInt(func(ctx *Context) int32 { return ctx.FixedParam }))
	s.Register(opcode.CurMapIndex, pushInt(func(ctx *Context) int32 { return ctx.MapID }))
	s.Register(opcode.ActionBeingUsed, actionBeingUsed)

	s.Register(opcode.DisplayMsg, displayMsg)
	s.Register(opcode.FloatMsg, floatMsg)
	s.Register(opcode.DebugMsg, debugMsg)
	s.Register(opcode.MessageStr, messageStr)

	s.Register(opcode.AddTimerEvent, addTimerEvent)
	s.Register(opcode.RmTimerEvent, rmTimerEvent)

	s.Register(opcode.StartGdialog, startGdialog)
	s.Register(opcode.EndDialogue, endDialogue)
	s.Register(opcode.GsayStart, gsayStart)
	s.Register(opcode.GsayEnd, gsayEnd)
	s.Register(opcode.GsayReply, gsayReply)
	s.Register(opcode.GsayOption, gsayOption)
	s.Register(opcode.GsayMessage, gsayMessage)
	s.Register(opcode.GiqOption, giqOption)
}

type varScope int

const (
	scopeLocal varScope = iota
	scopeMap
	scopeGlobal
)

func (s varScope) String() string {
	switch s {
	case scopeLocal:
		return "LVAR"
	case scopeMap:
		return "MVAR"
	default:
		return "GVAR"
	}
}

func (s varScope) vars(ctx *Context) []int32 {
	switch s {
	case scopeLocal:
		return ctx.LocalVars
	case scopeMap:
		return ctx.MapVars
	default:
		return ctx.GlobalVars
	}
}

func persistentVar(scope varScope) Handler {
	return func(c *Call) error {
		id, err := c.PopInt()
		if err != nil {
			return err
		}
		vars := scope.vars(c.ctx)
		var v int32
		if id >= 0 && int(id) < len(vars) {
			v = vars[id]
		} else if c.state.cfg.strictVarBounds {
			return NewError(ErrorIndexOutOfRange, "%s %d out of range (%d defined)", scope, id, len(vars))
		} else {
			c.Log().Warn("read of undefined variable", "scope", scope.String(), "id", id)
		}
		c.trace("id", id, "value", v)
		return c.Push(Int(v))
	}
}

func setPersistentVar(scope varScope) Handler {
	return func(c *Call) error {
		v, err := c.PopInt()
		if err != nil {
			return err
		}
		id, err := c.PopInt()
		if err != nil {
			return err
		}
		vars := scope.vars(c.ctx)
		if id >= 0 && int(id) < len(vars) {
			vars[id] = v
		} else if c.state.cfg.strictVarBounds {
			return NewError(ErrorIndexOutOfRange, "%s %d out of range (%d defined)", scope, id, len(vars))
		} else {
			c.Log().Warn("write of undefined variable", "scope", scope.String(), "id", id, "value", v)
		}
		c.trace("id", id, "value", v)
		return nil
	}
}

func pushObject(get func(ctx *Context) ObjectHandle) Handler {
	return func(c *Call) error {
		obj := get(c.ctx)
		c.trace("obj", obj)
		return c.Push(Object(obj))
	}
}

func pushInt(get func(ctx *Context) int32) Handler {
	return func(c *Call) error {
		v := get(c.ctx)
		c.trace("value", v)
		return c.Push(Int(v))
	}
}

func missing(c *Call, service string) {
	c.Log().Warn("service not available", "service", service)
}

func scriptOverrides(c *Call) error {
	c.trace()
	c.SetScriptOverrides()
	return nil
}

func dudeObj(c *Call) error {
	obj := NullObject
	if c.ctx.World != nil {
		obj = c.ctx.World.DudeObj()
	} else {
		missing(c, "world")
	}
	c.trace("obj", obj)
	return c.Push(Object(obj))
}

func popNonNullObject(c *Call) (ObjectHandle, error) {
	obj, err := c.PopObject()
	if err != nil {
		return 0, err
	}
	if obj == NullObject {
		return 0, NewError(ErrorBadValue, "object is null")
	}
	return obj, nil
}

func objName(c *Call) error {
	obj, err := popNonNullObject(c)
	if err != nil {
		return err
	}
	var name string
	if c.ctx.World != nil {
		name, _ = c.ctx.World.ObjectName(obj)
	} else {
		missing(c, "world")
	}
	c.trace("obj", obj, "name", name)
	return c.Push(String(name))
}

func objPid(c *Call) error {
	obj, err := c.PopObject()
	if err != nil {
		return err
	}
	pid := int32(-1)
	switch {
	case obj == NullObject:
		c.Log().Error("object is null")
	case c.ctx.World == nil:
		missing(c, "world")
	default:
		if p, ok := c.ctx.World.ObjectPID(obj); ok {
			pid = p
		}
	}
	c.trace("obj", obj, "pid", pid)
	return c.Push(Int(pid))
}

func createObjectSid(c *Call) error {
	sid, err := c.PopInt()
	if err != nil {
		return err
	}
	elevation, err := c.PopInt()
	if err != nil {
		return err
	}
	tile, err := c.PopInt()
	if err != nil {
		return err
	}
	pid, err := c.PopInt()
	if err != nil {
		return err
	}
	tile = max(tile, 0)

	obj := NullObject
	if c.ctx.World != nil {
		obj, err = c.ctx.World.CreateObject(pid, tile, elevation)
		if err != nil {
			return NewError(ErrorBadValue, "create object %d: %v", pid, err)
		}
		if sid >= 0 {
			if c.ctx.Scripts == nil {
				missing(c, "scripts")
			} else if err := c.ctx.Scripts.AttachScript(obj, sid); err != nil {
				return NewError(ErrorBadValue, "attach script %d: %v", sid, err)
			}
		}
	} else {
		missing(c, "world")
	}
	c.trace("pid", pid, "tile", tile, "elevation", elevation, "sid", sid, "obj", obj)
	return c.Push(Object(obj))
}

func destroyObject(c *Call) error {
	obj, err := c.PopObject()
	if err != nil {
		return err
	}
	c.trace("obj", obj)
	if obj == NullObject {
		return nil
	}
	if c.ctx.World == nil {
		missing(c, "world")
		return nil
	}
	if err := c.ctx.World.DestroyObject(obj); err != nil {
		return NewError(ErrorBadValue, "destroy object %d: %v", obj, err)
	}
	return nil
}

func random(c *Call) error {
	to, err := c.PopInt()
	if err != nil {
		return err
	}
	from, err := c.PopInt()
	if err != nil {
		return err
	}
	r := from
	if c.ctx.Rules != nil {
		r = c.ctx.Rules.Random(from, to)
	} else {
		missing(c, "rules")
	}
	c.trace("from", from, "to", to, "result", r)
	return c.Push(Int(r))
}

func giveExpPoints(c *Call) error {
	points, err := c.PopInt()
	if err != nil {
		return err
	}
	if c.ctx.Rules != nil {
		c.ctx.Rules.GiveExpPoints(points)
	} else {
		missing(c, "rules")
	}
	c.trace("points", points)
	return nil
}

func gameTicks(c *Call) error {
	secs, err := c.PopInt()
	if err != nil {
		return err
	}
	r, err := checkedInt("game_ticks", int64(max(secs, 0))*10)
	if err != nil {
		return err
	}
	c.trace("seconds", secs, "result", r)
	return c.Push(r)
}

func gameTimeHour(c *Call) error {
	var r int32
	if c.ctx.Rules != nil {
		r = c.ctx.Rules.GameTimeHour()
	} else {
		missing(c, "rules")
	}
	c.trace("result", r)
	return c.Push(Int(r))
}

func metarule(c *Call) error {
	arg, err := c.Pop()
	if err != nil {
		return err
	}
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	r := Int(0)
	if c.ctx.Rules != nil {
		v, ok := c.ctx.Rules.Metarule(id, arg)
		if ok {
			r = v
		} else {
			c.Log().Error("unknown metarule", "id", id)
		}
	} else {
		missing(c, "rules")
	}
	c.trace("id", id, "arg", arg, "result", r)
	return c.Push(r)
}

func actionBeingUsed(c *Call) error {
	skill := c.ctx.Skill
	if skill < 0 {
		c.Log().Error("skill is not set")
		skill = -1
	}
	c.trace("skill", skill)
	return c.Push(Int(skill))
}

func displayMsg(c *Call) error {
	msg, err := c.PopString()
	if err != nil {
		return err
	}
	if c.ctx.UI != nil {
		c.ctx.UI.DisplayMessage(msg)
	} else {
		missing(c, "ui")
	}
	c.trace("msg", msg)
	return nil
}

func floatMsg(c *Call) error {
	style, err := c.PopInt()
	if err != nil {
		return err
	}
	v, err := c.Pop()
	if err != nil {
		return err
	}
	msg, err := v.CoerceString()
	if err != nil {
		return err
	}
	obj, err := c.PopObject()
	if err != nil {
		return err
	}
	if c.ctx.UI != nil {
		c.ctx.UI.FloatMessage(obj, msg, style)
	} else {
		missing(c, "ui")
	}
	c.trace("obj", obj, "msg", msg, "style", style)
	return nil
}

func debugMsg(c *Call) error {
	msg, err := c.PopString()
	if err != nil {
		return err
	}
	c.state.log.Info(msg, "source", "script", "program", c.Program().Name())
	return nil
}

func popProgramID(c *Call) (int32, error) {
	id, err := c.PopInt()
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, NewError(ErrorBadValue, "invalid program id %d", id)
	}
	return id, nil
}

func message(c *Call, programID, id int32) string {
	if c.ctx.Messages == nil {
		missing(c, "messages")
		return missingMessage
	}
	msg, ok := c.ctx.Messages.Message(programID, id)
	if !ok {
		c.Log().Warn("message not found", "program", programID, "id", id)
		return missingMessage
	}
	return msg
}

// scriptMessage resolves a message given either as text or as a message id
// in the file of programID.
func scriptMessage(c *Call, v Value, programID int32) (string, error) {
	switch v.Kind() {
	case KindInt:
		id, _ := v.AsInt()
		return message(c, programID, id), nil
	case KindString:
		return v.AsString()
	default:
		return "", NewError(ErrorBadValue, "expected message id or text, got %s", v.Kind())
	}
}

func messageStr(c *Call) error {
	id, err := c.PopInt()
	if err != nil {
		return err
	}
	programID, err := popProgramID(c)
	if err != nil {
		return err
	}
	msg := message(c, programID, id)
	c.trace("program", programID, "id", id, "msg", msg)
	return c.Push(String(msg))
}

func addTimerEvent(c *Call) error {
	info, err := c.PopInt()
	if err != nil {
		return err
	}
	ticks, err := c.PopInt()
	if err != nil {
		return err
	}
	obj, err := popNonNullObject(c)
	if err != nil {
		return err
	}
	if c.ctx.Sequencer != nil {
		c.ctx.Sequencer.AddTimer(obj, time.Duration(max(ticks, 0))*TickDuration, info)
	} else {
		missing(c, "sequencer")
	}
	c.trace("obj", obj, "ticks", ticks, "info", info)
	return nil
}

func rmTimerEvent(c *Call) error {
	obj, err := popNonNullObject(c)
	if err != nil {
		return err
	}
	if c.ctx.Sequencer != nil {
		c.ctx.Sequencer.RemoveTimers(obj)
	} else {
		missing(c, "sequencer")
	}
	c.trace("obj", obj)
	return nil
}

func dialog(c *Call) (Dialog, error) {
	if c.ctx.Dialog == nil {
		return nil, NewError(ErrorInvalidState, "%s outside of dialog", c.op)
	}
	return c.ctx.Dialog, nil
}

func startGdialog(c *Call) error {
	background, err := c.PopInt()
	if err != nil {
		return err
	}
	head, err := c.PopInt()
	if err != nil {
		return err
	}
	reaction, err := c.PopInt()
	if err != nil {
		return err
	}
	obj, err := popNonNullObject(c)
	if err != nil {
		return err
	}
	programID, err := popProgramID(c)
	if err != nil {
		return err
	}
	d, err := dialog(c)
	if err != nil {
		return err
	}
	if d.Running() {
		return NewError(ErrorInvalidState, "dialog already running")
	}
	if err := d.Start(obj, programID); err != nil {
		return NewError(ErrorBadValue, "start dialog: %v", err)
	}
	c.trace("program", programID, "obj", obj, "reaction", reaction, "head", head, "background", background)
	return nil
}

func endDialogue(c *Call) error {
	d, err := dialog(c)
	if err != nil {
		return err
	}
	d.End()
	c.trace()
	return nil
}

func gsayStart(c *Call) error {
	if _, err := dialog(c); err != nil {
		return err
	}
	c.trace()
	return nil
}

func gsayEnd(c *Call) error {
	d, err := dialog(c)
	if err != nil {
		return err
	}
	d.Wait()
	c.trace()
	c.Suspend(SuspendDialog)
	return nil
}

func gsayReply(c *Call) error {
	reply, err := c.Pop()
	if err != nil {
		return err
	}
	programID, err := popProgramID(c)
	if err != nil {
		return err
	}
	text, err := scriptMessage(c, reply, programID)
	if err != nil {
		return err
	}
	d, err := dialog(c)
	if err != nil {
		return err
	}
	d.SetReply(text)
	d.ClearOptions()
	c.trace("program", programID, "reply", text)
	return nil
}

// optionProc resolves an option target given as procedure id or name.
func optionProc(c *Call, v Value) (ProcID, error) {
	switch v.Kind() {
	case KindInt:
		id, _ := v.AsInt()
		if _, ok := c.Program().Proc(ProcID(id)); !ok {
			return 0, NewError(ErrorUnresolvedProcedure, "no procedure with id %d", id)
		}
		return ProcID(id), nil
	case KindString:
		name, err := c.ResolveName(v)
		if err != nil {
			return 0, err
		}
		id, ok := c.Program().ProcID(name)
		if !ok {
			return 0, NewError(ErrorUnresolvedProcedure, "no procedure named %s", name)
		}
		return id, nil
	default:
		return 0, errExpected(KindInt, v)
	}
}

func gsayOption(c *Call) error {
	reaction, err := c.PopInt()
	if err != nil {
		return err
	}
	procVal, err := c.PopValue()
	if err != nil {
		return err
	}
	msg, err := c.Pop()
	if err != nil {
		return err
	}
	programID, err := popProgramID(c)
	if err != nil {
		return err
	}
	text, err := scriptMessage(c, msg, programID)
	if err != nil {
		return err
	}
	proc, err := optionProc(c, procVal)
	if err != nil {
		return err
	}
	d, err := dialog(c)
	if err != nil {
		return err
	}
	d.AddOption(text, proc)
	c.trace("program", programID, "msg", text, "proc", proc, "reaction", reaction)
	return nil
}

func gsayMessage(c *Call) error {
	reaction, err := c.PopInt()
	if err != nil {
		return err
	}
	msg, err := c.Pop()
	if err != nil {
		return err
	}
	programID, err := popProgramID(c)
	if err != nil {
		return err
	}
	text, err := scriptMessage(c, msg, programID)
	if err != nil {
		return err
	}
	d, err := dialog(c)
	if err != nil {
		return err
	}
	d.SetReply(text)
	d.ClearOptions()
	d.AddOption(message(c, GenericMessages, doneMessageID), -1)
	c.trace("program", programID, "reply", text, "reaction", reaction)
	return nil
}

func giqOption(c *Call) error {
	reaction, err := c.PopInt()
	if err != nil {
		return err
	}
	procVal, err := c.PopValue()
	if err != nil {
		return err
	}
	msg, err := c.Pop()
	if err != nil {
		return err
	}
	programID, err := popProgramID(c)
	if err != nil {
		return err
	}
	iqTest, err := c.PopInt()
	if err != nil {
		return err
	}
	text, err := scriptMessage(c, msg, programID)
	if err != nil {
		return err
	}
	proc, err := optionProc(c, procVal)
	if err != nil {
		return err
	}
	d, err := dialog(c)
	if err != nil {
		return err
	}

	iq := int32(defaultPlayerIQ)
	if c.ctx.Rules != nil {
		iq = c.ctx.Rules.PlayerIQ()
	}
	// A negative test is an upper bound, otherwise a lower bound.
	if iqTest < 0 && -iq >= iqTest || iqTest >= 0 && iq >= iqTest {
		d.AddOption(text, proc)
	}
	c.trace("iq_test", iqTest, "program", programID, "msg", text, "proc", proc, "reaction", reaction)
	return nil
}
