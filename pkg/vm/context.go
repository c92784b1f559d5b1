package vm

import "time"

// ExternalVars holds variables exported by the scripts of the current map.
// A None value marks a variable that was exported but never assigned.
type ExternalVars map[string]Value

// World is the live object store as seen by scripts.
type World interface {
	DudeObj() ObjectHandle
	ObjectName(obj ObjectHandle) (string, bool)
	ObjectPID(obj ObjectHandle) (int32, bool)
	// CreateObject places a new object built from a prototype.
	CreateObject(pid, tile, elevation int32) (ObjectHandle, error)
	DestroyObject(obj ObjectHandle) error
}

// UI receives player-visible text.
type UI interface {
	DisplayMessage(text string)
	FloatMessage(obj ObjectHandle, text string, style int32)
}

// Sequencer schedules timed events for objects.
type Sequencer interface {
	AddTimer(obj ObjectHandle, delay time.Duration, param int32)
	RemoveTimers(obj ObjectHandle)
}

// Dialog is the conversation window driven by the gsay_* instructions.
type Dialog interface {
	Start(obj ObjectHandle, programID int32) error
	SetReply(text string)
	ClearOptions()
	// AddOption adds a player choice. proc is the procedure run when the
	// option is picked, or -1 for an option that ends the dialog.
	AddOption(text string, proc ProcID)
	// Wait marks the dialog as waiting for the player.
	Wait()
	End()
	Running() bool
}

// Messages resolves message ids of a script's message file.
type Messages interface {
	Message(programID, id int32) (string, bool)
}

// Rules are the game-rule services scripts can query.
type Rules interface {
	Random(from, to int32) int32
	GameTimeHour() int32
	GiveExpPoints(points int32)
	PlayerIQ() int32
	// Metarule answers engine queries by id. ok is false for unknown ids.
	Metarule(id int32, arg Value) (r Value, ok bool)
}

// ScriptSpawner attaches new script instances to objects.
type ScriptSpawner interface {
	AttachScript(obj ObjectHandle, programID int32) error
}

// Context is the host state passed to every invocation. Fields not needed by
// a program may be left zero; instructions that need a missing service push
// a neutral result and log a warning.
type Context struct {
	// LocalVars are the persistent variables of this script instance.
	LocalVars []int32
	// MapVars are shared by all scripts of the current map.
	MapVars []int32
	// GlobalVars are shared by the whole session.
	GlobalVars []int32
	// ExternalVars are shared by all scripts of the current map and cleared on
	// map change.
	ExternalVars ExternalVars

	SelfObj   ObjectHandle
	SourceObj ObjectHandle
	TargetObj ObjectHandle
	// FixedParam is the event parameter, such as a timer's info value.
	FixedParam int32
	// Skill is the skill being used, or -1.
	Skill int32
	MapID int32

	World     World
	UI        UI
	Sequencer Sequencer
	Dialog    Dialog
	Messages  Messages
	Rules     Rules
	Scripts   ScriptSpawner
}

// NewContext returns a context with no object, no skill and empty external
// variables.
func NewContext() *Context {
	return &Context{
		ExternalVars: make(ExternalVars),
		Skill:        -1,
	}
}
