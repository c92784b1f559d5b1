// Package opcode defines the instruction set of the script virtual machine.
// This package is the foundation that both the assembler and the VM depend on.
// The assembler emits these opcodes, and the VM dispatches on them.
//
// Every opcode is encoded as a 2-byte big-endian word. Operands, when present,
// follow the opcode inline as 4-byte big-endian words.
package opcode

import "fmt"

// Opcode is a 2-byte instruction word.
type Opcode uint16

// Size is the encoded size of an opcode in bytes.
const Size = 2

// OperandSize is the encoded size of an inline operand in bytes.
const OperandSize = 4

// Inline constant opcodes. Each carries one 4-byte operand.
const (
	// ConstString pushes a string literal. The operand is a string table offset.
	ConstString Opcode = 0x9001
	// ConstFloat pushes a float literal. The operand is an IEEE-754 single.
	ConstFloat Opcode = 0xA001
	// ConstInt pushes an integer literal.
	ConstInt Opcode = 0xC001
)

// Interpreter core opcodes.
const (
	Noop          Opcode = 0x8000
	CriticalStart Opcode = 0x8002
	CriticalDone  Opcode = 0x8003

	// Jmp pops a code offset and jumps to it.
	Jmp Opcode = 0x8004
	// Call pops a procedure id and jumps to its body.
	Call Opcode = 0x8005

	// AToD moves the top of the return stack to the data stack.
	AToD Opcode = 0x800C
	// DToA moves the top of the data stack to the return stack.
	DToA Opcode = 0x800D

	ExitProg Opcode = 0x8010
	StopProg Opcode = 0x8011

	FetchGlobal   Opcode = 0x8012
	StoreGlobal   Opcode = 0x8013
	FetchExternal Opcode = 0x8014
	StoreExternal Opcode = 0x8015
	ExportVar     Opcode = 0x8016

	Swap Opcode = 0x8018
	// Swapa exchanges the tops of the data and return stacks.
	Swapa Opcode = 0x8019
	Pop   Opcode = 0x801A
	Dup   Opcode = 0x801B

	PopReturn             Opcode = 0x801C
	PopExit               Opcode = 0x801D
	PopAddress            Opcode = 0x801E
	PopFlags              Opcode = 0x801F
	PopFlagsReturn        Opcode = 0x8020
	PopFlagsExit          Opcode = 0x8021
	PopFlagsReturnValExit Opcode = 0x8025

	CheckArgCount    Opcode = 0x8027
	LookupStringProc Opcode = 0x8028

	PopBase          Opcode = 0x8029
	PopToBase        Opcode = 0x802A
	PushBase         Opcode = 0x802B
	SetGlobal        Opcode = 0x802C
	FetchProcAddress Opcode = 0x802D
	Dump             Opcode = 0x802E

	If    Opcode = 0x802F
	While Opcode = 0x8030
	Store Opcode = 0x8031
	Fetch Opcode = 0x8032

	Equal        Opcode = 0x8033
	NotEqual     Opcode = 0x8034
	LessEqual    Opcode = 0x8035
	GreaterEqual Opcode = 0x8036
	Less         Opcode = 0x8037
	Greater      Opcode = 0x8038

	Add    Opcode = 0x8039
	Sub    Opcode = 0x803A
	Mul    Opcode = 0x803B
	Div    Opcode = 0x803C
	Mod    Opcode = 0x803D
	And    Opcode = 0x803E
	Or     Opcode = 0x803F
	BwAnd  Opcode = 0x8040
	BwOr   Opcode = 0x8041
	BwXor  Opcode = 0x8042
	BwNot  Opcode = 0x8043
	Floor  Opcode = 0x8044
	Not    Opcode = 0x8045
	Negate Opcode = 0x8046

	// Suspend parks the running procedure until the host resumes it.
	Suspend Opcode = 0x804C
)

// Game built-in opcodes. These reach the host through the VM context.
const (
	GiveExpPoints   Opcode = 0x80A1
	ObjName         Opcode = 0x80A4
	Random          Opcode = 0x80B4
	DebugMsg        Opcode = 0x80B5
	CreateObjectSid Opcode = 0x80B7
	DisplayMsg      Opcode = 0x80B8
	ScriptOverrides Opcode = 0x80B9
	SelfObj         Opcode = 0x80BC
	SourceObj       Opcode = 0x80BD
	TargetObj       Opcode = 0x80BE
	DudeObj         Opcode = 0x80BF

	LocalVar     Opcode = 0x80C1
	SetLocalVar  Opcode = 0x80C2
	MapVar       Opcode = 0x80C3
	SetMapVar    Opcode = 0x80C4
	GlobalVar    Opcode = 0x80C5
	SetGlobalVar Opcode = 0x80C6

	StartGdialog Opcode = 0x80DE
	EndDialogue  Opcode = 0x80DF

	AddTimerEvent   Opcode = 0x80F0
	RmTimerEvent    Opcode = 0x80F1
	GameTicks       Opcode = 0x80F2
	DestroyObject   Opcode = 0x80F4
	GameTimeHour    Opcode = 0x80F6
	FixedParam      Opcode = 0x80F7
	ActionBeingUsed Opcode = 0x80FA
	ObjPid          Opcode = 0x8100
	CurMapIndex     Opcode = 0x8101
	MessageStr      Opcode = 0x8105
	FloatMsg        Opcode = 0x810A
	Metarule        Opcode = 0x810B

	GsayStart   Opcode = 0x811C
	GsayEnd     Opcode = 0x811D
	GsayReply   Opcode = 0x811E
	GsayOption  Opcode = 0x811F
	GsayMessage Opcode = 0x8120
	GiqOption   Opcode = 0x8121
)

var names = map[Opcode]string{
	ConstString: "const_string",
	ConstFloat:  "const_float",
	ConstInt:    "const_int",

	Noop:                  "noop",
	CriticalStart:         "critical_start",
	CriticalDone:          "critical_done",
	Jmp:                   "jmp",
	Call:                  "call",
	AToD:                  "a_to_d",
	DToA:                  "d_to_a",
	ExitProg:              "exit_prog",
	StopProg:              "stop_prog",
	FetchGlobal:           "fetch_global",
	StoreGlobal:           "store_global",
	FetchExternal:         "fetch_external",
	StoreExternal:         "store_external",
	ExportVar:             "export_var",
	Swap:                  "swap",
	Swapa:                 "swapa",
	Pop:                   "pop",
	Dup:                   "dup",
	PopReturn:             "pop_return",
	PopExit:               "pop_exit",
	PopAddress:            "pop_address",
	PopFlags:              "pop_flags",
	PopFlagsReturn:        "pop_flags_return",
	PopFlagsExit:          "pop_flags_exit",
	PopFlagsReturnValExit: "pop_flags_return_val_exit",
	CheckArgCount:         "check_arg_count",
	LookupStringProc:      "lookup_string_proc",
	PopBase:               "pop_base",
	PopToBase:             "pop_to_base",
	PushBase:              "push_base",
	SetGlobal:             "set_global",
	FetchProcAddress:      "fetch_proc_address",
	Dump:                  "dump",
	If:                    "if",
	While:                 "while",
	Store:                 "store",
	Fetch:                 "fetch",
	Equal:                 "equal",
	NotEqual:              "not_equal",
	LessEqual:             "less_equal",
	GreaterEqual:          "greater_equal",
	Less:                  "less",
	Greater:               "greater",
	Add:                   "add",
	Sub:                   "sub",
	Mul:                   "mul",
	Div:                   "div",
	Mod:                   "mod",
	And:                   "and",
	Or:                    "or",
	BwAnd:                 "bwand",
	BwOr:                  "bwor",
	BwXor:                 "bwxor",
	BwNot:                 "bwnot",
	Floor:                 "floor",
	Not:                   "not",
	Negate:                "negate",
	Suspend:               "suspend",

	GiveExpPoints:   "give_exp_points",
	ObjName:         "obj_name",
	Random:          "random",
	DebugMsg:        "debug_msg",
	CreateObjectSid: "create_object_sid",
	DisplayMsg:      "display_msg",
	ScriptOverrides: "script_overrides",
	SelfObj:         "self_obj",
	SourceObj:       "source_obj",
	TargetObj:       "target_obj",
	DudeObj:         "dude_obj",
	LocalVar:        "local_var",
	SetLocalVar:     "set_local_var",
	MapVar:          "map_var",
	SetMapVar:       "set_map_var",
	GlobalVar:       "global_var",
	SetGlobalVar:    "set_global_var",
	StartGdialog:    "start_gdialog",
	EndDialogue:     "end_dialogue",
	AddTimerEvent:   "add_timer_event",
	RmTimerEvent:    "rm_timer_event",
	GameTicks:       "game_ticks",
	DestroyObject:   "destroy_object",
	GameTimeHour:    "game_time_hour",
	FixedParam:      "fixed_param",
	ActionBeingUsed: "action_being_used",
	ObjPid:          "obj_pid",
	CurMapIndex:     "cur_map_index",
	MessageStr:      "message_str",
	FloatMsg:        "float_msg",
	Metarule:        "metarule",
	GsayStart:       "gsay_start",
	GsayEnd:         "gsay_end",
	GsayReply:       "gsay_reply",
	GsayOption:      "gsay_option",
	GsayMessage:     "gsay_message",
	GiqOption:       "giq_option",
}

// String returns the mnemonic of the opcode, or its hex value if unknown.
func (op Opcode) String() string {
	if n, ok := names[op]; ok {
		return n
	}
	return fmt.Sprintf("0x%04x", uint16(op))
}

// HasOperand reports whether the opcode is followed by an inline operand.
func (op Opcode) HasOperand() bool {
	return op == ConstInt || op == ConstFloat || op == ConstString
}

// Known reports whether op is part of the standard instruction set.
func Known(op Opcode) bool {
	_, ok := names[op]
	return ok
}

// All returns every standard opcode. The order is unspecified.
func All() []Opcode {
	r := make([]Opcode, 0, len(names))
	for op := range names {
		r = append(r, op)
	}
	return r
}

// Lookup returns the opcode with the given mnemonic.
func Lookup(name string) (Opcode, bool) {
	for op, n := range names {
		if n == name {
			return op, true
		}
	}
	return 0, false
}
