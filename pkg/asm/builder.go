// Package asm builds compiled script programs.
//
// A Builder lays out the startup code, the procedure table, the name and
// string tables and the code exactly as the loader in pkg/vm expects them.
// Code addresses that are not known until the tables are complete (labels,
// procedure bodies and ids) are emitted as fixups and patched by Build.
package asm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// Layout constants shared with the loader.
const (
	procTableOffset = 42
	procEntrySize   = 24

	tableEnd = 0xFFFF
)

// Flags is the flag set of a procedure table entry.
type Flags uint32

const (
	Timed       Flags = 0x01
	Conditional Flags = 0x02
	Import      Flags = 0x04
	Export      Flags = 0x08
	Critical    Flags = 0x10
)

type fixupKind int

const (
	fixLabel fixupKind = iota
	fixProcID
	fixProcBody
)

type fixup struct {
	at   int // operand position in code
	kind fixupKind
	name string
}

type procEntry struct {
	name      string
	flags     Flags
	delayMs   uint32
	condition string // label, empty if none
	body      int    // position in code, -1 if undefined
	args      int
}

// Builder assembles one program.
type Builder struct {
	enc *encoding.Encoder

	procs   []*procEntry
	procIDs map[string]int
	current *procEntry

	names   *table
	strings *table

	globals []int32
	code    bytes.Buffer
	labels  map[string]int
	fixups  []fixup

	err error
}

// Option configures a Builder.
type Option func(*Builder)

// WithEncoding sets the encoding used for table text. Windows-1252 by default.
func WithEncoding(enc encoding.Encoding) Option {
	return func(b *Builder) {
		b.enc = enc.NewEncoder()
	}
}

// New creates an empty Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		enc:     charmap.Windows1252.NewEncoder(),
		procIDs: make(map[string]int),
		names:   newTable(),
		strings: newTable(),
		labels:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

func (b *Builder) encode(s string) []byte {
	raw, err := b.enc.Bytes([]byte(s))
	if err != nil {
		b.fail("cannot encode %q: %v", s, err)
		return []byte(s)
	}
	return raw
}

// Name interns s in the name table and returns its offset.
func (b *Builder) Name(s string) int32 {
	return b.names.intern(s, b.encode(s))
}

// String interns s in the string table and returns its offset.
func (b *Builder) String(s string) int32 {
	return b.strings.intern(s, b.encode(s))
}

// Global declares the next program global with its initial value. Globals
// are pushed by the startup code in declaration order, so the first one has
// index 0.
func (b *Builder) Global(v int32) int {
	b.globals = append(b.globals, v)
	return len(b.globals) - 1
}

// Declare adds a procedure table entry without a body, or returns the id of
// an existing one. Procedure ids follow declaration order.
func (b *Builder) Declare(name string, args int, flags Flags) int {
	if id, ok := b.procIDs[name]; ok {
		p := b.procs[id]
		p.args = args
		p.flags = flags
		return id
	}
	b.Name(name)
	p := &procEntry{name: name, flags: flags, args: args, body: -1}
	b.procs = append(b.procs, p)
	b.procIDs[name] = len(b.procs) - 1
	return len(b.procs) - 1
}

// Proc starts the body of a procedure at the current code position.
func (b *Builder) Proc(name string, args int, flags Flags) int {
	id := b.Declare(name, args, flags)
	p := b.procs[id]
	if p.body >= 0 {
		b.fail("procedure %s is defined twice", name)
	}
	p.body = b.code.Len()
	b.current = p
	return id
}

// DuplicateProc adds a second table entry with an existing name. Only useful
// to produce invalid programs.
func (b *Builder) DuplicateProc(name string) {
	b.Name(name)
	b.procs = append(b.procs, &procEntry{name: name, body: -1})
}

// Delay sets the delay of the current procedure.
func (b *Builder) Delay(ms uint32) {
	if b.current == nil {
		b.fail("delay outside of a procedure")
		return
	}
	b.current.delayMs = ms
}

// Condition sets the condition label of the current procedure.
func (b *Builder) Condition(label string) {
	if b.current == nil {
		b.fail("condition outside of a procedure")
		return
	}
	b.current.condition = label
}

// ProcID returns the id of a declared procedure.
func (b *Builder) ProcID(name string) (int, bool) {
	id, ok := b.procIDs[name]
	return id, ok
}

// Pos returns the current code position relative to the start of the code.
func (b *Builder) Pos() int { return b.code.Len() }

// Label defines name at the current code position.
func (b *Builder) Label(name string) {
	if _, ok := b.labels[name]; ok {
		b.fail("label %s is defined twice", name)
		return
	}
	b.labels[name] = b.code.Len()
}

// Op emits operand-less instructions.
func (b *Builder) Op(ops ...opcode.Opcode) *Builder {
	for _, op := range ops {
		if op.HasOperand() {
			b.fail("%s needs an operand", op)
		}
		b.op(op)
	}
	return b
}

func (b *Builder) op(op opcode.Opcode) {
	var buf [opcode.Size]byte
	binary.BigEndian.PutUint16(buf[:], uint16(op))
	b.code.Write(buf[:])
}

func (b *Builder) operand(v uint32) {
	var buf [opcode.OperandSize]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.code.Write(buf[:])
}

// Raw emits an opcode followed by a raw operand, without any check.
func (b *Builder) Raw(op opcode.Opcode, operand ...uint32) *Builder {
	b.op(op)
	for _, v := range operand {
		b.operand(v)
	}
	return b
}

// Int emits const_int v.
func (b *Builder) Int(v int32) *Builder {
	b.op(opcode.ConstInt)
	b.operand(uint32(v))
	return b
}

// Float emits const_float v.
func (b *Builder) Float(v float32) *Builder {
	b.op(opcode.ConstFloat)
	b.operand(math.Float32bits(v))
	return b
}

// Str emits const_string referencing s in the string table.
func (b *Builder) Str(s string) *Builder {
	b.op(opcode.ConstString)
	b.operand(uint32(b.String(s)))
	return b
}

// Ident emits const_string referencing s in the name table, as used by
// instructions that take identifiers.
func (b *Builder) Ident(s string) *Builder {
	b.op(opcode.ConstString)
	b.operand(uint32(b.Name(s)))
	return b
}

func (b *Builder) ref(kind fixupKind, name string) *Builder {
	b.op(opcode.ConstInt)
	b.fixups = append(b.fixups, fixup{at: b.code.Len(), kind: kind, name: name})
	b.operand(0)
	return b
}

// Addr emits const_int with the absolute address of a label.
func (b *Builder) Addr(label string) *Builder { return b.ref(fixLabel, label) }

// ProcRef emits const_int with the id of a procedure.
func (b *Builder) ProcRef(name string) *Builder { return b.ref(fixProcID, name) }

// BodyAddr emits const_int with the absolute body address of a procedure.
func (b *Builder) BodyAddr(name string) *Builder { return b.ref(fixProcBody, name) }

// Enter emits the frame setup of the current procedure.
func (b *Builder) Enter() *Builder {
	argc := 0
	if b.current != nil {
		argc = b.current.args
	}
	return b.Int(int32(argc)).Op(opcode.PushBase)
}

// Return emits the epilogue of a host-invoked procedure without a result.
func (b *Builder) Return() *Builder {
	return b.Op(opcode.PopToBase, opcode.PopBase, opcode.PopFlagsReturn, opcode.PopFlags, opcode.PopExit)
}

// ReturnValue emits the epilogue of a host-invoked procedure handing back the
// value on top of the data stack.
func (b *Builder) ReturnValue() *Builder {
	return b.Op(opcode.DToA, opcode.PopToBase, opcode.AToD, opcode.PopBase, opcode.PopFlagsReturnValExit)
}

// Leave emits the epilogue of a procedure called from script code.
func (b *Builder) Leave() *Builder {
	return b.Op(opcode.PopToBase, opcode.PopBase, opcode.PopReturn)
}

// LeaveValue is Leave for a procedure that leaves the value on top of the
// data stack to its caller.
func (b *Builder) LeaveValue() *Builder {
	return b.Op(opcode.DToA, opcode.PopToBase, opcode.AToD, opcode.PopBase, opcode.PopReturn)
}

// Call emits a call of a procedure from script code. args emits the
// arguments.
func (b *Builder) Call(name string, args func(b *Builder)) *Builder {
	ret := fmt.Sprintf(".ret%d", len(b.fixups))
	b.Addr(ret).Op(opcode.DToA)
	if args != nil {
		args(b)
	}
	b.ProcRef(name).Op(opcode.Call)
	b.Label(ret)
	return b
}

// Build lays out the program and resolves every fixup.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}

	header := procTableOffset + 4 + len(b.procs)*procEntrySize
	names := b.names.bytes()
	strs := b.strings.bytes()

	initPos := header + len(names) + len(strs)
	var init bytes.Buffer
	putOp(&init, opcode.SetGlobal)
	for _, v := range b.globals {
		putOp(&init, opcode.ConstInt)
		putU32(&init, uint32(v))
	}
	putOp(&init, opcode.ExitProg)
	codeStart := initPos + init.Len()

	code := bytes.Clone(b.code.Bytes())
	for _, f := range b.fixups {
		v, err := b.resolve(f, codeStart)
		if err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(code[f.at:], uint32(v))
	}

	var out bytes.Buffer
	putOp(&out, opcode.ConstInt)
	putU32(&out, uint32(initPos))
	putOp(&out, opcode.Jmp)
	for out.Len() < procTableOffset {
		putOp(&out, opcode.Noop)
	}

	putU32(&out, uint32(len(b.procs)))
	for _, p := range b.procs {
		cond := 0
		if p.condition != "" {
			pos, ok := b.labels[p.condition]
			if !ok {
				return nil, fmt.Errorf("procedure %s: undefined condition label %s", p.name, p.condition)
			}
			cond = codeStart + pos
		}
		body := 0
		if p.body >= 0 {
			body = codeStart + p.body
		}
		off, _ := b.names.offset(p.name)
		putU32(&out, uint32(off))
		putU32(&out, uint32(p.flags))
		putU32(&out, p.delayMs)
		putU32(&out, uint32(cond))
		putU32(&out, uint32(body))
		putU32(&out, uint32(p.args))
	}
	out.Write(names)
	out.Write(strs)
	out.Write(init.Bytes())
	out.Write(code)
	return out.Bytes(), nil
}

func (b *Builder) resolve(f fixup, codeStart int) (int, error) {
	switch f.kind {
	case fixLabel:
		pos, ok := b.labels[f.name]
		if !ok {
			return 0, fmt.Errorf("undefined label %s", f.name)
		}
		return codeStart + pos, nil
	case fixProcID:
		id, ok := b.procIDs[f.name]
		if !ok {
			return 0, fmt.Errorf("undefined procedure %s", f.name)
		}
		return id, nil
	default:
		id, ok := b.procIDs[f.name]
		if !ok || b.procs[id].body < 0 {
			return 0, fmt.Errorf("procedure %s has no body", f.name)
		}
		return codeStart + b.procs[id].body, nil
	}
}

// MustBuild is Build that panics on error, for tests and fixtures.
func (b *Builder) MustBuild() []byte {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}

func putOp(w *bytes.Buffer, op opcode.Opcode) {
	var buf [opcode.Size]byte
	binary.BigEndian.PutUint16(buf[:], uint16(op))
	w.Write(buf[:])
}

func putU32(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

// table is a name or string table under construction.
type table struct {
	offsets map[string]int32
	entries [][]byte
	size    int // bytes of all entries
}

func newTable() *table {
	return &table{offsets: make(map[string]int32)}
}

func (t *table) intern(s string, raw []byte) int32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := int32(4 + t.size + 2)
	entry := append(bytes.Clone(raw), 0)
	if len(entry)%2 != 0 {
		entry = append(entry, 0)
	}
	t.entries = append(t.entries, entry)
	t.size += 2 + len(entry)
	t.offsets[s] = off
	return off
}

func (t *table) offset(s string) (int32, bool) {
	off, ok := t.offsets[s]
	return off, ok
}

func (t *table) bytes() []byte {
	var w bytes.Buffer
	if len(t.entries) == 0 {
		putU32(&w, 0xFFFFFFFF)
		return w.Bytes()
	}
	putU32(&w, uint32(t.size))
	for _, e := range t.entries {
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(e)))
		w.Write(n[:])
		w.Write(e)
	}
	var end [4]byte
	binary.BigEndian.PutUint16(end[:], tableEnd)
	w.Write(end[:])
	return w.Bytes()
}
