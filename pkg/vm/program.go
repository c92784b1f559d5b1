package vm

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Program binary layout.
const (
	// ProcTableOffset is the offset of the procedure count. The bytes before
	// it hold the program startup code.
	ProcTableOffset = 42
	// ProcEntrySize is the size of one procedure table entry.
	ProcEntrySize = 24
	// MinProgramSize is the smallest buffer that can hold a program header.
	MinProgramSize = ProcTableOffset + 4
)

// ProcedureFlags is the flag set of a procedure.
type ProcedureFlags uint32

const (
	ProcTimed       ProcedureFlags = 0x01
	ProcConditional ProcedureFlags = 0x02
	ProcImport      ProcedureFlags = 0x04
	ProcExport      ProcedureFlags = 0x08
	ProcCritical    ProcedureFlags = 0x10

	procAllFlags = ProcTimed | ProcConditional | ProcImport | ProcExport | ProcCritical
)

// Has reports whether all bits of f are set.
func (fl ProcedureFlags) Has(f ProcedureFlags) bool { return fl&f == f }

func (fl ProcedureFlags) String() string {
	if fl == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag ProcedureFlags
		name string
	}{
		{ProcTimed, "timed"},
		{ProcConditional, "conditional"},
		{ProcImport, "import"},
		{ProcExport, "export"},
		{ProcCritical, "critical"},
	} {
		if fl.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// ProcID identifies a procedure by its index in the procedure table.
type ProcID int

// Procedure is one entry of the procedure table.
type Procedure struct {
	Name         string
	Flags        ProcedureFlags
	Delay        time.Duration
	ConditionPos int
	BodyPos      int
	ArgCount     int
}

// Program is an immutable parsed script. It is shared read-only by every
// ProgramState created from it.
type Program struct {
	name    string
	code    []byte
	procs   []Procedure
	byName  map[string]ProcID
	names   *StringTable
	strings *StringTable
}

// LoadOptions configures program parsing.
type LoadOptions struct {
	// Encoding decodes name and string table bytes. Windows-1252 if nil.
	Encoding encoding.Encoding
	Logger   *slog.Logger
}

// LoadProgram parses a compiled program without executing anything.
func LoadProgram(name string, code []byte, opts LoadOptions) (*Program, error) {
	enc := opts.Encoding
	if enc == nil {
		enc = charmap.Windows1252
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("program", name)

	p, err := parseProgram(name, code, enc, log)
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.Program = name
		}
		return nil, err
	}
	return p, nil
}

func parseProgram(name string, code []byte, enc encoding.Encoding, log *slog.Logger) (*Program, error) {
	if len(code) < MinProgramSize {
		return nil, NewError(ErrorMalformedProgram, "program is %d bytes, need at least %d", len(code), MinProgramSize)
	}

	count := binary.BigEndian.Uint32(code[ProcTableOffset:])
	tableEnd := int64(ProcTableOffset+4) + int64(count)*ProcEntrySize
	if tableEnd > int64(len(code)) {
		return nil, errUnexpectedEnd("procedure table", ProcTableOffset+4, int(tableEnd)-ProcTableOffset-4, len(code)-ProcTableOffset-4)
	}

	namesStart := int(tableEnd)
	log.Debug("reading name table", "offset", namesStart)
	names, namesLen, err := readStringTable(code, namesStart, enc, log)
	if err != nil {
		return nil, err
	}

	stringsStart := namesStart + namesLen
	log.Debug("reading string table", "offset", stringsStart)
	strs, _, err := readStringTable(code, stringsStart, enc, log)
	if err != nil {
		return nil, err
	}

	procs := make([]Procedure, 0, count)
	byName := make(map[string]ProcID, count)
	for i := 0; i < int(count); i++ {
		e := code[ProcTableOffset+4+i*ProcEntrySize:]
		nameOff := binary.BigEndian.Uint32(e[0:])
		procName, ok := names.Get(int(nameOff))
		if !ok {
			return nil, NewError(ErrorMalformedProgram, "procedure %d: invalid name reference %d", i, nameOff)
		}
		flags := ProcedureFlags(binary.BigEndian.Uint32(e[4:]))
		if flags&^procAllFlags != 0 {
			return nil, NewError(ErrorMalformedProgram, "procedure %q: invalid flags 0x%x", procName, uint32(flags))
		}
		proc := Procedure{
			Name:         procName,
			Flags:        flags,
			Delay:        time.Duration(binary.BigEndian.Uint32(e[8:])) * time.Millisecond,
			ConditionPos: int(binary.BigEndian.Uint32(e[12:])),
			BodyPos:      int(binary.BigEndian.Uint32(e[16:])),
			ArgCount:     int(binary.BigEndian.Uint32(e[20:])),
		}
		if _, dup := byName[procName]; dup {
			return nil, NewError(ErrorDuplicateProcedure, "duplicate procedure name: %s", procName)
		}
		log.Debug("procedure", "id", i, "name", proc.Name, "flags", proc.Flags,
			"body", proc.BodyPos, "args", proc.ArgCount)
		byName[procName] = ProcID(i)
		procs = append(procs, proc)
	}

	return &Program{
		name:    name,
		code:    code,
		procs:   procs,
		byName:  byName,
		names:   names,
		strings: strs,
	}, nil
}

// Name returns the program name.
func (p *Program) Name() string { return p.name }

// Code returns the program bytes. Code offsets are absolute into this slice.
func (p *Program) Code() []byte { return p.code }

// Names returns the identifier table.
func (p *Program) Names() *StringTable { return p.names }

// Strings returns the string literal table.
func (p *Program) Strings() *StringTable { return p.strings }

// ProcCount returns the number of procedures.
func (p *Program) ProcCount() int { return len(p.procs) }

// Procs returns a copy of the procedure table in id order.
func (p *Program) Procs() []Procedure {
	r := make([]Procedure, len(p.procs))
	copy(r, p.procs)
	return r
}

// Proc returns the procedure with the given id.
func (p *Program) Proc(id ProcID) (Procedure, bool) {
	if id < 0 || int(id) >= len(p.procs) {
		return Procedure{}, false
	}
	return p.procs[id], true
}

// ProcID returns the id of the procedure named name.
func (p *Program) ProcID(name string) (ProcID, bool) {
	id, ok := p.byName[name]
	return id, ok
}

// PredefinedProcID returns the id of the procedure implementing role.
func (p *Program) PredefinedProcID(role PredefinedProc) (ProcID, bool) {
	return p.ProcID(role.Name())
}

func (p *Program) String() string {
	return fmt.Sprintf("Program(%s, %d procs)", p.name, len(p.procs))
}
