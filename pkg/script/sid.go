package script

import "fmt"

// Kind classifies script instances. It is packed into the top byte of a
// ScriptIID.
type Kind uint8

const (
	KindSystem Kind = iota
	KindSpatial
	KindTime
	KindItem
	KindCritter

	kindCount
)

var kindNames = [kindCount]string{"system", "spatial", "time", "item", "critter"}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MaxScriptID is the largest id a ScriptIID can hold.
const MaxScriptID = 0xFFFFFF

// ScriptIID identifies a script instance: its kind plus an id unique within
// that kind.
type ScriptIID uint32

// NewScriptIID packs kind and id. It panics if id does not fit in 24 bits.
func NewScriptIID(kind Kind, id uint32) ScriptIID {
	if id > MaxScriptID {
		panic(fmt.Sprintf("script id %d out of range", id))
	}
	return ScriptIID(uint32(kind)<<24 | id)
}

// ParseScriptIID validates a packed value, as stored in saves.
func ParseScriptIID(packed uint32) (ScriptIID, error) {
	if Kind(packed>>24) >= kindCount {
		return 0, fmt.Errorf("invalid script kind in packed id 0x%08x", packed)
	}
	return ScriptIID(packed), nil
}

// Kind returns the kind part.
func (s ScriptIID) Kind() Kind { return Kind(s >> 24) }

// ID returns the id part.
func (s ScriptIID) ID() uint32 { return uint32(s) & MaxScriptID }

func (s ScriptIID) String() string {
	return fmt.Sprintf("%s:%d", s.Kind(), s.ID())
}

// ProgramID is the index of a program in scripts.lst.
type ProgramID uint32
