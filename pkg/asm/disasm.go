package asm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Pos     int
	Op      opcode.Opcode
	Operand uint32
}

// Size returns the encoded size of the instruction.
func (in Instruction) Size() int {
	if in.Op.HasOperand() {
		return opcode.Size + opcode.OperandSize
	}
	return opcode.Size
}

func (in Instruction) String() string {
	switch in.Op {
	case opcode.ConstInt:
		return fmt.Sprintf("%s %d", in.Op, int32(in.Operand))
	case opcode.ConstFloat:
		return fmt.Sprintf("%s %g", in.Op, math.Float32frombits(in.Operand))
	case opcode.ConstString:
		return fmt.Sprintf("%s #%d", in.Op, in.Operand)
	default:
		return in.Op.String()
	}
}

// Decode reads the instruction at pos.
func Decode(code []byte, pos int) (Instruction, error) {
	if pos < 0 || pos+opcode.Size > len(code) {
		return Instruction{}, fmt.Errorf("no instruction at 0x%x", pos)
	}
	in := Instruction{Pos: pos, Op: opcode.Opcode(binary.BigEndian.Uint16(code[pos:]))}
	if in.Op.HasOperand() {
		at := pos + opcode.Size
		if at+opcode.OperandSize > len(code) {
			return Instruction{}, fmt.Errorf("truncated operand of %s at 0x%x", in.Op, pos)
		}
		in.Operand = binary.BigEndian.Uint32(code[at:])
	}
	return in, nil
}

// Disassemble writes a listing of code[start:end]. Decoding stops at the
// first undecodable instruction, which is reported as an error.
func Disassemble(w io.Writer, code []byte, start, end int) error {
	end = min(end, len(code))
	for pos := start; pos < end; {
		in, err := Decode(code, pos)
		if err != nil {
			return err
		}
		mark := " "
		if !opcode.Known(in.Op) {
			mark = "?"
		}
		if _, err := fmt.Fprintf(w, "%06x %s %s\n", pos, mark, in); err != nil {
			return err
		}
		pos += in.Size()
	}
	return nil
}
