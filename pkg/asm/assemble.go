package asm

import (
	"strconv"
	"strings"

	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// Assemble translates assembler source into a program binary.
//
// Source is line oriented. Each line holds a directive, a label definition
// ("name:") or one instruction:
//
//	.global 10                  ; program global with initial value
//	.proc talk_p_proc 0 critical
//	.import other_proc 1
//	.delay 500
//	.condition label
//	const_int 7 | @label | %proc | &proc
//	const_float 1.5
//	const_string "text"
//	const_name ident            ; name table reference
//	enter, return, return_value, leave, leave_value
//	<mnemonic>                  ; any operand-less opcode
func Assemble(source string, opts ...Option) ([]byte, error) {
	b, err := Parse(source, opts...)
	if err != nil {
		return nil, err
	}
	return b.Build()
}

// Parse reads assembler source into a Builder.
func Parse(source string, opts ...Option) (*Builder, error) {
	p := &parser{
		source: source,
		lex:    NewLexer(source),
		b:      New(opts...),
	}
	p.next()
	if err := p.parse(); err != nil {
		return nil, err
	}
	if p.b.err != nil {
		return nil, p.b.err
	}
	return p.b, nil
}

var flagNames = map[string]Flags{
	"timed":       Timed,
	"conditional": Conditional,
	"import":      Import,
	"export":      Export,
	"critical":    Critical,
}

type parser struct {
	source string
	lex    *Lexer
	tok    Token
	b      *Builder
}

func (p *parser) next() {
	p.tok = p.lex.NextToken()
}

func (p *parser) errorf(format string, args ...any) error {
	return newSourceError(p.source, p.tok, format, args...)
}

func (p *parser) parse() error {
	for p.tok.Type != TOKEN_EOF {
		if p.tok.Type == TOKEN_NEWLINE {
			p.next()
			continue
		}
		if err := p.statement(); err != nil {
			return err
		}
		if err := p.endOfLine(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) endOfLine() error {
	switch p.tok.Type {
	case TOKEN_NEWLINE:
		p.next()
		return nil
	case TOKEN_EOF:
		return nil
	default:
		return p.errorf("unexpected %s %q", p.tok.Type, p.tok.Literal)
	}
}

func (p *parser) statement() error {
	switch p.tok.Type {
	case TOKEN_DIRECTIVE:
		return p.directive()
	case TOKEN_IDENT:
		name := p.tok.Literal
		p.next()
		if p.tok.Type == TOKEN_COLON {
			p.b.Label(name)
			p.next()
			return nil
		}
		return p.instruction(name)
	default:
		return p.errorf("expected instruction, got %s %q", p.tok.Type, p.tok.Literal)
	}
}

func (p *parser) directive() error {
	d := p.tok.Literal
	p.next()
	switch d {
	case "global":
		v, err := p.intLit()
		if err != nil {
			return err
		}
		p.b.Global(v)
	case "proc", "import", "declare":
		name, args, flags, err := p.procHeader()
		if err != nil {
			return err
		}
		switch d {
		case "proc":
			p.b.Proc(name, args, flags)
		case "import":
			p.b.Declare(name, args, flags|Import)
		default:
			p.b.Declare(name, args, flags)
		}
	case "delay":
		v, err := p.intLit()
		if err != nil {
			return err
		}
		if v < 0 {
			return p.errorf("negative delay")
		}
		p.b.Delay(uint32(v))
	case "condition":
		name, err := p.ident()
		if err != nil {
			return err
		}
		p.b.Condition(name)
	default:
		return p.errorf("unknown directive .%s", d)
	}
	return nil
}

func (p *parser) procHeader() (name string, args int, flags Flags, err error) {
	if name, err = p.ident(); err != nil {
		return
	}
	if p.tok.Type == TOKEN_INT {
		var n int32
		if n, err = p.intLit(); err != nil {
			return
		}
		if n < 0 {
			err = p.errorf("negative argument count")
			return
		}
		args = int(n)
	}
	for p.tok.Type == TOKEN_IDENT {
		f, ok := flagNames[strings.ToLower(p.tok.Literal)]
		if !ok {
			err = p.errorf("unknown procedure flag %s", p.tok.Literal)
			return
		}
		flags |= f
		p.next()
	}
	return
}

func (p *parser) instruction(name string) error {
	switch name {
	case "enter":
		p.b.Enter()
	case "return":
		p.b.Return()
	case "return_value":
		p.b.ReturnValue()
	case "leave":
		p.b.Leave()
	case "leave_value":
		p.b.LeaveValue()
	case "const_int":
		return p.constInt()
	case "const_float":
		if p.tok.Type != TOKEN_FLOAT && p.tok.Type != TOKEN_INT {
			return p.errorf("expected number, got %s", p.tok.Type)
		}
		f, err := strconv.ParseFloat(p.tok.Literal, 32)
		if err != nil {
			return p.errorf("bad float %s", p.tok.Literal)
		}
		p.b.Float(float32(f))
		p.next()
	case "const_string":
		if p.tok.Type != TOKEN_STRING {
			return p.errorf("expected string, got %s", p.tok.Type)
		}
		p.b.Str(p.tok.Literal)
		p.next()
	case "const_name":
		if p.tok.Type != TOKEN_IDENT && p.tok.Type != TOKEN_STRING {
			return p.errorf("expected name, got %s", p.tok.Type)
		}
		p.b.Ident(p.tok.Literal)
		p.next()
	default:
		op, ok := opcode.Lookup(name)
		if !ok {
			return p.errorf("unknown instruction %s", name)
		}
		if op.HasOperand() {
			return p.errorf("%s needs an operand", name)
		}
		p.b.Op(op)
	}
	return nil
}

func (p *parser) constInt() error {
	var kind fixupKind
	switch p.tok.Type {
	case TOKEN_INT:
		v, err := p.intLit()
		if err != nil {
			return err
		}
		p.b.Int(v)
		return nil
	case TOKEN_AT:
		kind = fixLabel
	case TOKEN_PERCENT:
		kind = fixProcID
	case TOKEN_AMP:
		kind = fixProcBody
	default:
		return p.errorf("expected integer or reference, got %s", p.tok.Type)
	}
	p.next()
	name, err := p.ident()
	if err != nil {
		return err
	}
	p.b.ref(kind, name)
	return nil
}

func (p *parser) ident() (string, error) {
	if p.tok.Type != TOKEN_IDENT {
		return "", p.errorf("expected name, got %s", p.tok.Type)
	}
	s := p.tok.Literal
	p.next()
	return s, nil
}

func (p *parser) intLit() (int32, error) {
	if p.tok.Type != TOKEN_INT {
		return 0, p.errorf("expected integer, got %s", p.tok.Type)
	}
	lit := p.tok.Literal
	neg := strings.HasPrefix(lit, "-")
	lit = strings.TrimPrefix(lit, "-")
	v, err := strconv.ParseInt(lit, 0, 64)
	if err == nil && neg {
		v = -v
	}
	if err != nil || v < -1<<31 || v > 1<<32-1 {
		return 0, p.errorf("integer %s out of range", p.tok.Literal)
	}
	p.next()
	return int32(uint32(v)), nil
}
