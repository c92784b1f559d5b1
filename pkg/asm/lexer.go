package asm

import (
	"fmt"
	"strings"
)

// TokenType is the type of an assembler source token.
type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF
	TOKEN_NEWLINE

	TOKEN_IDENT     // mnemonic, label or procedure name
	TOKEN_DIRECTIVE // .proc, .global ...
	TOKEN_INT       // integer literal
	TOKEN_FLOAT     // floating point literal
	TOKEN_STRING    // string literal

	TOKEN_COLON   // :
	TOKEN_AT      // @label
	TOKEN_PERCENT // %proc
	TOKEN_AMP     // &proc
)

var tokenNames = map[TokenType]string{
	TOKEN_ILLEGAL:   "ILLEGAL",
	TOKEN_EOF:       "EOF",
	TOKEN_NEWLINE:   "NEWLINE",
	TOKEN_IDENT:     "IDENT",
	TOKEN_DIRECTIVE: "DIRECTIVE",
	TOKEN_INT:       "INT",
	TOKEN_FLOAT:     "FLOAT",
	TOKEN_STRING:    "STRING",
	TOKEN_COLON:     ":",
	TOKEN_AT:        "@",
	TOKEN_PERCENT:   "%",
	TOKEN_AMP:       "&",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TOKEN(%d)", int(t))
}

// Token is a lexical token of assembler source.
type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

// Lexer tokenizes assembler source. Comments start with ';' or '#' and run
// to the end of the line.
type Lexer struct {
	input        string
	position     int  // current position in input
	readPosition int  // current reading position (after current char)
	ch           byte // current char
	line         int
	column       int
}

// NewLexer creates a new Lexer.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipBlanks()

	tok := Token{Line: l.line, Column: l.column}

	switch {
	case l.ch == 0:
		tok.Type = TOKEN_EOF
		return tok
	case l.ch == '\n':
		tok.Type = TOKEN_NEWLINE
		tok.Literal = "\\n"
		l.readChar()
		l.line++
		l.column = 1
		return tok
	case l.ch == ':':
		tok.Type = TOKEN_COLON
	case l.ch == '@':
		tok.Type = TOKEN_AT
	case l.ch == '%':
		tok.Type = TOKEN_PERCENT
	case l.ch == '&':
		tok.Type = TOKEN_AMP
	case l.ch == '"':
		s, ok := l.readString()
		if !ok {
			tok.Type = TOKEN_ILLEGAL
			tok.Literal = "unterminated string"
			return tok
		}
		tok.Type = TOKEN_STRING
		tok.Literal = s
		return tok
	case l.ch == '.' && isLetter(l.peekChar()):
		l.readChar()
		tok.Type = TOKEN_DIRECTIVE
		tok.Literal = l.readIdentifier()
		return tok
	case isLetter(l.ch):
		tok.Type = TOKEN_IDENT
		tok.Literal = l.readIdentifier()
		return tok
	case isDigit(l.ch) || (l.ch == '-' && isDigit(l.peekChar())):
		return l.readNumber(tok)
	default:
		tok.Type = TOKEN_ILLEGAL
	}

	tok.Literal = string(l.ch)
	l.readChar()
	return tok
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber(tok Token) Token {
	position := l.position
	if l.ch == '-' {
		l.readChar()
	}
	tok.Type = TOKEN_INT

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
		tok.Literal = l.input[position:l.position]
		return tok
	}

	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		tok.Type = TOKEN_FLOAT
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	tok.Literal = l.input[position:l.position]
	return tok
}

// readString reads a double-quoted literal with \" \\ \n and \t escapes.
func (l *Lexer) readString() (string, bool) {
	var sb strings.Builder
	for {
		l.readChar()
		switch l.ch {
		case 0, '\n':
			return "", false
		case '"':
			l.readChar()
			return sb.String(), true
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 0:
				return "", false
			default:
				sb.WriteByte(l.ch)
			}
		default:
			sb.WriteByte(l.ch)
		}
	}
}

func (l *Lexer) skipBlanks() {
	for {
		switch l.ch {
		case ' ', '\t', '\r':
			l.readChar()
		case ';', '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || ch >= 0x80
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return ('0' <= ch && ch <= '9') || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}
