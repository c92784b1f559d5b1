package asm

import (
	"fmt"
	"strings"
)

// SourceError is an assembler error with its location in the source.
type SourceError struct {
	Message string
	// Line and Column are 1-indexed.
	Line   int
	Column int
	// Context holds the source lines around the error with a pointer to the
	// column.
	Context string
}

func (e *SourceError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("line %d, column %d: %s\n%s", e.Line, e.Column, e.Message, e.Context)
	}
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

func newSourceError(source string, tok Token, format string, args ...any) *SourceError {
	return &SourceError{
		Message: fmt.Sprintf(format, args...),
		Line:    tok.Line,
		Column:  tok.Column,
		Context: errorContext(source, tok.Line, tok.Column),
	}
}

// errorContext renders two lines before and after line, marking line and
// column:
//
//	  2 | .proc start
//	  3 |     enter
//	> 4 |     const_int @
//	    |               ^
//	  5 |     return
func errorContext(source string, line, column int) string {
	if source == "" || line <= 0 {
		return ""
	}
	lines := strings.Split(source, "\n")
	if line > len(lines) {
		return ""
	}

	start := max(line-3, 0)
	end := min(line+2, len(lines))
	width := len(fmt.Sprintf("%d", end))

	var buf strings.Builder
	for i := start; i < end; i++ {
		n := i + 1
		if n != line {
			fmt.Fprintf(&buf, "  %*d | %s\n", width, n, lines[i])
			continue
		}
		fmt.Fprintf(&buf, "> %*d | %s\n", width, n, lines[i])
		indent := 2 + width + 3
		if column > 0 {
			indent += column - 1
		}
		buf.WriteString(strings.Repeat(" ", indent) + "^\n")
	}
	return buf.String()
}
