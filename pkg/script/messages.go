package script

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// maxFieldLen is the longest field a message file may contain.
const maxFieldLen = 1024

// Message is one record of a message file.
type Message struct {
	ID    int32
	Audio string
	Text  string
}

// Messages is a parsed message file.
type Messages struct {
	byID map[int32]Message
}

// Get returns the message with the given id.
func (m *Messages) Get(id int32) (Message, bool) {
	if m == nil {
		return Message{}, false
	}
	msg, ok := m.byID[id]
	return msg, ok
}

// Text returns the text of the message with the given id.
func (m *Messages) Text(id int32) (string, bool) {
	msg, ok := m.Get(id)
	return msg.Text, ok
}

// Len returns the number of messages.
func (m *Messages) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byID)
}

// ReadMessages parses a message file. Records are three brace-delimited
// fields: {id}{audio}{text}. Anything outside braces is ignored, and line
// breaks inside a field are dropped. A later record replaces an earlier one
// with the same id.
func ReadMessages(r io.Reader, enc encoding.Encoding) (*Messages, error) {
	if enc == nil {
		enc = charmap.Windows1252
	}
	p := &msgParser{r: bufio.NewReader(r), dec: enc.NewDecoder()}
	m := &Messages{byID: make(map[int32]Message)}
	for {
		id, ok, err := p.field()
		if err != nil {
			return nil, err
		}
		if !ok {
			return m, nil
		}
		audio, ok, err := p.field()
		if err == nil && !ok {
			err = p.errorf("unexpected end of file after id field")
		}
		if err != nil {
			return nil, err
		}
		text, ok, err := p.field()
		if err == nil && !ok {
			err = p.errorf("unexpected end of file after audio field")
		}
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 32)
		if err != nil {
			return nil, p.errorf("bad message id %q", id)
		}
		m.byID[int32(n)] = Message{ID: int32(n), Audio: audio, Text: text}
	}
}

type msgParser struct {
	r    *bufio.Reader
	dec  *encoding.Decoder
	line int
}

func (p *msgParser) errorf(format string, args ...any) error {
	return errors.Wrapf(errors.Errorf(format, args...), "line %d", p.line+1)
}

// field reads the next {...} field. ok is false if the input ended before an
// opening brace.
func (p *msgParser) field() (string, bool, error) {
	for {
		b, err := p.r.ReadByte()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, errors.Wrap(err, "reading message file")
		}
		switch b {
		case '{':
			return p.body()
		case '}':
			return "", false, p.errorf("misplaced delimiter")
		case '\n':
			p.line++
		}
	}
}

func (p *msgParser) body() (string, bool, error) {
	var buf []byte
	for {
		b, err := p.r.ReadByte()
		if err == io.EOF {
			return "", false, p.errorf("unexpected end of file inside field")
		}
		if err != nil {
			return "", false, errors.Wrap(err, "reading message file")
		}
		switch b {
		case '}':
			s, err := p.dec.Bytes(buf)
			if err != nil {
				return "", false, errors.Wrap(err, "decoding message text")
			}
			return string(s), true, nil
		case '{':
			return "", false, p.errorf("misplaced delimiter")
		case '\n':
			p.line++
			continue
		case '\r':
			continue
		}
		if len(buf) == maxFieldLen {
			return "", false, p.errorf("field longer than %d bytes", maxFieldLen)
		}
		buf = append(buf, b)
	}
}
