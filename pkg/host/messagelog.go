package host

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// DefaultMessageLogSize is the number of entries kept by default.
const DefaultMessageLogSize = 100

// Entry is one line shown to the player.
type Entry struct {
	// Object is the speaker of a floating message, or vm.NullObject for the
	// message log.
	Object vm.ObjectHandle
	Text   string
	Style  int32
	// Seq numbers entries from 1 in the order they were added.
	Seq uint64
}

// Floating reports whether the entry was shown above an object.
func (e Entry) Floating() bool { return e.Object != vm.NullObject }

// MessageLog implements vm.UI. It keeps the most recent entries and
// optionally echoes them to a writer.
type MessageLog struct {
	log     *slog.Logger
	max     int
	entries []Entry
	out     io.Writer
	seq     uint64
}

// NewMessageLog creates a log keeping up to size entries.
func NewMessageLog(size int, out io.Writer, log *slog.Logger) *MessageLog {
	if size <= 0 {
		size = DefaultMessageLogSize
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &MessageLog{log: log, max: size, out: out}
}

func (m *MessageLog) add(e Entry) {
	m.seq++
	e.Seq = m.seq
	if len(m.entries) == m.max {
		copy(m.entries, m.entries[1:])
		m.entries = m.entries[:m.max-1]
	}
	m.entries = append(m.entries, e)
	if m.out != nil {
		if e.Floating() {
			fmt.Fprintf(m.out, "[%d] %s\n", e.Object, e.Text)
		} else {
			fmt.Fprintf(m.out, "%s\n", e.Text)
		}
	}
}

func (m *MessageLog) DisplayMessage(text string) {
	m.log.Debug("display message", "text", text)
	m.add(Entry{Text: text})
}

func (m *MessageLog) FloatMessage(obj vm.ObjectHandle, text string, style int32) {
	m.log.Debug("float message", "obj", obj, "text", text, "style", style)
	m.add(Entry{Object: obj, Text: text, Style: style})
}

// Entries returns a copy of the kept entries, oldest first.
func (m *MessageLog) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Last returns the newest entry.
func (m *MessageLog) Last() (Entry, bool) {
	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[len(m.entries)-1], true
}

var _ vm.UI = (*MessageLog)(nil)
