package vm

import (
	"encoding/binary"
	"log/slog"
	"sort"

	"golang.org/x/text/encoding"
)

const (
	stringTableHeaderLen = 4
	stringTableEnd       = 0xFFFF
	// emptyStringTable as the declared length marks a table with no entries
	// and no terminator.
	emptyStringTable = 0xFFFFFFFF
)

type stringEntry struct {
	offset int
	text   string
}

// StringTable maps byte offsets to decoded text. Offsets are relative to the
// start of the table, length header included, so the first entry is at 6.
type StringTable struct {
	entries []stringEntry // sorted by offset
}

// Get returns the string stored at offset.
func (t *StringTable) Get(offset int) (string, bool) {
	if t == nil {
		return "", false
	}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].offset >= offset })
	if i < len(t.entries) && t.entries[i].offset == offset {
		return t.entries[i].text, true
	}
	return "", false
}

// Len returns the number of entries.
func (t *StringTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Offsets returns the entry offsets in ascending order.
func (t *StringTable) Offsets() []int {
	r := make([]int, len(t.entries))
	for i, e := range t.entries {
		r[i] = e.offset
	}
	return r
}

func (t *StringTable) insert(offset int, text string) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].offset >= offset })
	if i < len(t.entries) && t.entries[i].offset == offset {
		t.entries[i].text = text
		return
	}
	t.entries = append(t.entries, stringEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = stringEntry{offset: offset, text: text}
}

// readStringTable parses a name or string table starting at buf[start:].
// It returns the table and the number of bytes the table occupies.
func readStringTable(buf []byte, start int, enc encoding.Encoding, log *slog.Logger) (*StringTable, int, error) {
	if start+stringTableHeaderLen > len(buf) {
		return nil, 0, errUnexpectedEnd("string table header", start, stringTableHeaderLen, len(buf)-start)
	}
	declared := binary.BigEndian.Uint32(buf[start:])
	t := &StringTable{}
	if declared == emptyStringTable {
		return t, stringTableHeaderLen, nil
	}

	dec := enc.NewDecoder()
	pos := start + stringTableHeaderLen
	for {
		if pos+2 > len(buf) {
			return nil, 0, errUnexpectedEnd("string table entry", pos, 2, len(buf)-pos)
		}
		n := int(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
		if n == stringTableEnd {
			if pos+2 > len(buf) {
				return nil, 0, errUnexpectedEnd("string table terminator", pos, 2, len(buf)-pos)
			}
			pos += 2
			break
		}
		if pos+n > len(buf) {
			return nil, 0, errUnexpectedEnd("string table entry", pos, n, len(buf)-pos)
		}
		raw := buf[pos : pos+n]
		end := -1
		for i, b := range raw {
			if b == 0 {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, 0, NewError(ErrorMalformedString, "string at 0x%x is not null-terminated", pos)
		}
		text, err := dec.Bytes(raw[:end])
		if err != nil {
			return nil, 0, NewError(ErrorMalformedString, "string at 0x%x: %v", pos, err)
		}
		t.insert(pos-start, string(text))
		pos += n
	}

	size := int(declared) + 8
	if pos-start != size {
		log.Warn("string table length mismatch",
			"offset", start, "declared", size, "parsed", pos-start)
	}
	return t, size, nil
}
