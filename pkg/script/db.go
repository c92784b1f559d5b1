// Package script manages the script instances of a game session: the
// script database on disk, one VM state per instance and the variables that
// persist across invocations.
package script

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/pingw33n/vault13-sub000/pkg/fileutil"
	"github.com/pingw33n/vault13-sub000/pkg/logger"
)

const (
	scriptListPath      = "scripts/scripts.lst"
	genericMessagesPath = "game/proto.msg"
)

// Info describes one entry of scripts.lst.
type Info struct {
	Name          string
	LocalVarCount int
}

type options struct {
	language string
	encoding encoding.Encoding
	log      *slog.Logger
}

// Option configures a DB or a Scripts manager.
type Option func(*options)

// WithLanguage selects the text/<language> directory for message files.
func WithLanguage(lang string) Option {
	return func(o *options) {
		o.language = lang
	}
}

// WithEncoding sets the encoding of message files.
func WithEncoding(enc encoding.Encoding) Option {
	return func(o *options) {
		o.encoding = enc
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		language: "english",
		encoding: charmap.Windows1252,
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DB is the script database: the program list, compiled programs and their
// message files. File names are matched case-insensitively.
type DB struct {
	fs       afero.Fs
	opts     *options
	infos    []Info
	byName   map[string]ProgramID
	messages map[string]*Messages
}

// NewDB reads scripts/scripts.lst from fsys.
func NewDB(fsys afero.Fs, opts ...Option) (*DB, error) {
	o := newOptions(opts)
	data, err := fileutil.ReadFile(fsys, scriptListPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", scriptListPath)
	}
	infos, err := ParseScriptList(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", scriptListPath)
	}
	db := &DB{
		fs:       fsys,
		opts:     o,
		infos:    infos,
		byName:   make(map[string]ProgramID, len(infos)),
		messages: make(map[string]*Messages),
	}
	for i, info := range infos {
		if _, dup := db.byName[info.Name]; !dup {
			db.byName[info.Name] = ProgramID(i)
		}
	}
	o.log.Debug("script list loaded", "count", len(infos))
	return db, nil
}

// ParseScriptList parses the contents of scripts.lst. Lines without ".int"
// are skipped. Names are lowercased. A "# local_vars=N" comment gives the
// local variable count, which defaults to 0.
func ParseScriptList(r io.Reader) ([]Info, error) {
	var infos []Info
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.ToLower(sc.Text())
		i := strings.Index(line, ".int")
		if i < 0 {
			continue
		}
		info := Info{Name: line[:i]}
		rest := line[i+len(".int"):]
		if h := strings.IndexByte(rest, '#'); h >= 0 {
			if v := strings.Index(rest[h:], "local_vars="); v >= 0 {
				num := rest[h+v+len("local_vars="):]
				end := 0
				for end < len(num) && num[end] >= '0' && num[end] <= '9' {
					end++
				}
				n, err := strconv.Atoi(num[:end])
				if err != nil {
					return nil, errors.Errorf("line %d: bad local_vars value %q", lineNo, num)
				}
				info.LocalVarCount = n
			}
		}
		infos = append(infos, info)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading script list")
	}
	return infos, nil
}

// Len returns the number of programs.
func (db *DB) Len() int { return len(db.infos) }

// Info returns the scripts.lst entry for id.
func (db *DB) Info(id ProgramID) (Info, bool) {
	if int(id) >= len(db.infos) {
		return Info{}, false
	}
	return db.infos[id], true
}

// Lookup returns the id of the program with the given name. The first entry
// wins if a name is listed twice.
func (db *DB) Lookup(name string) (ProgramID, bool) {
	id, ok := db.byName[strings.ToLower(name)]
	return id, ok
}

// Load reads the compiled code of program id.
func (db *DB) Load(id ProgramID) ([]byte, Info, error) {
	info, ok := db.Info(id)
	if !ok {
		return nil, Info{}, errors.Errorf("program id %d out of range (%d programs)", id, len(db.infos))
	}
	p := path.Join("scripts", info.Name+".int")
	code, err := fileutil.ReadFile(db.fs, p)
	if err != nil {
		return nil, Info{}, errors.Wrapf(err, "loading program %d (%s)", id, p)
	}
	return code, info, nil
}

// Messages returns the dialog message file of program id. Files are read
// once and cached.
func (db *DB) Messages(id ProgramID) (*Messages, error) {
	info, ok := db.Info(id)
	if !ok {
		return nil, errors.Errorf("program id %d out of range (%d programs)", id, len(db.infos))
	}
	return db.readMessages(path.Join("dialog", info.Name+".msg"))
}

// GenericMessages returns the message file shared by all scripts.
func (db *DB) GenericMessages() (*Messages, error) {
	return db.readMessages(genericMessagesPath)
}

func (db *DB) readMessages(rel string) (*Messages, error) {
	p := path.Join("text", db.opts.language, rel)
	if m, ok := db.messages[p]; ok {
		return m, nil
	}
	f, err := fileutil.Open(db.fs, p)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", p)
	}
	defer f.Close()
	m, err := ReadMessages(f, db.opts.encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", p)
	}
	db.messages[p] = m
	return m, nil
}
