package script

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
)

func TestParseScriptList(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Info
	}{
		{"no extension", "script1", nil},
		{"mixed case", "SCripT2.InT ; comment", []Info{{"script2", 0}}},
		{"spaces kept", "scr ipt 3  .int #", []Info{{"scr ipt 3  ", 0}}},
		{"local vars", "Test0.int ; Used to test the scripting system # local_vars=8", []Info{{"test0", 8}}},
		{"trailing text after count", "FSBroDor.int    ; Brotherhood Door # local_vars=3#", []Info{{"fsbrodor", 3}}},
		{"local vars before hash ignored", "a.int ; local_vars=4", []Info{{"a", 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScriptList(strings.NewReader(tt.line))
			if err != nil {
				t.Fatalf("ParseScriptList: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}

	if _, err := ParseScriptList(strings.NewReader("a.int\nb.int # local_vars=x")); err == nil ||
		!strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected error on line 2, got %v", err)
	}
}

func TestNewDB(t *testing.T) {
	db := newTestDB(t)
	if db.Len() != 3 {
		t.Fatalf("Len = %d", db.Len())
	}
	info, ok := db.Info(progGuard)
	if !ok || info.Name != "guard" || info.LocalVarCount != 1 {
		t.Errorf("Info = %+v %v", info, ok)
	}
	if _, ok := db.Info(3); ok {
		t.Error("id 3 must be out of range")
	}
	if id, ok := db.Lookup("COUNTER"); !ok || id != progCounter {
		t.Errorf("Lookup = %d %v", id, ok)
	}

	code, info, err := db.Load(progCounter)
	if err != nil || len(code) == 0 || info.LocalVarCount != 2 {
		t.Errorf("Load = %d bytes, %+v, %v", len(code), info, err)
	}
	if _, _, err := db.Load(9); err == nil {
		t.Error("expected error for unknown program")
	}

	msgs, err := db.Messages(progGuard)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	again, _ := db.Messages(progGuard)
	if msgs != again {
		t.Error("message files must be cached")
	}
	if _, err := db.Messages(progCounter); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	generic, err := db.GenericMessages()
	if err != nil {
		t.Fatalf("GenericMessages: %v", err)
	}
	if text, _ := generic.Text(650); text != "[Done]" {
		t.Errorf("generic 650 = %q", text)
	}
}

func TestNewDB_Language(t *testing.T) {
	fsys := testFS(t)
	if err := afero.WriteFile(fsys, "Text/German/dialog/guard.msg", []byte("{100}{}{Halt!}"), 0o644); err != nil {
		t.Fatal(err)
	}
	db, err := NewDB(fsys, WithLanguage("german"), WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	msgs, err := db.Messages(progGuard)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if msgs.Len() != 1 {
		t.Errorf("Len = %d", msgs.Len())
	}
}

func TestNewDB_Errors(t *testing.T) {
	if _, err := NewDB(afero.NewMemMapFs()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "scripts/scripts.lst", []byte("a.int # local_vars=-1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDB(fsys); err == nil {
		t.Error("expected parse error")
	}
}
