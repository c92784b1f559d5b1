package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/pingw33n/vault13-sub000/pkg/asm"
	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

const guardSource = `
.proc start
    enter
    return

.proc look_at_p_proc
    enter
    const_string "A guard."
    display_msg
    return
`

const scene = `
[map]
id = 1

[[proto]]
pid = 1
name = "Guard"
critter = true

[[proto]]
pid = 2
name = "Vault Dweller"
critter = true

[[object]]
pid = 2
dude = true

[[object]]
pid = 1
tile = 100
script = "guard"
`

func newTestApp(t *testing.T, stdin string) (*Application, afero.Fs, *bytes.Buffer) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	out := &bytes.Buffer{}
	app := &Application{
		fs:     fsys,
		stdin:  strings.NewReader(stdin),
		stdout: out,
		openDataDir: func(dir string) (afero.Fs, error) {
			return afero.NewBasePathFs(fsys, dir), nil
		},
	}
	return app, fsys, out
}

func writeFiles(t *testing.T, fsys afero.Fs, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		if err := afero.WriteFile(fsys, name, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRun_Help(t *testing.T) {
	app, _, out := newTestApp(t, "")
	if err := app.Run([]string{"--help"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "asm") {
		t.Errorf("help output = %q", out.String())
	}
}

func TestRun_AsmAndDisasm(t *testing.T) {
	app, fsys, out := newTestApp(t, "")
	writeFiles(t, fsys, map[string][]byte{"guard.asm": []byte(guardSource)})

	if err := app.Run([]string{"asm", "guard.asm", "-l", "error"}); err != nil {
		t.Fatalf("asm: %v", err)
	}
	code, err := afero.ReadFile(fsys, "guard.int")
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	want, err := asm.Assemble(guardSource)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(code, want) {
		t.Errorf("written program differs from assembled source")
	}

	out.Reset()
	if err := app.Run([]string{"disasm", "guard.int", "look_at_p_proc", "-l", "error"}); err != nil {
		t.Fatalf("disasm: %v", err)
	}
	listing := out.String()
	if !strings.HasPrefix(listing, "; look_at_p_proc") {
		t.Errorf("listing header missing:\n%s", listing)
	}
	if strings.Contains(listing, "; start") {
		t.Errorf("listing includes other procedures:\n%s", listing)
	}
	if !strings.Contains(listing, "display_msg") {
		t.Errorf("listing missing display_msg:\n%s", listing)
	}
}

func TestRun_DisasmUnknownProc(t *testing.T) {
	app, fsys, _ := newTestApp(t, "")
	writeFiles(t, fsys, map[string][]byte{"guard.int": asm.New().Proc("start", 0, 0).Enter().Return().MustBuild()})
	err := app.Run([]string{"disasm", "guard.int", "nowhere", "-l", "error"})
	if err == nil || !strings.Contains(err.Error(), "nowhere") {
		t.Errorf("err = %v, want unknown procedure", err)
	}
}

func TestListing_AllProcs(t *testing.T) {
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Int(1).Op(opcode.Pop).Return()
	b.Proc("talk_p_proc", 0, 0)
	b.Enter().Return()
	code := b.MustBuild()

	app, fsys, out := newTestApp(t, "")
	writeFiles(t, fsys, map[string][]byte{"two.int": code})
	if err := app.Run([]string{"disasm", "two.int", "-l", "error"}); err != nil {
		t.Fatalf("disasm: %v", err)
	}
	listing := out.String()
	for _, want := range []string{"; start", "; talk_p_proc", "const_int"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestRun_Headless(t *testing.T) {
	app, fsys, out := newTestApp(t, "look 2\nwait 1\nq\n")
	code, err := asm.Assemble(guardSource)
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, fsys, map[string][]byte{
		"scene.toml":               []byte(scene),
		"data/scripts/scripts.lst": []byte("guard.int ; Guard\n"),
		"data/scripts/guard.int":   code,
	})

	err = app.Run([]string{"-c", "scene.toml", "-d", "data", "--headless", "-l", "error"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"Guard", "A guard.", "Time is 08:00."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_NoDataDir(t *testing.T) {
	app, _, _ := newTestApp(t, "")
	err := app.Run([]string{"--headless", "-l", "error"})
	if err == nil || !strings.Contains(err.Error(), "no data directory") {
		t.Errorf("err = %v, want missing data directory", err)
	}
}
