package script

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/pingw33n/vault13-sub000/pkg/asm"
	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/opcode"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

const (
	progCounter ProgramID = iota
	progMap
	progGuard
)

const scriptList = `counter.int ; Counter # local_vars=2
Map.int     ; Map script
guard.INT   ; Guard # local_vars=1
`

// counterProgram keeps a count in LVAR 0.
func counterProgram() *asm.Builder {
	b := asm.New()
	b.Proc("start", 0, 0)
	b.Enter().Int(0).Int(0).Op(opcode.LocalVar).Int(1).Op(opcode.Add).Op(opcode.SetLocalVar).Return()
	b.Proc("talk_p_proc", 0, 0)
	b.Enter().Op(opcode.Suspend).Int(1).Int(7).Op(opcode.SetLocalVar).Return()
	b.Proc("map_enter_p_proc", 0, 0)
	b.Enter().Int(1).Int(5).Op(opcode.SetLocalVar).Return()
	b.Proc("map_update_p_proc", 0, 0)
	b.Enter().Int(0).Int(1).Op(opcode.MapVar).Op(opcode.SetMapVar).Return()
	b.Proc("timed_event_p_proc", 0, 0)
	b.Enter().Int(5).Int(100).Int(0).Int(int32(progGuard)).Op(opcode.CreateObjectSid).Op(opcode.Pop).Return()
	b.Proc("self", 0, 0)
	b.Enter().Op(opcode.SelfObj).ReturnValue()
	b.Proc("crash", 0, 0)
	b.Enter().Raw(0x7FFF)
	b.Proc("chat", 0, 0)
	b.Enter().Op(opcode.GsayStart).Return()
	return b
}

func mapProgram() *asm.Builder {
	b := asm.New()
	b.Proc("map_enter_p_proc", 0, 0)
	b.Enter().Int(0).Int(99).Op(opcode.SetGlobalVar).Return()
	b.Proc("map_update_p_proc", 0, 0)
	b.Enter().Int(1).Int(1).Op(opcode.SetMapVar).Return()
	return b
}

func guardProgram() *asm.Builder {
	b := asm.New()
	b.Proc("talk_p_proc", 0, 0)
	b.Enter().Int(int32(progGuard)).Int(100).Op(opcode.MessageStr).ReturnValue()
	return b
}

func testFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string][]byte{
		"Scripts/Scripts.LST":           []byte(scriptList),
		"Scripts/Counter.INT":           counterProgram().MustBuild(),
		"Scripts/map.int":               mapProgram().MustBuild(),
		"Scripts/guard.int":             guardProgram().MustBuild(),
		"Text/English/Dialog/Guard.msg": []byte("{100}{}{Halt!}\n{101}{}{I come\nin peace.}\n"),
		"Text/English/Game/PROTO.MSG":   []byte("{650}{}{[Done]}\n"),
	}
	for name, data := range files {
		if err := afero.WriteFile(fsys, name, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fsys
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(testFS(t), WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	return db
}

func newTestScripts(t *testing.T) *Scripts {
	t.Helper()
	machine := vm.New(vm.WithLogger(logger.Discard()))
	s := New(newTestDB(t), machine, WithLogger(logger.Discard()))
	s.Vars.GlobalVars = make([]int32, 4)
	s.Vars.MapVars = make([]int32, 4)
	return s
}

func mustInstantiate(t *testing.T, s *Scripts, sid ScriptIID, id ProgramID) {
	t.Helper()
	if err := s.Instantiate(sid, id); err != nil {
		t.Fatalf("Instantiate %s: %v", sid, err)
	}
}

// fakeWorld creates objects with increasing handles starting at 50.
type fakeWorld struct {
	next     vm.ObjectHandle
	critters bool
}

func newFakeWorld(critters bool) *fakeWorld {
	return &fakeWorld{next: 50, critters: critters}
}

func (w *fakeWorld) DudeObj() vm.ObjectHandle                      { return 1 }
func (w *fakeWorld) ObjectName(obj vm.ObjectHandle) (string, bool) { return "", false }
func (w *fakeWorld) ObjectPID(obj vm.ObjectHandle) (int32, bool)   { return 0, false }
func (w *fakeWorld) DestroyObject(obj vm.ObjectHandle) error       { return nil }
func (w *fakeWorld) IsCritter(obj vm.ObjectHandle) bool            { return w.critters }
func (w *fakeWorld) CreateObject(pid, tile, elevation int32) (vm.ObjectHandle, error) {
	obj := w.next
	w.next++
	return obj, nil
}

func testEnv(w vm.World) *vm.Context {
	ctx := vm.NewContext()
	if w != nil {
		ctx.World = w
	}
	return ctx
}
