package script

import (
	"log/slog"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"

	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

var (
	// ErrUnknownScript is returned for a ScriptIID with no instance.
	ErrUnknownScript = errors.New("unknown script")
	// ErrDeadScript is returned for an instance disabled by an earlier
	// failure.
	ErrDeadScript = errors.New("script is dead")
	// ErrDuplicateScript is returned when instantiating an existing id.
	ErrDuplicateScript = errors.New("duplicate script id")
	// ErrNothingToResume is returned by Resume with an empty suspend stack.
	ErrNothingToResume = errors.New("no suspended script")
)

// CritterClassifier is implemented by worlds that can tell critters from
// other objects. Scripts created by create_object_sid get KindCritter for
// critters and KindItem otherwise.
type CritterClassifier interface {
	IsCritter(obj vm.ObjectHandle) bool
}

// Script is one script instance.
type Script struct {
	SID       ScriptIID
	ProgramID ProgramID
	// Object is the map object the script is attached to, or null.
	Object vm.ObjectHandle
	// LocalVars persist across invocations of this instance.
	LocalVars []int32

	handle  vm.Handle
	program *vm.Program
	dead    bool
}

// Program returns the instance's program.
func (s *Script) Program() *vm.Program { return s.program }

// Dead reports whether the instance was disabled by a failure.
func (s *Script) Dead() bool { return s.dead }

// Vars are the variables shared between script instances.
type Vars struct {
	MapVars      []int32
	GlobalVars   []int32
	ExternalVars vm.ExternalVars
}

type pendingScript struct {
	obj       vm.ObjectHandle
	programID ProgramID
	kind      Kind
}

// Scripts owns the script instances of a session. It is not safe for
// concurrent use.
type Scripts struct {
	db       *DB
	vm       *vm.Vm
	log      *slog.Logger
	programs map[ProgramID]*vm.Program
	scripts  *orderedmap.OrderedMap[ScriptIID, *Script]
	mapSID   ScriptIID
	hasMap   bool
	// Vars are the map, global and external variables.
	Vars      Vars
	suspended []ScriptIID
	pending   []pendingScript
}

// New creates an empty manager. Programs are loaded from db and run on
// machine.
func New(db *DB, machine *vm.Vm, opts ...Option) *Scripts {
	o := newOptions(opts)
	return &Scripts{
		db:       db,
		vm:       machine,
		log:      o.log,
		programs: make(map[ProgramID]*vm.Program),
		scripts:  orderedmap.NewOrderedMap[ScriptIID, *Script](),
		Vars:     Vars{ExternalVars: make(vm.ExternalVars)},
	}
}

// DB returns the script database.
func (s *Scripts) DB() *DB { return s.db }

// Len returns the number of instances.
func (s *Scripts) Len() int { return s.scripts.Len() }

// Get returns the instance sid.
func (s *Scripts) Get(sid ScriptIID) (*Script, bool) {
	return s.scripts.Get(sid)
}

// SIDs returns the ids of all instances in creation order.
func (s *Scripts) SIDs() []ScriptIID {
	return s.scripts.Keys()
}

// MapSID returns the id of the map script.
func (s *Scripts) MapSID() (ScriptIID, bool) {
	return s.mapSID, s.hasMap
}

// NextSID returns an unused id of the given kind, one past the largest in
// use.
func (s *Scripts) NextSID(kind Kind) ScriptIID {
	var next uint32
	for el := s.scripts.Front(); el != nil; el = el.Next() {
		if el.Key.Kind() == kind && el.Key.ID() >= next {
			next = el.Key.ID() + 1
		}
	}
	return NewScriptIID(kind, next)
}

func (s *Scripts) program(id ProgramID) (*vm.Program, Info, error) {
	info, ok := s.db.Info(id)
	if !ok {
		return nil, Info{}, errors.Errorf("program id %d out of range", id)
	}
	if p, ok := s.programs[id]; ok {
		return p, info, nil
	}
	code, info, err := s.db.Load(id)
	if err != nil {
		return nil, Info{}, err
	}
	p, err := s.vm.Load(info.Name+".int", code)
	if err != nil {
		return nil, Info{}, errors.Wrapf(err, "loading program %d", id)
	}
	s.programs[id] = p
	return p, info, nil
}

// Instantiate creates instance sid running program id. All instances of a
// program share the parsed Program.
func (s *Scripts) Instantiate(sid ScriptIID, id ProgramID) error {
	if _, ok := s.scripts.Get(sid); ok {
		return errors.Wrapf(ErrDuplicateScript, "instantiating %s", sid)
	}
	p, info, err := s.program(id)
	if err != nil {
		return err
	}
	sc := &Script{
		SID:       sid,
		ProgramID: id,
		LocalVars: make([]int32, info.LocalVarCount),
		handle:    s.vm.Insert(p),
		program:   p,
	}
	s.scripts.Set(sid, sc)
	s.log.Debug("script instantiated", "sid", sid.String(), "program", p.Name(), "local_vars", info.LocalVarCount)
	return nil
}

// InstantiateMapScript creates the map script from program id.
func (s *Scripts) InstantiateMapScript(id ProgramID) (ScriptIID, error) {
	sid := s.NextSID(KindSystem)
	if err := s.Instantiate(sid, id); err != nil {
		return 0, err
	}
	s.mapSID = sid
	s.hasMap = true
	return sid, nil
}

// AttachToObject binds instance sid to obj, which becomes self_obj of its
// invocations.
func (s *Scripts) AttachToObject(sid ScriptIID, obj vm.ObjectHandle) error {
	sc, ok := s.scripts.Get(sid)
	if !ok {
		return errors.Wrapf(ErrUnknownScript, "attaching %s", sid)
	}
	sc.Object = obj
	return nil
}

// ByObject returns the first live instance attached to obj.
func (s *Scripts) ByObject(obj vm.ObjectHandle) (ScriptIID, bool) {
	if obj == vm.NullObject {
		return 0, false
	}
	for el := s.scripts.Front(); el != nil; el = el.Next() {
		if el.Value.Object == obj && !el.Value.dead {
			return el.Key, true
		}
	}
	return 0, false
}

// Reset drops every instance and the map-scoped variables. Global variables
// and loaded programs are kept.
func (s *Scripts) Reset() {
	for el := s.scripts.Front(); el != nil; el = el.Next() {
		s.vm.Remove(el.Value.handle)
	}
	s.scripts = orderedmap.NewOrderedMap[ScriptIID, *Script]()
	clear(s.Vars.MapVars)
	s.Vars.ExternalVars = make(vm.ExternalVars)
	s.suspended = nil
	s.pending = nil
	s.hasMap = false
	s.mapSID = 0
}

func (s *Scripts) lookup(sid ScriptIID) (*Script, error) {
	sc, ok := s.scripts.Get(sid)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownScript, "%s", sid)
	}
	if sc.dead {
		return nil, errors.Wrapf(ErrDeadScript, "%s (%s)", sid, sc.program.Name())
	}
	return sc, nil
}

// context builds the invocation context of sc from the host-supplied env.
func (s *Scripts) context(sc *Script, env *vm.Context) *vm.Context {
	var ctx vm.Context
	if env != nil {
		ctx = *env
	} else {
		ctx.Skill = -1
	}
	ctx.LocalVars = sc.LocalVars
	ctx.MapVars = s.Vars.MapVars
	ctx.GlobalVars = s.Vars.GlobalVars
	ctx.ExternalVars = s.Vars.ExternalVars
	ctx.SelfObj = sc.Object
	ctx.Messages = s
	ctx.Scripts = &spawner{scripts: s, world: ctx.World}
	return &ctx
}

// ExecuteProc invokes procedure proc of instance sid. A suspended
// invocation is pushed on the suspend stack. An instance whose invocation
// fails is logged and marked dead.
func (s *Scripts) ExecuteProc(sid ScriptIID, proc vm.ProcID, env *vm.Context, args ...vm.Value) (vm.InvocationResult, error) {
	sc, err := s.lookup(sid)
	if err != nil {
		return vm.InvocationResult{}, err
	}
	if p, ok := sc.program.Proc(proc); ok {
		s.log.Debug("executing proc", "sid", sid.String(), "program", sc.program.Name(), "proc", p.Name)
	}
	r, err := s.vm.ExecuteProc(sc.handle, proc, s.context(sc, env), args...)
	return s.settle(sc, r, err)
}

// ExecuteProcName invokes the procedure named name of instance sid.
func (s *Scripts) ExecuteProcName(sid ScriptIID, name string, env *vm.Context, args ...vm.Value) (vm.InvocationResult, error) {
	sc, err := s.lookup(sid)
	if err != nil {
		return vm.InvocationResult{}, err
	}
	id, ok := sc.program.ProcID(name)
	if !ok {
		return vm.InvocationResult{}, vm.NewError(vm.ErrorUnresolvedProcedure, "no procedure named %s in %s", name, sc.program.Name())
	}
	return s.ExecuteProc(sid, id, env, args...)
}

// HasPredefinedProc reports whether instance sid implements role.
func (s *Scripts) HasPredefinedProc(sid ScriptIID, role vm.PredefinedProc) bool {
	sc, ok := s.scripts.Get(sid)
	if !ok {
		return false
	}
	_, ok = sc.program.PredefinedProcID(role)
	return ok
}

// ExecutePredefinedProc invokes the procedure implementing role. ok is
// false if the program does not implement it.
func (s *Scripts) ExecutePredefinedProc(sid ScriptIID, role vm.PredefinedProc, env *vm.Context) (r vm.InvocationResult, ok bool, err error) {
	sc, err := s.lookup(sid)
	if err != nil {
		return vm.InvocationResult{}, false, err
	}
	id, ok := sc.program.PredefinedProcID(role)
	if !ok {
		return vm.InvocationResult{}, false, nil
	}
	r, err = s.ExecuteProc(sid, id, env)
	return r, true, err
}

// ExecuteProcs invokes role on every live instance accepted by filter, in
// creation order. Failures are logged and do not stop the sweep. It returns
// the number of instances invoked.
func (s *Scripts) ExecuteProcs(role vm.PredefinedProc, env *vm.Context, filter func(ScriptIID) bool) int {
	n := 0
	for _, sid := range s.scripts.Keys() {
		if filter != nil && !filter(sid) {
			continue
		}
		sc, ok := s.scripts.Get(sid)
		if !ok || sc.dead {
			continue
		}
		r, ok, err := s.ExecutePredefinedProc(sid, role, env)
		if !ok {
			continue
		}
		n++
		if err == nil && r.Suspended() {
			s.log.Warn("script suspended in sweep", "sid", sid.String(), "proc", role.Name())
		}
	}
	return n
}

// ExecuteMapProcs invokes a map-wide role: the map script first, then every
// other instance. MapEnter is not sent to the map script, which receives it
// separately right after the map loads.
func (s *Scripts) ExecuteMapProcs(role vm.PredefinedProc, env *vm.Context) int {
	n := 0
	if role != vm.ProcMapEnter && s.hasMap {
		if sc, ok := s.scripts.Get(s.mapSID); ok && !sc.dead {
			if _, ok, _ := s.ExecutePredefinedProc(s.mapSID, role, env); ok {
				n++
			}
		}
	}
	mapSID, hasMap := s.mapSID, s.hasMap
	return n + s.ExecuteProcs(role, env, func(sid ScriptIID) bool {
		return !hasMap || sid != mapSID
	})
}

// CanResume reports whether any invocation is suspended.
func (s *Scripts) CanResume() bool { return len(s.suspended) > 0 }

// Suspended returns the suspend stack, bottom first.
func (s *Scripts) Suspended() []ScriptIID {
	return append([]ScriptIID(nil), s.suspended...)
}

// Resume continues the most recently suspended invocation.
func (s *Scripts) Resume(env *vm.Context) (vm.InvocationResult, error) {
	n := len(s.suspended)
	if n == 0 {
		return vm.InvocationResult{}, ErrNothingToResume
	}
	sid := s.suspended[n-1]
	s.suspended = s.suspended[:n-1]
	sc, err := s.lookup(sid)
	if err != nil {
		return vm.InvocationResult{}, err
	}
	s.log.Debug("resuming", "sid", sid.String(), "program", sc.program.Name())
	r, err := s.vm.Resume(sc.handle, s.context(sc, env))
	return s.settle(sc, r, err)
}

// settle records the outcome of an invocation of sc and creates the scripts
// it requested.
func (s *Scripts) settle(sc *Script, r vm.InvocationResult, err error) (vm.InvocationResult, error) {
	defer s.instantiatePending()
	if err != nil {
		// Invalid-state errors raised before the run leave the state as it
		// was. Raised by an instruction, they fail the state like any other.
		if vm.KindOf(err) != vm.ErrorInvalidState || s.failed(sc) {
			s.kill(sc, err)
		} else if !s.vm.CanResume(sc.handle) {
			s.unsuspend(sc.SID)
		}
		return r, err
	}
	if r.Suspended() {
		s.suspended = append(s.suspended, sc.SID)
	}
	return r, nil
}

func (s *Scripts) kill(sc *Script, err error) {
	sc.dead = true
	attrs := []any{"sid", sc.SID.String(), "program", sc.program.Name(), "error", err}
	var verr *vm.Error
	if errors.As(err, &verr) {
		attrs = append(attrs, "kind", string(verr.Kind), "offset", verr.Offset, "opcode", verr.Opcode.String())
	}
	s.log.Error("script failed and is disabled", attrs...)
	s.unsuspend(sc.SID)
}

func (s *Scripts) failed(sc *Script) bool {
	st, ok := s.vm.ProgramState(sc.handle)
	return ok && st.State() == vm.StateFailed
}

// unsuspend drops every pending resume of sid.
func (s *Scripts) unsuspend(sid ScriptIID) {
	kept := s.suspended[:0]
	for _, id := range s.suspended {
		if id != sid {
			kept = append(kept, id)
		}
	}
	s.suspended = kept
}

func (s *Scripts) instantiatePending() {
	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		sid := s.NextSID(p.kind)
		if err := s.Instantiate(sid, p.programID); err != nil {
			s.log.Error("failed to create script", "program", p.programID, "error", err)
			continue
		}
		_ = s.AttachToObject(sid, p.obj)
	}
}

// Message implements vm.Messages over the script database.
func (s *Scripts) Message(programID, id int32) (string, bool) {
	var (
		msgs *Messages
		err  error
	)
	if programID == vm.GenericMessages {
		msgs, err = s.db.GenericMessages()
	} else {
		msgs, err = s.db.Messages(ProgramID(programID))
	}
	if err != nil {
		s.log.Warn("message file unavailable", "program", programID, "error", err)
		return "", false
	}
	return msgs.Text(id)
}

// spawner queues scripts requested during an invocation. They are created
// once the invocation returns.
type spawner struct {
	scripts *Scripts
	world   vm.World
}

func (sp *spawner) AttachScript(obj vm.ObjectHandle, programID int32) error {
	if programID < 0 || int(programID) >= sp.scripts.db.Len() {
		return errors.Errorf("program id %d out of range", programID)
	}
	kind := KindItem
	if c, ok := sp.world.(CritterClassifier); ok && c.IsCritter(obj) {
		kind = KindCritter
	}
	sp.scripts.pending = append(sp.scripts.pending, pendingScript{obj: obj, programID: ProgramID(programID), kind: kind})
	return nil
}
