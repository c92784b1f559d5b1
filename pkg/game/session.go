// Package game runs a scene: it owns the host services, loads the map and
// routes player actions to the scripts.
package game

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pingw33n/vault13-sub000/pkg/config"
	"github.com/pingw33n/vault13-sub000/pkg/dialog"
	"github.com/pingw33n/vault13-sub000/pkg/host"
	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/script"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// MapUpdateInterval is the game time between map_update_p_proc sweeps.
const MapUpdateInterval = 30 * time.Second

var (
	// ErrBusy is returned when an action needs the scripts idle but an
	// invocation is suspended.
	ErrBusy = errors.New("a script is suspended")
	// ErrNoScript is returned when acting on an object without a script.
	ErrNoScript = errors.New("object has no script")
	// ErrNoDialog is returned when the object's script does not talk.
	ErrNoDialog = errors.New("object does not talk")
)

// Session is a running scene. It is not safe for concurrent use.
type Session struct {
	log *slog.Logger
	cfg *config.Config

	World   *host.World
	Clock   *host.Clock
	Rules   *host.Rules
	Timers  *host.Timers
	Log     *host.MessageLog
	Dialog  *dialog.Dialog
	Scripts *script.Scripts

	dialogSID   script.ScriptIID
	sinceUpdate time.Duration
	saved       []byte
}

// NewSession creates a session over scripts. Player-visible messages are
// echoed to out when it is not nil.
func NewSession(cfg *config.Config, scripts *script.Scripts, out io.Writer, log *slog.Logger) *Session {
	if log == nil {
		log = logger.GetLogger()
	}
	clock := host.NewClock(cfg.Game.StartTime)
	rules := host.NewRules(cfg.Game.Seed, clock, log)
	rules.SetPlayerIQ(cfg.Game.PlayerIQ)
	scripts.Vars.GlobalVars = make([]int32, cfg.Game.GlobalVars)
	return &Session{
		log:     log,
		cfg:     cfg,
		World:   host.NewWorld(log),
		Clock:   clock,
		Rules:   rules,
		Timers:  host.NewTimers(clock, log),
		Log:     host.NewMessageLog(0, out, log),
		Dialog:  dialog.New(log),
		Scripts: scripts,
	}
}

// env returns the invocation context with every host service attached.
func (s *Session) env() *vm.Context {
	ctx := vm.NewContext()
	ctx.MapID = s.cfg.Map.ID
	ctx.SourceObj = s.World.DudeObj()
	ctx.World = s.World
	ctx.UI = s.Log
	ctx.Sequencer = s.Timers
	ctx.Dialog = s.Dialog
	ctx.Rules = s.Rules
	return ctx
}

func (s *Session) programID(name string) (script.ProgramID, error) {
	id, ok := s.Scripts.DB().Lookup(name)
	if !ok {
		return 0, fmt.Errorf("script %q is not in the script list", name)
	}
	return id, nil
}

// LoadMap sets up the configured scene and runs the map entry procedures:
// map_enter_p_proc of the map script, start of every object script, then
// map_enter_p_proc of every object script.
func (s *Session) LoadMap() error {
	s.Dialog.End()
	s.Timers.Clear()
	s.Scripts.Reset()
	s.Scripts.Vars.MapVars = make([]int32, s.cfg.Game.MapVars)
	s.World = host.NewWorld(s.log)
	s.dialogSID = 0
	s.sinceUpdate = 0

	for _, p := range s.cfg.Proto {
		s.World.AddProto(host.Proto{PID: p.PID, Name: p.Name, Critter: p.Critter})
	}

	if s.cfg.Map.Script != "" {
		id, err := s.programID(s.cfg.Map.Script)
		if err != nil {
			return err
		}
		if _, err := s.Scripts.InstantiateMapScript(id); err != nil {
			return fmt.Errorf("map script: %w", err)
		}
	}

	for i, o := range s.cfg.Obj {
		obj, err := s.World.Spawn(o.PID, o.Tile, o.Elevation)
		if err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		if o.Dude {
			s.World.SetDude(obj.Handle)
		}
		if o.Script == "" {
			continue
		}
		id, err := s.programID(o.Script)
		if err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		kind := script.KindItem
		if obj.Critter {
			kind = script.KindCritter
		}
		sid := s.Scripts.NextSID(kind)
		if err := s.Scripts.Instantiate(sid, id); err != nil {
			s.log.Error("script not loaded", "object", obj.Handle, "script", o.Script, "error", err)
			continue
		}
		if err := s.Scripts.AttachToObject(sid, obj.Handle); err != nil {
			return err
		}
	}

	env := s.env()
	if sid, ok := s.Scripts.MapSID(); ok {
		if r, _, err := s.Scripts.ExecutePredefinedProc(sid, vm.ProcMapEnter, env); err != nil {
			s.log.Error("map_enter_p_proc failed", "sid", sid.String(), "error", err)
		} else if r.Suspended() {
			s.log.Warn("map script suspended in map_enter_p_proc", "sid", sid.String())
		}
	}
	s.Scripts.ExecuteProcs(vm.ProcStart, env, func(sid script.ScriptIID) bool {
		return sid.Kind() != script.KindSystem
	})
	s.Scripts.ExecuteMapProcs(vm.ProcMapEnter, env)
	s.log.Info("map loaded", "map", s.cfg.Map.ID, "objects", s.World.Len(), "scripts", s.Scripts.Len())
	return nil
}

// Paused reports whether game time is stopped, which it is while any
// invocation is suspended.
func (s *Session) Paused() bool { return s.Scripts.CanResume() }

// Talk runs talk_p_proc of obj's script with the dude as source.
func (s *Session) Talk(obj vm.ObjectHandle) error {
	if s.Scripts.CanResume() {
		return ErrBusy
	}
	sid, ok := s.Scripts.ByObject(obj)
	if !ok {
		return ErrNoScript
	}
	r, ok, err := s.Scripts.ExecutePredefinedProc(sid, vm.ProcTalk, s.env())
	if err != nil {
		s.Dialog.End()
		return fmt.Errorf("talk to %d: %w", obj, err)
	}
	if !ok {
		return ErrNoDialog
	}
	if r.Suspend == vm.SuspendDialog {
		s.dialogSID = sid
	}
	return nil
}

// Pick selects dialog option i. The option's procedure runs on the script
// that opened the dialog. When it leaves no options, or the option ends the
// dialog, the suspended talk procedure resumes.
func (s *Session) Pick(i int) error {
	opt, err := s.Dialog.Pick(i)
	if err != nil {
		return err
	}
	env := s.env()
	finished := true
	if !opt.Ends() {
		r, err := s.Scripts.ExecuteProc(s.dialogSID, opt.Proc, env)
		if err != nil {
			s.log.Error("dialog option failed", "sid", s.dialogSID.String(), "proc", opt.Proc, "error", err)
			s.Dialog.End()
			return fmt.Errorf("dialog option %d: %w", i, err)
		}
		if r.Suspended() {
			s.log.Warn("dialog option suspended", "sid", s.dialogSID.String(), "proc", opt.Proc)
		}
		finished = len(s.Dialog.Options()) == 0
	}
	if !finished {
		s.Dialog.Wait()
		return nil
	}
	if !s.talkPending() {
		s.log.Warn("talk script is no longer suspended", "sid", s.dialogSID.String())
		s.Dialog.End()
		return nil
	}

	r, err := s.Scripts.Resume(env)
	if err != nil || !r.Suspended() {
		s.Dialog.End()
	}
	if err != nil {
		return fmt.Errorf("resume talk: %w", err)
	}
	return nil
}

// talkPending reports whether the script that opened the dialog is live and
// next to resume.
func (s *Session) talkPending() bool {
	suspended := s.Scripts.Suspended()
	if len(suspended) == 0 || suspended[len(suspended)-1] != s.dialogSID {
		return false
	}
	sc, ok := s.Scripts.Get(s.dialogSID)
	return ok && !sc.Dead()
}

// Continue resumes a script that suspended itself outside of a dialog.
func (s *Session) Continue() error {
	if s.Dialog.Waiting() {
		return ErrBusy
	}
	if _, err := s.Scripts.Resume(s.env()); err != nil {
		return err
	}
	return nil
}

// Look runs look_at_p_proc of obj's script, or describes the object when the
// script has none.
func (s *Session) Look(obj vm.ObjectHandle) error {
	if s.Scripts.CanResume() {
		return ErrBusy
	}
	if sid, ok := s.Scripts.ByObject(obj); ok {
		if _, ok, err := s.Scripts.ExecutePredefinedProc(sid, vm.ProcLookAt, s.env()); ok || err != nil {
			return err
		}
	}
	name, ok := s.World.ObjectName(obj)
	if !ok {
		return fmt.Errorf("no object %d", obj)
	}
	s.Log.DisplayMessage("You see: " + name + ".")
	return nil
}

// Advance moves game time forward by d, firing due timers and the periodic
// map update. Time does not move while a script is suspended.
func (s *Session) Advance(d time.Duration) {
	if s.Paused() || d <= 0 {
		return
	}
	s.Clock.Advance(d)
	for _, t := range s.Timers.Due() {
		s.fire(t)
	}
	s.sinceUpdate += d
	for s.sinceUpdate >= MapUpdateInterval {
		s.sinceUpdate -= MapUpdateInterval
		s.Scripts.ExecuteMapProcs(vm.ProcMapUpdate, s.env())
	}
}

func (s *Session) fire(t host.Timer) {
	sid, ok := s.Scripts.ByObject(t.Object)
	if !ok {
		s.log.Debug("timer for object without script", "obj", t.Object, "param", t.Param)
		return
	}
	env := s.env()
	env.FixedParam = t.Param
	r, _, err := s.Scripts.ExecutePredefinedProc(sid, vm.ProcTimedEvent, env)
	if err != nil {
		s.log.Error("timed_event_p_proc failed", "sid", sid.String(), "error", err)
		return
	}
	if r.Suspended() {
		s.log.Warn("script suspended in timed_event_p_proc", "sid", sid.String())
	}
}

// Save keeps a snapshot of the persistent script variables in memory.
func (s *Session) Save() error {
	if s.Scripts.CanResume() {
		return ErrBusy
	}
	data, err := s.Scripts.Snapshot()
	if err != nil {
		return err
	}
	s.saved = data
	return nil
}

// Restore reloads the snapshot taken by Save.
func (s *Session) Restore() error {
	if s.saved == nil {
		return errors.New("nothing saved")
	}
	s.Dialog.End()
	s.Timers.Clear()
	return s.Scripts.Restore(s.saved)
}

// Objects returns the map objects in creation order.
func (s *Session) Objects() []*host.Object { return s.World.Objects() }

// Messages returns the recent player-visible messages.
func (s *Session) Messages() []host.Entry { return s.Log.Entries() }

// Conversation returns the dialog state.
func (s *Session) Conversation() *dialog.Dialog { return s.Dialog }

// TimeOfDay returns the game time as hhmm.
func (s *Session) TimeOfDay() int32 { return s.Clock.HourMinute() }
