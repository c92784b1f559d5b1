package window

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pingw33n/vault13-sub000/pkg/dialog"
	"github.com/pingw33n/vault13-sub000/pkg/host"
	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// fakeScene talks through a scripted two-option dialog with object 2.
type fakeScene struct {
	objects  []*host.Object
	log      *host.MessageLog
	dialog   *dialog.Dialog
	advanced time.Duration
	saved    bool
	picks    []int
}

func newFakeScene() *fakeScene {
	return &fakeScene{
		objects: []*host.Object{
			{Handle: 1, Name: "Vault Dweller", Critter: true},
			{Handle: 2, Name: "Guard", Critter: true, Tile: 100},
			{Handle: 3, Name: "Rock", Tile: 101},
		},
		log:    host.NewMessageLog(0, nil, logger.Discard()),
		dialog: dialog.New(logger.Discard()),
	}
}

func (s *fakeScene) Objects() []*host.Object      { return s.objects }
func (s *fakeScene) Messages() []host.Entry       { return s.log.Entries() }
func (s *fakeScene) Conversation() *dialog.Dialog { return s.dialog }
func (s *fakeScene) TimeOfDay() int32             { return 800 + int32(s.advanced/time.Minute) }
func (s *fakeScene) Paused() bool                 { return s.dialog.Running() }
func (s *fakeScene) Advance(d time.Duration)      { s.advanced += d }

func (s *fakeScene) Save() error {
	s.saved = true
	return nil
}

func (s *fakeScene) Restore() error {
	if !s.saved {
		return errors.New("nothing saved")
	}
	return nil
}

func (s *fakeScene) Talk(obj vm.ObjectHandle) error {
	if obj != 2 {
		return errors.New("object has no script")
	}
	if err := s.dialog.Start(obj, 0); err != nil {
		return err
	}
	s.dialog.SetReply("Halt!")
	s.dialog.AddOption("Who are you?", 1)
	s.dialog.AddOption("Bye.", -1)
	s.dialog.Wait()
	return nil
}

func (s *fakeScene) Look(obj vm.ObjectHandle) error {
	for _, o := range s.objects {
		if o.Handle == obj {
			s.log.DisplayMessage("You see: " + o.Name + ".")
			return nil
		}
	}
	return errors.New("no object")
}

func (s *fakeScene) Pick(i int) error {
	o, err := s.dialog.Pick(i)
	if err != nil {
		return err
	}
	s.picks = append(s.picks, i)
	if o.Ends() {
		s.dialog.End()
		s.log.FloatMessage(2, "Move along.", 0)
		return nil
	}
	s.dialog.SetReply("I guard this place.")
	s.dialog.AddOption("Bye.", -1)
	s.dialog.Wait()
	return nil
}

func TestNewGame(t *testing.T) {
	scene := newFakeScene()
	game := NewGame(scene, 100*time.Millisecond, 10*time.Second)
	if game.Mode() != ModeMap {
		t.Errorf("expected ModeMap, got %v", game.Mode())
	}
	if game.selectedIndex != 0 || game.timeout != 10*time.Second {
		t.Errorf("unexpected game %+v", game)
	}
	if w, h := game.Layout(0, 0); w != screenWidth || h != screenHeight {
		t.Errorf("Layout = %dx%d", w, h)
	}
}

func TestUpdate_Timeout(t *testing.T) {
	game := NewGame(newFakeScene(), 0, time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	if err := game.Update(); err == nil {
		t.Error("expected termination after timeout")
	}
}

func TestGame_Advance(t *testing.T) {
	scene := newFakeScene()
	game := NewGame(scene, 50*time.Millisecond, 0)
	start := game.lastTick

	game.advance(start.Add(30 * time.Millisecond))
	if scene.advanced != 0 {
		t.Errorf("advanced %v before a full tick", scene.advanced)
	}
	game.advance(start.Add(160 * time.Millisecond))
	if scene.advanced != 3*vm.TickDuration {
		t.Errorf("advanced %v, want 3 ticks", scene.advanced)
	}
	game.advance(start.Add(200 * time.Millisecond))
	if scene.advanced != 4*vm.TickDuration {
		t.Errorf("advanced %v, want 4 ticks", scene.advanced)
	}

	stopped := NewGame(scene, 0, 0)
	stopped.advance(time.Now().Add(time.Hour))
	if scene.advanced != 4*vm.TickDuration {
		t.Error("a zero tick must not advance time")
	}
}

func TestGame_TalkAndPick(t *testing.T) {
	scene := newFakeScene()
	game := NewGame(scene, 0, 0)

	game.moveSelection(1, len(scene.objects))
	game.act(scene.objects, scene.Talk)
	if game.Mode() != ModeDialog || game.status != "" {
		t.Fatalf("mode %v status %q", game.Mode(), game.status)
	}
	if got := OptionLines(scene.dialog.Options()); len(got) != 2 || got[0] != "1. Who are you?" {
		t.Errorf("OptionLines = %q", got)
	}

	game.pick(0)
	game.moveSelection(5, len(scene.dialog.Options()))
	if game.selectedIndex != 0 {
		t.Errorf("selection must stay within the options, got %d", game.selectedIndex)
	}
	game.pick(game.selectedIndex)
	if game.Mode() != ModeMap {
		t.Error("dialog should be over")
	}

	game.moveSelection(2, len(scene.objects))
	game.act(scene.objects, scene.Talk)
	if game.status == "" {
		t.Error("talking to a rock should report an error")
	}
	game.moveSelection(-10, len(scene.objects))
	if game.selectedIndex != 0 {
		t.Errorf("selectedIndex = %d", game.selectedIndex)
	}
}

func TestRunHeadless_Session(t *testing.T) {
	scene := newFakeScene()
	input := strings.Join([]string{
		"help",
		"look 3",
		"talk 2",
		"1",
		"1",
		"wait 120",
		"talk 9",
		"load",
		"save",
		"load",
		"dance",
		"q",
	}, "\n")
	var out bytes.Buffer
	if err := RunHeadless(scene, 0, strings.NewReader(input), &out); err != nil {
		t.Fatalf("RunHeadless: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"  2: [2] Guard (critter, tile 100)",
		"Commands:",
		"You see: Rock.",
		"Halt!",
		"  2. Bye.",
		"choice> ",
		"I guard this place.",
		"[2] Move along.",
		"Time is 08:02.",
		"Error: no object \"9\"",
		"Error: nothing saved",
		"Saved.",
		"Restored.",
		"Unknown command \"dance\"",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q\n%s", want, got)
		}
	}
	if len(scene.picks) != 2 {
		t.Errorf("picks = %v", scene.picks)
	}
}

func TestRunHeadless_EndOfInput(t *testing.T) {
	if err := RunHeadless(newFakeScene(), 0, strings.NewReader("ls\n"), io.Discard); err != nil {
		t.Errorf("RunHeadless: %v", err)
	}
}

func TestRunHeadless_Timeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	var out bytes.Buffer
	err := RunHeadless(newFakeScene(), 20*time.Millisecond, r, &out)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
