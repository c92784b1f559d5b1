// Package dialog holds the state of the conversation window that scripts
// drive through the gsay_* instructions.
package dialog

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

var (
	// ErrNotRunning is returned when picking with no dialog open.
	ErrNotRunning = errors.New("dialog is not running")
	// ErrNotWaiting is returned when picking before the script asked for a
	// choice.
	ErrNotWaiting = errors.New("dialog is not waiting for a choice")
)

// Option is one player choice.
type Option struct {
	Text string
	// Proc is the procedure run when the option is picked, or -1 if picking
	// it ends the dialog.
	Proc vm.ProcID
}

// Ends reports whether picking the option ends the dialog.
func (o Option) Ends() bool { return o.Proc < 0 }

// Dialog implements vm.Dialog. It is not safe for concurrent use.
type Dialog struct {
	log       *slog.Logger
	running   bool
	waiting   bool
	obj       vm.ObjectHandle
	programID int32
	reply     string
	options   []Option
	onChange  func()
}

// New creates a closed dialog.
func New(log *slog.Logger) *Dialog {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Dialog{log: log}
}

// OnChange registers f to run after every change visible to the player.
func (d *Dialog) OnChange(f func()) {
	d.onChange = f
}

func (d *Dialog) changed() {
	if d.onChange != nil {
		d.onChange()
	}
}

// Start opens the dialog with obj, whose messages come from programID.
func (d *Dialog) Start(obj vm.ObjectHandle, programID int32) error {
	if d.running {
		return fmt.Errorf("dialog with %d already running", d.obj)
	}
	d.running = true
	d.waiting = false
	d.obj = obj
	d.programID = programID
	d.reply = ""
	d.options = nil
	d.log.Debug("dialog started", "obj", obj, "program", programID)
	d.changed()
	return nil
}

// SetReply sets the text the talked-to object says.
func (d *Dialog) SetReply(text string) {
	d.reply = text
	d.changed()
}

// ClearOptions removes every option.
func (d *Dialog) ClearOptions() {
	d.options = nil
	d.changed()
}

// AddOption appends a choice.
func (d *Dialog) AddOption(text string, proc vm.ProcID) {
	d.options = append(d.options, Option{Text: text, Proc: proc})
	d.changed()
}

// Wait marks the dialog as waiting for the player.
func (d *Dialog) Wait() {
	d.waiting = true
	d.changed()
}

// End closes the dialog.
func (d *Dialog) End() {
	if !d.running {
		return
	}
	d.log.Debug("dialog ended", "obj", d.obj)
	d.running = false
	d.waiting = false
	d.options = nil
	d.reply = ""
	d.changed()
}

// Running reports whether the dialog is open.
func (d *Dialog) Running() bool { return d.running }

// Waiting reports whether the player is expected to pick an option.
func (d *Dialog) Waiting() bool { return d.running && d.waiting }

// Object returns the talked-to object.
func (d *Dialog) Object() vm.ObjectHandle { return d.obj }

// ProgramID returns the program whose messages the dialog shows.
func (d *Dialog) ProgramID() int32 { return d.programID }

// Reply returns the current reply text.
func (d *Dialog) Reply() string { return d.reply }

// Options returns a copy of the current options.
func (d *Dialog) Options() []Option {
	return append([]Option(nil), d.options...)
}

// Pick selects option i. The options are cleared and the dialog stops
// waiting; the caller runs the option's procedure.
func (d *Dialog) Pick(i int) (Option, error) {
	if !d.running {
		return Option{}, ErrNotRunning
	}
	if !d.waiting {
		return Option{}, ErrNotWaiting
	}
	if i < 0 || i >= len(d.options) {
		return Option{}, fmt.Errorf("no option %d (have %d)", i, len(d.options))
	}
	o := d.options[i]
	d.options = nil
	d.waiting = false
	d.log.Debug("dialog option picked", "index", i, "text", o.Text, "proc", o.Proc)
	d.changed()
	return o, nil
}

var _ vm.Dialog = (*Dialog)(nil)
