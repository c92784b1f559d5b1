package host

import (
	"log/slog"
	"sort"
	"time"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// Timer is a pending timed event.
type Timer struct {
	Object vm.ObjectHandle
	// At is the clock time the event fires at.
	At    time.Duration
	Param int32
	seq   uint64
}

// Timers implements vm.Sequencer on top of a Clock.
type Timers struct {
	log    *slog.Logger
	clock  *Clock
	timers []Timer
	seq    uint64
}

// NewTimers creates an empty queue driven by clock.
func NewTimers(clock *Clock, log *slog.Logger) *Timers {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Timers{log: log, clock: clock}
}

func (t *Timers) AddTimer(obj vm.ObjectHandle, delay time.Duration, param int32) {
	tm := Timer{Object: obj, At: t.clock.Elapsed() + max(delay, 0), Param: param, seq: t.seq}
	t.seq++
	i := sort.Search(len(t.timers), func(i int) bool { return t.timers[i].At > tm.At })
	t.timers = append(t.timers, Timer{})
	copy(t.timers[i+1:], t.timers[i:])
	t.timers[i] = tm
	t.log.Debug("timer added", "obj", obj, "at", tm.At, "param", param)
}

func (t *Timers) RemoveTimers(obj vm.ObjectHandle) {
	kept := t.timers[:0]
	for _, tm := range t.timers {
		if tm.Object != obj {
			kept = append(kept, tm)
		}
	}
	clear(t.timers[len(kept):])
	t.timers = kept
}

// Len returns the number of pending timers.
func (t *Timers) Len() int { return len(t.timers) }

// Due removes and returns the timers whose time has come, in firing order.
// Timers with the same time fire in the order they were added.
func (t *Timers) Due() []Timer {
	now := t.clock.Elapsed()
	n := sort.Search(len(t.timers), func(i int) bool { return t.timers[i].At > now })
	if n == 0 {
		return nil
	}
	due := append([]Timer(nil), t.timers[:n]...)
	t.timers = append(t.timers[:0], t.timers[n:]...)
	return due
}

// Clear drops every pending timer.
func (t *Timers) Clear() { t.timers = nil }

var _ vm.Sequencer = (*Timers)(nil)
