package host

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// Clock is the game time. It only moves when advanced.
type Clock struct {
	start   time.Duration
	elapsed time.Duration
}

// NewClock starts the clock at hhmm, such as 721 for 07:21.
func NewClock(hhmm int32) *Clock {
	h, m := hhmm/100, hhmm%100
	return &Clock{start: time.Duration(h)*time.Hour + time.Duration(m)*time.Minute}
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	if d > 0 {
		c.elapsed += d
	}
}

// Elapsed returns the game time passed since the clock started.
func (c *Clock) Elapsed() time.Duration { return c.elapsed }

// Ticks returns the elapsed time in game ticks.
func (c *Clock) Ticks() int64 { return int64(c.elapsed / vm.TickDuration) }

// HourMinute returns the time of day as hhmm.
func (c *Clock) HourMinute() int32 {
	t := (c.start + c.elapsed) % (24 * time.Hour)
	return int32(t/time.Hour)*100 + int32(t%time.Hour/time.Minute)
}

// Metarule answers one engine query.
type Metarule func(arg vm.Value) vm.Value

func constant(v int32) Metarule {
	return func(vm.Value) vm.Value { return vm.Int(v) }
}

// defaultMetarules are the engine queries with fixed answers.
var defaultMetarules = map[int32]Metarule{
	13: constant(0), // signal end game
	14: constant(1), // first run of the map
	15: constant(0), // elevator
	16: constant(0), // party count
	17: constant(1), // area known
	18: constant(0), // who on drugs
	19: constant(1), // map known
	22: constant(0), // is load game
	46: constant(0), // current town
	47: constant(0), // language filter
	48: constant(0), // violence filter
}

// Rules implements vm.Rules.
type Rules struct {
	log       *slog.Logger
	rng       *rand.Rand
	clock     *Clock
	exp       int32
	iq        int32
	metarules map[int32]Metarule
}

// NewRules creates the rules service. The same seed gives the same random
// sequence.
func NewRules(seed uint64, clock *Clock, log *slog.Logger) *Rules {
	if log == nil {
		log = logger.GetLogger()
	}
	r := &Rules{
		log:       log,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		clock:     clock,
		iq:        5,
		metarules: make(map[int32]Metarule, len(defaultMetarules)),
	}
	for id, f := range defaultMetarules {
		r.metarules[id] = f
	}
	return r
}

// SetMetarule installs or replaces the answer to query id.
func (r *Rules) SetMetarule(id int32, f Metarule) {
	r.metarules[id] = f
}

// SetPlayerIQ sets the player's intelligence.
func (r *Rules) SetPlayerIQ(iq int32) { r.iq = iq }

// Experience returns the experience points given so far.
func (r *Rules) Experience() int32 { return r.exp }

// Random returns a number in [from, to]. Reversed bounds are swapped.
func (r *Rules) Random(from, to int32) int32 {
	if from > to {
		from, to = to, from
	}
	return from + int32(r.rng.Int64N(int64(to)-int64(from)+1))
}

func (r *Rules) GameTimeHour() int32 {
	if r.clock == nil {
		return 0
	}
	return r.clock.HourMinute()
}

func (r *Rules) GiveExpPoints(points int32) {
	r.exp += points
	r.log.Info("experience gained", "points", points, "total", r.exp)
}

func (r *Rules) PlayerIQ() int32 { return r.iq }

func (r *Rules) Metarule(id int32, arg vm.Value) (vm.Value, bool) {
	f, ok := r.metarules[id]
	if !ok {
		return vm.None(), false
	}
	return f(arg), true
}

var _ vm.Rules = (*Rules)(nil)
