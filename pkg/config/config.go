// Package config handles the harness TOML configuration: where the game data
// lives, how the VM is tuned, and the scene to set up before running scripts.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/pingw33n/vault13-sub000/pkg/fileutil"
)

const (
	DefaultLanguage    = "english"
	DefaultEncoding    = "windows-1252"
	DefaultMaxStackLen = 2000
	DefaultGlobalVars  = 1024
	DefaultMapVars     = 256
	DefaultTickRate    = 10
	DefaultStartTime   = 800
)

// Config is the harness configuration.
type Config struct {
	Data  Data     `toml:"data"`
	VM    VM       `toml:"vm"`
	Game  Game     `toml:"game"`
	Map   Map      `toml:"map"`
	Proto []Proto  `toml:"proto"`
	Obj   []Object `toml:"object"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Data locates the game files.
type Data struct {
	Dir      string `toml:"dir"`
	Language string `toml:"language"`
	Encoding string `toml:"encoding"`
}

// VM tunes the interpreter.
type VM struct {
	MaxStackLen     int  `toml:"max-stack-len"`
	StrictVarBounds bool `toml:"strict-var-bounds"`
}

// Game sizes the persistent variables and the game clock.
type Game struct {
	GlobalVars int    `toml:"global-vars"`
	MapVars    int    `toml:"map-vars"`
	TickRate   int    `toml:"tick-rate"`
	StartTime  int32  `toml:"start-time"`
	Seed       uint64 `toml:"seed"`
	PlayerIQ   int32  `toml:"player-iq"`
}

// Map names the map script.
type Map struct {
	ID     int32  `toml:"id"`
	Script string `toml:"script"`
}

// Proto declares an object prototype.
type Proto struct {
	PID     int32  `toml:"pid"`
	Name    string `toml:"name"`
	Critter bool   `toml:"critter"`
}

// Object places an object on the map, optionally with a script attached.
type Object struct {
	PID       int32  `toml:"pid"`
	Tile      int32  `toml:"tile"`
	Elevation int32  `toml:"elevation"`
	Script    string `toml:"script"`
	Dude      bool   `toml:"dude"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses the TOML file at path.
func Load(fsys afero.Fs, path string) (*Config, error) {
	data, err := fileutil.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Parse decodes a configuration document and fills in defaults.
func Parse(doc string) (*Config, error) {
	var c Config
	md, err := toml.Decode(doc, &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Data.Language == "" {
		c.Data.Language = DefaultLanguage
	}
	if c.Data.Encoding == "" {
		c.Data.Encoding = DefaultEncoding
	}
	if c.VM.MaxStackLen == 0 {
		c.VM.MaxStackLen = DefaultMaxStackLen
	}
	if c.Game.GlobalVars == 0 {
		c.Game.GlobalVars = DefaultGlobalVars
	}
	if c.Game.MapVars == 0 {
		c.Game.MapVars = DefaultMapVars
	}
	if c.Game.TickRate == 0 {
		c.Game.TickRate = DefaultTickRate
	}
	if c.Game.StartTime == 0 {
		c.Game.StartTime = DefaultStartTime
	}
	if c.Game.PlayerIQ == 0 {
		c.Game.PlayerIQ = 5
	}
}

// Validate checks value ranges and cross references.
func (c *Config) Validate() error {
	if c.VM.MaxStackLen < 0 {
		return fmt.Errorf("vm.max-stack-len must be non-negative, got %d", c.VM.MaxStackLen)
	}
	if c.Game.GlobalVars < 0 || c.Game.MapVars < 0 {
		return fmt.Errorf("variable counts must be non-negative")
	}
	if c.Game.TickRate < 0 {
		return fmt.Errorf("game.tick-rate must be non-negative, got %d", c.Game.TickRate)
	}
	if h, m := c.Game.StartTime/100, c.Game.StartTime%100; c.Game.StartTime < 0 || h > 23 || m > 59 {
		return fmt.Errorf("game.start-time %d is not a valid hhmm time", c.Game.StartTime)
	}
	if _, err := c.TextEncoding(); err != nil {
		return err
	}
	pids := make(map[int32]bool, len(c.Proto))
	for _, p := range c.Proto {
		if pids[p.PID] {
			return fmt.Errorf("duplicate proto %d", p.PID)
		}
		pids[p.PID] = true
	}
	dudes := 0
	for i, o := range c.Obj {
		if !pids[o.PID] {
			return fmt.Errorf("object %d: unknown proto %d", i, o.PID)
		}
		if o.Dude {
			dudes++
		}
	}
	if dudes > 1 {
		return fmt.Errorf("%d objects marked as dude", dudes)
	}
	return nil
}

// TextEncoding resolves Data.Encoding to an encoding of script and message
// text.
func (c *Config) TextEncoding() (encoding.Encoding, error) {
	name := strings.ToLower(strings.TrimSpace(c.Data.Encoding))
	switch name {
	case "", "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "cp866", "ibm866":
		return charmap.CodePage866, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported text encoding %q", c.Data.Encoding)
	}
	return enc, nil
}

// TickInterval returns the wall-clock time between game ticks.
func (c *Config) TickInterval() time.Duration {
	if c.Game.TickRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.Game.TickRate)
}
