// Package cli parses the v13vm command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
)

// Command selects what the program does.
type Command string

const (
	// CommandRun loads a scene and runs its scripts interactively.
	CommandRun Command = "run"
	// CommandAsm assembles a source listing into a program file.
	CommandAsm Command = "asm"
	// CommandDisasm prints the listing of a program file.
	CommandDisasm Command = "disasm"
)

// Config holds the settings parsed from the command line.
type Config struct {
	Command     Command
	Args        []string      // positional arguments after the command
	ConfigPath  string        // TOML configuration file
	DataDir     string        // game data directory, overrides the config file
	Language    string        // text language, overrides the config file
	Output      string        // output file of asm
	MetricsAddr string        // address of the Prometheus endpoint, empty to disable
	Timeout     time.Duration // 0 means no limit
	LogLevel    string        // trace, debug, info, warn, error
	Headless    bool          // console instead of a window
	ShowHelp    bool
}

// ParseArgs parses args, which exclude the program name. Flags may appear
// anywhere. Environment variables HEADLESS, TIMEOUT and LOG_LEVEL apply when
// the matching flag is absent.
func ParseArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("v13vm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	config := &Config{}
	var timeoutSec int
	fs.StringVarP(&config.ConfigPath, "config", "c", "", "TOML configuration file")
	fs.StringVarP(&config.DataDir, "data", "d", "", "game data directory")
	fs.StringVar(&config.Language, "language", "", "text language")
	fs.StringVarP(&config.Output, "output", "o", "", "output file")
	fs.StringVar(&config.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.IntVarP(&timeoutSec, "timeout", "t", 0, "exit after this many seconds")
	fs.StringVarP(&config.LogLevel, "log-level", "l", "info", "log level")
	fs.BoolVar(&config.Headless, "headless", false, "console mode")
	fs.BoolVarP(&config.ShowHelp, "help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if !fs.Changed("headless") {
		if v := os.Getenv("HEADLESS"); v != "" {
			config.Headless = v == "1" || strings.ToLower(v) == "true"
		}
	}
	if !fs.Changed("timeout") {
		if v := os.Getenv("TIMEOUT"); v != "" {
			if t, err := strconv.Atoi(v); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}
	if !fs.Changed("log-level") {
		if v := os.Getenv("LOG_LEVEL"); v != "" {
			config.LogLevel = strings.ToLower(v)
		}
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", config.LogLevel)
	}

	if config.ShowHelp {
		return config, nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		config.Command = CommandRun
		return config, nil
	}
	switch Command(rest[0]) {
	case CommandRun, CommandAsm, CommandDisasm:
		config.Command = Command(rest[0])
		config.Args = rest[1:]
	default:
		config.Command = CommandRun
		config.Args = rest
	}
	switch config.Command {
	case CommandRun:
		if len(config.Args) > 1 {
			return nil, fmt.Errorf("run takes at most one data directory")
		}
		if len(config.Args) == 1 && config.DataDir == "" {
			config.DataDir = config.Args[0]
		}
	case CommandAsm:
		if len(config.Args) != 1 {
			return nil, fmt.Errorf("asm takes one source file")
		}
		if config.Output == "" {
			config.Output = strings.TrimSuffix(config.Args[0], ".asm") + ".int"
		}
	case CommandDisasm:
		if len(config.Args) < 1 || len(config.Args) > 2 {
			return nil, fmt.Errorf("disasm takes a program file and an optional procedure name")
		}
	}
	return config, nil
}

// PrintHelp writes the usage text to w.
func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `v13vm - script VM harness

Usage:
  v13vm [options] [run] [data-dir]
  v13vm [options] asm <source.asm>
  v13vm [options] disasm <program.int> [procedure]

Commands:
  run       Load the scene from the configuration and talk to its objects
  asm       Assemble a listing into a program file
  disasm    Print the listing of a program file

Options:
  -c, --config <file>         TOML configuration file
  -d, --data <dir>            game data directory
      --language <name>       text language (default: english)
  -o, --output <file>         output of asm (default: source with .int)
      --metrics-addr <addr>   serve Prometheus metrics, e.g. :9090
  -t, --timeout <seconds>     exit after the given time (default: no limit)
  -l, --log-level <level>     trace, debug, info, warn, error (default: info)
      --headless              console instead of a window
  -h, --help                  show this help

Environment Variables:
  HEADLESS=1                  console mode
  TIMEOUT=<seconds>           timeout
  LOG_LEVEL=<level>           log level

Examples:
  v13vm -c scene.toml run /games/fallout
  v13vm --headless -d /games/fallout
  v13vm asm test.asm -o test.int
  v13vm disasm scripts/test0.int talk_p_proc
`)
}
