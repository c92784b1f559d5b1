package window

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// ErrTimeout is returned by RunHeadless when the timeout expires.
var ErrTimeout = errors.New("timeout")

const consoleHelp = `Commands:
  ls              list objects, or the dialog options
  talk <n>        talk to object n
  look <n>        look at object n
  wait <seconds>  let game time pass
  save, load      snapshot and restore script variables
  q               quit
In a dialog, enter the number of an option.
`

// console is the headless front end.
type console struct {
	scene Scene
	w     io.Writer
	seen  uint64
}

// RunHeadless drives scene from lines read from r, writing to w. It returns
// nil on "q" or end of input.
func RunHeadless(scene Scene, timeout time.Duration, r io.Reader, w io.Writer) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := &console{scene: scene, w: w}
	c.flush()
	c.show()

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		fmt.Fprint(w, c.prompt())
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return ErrTimeout
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.exec(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (c *console) prompt() string {
	if c.scene.Conversation().Running() {
		return "choice> "
	}
	return "> "
}

// exec runs one command line. It reports whether to quit.
func (c *console) exec(line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	if c.scene.Conversation().Running() {
		if n, err := strconv.Atoi(cmd); err == nil {
			c.report(c.scene.Pick(n - 1))
			c.flush()
			c.show()
			return false
		}
	}

	switch cmd {
	case "q", "quit", "exit":
		return true
	case "h", "help", "?":
		fmt.Fprint(c.w, consoleHelp)
	case "ls":
		c.show()
	case "talk", "look":
		obj, err := c.object(args)
		if err != nil {
			c.report(err)
			break
		}
		if cmd == "talk" {
			c.report(c.scene.Talk(obj))
		} else {
			c.report(c.scene.Look(obj))
		}
		c.flush()
		if c.scene.Conversation().Running() {
			c.show()
		}
	case "wait":
		secs := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				c.report(fmt.Errorf("bad duration %q", args[0]))
				break
			}
			secs = n
		}
		c.scene.Advance(time.Duration(secs) * time.Second)
		c.flush()
		t := c.scene.TimeOfDay()
		fmt.Fprintf(c.w, "Time is %02d:%02d.\n", t/100, t%100)
	case "save":
		if c.report(c.scene.Save()) {
			fmt.Fprintln(c.w, "Saved.")
		}
	case "load":
		if c.report(c.scene.Restore()) {
			fmt.Fprintln(c.w, "Restored.")
		}
	default:
		fmt.Fprintf(c.w, "Unknown command %q. Type help.\n", cmd)
	}
	return false
}

// object resolves a 1-based object number.
func (c *console) object(args []string) (vm.ObjectHandle, error) {
	if len(args) != 1 {
		return vm.NullObject, errors.New("expected an object number")
	}
	n, err := strconv.Atoi(args[0])
	objs := c.scene.Objects()
	if err != nil || n < 1 || n > len(objs) {
		return vm.NullObject, fmt.Errorf("no object %q", args[0])
	}
	return objs[n-1].Handle, nil
}

func (c *console) report(err error) bool {
	if err != nil {
		fmt.Fprintf(c.w, "Error: %v\n", err)
		return false
	}
	return true
}

// flush prints the messages logged since the last call.
func (c *console) flush() {
	for _, m := range c.scene.Messages() {
		if m.Seq > c.seen {
			fmt.Fprintln(c.w, formatEntry(m))
			c.seen = m.Seq
		}
	}
}

func (c *console) show() {
	d := c.scene.Conversation()
	if d.Running() {
		fmt.Fprintf(c.w, "%s\n", d.Reply())
		for _, line := range OptionLines(d.Options()) {
			fmt.Fprintf(c.w, "  %s\n", line)
		}
		return
	}
	for i, o := range c.scene.Objects() {
		fmt.Fprintf(c.w, "  %d: %s\n", i+1, formatObject(o))
	}
}
