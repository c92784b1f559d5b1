package app

import (
	"fmt"
	"io"
	"slices"

	"github.com/pingw33n/vault13-sub000/pkg/asm"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// Listing writes the disassembly of every procedure of p, or only of the
// procedure named proc when it is not empty. A body ends where the next body
// in the file starts.
func Listing(w io.Writer, p *vm.Program, proc string) error {
	procs := p.Procs()
	starts := make([]int, 0, len(procs))
	for _, pr := range procs {
		starts = append(starts, pr.BodyPos)
	}
	slices.Sort(starts)
	starts = slices.Compact(starts)
	end := func(pos int) int {
		i, found := slices.BinarySearch(starts, pos)
		if found {
			i++
		}
		if i < len(starts) {
			return starts[i]
		}
		return len(p.Code())
	}

	if proc != "" {
		id, ok := p.ProcID(proc)
		if !ok {
			return fmt.Errorf("no procedure named %s in %s", proc, p.Name())
		}
		pr, _ := p.Proc(id)
		procs = []vm.Procedure{pr}
	}
	for _, pr := range procs {
		if _, err := fmt.Fprintf(w, "; %s args=%d flags=%s\n", pr.Name, pr.ArgCount, pr.Flags); err != nil {
			return err
		}
		if err := asm.Disassemble(w, p.Code(), pr.BodyPos, end(pr.BodyPos)); err != nil {
			return fmt.Errorf("%s: %w", pr.Name, err)
		}
	}
	return nil
}
