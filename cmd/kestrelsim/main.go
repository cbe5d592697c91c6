// Command kestrelsim replays a recorded scenario of syscall-level steps
// against the kernel packages (internal/proc, internal/sched, internal/ipc,
// internal/syscall) and narrates the result. It is not a spec.md feature —
// it is the ambient demo/test-replay harness SPEC_FULL.md adds alongside the
// kernel core, in the spirit of biscuit's own plain command-line tools
// (mkfs, stat).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// scenarioList collects one or more -scenario flags into an ordered slice,
// so a single invocation can replay several independent traces.
type scenarioList []string

func (s *scenarioList) String() string { return strings.Join(*s, ",") }
func (s *scenarioList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var scenarioPaths scenarioList
	flag.Var(&scenarioPaths, "scenario", "path to a scenario YAML file (repeatable)")
	quiet := flag.Bool("quiet", false, "skip the boot progress bar")
	flag.Parse()

	if len(scenarioPaths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: kestrelsim -scenario <path.yaml> [-scenario <path2.yaml> ...]")
		os.Exit(2)
	}

	if !*quiet {
		bootReserve(len(scenarioPaths))
	}

	// Independent scenarios touch disjoint engines, so replaying several at
	// once is embarrassingly parallel; errgroup collects the first failure
	// instead of a CLI-side WaitGroup and error slice.
	var g errgroup.Group
	for _, path := range scenarioPaths {
		path := path
		g.Go(func() error { return replay(path) })
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(bold("all scenarios complete"))
}

// replay loads and runs a single scenario file from start to finish.
func replay(path string) error {
	sc, err := loadScenario(path)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", bold(sc.Name), sc.Description)

	e, cleanup, err := newEngine(sc)
	if err != nil {
		return err
	}
	defer cleanup()

	for i, step := range sc.Steps {
		if _, err := e.run(step); err != nil {
			return fmt.Errorf("%s: step %d (%s on %s): %w", sc.Name, i, step.Op, step.Thread, err)
		}
	}

	fmt.Printf("%s: %s\n", bold(sc.Name), bold("complete"))
	return nil
}

// bootReserve mimics biscuit's own "Reserved %v pages..." boot banner
// (mem.Phys_init), upgraded to a progress bar: one tick per scenario's
// simulated address-space reservation.
func bootReserve(n int) {
	bar := progressbar.Default(int64(n), "reserving address spaces")
	for i := 0; i < n; i++ {
		time.Sleep(30 * time.Millisecond)
		bar.Add(1)
	}
	fmt.Println()
}
