package lib

import (
	"fmt"
	"io"
	"strings"

	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/points"
	"github.com/phil-mansfield/nbodycheck/lib/solver"
)

// Usage returns nbodycheck's help text.
func Usage() string {
	return fmt.Sprintf(`Usage: nbodycheck <mode> [flags]

nbodycheck measures the error of an approximate N-body field solver against a
distributed brute-force sum.

Modes:
    help     Print this message.
    check    Check the configuration for errors without computing anything.
    run      Generate points, run the solver, and report its error.
    inspect  Print the errors stored in the files written by -dump.

Flags:
    -omp <int>        Threads per process. -1 uses every core. (default 1)
    -N <int>          Global number of sources and targets. Required by
                      'run' and 'check' unless -points is given.
    -m <int>          Solver order, a positive even number. (default 10)
    -kernel <name>    Interaction kernel: %s. (default laplace_potn)
    -solver <name>    Approximate solver: %s. (default tree)
    -dist <name>      Point distribution: %s. (default unif)
    -seed <int>       Random seed. (default 1)
    -max-pts <int>    Largest number of sources in a tree leaf. (default 64)
    -eps <float>      Softening length of the gravitree solver. (default 1e-06)
    -points <file>    Read sources from a text file of 'x y z q' rows instead
                      of generating them.
    -dump <file>      Write each process's error sample to <file>.<rank>.
    -ranks <seq>      Ranks whose dumps are read by 'inspect', e.g.
                      "0..7 - 3". (default every rank below -np)
    -config <file>    Read flags from a config file with [Run] and [Network]
                      sections. Flags on the command line take precedence.
    -np <int>         Number of processes. (default 1)
    -hub <host:port>  Run one process per rank, connected through a hub
                      which rank 0 listens on at this address.
    -rank <int>       Rank of this process when -hub is set. (default 0)
    -key <string>     Shared key of a multi-process group.
`, strings.Join(kernel.Names(), ", "), strings.Join(solver.Names(), ", "),
		strings.Join(points.Modes(), ", "))
}

// PrintHelp writes the help text to w.
func PrintHelp(w io.Writer) { fmt.Fprint(w, Usage()) }
