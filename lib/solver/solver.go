/*package solver contains the approximate field solvers which nbodycheck
measures. A solver is built once for a fixed set of source and target
coordinates and can then be evaluated for many sets of source strengths.
*/
package solver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/profile"
)

var (
	// ErrUnknownSolver is returned by New for names outside of Names.
	ErrUnknownSolver = errors.New("unknown solver")
	// ErrUnsupported is returned when a solver can't handle the requested
	// kernel or point layout.
	ErrUnsupported = errors.New("solver does not support this configuration")
)

// Solver computes an approximate field at a fixed set of local targets.
type Solver interface {
	// Evaluate returns the field at this process's targets due to the
	// sources of every process with local strengths srcValue. A nil srcValue
	// reuses the strengths from the previous call. Evaluate is collective.
	Evaluate(srcValue []float64) ([]float64, error)
	// Clear drops everything computed from the strengths, but keeps the
	// structures built from the coordinates. Not collective.
	Clear()
}

// Options configure New.
type Options struct {
	// Order controls accuracy. Larger is more accurate. It must be a
	// positive even number.
	Order int
	// MaxPoints is the largest number of sources in a tree leaf.
	MaxPoints int
	Threads int
	Profile *profile.Profile
	// Eps is the softening length used by the gravitree solver.
	Eps float64
}

// DefaultOptions are the Options used by the command line tool.
var DefaultOptions = Options{ Order: 10, MaxPoints: 64, Threads: 1, Eps: 1e-6 }

type builder func(
	c *comm.Comm, k *kernel.Kernel, src, trg []float64, opt Options,
) (Solver, error)

var solvers = map[string]builder{
	"tree": func(
		c *comm.Comm, k *kernel.Kernel, src, trg []float64, opt Options,
	) (Solver, error) {
		return NewTree(c, k, src, trg, opt)
	},
	"gravitree": func(
		c *comm.Comm, k *kernel.Kernel, src, trg []float64, opt Options,
	) (Solver, error) {
		return NewGravitree(c, k, src, trg, opt)
	},
}

// Names returns the name of every solver in sorted order.
func Names() []string {
	out := []string{ }
	for name := range solvers { out = append(out, name) }
	sort.Strings(out)
	return out
}

// New builds the named solver. It is collective.
func New(
	name string, c *comm.Comm, k *kernel.Kernel, src, trg []float64,
	opt Options,
) (Solver, error) {
	b, ok := solvers[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'. The supported solvers are %v",
			ErrUnknownSolver, name, Names())
	}
	return b(c, k, src, trg, opt)
}

// Theta returns the opening angle used by a tree of the given order.
func Theta(order int) float64 { return 2 / float64(order + 2) }

// CheckOrder returns an error if order is not a positive even number.
func CheckOrder(order int) error {
	if order <= 0 || order % 2 != 0 {
		return fmt.Errorf("order %d is not a positive even number", order)
	}
	return nil
}
