package nbody

import (
	"fmt"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/profile"
)

// Options control how Direct runs. The zero value uses every thread and
// records no profiling information.
type Options struct {
	Threads int
	Profile *profile.Profile
}

// Direct returns the exact field at this process's targets, trg, due to the
// sources of every process in c. src and srcVal are this process's sources
// and their strengths. Direct is collective.
func Direct(
	c *comm.Comm, k *kernel.Kernel, src, srcVal, trg []float64, opt Options,
) ([]float64, error) {
	// Check sizes before the first collective so that a bad buffer can't
	// leave the other processes waiting.
	if len(src) % kernel.Dim != 0 || len(trg) % kernel.Dim != 0 {
		return nil, fmt.Errorf("%w: coordinate buffers of length %d and %d are not multiples of %d",
			ErrLayout, len(src), len(trg), kernel.Dim)
	} else if len(srcVal) != len(src) / kernel.Dim * k.DimIn {
		return nil, fmt.Errorf("%w: %d sources need %d strength values, got %d",
			ErrLayout, len(src) / kernel.Dim, len(src) / kernel.Dim * k.DimIn,
			len(srcVal))
	}
	p := opt.Profile

	p.Tic("nbody:gather")
	glbTrg, layout, err := Gather(c, trg, kernel.Dim)
	if err != nil { return nil, err }
	p.Toc("nbody:gather")

	p.Tic("nbody:evaluate")
	partial, err := EvaluatePartitioned(k, src, srcVal, glbTrg, opt.Threads)
	if err != nil { return nil, err }
	p.AddInteractions(kernel.Interactions(src, glbTrg))
	p.Toc("nbody:evaluate")

	p.Tic("nbody:reduce")
	total, err := Reduce(c, partial)
	if err != nil { return nil, err }
	p.Toc("nbody:reduce")

	local, err := LocalSlice(total, c.Rank(), layout, k.DimOut)
	if err != nil { return nil, err }
	if len(local) != len(trg) / kernel.Dim * k.DimOut {
		return nil, fmt.Errorf("%w: extracted %d values for %d local targets of width %d",
			ErrLayout, len(local), len(trg) / kernel.Dim, k.DimOut)
	}
	return local, nil
}
