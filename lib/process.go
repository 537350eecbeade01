package lib

import (
	"fmt"

	"github.com/phil-mansfield/nbodycheck/lib/format"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/points"
	"github.com/phil-mansfield/nbodycheck/lib/solver"
)

// Args stores configuration information. It is a post-processed version of
// RawArgs.
type Args struct {
	RunMode RunMode

	Threads int
	N int
	Order int
	Kernel *kernel.Kernel
	Solver string
	Dist points.Mode
	Seed uint64
	MaxPoints int
	Eps float64
	Points string
	Dump string
	// Ranks are the dump files read by the inspect mode.
	Ranks []int

	Transport Transport
	Np, Rank int
	Hub, Key string
}

// Process converts the raw user input to a format which is more useful for
// internal functions. Very simple validation will be done here, but nothing
// which requires interacting with external files.
func (args *RawArgs) Process(mode RunMode) (*Args, error) {
	r, n := &args.Run, &args.Network
	out := &Args{
		RunMode: mode, Threads: r.Threads, N: r.N, Order: r.Order,
		Solver: r.Solver, Seed: uint64(r.Seed), MaxPoints: r.MaxPoints,
		Eps: r.Eps, Points: r.Points, Dump: r.Dump,
		Np: n.Np, Rank: n.Rank, Hub: n.Hub, Key: n.Key,
	}
	if mode == HelpMode { return out, nil }

	if mode == InspectMode {
		if r.Dump == "" {
			return nil, fmt.Errorf("The 'inspect' mode needs the dump to read to be given with -dump.")
		} else if n.Np <= 0 {
			return nil, fmt.Errorf("-np must be positive, but it is %d.", n.Np)
		}
		ranks, err := format.Ranks(r.Ranks, n.Np)
		if err != nil { return nil, fmt.Errorf("Invalid -ranks: %v", err) }
		out.Ranks = ranks
		return out, nil
	}

	var err error
	if out.Kernel, err = kernel.Lookup(r.Kernel); err != nil {
		return nil, fmt.Errorf("Invalid -kernel: %v.", err)
	}
	if out.Dist, err = points.ParseMode(r.Dist); err != nil {
		return nil, fmt.Errorf("Invalid -dist: %v.", err)
	}
	if err := solver.CheckOrder(r.Order); err != nil {
		return nil, fmt.Errorf("Invalid -m: %v.", err)
	}

	switch {
	case r.N <= 0 && r.Points == "":
		return nil, fmt.Errorf("-N must be set to a positive number of particles, but it is %d.", r.N)
	case r.Threads <= 0 && r.Threads != -1:
		return nil, fmt.Errorf("-omp must be positive or -1, but it is %d.", r.Threads)
	case r.MaxPoints <= 0:
		return nil, fmt.Errorf("-max-pts must be positive, but it is %d.", r.MaxPoints)
	case r.Eps < 0:
		return nil, fmt.Errorf("-eps cannot be negative, but it is %g.", r.Eps)
	case n.Np <= 0:
		return nil, fmt.Errorf("-np must be positive, but it is %d.", n.Np)
	}

	found := false
	for _, name := range solver.Names() {
		if name == r.Solver { found = true }
	}
	if !found {
		return nil, fmt.Errorf("Invalid -solver '%s'. The supported solvers are %v.",
			r.Solver, solver.Names())
	}

	if n.Hub != "" {
		out.Transport = QUIC
		if n.Rank < 0 || n.Rank >= n.Np {
			return nil, fmt.Errorf("-rank %d is not a rank of a group with -np %d.",
				n.Rank, n.Np)
		} else if n.Key == "" {
			return nil, fmt.Errorf("-key cannot be empty when -hub is set.")
		}
	} else if n.Rank != 0 {
		return nil, fmt.Errorf("-rank can only be set for multi-process runs with -hub.")
	}

	return out, nil
}
