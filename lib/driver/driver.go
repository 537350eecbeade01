/*package driver runs a full nbodycheck measurement on every process of a
communication group: it sets up sources and targets, runs an approximate
solver, and reports the solver's error against the exact field.
*/
package driver

import (
	"fmt"
	"io"
	"math"

	"github.com/phil-mansfield/nbodycheck/lib"
	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/points"
	"github.com/phil-mansfield/nbodycheck/lib/profile"
	"github.com/phil-mansfield/nbodycheck/lib/sampleio"
	"github.com/phil-mansfield/nbodycheck/lib/solver"
	"github.com/phil-mansfield/nbodycheck/lib/verify"
)

// Run performs the measurement described by args and writes the report to
// out on the root process. Every process must call Run with the same args.
// It returns this process's verify.Result.
func Run(c *comm.Comm, args *lib.Args, out io.Writer) (*verify.Result, error) {
	prof := profile.New()
	k := args.Kernel
	unit := args.Solver == "gravitree"

	prof.Tic("setup")
	src, q, trg, err := setup(c, args, unit)
	prof.Toc("setup")
	if err != nil { return nil, err }

	nSrc, nTrg, err := globalCounts(c, src, trg)
	if err != nil { return nil, err }
	c.Fprintf(out, "nbodycheck: %d sources, %d targets, %d processes\n",
		nSrc, nTrg, c.Size())
	c.Fprintf(out, "kernel = %s, solver = %s, order = %d, dist = %s\n",
		k.Name, args.Solver, args.Order, args.Dist)

	s, err := solver.New(args.Solver, c, k, src, trg, solver.Options{
		Order: args.Order, MaxPoints: args.MaxPoints, Threads: args.Threads,
		Profile: prof, Eps: args.Eps,
	})
	if err != nil { return nil, err }

	if _, err := s.Evaluate(q); err != nil { return nil, err }

	// The second evaluation reuses the structure built from the coordinates
	// with new strengths.
	s.Clear()
	if !unit && args.Points == "" {
		gen := points.NewRNG(points.RankSeed(args.Seed + 2, c.Rank()))
		q = points.Strengths(gen, len(src) / kernel.Dim, k.DimIn)
	}
	approx, err := s.Evaluate(q)
	if err != nil { return nil, err }

	res, err := verify.Check(c, k, src, q, trg, approx, verify.Options{
		Threads: args.Threads, Profile: prof,
	})
	if err != nil { return nil, err }
	res.Fprint(out)

	if args.Dump != "" {
		d := sampleio.FromSample(res.Sample, k.Name, c.Rank(), c.Size(),
			res.NSrc, res.Stride)
		err := sampleio.WriteFile(sampleio.FileName(args.Dump, c.Rank()), d)
		if err != nil {
			c.Abort(err)
			return nil, err
		}
	}

	c.Fprintf(out, "\n")
	if err := prof.Report(c, out); err != nil { return nil, err }
	return res, nil
}

// setup returns this process's sources, their strengths, and its targets.
func setup(
	c *comm.Comm, args *lib.Args, unit bool,
) (src, q, trg []float64, err error) {
	k := args.Kernel

	if args.Points != "" {
		x, val, err := points.ReadTextFile(args.Points, k.DimIn)
		if err != nil { return nil, nil, nil, err }
		n := len(x) / kernel.Dim
		start := 0
		for r := 0; r < c.Rank(); r++ { start += points.LocalCount(n, c.Size(), r) }
		end := start + points.LocalCount(n, c.Size(), c.Rank())

		src = x[start*kernel.Dim: end*kernel.Dim]
		q = val[start*k.DimIn: end*k.DimIn]
		if unit { q = ones(len(q)) }
		return src, q, src, nil
	}

	src, err = points.Generate(c, args.Dist, args.N, args.Seed)
	if err != nil { return nil, nil, nil, err }
	nLocal := len(src) / kernel.Dim

	if unit { return src, ones(nLocal*k.DimIn), src, nil }

	gen := points.NewRNG(points.RankSeed(args.Seed + 1, c.Rank()))
	q = points.Strengths(gen, nLocal, k.DimIn)
	trg, err = points.Generate(c, args.Dist, args.N, args.Seed + 3)
	if err != nil { return nil, nil, nil, err }
	return src, q, trg, nil
}

func globalCounts(c *comm.Comm, src, trg []float64) (nSrc, nTrg int64, err error) {
	n := make([]int64, 2)
	err = c.AllreduceInt64(comm.OpSum, []int64{
		int64(len(src) / kernel.Dim), int64(len(trg) / kernel.Dim),
	}, n)
	return n[0], n[1], err
}

func ones(n int) []float64 {
	x := make([]float64, n)
	for i := range x { x[i] = 1 }
	return x
}

// Inspect reads the files written by the given ranks of a run with -dump name
// and prints the errors in each of them, followed by the errors over all of
// them.
func Inspect(name string, ranks []int, out io.Writer) (*verify.Result, error) {
	res := &verify.Result{ Root: true }
	fmt.Fprintf(out, "%-6s %10s %14s %14s\n", "Rank", "Samples", "Max abs err", "Max value")
	for _, r := range ranks {
		d, err := sampleio.ReadFile(sampleio.FileName(name, r))
		if err != nil { return nil, err }
		maxAbs, maxVal, err := d.LocalMax()
		if err != nil { return nil, err }

		fmt.Fprintf(out, "%-6d %10d %14.6e %14.6e\n", r, d.N, maxAbs, maxVal)
		res.MaxAbs = math.Max(res.MaxAbs, maxAbs)
		res.MaxVal = math.Max(res.MaxVal, maxVal)
		res.Stride, res.NSrc = int(d.Stride), d.NSrc
	}
	fmt.Fprintln(out)
	res.Fprint(out)
	return res, nil
}
