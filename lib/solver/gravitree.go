package solver

import (
	"fmt"
	"math"

	"github.com/phil-mansfield/gravitree"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/nbody"
)

// GravitreeScale converts gravitree's potential, -sum 1/r for unit masses, to
// the laplace_potn convention, sum 1/(4 pi r).
const GravitreeScale = -1 / (4*math.Pi)

// Gravitree computes softened potentials with the gravitree package. It only
// supports the laplace_potn kernel with unit strengths, and the targets must
// be the sources themselves. Only the lengths of the two buffers are checked.
type Gravitree struct {
	c *comm.Comm
	opt Options
	layout *nbody.Layout
	potential func(eps float64, pe []float64)
	n int // number of global sources

	phi []float64 // local potentials, nil until evaluated
	Scale float64
}

// NewGravitree builds a gravitree over the sources of every process. It is
// collective.
func NewGravitree(
	c *comm.Comm, k *kernel.Kernel, src, trg []float64, opt Options,
) (*Gravitree, error) {
	if k.Name != kernel.LaplacePotential.Name {
		return nil, fmt.Errorf("%w: the gravitree solver only computes '%s', not '%s'",
			ErrUnsupported, kernel.LaplacePotential.Name, k.Name)
	} else if len(src) != len(trg) {
		return nil, fmt.Errorf("%w: the gravitree solver needs the targets to be the sources",
			ErrUnsupported)
	}
	p := opt.Profile
	p.Tic("gravitree:build")
	defer p.Toc("gravitree:build")

	glb, layout, err := nbody.Gather(c, src, kernel.Dim)
	if err != nil { return nil, err }

	x := make([][3]float64, len(glb) / kernel.Dim)
	for i := range x {
		copy(x[i][:], glb[i*kernel.Dim: (i + 1)*kernel.Dim])
	}

	g := &Gravitree{
		c: c, opt: opt, layout: layout, n: len(x), Scale: GravitreeScale,
	}
	if len(x) > 0 {
		tree := gravitree.NewTree(x)
		g.potential = tree.Potential
	}
	return g, nil
}

// Evaluate implements Solver. Every strength must be 1. Not collective, since
// the whole source set was gathered by NewGravitree.
func (g *Gravitree) Evaluate(srcValue []float64) ([]float64, error) {
	for i, q := range srcValue {
		if q != 1 {
			return nil, fmt.Errorf("%w: the gravitree solver needs unit strengths, but source %d has strength %g",
				ErrUnsupported, i, q)
		}
	}
	if srcValue != nil && len(srcValue) != g.layout.Len(g.c.Rank()) {
		return nil, fmt.Errorf("%w: %d local sources, but %d strengths",
			nbody.ErrLayout, g.layout.Len(g.c.Rank()), len(srcValue))
	}
	if g.phi != nil {
		out := make([]float64, len(g.phi))
		copy(out, g.phi)
		return out, nil
	}

	p := g.opt.Profile
	p.Tic("gravitree:evaluate")
	defer p.Toc("gravitree:evaluate")

	pe := make([]float64, g.n)
	if g.potential != nil { g.potential(g.opt.Eps, pe) }
	for i := range pe { pe[i] *= g.Scale }

	phi, err := nbody.LocalSlice(pe, g.c.Rank(), g.layout, 1)
	if err != nil { return nil, err }
	g.phi = phi

	out := make([]float64, len(phi))
	copy(out, phi)
	return out, nil
}

// Clear drops the computed potentials.
func (g *Gravitree) Clear() { g.phi = nil }
