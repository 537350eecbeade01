package solver

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/nbody"
)

// maxDepth stops refinement of clumps of coincident sources.
const maxDepth = 40

// Tree is a Barnes-Hut octree over the sources of every process. Each process
// holds a copy of the whole tree and evaluates its own targets. A node is
// replaced by a single pseudo-source at its strength-weighted centre when its
// width divided by the distance to the target is below Theta(order).
type Tree struct {
	c *comm.Comm
	k *kernel.Kernel
	opt Options
	theta float64

	trg []float64 // local targets
	nLocalSrc int

	x []float64 // gathered sources, sorted into leaf order
	perm []int // x[i] is source perm[i] in gathered order
	nodes []node

	srcValue []float64 // local strengths
	q []float64 // gathered strengths in leaf order, nil until evaluated
	moments []moment
}

type node struct {
	center [kernel.Dim]float64
	half float64
	start, end int
	children []int32
}

type moment struct {
	q, w float64
	com [kernel.Dim]float64
}

// NewTree builds a tree over the sources src of every process for the
// targets trg. It is collective.
func NewTree(
	c *comm.Comm, k *kernel.Kernel, src, trg []float64, opt Options,
) (*Tree, error) {
	if k.DimIn != 1 {
		return nil, fmt.Errorf("%w: the tree solver needs scalar strengths, but kernel '%s' has %d",
			ErrUnsupported, k.Name, k.DimIn)
	} else if err := CheckOrder(opt.Order); err != nil {
		return nil, err
	} else if len(trg) % kernel.Dim != 0 {
		return nil, fmt.Errorf("%w: target buffer of length %d is not a multiple of %d",
			nbody.ErrLayout, len(trg), kernel.Dim)
	}
	if opt.MaxPoints <= 0 { opt.MaxPoints = DefaultOptions.MaxPoints }

	t := &Tree{
		c: c, k: k, opt: opt, theta: Theta(opt.Order),
		trg: trg, nLocalSrc: len(src) / kernel.Dim,
	}

	p := opt.Profile
	p.Tic("tree:build")
	defer p.Toc("tree:build")

	glb, _, err := nbody.Gather(c, src, kernel.Dim)
	if err != nil { return nil, err }
	t.build(glb)
	return t, nil
}

func (t *Tree) build(glb []float64) {
	n := len(glb) / kernel.Dim
	t.perm = make([]int, n)
	for i := range t.perm { t.perm[i] = i }

	root := node{ start: 0, end: n, half: 1 }
	if n > 0 {
		lo, hi := [kernel.Dim]float64{ }, [kernel.Dim]float64{ }
		for k := 0; k < kernel.Dim; k++ {
			lo[k], hi[k] = math.Inf(1), math.Inf(-1)
		}
		for i := 0; i < n; i++ {
			for k := 0; k < kernel.Dim; k++ {
				lo[k] = math.Min(lo[k], glb[i*kernel.Dim + k])
				hi[k] = math.Max(hi[k], glb[i*kernel.Dim + k])
			}
		}
		width := 0.0
		for k := 0; k < kernel.Dim; k++ {
			root.center[k] = (lo[k] + hi[k]) / 2
			width = math.Max(width, hi[k] - lo[k])
		}
		if width > 0 { root.half = width / 2 * (1 + 1e-9) }
	}

	t.nodes = []node{ root }
	t.split(glb, 0, 0, make([]int, n))

	t.x = make([]float64, len(glb))
	for i, j := range t.perm {
		copy(t.x[i*kernel.Dim: (i + 1)*kernel.Dim],
			glb[j*kernel.Dim: (j + 1)*kernel.Dim])
	}
}

// split subdivides node i until its leaves hold at most MaxPoints sources.
// buf is scratch space as long as perm.
func (t *Tree) split(glb []float64, i int32, depth int, buf []int) {
	nd := t.nodes[i]
	if nd.end - nd.start <= t.opt.MaxPoints || depth >= maxDepth { return }

	octant := func(j int) int {
		oct := 0
		for k := 0; k < kernel.Dim; k++ {
			if glb[j*kernel.Dim + k] >= nd.center[k] { oct |= 1 << k }
		}
		return oct
	}

	// Counting sort of this node's sources by octant.
	var counts, offsets [8]int
	for _, j := range t.perm[nd.start: nd.end] { counts[octant(j)]++ }
	for o := 1; o < 8; o++ { offsets[o] = offsets[o - 1] + counts[o - 1] }
	fill := offsets
	for _, j := range t.perm[nd.start: nd.end] {
		o := octant(j)
		buf[nd.start + fill[o]] = j
		fill[o]++
	}
	copy(t.perm[nd.start: nd.end], buf[nd.start: nd.end])

	children := []int32{ }
	for o := 0; o < 8; o++ {
		if counts[o] == 0 { continue }
		child := node{
			half: nd.half / 2,
			start: nd.start + offsets[o],
			end: nd.start + offsets[o] + counts[o],
		}
		for k := 0; k < kernel.Dim; k++ {
			if o & (1 << k) != 0 {
				child.center[k] = nd.center[k] + child.half
			} else {
				child.center[k] = nd.center[k] - child.half
			}
		}
		children = append(children, int32(len(t.nodes)))
		t.nodes = append(t.nodes, child)
	}
	t.nodes[i].children = children

	for _, ci := range children { t.split(glb, ci, depth + 1, buf) }
}

// Nodes returns the number of nodes in the tree.
func (t *Tree) Nodes() int { return len(t.nodes) }

// Clear drops the gathered strengths and node moments.
func (t *Tree) Clear() {
	t.q, t.moments = nil, nil
}

// Evaluate implements Solver.
func (t *Tree) Evaluate(srcValue []float64) ([]float64, error) {
	if srcValue != nil {
		if len(srcValue) != t.nLocalSrc {
			return nil, fmt.Errorf("%w: %d local sources, but %d strengths",
				nbody.ErrLayout, t.nLocalSrc, len(srcValue))
		}
		t.srcValue = srcValue
		t.q, t.moments = nil, nil
	} else if t.srcValue == nil {
		return nil, fmt.Errorf("tree solver evaluated before any strengths were given")
	}

	p := t.opt.Profile
	if t.moments == nil {
		p.Tic("tree:moments")
		glb, _, err := nbody.Gather(t.c, t.srcValue, 1)
		if err != nil { return nil, err }
		t.q = make([]float64, len(glb))
		for i, j := range t.perm { t.q[i] = glb[j] }
		t.computeMoments()
		p.Toc("tree:moments")
	}

	p.Tic("tree:evaluate")
	defer p.Toc("tree:evaluate")

	count := &atomic.Int64{ }
	walker := &kernel.Kernel{
		Name: t.k.Name, DimIn: 1, DimOut: t.k.DimOut,
		Fn: func(_, _, trg, out []float64) { count.Add(t.walk(trg, out)) },
	}
	out, err := nbody.EvaluatePartitioned(walker, t.x, t.q, t.trg, t.opt.Threads)
	if err != nil { return nil, err }
	p.AddInteractions(count.Load())
	return out, nil
}

func (t *Tree) computeMoments() {
	t.moments = make([]moment, len(t.nodes))
	// Children always come after their parents.
	for i := len(t.nodes) - 1; i >= 0; i-- {
		nd, m := &t.nodes[i], &t.moments[i]
		if len(nd.children) == 0 {
			for j := nd.start; j < nd.end; j++ {
				q, w := t.q[j], math.Abs(t.q[j])
				m.q += q
				m.w += w
				for k := 0; k < kernel.Dim; k++ {
					m.com[k] += w*t.x[j*kernel.Dim + k]
				}
			}
		} else {
			for _, ci := range nd.children {
				cm := &t.moments[ci]
				m.q += cm.q
				m.w += cm.w
				for k := 0; k < kernel.Dim; k++ { m.com[k] += cm.w*cm.com[k] }
			}
		}

		if m.w > 0 {
			for k := 0; k < kernel.Dim; k++ { m.com[k] /= m.w }
		} else {
			m.com = nd.center
		}
	}
}

// walk accumulates the field at every target in trg into out and returns the
// number of interactions evaluated.
func (t *Tree) walk(trg, out []float64) int64 {
	if len(t.nodes) == 0 || t.nodes[0].end == 0 { return 0 }

	n := int64(0)
	stack := make([]int32, 0, 64)
	d := t.k.DimOut
	var pos [kernel.Dim]float64
	var q [1]float64
	for i := 0; i < len(trg) / kernel.Dim; i++ {
		ti := trg[i*kernel.Dim: (i + 1)*kernel.Dim]
		oi := out[i*d: (i + 1)*d]

		stack = append(stack[:0], 0)
		for len(stack) > 0 {
			ni := stack[len(stack) - 1]
			stack = stack[:len(stack) - 1]
			nd, m := &t.nodes[ni], &t.moments[ni]

			r2 := 0.0
			for k := 0; k < kernel.Dim; k++ {
				dx := ti[k] - m.com[k]
				r2 += dx*dx
			}
			width := 2*nd.half
			if width*width < t.theta*t.theta*r2 {
				pos, q[0] = m.com, m.q
				t.k.Fn(pos[:], q[:], ti, oi)
				n++
			} else if len(nd.children) == 0 {
				t.k.Fn(t.x[nd.start*kernel.Dim: nd.end*kernel.Dim],
					t.q[nd.start: nd.end], ti, oi)
				n += int64(nd.end - nd.start)
			} else {
				stack = append(stack, nd.children...)
			}
		}
	}
	return n
}
