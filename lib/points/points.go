/*package points generates and loads the source and target points used by
nbodycheck runs. Point sets are flat coordinate buffers in the layout used by
lib/kernel, split across the processes of a communication group.
*/
package points

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
)

// Mode names a point distribution.
type Mode string

const (
	// Uniform points fill the unit cube.
	Uniform Mode = "unif"
	// Gaussian points are normally distributed around the centre of the unit
	// cube with standard deviation GaussianSigma. Points falling outside the
	// cube are redrawn.
	Gaussian Mode = "gaus"
	// Sphere points lie on the surface of a sphere of radius SphereRadius at
	// the centre of the unit cube.
	Sphere Mode = "sphr"
)

const (
	GaussianSigma = 0.1
	SphereRadius = 0.25
)

// ErrUnknownMode is returned for distribution names outside of Modes.
var ErrUnknownMode = errors.New("unknown point distribution")

var modes = map[Mode]func(gen *RNG, x []float64){
	Uniform: uniform,
	Gaussian: gaussian,
	Sphere: sphere,
}

// Modes returns the names of every supported distribution in sorted order.
func Modes() []string {
	out := []string{ }
	for m := range modes { out = append(out, string(m)) }
	sort.Strings(out)
	return out
}

// ParseMode checks that name is a supported distribution.
func ParseMode(name string) (Mode, error) {
	if _, ok := modes[Mode(name)]; !ok {
		return "", fmt.Errorf("%w '%s'. The supported distributions are %v",
			ErrUnknownMode, name, Modes())
	}
	return Mode(name), nil
}

// LocalCount returns the number of the nGlobal points owned by rank in a
// group of the given size. Every rank gets nGlobal / size points and the first
// nGlobal % size ranks get one more.
func LocalCount(nGlobal, size, rank int) int {
	n := nGlobal / size
	if rank < nGlobal % size { n++ }
	return n
}

// Generate returns this process's share of nGlobal points drawn from the
// given distribution. Each rank uses its own stream derived from seed, so the
// result depends only on seed, the rank, and the group size. Not collective.
func Generate(c *comm.Comm, mode Mode, nGlobal int, seed uint64) ([]float64, error) {
	f, ok := modes[mode]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownMode, mode)
	} else if nGlobal < 0 {
		return nil, fmt.Errorf("cannot generate %d points", nGlobal)
	}

	n := LocalCount(nGlobal, c.Size(), c.Rank())
	x := make([]float64, n*kernel.Dim)
	f(NewRNG(RankSeed(seed, c.Rank())), x)
	return x, nil
}

// Strengths returns n*dimIn strengths drawn uniformly from [0, 1).
func Strengths(gen *RNG, n, dimIn int) []float64 {
	q := make([]float64, n*dimIn)
	gen.UniformSequence(q)
	return q
}

func uniform(gen *RNG, x []float64) { gen.UniformSequence(x) }

func gaussian(gen *RNG, x []float64) {
	for i := range x {
		for {
			v := 0.5 + GaussianSigma*gen.Normal()
			if v >= 0 && v < 1 {
				x[i] = v
				break
			}
		}
	}
}

func sphere(gen *RNG, x []float64) {
	for i := 0; i < len(x); i += kernel.Dim {
		// Normalised Gaussian vectors are isotropic.
		var v [kernel.Dim]float64
		r := 0.0
		for r == 0 {
			for k := range v { v[k] = gen.Normal() }
			r = math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
		}
		for k := range v {
			x[i + k] = 0.5 + SphereRadius*v[k]/r
		}
	}
}
