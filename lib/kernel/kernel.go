/*package kernel contains the interaction laws which map source strengths to
field values at target points, along with a small catalog of named kernels.

All coordinate buffers are flat arrays of Dim-vectors, i.e. point i occupies
x[i*Dim: (i+1)*Dim].
*/
package kernel

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Dim is the dimension of the coordinate space.
const Dim = 3

var (
	// ErrUnknownKernel is returned by Lookup for names outside the catalog.
	ErrUnknownKernel = errors.New("unknown kernel")
	// ErrSize is returned by Evaluate when buffer sizes are inconsistent.
	ErrSize = errors.New("inconsistent kernel buffer sizes")
)

// Func accumulates the contribution of nSrc sources to nTrg targets into
// out. It may assume that all buffer sizes have already been checked.
type Func func(src, srcVal, trg, out []float64)

// Kernel describes an interaction law. DimIn is the width of a source's
// strength vector and DimOut is the width of a target's output vector.
type Kernel struct {
	Name string
	DimIn, DimOut int
	Fn Func
}

// Evaluate adds the field generated by the sources at src (with strengths
// srcVal) to out for every target in trg. out is accumulated into, not
// overwritten. Empty source or target sets are no-ops.
func (k *Kernel) Evaluate(src, srcVal, trg, out []float64) error {
	if len(src) % Dim != 0 || len(trg) % Dim != 0 {
		return fmt.Errorf("%w: kernel '%s' was given coordinate buffers of length %d and %d, which are not multiples of %d",
			ErrSize, k.Name, len(src), len(trg), Dim)
	}
	nSrc, nTrg := len(src) / Dim, len(trg) / Dim
	if len(srcVal) != nSrc*k.DimIn {
		return fmt.Errorf("%w: kernel '%s' has %d sources but %d strength values, expected %d",
			ErrSize, k.Name, nSrc, len(srcVal), nSrc*k.DimIn)
	}
	if len(out) != nTrg*k.DimOut {
		return fmt.Errorf("%w: kernel '%s' has %d targets but an output buffer of length %d, expected %d",
			ErrSize, k.Name, nTrg, len(out), nTrg*k.DimOut)
	}

	if nSrc == 0 || nTrg == 0 { return nil }
	k.Fn(src, srcVal, trg, out)
	return nil
}

// Interactions returns the number of source-target pairs a call to Evaluate
// with these buffers would touch.
func Interactions(src, trg []float64) int64 {
	return int64(len(src) / Dim) * int64(len(trg) / Dim)
}

const oneOver4Pi = 1 / (4*math.Pi)

// LaplacePotential is the free-space Laplace potential, q / (4 pi r).
var LaplacePotential = Kernel{
	Name: "laplace_potn", DimIn: 1, DimOut: 1, Fn: laplacePotential,
}

// LaplaceGradient is the gradient of LaplacePotential with respect to the
// target position, -q (t - s) / (4 pi r^3).
var LaplaceGradient = Kernel{
	Name: "laplace_grad", DimIn: 1, DimOut: 3, Fn: laplaceGradient,
}

func laplacePotential(src, srcVal, trg, out []float64) {
	nSrc, nTrg := len(src) / Dim, len(trg) / Dim
	for t := 0; t < nTrg; t++ {
		tx, ty, tz := trg[t*Dim], trg[t*Dim + 1], trg[t*Dim + 2]
		sum := 0.0
		for s := 0; s < nSrc; s++ {
			dx, dy, dz := tx - src[s*Dim], ty - src[s*Dim + 1], tz - src[s*Dim + 2]
			r2 := dx*dx + dy*dy + dz*dz
			if r2 == 0 { continue }
			sum += srcVal[s] / math.Sqrt(r2)
		}
		out[t] += sum * oneOver4Pi
	}
}

func laplaceGradient(src, srcVal, trg, out []float64) {
	nSrc, nTrg := len(src) / Dim, len(trg) / Dim
	for t := 0; t < nTrg; t++ {
		tx, ty, tz := trg[t*Dim], trg[t*Dim + 1], trg[t*Dim + 2]
		gx, gy, gz := 0.0, 0.0, 0.0
		for s := 0; s < nSrc; s++ {
			dx, dy, dz := tx - src[s*Dim], ty - src[s*Dim + 1], tz - src[s*Dim + 2]
			r2 := dx*dx + dy*dy + dz*dz
			if r2 == 0 { continue }
			rInv := 1 / math.Sqrt(r2)
			q := srcVal[s] * rInv*rInv*rInv
			gx -= q*dx
			gy -= q*dy
			gz -= q*dz
		}
		out[3*t] += gx * oneOver4Pi
		out[3*t + 1] += gy * oneOver4Pi
		out[3*t + 2] += gz * oneOver4Pi
	}
}

var catalog = map[string]*Kernel{
	LaplacePotential.Name: &LaplacePotential,
	LaplaceGradient.Name: &LaplaceGradient,
}

// Lookup returns the catalog kernel with the given name.
func Lookup(name string) (*Kernel, error) {
	k, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s', the valid kernels are %v",
			ErrUnknownKernel, name, Names())
	}
	return k, nil
}

// Names returns the sorted names of every kernel in the catalog.
func Names() []string {
	out := []string{ }
	for name := range catalog { out = append(out, name) }
	sort.Strings(out)
	return out
}
