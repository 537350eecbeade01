/*package verify estimates the error of an approximate field by comparing it
against the exact field at a sample of targets.

Check is a linear pipeline. Each process picks every stride-th one of its
targets, the exact field at those targets is computed with nbody.Direct, and
the maximum absolute difference and maximum exact magnitude are reduced onto
the root process.
*/
package verify

import (
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/nbody"
	"github.com/phil-mansfield/nbodycheck/lib/profile"
)

// SampleDenominator is the number of global sources which make the sampling
// stride grow by one.
const SampleDenominator = 1e9

// ErrUndefinedRelative is returned by Result.Relative when every exact value
// in the sample is zero.
var ErrUndefinedRelative = errors.New("relative error is undefined because the exact field is zero")

// ErrNonFinite is returned by Result.Relative when the sample contained a
// NaN or infinite value.
var ErrNonFinite = errors.New("sampled field contains non-finite values")

// Stride returns the sampling stride for a run with nSrcGlobal sources:
// max(1, floor(nSrcGlobal / denom)).
func Stride(nSrcGlobal int64, denom float64) int {
	s := int(math.Floor(float64(nSrcGlobal) / denom))
	if s < 1 { return 1 }
	return s
}

// Sample is the subset of a process's targets which are checked.
type Sample struct {
	Trg []float64 // Sampled target coordinates.
	Approx []float64 // Approximate field at Trg.
	Exact []float64 // Exact field at Trg, set by Check.
	DimOut int
}

// Len returns the number of sampled targets.
func (s *Sample) Len() int { return len(s.Trg) / kernel.Dim }

// Collect copies every stride-th target of trg, together with its value in
// approx, into a new Sample.
func Collect(trg, approx []float64, dimOut, stride int) (*Sample, error) {
	if stride < 1 {
		return nil, fmt.Errorf("sampling stride %d is not positive", stride)
	} else if len(trg) % kernel.Dim != 0 {
		return nil, fmt.Errorf("%w: target buffer of length %d is not a multiple of %d",
			nbody.ErrLayout, len(trg), kernel.Dim)
	}
	nTrg := len(trg) / kernel.Dim
	if len(approx) != nTrg*dimOut {
		return nil, fmt.Errorf("%w: %d targets of width %d need %d approximate values, got %d",
			nbody.ErrLayout, nTrg, dimOut, nTrg*dimOut, len(approx))
	}

	s := &Sample{ DimOut: dimOut }
	for i := 0; i < nTrg; i += stride {
		s.Trg = append(s.Trg, trg[i*kernel.Dim: (i + 1)*kernel.Dim]...)
		s.Approx = append(s.Approx, approx[i*dimOut: (i + 1)*dimOut]...)
	}
	return s, nil
}

// LocalMax returns max|exact - approx| and max|exact| over every component of
// every value. Empty buffers give zeros. If either buffer holds a NaN or an
// infinity, maxAbs is NaN, which survives an OpMax reduction.
func LocalMax(exact, approx []float64) (maxAbs, maxVal float64, err error) {
	if len(exact) != len(approx) {
		return 0, 0, fmt.Errorf("%w: %d exact values and %d approximate values",
			nbody.ErrLayout, len(exact), len(approx))
	}
	if len(exact) == 0 { return 0, 0, nil }
	maxVal = floats.Norm(exact, math.Inf(1))
	if !finite(exact) || !finite(approx) { return math.NaN(), maxVal, nil }
	return floats.Distance(exact, approx, math.Inf(1)), maxVal, nil
}

// finite is false if x contains a NaN or an infinity. The infinity norm
// skips NaNs, so they are looked for separately.
func finite(x []float64) bool {
	if floats.HasNaN(x) { return false }
	for i := range x {
		if math.IsInf(x[i], 0) { return false }
	}
	return true
}

// Options control Check.
type Options struct {
	Threads int
	Profile *profile.Profile
	// Denominator overrides SampleDenominator when positive.
	Denominator float64
}

// Result is the outcome of Check. The maxima are only meaningful when Root
// is true.
type Result struct {
	MaxAbs, MaxVal float64
	Root bool
	Stride int
	// NSrc is the number of sources across every process.
	NSrc int64
	// Sample is this process's sample, including the exact values.
	Sample *Sample
}

// NonFinite is true if any sampled value on any process was a NaN or an
// infinity.
func (r *Result) NonFinite() bool {
	return math.IsNaN(r.MaxAbs) || math.IsInf(r.MaxAbs, 0) ||
		math.IsNaN(r.MaxVal) || math.IsInf(r.MaxVal, 0)
}

// Relative returns MaxAbs / MaxVal.
func (r *Result) Relative() (float64, error) {
	if r.NonFinite() { return math.NaN(), ErrNonFinite }
	if r.MaxVal == 0 { return 0, ErrUndefinedRelative }
	return r.MaxAbs / r.MaxVal, nil
}

// Fprint writes the error summary to w. It writes nothing if this isn't the
// root process.
func (r *Result) Fprint(w io.Writer) {
	if !r.Root { return }
	if r.NonFinite() {
		fmt.Fprintf(w, "Maximum Absolute Error: non-finite\n")
		fmt.Fprintf(w, "Maximum Relative Error: non-finite\n")
		return
	}
	fmt.Fprintf(w, "Maximum Absolute Error: %.6e\n", r.MaxAbs)
	rel, err := r.Relative()
	if err != nil {
		fmt.Fprintf(w, "Maximum Relative Error: undefined\n")
	} else {
		fmt.Fprintf(w, "Maximum Relative Error: %.6e\n", rel)
	}
}

// Check estimates the error in approx, the field computed by some
// approximate method at this process's targets trg due to the sources of
// every process. Check is collective.
func Check(
	c *comm.Comm, k *kernel.Kernel, src, srcVal, trg, approx []float64,
	opt Options,
) (*Result, error) {
	p := opt.Profile
	denom := opt.Denominator
	if denom <= 0 { denom = SampleDenominator }

	nSrc := make([]int64, 1)
	err := c.AllreduceInt64(comm.OpSum,
		[]int64{ int64(len(src) / kernel.Dim) }, nSrc)
	if err != nil { return nil, err }
	stride := Stride(nSrc[0], denom)

	p.Tic("verify:collect")
	s, err := Collect(trg, approx, k.DimOut, stride)
	p.Toc("verify:collect")
	if err != nil {
		c.Abort(err)
		return nil, err
	}

	p.Tic("verify:exact")
	s.Exact, err = nbody.Direct(c, k, src, srcVal, s.Trg,
		nbody.Options{ Threads: opt.Threads, Profile: p })
	p.Toc("verify:exact")
	if err != nil { return nil, err }

	maxAbs, maxVal, err := LocalMax(s.Exact, s.Approx)
	if err != nil {
		c.Abort(err)
		return nil, err
	}

	p.Tic("verify:reduce")
	out := make([]float64, 2)
	err = c.ReduceFloat64(comm.OpMax, comm.Root, []float64{ maxAbs, maxVal }, out)
	p.Toc("verify:reduce")
	if err != nil { return nil, err }

	return &Result{
		MaxAbs: out[0], MaxVal: out[1], Root: c.Rank() == comm.Root,
		Stride: stride, NSrc: nSrc[0], Sample: s,
	}, nil
}
