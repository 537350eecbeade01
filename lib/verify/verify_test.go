package verify

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/eq"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
)

func TestStride(t *testing.T) {
	tests := []struct {
		n int64
		denom float64
		stride int
	}{
		{ 0, SampleDenominator, 1 },
		{ 1000, SampleDenominator, 1 },
		{ 999999999, SampleDenominator, 1 },
		{ 1000000000, SampleDenominator, 1 },
		{ 2500000000, SampleDenominator, 2 },
		{ 3000000000, SampleDenominator, 3 },
		{ 10, 3, 3 },
		{ 2, 3, 1 },
	}
	for _, test := range tests {
		if s := Stride(test.n, test.denom); s != test.stride {
			t.Errorf("Expected Stride(%d, %g) = %d, got %d.",
				test.n, test.denom, test.stride, s)
		}
	}
}

func TestCollect(t *testing.T) {
	trg := []float64{ 0, 0, 0, 1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4 }
	approx := []float64{ 0, 10, 20, 30, 40 }

	tests := []struct {
		stride int
		trg, approx []float64
	}{
		{ 1, trg, approx },
		{ 2, []float64{ 0, 0, 0, 2, 2, 2, 4, 4, 4 }, []float64{ 0, 20, 40 } },
		{ 3, []float64{ 0, 0, 0, 3, 3, 3 }, []float64{ 0, 30 } },
		{ 5, []float64{ 0, 0, 0 }, []float64{ 0 } },
		{ 9, []float64{ 0, 0, 0 }, []float64{ 0 } },
	}
	for _, test := range tests {
		s, err := Collect(trg, approx, 1, test.stride)
		require.NoError(t, err)
		if !eq.Float64s(s.Trg, test.trg) || !eq.Float64s(s.Approx, test.approx) {
			t.Errorf("stride %d: Expected %v, %v, got %v, %v.", test.stride,
				test.trg, test.approx, s.Trg, s.Approx)
		}
		if s.Len() != len(test.approx) {
			t.Errorf("stride %d: Expected Len() = %d, got %d.",
				test.stride, len(test.approx), s.Len())
		}
	}

	grad := []float64{ 1, 2, 3, 4, 5, 6 }
	s, err := Collect(trg[:6], grad, 3, 2)
	require.NoError(t, err)
	require.Equal(t, []float64{ 1, 2, 3 }, s.Approx)

	_, err = Collect(trg, approx[:4], 1, 1)
	require.Error(t, err)
	_, err = Collect(trg, approx, 1, 0)
	require.Error(t, err)
}

func TestLocalMax(t *testing.T) {
	maxAbs, maxVal, err := LocalMax(
		[]float64{ 1, -4, 2 }, []float64{ 1.5, -3.75, 2 })
	require.NoError(t, err)
	require.Equal(t, 0.5, maxAbs)
	require.Equal(t, 4.0, maxVal)

	maxAbs, maxVal, err = LocalMax(nil, nil)
	require.NoError(t, err)
	require.Zero(t, maxAbs)
	require.Zero(t, maxVal)

	_, _, err = LocalMax([]float64{ 1 }, nil)
	require.Error(t, err)
}

func TestRelative(t *testing.T) {
	r := &Result{ MaxAbs: 1e-3, MaxVal: 2, Root: true }
	rel, err := r.Relative()
	require.NoError(t, err)
	require.Equal(t, 5e-4, rel)

	buf := &bytes.Buffer{ }
	r.Fprint(buf)
	require.Contains(t, buf.String(), "Maximum Absolute Error: 1.000000e-03")
	require.Contains(t, buf.String(), "Maximum Relative Error: 5.000000e-04")

	zero := &Result{ Root: true }
	_, err = zero.Relative()
	if !errors.Is(err, ErrUndefinedRelative) {
		t.Errorf("Expected ErrUndefinedRelative, got %v.", err)
	}
	buf.Reset()
	zero.Fprint(buf)
	require.Contains(t, buf.String(), "Maximum Relative Error: undefined")
	require.NotContains(t, buf.String(), "NaN")

	buf.Reset()
	(&Result{ MaxAbs: 1, MaxVal: 1 }).Fprint(buf)
	require.Zero(t, buf.Len())
}

var fourSources = []float64{
	1, 0, 0,
	0, 2, 0,
	0, 0, 4,
	-1, 0, 0,
}

func TestCheckExactApproximation(t *testing.T) {
	exact := (1.0 + 0.5 + 0.25 + 1.0) / (4*math.Pi)
	res, err := Check(comm.Self(), &kernel.LaplacePotential, fourSources,
		[]float64{ 1, 1, 1, 1 }, []float64{ 0, 0, 0 }, []float64{ exact },
		Options{ Threads: 2 })
	require.NoError(t, err)
	require.True(t, res.Root)
	require.Equal(t, 1, res.Stride)
	require.InDelta(t, 0, res.MaxAbs, 1e-15)
	require.InDelta(t, exact, res.MaxVal, 1e-15)

	buf := &bytes.Buffer{ }
	res.Fprint(buf)
	require.True(t, strings.HasPrefix(buf.String(), "Maximum Absolute Error"))
}

func TestCheckTwoProcesses(t *testing.T) {
	exact := (1.0 + 0.5 + 0.25 + 1.0) / (4*math.Pi)
	// Rank 0 owns the target and rank 1 owns none, so the error only comes
	// from rank 0's approximation.
	results := make([]*Result, 2)
	err := comm.NewGroup(2).Run(context.Background(), func(c *comm.Comm) error {
		r := c.Rank()
		trg, approx := []float64{ 0, 0, 0 }, []float64{ exact + 0.25 }
		if r == 1 { trg, approx = nil, nil }
		res, err := Check(c, &kernel.LaplacePotential, fourSources[6*r: 6*(r + 1)],
			[]float64{ 1, 1 }, trg, approx, Options{ })
		results[r] = res
		return err
	})
	require.NoError(t, err)

	require.True(t, results[0].Root)
	require.False(t, results[1].Root)
	require.InDelta(t, 0.25, results[0].MaxAbs, 1e-14)
	require.InDelta(t, exact, results[0].MaxVal, 1e-14)
	require.Equal(t, 0, results[1].Sample.Len())
}

func TestCheckZeroField(t *testing.T) {
	res, err := Check(comm.Self(), &kernel.LaplacePotential, fourSources,
		[]float64{ 0, 0, 0, 0 }, []float64{ 0, 0, 0 }, []float64{ 0 }, Options{ })
	require.NoError(t, err)
	_, err = res.Relative()
	require.ErrorIs(t, err, ErrUndefinedRelative)
}

func TestCheckStrideFromGlobalSources(t *testing.T) {
	trg := make([]float64, 10*kernel.Dim)
	for i := range trg { trg[i] = float64(i) + 10 }
	approx := make([]float64, 10)

	res, err := Check(comm.Self(), &kernel.LaplacePotential, fourSources,
		[]float64{ 1, 1, 1, 1 }, trg, approx, Options{ Denominator: 2 })
	require.NoError(t, err)
	require.Equal(t, 2, res.Stride)
	require.Equal(t, 5, res.Sample.Len())
	require.Len(t, res.Sample.Exact, 5)
}

func TestLocalMaxNonFinite(t *testing.T) {
	tests := []struct {
		exact, approx []float64
	}{
		{ []float64{ 1, 2 }, []float64{ math.NaN(), 2 } },
		{ []float64{ 1, 2 }, []float64{ math.NaN(), math.NaN() } },
		{ []float64{ 1, math.NaN() }, []float64{ 1, 2 } },
		{ []float64{ 1, 2 }, []float64{ 1, math.Inf(-1) } },
	}
	for i, test := range tests {
		maxAbs, _, err := LocalMax(test.exact, test.approx)
		if err != nil || !math.IsNaN(maxAbs) {
			t.Errorf("%d) Expected a NaN maximum, got %g, %v.", i, maxAbs, err)
		}
	}
}

func TestCheckNaNApproximation(t *testing.T) {
	src := []float64{ 1, 0, 0 }
	trg := []float64{ 0, 0, 0, 0, 2, 0 }
	res, err := Check(comm.Self(), &kernel.LaplacePotential, src,
		[]float64{ 1 }, trg, []float64{ math.NaN(), math.NaN() }, Options{ })
	require.NoError(t, err)
	require.True(t, res.NonFinite())

	_, err = res.Relative()
	require.ErrorIs(t, err, ErrNonFinite)

	buf := &bytes.Buffer{ }
	res.Fprint(buf)
	require.Contains(t, buf.String(), "Maximum Absolute Error: non-finite")
	require.Contains(t, buf.String(), "Maximum Relative Error: non-finite")
}

func TestCheckNaNOnOneRank(t *testing.T) {
	results := make([]*Result, 3)
	err := comm.NewGroup(3).Run(context.Background(), func(c *comm.Comm) error {
		r := c.Rank()
		approx := []float64{ 0.1 }
		if r == 2 { approx[0] = math.NaN() }
		res, err := Check(c, &kernel.LaplacePotential, []float64{ 1, 0, 0 },
			[]float64{ 1 }, []float64{ 0, float64(r + 1), 0 }, approx, Options{ })
		results[r] = res
		return err
	})
	require.NoError(t, err)
	require.True(t, results[0].NonFinite())
}
