package sampleio

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/nbodycheck/lib/verify"
)

func testDump() *Dump {
	s := &verify.Sample{
		Trg: []float64{ 0, 0, 0, 1, 2, 3 },
		Approx: []float64{ 1.5, -2 },
		Exact: []float64{ 1, -2.25 },
		DimOut: 1,
	}
	return FromSample(s, "laplace_potn", 1, 4, 1000, 2)
}

func TestRoundTrip(t *testing.T) {
	d := testDump()
	buf := &bytes.Buffer{ }
	require.NoError(t, Write(buf, d))

	out, err := Read(buf)
	require.NoError(t, err)
	require.Equal(t, d, out)

	maxAbs, maxVal, err := out.LocalMax()
	require.NoError(t, err)
	require.Equal(t, 0.5, maxAbs)
	require.Equal(t, 2.25, maxVal)
}

func TestEmptyRoundTrip(t *testing.T) {
	d := FromSample(&verify.Sample{ DimOut: 3 }, "laplace_grad", 0, 1, 0, 1)
	buf := &bytes.Buffer{ }
	require.NoError(t, Write(buf, d))

	out, err := Read(buf)
	require.NoError(t, err)
	require.Equal(t, int64(0), out.N)
	require.Empty(t, out.Trg)
	require.Empty(t, out.Exact)
	require.Equal(t, "laplace_grad", out.Kernel)
}

func TestFile(t *testing.T) {
	fname := FileName(filepath.Join(t.TempDir(), "sample"), 3)
	require.Equal(t, "sample.3", filepath.Base(fname))

	d := testDump()
	require.NoError(t, WriteFile(fname, d))
	out, err := ReadFile(fname)
	require.NoError(t, err)
	require.Equal(t, d, out)

	_, err = ReadFile(fname + "x")
	require.Error(t, err)
}

func TestBadInput(t *testing.T) {
	d := testDump()
	d.Exact = d.Exact[:1]
	require.Error(t, Write(&bytes.Buffer{ }, d))

	buf := &bytes.Buffer{ }
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(0x1234)))
	_, err := Read(buf)
	require.Error(t, err)

	good := &bytes.Buffer{ }
	require.NoError(t, Write(good, testDump()))
	_, err = Read(bytes.NewReader(good.Bytes()[:good.Len() - 4]))
	require.Error(t, err)
}

// rawDump writes a dump prefix with the given header and block edges and no
// kernel name or block data.
func rawDump(t *testing.T, hd FixedWidthHeader, edges []int64) *bytes.Buffer {
	buf := &bytes.Buffer{ }
	for _, x := range []interface{}{
		uint32(MagicNumber), uint32(Version), &hd, int64(0), edges,
	} {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, x))
	}
	return buf
}

func TestBadEdges(t *testing.T) {
	hd := FixedWidthHeader{ Size: 1, N: 0, DimOut: 1, Stride: 1 }
	tests := [][]int64{
		{ -5, 0, 0, 0 },
		{ 3, 4, 5, 6 },
		{ 0, 10, 5, 20 },
		{ 0, 1<<40, 1<<41, 1<<42 },
	}
	for i, edges := range tests {
		_, err := Read(rawDump(t, hd, edges))
		if err == nil {
			t.Errorf("%d) Expected an error for edges %v.", i, edges)
		}
	}

	hd.N = 1<<50
	_, err := Read(rawDump(t, hd, []int64{ 0, 0, 0, 0 }))
	require.Error(t, err)
}

func TestNonFiniteDump(t *testing.T) {
	d := testDump()
	d.Approx[1] = math.NaN()
	buf := &bytes.Buffer{ }
	require.NoError(t, Write(buf, d))

	out, err := Read(buf)
	require.NoError(t, err)
	maxAbs, _, err := out.LocalMax()
	require.NoError(t, err)
	require.True(t, math.IsNaN(maxAbs))
}
