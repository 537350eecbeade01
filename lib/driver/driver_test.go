package driver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/nbodycheck/lib"
	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/points"
	"github.com/phil-mansfield/nbodycheck/lib/verify"
)

func testArgs(n int) *lib.Args {
	return &lib.Args{
		RunMode: lib.RunRunMode, Threads: 2, N: n, Order: 10,
		Kernel: &kernel.LaplacePotential, Solver: "tree", Dist: points.Uniform,
		Seed: 17, MaxPoints: 16, Eps: 1e-6, Np: 1,
	}
}

func runGroup(t *testing.T, np int, args *lib.Args) ([]*verify.Result, []string) {
	res := make([]*verify.Result, np)
	outs := make([]*bytes.Buffer, np)
	err := comm.NewGroup(np).Run(context.Background(), func(c *comm.Comm) error {
		buf := &bytes.Buffer{ }
		r, err := Run(c, args, buf)
		res[c.Rank()], outs[c.Rank()] = r, buf
		return err
	})
	require.NoError(t, err)

	text := make([]string, np)
	for i := range outs { text[i] = outs[i].String() }
	return res, text
}

func TestRun(t *testing.T) {
	for _, np := range []int{ 1, 3 } {
		res, text := runGroup(t, np, testArgs(1500))

		require.True(t, res[0].Root)
		require.Equal(t, int64(1500), res[0].NSrc)
		require.Equal(t, 1, res[0].Stride)
		rel, err := res[0].Relative()
		require.NoError(t, err)
		require.Less(t, rel, 1e-2)

		require.Contains(t, text[0], "1500 sources, 1500 targets")
		require.Contains(t, text[0], "Maximum Absolute Error")
		require.Contains(t, text[0], "Maximum Relative Error")
		require.Contains(t, text[0], "Kernel interactions")
		for r := 1; r < np; r++ {
			require.False(t, res[r].Root)
			require.Empty(t, text[r])
		}
	}
}

func TestRunGradient(t *testing.T) {
	args := testArgs(600)
	args.Kernel = &kernel.LaplaceGradient
	args.Order = 1 << 20
	res, _ := runGroup(t, 2, args)
	rel, err := res[0].Relative()
	require.NoError(t, err)
	require.Less(t, rel, 1e-10)
}

func TestRunDumpAndInspect(t *testing.T) {
	args := testArgs(200)
	args.Dump = filepath.Join(t.TempDir(), "sample")
	res, _ := runGroup(t, 2, args)

	for r := 0; r < 2; r++ {
		_, err := os.Stat(fmt.Sprintf("%s.%d", args.Dump, r))
		require.NoError(t, err)
	}

	buf := &bytes.Buffer{ }
	ins, err := Inspect(args.Dump, []int{ 0, 1 }, buf)
	require.NoError(t, err)
	require.Equal(t, res[0].MaxAbs, ins.MaxAbs)
	require.Equal(t, res[0].MaxVal, ins.MaxVal)
	require.Contains(t, buf.String(), "Maximum Relative Error")

	_, err = Inspect(args.Dump, []int{ 0, 2 }, &bytes.Buffer{ })
	require.Error(t, err)
}

func TestRunPointsFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "points.txt")
	text := strings.Join([]string{
		"# x y z q",
		"1 0 0 1",
		"0 2 0 1",
		"0 0 4 1",
		"-1 0 0 1",
	}, "\n")
	require.NoError(t, os.WriteFile(fname, []byte(text), 0644))

	args := testArgs(-1)
	args.Points = fname
	args.Order = 1 << 20
	res, out := runGroup(t, 2, args)
	require.Equal(t, int64(4), res[0].NSrc)
	require.Contains(t, out[0], "4 sources, 4 targets")
	require.InDelta(t, 0, res[0].MaxAbs, 1e-14)
}

func TestRunGravitree(t *testing.T) {
	args := testArgs(300)
	args.Solver = "gravitree"
	res, out := runGroup(t, 2, args)
	require.Equal(t, int64(300), res[0].NSrc)
	require.Contains(t, out[0], "solver = gravitree")
}

func TestRunBadSolver(t *testing.T) {
	args := testArgs(10)
	args.Solver = "fmm"
	err := comm.NewGroup(2).Run(context.Background(), func(c *comm.Comm) error {
		_, err := Run(c, args, &bytes.Buffer{ })
		return err
	})
	require.Error(t, err)
}
