package nbody

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/phil-mansfield/nbodycheck/lib/kernel"
)

// Partition returns the range [start, end) of the i-th of p contiguous chunks
// of [0, total). The chunks cover the range exactly once for every p and
// total; when total < p some of them are empty.
func Partition(total, p, i int) (start, end int) {
	return int(int64(i)*int64(total) / int64(p)),
		int(int64(i + 1)*int64(total) / int64(p))
}

// Chunks returns every chunk of Partition(total, p, i) in order.
func Chunks(total, p int) [][2]int {
	out := make([][2]int, p)
	for i := range out {
		out[i][0], out[i][1] = Partition(total, p, i)
	}
	return out
}

// EvaluatePartitioned computes the field from the sources at src with
// strengths srcVal at every target in trg. The targets are split into threads
// chunks which are evaluated concurrently; each chunk writes to its own range
// of the output, so no locking is needed. threads <= 0 uses GOMAXPROCS.
func EvaluatePartitioned(
	k *kernel.Kernel, src, srcVal, trg []float64, threads int,
) ([]float64, error) {
	if len(trg) % kernel.Dim != 0 {
		return nil, fmt.Errorf("%w: target buffer of length %d is not a multiple of %d",
			ErrLayout, len(trg), kernel.Dim)
	}
	if threads <= 0 { threads = runtime.GOMAXPROCS(0) }

	nTrg := len(trg) / kernel.Dim
	out := make([]float64, nTrg*k.DimOut)

	pool := &errgroup.Group{ }
	pool.SetLimit(threads)
	for _, chunk := range Chunks(nTrg, threads) {
		a, b := chunk[0], chunk[1]
		if a == b { continue }
		pool.Go(func() error {
			return k.Evaluate(src, srcVal,
				trg[a*kernel.Dim: b*kernel.Dim], out[a*k.DimOut: b*k.DimOut])
		})
	}
	if err := pool.Wait(); err != nil { return nil, err }

	return out, nil
}
