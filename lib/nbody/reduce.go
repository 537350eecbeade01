package nbody

import (
	"fmt"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
)

// Reduce sums every process's partial buffer element-wise and returns the
// total, which is identical on every process. Summation order depends on the
// number of processes, so totals are only reproducible to round-off across
// different group sizes.
func Reduce(c *comm.Comm, partial []float64) ([]float64, error) {
	total := make([]float64, len(partial))
	if err := c.AllreduceFloat64(comm.OpSum, partial, total); err != nil {
		return nil, err
	}
	return total, nil
}

// LocalSlice returns a copy of the part of total which belongs to the points
// rank contributed to layout. total has dimOut elements per point.
func LocalSlice(total []float64, rank int, layout *Layout, dimOut int) ([]float64, error) {
	if rank < 0 || rank >= len(layout.Counts) {
		return nil, fmt.Errorf("%w: rank %d is not in a layout of %d ranks",
			ErrLayout, rank, len(layout.Counts))
	}
	if len(total) != layout.Total()*dimOut {
		return nil, fmt.Errorf("%w: total buffer has length %d, but %d points of width %d were gathered",
			ErrLayout, len(total), layout.Total(), dimOut)
	}

	start := layout.Offset(rank) * dimOut
	end := start + layout.Len(rank)*dimOut
	out := make([]float64, end - start)
	copy(out, total[start: end])
	return out, nil
}
