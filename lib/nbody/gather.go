/*package nbody contains nbodycheck's distributed brute-force evaluator. Every
process holds a slice of the sources and a slice of the targets. Direct
computes the exact field at this process's targets due to every source in the
group:

 1. Gather replicates every process's target coordinates on all processes.
 2. EvaluatePartitioned splits the replicated targets into one chunk per
    thread and applies the kernel from the local sources to each chunk.
 3. Reduce sums the per-process partial fields into the total field.
 4. LocalSlice cuts this process's targets back out of the total field.

All of these are collective except EvaluatePartitioned and LocalSlice, so every
process in the group must call them in the same order.
*/
package nbody

import (
	"errors"
	"fmt"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
)

// ErrLayout is returned when a buffer does not have the size implied by the
// gathered layout.
var ErrLayout = errors.New("buffer does not match the gathered layout")

// Layout records how a replicated buffer was assembled: rank r contributed
// Counts[r] elements starting at element Disp[r]. Width is the number of
// elements per point.
type Layout struct {
	Counts, Disp []int
	Width int
}

// Total returns the number of points in the replicated buffer.
func (l *Layout) Total() int {
	n := len(l.Disp)
	if n == 0 { return 0 }
	return (l.Disp[n - 1] + l.Counts[n - 1]) / l.Width
}

// Offset returns the index of the first point contributed by rank.
func (l *Layout) Offset(rank int) int { return l.Disp[rank] / l.Width }

// Len returns the number of points contributed by rank.
func (l *Layout) Len(rank int) int { return l.Counts[rank] / l.Width }

// Gather replicates local, a buffer of points with width elements each, on
// every process in c. The result is the concatenation of every process's
// buffer in rank order.
func Gather(c *comm.Comm, local []float64, width int) ([]float64, *Layout, error) {
	if width <= 0 || len(local) % width != 0 {
		return nil, nil, fmt.Errorf("%w: local buffer of length %d cannot hold points of width %d",
			ErrLayout, len(local), width)
	}

	counts, err := c.AllgatherInt(len(local))
	if err != nil { return nil, nil, err }
	disp := Scan(counts)
	total := disp[len(disp) - 1] + counts[len(counts) - 1]

	glb := make([]float64, total)
	if err := c.AllgathervFloat64(local, glb, counts, disp); err != nil {
		return nil, nil, err
	}

	return glb, &Layout{ Counts: counts, Disp: disp, Width: width }, nil
}

// Scan returns the exclusive prefix sum of x.
func Scan(x []int) []int {
	out := make([]int, len(x))
	sum := 0
	for i := range x {
		out[i] = sum
		sum += x[i]
	}
	return out
}
