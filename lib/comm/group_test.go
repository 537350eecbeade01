package comm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/nbodycheck/lib/eq"
)

// runCollectives exercises every collective and checks the results. It is
// shared by the in-process and QUIC tests.
func runCollectives(c *Comm) error {
	rank, size := c.Rank(), c.Size()

	if err := c.Barrier(); err != nil { return err }

	counts, err := c.AllgatherInt(rank + 1)
	if err != nil { return err }
	expCounts := make([]int, size)
	for r := range expCounts { expCounts[r] = r + 1 }
	if !eq.Ints(counts, expCounts) {
		return fmt.Errorf("rank %d: expected counts %v, got %v", rank, expCounts, counts)
	}

	disp := make([]int, size)
	total := 0
	for r := range counts {
		disp[r] = total
		total += counts[r]
	}
	send := make([]float64, counts[rank])
	for i := range send { send[i] = float64(100*rank + i) }
	recv := make([]float64, total)
	if err := c.AllgathervFloat64(send, recv, counts, disp); err != nil {
		return err
	}
	expRecv := []float64{ }
	for r := 0; r < size; r++ {
		for i := 0; i < r + 1; i++ { expRecv = append(expRecv, float64(100*r + i)) }
	}
	if !eq.Float64s(recv, expRecv) {
		return fmt.Errorf("rank %d: expected gathered %v, got %v", rank, expRecv, recv)
	}

	x := []float64{ float64(rank), -float64(rank), 1 }
	sum, mx := make([]float64, 3), make([]float64, 3)
	if err := c.AllreduceFloat64(OpSum, x, sum); err != nil { return err }
	if err := c.AllreduceFloat64(OpMax, x, mx); err != nil { return err }
	n := float64(size)
	if !eq.Float64s(sum, []float64{ n*(n - 1)/2, -n*(n - 1)/2, n }) {
		return fmt.Errorf("rank %d: bad sum %v", rank, sum)
	}
	if !eq.Float64s(mx, []float64{ n - 1, 0, 1 }) {
		return fmt.Errorf("rank %d: bad max %v", rank, mx)
	}

	ix := []int64{ int64(rank), int64(-rank) }
	imin := make([]int64, 2)
	if err := c.AllreduceInt64(OpMin, ix, imin); err != nil { return err }
	if imin[0] != 0 || imin[1] != int64(1 - size) {
		return fmt.Errorf("rank %d: bad min %v", rank, imin)
	}

	for root := 0; root < size; root++ {
		var out []float64
		if rank == root { out = make([]float64, 1) }
		err := c.ReduceFloat64(OpMax, root, []float64{ float64(rank*rank) }, out)
		if err != nil { return err }
		if rank == root && out[0] != float64((size - 1)*(size - 1)) {
			return fmt.Errorf("rank %d: bad rooted max %v", rank, out)
		}
	}

	return c.Barrier()
}

func TestGroupCollectives(t *testing.T) {
	for _, size := range []int{ 1, 2, 3, 7 } {
		t.Run(fmt.Sprintf("np=%d", size), func(t *testing.T) {
			err := NewGroup(size).Run(context.Background(), runCollectives)
			require.NoError(t, err)
		})
	}
}

func TestSelf(t *testing.T) {
	c := Self()
	require.Equal(t, 0, c.Rank())
	require.Equal(t, 1, c.Size())
	require.NoError(t, runCollectives(c))
	require.NoError(t, c.Close())
}

func TestGroupMismatchedCollective(t *testing.T) {
	err := NewGroup(2).Run(context.Background(), func(c *Comm) error {
		if c.Rank() == 0 { return c.Barrier() }
		_, err := c.AllgatherInt(1)
		return err
	})
	require.ErrorIs(t, err, ErrProtocol)
	require.ErrorIs(t, err, ErrFatal)
}

func TestGroupMismatchedOp(t *testing.T) {
	err := NewGroup(3).Run(context.Background(), func(c *Comm) error {
		op := OpSum
		if c.Rank() == 2 { op = OpMax }
		return c.AllreduceFloat64(op, []float64{ 1 }, make([]float64, 1))
	})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestGroupMismatchedLength(t *testing.T) {
	err := NewGroup(2).Run(context.Background(), func(c *Comm) error {
		n := 2 + c.Rank()
		return c.AllreduceFloat64(OpSum, make([]float64, n), make([]float64, n))
	})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestGroupMismatchedCallCount(t *testing.T) {
	err := NewGroup(3).Run(context.Background(), func(c *Comm) error {
		if err := c.Barrier(); err != nil { return err }
		if c.Rank() == 1 { return nil }
		return c.Barrier()
	})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestGroupRankFailure(t *testing.T) {
	boom := errors.New("boom")
	err := NewGroup(3).Run(context.Background(), func(c *Comm) error {
		if c.Rank() == 1 { return boom }
		return c.Barrier()
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, boom) || errors.Is(err, ErrAborted),
		"unexpected error %v", err)
}

func TestGroupContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewGroup(2).Run(ctx, func(c *Comm) error {
		if c.Rank() == 0 {
			<-ctx.Done()
			return nil
		}
		return c.Barrier()
	})
	require.ErrorIs(t, err, ErrFatal)
}

func TestAbort(t *testing.T) {
	g := NewGroup(2)
	c0, c1 := g.Comm(0), g.Comm(1)
	c0.Abort(errors.New("operator request"))
	require.ErrorIs(t, c1.Barrier(), ErrAborted)
	require.ErrorIs(t, c0.Barrier(), ErrAborted)
}

func TestArgumentErrors(t *testing.T) {
	c := Self()
	require.Error(t, c.AllgathervFloat64([]float64{ 1 }, make([]float64, 1),
		[]int{ 2 }, []int{ 0 }))
	require.Error(t, c.AllgathervFloat64([]float64{ 1 }, make([]float64, 0),
		[]int{ 1 }, []int{ 0 }))
	require.Error(t, c.AllreduceFloat64(OpSum, make([]float64, 2),
		make([]float64, 1)))
	require.Error(t, c.ReduceFloat64(OpSum, 1, nil, nil))

	// None of these reached the transport, so the group is still usable.
	require.NoError(t, c.Barrier())
}

func TestPartsEncoding(t *testing.T) {
	parts := [][]byte{ { 1, 2, 3 }, nil, { 4 } }
	out, err := decodeParts(encodeParts(parts))
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, []byte{ 1, 2, 3 }, out[0])
	require.Len(t, out[1], 0)
	require.Equal(t, []byte{ 4 }, out[2])

	_, err = decodeParts([]byte{ 2, 0, 0, 0, 1 })
	require.Error(t, err)
}
