/*package comm implements the collective operations used by nbodycheck's
distributed computations: gathers, reductions and barriers over a fixed
communication group.

Every member of a group must call the same sequence of collectives. Each call
carries a header (operation, reduction op, root and a per-communicator
sequence number) and any disagreement between members is a protocol violation
which aborts the whole group. There are no timeouts, partial results or
retries: any error returned from a collective is fatal to the computation.

Three transports are available: Self for a single process, NewGroup for ranks
which are goroutines inside one process, and Listen/Dial for ranks which are
separate processes connected over QUIC.
*/
package comm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrFatal is wrapped by every error returned from a collective.
	ErrFatal = errors.New("fatal communication error")
	// ErrProtocol means that group members disagreed about which collective
	// they were calling or sent inconsistent buffers.
	ErrProtocol = fmt.Errorf("%w: collective protocol violation", ErrFatal)
	// ErrAborted means that the group was shut down by another member.
	ErrAborted = fmt.Errorf("%w: communication group aborted", ErrFatal)
)

// Op is a reduction operation.
type Op uint8

const (
	OpSum Op = iota
	OpMax
	OpMin
)

func (op Op) String() string {
	switch op {
	case OpSum: return "sum"
	case OpMax: return "max"
	case OpMin: return "min"
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

const (
	// Root is the rank 0 process. Rooted operations in nbodycheck always
	// deliver their results here.
	Root int = 0

	allRanks int32 = -1
)

type kind uint8

const (
	kindHello kind = iota
	kindBarrier
	kindAllgather
	kindAllgatherv
	kindAllreduceFloat64
	kindAllreduceInt64
	kindReduceFloat64
)

var kindNames = []string{
	"hello", "Barrier", "AllgatherInt", "AllgathervFloat64",
	"AllreduceFloat64", "AllreduceInt64", "ReduceFloat64",
}

// header identifies a single collective call. Members of a group must agree
// on every field.
type header struct {
	Kind kind
	Op Op
	Root int32
	Seq uint64
}

func (h header) String() string {
	name := fmt.Sprintf("kind(%d)", h.Kind)
	if int(h.Kind) < len(kindNames) { name = kindNames[h.Kind] }
	return fmt.Sprintf("%s#%d(op=%s, root=%d)", name, h.Seq, h.Op, h.Root)
}

// transport moves one payload per rank through a collective. If h.Root is
// allRanks, every rank receives every payload in rank order. Otherwise only
// the root is guaranteed to receive them and other ranks may get nil.
// Ownership of payload passes to the transport.
type transport interface {
	exchange(rank int, h header, payload []byte) ([][]byte, error)
	abort(err error)
	close() error
}

// Comm is one member's handle on a communication group. All methods are
// collective unless noted otherwise. A Comm must not be used by more than one
// goroutine at a time.
type Comm struct {
	rank, size int
	seq uint64
	t transport
}

func newComm(rank, size int, t transport) *Comm {
	return &Comm{ rank: rank, size: size, t: t }
}

// Rank returns the rank of this member. Not collective.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of members in the group. Not collective.
func (c *Comm) Size() int { return c.size }

// Abort shuts down the group. Every member blocked in, or later calling, a
// collective gets an error wrapping ErrAborted. Not collective.
func (c *Comm) Abort(err error) {
	c.t.abort(fmt.Errorf("%w: rank %d: %v", ErrAborted, c.rank, err))
}

// Close releases the resources held by this member. Not collective, but
// members of a QUIC group should only close once they are done with all
// collectives.
func (c *Comm) Close() error { return c.t.close() }

func (c *Comm) collective(k kind, op Op, root int32, payload []byte) ([][]byte, error) {
	h := header{ Kind: k, Op: op, Root: root, Seq: c.seq }
	c.seq++

	parts, err := c.t.exchange(c.rank, h, payload)
	if err != nil { return nil, err }
	if (root == allRanks || int(root) == c.rank) && len(parts) != c.size {
		return nil, c.violation("%s returned %d payloads for a group of %d",
			h, len(parts), c.size)
	}
	return parts, nil
}

// violation aborts the group and returns an error wrapping ErrProtocol.
func (c *Comm) violation(format string, a ...interface{}) error {
	err := fmt.Errorf("%w: rank %d: %s", ErrProtocol, c.rank,
		fmt.Sprintf(format, a...))
	c.t.abort(err)
	return err
}

func (c *Comm) checkRoot(root int) error {
	if root < 0 || root >= c.size {
		return fmt.Errorf("root %d is not a rank in a group of size %d",
			root, c.size)
	}
	return nil
}

// Barrier blocks until every member has called it.
func (c *Comm) Barrier() error {
	_, err := c.collective(kindBarrier, OpSum, allRanks, nil)
	return err
}

// AllgatherInt contributes x and returns every member's contribution in rank
// order.
func (c *Comm) AllgatherInt(x int) ([]int, error) {
	parts, err := c.collective(kindAllgather, OpSum, allRanks,
		encodeInt64s([]int64{ int64(x) }))
	if err != nil { return nil, err }

	out := make([]int, c.size)
	for r := range parts {
		v, err := decodeInt64s(parts[r])
		if err != nil || len(v) != 1 {
			return nil, c.violation("rank %d sent a malformed AllgatherInt payload", r)
		}
		out[r] = int(v[0])
	}
	return out, nil
}

// AllgathervFloat64 concatenates every member's send buffer into recv. Rank r
// contributes counts[r] elements, which are written to
// recv[disp[r]: disp[r]+counts[r]].
func (c *Comm) AllgathervFloat64(send, recv []float64, counts, disp []int) error {
	if len(counts) != c.size || len(disp) != c.size {
		return fmt.Errorf("AllgathervFloat64 given %d counts and %d displacements for a group of size %d",
			len(counts), len(disp), c.size)
	} else if len(send) != counts[c.rank] {
		return fmt.Errorf("AllgathervFloat64 send buffer has length %d, but counts[%d] = %d",
			len(send), c.rank, counts[c.rank])
	}
	for r := range counts {
		if counts[r] < 0 || disp[r] < 0 || disp[r] + counts[r] > len(recv) {
			return fmt.Errorf("AllgathervFloat64 rank %d range [%d, %d) does not fit in a receive buffer of length %d",
				r, disp[r], disp[r] + counts[r], len(recv))
		}
	}

	parts, err := c.collective(kindAllgatherv, OpSum, allRanks,
		encodeFloat64s(send))
	if err != nil { return err }

	for r := range parts {
		x, err := decodeFloat64s(parts[r])
		if err != nil || len(x) != counts[r] {
			return c.violation("rank %d sent %d bytes to AllgathervFloat64, but %d elements were expected",
				r, len(parts[r]), counts[r])
		}
		copy(recv[disp[r]: disp[r] + counts[r]], x)
	}
	return nil
}

// AllreduceFloat64 combines every member's send buffer element-wise with op
// and writes the result to recv on every member. Members are combined in rank
// order.
func (c *Comm) AllreduceFloat64(op Op, send, recv []float64) error {
	if len(recv) != len(send) {
		return fmt.Errorf("AllreduceFloat64 send buffer has length %d, but recv has length %d",
			len(send), len(recv))
	}
	parts, err := c.collective(kindAllreduceFloat64, op, allRanks,
		encodeFloat64s(send))
	if err != nil { return err }
	return c.reduceFloat64Parts(op, parts, recv)
}

// ReduceFloat64 is AllreduceFloat64, except that only the root receives the
// result. recv is ignored on every other member and may be nil there.
func (c *Comm) ReduceFloat64(op Op, root int, send, recv []float64) error {
	if err := c.checkRoot(root); err != nil { return err }
	if c.rank == root && len(recv) != len(send) {
		return fmt.Errorf("ReduceFloat64 send buffer has length %d, but recv has length %d",
			len(send), len(recv))
	}
	parts, err := c.collective(kindReduceFloat64, op, int32(root),
		encodeFloat64s(send))
	if err != nil { return err }
	if c.rank != root { return nil }
	return c.reduceFloat64Parts(op, parts, recv)
}

// AllreduceInt64 is the int64 version of AllreduceFloat64.
func (c *Comm) AllreduceInt64(op Op, send, recv []int64) error {
	if len(recv) != len(send) {
		return fmt.Errorf("AllreduceInt64 send buffer has length %d, but recv has length %d",
			len(send), len(recv))
	}
	parts, err := c.collective(kindAllreduceInt64, op, allRanks,
		encodeInt64s(send))
	if err != nil { return err }

	for r := range parts {
		x, err := decodeInt64s(parts[r])
		if err != nil || len(x) != len(recv) {
			return c.violation("rank %d sent %d bytes to AllreduceInt64, but %d elements were expected",
				r, len(parts[r]), len(recv))
		}
		if r == 0 {
			copy(recv, x)
			continue
		}
		for i := range recv {
			switch op {
			case OpSum: recv[i] += x[i]
			case OpMax: if x[i] > recv[i] { recv[i] = x[i] }
			case OpMin: if x[i] < recv[i] { recv[i] = x[i] }
			}
		}
	}
	return nil
}

func (c *Comm) reduceFloat64Parts(op Op, parts [][]byte, recv []float64) error {
	for r := range parts {
		x, err := decodeFloat64s(parts[r])
		if err != nil || len(x) != len(recv) {
			return c.violation("rank %d sent %d bytes to a %s reduction, but %d elements were expected",
				r, len(parts[r]), op, len(recv))
		}
		if r == 0 {
			copy(recv, x)
			continue
		}
		switch op {
		case OpSum:
			floats.Add(recv, x)
		case OpMax:
			for i := range recv { recv[i] = math.Max(recv[i], x[i]) }
		case OpMin:
			for i := range recv { recv[i] = math.Min(recv[i], x[i]) }
		default:
			return fmt.Errorf("unsupported reduction %s", op)
		}
	}
	return nil
}

///////////////////////
// Payload encodings //
///////////////////////

func encodeFloat64s(x []float64) []byte {
	b := make([]byte, 8*len(x))
	for i := range x {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x[i]))
	}
	return b
}

func decodeFloat64s(b []byte) ([]float64, error) {
	if len(b) % 8 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 8", len(b))
	}
	x := make([]float64, len(b) / 8)
	for i := range x {
		x[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return x, nil
}

func encodeInt64s(x []int64) []byte {
	b := make([]byte, 8*len(x))
	for i := range x {
		binary.LittleEndian.PutUint64(b[8*i:], uint64(x[i]))
	}
	return b
}

func decodeInt64s(b []byte) ([]int64, error) {
	if len(b) % 8 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 8", len(b))
	}
	x := make([]int64, len(b) / 8)
	for i := range x {
		x[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return x, nil
}
