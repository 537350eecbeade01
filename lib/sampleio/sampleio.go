/*package sampleio reads and writes the error samples produced by nbodycheck's
-dump flag. Each process writes its own file, <name>.<rank>, laid out as

 1. A little-endian MagicNumber and Version (uint32 each).
 2. A FixedWidthHeader.
 3. The Blocks + 1 edges of the compressed blocks, as int64 offsets from the
    end of the edges.
 4. The zstd-compressed coordinate, exact value, and approximate value
    blocks.
*/
package sampleio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/DataDog/zstd"

	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/verify"
)

const (
	// MagicNumber is an arbitrary number at the start of all dump files.
	MagicNumber = 0xc0ffee17
	// ReverseMagicNumber is MagicNumber read with the wrong endianness.
	ReverseMagicNumber = 0x17eeffc0
	Version = 1
	// Blocks is the number of compressed blocks in a file.
	Blocks = 3
	// Level is the zstd compression level.
	Level = 1

	maxPoints = 1<<40
	maxDimOut = 1<<10
)

var order = binary.LittleEndian

// FixedWidthHeader describes the sample in a file.
type FixedWidthHeader struct {
	// Rank and Size give the rank of the process which wrote the file and
	// the size of its group.
	Rank, Size int64
	// N is the number of sampled targets and DimOut is the width of each
	// field value.
	N, DimOut int64
	// Stride is the sampling stride and NSrc the global number of sources.
	Stride, NSrc int64
}

// Dump is the contents of one file.
type Dump struct {
	FixedWidthHeader
	Kernel string
	Trg, Exact, Approx []float64
}

// FileName returns the name of rank's file for the dump name.
func FileName(name string, rank int) string {
	return fmt.Sprintf("%s.%d", name, rank)
}

// FromSample creates a Dump from a checked sample.
func FromSample(s *verify.Sample, kernelName string, rank, size int, nSrc int64, stride int) *Dump {
	return &Dump{
		FixedWidthHeader: FixedWidthHeader{
			Rank: int64(rank), Size: int64(size), N: int64(s.Len()),
			DimOut: int64(s.DimOut), Stride: int64(stride), NSrc: nSrc,
		},
		Kernel: kernelName,
		Trg: s.Trg, Exact: s.Exact, Approx: s.Approx,
	}
}

// LocalMax returns the maximum absolute error and maximum exact magnitude of
// the sample in d.
func (d *Dump) LocalMax() (maxAbs, maxVal float64, err error) {
	return verify.LocalMax(d.Exact, d.Approx)
}

func (d *Dump) check() error {
	n, w := int(d.N), int(d.DimOut)
	if len(d.Trg) != n*kernel.Dim || len(d.Exact) != n*w || len(d.Approx) != n*w {
		return fmt.Errorf("dump of %d points of width %d has %d coordinates, %d exact values, and %d approximate values",
			n, w, len(d.Trg), len(d.Exact), len(d.Approx))
	}
	return nil
}

// WriteFile writes d to fname.
func WriteFile(fname string, d *Dump) error {
	f, err := os.Create(fname)
	if err != nil { return err }
	if err := Write(f, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write writes d to w.
func Write(w io.Writer, d *Dump) error {
	if err := d.check(); err != nil { return err }

	edges := make([]int64, Blocks + 1)
	data := &bytes.Buffer{ }
	var buf []byte
	for i, block := range [][]float64{ d.Trg, d.Exact, d.Approx } {
		var err error
		buf, err = zstd.CompressLevel(buf, float64Bytes(block), Level)
		if err != nil { return err }
		data.Write(buf)
		edges[i + 1] = int64(data.Len())
	}

	if err := binary.Write(w, order, uint32(MagicNumber)); err != nil {
		return err
	}
	if err := binary.Write(w, order, uint32(Version)); err != nil { return err }
	if err := binary.Write(w, order, &d.FixedWidthHeader); err != nil {
		return err
	}
	if err := binary.Write(w, order, int64(len(d.Kernel))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, d.Kernel); err != nil { return err }
	if err := binary.Write(w, order, edges); err != nil { return err }
	_, err := w.Write(data.Bytes())
	return err
}

// ReadFile reads the dump in fname.
func ReadFile(fname string) (*Dump, error) {
	f, err := os.Open(fname)
	if err != nil { return nil, err }
	defer f.Close()

	d, err := Read(f)
	if err != nil { return nil, fmt.Errorf("%s: %w", fname, err) }
	return d, nil
}

// Read reads a dump from rd.
func Read(rd io.Reader) (*Dump, error) {
	var magic, version uint32
	if err := binary.Read(rd, order, &magic); err != nil { return nil, err }
	switch magic {
	case MagicNumber:
	case ReverseMagicNumber:
		return nil, fmt.Errorf("file was written with the wrong byte order")
	default:
		return nil, fmt.Errorf("not an nbodycheck dump. Dumps begin with %x, but this file begins with %x",
			MagicNumber, magic)
	}
	if err := binary.Read(rd, order, &version); err != nil { return nil, err }
	if version > Version {
		return nil, fmt.Errorf("dump has version %d, but this nbodycheck can only read up to version %d",
			version, Version)
	}

	d := &Dump{ }
	if err := binary.Read(rd, order, &d.FixedWidthHeader); err != nil {
		return nil, err
	}
	if d.N < 0 || d.N > maxPoints || d.DimOut < 0 || d.DimOut > maxDimOut {
		return nil, fmt.Errorf("dump header has %d points of width %d", d.N, d.DimOut)
	}
	lens := []int{
		int(d.N)*kernel.Dim, int(d.N*d.DimOut), int(d.N*d.DimOut),
	}

	var nName int64
	if err := binary.Read(rd, order, &nName); err != nil { return nil, err }
	if nName < 0 || nName > 1<<10 {
		return nil, fmt.Errorf("dump kernel name has length %d", nName)
	}
	name := make([]byte, nName)
	if _, err := io.ReadFull(rd, name); err != nil { return nil, err }
	d.Kernel = string(name)

	edges := make([]int64, Blocks + 1)
	if err := binary.Read(rd, order, edges); err != nil { return nil, err }
	if edges[0] != 0 {
		return nil, fmt.Errorf("dump block edges %v do not start at 0", edges)
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] < edges[i - 1] {
			return nil, fmt.Errorf("dump block edges %v are not sorted", edges)
		}
		if edges[i] - edges[i - 1] > int64(zstd.CompressBound(8*lens[i - 1])) {
			return nil, fmt.Errorf("dump block %d is %d bytes, too large for %d values",
				i - 1, edges[i] - edges[i - 1], lens[i - 1])
		}
	}
	data := make([]byte, edges[Blocks])
	if _, err := io.ReadFull(rd, data); err != nil { return nil, err }

	out := make([][]float64, Blocks)
	var buf []byte
	for i := range out {
		var err error
		buf, err = zstd.Decompress(buf, data[edges[i]: edges[i + 1]])
		if err != nil { return nil, err }
		if len(buf) != 8*lens[i] {
			return nil, fmt.Errorf("dump block %d holds %d bytes, but %d values were expected",
				i, len(buf), lens[i])
		}
		out[i] = bytesFloat64(buf)
	}
	d.Trg, d.Exact, d.Approx = out[0], out[1], out[2]
	return d, nil
}

func float64Bytes(x []float64) []byte {
	b := make([]byte, 8*len(x))
	for i := range x {
		order.PutUint64(b[8*i:], math.Float64bits(x[i]))
	}
	return b
}

func bytesFloat64(b []byte) []float64 {
	x := make([]float64, len(b) / 8)
	for i := range x {
		x[i] = math.Float64frombits(order.Uint64(b[8*i:]))
	}
	return x
}
