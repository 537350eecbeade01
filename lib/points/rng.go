package points

import (
	"math"
)

var (
	xorshiftMaxUint = float64(math.MaxUint32)
)

// RNG is an xorshift random number generator. It is not thread safe.
type RNG struct {
	w, x, y, z uint32

	spare float64
	hasSpare bool
}

// NewRNG creates an RNG with the given seed. Different ranks of the same run
// should use RankSeed to get independent streams.
func NewRNG(seed uint64) *RNG {
	gen := &RNG{ w: uint32(seed) ^ uint32(seed >> 32),
		x: 123456789, y: 362436069, z: 521288629 }
	if gen.w == 0 { gen.w = 88675123 }
	// The first few outputs of a freshly seeded xorshift are poorly mixed.
	for i := 0; i < 16; i++ { gen.next() }
	return gen
}

// RankSeed derives the seed of rank from the seed of the whole run.
func RankSeed(seed uint64, rank int) uint64 {
	// splitmix64 finaliser.
	z := seed + uint64(rank + 1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func (gen *RNG) next() uint32 {
	t := gen.x ^ (gen.x << 11)
	gen.x, gen.y, gen.z = gen.y, gen.z, gen.w
	gen.w = gen.w ^ (gen.w >> 19) ^ (t ^ (t >> 8))
	return gen.w
}

// Uniform generates a single random number in the range [0, 1)
func (gen *RNG) Uniform() float64 {
	for {
		res := float64(math.MaxUint32 - gen.next()) / xorshiftMaxUint
		if res != 1.0 { return res }
	}
}

// UniformSequence generates one random number in the range [0, 1) for each
// element of the array target and writes them to that array.
func (gen *RNG) UniformSequence(target []float64) {
	for i := range target { target[i] = gen.Uniform() }
}

// Normal generates a single standard normal deviate using the polar
// Box-Muller method.
func (gen *RNG) Normal() float64 {
	if gen.hasSpare {
		gen.hasSpare = false
		return gen.spare
	}
	for {
		u, v := 2*gen.Uniform() - 1, 2*gen.Uniform() - 1
		s := u*u + v*v
		if s == 0 || s >= 1 { continue }
		f := math.Sqrt(-2*math.Log(s) / s)
		gen.spare, gen.hasSpare = v*f, true
		return u*f
	}
}
