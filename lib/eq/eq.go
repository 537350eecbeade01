/*package eq is a simple package for telling whether two arrays are equal to
one another, either exactly or to within a floating point tolerance. It is
used by the tests of nbodycheck's other packages.*/
package eq

import (
	"math"
)

// Ints returns true if two []int arrays are the same and false otherwise.
func Ints(x, y []int) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Float64s returns true if two []float64 arrays are the same and false
// otherwise.
func Float64s(x, y []float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Float64sEps returns true if the two []float64 arrays are within eps of one
// another and false otherwise.
func Float64sEps(x, y []float64, eps float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] + eps < y[i] || x[i] - eps > y[i] {
			return false
		}
	}
	return true
}

// Float64sRel returns true if every element of x is within a fraction rel of
// the largest magnitude in y of the corresponding element of y. Comparing
// against the largest magnitude keeps elements near zero from failing on
// round-off alone.
func Float64sRel(x, y []float64, rel float64) bool {
	if len(x) != len(y) { return false }
	scale := 0.0
	for i := range y { scale = math.Max(scale, math.Abs(y[i])) }
	return Float64sEps(x, y, rel*scale)
}
