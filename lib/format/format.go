/*package format handles nbodycheck's miniature language for selecting ranks,
e.g. the -ranks flag of the inspect mode:

  0..7 - 3

Sequence formats are a generic way to specify non-contiguous sequences of
natural numbers. They consist of a series of tokens separated by "+" or "-".
Each token can be either a number or two numbers separated by "..", which
includes both ends. E.g.:

  3
  0..15
  0..3 + 8..11
  0..63 - 17 - 40..47

All spaces around "+" and "-" are ignored. A leading "+" may be dropped.
*/
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// Any expanded formats which would have more than BigNumber elements are
	// assumed to be bugs.
	BigNumber = 1<<20
)

// ExpandSequence expands a sequence format string into a sorted sequence of
// integers.
func ExpandSequence(format string) ([]int, error) {
	tok, err := tokenise(format)
	if err != nil { return nil, err }
	adds, subs, err := addsSubs(tok)
	if err != nil { return nil, err }

	m := map[int]bool{ }
	for _, t := range adds {
		lo, hi := bounds(t)
		if hi - lo + 1 > BigNumber - len(m) {
			return nil, fmt.Errorf("The sequence would have more than %d elements, which is almost certainly a bug.", BigNumber)
		}
		for n := lo; n <= hi; n++ {
			if m[n] { return nil, fmt.Errorf("The number %d is added more than once.", n) }
			m[n] = true
		}
	}
	for _, t := range subs {
		lo, hi := bounds(t)
		for n := lo; n <= hi; n++ {
			if !m[n] {
				return nil, fmt.Errorf("The number %d is removed, but it was never added.", n)
			}
			delete(m, n)
		}
	}

	out := []int{ }
	for n := range m { out = append(out, n) }
	sort.Ints(out)
	return out, nil
}

// Ranks expands format into a list of ranks in a group of size np. An empty
// format selects every rank.
func Ranks(format string, np int) ([]int, error) {
	if strings.TrimSpace(format) == "" {
		out := make([]int, np)
		for i := range out { out[i] = i }
		return out, nil
	}

	ranks, err := ExpandSequence(format)
	if err != nil { return nil, err }
	for _, r := range ranks {
		if r < 0 || r >= np {
			return nil, fmt.Errorf("Rank %d is not in a group of size %d.", r, np)
		}
	}
	return ranks, nil
}

// tokenise splits a format string into numbers, ranges, and operators.
func tokenise(format string) ([]string, error) {
	clean := strings.ReplaceAll(format, "+", " + ")
	clean = strings.ReplaceAll(clean, "-", " - ")

	tok := strings.Fields(clean)
	if len(tok) == 0 {
		return nil, fmt.Errorf("The format string is empty.")
	}
	return tok, nil
}

// addsSubs sorts the tokens of a format string into those which are added to
// the sequence and those which are removed from it.
func addsSubs(tok []string) (adds, subs []string, err error) {
	adds, subs = []string{ }, []string{ }

	// Handle the case where the starting "+" is dropped.
	start := 0
	if tok[0] != "+" && tok[0] != "-" {
		if err := checkToken(tok[0]); err != nil {
			return nil, nil, fmt.Errorf("Element number 1, '%s', cannot be parsed because %s", tok[0], err)
		}
		adds = append(adds, tok[0])
		start = 1
	}

	for i := start; i < len(tok); i += 2 {
		if tok[i] != "-" && tok[i] != "+" {
			return nil, nil, fmt.Errorf("Element number %d, '%s', should be a '-' or '+', but isn't.", i + 1, tok[i])
		} else if i + 1 >= len(tok) {
			return nil, nil, fmt.Errorf("The format string ends in a trailing '%s'.", tok[i])
		} else if err := checkToken(tok[i + 1]); err != nil {
			return nil, nil, fmt.Errorf("Element number %d, '%s', cannot be parsed because %s", i + 2, tok[i + 1], err)
		}

		if tok[i] == "+" {
			adds = append(adds, tok[i + 1])
		} else {
			subs = append(subs, tok[i + 1])
		}
	}
	return adds, subs, nil
}

// checkToken returns a nil error if tok is a number or a range and an error
// describing the problem otherwise. The message is written to follow
// "because".
func checkToken(tok string) error {
	parts := strings.Split(tok, "..")
	switch len(parts) {
	case 1:
		if _, err := strconv.Atoi(parts[0]); err != nil {
			return fmt.Errorf("'%s' is not an integer.", parts[0])
		}
		return nil
	case 2:
		lo, err := strconv.Atoi(parts[0])
		if err != nil { return fmt.Errorf("'%s' is not an integer.", parts[0]) }
		hi, err := strconv.Atoi(parts[1])
		if err != nil { return fmt.Errorf("'%s' is not an integer.", parts[1]) }
		if hi < lo {
			return fmt.Errorf("lower bound %d is larger than upper bound %d.", lo, hi)
		}
		return nil
	}
	return fmt.Errorf("it has more than one '..'.")
}

// bounds returns the inclusive range of a token which has passed checkToken.
func bounds(tok string) (lo, hi int) {
	parts := strings.Split(tok, "..")
	lo, _ = strconv.Atoi(parts[0])
	if len(parts) == 1 { return lo, lo }
	hi, _ = strconv.Atoi(parts[1])
	return lo, hi
}
