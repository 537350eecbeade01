/*package thread contains functions useful for multi-threading.*/
package thread

import (
	"fmt"
	"runtime"
)

// Set sets the number of threads the process may run Go code on
// simultaneously and returns that number. n = -1 uses every core on the node.
func Set(n int) (int, error) {
	cores := runtime.NumCPU()
	switch {
	case n == -1:
		n = cores
	case n <= 0:
		return 0, fmt.Errorf("%d threads requested, but the thread count must be positive or -1.", n)
	case n > cores:
		return 0, fmt.Errorf("%d threads requested, but your system only has %d cores per node. If you want nbodycheck to use the maximum number of threads per node, set -omp -1.", n, cores)
	}

	runtime.GOMAXPROCS(n)
	return n, nil
}

// Count returns the number of threads the process is currently allowed.
func Count() int { return runtime.GOMAXPROCS(0) }

// Cores returns the number of cores on the node.
func Cores() int { return runtime.NumCPU() }
