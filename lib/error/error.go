/*package error stops an nbodycheck process once a run can't continue. Every
collective in nbodycheck treats failure as fatal to the whole group, so by the
time one of these functions is called the other processes have already been
told to abort, and the only thing left to do is explain what happened on this
process's stderr.
*/
package error

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// exit is replaced in tests.
var exit = os.Exit

// External logs a problem with the run's inputs and exits with status 1.
// Bad flags, a missing points file, an unknown kernel or a hub address that
// doesn't parse all go through External: the user can fix them without
// reading the source, so no stack trace is printed.
func External(format string, a ...interface{}) {
	log.Printf("nbodycheck stopped because of a problem with its inputs:\n" + format, a...)
	exit(1)
}

// Internal logs a broken invariant, such as a protocol violation between
// processes or a buffer of the wrong length, together with this process's
// stack, and exits with status 1.
func Internal(format string, a ...interface{}) {
	log.Println("nbodycheck stopped because of an internal error:")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n\n")
	debug.PrintStack()
	exit(1)
}

// Fatal kills the process because err was returned from a distributed
// computation. Errors matching any of the external targets are blamed on the
// environment and reported with External; everything else is an Internal
// error.
func Fatal(err error, external ...error) {
	for _, target := range external {
		if errors.Is(err, target) {
			External("%s", err.Error())
			return
		}
	}
	Internal("%s", err.Error())
}
