package lib

/* check.go contains the core functions of nbodycheck's "check" mode. */

import (
	"fmt"
	"net"
	"os"

	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/thread"
)

// Check runs the nbodycheck "check" command on the provided Args. Unlike
// Process, it looks at the environment: the machine's core count, input
// files, and network addresses. It returns the first problem it finds.
func Check(args *Args) error {
	if args.RunMode == HelpMode { return nil }
	if args.RunMode == InspectMode {
		for _, r := range args.Ranks {
			err := checkFile(fmt.Sprintf("%s.%d", args.Dump, r), "-dump")
			if err != nil { return err }
		}
		return nil
	}

	if args.Threads > thread.Cores() {
		return fmt.Errorf("-omp is %d, but this machine only has %d cores.",
			args.Threads, thread.Cores())
	}
	if args.Points != "" {
		if err := checkFile(args.Points, "-points"); err != nil { return err }
	}
	if args.Transport == QUIC {
		if _, _, err := net.SplitHostPort(args.Hub); err != nil {
			return fmt.Errorf("-hub '%s' is not a host:port address: %v.", args.Hub, err)
		}
	}

	if args.Solver == "gravitree" {
		if args.Kernel.Name != kernel.LaplacePotential.Name {
			return fmt.Errorf("The gravitree solver can only compute '%s', but -kernel is '%s'.",
				kernel.LaplacePotential.Name, args.Kernel.Name)
		}
	}
	return nil
}

func checkFile(fname, flag string) error {
	info, err := os.Stat(fname)
	if err != nil {
		return fmt.Errorf("The file given by %s, %s, cannot be read: %v.", flag, fname, err)
	} else if info.IsDir() {
		return fmt.Errorf("The file given by %s, %s, is a directory.", flag, fname)
	}
	return nil
}
