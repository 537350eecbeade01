package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/phil-mansfield/nbodycheck/lib"
	"github.com/phil-mansfield/nbodycheck/lib/comm"
	"github.com/phil-mansfield/nbodycheck/lib/driver"
	report "github.com/phil-mansfield/nbodycheck/lib/error"
	"github.com/phil-mansfield/nbodycheck/lib/kernel"
	"github.com/phil-mansfield/nbodycheck/lib/points"
	"github.com/phil-mansfield/nbodycheck/lib/solver"
	"github.com/phil-mansfield/nbodycheck/lib/thread"
)

// userErrors are the errors which can be fixed by changing the command line,
// the config file, or the environment.
var userErrors = []error{
	fs.ErrNotExist, fs.ErrPermission, kernel.ErrUnknownKernel,
	points.ErrUnknownMode, solver.ErrUnknownSolver, solver.ErrUnsupported,
}

func main() {
	// Parse arguments.
	mode, configFile, cmdArgs, err := lib.ParseCommandLine(os.Args[1:])
	if err != nil { usageError(err) }
	runMode, err := lib.ParseRunMode(mode)
	if err != nil { usageError(err) }

	rawArgs := lib.DefaultRawArgs()
	if configFile != "" {
		rawArgs, err = lib.ParseConfigFile(configFile)
		if err != nil { usageError(err) }
	}
	rawArgs.Overwrite(cmdArgs)

	// Do processing that doesn't need external validation.
	args, err := rawArgs.Process(runMode)
	if err != nil { usageError(err) }

	// Run the chosen mode.
	switch runMode {
	case lib.HelpMode:
		lib.PrintHelp(os.Stdout)
	case lib.CheckMode:
		Check(args)
	case lib.RunRunMode:
		Run(args)
	case lib.InspectMode:
		Inspect(args)
	}
}

func usageError(err error) {
	fmt.Fprintln(os.Stderr, lib.Usage())
	report.External("%s", err.Error())
}

// Check runs nbodycheck's "check" mode which tests for errors in the
// configuration arguments.
func Check(args *lib.Args) {
	if err := lib.Check(args); err != nil { report.External("%s", err.Error()) }
	fmt.Println("No errors detected.")
}

// Run runs nbodycheck's "run" mode, which measures the error of the chosen
// solver.
func Run(args *lib.Args) {
	if err := lib.Check(args); err != nil { report.External("%s", err.Error()) }

	threads, err := thread.Set(args.Threads)
	if err != nil { report.External("%s", err.Error()) }
	args.Threads = threads

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args.Transport {
	case lib.InProcess:
		err = comm.NewGroup(args.Np).Run(ctx, func(c *comm.Comm) error {
			_, err := driver.Run(c, args, os.Stdout)
			return err
		})
	case lib.QUIC:
		err = runQUIC(ctx, args)
	}
	if err != nil { report.Fatal(err, userErrors...) }
}

// runQUIC runs this process's rank of a multi-process group. Rank 0 hosts the
// hub.
func runQUIC(ctx context.Context, args *lib.Args) error {
	var c *comm.Comm
	if args.Rank == comm.Root {
		hub, err := comm.Listen(args.Hub, args.Np, args.Key)
		if err != nil { return err }
		defer hub.Close()
		if c, err = hub.Accept(ctx); err != nil { return err }
	} else {
		var err error
		if c, err = comm.Dial(ctx, args.Hub, args.Rank, args.Np, args.Key); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { c.Abort(context.Cause(ctx)) })
	defer stop()

	if _, err := driver.Run(c, args, os.Stdout); err != nil {
		c.Abort(err)
		c.Close()
		return err
	}
	return c.Close()
}

// Inspect runs nbodycheck's "inspect" mode, which prints the errors stored in
// a set of dump files.
func Inspect(args *lib.Args) {
	if err := lib.Check(args); err != nil { report.External("%s", err.Error()) }
	if _, err := driver.Inspect(args.Dump, args.Ranks, os.Stdout); err != nil {
		report.Fatal(err, userErrors...)
	}
}
