package lib

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"gopkg.in/gcfg.v1"
)

// RunArgs are the variables of the [Run] section of a config file.
type RunArgs struct {
	Threads int `gcfg:"omp"`
	N int
	Order int `gcfg:"m"`
	Kernel string
	Solver string
	Dist string
	Seed int64
	MaxPoints int `gcfg:"max-pts"`
	Eps float64
	Points string
	Dump string
	Ranks string
}

// NetworkArgs are the variables of the [Network] section of a config file.
type NetworkArgs struct {
	Np int
	Rank int
	Hub string
	Key string
}

// RawArgs stores the unprocessed values which the user assigned to each config
// variable.
type RawArgs struct {
	Run RunArgs
	Network NetworkArgs

	// set lists the flags which were given explicitly on the command line.
	set map[string]bool
}

// DefaultRawArgs returns the values used for anything the user doesn't set.
func DefaultRawArgs() *RawArgs {
	return &RawArgs{
		Run: RunArgs{
			Threads: 1, N: -1, Order: 10, Kernel: "laplace_potn",
			Solver: "tree", Dist: "unif", Seed: 1, MaxPoints: 64, Eps: 1e-6,
		},
		Network: NetworkArgs{ Np: 1, Rank: 0, Key: "nbodycheck" },
	}
}

// flags binds every command line flag to a field of args.
func (args *RawArgs) flags(configFile *string) *flag.FlagSet {
	fs := flag.NewFlagSet("nbodycheck", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	r, n := &args.Run, &args.Network
	fs.IntVar(&r.Threads, "omp", r.Threads, "")
	fs.IntVar(&r.N, "N", r.N, "")
	fs.IntVar(&r.Order, "m", r.Order, "")
	fs.StringVar(&r.Kernel, "kernel", r.Kernel, "")
	fs.StringVar(&r.Solver, "solver", r.Solver, "")
	fs.StringVar(&r.Dist, "dist", r.Dist, "")
	fs.Int64Var(&r.Seed, "seed", r.Seed, "")
	fs.IntVar(&r.MaxPoints, "max-pts", r.MaxPoints, "")
	fs.Float64Var(&r.Eps, "eps", r.Eps, "")
	fs.StringVar(&r.Points, "points", r.Points, "")
	fs.StringVar(&r.Dump, "dump", r.Dump, "")
	fs.StringVar(&r.Ranks, "ranks", r.Ranks, "")
	fs.IntVar(&n.Np, "np", n.Np, "")
	fs.IntVar(&n.Rank, "rank", n.Rank, "")
	fs.StringVar(&n.Hub, "hub", n.Hub, "")
	fs.StringVar(&n.Key, "key", n.Key, "")
	fs.StringVar(configFile, "config", "", "")
	return fs
}

// ParseCommandLine parses the command line arguments, without the program
// name, and returns the mode nbodycheck is being run in, the name of the
// config file, and any arguments which were set. Expects that the arguments
// are presented in the order:
// $ nbodycheck <mode> [-<Arg1> <Value1>] [-<Arg2> <Value2>]
func ParseCommandLine(argv []string) (mode, configFile string, args *RawArgs, err error) {
	if len(argv) == 0 || strings.HasPrefix(argv[0], "-") {
		return "", "", nil, fmt.Errorf("No mode was given. nbodycheck must be run as 'nbodycheck <mode> [flags]'.")
	}
	mode = argv[0]

	args = DefaultRawArgs()
	fs := args.flags(&configFile)
	if err := fs.Parse(argv[1:]); err != nil {
		return "", "", nil, fmt.Errorf("Could not parse the command line: %v.", err)
	} else if fs.NArg() > 0 {
		return "", "", nil, fmt.Errorf("Unexpected command line arguments %q.", fs.Args())
	}

	args.set = map[string]bool{ }
	fs.Visit(func(f *flag.Flag) { args.set[f.Name] = true })

	return mode, configFile, args, nil
}

// ParseConfigFile parses arguments from a config file. Variables which the
// file doesn't set keep their default values.
func ParseConfigFile(fileName string) (*RawArgs, error) {
	args := DefaultRawArgs()
	if err := gcfg.ReadFileInto(args, fileName); err != nil {
		return nil, fmt.Errorf("Could not read the config file %s: %v", fileName, err)
	}
	return args, nil
}

// ParseConfigString is ParseConfigFile for the contents of a config file.
func ParseConfigString(text string) (*RawArgs, error) {
	args := DefaultRawArgs()
	if err := gcfg.ReadStringInto(args, text); err != nil {
		return nil, fmt.Errorf("Could not read the config: %v", err)
	}
	return args, nil
}

// Overwrite arguments in arg1 which were set explicitly on the command line
// in arg2.
func (arg1 *RawArgs) Overwrite(arg2 *RawArgs) {
	dummy := ""
	fs1, fs2 := arg1.flags(&dummy), arg2.flags(&dummy)
	fs2.VisitAll(func(f *flag.Flag) {
		if f.Name == "config" || !arg2.set[f.Name] { return }
		fs1.Set(f.Name, f.Value.String())
	})
}
