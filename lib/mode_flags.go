package lib

import (
	"fmt"
)

// RunMode is the mode nbodycheck is run in, given by its first argument.
type RunMode int
const (
	HelpMode RunMode = iota
	CheckMode
	RunRunMode
	InspectMode
)

var modeNames = []string{ "help", "check", "run", "inspect" }

func (m RunMode) String() string {
	if m < 0 || int(m) >= len(modeNames) { return fmt.Sprintf("RunMode(%d)", int(m)) }
	return modeNames[m]
}

// ParseRunMode converts the name of a mode to a RunMode.
func ParseRunMode(name string) (RunMode, error) {
	for i := range modeNames {
		if modeNames[i] == name { return RunMode(i), nil }
	}
	return 0, fmt.Errorf("You attempted to run nbodycheck in the mode '%s', but the only valid modes are %q.",
		name, modeNames)
}

// Transport indicates how the ranks of a run talk to one another.
type Transport int
const (
	// InProcess runs every rank as a goroutine of this process.
	InProcess Transport = iota
	// QUIC runs one rank per process, connected through a hub on rank 0.
	QUIC
)
