/*package profile records timing and usage statistics for a run. It is purely
observational: nothing in nbodycheck depends on what it records. All methods
may be called on a nil *Profile, in which case they do nothing.
*/
package profile

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phil-mansfield/nbodycheck/lib/comm"
)

// Profile accumulates wall-clock time for named phases and counts kernel
// interactions. It is safe for concurrent use.
type Profile struct {
	mu sync.Mutex
	names []string
	phases map[string]*phase
	interactions atomic.Int64

	now func() time.Time
}

type phase struct {
	calls int64
	elapsed time.Duration
	start time.Time
	running bool
}

// New creates an empty Profile.
func New() *Profile {
	return &Profile{ phases: map[string]*phase{ }, now: time.Now }
}

// Tic starts the timer for the named phase. Phases are reported in the order
// they were first started.
func (p *Profile) Tic(name string) {
	if p == nil { return }
	p.mu.Lock()
	defer p.mu.Unlock()

	ph, ok := p.phases[name]
	if !ok {
		ph = &phase{ }
		p.phases[name] = ph
		p.names = append(p.names, name)
	}
	ph.start, ph.running = p.now(), true
}

// Toc stops the timer for the named phase. Calling Toc on a phase which
// isn't running does nothing.
func (p *Profile) Toc(name string) {
	if p == nil { return }
	p.mu.Lock()
	defer p.mu.Unlock()

	ph, ok := p.phases[name]
	if !ok || !ph.running { return }
	ph.elapsed += p.now().Sub(ph.start)
	ph.calls++
	ph.running = false
}

// AddInteractions adds n source-target pairs to the interaction count.
func (p *Profile) AddInteractions(n int64) {
	if p == nil { return }
	p.interactions.Add(n)
}

// Phase is the JSON representation of one timed phase.
type Phase struct {
	Name string `json:"name"`
	Calls int64 `json:"calls"`
	Seconds float64 `json:"seconds"`
}

// Snapshot is the JSON representation of a Profile.
type Snapshot struct {
	Rank int `json:"rank"`
	Phases []Phase `json:"phases"`
	Interactions int64 `json:"interactions"`
}

// Snapshot returns the current state of the profile.
func (p *Profile) Snapshot(rank int) Snapshot {
	s := Snapshot{ Rank: rank, Phases: []Phase{ } }
	if p == nil { return s }
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range p.names {
		ph := p.phases[name]
		s.Phases = append(s.Phases, Phase{
			Name: name, Calls: ph.calls, Seconds: ph.elapsed.Seconds(),
		})
	}
	s.Interactions = p.interactions.Load()
	return s
}

// WriteJSON writes this process's snapshot to w.
func (p *Profile) WriteJSON(w io.Writer, rank int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p.Snapshot(rank))
}

// Report writes a table of phase timings to w on the root process. Times are
// the maximum over all processes and interactions are summed. Report is
// collective and every process must have recorded the same phases in the same
// order.
func (p *Profile) Report(c *comm.Comm, w io.Writer) error {
	s := p.Snapshot(c.Rank())

	n, err := c.AllgatherInt(len(s.Phases))
	if err != nil { return err }
	for r := range n {
		if n[r] != len(s.Phases) {
			return fmt.Errorf("rank %d recorded %d profile phases, but rank %d recorded %d",
				r, n[r], c.Rank(), len(s.Phases))
		}
	}

	secs := make([]float64, len(s.Phases))
	for i := range s.Phases { secs[i] = s.Phases[i].Seconds }
	maxSecs := make([]float64, len(secs))
	if err := c.ReduceFloat64(comm.OpMax, comm.Root, secs, maxSecs); err != nil {
		return err
	}
	inter := make([]int64, 1)
	err = c.AllreduceInt64(comm.OpSum, []int64{ s.Interactions }, inter)
	if err != nil { return err }

	c.Fprintf(w, "%-24s %8s %12s\n", "Phase", "Calls", "Max time (s)")
	for i, ph := range s.Phases {
		c.Fprintf(w, "%-24s %8d %12.4f\n", ph.Name, ph.Calls, maxSecs[i])
	}
	c.Fprintf(w, "%-24s %21d\n", "Kernel interactions", inter[0])
	return nil
}
