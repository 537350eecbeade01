package comm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is a communication group whose members are goroutines in the current
// process.
type Group struct {
	size int

	mu sync.Mutex
	cur *round
	finished int

	done chan struct{}
	once sync.Once
	err error
}

// round is the rendezvous for a single collective.
type round struct {
	h header
	parts [][]byte
	arrived int
	ready chan struct{}
}

// NewGroup creates an in-process group with n members.
func NewGroup(n int) *Group {
	if n <= 0 {
		panic(fmt.Sprintf("Internal error: group size %d is not positive.", n))
	}
	return &Group{ size: n, done: make(chan struct{}) }
}

// Self returns the only member of a group of size one.
func Self() *Comm { return NewGroup(1).Comm(0) }

// Size returns the number of members in the group.
func (g *Group) Size() int { return g.size }

// Comm returns the handle for the member with the given rank. Each rank's
// handle should be requested once and used by a single goroutine.
func (g *Group) Comm(rank int) *Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("Internal error: rank %d requested from a group of size %d.", rank, g.size))
	}
	return newComm(rank, g.size, &groupTransport{ g })
}

// Run calls fn concurrently for every rank of a fresh group and waits for
// them all to return. If any rank returns an error, or ctx is cancelled, the
// group is aborted so that no rank stays blocked in a collective. Run
// returns the first error.
func (g *Group) Run(ctx context.Context, fn func(c *Comm) error) error {
	stop := context.AfterFunc(ctx, func() {
		g.abort(fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx)))
	})
	defer stop()

	eg := &errgroup.Group{ }
	for r := 0; r < g.size; r++ {
		c := g.Comm(r)
		eg.Go(func() error {
			defer g.leave(r)
			err := fn(c)
			if err != nil {
				g.abort(fmt.Errorf("%w: rank %d failed: %v", ErrAborted, r, err))
			}
			return err
		})
	}
	return eg.Wait()
}

func (g *Group) abort(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

func (g *Group) aborted() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}

// leave records that a rank will call no more collectives. If peers are
// already waiting for it, the group can never make progress.
func (g *Group) leave(rank int) {
	g.mu.Lock()
	g.finished++
	r := g.cur
	stuck := r != nil && r.arrived + g.finished >= g.size
	g.mu.Unlock()

	if stuck {
		g.abort(fmt.Errorf("%w: rank %d stopped calling collectives while other ranks wait in %s",
			ErrProtocol, rank, r.h))
	}
}

func (g *Group) exchange(rank int, h header, payload []byte) ([][]byte, error) {
	if err := g.aborted(); err != nil { return nil, err }

	g.mu.Lock()
	if g.cur == nil {
		g.cur = &round{
			h: h, parts: make([][]byte, g.size), ready: make(chan struct{}),
		}
	}
	r := g.cur
	if r.h != h {
		g.mu.Unlock()
		err := fmt.Errorf("%w: rank %d called %s while other ranks called %s",
			ErrProtocol, rank, h, r.h)
		g.abort(err)
		return nil, err
	}

	r.parts[rank] = payload
	r.arrived++
	stuck := false
	if r.arrived == g.size {
		g.cur = nil
		close(r.ready)
	} else {
		stuck = r.arrived + g.finished >= g.size
	}
	g.mu.Unlock()

	if stuck {
		g.abort(fmt.Errorf("%w: %s is waiting on ranks that have stopped calling collectives",
			ErrProtocol, h))
	}

	select {
	case <-r.ready:
		return r.parts, nil
	case <-g.done:
		return nil, g.err
	}
}

// groupTransport adapts a Group to the transport interface.
type groupTransport struct {
	g *Group
}

func (t *groupTransport) exchange(rank int, h header, payload []byte) ([][]byte, error) {
	return t.g.exchange(rank, h, payload)
}

func (t *groupTransport) abort(err error) { t.g.abort(err) }

func (t *groupTransport) close() error { return nil }
