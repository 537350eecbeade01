package comm

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// startQUICGroup starts a hub and size-1 members on the loopback interface
// and returns every member's Comm in rank order.
func startQUICGroup(t *testing.T, ctx context.Context, size int, key string) []*Comm {
	hub, err := Listen("127.0.0.1:0", size, key)
	require.NoError(t, err)
	addr := hub.Addr().String()

	comms := make([]*Comm, size)
	eg := &errgroup.Group{ }
	eg.Go(func() error {
		c, err := hub.Accept(ctx)
		comms[0] = c
		return err
	})
	for r := 1; r < size; r++ {
		eg.Go(func() error {
			c, err := Dial(ctx, addr, r, size, key)
			comms[r] = c
			return err
		})
	}
	require.NoError(t, eg.Wait())
	return comms
}

func TestQUICCollectives(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	comms := startQUICGroup(t, ctx, 3, "test group")

	eg := &errgroup.Group{ }
	for _, c := range comms {
		eg.Go(func() error {
			if err := runCollectives(c); err != nil { return err }
			return c.Close()
		})
	}
	require.NoError(t, eg.Wait())
}

func TestQUICMismatchedCollective(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	comms := startQUICGroup(t, ctx, 2, "mismatch")

	errs := make([]error, 2)
	eg := &errgroup.Group{ }
	eg.Go(func() error {
		errs[0] = comms[0].Barrier()
		return nil
	})
	eg.Go(func() error {
		_, errs[1] = comms[1].AllgatherInt(3)
		return nil
	})
	eg.Wait()

	require.ErrorIs(t, errs[0], ErrProtocol)
	require.ErrorIs(t, errs[1], ErrFatal)
}

func TestQUICWrongKeyRejected(t *testing.T) {
	hub, err := Listen("127.0.0.1:0", 2, "right")
	require.NoError(t, err)
	defer hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go hub.Accept(ctx)

	_, err = Dial(ctx, hub.Addr().String(), 1, 2, "wrong")
	require.ErrorIs(t, err, ErrFatal)
}

func TestDialArguments(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", 0, 2, "k")
	require.Error(t, err)
	_, err = Dial(context.Background(), "127.0.0.1:1", 2, 2, "k")
	require.Error(t, err)
}

func TestReadFrameLimit(t *testing.T) {
	buf := &bytes.Buffer{ }
	require.NoError(t, binary.Write(buf, binary.LittleEndian, header{ Kind: kindHello }))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint64(1<<33)))
	_, _, err := readFrameLimit(buf, maxHello)
	require.Error(t, err)

	buf.Reset()
	require.NoError(t, writeFrame(buf, header{ Kind: kindHello }, make([]byte, 32)))
	_, b, err := readFrameLimit(buf, maxHello)
	require.NoError(t, err)
	require.Len(t, b, 32)
}

func TestQUICOversizedHelloRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "oversized"
	hub, err := Listen("127.0.0.1:0", 2, key)
	require.NoError(t, err)
	addr := hub.Addr().String()

	var c0 *Comm
	accepted := make(chan error, 1)
	go func() {
		var err error
		c0, err = hub.Accept(ctx)
		accepted <- err
	}()

	// A peer which announces a huge hello is dropped without holding up
	// the real member.
	_, cert, _, err := groupIdentity(key)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	conn, err := quic.DialAddr(ctx, addr, &tls.Config{
		RootCAs: pool, ServerName: serverName, NextProtos: []string{ alpn },
	}, quicConfig())
	require.NoError(t, err)
	stream, err := conn.OpenStreamSync(ctx)
	require.NoError(t, err)
	hello := &bytes.Buffer{ }
	binary.Write(hello, binary.LittleEndian, header{ Kind: kindHello, Root: 1, Seq: 2 })
	binary.Write(hello, binary.LittleEndian, uint64(1<<33))
	_, err = stream.Write(hello.Bytes())
	require.NoError(t, err)

	c1, err := Dial(ctx, addr, 1, 2, key)
	require.NoError(t, err)
	require.NoError(t, <-accepted)

	eg := &errgroup.Group{ }
	for _, c := range []*Comm{ c0, c1 } {
		eg.Go(func() error {
			if err := c.Barrier(); err != nil { return err }
			return c.Close()
		})
	}
	require.NoError(t, eg.Wait())
}

func TestQUICAbortDuringCollective(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	comms := startQUICGroup(t, ctx, 2, "abort")

	// Rank 1 never joins the barrier, so rank 0 is blocked until another
	// goroutine aborts it.
	done := make(chan error, 1)
	go func() { done <- comms[0].Barrier() }()
	time.Sleep(100 * time.Millisecond)
	comms[0].Abort(errors.New("interrupted"))

	require.ErrorIs(t, <-done, ErrAborted)
	require.ErrorIs(t, comms[1].Barrier(), ErrFatal)
	require.NoError(t, comms[0].Close())
	require.NoError(t, comms[1].Close())
}
