package comm

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"
	"golang.org/x/crypto/sha3"
)

const (
	alpn = "nbodycheck"
	serverName = "nbodycheck"

	errCodeDone quic.ApplicationErrorCode = 0
	errCodeAbort quic.ApplicationErrorCode = 1
	errCodeRejected quic.ApplicationErrorCode = 2

	// Largest frame payload accepted from a peer.
	maxFrame = 1<<34
	// Largest hello payload, which is read before the peer is authenticated.
	maxHello = 64

	dialRetry = 200 * time.Millisecond
	helloWait = 10 * time.Second
	closeWait = 5 * time.Second
)

// quicConfig keeps connections open while ranks compute between collectives.
func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 5 * time.Second,
		MaxIdleTimeout: time.Minute,
	}
}

type zeroReader struct{ }

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p { p[i] = 0 }
	return len(p), nil
}

// groupIdentity derives the group's TLS certificate and hello token from the
// shared group key, so that every member can authenticate the hub without
// distributing certificates.
func groupIdentity(key string) (tls.Certificate, *x509.Certificate, [32]byte, error) {
	seed := sha3.Sum256([]byte("nbodycheck identity\x00" + key))
	token := sha3.Sum256([]byte("nbodycheck hello\x00" + key))
	priv := ed25519.NewKeyFromSeed(seed[:])

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{ CommonName: serverName },
		NotBefore: time.Unix(0, 0),
		NotAfter: time.Unix(0, 0).Add(200 * 365 * 24 * time.Hour),
		KeyUsage: x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth,
		},
		DNSNames: []string{ serverName },
	}
	der, err := x509.CreateCertificate(zeroReader{ }, &template, &template,
		priv.Public(), priv)
	if err != nil { return tls.Certificate{ }, nil, token, err }
	cert, err := x509.ParseCertificate(der)
	if err != nil { return tls.Certificate{ }, nil, token, err }

	return tls.Certificate{
		Certificate: [][]byte{ der }, PrivateKey: priv,
	}, cert, token, nil
}

////////////
// Frames //
////////////

func writeFrame(w io.Writer, h header, payload []byte) error {
	buf := &bytes.Buffer{ }
	buf.Grow(binary.Size(h) + 8 + len(payload))
	binary.Write(buf, binary.LittleEndian, h)
	binary.Write(buf, binary.LittleEndian, uint64(len(payload)))
	buf.Write(payload)
	_, err := w.Write(buf.Bytes())
	return err
}

func readFrame(r io.Reader) (header, []byte, error) {
	return readFrameLimit(r, maxFrame)
}

func readFrameLimit(r io.Reader, limit uint64) (header, []byte, error) {
	h := header{ }
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, nil, err
	}
	n := uint64(0)
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return h, nil, err
	}
	if n > limit {
		return h, nil, fmt.Errorf("frame of %d bytes is larger than the %d byte limit", n, limit)
	}
	payload := make([]byte, n)
	_, err := io.ReadFull(r, payload)
	return h, payload, err
}

func encodeParts(parts [][]byte) []byte {
	n := 4
	for _, p := range parts { n += 8 + len(p) }
	b := make([]byte, 0, n)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(parts)))
	for _, p := range parts {
		b = binary.LittleEndian.AppendUint64(b, uint64(len(p)))
		b = append(b, p...)
	}
	return b
}

func decodeParts(b []byte) ([][]byte, error) {
	if len(b) < 4 { return nil, fmt.Errorf("truncated payload list") }
	parts := make([][]byte, binary.LittleEndian.Uint32(b))
	b = b[4:]
	for i := range parts {
		if len(b) < 8 { return nil, fmt.Errorf("truncated payload list") }
		n := binary.LittleEndian.Uint64(b)
		b = b[8:]
		if uint64(len(b)) < n { return nil, fmt.Errorf("truncated payload list") }
		parts[i], b = b[:n], b[n:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after payload list", len(b))
	}
	return parts, nil
}

/////////
// Hub //
/////////

// Hub is rank 0 of a QUIC group. It listens for the other members, which
// join with Dial, and relays every collective.
type Hub struct {
	ln *quic.Listener
	size int
	token [32]byte
}

// Listen starts the hub of a group with size members on addr. Members are
// only accepted if they were started with the same key.
func Listen(addr string, size int, key string) (*Hub, error) {
	if size <= 0 {
		return nil, fmt.Errorf("group size %d is not positive", size)
	}
	cert, _, token, err := groupIdentity(key)
	if err != nil { return nil, err }

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{ cert },
		NextProtos: []string{ alpn },
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil { return nil, err }

	return &Hub{ ln: ln, size: size, token: token }, nil
}

// Addr returns the address the hub is listening on.
func (hub *Hub) Addr() net.Addr { return hub.ln.Addr() }

// Close stops listening. It only needs to be called if Accept failed or was
// never called; otherwise closing the returned Comm closes the hub.
func (hub *Hub) Close() error { return hub.ln.Close() }

// Accept waits until every other member has joined and returns rank 0's
// Comm. Peers which present the wrong key, size or a duplicate rank are
// rejected and do not count towards the group.
func (hub *Hub) Accept(ctx context.Context) (*Comm, error) {
	peers := make([]*peer, hub.size)
	for joined := 1; joined < hub.size; {
		conn, err := hub.ln.Accept(ctx)
		if err != nil {
			closePeers(peers, errCodeAbort, "hub stopped accepting")
			return nil, fmt.Errorf("%w: accepting group members: %v", ErrFatal, err)
		}

		p, rank, err := hub.handshake(ctx, conn, peers)
		if err != nil {
			conn.CloseWithError(errCodeRejected, err.Error())
			continue
		}
		peers[rank] = p
		joined++
	}

	return newComm(0, hub.size, &hubTransport{ ln: hub.ln, peers: peers }), nil
}

func (hub *Hub) handshake(ctx context.Context, conn *quic.Conn, peers []*peer) (*peer, int, error) {
	ctx, cancel := context.WithTimeout(ctx, helloWait)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil { return nil, 0, err }

	stream.SetReadDeadline(time.Now().Add(helloWait))
	h, token, err := readFrameLimit(stream, maxHello)
	if err != nil { return nil, 0, err }
	stream.SetReadDeadline(time.Time{ })
	rank, size := int(h.Root), int(h.Seq)

	switch {
	case h.Kind != kindHello:
		return nil, 0, fmt.Errorf("expected a hello, got %s", h)
	case !bytes.Equal(token, hub.token[:]):
		return nil, 0, fmt.Errorf("group key mismatch")
	case size != hub.size:
		return nil, 0, fmt.Errorf("peer expects a group of size %d, hub has %d", size, hub.size)
	case rank <= 0 || rank >= hub.size:
		return nil, 0, fmt.Errorf("rank %d is not a valid peer rank", rank)
	case peers[rank] != nil:
		return nil, 0, fmt.Errorf("rank %d has already joined", rank)
	}

	if err := writeFrame(stream, header{ Kind: kindHello }, []byte{ 1 }); err != nil {
		return nil, 0, err
	}
	return &peer{ conn: conn, stream: stream }, rank, nil
}

type peer struct {
	conn *quic.Conn
	stream *quic.Stream
}

func closePeers(peers []*peer, code quic.ApplicationErrorCode, msg string) {
	for _, p := range peers {
		if p != nil { p.conn.CloseWithError(code, msg) }
	}
}

// failure holds the first error of a transport. It is set by abort, which
// may run on another goroutine than the collectives.
type failure struct {
	once sync.Once
	err atomic.Pointer[error]
}

func (f *failure) get() error {
	if p := f.err.Load(); p != nil { return *p }
	return nil
}

func (f *failure) set(err error) { f.err.Store(&err) }

type hubTransport struct {
	ln *quic.Listener
	peers []*peer

	failure
}

func (t *hubTransport) exchange(rank int, h header, payload []byte) ([][]byte, error) {
	if err := t.get(); err != nil { return nil, err }

	parts := make([][]byte, len(t.peers))
	parts[0] = payload
	for r := 1; r < len(t.peers); r++ {
		ph, p, err := readFrame(t.peers[r].stream)
		if err != nil {
			return nil, t.fail(fmt.Errorf("%w: reading %s from rank %d: %v",
				ErrFatal, h, r, err))
		}
		if ph != h {
			return nil, t.fail(fmt.Errorf("%w: rank %d called %s while rank 0 called %s",
				ErrProtocol, r, ph, h))
		}
		parts[r] = p
	}

	switch {
	case h.Root == allRanks:
		all := encodeParts(parts)
		for r := 1; r < len(t.peers); r++ {
			if err := writeFrame(t.peers[r].stream, h, all); err != nil {
				return nil, t.fail(fmt.Errorf("%w: sending %s to rank %d: %v",
					ErrFatal, h, r, err))
			}
		}
		return parts, nil
	case h.Root == 0:
		return parts, nil
	default:
		root := int(h.Root)
		if err := writeFrame(t.peers[root].stream, h, encodeParts(parts)); err != nil {
			return nil, t.fail(fmt.Errorf("%w: sending %s to rank %d: %v",
				ErrFatal, h, root, err))
		}
		return nil, nil
	}
}

func (t *hubTransport) fail(err error) error {
	t.abort(err)
	return t.get()
}

func (t *hubTransport) abort(err error) {
	t.once.Do(func() {
		t.set(err)
		closePeers(t.peers, errCodeAbort, err.Error())
		t.ln.Close()
	})
}

// close waits for every member to finish reading before tearing the
// connections down, since closing a QUIC connection discards unread data.
func (t *hubTransport) close() error {
	if t.get() == nil {
		for _, p := range t.peers {
			if p == nil { continue }
			io.Copy(io.Discard, p.stream)
		}
	}
	t.once.Do(func() {
		closePeers(t.peers, errCodeDone, "")
		t.ln.Close()
	})
	return nil
}

////////////
// Member //
////////////

// Dial joins the QUIC group whose hub listens on addr as the given rank.
// Because the hub may still be starting up, failed connection attempts are
// retried until ctx expires.
func Dial(ctx context.Context, addr string, rank, size int, key string) (*Comm, error) {
	if rank <= 0 || rank >= size {
		return nil, fmt.Errorf("rank %d cannot join a group of size %d; rank 0 must Listen", rank, size)
	}
	_, cert, token, err := groupIdentity(key)
	if err != nil { return nil, err }

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	tlsConf := &tls.Config{
		RootCAs: pool,
		ServerName: serverName,
		NextProtos: []string{ alpn },
	}

	var conn *quic.Conn
	for {
		conn, err = quic.DialAddr(ctx, addr, tlsConf, quicConfig())
		if err == nil { break }
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: dialling hub at %s: %v", ErrFatal, addr, err)
		case <-time.After(dialRetry):
		}
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(errCodeAbort, "")
		return nil, fmt.Errorf("%w: opening stream to hub: %v", ErrFatal, err)
	}

	hello := header{ Kind: kindHello, Root: int32(rank), Seq: uint64(size) }
	if err := writeFrame(stream, hello, token[:]); err != nil {
		conn.CloseWithError(errCodeAbort, "")
		return nil, fmt.Errorf("%w: sending hello: %v", ErrFatal, err)
	}
	h, ack, err := readFrame(stream)
	if err != nil || h.Kind != kindHello || len(ack) != 1 {
		conn.CloseWithError(errCodeAbort, "")
		return nil, fmt.Errorf("%w: hub rejected rank %d: %v", ErrFatal, rank, err)
	}

	return newComm(rank, size, &memberTransport{ conn: conn, stream: stream }), nil
}

type memberTransport struct {
	conn *quic.Conn
	stream *quic.Stream

	failure
}

func (t *memberTransport) exchange(rank int, h header, payload []byte) ([][]byte, error) {
	if err := t.get(); err != nil { return nil, err }

	if err := writeFrame(t.stream, h, payload); err != nil {
		return nil, t.fail(fmt.Errorf("%w: sending %s: %v", ErrFatal, h, err))
	}
	if h.Root != allRanks && int(h.Root) != rank { return nil, nil }

	ph, b, err := readFrame(t.stream)
	if err != nil {
		return nil, t.fail(fmt.Errorf("%w: receiving %s: %v", ErrFatal, h, err))
	}
	if ph != h {
		return nil, t.fail(fmt.Errorf("%w: hub answered %s with %s",
			ErrProtocol, h, ph))
	}
	parts, err := decodeParts(b)
	if err != nil {
		return nil, t.fail(fmt.Errorf("%w: %s: %v", ErrProtocol, h, err))
	}
	return parts, nil
}

func (t *memberTransport) fail(err error) error {
	t.abort(err)
	return t.get()
}

func (t *memberTransport) abort(err error) {
	t.once.Do(func() {
		t.set(err)
		t.conn.CloseWithError(errCodeAbort, err.Error())
	})
}

func (t *memberTransport) close() error {
	if t.get() != nil { return nil }
	err := t.stream.Close()

	// Wait for the hub to hang up so that nothing in flight is lost.
	select {
	case <-t.conn.Context().Done():
	case <-time.After(closeWait):
	}
	t.once.Do(func() {
		t.conn.CloseWithError(errCodeDone, "")
	})
	return err
}
