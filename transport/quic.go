// quic.go - QUIC-backed implementation of the four poller pool traits.
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/channels"
	quic "github.com/quic-go/quic-go"
)

var errUnknownSocket = errors.New("transport: unknown socket")

// QUICTransport is an alternate transport implementing the same four
// poller pool traits as TCPTransport, over QUIC streams instead of raw
// TCP sockets. It exists to demonstrate that the channel layer only
// ever depends on the transport package's interfaces, never on a
// concrete socket type, the same separation the reference QUIC proxy
// conn (sockatz/common.QUICProxyConn) draws between the packet-level
// transport and the stream it hands back to its caller.
type QUICTransport struct {
	mu     sync.Mutex
	nextID uint64

	streams map[SocketID]quicStream
	removed map[SocketID]bool

	listeners map[SocketID]*quic.Listener

	connectingCh *channels.InfiniteChannel
	listenerCh   *channels.InfiniteChannel
	readerCh     *channels.InfiniteChannel
	writerCh     *channels.InfiniteChannel

	tlsConf *tls.Config
}

type quicStream struct {
	conn   quic.Connection
	stream quic.Stream
}

// NewQUICTransport builds a QUIC transport using a freshly generated,
// self-signed certificate, matching the corpus's habit of generating
// ephemeral TLS material for QUIC transports that authenticate at a
// higher layer than the wire.
func NewQUICTransport() (*QUICTransport, error) {
	tlsConf, err := generateTLSConfig()
	if err != nil {
		return nil, err
	}
	return &QUICTransport{
		streams:      make(map[SocketID]quicStream),
		removed:      make(map[SocketID]bool),
		listeners:    make(map[SocketID]*quic.Listener),
		connectingCh: channels.NewInfiniteChannel(),
		listenerCh:   channels.NewInfiniteChannel(),
		readerCh:     channels.NewInfiniteChannel(),
		writerCh:     channels.NewInfiniteChannel(),
		tlsConf:      tlsConf,
	}, nil
}

func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"netty-go-mesh"},
	}, nil
}

func (t *QUICTransport) allocID() SocketID {
	return SocketID(atomic.AddUint64(&t.nextID, 1))
}

func (t *QUICTransport) register(id SocketID, s quicStream) {
	t.mu.Lock()
	t.streams[id] = s
	t.mu.Unlock()
}

func (t *QUICTransport) streamFor(id SocketID) (quicStream, bool) {
	t.mu.Lock()
	s, ok := t.streams[id]
	t.mu.Unlock()
	return s, ok
}

// --- ConnectingPool -----------------------------------------------------

func (t *QUICTransport) Dial(addr string) (SocketID, error) {
	id := t.allocID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conn, err := quic.DialAddr(ctx, addr, t.tlsConf, nil)
		if err != nil {
			t.connectingCh.In() <- ConnectingEvent{Socket: id, Kind: ConnectFailure, Err: err}
			return
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			t.connectingCh.In() <- ConnectingEvent{Socket: id, Kind: ConnectFailure, Err: err}
			return
		}
		t.register(id, quicStream{conn: conn, stream: stream})
		t.connectingCh.In() <- ConnectingEvent{Socket: id, Kind: Connected}
		t.startReading(id, stream)
	}()
	return id, nil
}

func (t *QUICTransport) Add(sock SocketID)         {}
func (t *QUICTransport) RemoveLater(sock SocketID) { t.markRemoved(sock) }
func (t *QUICTransport) ApplyRemove()              { t.applyRemove() }

func (t *QUICTransport) markRemoved(sock SocketID) {
	t.mu.Lock()
	t.removed[sock] = true
	t.mu.Unlock()
}

func (t *QUICTransport) applyRemove() {
	t.mu.Lock()
	pending := t.removed
	t.removed = make(map[SocketID]bool)
	t.mu.Unlock()

	for id := range pending {
		t.mu.Lock()
		if s, ok := t.streams[id]; ok {
			s.stream.Close()
			delete(t.streams, id)
		}
		if l, ok := t.listeners[id]; ok {
			l.Close()
			delete(t.listeners, id)
		}
		t.mu.Unlock()
	}
}

func (t *QUICTransport) Step(ch chan<- ConnectingEvent) int {
	n := 0
	for {
		select {
		case ev, ok := <-t.connectingCh.Out():
			if !ok {
				return n
			}
			ch <- ev.(ConnectingEvent)
			n++
		default:
			return n
		}
	}
}

// --- ListenerPool ---------------------------------------------------------

func (t *QUICTransport) Listen(addr string, backlog int) (SocketID, error) {
	l, err := quic.ListenAddr(addr, t.tlsConf, nil)
	if err != nil {
		return 0, err
	}
	id := t.allocID()
	t.mu.Lock()
	t.listeners[id] = l
	t.mu.Unlock()

	go func() {
		for {
			ctx := context.Background()
			conn, err := l.Accept(ctx)
			if err != nil {
				t.listenerCh.In() <- ListenerEvent{Socket: id, Kind: ListenerFailure, Err: err}
				return
			}
			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				t.listenerCh.In() <- ListenerEvent{Socket: id, Kind: ListenerFailure, Err: err}
				continue
			}
			cid := t.allocID()
			t.register(cid, quicStream{conn: conn, stream: stream})
			t.listenerCh.In() <- ListenerEvent{Socket: id, Accepted: cid, Kind: Accepted}
			t.startReading(cid, stream)
		}
	}()
	return id, nil
}

func (t *QUICTransport) StepListener(ch chan<- ListenerEvent) int {
	n := 0
	for {
		select {
		case ev, ok := <-t.listenerCh.Out():
			if !ok {
				return n
			}
			ch <- ev.(ListenerEvent)
			n++
		default:
			return n
		}
	}
}

// --- ReaderPool -------------------------------------------------------------

func (t *QUICTransport) startReading(id SocketID, stream quic.Stream) {
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				t.readerCh.In() <- ReaderEvent{Socket: id, Data: data, Kind: DataReady}
			}
			if err != nil {
				kind := ReaderFailure
				if err.Error() == "EOF" {
					kind = Disconnected
				}
				t.readerCh.In() <- ReaderEvent{Socket: id, Kind: kind, Err: err}
				return
			}
		}
	}()
}

func (t *QUICTransport) StepReader(ch chan<- ReaderEvent) int {
	n := 0
	for {
		select {
		case ev, ok := <-t.readerCh.Out():
			if !ok {
				return n
			}
			ch <- ev.(ReaderEvent)
			n++
		default:
			return n
		}
	}
}

// --- WriterPool -------------------------------------------------------------

func (t *QUICTransport) Write(sock SocketID, b []byte) (int, error) {
	s, ok := t.streamFor(sock)
	if !ok {
		return 0, errUnknownSocket
	}
	n, err := s.stream.Write(b)
	if err != nil {
		t.writerCh.In() <- WriterEvent{Socket: sock, Kind: WriterFailure, Err: err}
		return n, err
	}
	t.writerCh.In() <- WriterEvent{Socket: sock, Kind: CanWrite}
	return n, nil
}

func (t *QUICTransport) StepWriter(ch chan<- WriterEvent) int {
	n := 0
	for {
		select {
		case ev, ok := <-t.writerCh.Out():
			if !ok {
				return n
			}
			ch <- ev.(WriterEvent)
			n++
		default:
			return n
		}
	}
}

// ConnectingPool returns a view of t implementing ConnectingPool.
func (t *QUICTransport) ConnectingPool() ConnectingPool { return quicConnectingView{t} }

// ListenerPool returns a view of t implementing ListenerPool.
func (t *QUICTransport) ListenerPool() ListenerPool { return quicListenerView{t} }

// ReaderPool returns a view of t implementing ReaderPool.
func (t *QUICTransport) ReaderPool() ReaderPool { return quicReaderView{t} }

// WriterPool returns a view of t implementing WriterPool.
func (t *QUICTransport) WriterPool() WriterPool { return quicWriterView{t} }

// Pools returns all four views bundled together.
func (t *QUICTransport) Pools() Pools {
	return Pools{
		Connecting: t.ConnectingPool(),
		Listener:   t.ListenerPool(),
		Reader:     t.ReaderPool(),
		Writer:     t.WriterPool(),
	}
}

type quicConnectingView struct{ t *QUICTransport }

func (v quicConnectingView) Dial(addr string) (SocketID, error) { return v.t.Dial(addr) }
func (v quicConnectingView) Add(sock SocketID)                  { v.t.Add(sock) }
func (v quicConnectingView) RemoveLater(sock SocketID)          { v.t.RemoveLater(sock) }
func (v quicConnectingView) ApplyRemove()                       { v.t.ApplyRemove() }
func (v quicConnectingView) Step(ch chan<- ConnectingEvent) int { return v.t.Step(ch) }

type quicListenerView struct{ t *QUICTransport }

func (v quicListenerView) Listen(addr string, backlog int) (SocketID, error) {
	return v.t.Listen(addr, backlog)
}
func (v quicListenerView) Add(sock SocketID)                { v.t.Add(sock) }
func (v quicListenerView) RemoveLater(sock SocketID)        { v.t.RemoveLater(sock) }
func (v quicListenerView) ApplyRemove()                     { v.t.ApplyRemove() }
func (v quicListenerView) Step(ch chan<- ListenerEvent) int { return v.t.StepListener(ch) }

type quicReaderView struct{ t *QUICTransport }

func (v quicReaderView) Add(sock SocketID)              { v.t.Add(sock) }
func (v quicReaderView) RemoveLater(sock SocketID)      { v.t.RemoveLater(sock) }
func (v quicReaderView) ApplyRemove()                   { v.t.ApplyRemove() }
func (v quicReaderView) Step(ch chan<- ReaderEvent) int { return v.t.StepReader(ch) }

type quicWriterView struct{ t *QUICTransport }

func (v quicWriterView) Add(sock SocketID)                         { v.t.Add(sock) }
func (v quicWriterView) RemoveLater(sock SocketID)                 { v.t.RemoveLater(sock) }
func (v quicWriterView) ApplyRemove()                               { v.t.ApplyRemove() }
func (v quicWriterView) Write(sock SocketID, b []byte) (int, error) { return v.t.Write(sock, b) }
func (v quicWriterView) Step(ch chan<- WriterEvent) int             { return v.t.StepWriter(ch) }
