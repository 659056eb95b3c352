// tcp.go - TCP-backed implementation of the four poller pool traits.
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/channels"
)

// TCPTransport implements ConnectingPool, ListenerPool, ReaderPool and
// WriterPool over real TCP connections. Each socket's read loop runs
// in its own goroutine and pushes readiness events onto an
// eapache/channels.InfiniteChannel; the core's single-threaded step()
// loop drains these without ever blocking, which is the Go-idiomatic
// stand-in for the epoll/kqueue readiness model described in §5 — a
// goroutine-per-socket reader is the ecosystem's usual substitute for
// raw poller syscalls. Reads never block the step loop; Write calls
// net.Conn.Write directly and blocks until the bytes are handed to the
// kernel or the write fails.
type TCPTransport struct {
	mu      sync.Mutex
	nextID  uint64
	conns   map[SocketID]net.Conn
	removed map[SocketID]bool

	connectingCh *channels.InfiniteChannel
	listenerCh   *channels.InfiniteChannel
	readerCh     *channels.InfiniteChannel
	writerCh     *channels.InfiniteChannel

	listeners map[SocketID]net.Listener
}

// NewTCPTransport constructs a transport with all four pools backed by
// a shared socket table.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{
		conns:        make(map[SocketID]net.Conn),
		removed:      make(map[SocketID]bool),
		listeners:    make(map[SocketID]net.Listener),
		connectingCh: channels.NewInfiniteChannel(),
		listenerCh:   channels.NewInfiniteChannel(),
		readerCh:     channels.NewInfiniteChannel(),
		writerCh:     channels.NewInfiniteChannel(),
	}
}

func (t *TCPTransport) allocID() SocketID {
	return SocketID(atomic.AddUint64(&t.nextID, 1))
}

func (t *TCPTransport) registerConn(id SocketID, c net.Conn) {
	t.mu.Lock()
	t.conns[id] = c
	t.mu.Unlock()
}

func (t *TCPTransport) connFor(id SocketID) (net.Conn, bool) {
	t.mu.Lock()
	c, ok := t.conns[id]
	t.mu.Unlock()
	return c, ok
}

// --- ConnectingPool -------------------------------------------------

func (t *TCPTransport) Dial(addr string) (SocketID, error) {
	id := t.allocID()
	go func() {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.connectingCh.In() <- ConnectingEvent{Socket: id, Kind: ConnectFailure, Err: err}
			return
		}
		t.registerConn(id, conn)
		t.connectingCh.In() <- ConnectingEvent{Socket: id, Kind: Connected}
		t.startReading(id, conn)
	}()
	return id, nil
}

func (t *TCPTransport) Add(sock SocketID)         {}
func (t *TCPTransport) RemoveLater(sock SocketID) { t.markRemoved(sock) }
func (t *TCPTransport) ApplyRemove()              { t.applyRemove() }

func (t *TCPTransport) markRemoved(sock SocketID) {
	t.mu.Lock()
	t.removed[sock] = true
	t.mu.Unlock()
}

func (t *TCPTransport) applyRemove() {
	t.mu.Lock()
	pending := t.removed
	t.removed = make(map[SocketID]bool)
	t.mu.Unlock()

	for id := range pending {
		t.mu.Lock()
		if c, ok := t.conns[id]; ok {
			c.Close()
			delete(t.conns, id)
		}
		if l, ok := t.listeners[id]; ok {
			l.Close()
			delete(t.listeners, id)
		}
		t.mu.Unlock()
	}
}

func (t *TCPTransport) Step(ch chan<- ConnectingEvent) int {
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

// --- ListenerPool -----------------------------------------------------

func (t *TCPTransport) Listen(addr string, backlog int) (SocketID, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, err
	}
	id := t.allocID()
	t.mu.Lock()
	t.listeners[id] = l
	t.mu.Unlock()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				t.listenerCh.In() <- ListenerEvent{Socket: id, Kind: ListenerFailure, Err: err}
				return
			}
			cid := t.allocID()
			t.registerConn(cid, conn)
			t.listenerCh.In() <- ListenerEvent{Socket: id, Accepted: cid, Kind: Accepted}
			t.startReading(cid, conn)
		}
	}()
	return id, nil
}

func (t *TCPTransport) StepListener(ch chan<- ListenerEvent) int {
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

// --- ReaderPool -------------------------------------------------------

func (t *TCPTransport) startReading(id SocketID, conn net.Conn) {
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := conn.Read(buf)
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

func (t *TCPTransport) StepReader(ch chan<- ReaderEvent) int {
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

// --- WriterPool ---------------------------------------------------------

func (t *TCPTransport) Write(sock SocketID, b []byte) (int, error) {
	conn, ok := t.connFor(sock)
	if !ok {
		return 0, net.ErrClosed
	}
	n, err := conn.Write(b)
	if err != nil {
		t.writerCh.In() <- WriterEvent{Socket: sock, Kind: WriterFailure, Err: err}
		return n, err
	}
	t.writerCh.In() <- WriterEvent{Socket: sock, Kind: CanWrite}
	return n, nil
}

func (t *TCPTransport) StepWriter(ch chan<- WriterEvent) int {
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
func (t *TCPTransport) ConnectingPool() ConnectingPool { return connectingView{t} }

// ListenerPool returns a view of t implementing ListenerPool.
func (t *TCPTransport) ListenerPool() ListenerPool { return listenerView{t} }

// ReaderPool returns a view of t implementing ReaderPool.
func (t *TCPTransport) ReaderPool() ReaderPool { return readerView{t} }

// WriterPool returns a view of t implementing WriterPool.
func (t *TCPTransport) WriterPool() WriterPool { return writerView{t} }

// Pools returns all four views bundled together.
func (t *TCPTransport) Pools() Pools {
	return Pools{
		Connecting: t.ConnectingPool(),
		Listener:   t.ListenerPool(),
		Reader:     t.ReaderPool(),
		Writer:     t.WriterPool(),
	}
}

type connectingView struct{ t *TCPTransport }

func (v connectingView) Dial(addr string) (SocketID, error) { return v.t.Dial(addr) }
func (v connectingView) Add(sock SocketID)                  { v.t.Add(sock) }
func (v connectingView) RemoveLater(sock SocketID)          { v.t.RemoveLater(sock) }
func (v connectingView) ApplyRemove()                       { v.t.ApplyRemove() }
func (v connectingView) Step(ch chan<- ConnectingEvent) int { return v.t.Step(ch) }

type listenerView struct{ t *TCPTransport }

func (v listenerView) Listen(addr string, backlog int) (SocketID, error) {
	return v.t.Listen(addr, backlog)
}
func (v listenerView) Add(sock SocketID)                { v.t.Add(sock) }
func (v listenerView) RemoveLater(sock SocketID)        { v.t.RemoveLater(sock) }
func (v listenerView) ApplyRemove()                     { v.t.ApplyRemove() }
func (v listenerView) Step(ch chan<- ListenerEvent) int { return v.t.StepListener(ch) }

type readerView struct{ t *TCPTransport }

func (v readerView) Add(sock SocketID)              { v.t.Add(sock) }
func (v readerView) RemoveLater(sock SocketID)      { v.t.RemoveLater(sock) }
func (v readerView) ApplyRemove()                   { v.t.ApplyRemove() }
func (v readerView) Step(ch chan<- ReaderEvent) int { return v.t.StepReader(ch) }

type writerView struct{ t *TCPTransport }

func (v writerView) Add(sock SocketID)                       { v.t.Add(sock) }
func (v writerView) RemoveLater(sock SocketID)               { v.t.RemoveLater(sock) }
func (v writerView) ApplyRemove()                            { v.t.ApplyRemove() }
func (v writerView) Write(sock SocketID, b []byte) (int, error) { return v.t.Write(sock, b) }
func (v writerView) Step(ch chan<- WriterEvent) int          { return v.t.StepWriter(ch) }
