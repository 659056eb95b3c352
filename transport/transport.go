// transport.go - pluggable poller pool contracts (§6.2).
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport defines the four poller-pool traits the core
// consumes (connecting, listener, reader, writer) and nothing else:
// the concrete socket/poller implementation is deliberately external
// per §1. Two implementations ship here — a TCP pool built on net.Conn
// plus goroutine-fed readiness events, and a QUIC pool reusing the
// same event-queue shape over quic-go streams — to demonstrate that
// the core only ever depends on the traits.
package transport

// SocketID is an opaque integer identifying one open byte stream,
// unique within a running process (§3).
type SocketID uint64

// ConnectionFailureReason enumerates why an outbound connect failed.
type ConnectionFailureReason int

const (
	FailureUnknown ConnectionFailureReason = iota
	FailureRefused
	FailureTimeout
	FailureResolve
)

func (r ConnectionFailureReason) String() string {
	switch r {
	case FailureRefused:
		return "connection refused"
	case FailureTimeout:
		return "timeout"
	case FailureResolve:
		return "address resolution failed"
	default:
		return "unknown"
	}
}

// ConnectingEvent is emitted by a ConnectingPool.
type ConnectingEvent struct {
	Socket  SocketID
	Kind    ConnectingEventKind
	Reason  ConnectionFailureReason
	Err     error
}

type ConnectingEventKind int

const (
	Connected ConnectingEventKind = iota
	ConnectionRefused
	ConnectFailure
)

// ConnectingPool dials outbound sockets without blocking the caller.
type ConnectingPool interface {
	// Dial starts connecting to addr and returns a socket id
	// immediately; the outcome arrives later as a ConnectingEvent.
	Dial(addr string) (SocketID, error)
	Add(sock SocketID)
	RemoveLater(sock SocketID)
	ApplyRemove()
	// Step drains ready events into ch and returns how many were
	// dispatched.
	Step(ch chan<- ConnectingEvent) int
}

// ListenerEvent is emitted by a ListenerPool.
type ListenerEvent struct {
	Socket   SocketID
	Accepted SocketID
	Kind     ListenerEventKind
	Err      error
}

type ListenerEventKind int

const (
	Accepted ListenerEventKind = iota
	ListenerFailure
)

// ListenerPool accepts inbound sockets on one or more listen addresses.
type ListenerPool interface {
	Listen(addr string, backlog int) (SocketID, error)
	Add(sock SocketID)
	RemoveLater(sock SocketID)
	ApplyRemove()
	Step(ch chan<- ListenerEvent) int
}

// ReaderEvent is emitted by a ReaderPool.
type ReaderEvent struct {
	Socket SocketID
	Data   []byte
	Kind   ReaderEventKind
	Err    error
}

type ReaderEventKind int

const (
	DataReady ReaderEventKind = iota
	Disconnected
	ReaderFailure
)

// ReaderPool delivers inbound bytes as they arrive.
type ReaderPool interface {
	Add(sock SocketID)
	RemoveLater(sock SocketID)
	ApplyRemove()
	Step(ch chan<- ReaderEvent) int
}

// WriterEvent is emitted by a WriterPool.
type WriterEvent struct {
	Socket SocketID
	Kind   WriterEventKind
	Err    error
}

type WriterEventKind int

const (
	CanWrite WriterEventKind = iota
	WriterFailure
)

// WriterPool signals back-pressure / writability and performs the
// actual non-blocking write.
type WriterPool interface {
	Add(sock SocketID)
	RemoveLater(sock SocketID)
	ApplyRemove()
	// Write attempts a non-blocking write of b to sock. It returns the
	// number of bytes actually written; a short write means the
	// socket should be marked not-writable until the next CanWrite
	// event.
	Write(sock SocketID, b []byte) (int, error)
	Step(ch chan<- WriterEvent) int
}

// Pools bundles one instance of each pool, the unit the channel layer
// is constructed with.
type Pools struct {
	Connecting ConnectingPool
	Listener   ListenerPool
	Reader     ReaderPool
	Writer     WriterPool
}
