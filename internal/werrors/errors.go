// errors.go - typed error taxonomy per the core's error handling design.
// SPDX-License-Identifier: AGPL-3.0-only

// Package werrors defines the structured error kinds the core
// surfaces to callers (§7): transport, protocol-version, checksum,
// decode-corruption, duplicate-id, peer-unreachable and heartbeat
// expiry errors, each wrapping an underlying cause the way
// client2/connection.go's ConnectError/PKIError/ProtocolError do.
package werrors

import "fmt"

// TransportError wraps a socket read/write/connect/accept failure.
type TransportError struct {
	Socket uint64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on socket %d: %v", e.Socket, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError indicates a version mismatch or other fatal protocol
// violation observed on one socket.
type ProtocolError struct {
	Socket uint64
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on socket %d: %v", e.Socket, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// ChecksumError indicates a DDATA/GDATA checksum mismatch.
type ChecksumError struct {
	Socket uint64
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch on socket %d", e.Socket)
}

// DecodeError indicates framing or packet corruption (bad magic
// nibble, unexpected type for the current stream position).
type DecodeError struct {
	Socket uint64
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error on socket %d: %s", e.Socket, e.Reason)
}

// DuplicateIDError is reported when two sockets present the same node
// id during handshake.
type DuplicateIDError struct {
	Peer string
	Addr string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate node id from peer %s at %s", e.Peer, e.Addr)
}

// PeerUnreachableError is passed to node.Node's OnError callback when
// an UNREACHABLE packet names a receiver; enqueue operations report a
// missing route by returning false instead.
type PeerUnreachableError struct {
	Peer string
}

func (e *PeerUnreachableError) Error() string {
	return fmt.Sprintf("peer %s is unreachable", e.Peer)
}

// HeartbeatExpiredError indicates a channel's heartbeat deadline
// elapsed without any inbound traffic.
type HeartbeatExpiredError struct {
	Peer string
}

func (e *HeartbeatExpiredError) Error() string {
	return fmt.Sprintf("heartbeat expired for peer %s", e.Peer)
}

// PeerNotFoundError describes an enqueue to a peer with no writer slot
// (§4.3 enqueue contract); channel.Manager.Enqueue reports that case by
// returning false and does not construct this error.
type PeerNotFoundError struct {
	Peer string
}

func (e *PeerNotFoundError) Error() string {
	return fmt.Sprintf("no writer for peer %s", e.Peer)
}

// DialFailedError is reported when an outbound connection attempt
// fails, whether refused, timed out or otherwise rejected.
type DialFailedError struct {
	Addr   string
	Reason string
}

func (e *DialFailedError) Error() string {
	return fmt.Sprintf("dial to %s failed: %s", e.Addr, e.Reason)
}
