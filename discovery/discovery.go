// discovery.go - best-effort UDP presence beacon for finding candidate
// peers on a local subnet before dialing (original_source's
// p2p/posix/discovery_socket.hpp: a raw UDP socket with a data_ready
// callback, no channel of its own).
// SPDX-License-Identifier: AGPL-3.0-only

// Package discovery implements an optional UDP broadcast/multicast
// beacon. It never creates channels itself: it only surfaces
// PeerDiscovered(addr, payload) for the host program to act on
// (typically by dialing through a node.Pool), keeping it outside the
// five core subsystems' invariants.
package discovery

import (
	"net"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/semenovf/netty-go/internal/worker"
)

// Callbacks is the single upward notification this package produces.
type Callbacks struct {
	// PeerDiscovered fires once per received datagram, with the
	// sender's address and the raw payload (this node's own beacons
	// are not filtered out; callers matching against their own id
	// should ignore echoes of their own Payload).
	PeerDiscovered func(addr *net.UDPAddr, payload []byte)
}

// Config bounds the beacon's timing and addressing.
type Config struct {
	// Group is the multicast group to join, e.g. "239.0.0.1:7001". A
	// non-multicast Group address instead binds a plain UDP socket for
	// subnet broadcast (e.g. "255.255.255.255:7001").
	Group string
	// Interface optionally names the network interface multicast
	// membership is requested on; left empty, the kernel picks one.
	Interface string
	// BeaconInterval is how often Announce is called automatically by
	// Run; a zero value disables automatic announcing and leaves
	// callers to invoke Announce themselves.
	BeaconInterval time.Duration
	// Payload is the datagram broadcast on each beacon, typically this
	// node's id and dialable address.
	Payload []byte
}

// Beacon listens for and emits UDP presence datagrams.
type Beacon struct {
	worker.Worker
	cfg  Config
	cb   Callbacks
	log  *logging.Logger
	conn *net.UDPConn
}

// Open binds cfg.Group (joining it as a multicast group when its
// address is in the multicast range) and returns a ready Beacon.
func Open(cfg Config, cb Callbacks, logger *logging.Logger) (*Beacon, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, err
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, err
		}
	}

	var conn *net.UDPConn
	if gaddr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp4", iface, gaddr)
	} else {
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: gaddr.Port})
	}
	if err != nil {
		return nil, err
	}

	return &Beacon{cfg: cfg, cb: cb, log: logger, conn: conn}, nil
}

// Announce sends one beacon datagram to the configured group.
func (b *Beacon) Announce() error {
	gaddr, err := net.ResolveUDPAddr("udp4", b.cfg.Group)
	if err != nil {
		return err
	}
	_, err = b.conn.WriteToUDP(b.cfg.Payload, gaddr)
	return err
}

// Run starts the receive loop and, if cfg.BeaconInterval is set, a
// periodic Announce, both under the embedded worker.Worker so Close
// can halt both cleanly.
func (b *Beacon) Run() {
	b.Go(b.receiveLoop)
	if b.cfg.BeaconInterval > 0 {
		b.Go(b.announceLoop)
	}
}

func (b *Beacon) receiveLoop() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-b.HaltCh():
			return
		default:
		}
		b.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-b.HaltCh():
				return
			default:
				if b.log != nil {
					b.log.Warningf("discovery: read: %v", err)
				}
				continue
			}
		}
		if b.cb.PeerDiscovered != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			b.cb.PeerDiscovered(addr, payload)
		}
	}
}

func (b *Beacon) announceLoop() {
	ticker := time.NewTicker(b.cfg.BeaconInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.HaltCh():
			return
		case <-ticker.C:
			if err := b.Announce(); err != nil && b.log != nil {
				b.log.Warningf("discovery: announce: %v", err)
			}
		}
	}
}

// Close halts the receive/announce loops and closes the socket.
func (b *Beacon) Close() error {
	b.Halt()
	b.Wait()
	return b.conn.Close()
}
