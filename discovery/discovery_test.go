package discovery

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBeaconAnnounceIsReceivedByPlainListener(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	var (
		mu   sync.Mutex
		got  []byte
		done = make(chan struct{}, 1)
	)

	go func() {
		buf := make([]byte, 256)
		listener.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := listener.ReadFromUDP(buf)
		if err != nil {
			return
		}
		mu.Lock()
		got = append([]byte{}, buf[:n]...)
		mu.Unlock()
		done <- struct{}{}
	}()

	b, err := Open(Config{Group: "127.0.0.1:0", Payload: []byte("hello-peer")}, Callbacks{}, nil)
	require.NoError(t, err)
	defer b.Close()
	b.cfg.Group = listener.LocalAddr().String()

	require.NoError(t, b.Announce())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello-peer", string(got))
}

func TestBeaconOpenAndCloseLoopback(t *testing.T) {
	var mu sync.Mutex
	var received []string

	cfg := Config{
		Group:          "127.0.0.1:0",
		BeaconInterval: 0,
		Payload:        []byte("beacon-payload"),
	}
	cb := Callbacks{
		PeerDiscovered: func(addr *net.UDPAddr, payload []byte) {
			mu.Lock()
			received = append(received, string(payload))
			mu.Unlock()
		},
	}

	b, err := Open(cfg, cb, nil)
	require.NoError(t, err)
	b.cfg.Group = b.conn.LocalAddr().String()

	b.Run()
	defer b.Close()

	require.NoError(t, b.Announce())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
