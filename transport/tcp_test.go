// tcp_test.go
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drainConnecting(t *testing.T, pool ConnectingPool, timeout time.Duration) ConnectingEvent {
	t.Helper()
	ch := make(chan ConnectingEvent, 8)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pool.Step(ch) > 0 {
			return <-ch
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for connecting event")
	return ConnectingEvent{}
}

func drainListener(t *testing.T, pool ListenerPool, timeout time.Duration) ListenerEvent {
	t.Helper()
	ch := make(chan ListenerEvent, 8)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pool.Step(ch) > 0 {
			return <-ch
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for listener event")
	return ListenerEvent{}
}

func drainReader(t *testing.T, pool ReaderPool, timeout time.Duration) ReaderEvent {
	t.Helper()
	ch := make(chan ReaderEvent, 8)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pool.Step(ch) > 0 {
			return <-ch
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for reader event")
	return ReaderEvent{}
}

func TestTCPTransportDialAcceptRoundTrip(t *testing.T) {
	srv := NewTCPTransport()
	_, err := srv.Listen("127.0.0.1:18123", 8)
	require.NoError(t, err)

	cli := NewTCPTransport()
	cliSock, err := cli.Dial("127.0.0.1:18123")
	require.NoError(t, err)

	connEv := drainConnecting(t, cli.ConnectingPool(), time.Second)
	require.Equal(t, Connected, connEv.Kind)
	require.Equal(t, cliSock, connEv.Socket)

	listenEv := drainListener(t, srv.ListenerPool(), time.Second)
	require.Equal(t, Accepted, listenEv.Kind)

	_, err = cli.Write(cliSock, []byte("hello"))
	require.NoError(t, err)

	readEv := drainReader(t, srv.ReaderPool(), time.Second)
	require.Equal(t, DataReady, readEv.Kind)
	require.Equal(t, []byte("hello"), readEv.Data)
	require.Equal(t, listenEv.Accepted, readEv.Socket)
}

func TestTCPTransportRemoveLaterClosesOnApply(t *testing.T) {
	srv := NewTCPTransport()
	_, err := srv.Listen("127.0.0.1:18124", 8)
	require.NoError(t, err)

	cli := NewTCPTransport()
	cliSock, err := cli.Dial("127.0.0.1:18124")
	require.NoError(t, err)
	drainConnecting(t, cli.ConnectingPool(), time.Second)
	drainListener(t, srv.ListenerPool(), time.Second)

	cli.RemoveLater(cliSock)
	cli.ApplyRemove()

	ev := drainReader(t, srv.ReaderPool(), time.Second)
	require.Equal(t, Disconnected, ev.Kind)
}
