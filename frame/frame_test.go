// frame_test.go
// SPDX-License-Identifier: AGPL-3.0-only

package frame

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		n := r.Intn(4000)
		data := make([]byte, n)
		r.Read(data)
		p := uint8(r.Intn(MaxPriority + 1))

		packed, consumed, err := Pack(p, data, n+HeaderSize+1)
		require.NoError(t, err)
		require.Equal(t, n, consumed)

		got, total, err := Parse(packed)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, len(packed), total)
		require.Equal(t, p, got.Priority)
		require.Equal(t, data, got.Payload)
	}
}

func TestParseNeedsMoreData(t *testing.T) {
	packed, _, err := Pack(0, []byte("hello"), 64)
	require.NoError(t, err)

	for i := 0; i < len(packed); i++ {
		f, n, err := Parse(packed[:i])
		require.NoError(t, err)
		require.Nil(t, f)
		require.Equal(t, 0, n)
	}
}

func TestParseBadMagic(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x01, 0xFF}
	_, _, err := Parse(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestPackSplitsOversizedChunk(t *testing.T) {
	data := make([]byte, 1000)
	packed, consumed, err := Pack(2, data, 103)
	require.NoError(t, err)
	require.Equal(t, 100, consumed)
	require.Equal(t, HeaderSize+100, len(packed))
}
