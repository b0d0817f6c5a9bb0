package pdsink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasExpired(t *testing.T) {
	const window = uint32(1) << 27

	cases := []struct {
		name    string
		now     uint32
		dl      uint32
		expired bool
	}{
		{"at deadline", 1000, 1000, true},
		{"just past", 1001, 1000, true},
		{"well past", 1000 + window - 1, 1000, true},
		{"window edge", 1000 + window, 1000, false},
		{"pending", 999, 1000, false},
		{"far pending", 0, window, false},
		{"wrap just past", 5, 0xffffffff - 5, true},
		{"wrap past", 0, 0xfffffff0, true},
		{"wrap well past", window - 17, 0xfffffff0, true},
		{"wrap pending", 0xfffffff0, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expired, HasExpired(tc.now, tc.dl))
		})
	}

	// The property from the timer design: expired iff the wrapped distance
	// now-deadline is under 2^27, across the 32-bit wraparound.
	for _, dl := range []uint32{0, 1, 0x7fffffff, 0xfffffffe, 0xffffffff} {
		for _, d := range []uint32{0, 1, window - 1, window, window + 1, 1 << 30, 0xffffffff} {
			now := dl + d
			require.Equal(t, d < window, HasExpired(now, dl),
				"deadline=%#x delta=%#x", dl, d)
		}
	}
}

func TestEventPayloadCopy(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	e := MessageEvent(0x1234, buf)
	buf[0] = 0xff
	require.Equal(t, EventMessageReceived, e.Kind)
	require.Equal(t, uint16(0x1234), e.Header)
	require.Equal(t, []byte{1, 2, 3, 4}, e.PayloadBytes())

	long := make([]byte, 40)
	e = MessageEvent(0, long)
	require.Equal(t, MaxPayloadBytes, len(e.PayloadBytes()))
}
