package fragment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestNewValidation(t *testing.T) {
	_, err := New(100, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(3, 4)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	a, err := New(1403, 4)
	require.NoError(t, err)
	assert.Equal(t, 1400, a.MaxFragment())
}

// TestReassembly checks that concatenated fragments reproduce the padded
// payload and that NumFragments predicts the number of Fragment calls.
func TestReassembly(t *testing.T) {
	const maxFragment = 64
	for _, alignment := range []int{1, 2, 4} {
		for size := 0; size <= 4*maxFragment+5; size++ {
			a, err := New(maxFragment, alignment)
			require.NoError(t, err)

			payload := pattern(size)
			a.AddPayload(payload)
			a.AlignPayload()

			padded := append([]byte(nil), payload...)
			for len(padded)%alignment != 0 {
				padded = append(padded, 0)
			}
			require.Equal(t, len(padded), a.PayloadRemaining())

			want := a.NumFragments()
			var out []byte
			calls := 0
			buf := make([]byte, maxFragment)
			for a.PayloadRemaining() > 0 {
				moved := a.Fragment(0)
				require.LessOrEqual(t, moved, maxFragment)
				if a.PayloadRemaining() > 0 {
					require.Zero(t, moved%alignment, "only the last fragment may be short")
				}
				n, err := a.TakeFragment(buf)
				require.NoError(t, err)
				out = append(out, buf[:n]...)
				calls++
			}

			assert.Equal(t, want, calls, "alignment %d size %d", alignment, size)
			assert.True(t, bytes.Equal(padded, out), "alignment %d size %d", alignment, size)
			assert.Zero(t, a.FragmentSize())
		}
	}
}

func TestFragmentSizeRounding(t *testing.T) {
	a, err := New(64, 4)
	require.NoError(t, err)
	a.AddPayload(pattern(200))

	assert.Equal(t, 8, a.Fragment(10))
	assert.Equal(t, 4, a.Fragment(2), "sizes below one unit still move one unit")
	assert.Equal(t, 64, a.Fragment(1000))
	assert.Equal(t, 76, a.FragmentSize())
	assert.Equal(t, 124, a.PayloadRemaining())
}

func TestHeadersAreNotCounted(t *testing.T) {
	a, err := New(16, 4)
	require.NoError(t, err)
	a.AddPayload(pattern(20))
	require.Equal(t, 2, a.NumFragments())

	require.Equal(t, 16, a.Fragment(0))
	a.AddHeader([]byte{0xAA, 0xBB})
	a.AddAlignedHeader([]byte{0x01})
	assert.Equal(t, 16+2+4, a.FragmentSize())

	buf := make([]byte, 32)
	n, err := a.TakeFragment(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0, 0, 0, 0xAA, 0xBB}, buf[:6])
	assert.Equal(t, pattern(16), buf[6:n])
}

func TestPayloadHeaderTravelsInFirstFragment(t *testing.T) {
	a, err := New(16, 4)
	require.NoError(t, err)
	a.AddPayload(pattern(24))
	require.NoError(t, a.AddPayloadHeader([]byte{9, 9, 9, 9}))
	assert.Equal(t, 28, a.PayloadRemaining())
	assert.Equal(t, 2, a.NumFragments())

	a.Fragment(0)
	buf := make([]byte, 16)
	n, err := a.TakeFragment(buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, []byte{9, 9, 9, 9}, buf[:4])
	assert.Equal(t, pattern(12), buf[4:16])

	assert.ErrorIs(t, a.AddPayloadHeader(make([]byte, 20)), ErrHeaderTooLarge)
}

func TestTakeFragmentShortBuffer(t *testing.T) {
	a, err := New(16, 4)
	require.NoError(t, err)
	a.AddPayload(pattern(16))
	a.Fragment(0)

	_, err = a.TakeFragment(make([]byte, 8))
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Equal(t, 16, a.FragmentSize(), "fragment stays staged")

	n, err := a.TakeFragment(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestReset(t *testing.T) {
	a, err := New(16, 4)
	require.NoError(t, err)
	a.AddPayload(pattern(40))
	a.Fragment(0)
	a.Reset()
	assert.Zero(t, a.PayloadRemaining())
	assert.Zero(t, a.FragmentSize())
	assert.Zero(t, a.NumFragments())

	// Reuse after partial consumption keeps the queue order.
	a.AddPayload(pattern(40))
	a.Fragment(0)
	a.Fragment(0)
	a.TakeFragment(make([]byte, 64))
	a.AddPayload([]byte{1, 2, 3, 4})
	assert.Equal(t, 12, a.PayloadRemaining())
	a.Fragment(0)
	buf := make([]byte, 16)
	n, _ := a.TakeFragment(buf)
	assert.Equal(t, append(pattern(40)[32:], 1, 2, 3, 4), buf[:n])
}
