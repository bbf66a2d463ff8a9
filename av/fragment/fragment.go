package fragment

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DefaultAlignment is one 32-bit word.
const DefaultAlignment = 4

var (
	// ErrInvalidConfig indicates a non-positive alignment or a maximum
	// fragment size smaller than one alignment unit.
	ErrInvalidConfig = errors.New("invalid fragment configuration")

	// ErrHeaderTooLarge indicates a payload header that cannot fit in the first fragment.
	ErrHeaderTooLarge = errors.New("payload header larger than a fragment")

	// ErrShortBuffer indicates a destination smaller than the staged fragment.
	ErrShortBuffer = errors.New("destination buffer too small for fragment")
)

// Assembler is a payload queue plus a staging queue for the fragment under
// construction. It is not safe for concurrent use.
type Assembler struct {
	maxFragment int
	alignment   int

	payload []byte
	head    int
	staging []byte
}

// New creates an Assembler. maxFragment is rounded down to a multiple of
// alignment.
func New(maxFragment, alignment int) (*Assembler, error) {
	if alignment < 1 {
		return nil, fmt.Errorf("%w: alignment %d", ErrInvalidConfig, alignment)
	}
	rounded := maxFragment - maxFragment%alignment
	if rounded < alignment {
		return nil, fmt.Errorf("%w: max fragment %d with alignment %d", ErrInvalidConfig, maxFragment, alignment)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "fragment.New",
		"max_fragment": rounded,
		"alignment":    alignment,
	}).Debug("Created fragment assembler")

	return &Assembler{
		maxFragment: rounded,
		alignment:   alignment,
	}, nil
}

// MaxFragment returns the effective maximum fragment size.
func (a *Assembler) MaxFragment() int {
	return a.maxFragment
}

// Alignment returns the configured alignment in bytes.
func (a *Assembler) Alignment() int {
	return a.alignment
}

// AddPayload appends b to the payload queue.
func (a *Assembler) AddPayload(b []byte) {
	a.compact()
	a.payload = append(a.payload, b...)
}

// AddPayloadHeader places b in front of the pending payload. The header
// travels whole in the next fragment.
func (a *Assembler) AddPayloadHeader(b []byte) error {
	if len(b) > a.maxFragment {
		return fmt.Errorf("%w: %d > %d", ErrHeaderTooLarge, len(b), a.maxFragment)
	}
	rest := a.payload[a.head:]
	merged := make([]byte, 0, len(b)+len(rest))
	merged = append(merged, b...)
	a.payload = append(merged, rest...)
	a.head = 0
	return nil
}

// AlignPayload zero-pads the pending payload to the alignment.
func (a *Assembler) AlignPayload() {
	if pad := padding(a.PayloadRemaining(), a.alignment); pad > 0 {
		a.AddPayload(make([]byte, pad))
	}
}

// PayloadRemaining returns the bytes not yet moved into a fragment.
func (a *Assembler) PayloadRemaining() int {
	return len(a.payload) - a.head
}

// NumFragments returns how many full-size Fragment calls drain the payload.
func (a *Assembler) NumFragments() int {
	remaining := a.PayloadRemaining()
	return (remaining + a.maxFragment - 1) / a.maxFragment
}

// Fragment moves up to size bytes from the payload queue to the staging
// queue and returns the count moved. size <= 0 selects the maximum fragment
// size; larger sizes are clamped to it and every size is rounded down to the
// alignment, but never below one alignment unit.
func (a *Assembler) Fragment(size int) int {
	if size <= 0 || size > a.maxFragment {
		size = a.maxFragment
	}
	size -= size % a.alignment
	if size == 0 {
		size = a.alignment
	}
	if remaining := a.PayloadRemaining(); size > remaining {
		size = remaining
	}

	a.staging = append(a.staging, a.payload[a.head:a.head+size]...)
	a.head += size
	return size
}

// AddHeader prepends b to the staged fragment.
func (a *Assembler) AddHeader(b []byte) {
	merged := make([]byte, 0, len(b)+len(a.staging))
	merged = append(merged, b...)
	a.staging = append(merged, a.staging...)
}

// AddAlignedHeader prepends b, zero-padded to the alignment, to the staged fragment.
func (a *Assembler) AddAlignedHeader(b []byte) {
	pad := padding(len(b), a.alignment)
	if pad == 0 {
		a.AddHeader(b)
		return
	}
	padded := make([]byte, len(b)+pad)
	copy(padded, b)
	a.AddHeader(padded)
}

// FragmentSize returns the staged bytes, headers included.
func (a *Assembler) FragmentSize() int {
	return len(a.staging)
}

// TakeFragment copies the staged fragment into dst and clears the staging
// queue. On ErrShortBuffer nothing is copied and the fragment stays staged.
func (a *Assembler) TakeFragment(dst []byte) (int, error) {
	n := len(a.staging)
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, len(dst))
	}
	copy(dst, a.staging)
	a.staging = a.staging[:0]
	return n, nil
}

// Reset discards both queues.
func (a *Assembler) Reset() {
	a.payload = a.payload[:0]
	a.head = 0
	a.staging = a.staging[:0]
}

// compact drops consumed payload bytes once they dominate the backing array.
func (a *Assembler) compact() {
	if a.head == 0 {
		return
	}
	if a.head == len(a.payload) {
		a.payload = a.payload[:0]
		a.head = 0
		return
	}
	if a.head > len(a.payload)/2 {
		n := copy(a.payload, a.payload[a.head:])
		a.payload = a.payload[:n]
		a.head = 0
	}
}

func padding(n, alignment int) int {
	if rem := n % alignment; rem != 0 {
		return alignment - rem
	}
	return 0
}
