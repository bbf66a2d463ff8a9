package ring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// NativeSampleWidth is the only supported sample width in bytes (int32).
const NativeSampleWidth = 4

var (
	// ErrInvalidConfig indicates a ring geometry that cannot be built.
	ErrInvalidConfig = errors.New("invalid ring configuration")

	// ErrUnsupportedSampleWidth indicates a sample width other than NativeSampleWidth.
	ErrUnsupportedSampleWidth = errors.New("unsupported sample width")

	// ErrInvalidReader indicates a reader window outside the ring's channels.
	ErrInvalidReader = errors.New("invalid reader window")
)

// ReaderSpec selects the channel window a reader consumes.
type ReaderSpec struct {
	StartChannel int
	Channels     int
}

// Config describes the ring geometry.
type Config struct {
	Blocks         int
	FramesPerBlock int
	Channels       int
	SampleWidth    int
	Readers        []ReaderSpec
}

type reader struct {
	spec      ReaderSpec
	readPos   int // frame index
	available int // frames
}

// Stats reports producer-side counters.
type Stats struct {
	Commits uint64
	Dropped uint64
}

// Ring is a fixed-capacity multi-channel sample buffer with one producer and
// independent reader cursors.
type Ring struct {
	mu sync.Mutex

	blocks         int
	framesPerBlock int
	channels       int
	capacity       int // frames

	samples    []int32
	timestamps []uint32 // one per block, first frame's RTP timestamp

	writeBlock int
	readers    []reader
	stats      Stats
}

// New allocates a Ring. Sample widths other than 4 bytes are rejected.
func New(cfg Config) (*Ring, error) {
	if cfg.SampleWidth != NativeSampleWidth {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnsupportedSampleWidth, cfg.SampleWidth)
	}
	if cfg.Blocks < 2 || cfg.FramesPerBlock < 1 || cfg.Channels < 1 {
		return nil, fmt.Errorf("%w: blocks=%d frames=%d channels=%d",
			ErrInvalidConfig, cfg.Blocks, cfg.FramesPerBlock, cfg.Channels)
	}
	if len(cfg.Readers) == 0 {
		return nil, fmt.Errorf("%w: no readers", ErrInvalidConfig)
	}

	readers := make([]reader, len(cfg.Readers))
	for i, spec := range cfg.Readers {
		if spec.StartChannel < 0 || spec.Channels < 1 || spec.StartChannel+spec.Channels > cfg.Channels {
			return nil, fmt.Errorf("%w: reader %d start=%d channels=%d of %d",
				ErrInvalidReader, i, spec.StartChannel, spec.Channels, cfg.Channels)
		}
		readers[i] = reader{spec: spec}
	}

	capacity := cfg.Blocks * cfg.FramesPerBlock
	r := &Ring{
		blocks:         cfg.Blocks,
		framesPerBlock: cfg.FramesPerBlock,
		channels:       cfg.Channels,
		capacity:       capacity,
		samples:        make([]int32, capacity*cfg.Channels),
		timestamps:     make([]uint32, cfg.Blocks),
		readers:        readers,
	}

	logrus.WithFields(logrus.Fields{
		"function":         "ring.New",
		"blocks":           cfg.Blocks,
		"frames_per_block": cfg.FramesPerBlock,
		"channels":         cfg.Channels,
		"readers":          len(readers),
	}).Debug("Sample ring allocated")

	return r, nil
}

// fullLocked reports whether one more block would overwrite unread frames of
// the slowest reader.
func (r *Ring) fullLocked() bool {
	maxAvail := 0
	for i := range r.readers {
		if r.readers[i].available > maxAvail {
			maxAvail = r.readers[i].available
		}
	}
	return maxAvail+r.framesPerBlock > r.capacity
}

// Reserve returns the interleaved sample slot of the next input block, or
// false if the ring is full. The slot stays valid until the next Commit.
func (r *Ring) Reserve() ([]int32, bool) {
	r.mu.Lock()
	if r.fullLocked() {
		r.mu.Unlock()
		return nil, false
	}
	block := r.writeBlock
	r.mu.Unlock()

	span := r.framesPerBlock * r.channels
	start := block * span
	return r.samples[start : start+span : start+span], true
}

// Commit publishes the reserved block to every reader. Frame i of the block
// carries RTP timestamp ts+i. If the ring filled up since Reserve the block is
// dropped and Commit returns false.
func (r *Ring) Commit(ts uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fullLocked() {
		r.stats.Dropped++
		return false
	}

	r.timestamps[r.writeBlock] = ts
	r.writeBlock = (r.writeBlock + 1) % r.blocks
	for i := range r.readers {
		r.readers[i].available += r.framesPerBlock
	}
	r.stats.Commits++
	return true
}

// Read copies up to len(dst)/Channels(reader) frames of the reader's channel
// window into dst. It returns the number of samples written and the RTP
// timestamp of the first frame copied. Short reads are normal; Read never
// blocks.
func (r *Ring) Read(readerIndex int, dst []int32) (int, uint32) {
	r.mu.Lock()
	if readerIndex < 0 || readerIndex >= len(r.readers) {
		r.mu.Unlock()
		return 0, 0
	}
	rd := r.readers[readerIndex]
	r.mu.Unlock()

	width := rd.spec.Channels
	frames := len(dst) / width
	if frames > rd.available {
		frames = rd.available
	}
	if frames == 0 {
		return 0, 0
	}

	firstTS := r.timestamps[rd.readPos/r.framesPerBlock] + uint32(rd.readPos%r.framesPerBlock)

	// Two passes: up to the end of the ring, then from the start.
	first := frames
	if rd.readPos+first > r.capacity {
		first = r.capacity - rd.readPos
	}
	r.copyFrames(dst, rd.readPos, first, rd.spec)
	if rest := frames - first; rest > 0 {
		r.copyFrames(dst[first*width:], 0, rest, rd.spec)
	}

	r.mu.Lock()
	cur := &r.readers[readerIndex]
	cur.available -= frames
	cur.readPos = (cur.readPos + frames) % r.capacity
	r.mu.Unlock()

	return frames * width, firstTS
}

func (r *Ring) copyFrames(dst []int32, frame, count int, spec ReaderSpec) {
	width := spec.Channels
	for f := 0; f < count; f++ {
		src := (frame+f)*r.channels + spec.StartChannel
		copy(dst[f*width:(f+1)*width], r.samples[src:src+width])
	}
}

// Available returns the frames ready for the given reader.
func (r *Ring) Available(readerIndex int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if readerIndex < 0 || readerIndex >= len(r.readers) {
		return 0
	}
	return r.readers[readerIndex].available
}

// Channels returns the channel count of the given reader's window.
func (r *Ring) Channels(readerIndex int) int {
	if readerIndex < 0 || readerIndex >= len(r.readers) {
		return 0
	}
	return r.readers[readerIndex].spec.Channels
}

// Readers returns the number of registered readers.
func (r *Ring) Readers() int {
	return len(r.readers)
}

// Capacity returns the ring size in frames.
func (r *Ring) Capacity() int {
	return r.capacity
}

// FramesPerBlock returns the input block size in frames.
func (r *Ring) FramesPerBlock() int {
	return r.framesPerBlock
}

// TotalChannels returns the interleaved channel count of an input block.
func (r *Ring) TotalChannels() int {
	return r.channels
}

// Stats returns a snapshot of the producer counters.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
