package audio

import (
	"fmt"
	"math/bits"

	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// AM824 sub-frame label bits (byte 0 of each 4-byte sub-frame).
const (
	AM824FlagV = 1 << iota // validity, 0 = valid audio
	AM824FlagU             // user data
	AM824FlagC             // channel status
	AM824FlagP             // even parity over V, U, C, P and the sample
	AM824FlagB             // first frame of a channel-status block
	AM824FlagF             // first sub-frame of an AES3 frame
)

// BlockFrames is the number of frames in one AES3 channel-status block.
const BlockFrames = 192

// ChannelStatusSize is the size of a channel-status block in bytes.
const ChannelStatusSize = 24

// ChannelStatus is a professional AES3 channel-status block. Bit n of the
// block is bit n%8 (LSB first) of byte n/8.
type ChannelStatus [ChannelStatusSize]byte

// NewChannelStatus returns a professional-use block for 24-bit linear audio
// at the given rate, with its CRC filled in.
func NewChannelStatus(sampleRate uint32) ChannelStatus {
	var cs ChannelStatus
	// PRO, emphasis not used.
	cs[0] = 0x01 | 0x04
	switch sampleRate {
	case 48000:
		cs[0] |= 0x80
	case 44100:
		cs[0] |= 0x40
	case 32000:
		cs[0] |= 0xC0
	}
	// Two-channel mode.
	cs[1] = 0x08
	// 24-bit auxiliary use, 24-bit word length.
	cs[2] = 0x04 | 0x28
	cs[ChannelStatusSize-1] = cs.CRC()
	return cs
}

// Bit returns channel-status bit n, n in [0, 192).
func (cs *ChannelStatus) Bit(n int) bool {
	return cs[n/8]>>(n%8)&1 == 1
}

// SetBit sets channel-status bit n.
func (cs *ChannelStatus) SetBit(n int, v bool) {
	if v {
		cs[n/8] |= 1 << (n % 8)
	} else {
		cs[n/8] &^= 1 << (n % 8)
	}
}

// SampleRate decodes the rate bits of byte 0. It returns 0 when the rate is
// not indicated.
func (cs *ChannelStatus) SampleRate() uint32 {
	switch cs[0] & 0xC0 {
	case 0x80:
		return 48000
	case 0x40:
		return 44100
	case 0xC0:
		return 32000
	}
	return 0
}

// CRC computes the channel-status CRC over bytes 0..22.
func (cs *ChannelStatus) CRC() byte {
	return crc8(cs[:ChannelStatusSize-1])
}

// Valid reports whether byte 23 holds the CRC of the block.
func (cs *ChannelStatus) Valid() bool {
	return cs[ChannelStatusSize-1] == cs.CRC()
}

// crc8 is the AES3 CRCC: x^8 + x^4 + x^3 + x^2 + 1, initial value all ones,
// bits processed in transmission order.
func crc8(b []byte) byte {
	crc := byte(0xFF)
	for _, v := range b {
		crc ^= v
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xB8
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AM824Encoder packs samples into ST2110-31 AM824 sub-frames. It keeps the
// frame position within the 192-frame channel-status block across calls.
type AM824Encoder struct {
	channels int
	frame    int
	status   ChannelStatus
}

// NewAM824Encoder creates an encoder for interleaved frames of the given width.
func NewAM824Encoder(channels int, sampleRate uint32) (*AM824Encoder, error) {
	if channels < 1 || channels > stream.MaxChannels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	logrus.WithFields(logrus.Fields{
		"function":    "NewAM824Encoder",
		"channels":    channels,
		"sample_rate": sampleRate,
	}).Debug("Creating AM824 encoder")
	return &AM824Encoder{channels: channels, status: NewChannelStatus(sampleRate)}, nil
}

// SetChannelStatus replaces the block sent from the next block boundary on.
// The CRC byte is recomputed.
func (e *AM824Encoder) SetChannelStatus(cs ChannelStatus) {
	cs[ChannelStatusSize-1] = cs.CRC()
	e.status = cs
}

// BytesPerSample is always 4 for AM824.
func (e *AM824Encoder) BytesPerSample() int { return 4 }

// Encode writes one 4-byte sub-frame per sample.
func (e *AM824Encoder) Encode(dst []byte, samples []int32) (int, error) {
	if len(samples)%e.channels != 0 {
		return 0, fmt.Errorf("%w: %d samples for %d channels", ErrPartialFrame, len(samples), e.channels)
	}
	n := len(samples) * 4
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(dst))
	}
	off := 0
	for i := 0; i < len(samples); i += e.channels {
		var frameFlags byte
		if e.frame == 0 {
			frameFlags |= AM824FlagB
		}
		if e.status.Bit(e.frame) {
			frameFlags |= AM824FlagC
		}
		for ch := 0; ch < e.channels; ch++ {
			flags := frameFlags
			if ch%2 == 0 {
				flags |= AM824FlagF
			}
			s := uint32(samples[i+ch]) >> 8
			ones := bits.OnesCount32(s) + bits.OnesCount8(flags&(AM824FlagV|AM824FlagU|AM824FlagC))
			if ones%2 != 0 {
				flags |= AM824FlagP
			}
			dst[off] = flags
			dst[off+1] = byte(s >> 16)
			dst[off+2] = byte(s >> 8)
			dst[off+3] = byte(s)
			off += 4
		}
		e.frame = (e.frame + 1) % BlockFrames
	}
	return n, nil
}

// AM824Decoder strips AM824 labels, tracks channel-status block boundaries,
// and reassembles the channel-status block carried by the first channel.
type AM824Decoder struct {
	channels     int
	frame        int
	synced       bool
	collecting   ChannelStatus
	status       ChannelStatus
	haveStatus   bool
	parityErrors uint64
	invalid      uint64
}

// NewAM824Decoder creates a decoder for interleaved frames of the given width.
func NewAM824Decoder(channels int) (*AM824Decoder, error) {
	if channels < 1 || channels > stream.MaxChannels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	return &AM824Decoder{channels: channels}, nil
}

// BytesPerSample is always 4 for AM824.
func (d *AM824Decoder) BytesPerSample() int { return 4 }

// Decode writes the 24-bit sample of each sub-frame left-justified into dst.
func (d *AM824Decoder) Decode(dst []int32, payload []byte) (int, error) {
	frameBytes := 4 * d.channels
	if len(payload)%frameBytes != 0 {
		return 0, fmt.Errorf("%w: %d bytes for %d channels", ErrPartialFrame, len(payload), d.channels)
	}
	n := len(payload) / 4
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d samples, have %d", ErrShortBuffer, n, len(dst))
	}
	for f := 0; f < len(payload); f += frameBytes {
		d.observe(payload[f])
		for ch := 0; ch < d.channels; ch++ {
			sub := payload[f+4*ch : f+4*ch+4]
			s := uint32(sub[1])<<16 | uint32(sub[2])<<8 | uint32(sub[3])
			ones := bits.OnesCount32(s) + bits.OnesCount8(sub[0]&(AM824FlagV|AM824FlagU|AM824FlagC|AM824FlagP))
			if ones%2 != 0 {
				d.parityErrors++
			}
			if sub[0]&AM824FlagV != 0 {
				d.invalid++
			}
			dst[f/4+ch] = int32(s << 8)
		}
	}
	return n, nil
}

// observe advances the block position using the first sub-frame's label.
func (d *AM824Decoder) observe(label byte) {
	if label&AM824FlagB != 0 {
		if d.synced && d.frame != 0 {
			logrus.WithFields(logrus.Fields{
				"function": "AM824Decoder.observe",
				"frame":    d.frame,
			}).Debug("Channel-status block restarted early")
		}
		d.synced = true
		d.frame = 0
		d.collecting = ChannelStatus{}
	}
	if !d.synced {
		return
	}
	d.collecting.SetBit(d.frame, label&AM824FlagC != 0)
	d.frame++
	if d.frame == BlockFrames {
		d.frame = 0
		if d.collecting.Valid() {
			d.status = d.collecting
			d.haveStatus = true
		}
	}
}

// ChannelStatus returns the last complete block with a valid CRC.
func (d *AM824Decoder) ChannelStatus() (ChannelStatus, bool) {
	return d.status, d.haveStatus
}

// ParityErrors returns the number of sub-frames that failed the parity check.
func (d *AM824Decoder) ParityErrors() uint64 { return d.parityErrors }

// InvalidSamples returns the number of sub-frames flagged not valid.
func (d *AM824Decoder) InvalidSamples() uint64 { return d.invalid }
