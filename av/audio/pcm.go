package audio

import (
	"fmt"

	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// Samples are carried natively as left-justified int32: a 24-bit sample
// occupies the top 24 bits and a 16-bit sample the top 16 bits.

// Encoder converts interleaved native samples into an RTP payload.
type Encoder interface {
	// Encode writes samples into dst and returns the number of bytes written.
	Encode(dst []byte, samples []int32) (int, error)
	// BytesPerSample is the wire width of one sample.
	BytesPerSample() int
}

// Decoder converts an RTP payload into interleaved native samples.
type Decoder interface {
	// Decode writes the samples in payload into dst and returns the sample count.
	Decode(dst []int32, payload []byte) (int, error)
	// BytesPerSample is the wire width of one sample.
	BytesPerSample() int
}

// NewEncoder returns the payload encoder matching the stream's codec.
func NewEncoder(info stream.Info) (Encoder, error) {
	codec, err := info.Codec()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewEncoder",
		"stream":   info.Name,
		"codec":    codec,
	}).Debug("Selecting payload encoder")

	switch codec {
	case stream.CodecL16:
		return l16{}, nil
	case stream.CodecL24:
		return l24{}, nil
	case stream.CodecAM824:
		return NewAM824Encoder(info.Audio.Channels, info.SampleRate)
	default:
		return nil, fmt.Errorf("%w: %s carries no samples", ErrUnsupportedFormat, codec)
	}
}

// NewDecoder returns the payload decoder matching the stream's codec.
func NewDecoder(info stream.Info) (Decoder, error) {
	codec, err := info.Codec()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewDecoder",
		"stream":   info.Name,
		"codec":    codec,
	}).Debug("Selecting payload decoder")

	switch codec {
	case stream.CodecL16:
		return l16{}, nil
	case stream.CodecL24:
		return l24{}, nil
	case stream.CodecAM824:
		return NewAM824Decoder(info.Audio.Channels)
	default:
		return nil, fmt.Errorf("%w: %s carries no samples", ErrUnsupportedFormat, codec)
	}
}

// PackL16 writes the top 16 bits of each sample big-endian into dst.
func PackL16(dst []byte, samples []int32) (int, error) {
	n := len(samples) * 2
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(dst))
	}
	for i, s := range samples {
		dst[2*i] = byte(s >> 24)
		dst[2*i+1] = byte(s >> 16)
	}
	return n, nil
}

// UnpackL16 reads big-endian 16-bit samples into left-justified int32s.
func UnpackL16(dst []int32, payload []byte) (int, error) {
	if len(payload)%2 != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a multiple of 2", ErrPartialFrame, len(payload))
	}
	n := len(payload) / 2
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d samples, have %d", ErrShortBuffer, n, len(dst))
	}
	for i := 0; i < n; i++ {
		dst[i] = int32(payload[2*i])<<24 | int32(payload[2*i+1])<<16
	}
	return n, nil
}

// PackL24 writes the top 24 bits of each sample big-endian into dst.
func PackL24(dst []byte, samples []int32) (int, error) {
	n := len(samples) * 3
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(dst))
	}
	for i, s := range samples {
		dst[3*i] = byte(s >> 24)
		dst[3*i+1] = byte(s >> 16)
		dst[3*i+2] = byte(s >> 8)
	}
	return n, nil
}

// UnpackL24 reads big-endian 24-bit samples into left-justified int32s.
func UnpackL24(dst []int32, payload []byte) (int, error) {
	if len(payload)%3 != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a multiple of 3", ErrPartialFrame, len(payload))
	}
	n := len(payload) / 3
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d samples, have %d", ErrShortBuffer, n, len(dst))
	}
	for i := 0; i < n; i++ {
		dst[i] = int32(payload[3*i])<<24 | int32(payload[3*i+1])<<16 | int32(payload[3*i+2])<<8
	}
	return n, nil
}

type l16 struct{}

func (l16) Encode(dst []byte, samples []int32) (int, error) { return PackL16(dst, samples) }
func (l16) Decode(dst []int32, payload []byte) (int, error) { return UnpackL16(dst, payload) }
func (l16) BytesPerSample() int                             { return 2 }

type l24 struct{}

func (l24) Encode(dst []byte, samples []int32) (int, error) { return PackL24(dst, samples) }
func (l24) Decode(dst []int32, payload []byte) (int, error) { return UnpackL24(dst, payload) }
func (l24) BytesPerSample() int                             { return 3 }
