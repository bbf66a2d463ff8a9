package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// ErrInvalidWAV indicates a file that is not a readable PCM WAV file.
var ErrInvalidWAV = errors.New("invalid wav file")

// wavReadFrames is the number of file frames decoded per refill.
const wavReadFrames = 1024

// WAVSource plays a PCM WAV file as a transmitter sample source. File
// channels are mapped one to one onto stream channels; missing channels are
// silent and extra file channels are dropped. A file at a different rate is
// resampled to the stream rate.
type WAVSource struct {
	mu        sync.Mutex
	file      *os.File
	dec       *wav.Decoder
	buf       *goaudio.IntBuffer
	shift     uint
	fileChans int
	channels  int
	loop      bool
	resampler *Resampler
	pending   []int32
	eof       bool
}

// WAVSourceConfig configures OpenWAVSource.
type WAVSourceConfig struct {
	Path       string
	Channels   int
	SampleRate uint32
	Loop       bool
}

// OpenWAVSource opens and validates a 16, 24 or 32-bit PCM WAV file.
func OpenWAVSource(cfg WAVSourceConfig) (*WAVSource, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "OpenWAVSource",
		"path":        cfg.Path,
		"channels":    cfg.Channels,
		"sample_rate": cfg.SampleRate,
		"loop":        cfg.Loop,
	}).Info("Opening WAV source")

	if cfg.Channels < 1 || cfg.Channels > stream.MaxChannels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, cfg.Channels)
	}
	if cfg.SampleRate == 0 {
		return nil, fmt.Errorf("%w: 0", ErrInvalidRate)
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open wav source: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, cfg.Path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	depth := int(dec.BitDepth)
	if depth != 16 && depth != 24 && depth != 32 {
		f.Close()
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, depth)
	}
	fileChans := int(dec.NumChans)
	if fileChans < 1 {
		f.Close()
		return nil, fmt.Errorf("%w: no channels", ErrInvalidWAV)
	}

	s := &WAVSource{
		file:      f,
		dec:       dec,
		shift:     uint(32 - depth),
		fileChans: fileChans,
		channels:  cfg.Channels,
		loop:      cfg.Loop,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: fileChans, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, wavReadFrames*fileChans),
		},
	}
	if dec.SampleRate != cfg.SampleRate {
		s.resampler, err = NewResampler(ResamplerConfig{
			InputRate:  dec.SampleRate,
			OutputRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		})
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "OpenWAVSource",
		"path":          cfg.Path,
		"file_channels": fileChans,
		"file_rate":     dec.SampleRate,
		"bit_depth":     depth,
		"resampling":    s.resampler != nil,
	}).Info("WAV source ready")
	return s, nil
}

// Pull fills dst with interleaved frames. It returns false once the file is
// exhausted and not looping; a final partial block is padded with silence.
func (s *WAVSource) Pull(dst []int32, _ uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) < len(dst) && !s.eof {
		if err := s.refill(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "WAVSource.Pull",
				"error":    err.Error(),
			}).Error("WAV read failed")
			s.eof = true
		}
	}
	if len(s.pending) == 0 {
		return false
	}
	n := copy(dst, s.pending)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	s.pending = s.pending[n:]
	return true
}

// refill decodes one buffer of file frames into pending.
func (s *WAVSource) refill() error {
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return err
	}
	n -= n % s.fileChans
	if n == 0 {
		if !s.loop {
			s.eof = true
			return nil
		}
		if err := s.dec.Rewind(); err != nil {
			return err
		}
		if n, err = s.dec.PCMBuffer(s.buf); err != nil {
			return err
		}
		n -= n % s.fileChans
		if n == 0 {
			s.eof = true
			return nil
		}
	}

	frames := n / s.fileChans
	block := make([]int32, frames*s.channels)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < s.channels && ch < s.fileChans; ch++ {
			block[f*s.channels+ch] = int32(s.buf.Data[f*s.fileChans+ch]) << s.shift
		}
	}
	if s.resampler != nil {
		if block, err = s.resampler.Resample(block); err != nil {
			return err
		}
	}
	s.pending = append(s.pending, block...)
	return nil
}

// Close closes the file.
func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// WAVSink records received samples to a PCM WAV file.
type WAVSink struct {
	mu       sync.Mutex
	file     *os.File
	enc      *wav.Encoder
	buf      *goaudio.IntBuffer
	shift    uint
	channels int
	frames   uint64
	closed   bool
}

// WAVSinkConfig configures CreateWAVSink.
type WAVSinkConfig struct {
	Path       string
	Channels   int
	SampleRate uint32
	// BitDepth is 16, 24 or 32; 0 selects 24.
	BitDepth int
}

// CreateWAVSink creates or truncates the file at cfg.Path.
func CreateWAVSink(cfg WAVSinkConfig) (*WAVSink, error) {
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 24
	}
	logrus.WithFields(logrus.Fields{
		"function":    "CreateWAVSink",
		"path":        cfg.Path,
		"channels":    cfg.Channels,
		"sample_rate": cfg.SampleRate,
		"bit_depth":   cfg.BitDepth,
	}).Info("Creating WAV sink")

	if cfg.Channels < 1 || cfg.Channels > stream.MaxChannels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, cfg.Channels)
	}
	if cfg.SampleRate == 0 {
		return nil, fmt.Errorf("%w: 0", ErrInvalidRate)
	}
	if cfg.BitDepth != 16 && cfg.BitDepth != 24 && cfg.BitDepth != 32 {
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, cfg.BitDepth)
	}

	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("create wav sink: %w", err)
	}
	return &WAVSink{
		file:     f,
		enc:      wav.NewEncoder(f, int(cfg.SampleRate), cfg.BitDepth, cfg.Channels, 1),
		shift:    uint(32 - cfg.BitDepth),
		channels: cfg.Channels,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: cfg.Channels, SampleRate: int(cfg.SampleRate)},
			SourceBitDepth: cfg.BitDepth,
		},
	}, nil
}

// Push appends interleaved frames. It returns false after a write error or
// Close, which stops the receiver feeding it.
func (s *WAVSink) Push(samples []int32, _ uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(samples)%s.channels != 0 {
		logrus.WithFields(logrus.Fields{
			"function": "WAVSink.Push",
			"samples":  len(samples),
			"channels": s.channels,
		}).Warn("Dropping partial frame block")
		return true
	}

	if cap(s.buf.Data) < len(samples) {
		s.buf.Data = make([]int, len(samples))
	}
	s.buf.Data = s.buf.Data[:len(samples)]
	for i, v := range samples {
		s.buf.Data[i] = int(v >> s.shift)
	}
	if err := s.enc.Write(s.buf); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "WAVSink.Push",
			"error":    err.Error(),
		}).Error("WAV write failed")
		return false
	}
	s.frames += uint64(len(samples) / s.channels)
	return true
}

// Frames returns the number of frames written.
func (s *WAVSink) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close finalizes the WAV header and closes the file.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	logrus.WithFields(logrus.Fields{
		"function": "WAVSink.Close",
		"frames":   s.frames,
	}).Info("WAV sink closed")
	return errors.Join(encErr, fileErr)
}
