package audio

import (
	"fmt"

	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// Resampler converts interleaved native samples between sample rates by
// linear interpolation. It carries its fractional position and the last
// input frame across calls so consecutive blocks join without a seam.
type Resampler struct {
	inputRate   uint32
	outputRate  uint32
	channels    int
	lastSamples []int32
	position    float64
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Interleaved channel count
}

// NewResampler creates a resampler instance.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Creating resampler")

	if config.InputRate == 0 || config.OutputRate == 0 {
		return nil, fmt.Errorf("%w: input=%d, output=%d", ErrInvalidRate, config.InputRate, config.OutputRate)
	}
	if config.Channels < 1 || config.Channels > stream.MaxChannels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, config.Channels)
	}
	return &Resampler{
		inputRate:   config.InputRate,
		outputRate:  config.OutputRate,
		channels:    config.Channels,
		lastSamples: make([]int32, config.Channels),
	}, nil
}

// Resample converts one block. The output length depends on the carried
// position, so successive calls may differ by one frame.
func (r *Resampler) Resample(input []int32) ([]int32, error) {
	if len(input)%r.channels != 0 {
		return nil, fmt.Errorf("%w: %d samples for %d channels", ErrPartialFrame, len(input), r.channels)
	}
	if r.inputRate == r.outputRate {
		out := make([]int32, len(input))
		copy(out, input)
		return out, nil
	}
	if len(input) == 0 {
		return nil, nil
	}

	ratio := float64(r.inputRate) / float64(r.outputRate)
	inputFrames := len(input) / r.channels
	output := make([]int32, 0, (int(float64(inputFrames)/ratio)+2)*r.channels)

	// position is relative to the first frame of input; -1 is the last
	// frame of the previous block.
	for r.position < float64(inputFrames-1) {
		idx := int(r.position)
		if r.position < 0 {
			idx = -1
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			var a int32
			if idx < 0 {
				a = r.lastSamples[ch]
			} else {
				a = input[idx*r.channels+ch]
			}
			b := input[(idx+1)*r.channels+ch]
			output = append(output, int32(float64(a)*(1-frac)+float64(b)*frac))
		}
		r.position += ratio
	}

	r.position -= float64(inputFrames)
	copy(r.lastSamples, input[len(input)-r.channels:])

	logrus.WithFields(logrus.Fields{
		"function":      "Resample",
		"input_frames":  inputFrames,
		"output_frames": len(output) / r.channels,
		"position":      r.position,
	}).Debug("Resampled block")

	return output, nil
}

// Reset clears the carried state.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastSamples {
		r.lastSamples[i] = 0
	}
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 { return r.inputRate }

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 { return r.outputRate }

// GetChannels returns the configured channel count.
func (r *Resampler) GetChannels() int { return r.channels }
