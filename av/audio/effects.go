package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// AudioEffect processes interleaved native samples in place. Effects run on
// the engine goroutine between the sample source and the payload encoder.
type AudioEffect interface {
	// Process applies the effect to samples in place.
	Process(samples []int32) error

	// GetName returns a human-readable name for the effect
	GetName() string

	// Close releases any resources used by the effect
	Close() error
}

// MaxGain is the largest linear gain GainEffect accepts (+24 dB).
const MaxGain = 15.848931924611133

// GainEffect applies a linear trim with saturation at full scale.
type GainEffect struct {
	mu      sync.RWMutex
	gain    float64
	clipped uint64
}

// NewGainEffect creates a gain effect. 0 mutes, 1 is unity.
func NewGainEffect(gain float64) (*GainEffect, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewGainEffect",
		"gain":     gain,
	}).Debug("Creating gain effect")

	if err := validateGain(gain); err != nil {
		return nil, err
	}
	return &GainEffect{gain: gain}, nil
}

// NewGainEffectDB creates a gain effect from a level in decibels.
func NewGainEffectDB(db float64) (*GainEffect, error) {
	return NewGainEffect(DBToGain(db))
}

// DBToGain converts decibels to a linear amplitude factor.
func DBToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

func validateGain(gain float64) error {
	if math.IsNaN(gain) || math.IsInf(gain, 0) || gain < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidGain, gain)
	}
	if gain > MaxGain {
		return fmt.Errorf("%w: %v exceeds %v", ErrInvalidGain, gain, MaxGain)
	}
	return nil
}

// Process multiplies every sample by the gain.
func (g *GainEffect) Process(samples []int32) error {
	g.mu.RLock()
	gain := g.gain
	g.mu.RUnlock()

	if gain == 1 {
		return nil
	}
	clipped := 0
	for i, s := range samples {
		v := float64(s) * gain
		switch {
		case v > math.MaxInt32:
			samples[i] = math.MaxInt32
			clipped++
		case v < math.MinInt32:
			samples[i] = math.MinInt32
			clipped++
		default:
			samples[i] = int32(v)
		}
	}
	if clipped > 0 {
		g.mu.Lock()
		g.clipped += uint64(clipped)
		g.mu.Unlock()
	}
	return nil
}

// GetName returns the effect name for logging.
func (g *GainEffect) GetName() string {
	return fmt.Sprintf("Gain(%.2f)", g.GetGain())
}

// SetGain changes the gain while the effect is in use.
func (g *GainEffect) SetGain(gain float64) error {
	if err := validateGain(gain); err != nil {
		return err
	}
	g.mu.Lock()
	old := g.gain
	g.gain = gain
	g.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "GainEffect.SetGain",
		"old_gain": old,
		"new_gain": gain,
	}).Info("Gain updated")
	return nil
}

// GetGain returns the current gain.
func (g *GainEffect) GetGain() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gain
}

// Clipped returns the number of samples saturated so far.
func (g *GainEffect) Clipped() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clipped
}

// Close is a no-op.
func (g *GainEffect) Close() error { return nil }

// EffectChain runs effects in the order they were added.
type EffectChain struct {
	mu      sync.RWMutex
	effects []AudioEffect
}

// NewEffectChain creates an empty chain.
func NewEffectChain() *EffectChain {
	return &EffectChain{}
}

// AddEffect appends an effect to the chain.
func (e *EffectChain) AddEffect(effect AudioEffect) {
	e.mu.Lock()
	e.effects = append(e.effects, effect)
	n := len(e.effects)
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "EffectChain.AddEffect",
		"effect_name":  effect.GetName(),
		"effect_count": n,
	}).Debug("Effect added to chain")
}

// Process applies every effect; the first failure stops the chain.
func (e *EffectChain) Process(samples []int32) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, effect := range e.effects {
		if err := effect.Process(samples); err != nil {
			return fmt.Errorf("effect %d (%s) failed: %w", i, effect.GetName(), err)
		}
	}
	return nil
}

// GetEffectCount returns the number of effects in the chain.
func (e *EffectChain) GetEffectCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.effects)
}

// GetEffectNames returns the names of all effects in the chain.
func (e *EffectChain) GetEffectNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.effects))
	for i, effect := range e.effects {
		names[i] = effect.GetName()
	}
	return names
}

// GetName implements AudioEffect so chains nest.
func (e *EffectChain) GetName() string {
	return fmt.Sprintf("Chain%v", e.GetEffectNames())
}

// Clear closes and removes every effect.
func (e *EffectChain) Clear() error {
	e.mu.Lock()
	effects := e.effects
	e.effects = nil
	e.mu.Unlock()

	var errs []error
	for i, effect := range effects {
		if err := effect.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "EffectChain.Clear",
				"effect_index": i,
				"effect_name":  effect.GetName(),
				"error":        err.Error(),
			}).Error("Failed to close effect")
			errs = append(errs, fmt.Errorf("effect %d (%s) close failed: %w", i, effect.GetName(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases all effects.
func (e *EffectChain) Close() error {
	return e.Clear()
}
