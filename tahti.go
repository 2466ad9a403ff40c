// Package tahti contains the shared data model of the Tahti tracker: the
// audio configuration, tempo maps, patterns, instrument definitions and the
// project file format, together with helpers to convert between decibels,
// linear gains and sample layouts. The audio processing itself lives in the
// subpackages: engine renders module graphs block by block, mixer routes the
// rendered audio through channels, subgroups and return buses, and bridge
// turns tracker patterns into scheduled performances.
package tahti

import "fmt"

type (
	// EngineConfig is the audio configuration of the whole system: how many
	// frames there are per second, how many frames are processed per render
	// call and how many output channels there are. It is immutable once an
	// engine has been constructed; every module and mixer buffer is
	// allocated against it.
	EngineConfig struct {
		SampleRate int `yaml:",omitempty"`
		BlockSize  int `yaml:",omitempty"`
		Channels   int `yaml:",omitempty"`
	}

	// ParameterSpec describes one automatable parameter of a module or a
	// mixer bus: its range, default value, unit and the musical context it
	// belongs to. Normalized (0..1) and percent (0..100) automation values
	// are stretched onto the Min..Max range when they are resolved.
	ParameterSpec struct {
		Name    string  `yaml:",omitempty"`
		Default float64 `yaml:",omitempty"`
		Min     float64 `yaml:",omitempty"`
		Max     float64 `yaml:",omitempty"`
		Unit    string  `yaml:",omitempty"`
		Context string  `yaml:",omitempty"`
	}
)

// DefaultEngineConfig returns the configuration used when a project does not
// set one: 48 kHz stereo, rendered 512 frames at a time.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{SampleRate: 48000, BlockSize: 512, Channels: 2}
}

func (c EngineConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate should be > 0, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block size should be > 0, got %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: channel count should be > 0, got %d", ErrInvalidConfig, c.Channels)
	}
	return nil
}

func (p ParameterSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: parameter has no name", ErrInvalidConfig)
	}
	if p.Min > p.Max {
		return fmt.Errorf("%w: parameter %s min %v > max %v", ErrInvalidConfig, p.Name, p.Min, p.Max)
	}
	if p.Default < p.Min || p.Default > p.Max {
		return fmt.Errorf("%w: parameter %s default %v outside %v..%v", ErrInvalidConfig, p.Name, p.Default, p.Min, p.Max)
	}
	return nil
}

// Clamp limits a value to the Min..Max range of the parameter.
func (p ParameterSpec) Clamp(value float64) float64 {
	if value < p.Min {
		return p.Min
	}
	if value > p.Max {
		return p.Max
	}
	return value
}
