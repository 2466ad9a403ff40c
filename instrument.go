package tahti

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type (
	// ModuleKind enumerates the audio module types the engine knows how to
	// build. The set is closed on purpose: a project file naming anything
	// else is an authoring mistake, caught already at parse time.
	ModuleKind int

	// ModuleConfig describes one module of an instrument: its identity, the
	// modules it reads audio from and its initial parameter values. Sample,
	// Family and Layers configure clip samplers; the other kinds ignore
	// them.
	ModuleConfig struct {
		ID     string             `yaml:",omitempty"`
		Kind   ModuleKind         `yaml:",omitempty"`
		Inputs []string           `yaml:",flow,omitempty"`
		Params map[string]float64 `yaml:",omitempty"`
		Sample string             `yaml:",omitempty"`
		Family string             `yaml:",omitempty"`
		Layers []SampleLayer      `yaml:",omitempty"`
	}

	// SampleLayer is one velocity layer of a clip sampler. Velocities
	// between MinVelocity and MaxVelocity play this layer; near the edges
	// adjacent layers crossfade into each other.
	SampleLayer struct {
		Sample             string  `yaml:",omitempty"`
		MinVelocity        int     `yaml:",omitempty"`
		MaxVelocity        int     `yaml:",omitempty"`
		AmplitudeScale     float64 `yaml:",omitempty"`
		StartOffsetPercent float64 `yaml:",omitempty"`
	}

	// InstrumentDefinition is a small module graph with a designated output
	// module. MixerChannel optionally names the mixer channel the
	// instrument plays through; without it the instrument sums straight
	// into the rendered output.
	InstrumentDefinition struct {
		ID           string         `yaml:",omitempty"`
		Name         string         `yaml:",omitempty"`
		Modules      []ModuleConfig `yaml:",omitempty"`
		Output       string         `yaml:",omitempty"`
		MixerChannel string         `yaml:",omitempty"`
	}
)

const (
	KindSineOscillator ModuleKind = iota
	KindClipSampler
	KindAmplitudeEnvelope
	KindOnePoleLowPass
)

var moduleKindNames = [...]string{"sine", "clip_sampler", "amplitude_envelope", "one_pole_lowpass"}

func (k ModuleKind) String() string {
	if k < 0 || int(k) >= len(moduleKindNames) {
		return fmt.Sprintf("ModuleKind(%d)", int(k))
	}
	return moduleKindNames[k]
}

// ParseModuleKind returns the module kind with the given name.
func ParseModuleKind(name string) (ModuleKind, error) {
	for i, n := range moduleKindNames {
		if n == name {
			return ModuleKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown module kind %q", ErrInvalidConfig, name)
}

func (k ModuleKind) MarshalYAML() (interface{}, error) {
	if k < 0 || int(k) >= len(moduleKindNames) {
		return nil, fmt.Errorf("cannot marshal module kind %d", int(k))
	}
	return k.String(), nil
}

func (k *ModuleKind) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseModuleKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (c ModuleConfig) Copy() ModuleConfig {
	inputs := make([]string, len(c.Inputs))
	copy(inputs, c.Inputs)
	layers := make([]SampleLayer, len(c.Layers))
	copy(layers, c.Layers)
	ret := c
	ret.Inputs, ret.Layers = inputs, layers
	if c.Params != nil {
		ret.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			ret.Params[k] = v
		}
	}
	return ret
}

func (d InstrumentDefinition) Copy() InstrumentDefinition {
	modules := make([]ModuleConfig, len(d.Modules))
	for i, m := range d.Modules {
		modules[i] = m.Copy()
	}
	ret := d
	ret.Modules = modules
	return ret
}

// OutputModule returns the id of the module whose output is the voice of the
// instrument: the Output field if set, otherwise the last module.
func (d InstrumentDefinition) OutputModule() (string, error) {
	if d.Output != "" {
		for _, m := range d.Modules {
			if m.ID == d.Output {
				return d.Output, nil
			}
		}
		return "", fmt.Errorf("%w: instrument %q output %q is not one of its modules", ErrUnknownModule, d.ID, d.Output)
	}
	if len(d.Modules) == 0 {
		return "", fmt.Errorf("%w: instrument %q has no modules", ErrInvalidConfig, d.ID)
	}
	return d.Modules[len(d.Modules)-1].ID, nil
}

func (d InstrumentDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: instrument has no id", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(d.Modules))
	for _, m := range d.Modules {
		if m.ID == "" {
			return fmt.Errorf("%w: instrument %q has a module without an id", ErrInvalidConfig, d.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("%w: instrument %q declares module %q twice", ErrInvalidConfig, d.ID, m.ID)
		}
		seen[m.ID] = true
	}
	for _, m := range d.Modules {
		for _, in := range m.Inputs {
			if !seen[in] {
				return fmt.Errorf("%w: module %q input %q is not part of instrument %q", ErrUnknownModule, m.ID, in, d.ID)
			}
		}
	}
	_, err := d.OutputModule()
	return err
}
