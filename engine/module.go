package engine

import (
	"fmt"
	"sort"

	"github.com/tahti-studio/tahti"
)

type (
	// Module is one processing unit of the engine: an oscillator, sampler,
	// envelope or filter. Process fills out with one block of audio,
	// reading the already rendered blocks of the modules it declared as
	// inputs, in declaration order. Implementations must write every frame
	// of out.
	Module interface {
		ID() string
		Inputs() []string
		Parameters() []tahti.ParameterSpec
		Parameter(name string) (float64, bool)
		SetParameter(name string, value float64) error
		Process(out tahti.AudioBuffer, in []tahti.AudioBuffer)
	}

	// SampleLibrary resolves the sample names of clip samplers into mono
	// sample data. Asset management lives outside the engine; this is just
	// the data contract it is fed through.
	SampleLibrary map[string][]float32

	// core carries the bookkeeping shared by all module kinds: identity,
	// declared inputs and parameter values clamped against their specs.
	core struct {
		id     string
		inputs []string
		specs  []tahti.ParameterSpec
		values map[string]float64
	}
)

// New builds a module from its configuration. Unknown kinds, parameters and
// sample references fail here rather than at render time.
func New(config tahti.EngineConfig, mc tahti.ModuleConfig, library SampleLibrary) (Module, error) {
	if mc.ID == "" {
		return nil, fmt.Errorf("%w: module has no id", tahti.ErrInvalidConfig)
	}
	var (
		m   Module
		err error
	)
	switch mc.Kind {
	case tahti.KindSineOscillator:
		m, err = newSineOscillator(config, mc)
	case tahti.KindClipSampler:
		m, err = newClipSampler(config, mc, library)
	case tahti.KindAmplitudeEnvelope:
		m, err = newAmplitudeEnvelope(config, mc)
	case tahti.KindOnePoleLowPass:
		m, err = newOnePoleLowPass(config, mc)
	default:
		err = fmt.Errorf("%w: module kind %v", tahti.ErrInvalidConfig, mc.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("could not build module %q: %w", mc.ID, err)
	}
	return m, nil
}

func newCore(mc tahti.ModuleConfig, specs []tahti.ParameterSpec) core {
	inputs := make([]string, len(mc.Inputs))
	copy(inputs, mc.Inputs)
	values := make(map[string]float64, len(specs))
	for _, s := range specs {
		values[s.Name] = s.Default
	}
	return core{id: mc.ID, inputs: inputs, specs: specs, values: values}
}

func (c *core) ID() string { return c.id }

func (c *core) Inputs() []string { return c.inputs }

func (c *core) Parameters() []tahti.ParameterSpec {
	specs := make([]tahti.ParameterSpec, len(c.specs))
	copy(specs, c.specs)
	return specs
}

func (c *core) Parameter(name string) (float64, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c *core) Spec(name string) (tahti.ParameterSpec, bool) {
	for _, s := range c.specs {
		if s.Name == name {
			return s, true
		}
	}
	return tahti.ParameterSpec{}, false
}

// SetParameter sets a parameter, clamping the value to its spec range.
func (c *core) SetParameter(name string, value float64) error {
	s, ok := c.Spec(name)
	if !ok {
		return fmt.Errorf("%w: module %q has no parameter %q", tahti.ErrUnknownParameter, c.id, name)
	}
	c.values[name] = s.Clamp(value)
	return nil
}

// applyInitial overrides defaults with the values a module config names,
// in name order so a config with several mistakes always reports the same
// one first.
func (c *core) applyInitial(initial map[string]float64) error {
	names := make([]string, 0, len(initial))
	for name := range initial {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.SetParameter(name, initial[name]); err != nil {
			return err
		}
	}
	return nil
}
