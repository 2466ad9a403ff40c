package engine

import (
	"fmt"
	"math"

	"github.com/tahti-studio/tahti"
)

// sineOscillator is a free running sine generator. The phase accumulates in
// float64 so long renders stay in tune. The gate parameter scales the output
// directly so a bare oscillator can be note-gated without an envelope.
type sineOscillator struct {
	core
	config tahti.EngineConfig
	phase  float64
}

func newSineOscillator(config tahti.EngineConfig, mc tahti.ModuleConfig) (Module, error) {
	if len(mc.Inputs) != 0 {
		return nil, fmt.Errorf("%w: sine takes no inputs", tahti.ErrInvalidConfig)
	}
	specs := []tahti.ParameterSpec{
		{Name: "amplitude", Default: 0.25, Min: 0, Max: 1, Context: "dynamics"},
		{Name: "frequency_hz", Default: 440, Min: 20, Max: 20000, Unit: "Hz", Context: "pitch"},
		{Name: "gate", Default: 1, Min: 0, Max: 1, Context: "dynamics"},
	}
	m := &sineOscillator{core: newCore(mc, specs), config: config}
	if err := m.applyInitial(mc.Params); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *sineOscillator) Process(out tahti.AudioBuffer, in []tahti.AudioBuffer) {
	amplitude, _ := m.Parameter("amplitude")
	frequency, _ := m.Parameter("frequency_hz")
	gate, _ := m.Parameter("gate")
	level := amplitude * gate
	increment := 2 * math.Pi * frequency / float64(m.config.SampleRate)
	first := out[0]
	for i := range first {
		first[i] = float32(math.Sin(m.phase) * level)
		m.phase += increment
	}
	m.phase = math.Mod(m.phase, 2*math.Pi)
	for _, ch := range out[1:] {
		copy(ch, first)
	}
}
