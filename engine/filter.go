package engine

import (
	"fmt"
	"math"

	"github.com/tahti-studio/tahti"
)

// onePoleLowPass rolls off highs with a single pole per channel and blends
// the filtered signal with the dry input.
type onePoleLowPass struct {
	core
	config tahti.EngineConfig
	state  []float32
}

func newOnePoleLowPass(config tahti.EngineConfig, mc tahti.ModuleConfig) (Module, error) {
	if len(mc.Inputs) != 1 {
		return nil, fmt.Errorf("%w: one_pole_lowpass needs exactly one input", tahti.ErrInvalidConfig)
	}
	maxCutoff := math.Min(20000, float64(config.SampleRate)/2)
	specs := []tahti.ParameterSpec{
		{Name: "cutoff_hz", Default: math.Min(4000, maxCutoff), Min: 20, Max: maxCutoff, Unit: "Hz", Context: "tone"},
		{Name: "mix", Default: 1, Min: 0, Max: 1, Context: "tone"},
	}
	m := &onePoleLowPass{
		core:   newCore(mc, specs),
		config: config,
		state:  make([]float32, config.Channels),
	}
	if err := m.applyInitial(mc.Params); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *onePoleLowPass) Process(out tahti.AudioBuffer, in []tahti.AudioBuffer) {
	cutoff, _ := m.Parameter("cutoff_hz")
	mix, _ := m.Parameter("mix")
	alpha := float32(1 - math.Exp(-2*math.Pi*cutoff/float64(m.config.SampleRate)))
	dry, wet := float32(1-mix), float32(mix)
	for c := range out {
		src, dst := in[0][c], out[c]
		state := m.state[c]
		for i, x := range src {
			state += alpha * (x - state)
			dst[i] = x*dry + state*wet
		}
		m.state[c] = state
	}
}
