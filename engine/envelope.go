package engine

import (
	"fmt"
	"math"

	"github.com/tahti-studio/tahti"
	"github.com/viterin/vek/vek32"
)

// amplitudeEnvelope scales its input with a one pole gate follower: the
// level chases the gate value with separate attack and release time
// constants, which keeps note starts and stops click free.
type amplitudeEnvelope struct {
	core
	config tahti.EngineConfig
	level  float64
	env    []float32
}

func newAmplitudeEnvelope(config tahti.EngineConfig, mc tahti.ModuleConfig) (Module, error) {
	if len(mc.Inputs) != 1 {
		return nil, fmt.Errorf("%w: amplitude_envelope needs exactly one input", tahti.ErrInvalidConfig)
	}
	specs := []tahti.ParameterSpec{
		{Name: "gate", Default: 1, Min: 0, Max: 1, Context: "dynamics"},
		{Name: "attack_ms", Default: 10, Min: 0, Max: 5000, Unit: "ms", Context: "articulation"},
		{Name: "release_ms", Default: 120, Min: 0, Max: 5000, Unit: "ms", Context: "articulation"},
	}
	m := &amplitudeEnvelope{
		core:   newCore(mc, specs),
		config: config,
		env:    make([]float32, config.BlockSize),
	}
	if err := m.applyInitial(mc.Params); err != nil {
		return nil, err
	}
	m.level, _ = m.Parameter("gate")
	return m, nil
}

// timeToCoefficient turns a time constant in milliseconds into the per
// sample feedback coefficient of a one pole smoother.
func timeToCoefficient(timeMS float64, sampleRate int) float64 {
	if timeMS <= 0 {
		return 0
	}
	return math.Exp(-1 / (timeMS / 1000 * float64(sampleRate)))
}

func (m *amplitudeEnvelope) Process(out tahti.AudioBuffer, in []tahti.AudioBuffer) {
	gate, _ := m.Parameter("gate")
	attack, _ := m.Parameter("attack_ms")
	release, _ := m.Parameter("release_ms")
	attackCoeff := timeToCoefficient(attack, m.config.SampleRate)
	releaseCoeff := timeToCoefficient(release, m.config.SampleRate)
	env := m.env[:out.Frames()]
	level := m.level
	for i := range env {
		coeff := releaseCoeff
		if gate > level {
			coeff = attackCoeff
		}
		level = gate + (level-gate)*coeff
		env[i] = float32(level)
	}
	m.level = level
	for c := range out {
		vek32.Mul_Into(out[c], in[0][c], env)
	}
}
