package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/tahti-studio/tahti"
)

type (
	// clipSampler plays short clips with velocity layering, repitching and
	// optional looping. The velocity picks which layers sound; near a layer
	// edge the neighbours crossfade over a width that defaults from the
	// preset family of the instrument.
	clipSampler struct {
		core
		config   tahti.EngineConfig
		layers   []samplerLayer
		voices   []samplerVoice
		position float64
		playing  bool
	}

	samplerLayer struct {
		data   []float32
		minVel float64
		maxVel float64
		scale  float32
		offset float64
	}

	// samplerVoice is one layer resolved against the current parameters:
	// its play window in clip samples and its normalized gain.
	samplerVoice struct {
		data   []float32
		start  float64
		window float64
		gain   float32
	}
)

// familyCrossfades maps preset families to their default crossfade width in
// velocity units. Sustained timbres fade over a wider band than plucked
// ones so layer switches stay inaudible.
var familyCrossfades = map[string]float64{
	"strings":        12,
	"pad":            12,
	"string_section": 12,
	"keys":           8,
	"keyboard":       8,
	"ep":             8,
	"organ":          8,
	"pluck":          6,
	"plucked":        6,
	"guitar":         6,
	"strum":          6,
}

const defaultCrossfade = 4.0

func newClipSampler(config tahti.EngineConfig, mc tahti.ModuleConfig, library SampleLibrary) (Module, error) {
	if len(mc.Inputs) != 0 {
		return nil, fmt.Errorf("%w: clip_sampler takes no inputs", tahti.ErrInvalidConfig)
	}
	crossfade := defaultCrossfade
	if w, ok := familyCrossfades[mc.Family]; ok {
		crossfade = w
	}
	specs := []tahti.ParameterSpec{
		{Name: "velocity", Default: 100, Min: 0, Max: 127, Context: "dynamics"},
		{Name: "transpose_semitones", Default: 0, Min: -24, Max: 24, Context: "pitch"},
		{Name: "retrigger", Default: 0, Min: 0, Max: 1, Context: "articulation"},
		{Name: "velocity_crossfade_width", Default: crossfade, Min: 0, Max: 64, Context: "dynamics"},
		{Name: "root_midi_note", Default: 60, Min: 0, Max: 127, Context: "pitch"},
		{Name: "amplitude", Default: 1, Min: 0, Max: 1, Context: "dynamics"},
		{Name: "playback_rate", Default: 1, Min: 0.25, Max: 4, Context: "pitch"},
		{Name: "start_percent", Default: 0, Min: 0, Max: 100, Context: "articulation"},
		{Name: "length_percent", Default: 100, Min: 0, Max: 100, Context: "articulation"},
		{Name: "loop", Default: 0, Min: 0, Max: 1, Context: "articulation"},
	}
	m := &clipSampler{core: newCore(mc, specs), config: config}
	if err := m.applyInitial(mc.Params); err != nil {
		return nil, err
	}
	layers := mc.Layers
	if len(layers) == 0 && mc.Sample == "" {
		if mc.Family == "" {
			return nil, fmt.Errorf("%w: clip_sampler needs a sample, layers or a family", tahti.ErrInvalidConfig)
		}
		bank, err := generateFamilyBank(mc.Family, config.SampleRate)
		if err != nil {
			return nil, err
		}
		m.layers = bank
		return m, nil
	}
	if len(layers) == 0 {
		layers = []tahti.SampleLayer{{Sample: mc.Sample, MinVelocity: 1, MaxVelocity: 127}}
	}
	for _, l := range layers {
		data, ok := library[l.Sample]
		if !ok {
			return nil, fmt.Errorf("%w: %q", tahti.ErrUnknownSample, l.Sample)
		}
		if len(data) < 2 {
			return nil, fmt.Errorf("%w: sample %q is too short", tahti.ErrInvalidConfig, l.Sample)
		}
		minVel, maxVel := float64(l.MinVelocity), float64(l.MaxVelocity)
		if minVel == 0 && maxVel == 0 {
			minVel, maxVel = 1, 127
		}
		scale := float32(l.AmplitudeScale)
		if l.AmplitudeScale == 0 {
			scale = 1
		}
		m.layers = append(m.layers, samplerLayer{
			data:   data,
			minVel: minVel,
			maxVel: maxVel,
			scale:  scale,
			offset: l.StartOffsetPercent,
		})
	}
	sort.SliceStable(m.layers, func(i, j int) bool { return m.layers[i].minVel < m.layers[j].minVel })
	return m, nil
}

func (m *clipSampler) Process(out tahti.AudioBuffer, in []tahti.AudioBuffer) {
	if retrigger, _ := m.Parameter("retrigger"); retrigger >= 0.5 {
		m.position = 0
		m.playing = true
		m.SetParameter("retrigger", 0) // a trigger fires once
	}
	if !m.playing {
		out.Zero()
		return
	}
	velocity, _ := m.Parameter("velocity")
	transpose, _ := m.Parameter("transpose_semitones")
	width, _ := m.Parameter("velocity_crossfade_width")
	amplitude, _ := m.Parameter("amplitude")
	rate, _ := m.Parameter("playback_rate")
	startPct, _ := m.Parameter("start_percent")
	lengthPct, _ := m.Parameter("length_percent")
	loopParam, _ := m.Parameter("loop")
	loop := loopParam >= 0.5

	m.voices = m.voices[:0]
	total, maxWindow := 0.0, 0.0
	for _, l := range m.layers {
		w := layerWeight(velocity, l.minVel, l.maxVel, width)
		if w <= 0 {
			continue
		}
		start := (startPct + l.offset) / 100 * float64(len(l.data))
		if max := float64(len(l.data) - 1); start > max {
			start = max
		}
		window := lengthPct / 100 * float64(len(l.data))
		if avail := float64(len(l.data)) - start; window > avail {
			window = avail
		}
		if window <= 0 {
			continue
		}
		m.voices = append(m.voices, samplerVoice{data: l.data, start: start, window: window, gain: float32(w) * l.scale})
		total += w
		if window > maxWindow {
			maxWindow = window
		}
	}
	if len(m.voices) == 0 || total <= 0 {
		out.Zero()
		return
	}
	inv := float32(1 / total)
	for i := range m.voices {
		m.voices[i].gain *= inv
	}

	step := rate * math.Pow(2, transpose/12)
	amp := float32(amplitude)
	first := out[0]
	pos := m.position
	for i := 0; i < len(first); i++ {
		if !loop && pos >= maxWindow {
			m.playing = false
			for ; i < len(first); i++ {
				first[i] = 0
			}
			break
		}
		var acc float32
		for _, v := range m.voices {
			p := pos
			if loop {
				p = math.Mod(p, v.window)
			} else if p >= v.window {
				continue
			}
			acc += v.gain * interpolate(v.data, v.start+p)
		}
		first[i] = acc * amp
		pos += step
	}
	m.position = pos
	for _, ch := range out[1:] {
		copy(ch, first)
	}
}

// layerWeight is 1 inside the layer's velocity range and fades linearly to
// zero over width velocity units outside it.
func layerWeight(velocity, minVel, maxVel, width float64) float64 {
	if velocity >= minVel && velocity <= maxVel {
		return 1
	}
	if width <= 0 {
		return 0
	}
	dist := minVel - velocity
	if velocity > maxVel {
		dist = velocity - maxVel
	}
	if dist >= width {
		return 0
	}
	return 1 - dist/width
}

// interpolate reads a clip at a fractional position with linear
// interpolation.
func interpolate(data []float32, pos float64) float32 {
	idx := int(pos)
	if idx >= len(data)-1 {
		return data[len(data)-1]
	}
	frac := float32(pos - float64(idx))
	return data[idx]*(1-frac) + data[idx+1]*frac
}
