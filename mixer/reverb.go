package mixer

import (
	"math"

	"github.com/tahti-studio/tahti"
)

// Comb delays in milliseconds, mutually prime so the echoes do not pile
// up on a common period.
var combDelaysMS = [4]float64{43, 57, 71, 89}

// comb is one damped feedback comb line.
type comb struct {
	buffer []float32
	index  int
	state  float32
}

// PlateReverb approximates a small plate: a short pre delay feeding four
// damped combs in parallel per channel.
type PlateReverb struct {
	pre      [][]float32
	preIndex int
	combs    [][]comb
	feedback float32
	damping  float32
	mix      float32
}

func NewPlateReverb(params map[string]float64, sampleRate, channels int) *PlateReverb {
	preLength := int(math.Round(insertParam(params, "pre_delay_ms", 20) * float64(sampleRate) / 1000))
	if preLength < 1 {
		preLength = 1
	}
	pre := make([][]float32, channels)
	combs := make([][]comb, channels)
	for c := 0; c < channels; c++ {
		pre[c] = make([]float32, preLength)
		combs[c] = make([]comb, len(combDelaysMS))
		for j, ms := range combDelaysMS {
			length := int(math.Round(ms * float64(sampleRate) / 1000))
			if length < 1 {
				length = 1
			}
			combs[c][j] = comb{buffer: make([]float32, length)}
		}
	}
	return &PlateReverb{
		pre:      pre,
		combs:    combs,
		feedback: float32(clampRange(insertParam(params, "decay", 0.75), 0, 0.95)),
		damping:  float32(clampRange(insertParam(params, "damping", 0.35), 0, 0.99)),
		mix:      float32(clampRange(insertParam(params, "mix", 0.35), 0, 1)),
	}
}

func (r *PlateReverb) Kind() tahti.InsertKind { return tahti.InsertReverb }

func (r *PlateReverb) Process(buffer tahti.AudioBuffer) {
	if len(r.pre) == 0 {
		return
	}
	frames := buffer.Frames()
	dry := 1 - r.mix
	for i := 0; i < frames; i++ {
		for c, ch := range buffer {
			if c >= len(r.combs) {
				break
			}
			line := r.pre[c]
			excitation := line[r.preIndex]
			line[r.preIndex] = ch[i]
			var accum float32
			for j := range r.combs[c] {
				cb := &r.combs[c][j]
				delayed := cb.buffer[cb.index]
				cb.state = (1-r.damping)*delayed + r.damping*cb.state
				cb.buffer[cb.index] = excitation + cb.state*r.feedback
				cb.index++
				if cb.index >= len(cb.buffer) {
					cb.index = 0
				}
				accum += cb.state
			}
			wet := accum / float32(len(r.combs[c]))
			ch[i] = ch[i]*dry + wet*r.mix
		}
		r.preIndex++
		if r.preIndex >= len(r.pre[0]) {
			r.preIndex = 0
		}
	}
}
