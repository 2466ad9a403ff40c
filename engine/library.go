package engine

import (
	"fmt"
	"math"

	"github.com/tahti-studio/tahti"
)

// familyLayerCounts maps preset families to the number of velocity layers
// their generated bank carries. Sustained timbres get more layers because
// their dynamics change timbre more than level.
var familyLayerCounts = map[string]int{
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

// generateFamilyBank synthesizes the velocity layers of a preset family.
// The clips are pure functions of the family name, the layer index and the
// sample rate, so a render needs no sample assets to be deterministic.
// Louder layers are brighter and attack faster, which is what layered
// multisamples of acoustic sources do.
func generateFamilyBank(family string, sampleRate int) ([]samplerLayer, error) {
	count, ok := familyLayerCounts[family]
	if !ok {
		return nil, fmt.Errorf("%w: no preset family %q", tahti.ErrUnknownSample, family)
	}
	var seconds, attack, decay float64
	var harmonics int
	switch count {
	case 12: // strings: slow swell, dense spectrum, long sustain
		seconds, attack, decay, harmonics = 1.5, 0.12, 1.2, 9
	case 8: // keys: struck onset, moderate decay
		seconds, attack, decay, harmonics = 1.0, 0.004, 0.5, 7
	default: // pluck: sharp onset, fast decay
		seconds, attack, decay, harmonics = 0.6, 0.001, 0.18, 5
	}
	layers := make([]samplerLayer, count)
	frames := int(seconds * float64(sampleRate))
	span := 127.0 / float64(count)
	for i := range layers {
		// brightness grows with the layer: upper harmonics fade in and
		// fall off more gently as the velocity range climbs
		bright := float64(i+1) / float64(count)
		data := make([]float32, frames)
		base := 220.0
		for h := 1; h <= harmonics; h++ {
			level := math.Pow(1/float64(h), 2-bright)
			// a small fixed per-harmonic detune thickens sustained
			// families without any randomness
			detune := 1 + 0.0005*float64(h%3-1)*bright
			omega := 2 * math.Pi * base * float64(h) * detune / float64(sampleRate)
			for f := 0; f < frames; f++ {
				t := float64(f) / float64(sampleRate)
				env := math.Exp(-t/decay) * (1 - math.Exp(-t/math.Max(attack, 1e-4)))
				data[f] += float32(level * env * math.Sin(omega*float64(f)))
			}
		}
		var peak float32
		for _, s := range data {
			if a := float32(math.Abs(float64(s))); a > peak {
				peak = a
			}
		}
		if peak > 0 {
			gain := float32(0.9) / peak
			for f := range data {
				data[f] *= gain
			}
		}
		layers[i] = samplerLayer{
			data:   data,
			minVel: math.Floor(float64(i)*span) + 1,
			maxVel: math.Floor(float64(i+1) * span),
			scale:  float32(0.4 + 0.6*bright),
		}
	}
	layers[count-1].maxVel = 127
	return layers, nil
}
