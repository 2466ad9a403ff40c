package mixer

import (
	"math"

	"github.com/tahti-studio/tahti"
)

// StereoFeedbackDelay is a plain feedback delay with an independent line
// per channel and a shared write position.
type StereoFeedbackDelay struct {
	lines    [][]float32
	index    int
	feedback float32
	mix      float32
}

func NewStereoFeedbackDelay(params map[string]float64, sampleRate, channels int) *StereoFeedbackDelay {
	length := int(math.Round(insertParam(params, "time_ms", 380) * float64(sampleRate) / 1000))
	if length < 1 {
		length = 1
	}
	lines := make([][]float32, channels)
	for i := range lines {
		lines[i] = make([]float32, length)
	}
	return &StereoFeedbackDelay{
		lines:    lines,
		feedback: float32(clampRange(insertParam(params, "feedback", 0.35), 0, 0.95)),
		mix:      float32(clampRange(insertParam(params, "mix", 0.5), 0, 1)),
	}
}

func clampRange(value, lo, hi float64) float64 {
	return math.Min(math.Max(value, lo), hi)
}

func (d *StereoFeedbackDelay) Kind() tahti.InsertKind { return tahti.InsertDelay }

func (d *StereoFeedbackDelay) Process(buffer tahti.AudioBuffer) {
	if len(d.lines) == 0 {
		return
	}
	frames := buffer.Frames()
	dry := 1 - d.mix
	for i := 0; i < frames; i++ {
		for c, ch := range buffer {
			if c >= len(d.lines) {
				break
			}
			line := d.lines[c]
			wet := line[d.index]
			line[d.index] = ch[i] + wet*d.feedback
			ch[i] = ch[i]*dry + wet*d.mix
		}
		d.index++
		if d.index >= len(d.lines[0]) {
			d.index = 0
		}
	}
}
