package mixer

import (
	"math"

	"github.com/tahti-studio/tahti"
)

// SoftKneeCompressor is a feed forward compressor with a quadratic knee.
// The gain computer runs on the loudest channel of each frame and the
// same gain is applied to every channel, so the stereo image does not
// shift when one side crosses the threshold first.
type SoftKneeCompressor struct {
	thresholdDB float64
	ratio       float64
	kneeDB      float64
	makeupDB    float64
	attack      float64
	release     float64
	envelope    float64
	gainDB      float64
}

func NewSoftKneeCompressor(params map[string]float64, sampleRate int) *SoftKneeCompressor {
	return &SoftKneeCompressor{
		thresholdDB: insertParam(params, "threshold_db", -18),
		ratio:       math.Max(insertParam(params, "ratio", 3), 1),
		kneeDB:      math.Max(insertParam(params, "knee_db", 6), 1e-6),
		makeupDB:    insertParam(params, "makeup_db", 3),
		attack:      smoothingCoefficient(insertParam(params, "attack_ms", 10)/1000, sampleRate),
		release:     smoothingCoefficient(insertParam(params, "release_ms", 120)/1000, sampleRate),
	}
}

// smoothingCoefficient turns a time constant in seconds into a one pole
// coefficient at the given sample rate.
func smoothingCoefficient(seconds float64, sampleRate int) float64 {
	if seconds <= 0 {
		return 0
	}
	return math.Exp(-1 / (seconds * float64(sampleRate)))
}

// detectorDB floors the level so silence does not drive the log to -Inf.
func detectorDB(linear float64) float64 {
	return 20 * math.Log10(math.Max(linear, 1e-12))
}

func (c *SoftKneeCompressor) Kind() tahti.InsertKind { return tahti.InsertCompressor }

func (c *SoftKneeCompressor) Process(buffer tahti.AudioBuffer) {
	frames := buffer.Frames()
	lower := c.thresholdDB - c.kneeDB/2
	upper := c.thresholdDB + c.kneeDB/2
	for i := 0; i < frames; i++ {
		var detector float64
		for _, ch := range buffer {
			if v := math.Abs(float64(ch[i])); v > detector {
				detector = v
			}
		}
		coeff := c.release
		if detector > c.envelope {
			coeff = c.attack
		}
		c.envelope += (detector - c.envelope) * (1 - coeff)
		level := detectorDB(c.envelope)
		var target float64
		switch {
		case level < lower:
			target = 0
		case level <= upper:
			delta := level - lower
			target = (1/c.ratio - 1) * delta * delta / (2 * c.kneeDB)
		default:
			target = c.thresholdDB + (level-c.thresholdDB)/c.ratio - level
		}
		c.gainDB += (target - c.gainDB) * (1 - coeff)
		gain := float32(math.Pow(10, (c.gainDB+c.makeupDB)/20))
		for _, ch := range buffer {
			ch[i] *= gain
		}
	}
}
