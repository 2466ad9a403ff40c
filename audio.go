package tahti

import (
	"math"

	"github.com/viterin/vek/vek32"
)

type (
	// AudioBuffer is a planar block of float32 audio: one sample slice per
	// channel, all the same length. Buffers made with NewAudioBuffer share a
	// single backing array so a block stays contiguous in memory.
	AudioBuffer [][]float32

	// AudioSink accepts interleaved float32 samples e.g. for playing them
	// out of the speakers or writing them to a file.
	AudioSink interface {
		WriteAudio(buffer []float32) error
		Close() error
	}

	// AudioContext is the audio output of the system, giving out sinks that
	// play whatever is written to them.
	AudioContext interface {
		Output() AudioSink
		Close() error
	}
)

// NewAudioBuffer returns a zeroed planar buffer with the given number of
// channels, each holding frames samples.
func NewAudioBuffer(channels, frames int) AudioBuffer {
	backing := make([]float32, channels*frames)
	buf := make(AudioBuffer, channels)
	for i := range buf {
		buf[i] = backing[i*frames : (i+1)*frames : (i+1)*frames]
	}
	return buf
}

func (b AudioBuffer) Channels() int { return len(b) }

func (b AudioBuffer) Frames() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Slice returns a view of the first frames frames of every channel, sharing
// the underlying samples with the receiver.
func (b AudioBuffer) Slice(frames int) AudioBuffer {
	out := make(AudioBuffer, len(b))
	for i, ch := range b {
		out[i] = ch[:frames]
	}
	return out
}

func (b AudioBuffer) Copy() AudioBuffer {
	out := NewAudioBuffer(b.Channels(), b.Frames())
	for i, ch := range b {
		copy(out[i], ch)
	}
	return out
}

// CopyFrom overwrites b with the samples of src. The buffers must have the
// same shape.
func (b AudioBuffer) CopyFrom(src AudioBuffer) {
	for i, ch := range b {
		copy(ch, src[i])
	}
}

func (b AudioBuffer) Zero() {
	for _, ch := range b {
		vek32.Zeros_Into(ch, len(ch))
	}
}

// Add accumulates the samples of src into b. The buffers must have the same
// shape.
func (b AudioBuffer) Add(src AudioBuffer) {
	for i, ch := range b {
		vek32.Add_Inplace(ch, src[i])
	}
}

// Scale multiplies every sample of b by gain.
func (b AudioBuffer) Scale(gain float32) {
	for _, ch := range b {
		vek32.MulNumber_Inplace(ch, gain)
	}
}

// Interleaved returns the samples in frame major order (L R L R ...), the
// layout sinks and file exports expect.
func (b AudioBuffer) Interleaved() []float32 {
	channels, frames := b.Channels(), b.Frames()
	out := make([]float32, channels*frames)
	for c, ch := range b {
		for f, s := range ch {
			out[f*channels+c] = s
		}
	}
	return out
}

// DBToLinear converts a decibel gain to a linear multiplier, with minus
// infinity mapping to zero.
func DBToLinear(db float64) float64 {
	if math.IsInf(db, -1) {
		return 0
	}
	return math.Pow(10, db/20)
}

// LinearToDB converts a linear gain to decibels, with zero and negative
// values mapping to minus infinity.
func LinearToDB(linear float64) float64 {
	if linear <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(linear)
}
