package mixer

import (
	"math"

	"github.com/tahti-studio/tahti"
)

// biquad is a second order section in transposed direct form II with
// separate state per audio channel. Coefficients are stored with a0
// already folded in.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     []float64
}

func newBiquad(channels int) *biquad {
	return &biquad{z1: make([]float64, channels), z2: make([]float64, channels)}
}

func (f *biquad) set(b0, b1, b2, a0, a1, a2 float64) {
	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

func (f *biquad) process(buffer tahti.AudioBuffer) {
	for c, ch := range buffer {
		if c >= len(f.z1) {
			break
		}
		z1, z2 := f.z1[c], f.z2[c]
		for i, s := range ch {
			x := float64(s)
			y := f.b0*x + z1
			z1 = f.b1*x + z2 - f.a1*y
			z2 = f.b2*x - f.a2*y
			ch[i] = float32(y)
		}
		f.z1[c], f.z2[c] = z1, z2
	}
}

// clampFrequency keeps a corner frequency usable at the sample rate.
func clampFrequency(freq float64, sampleRate int) float64 {
	nyquist := float64(sampleRate) / 2
	return math.Min(math.Max(freq, 10), nyquist-10)
}

func (f *biquad) lowShelf(freq, gainDB float64, sampleRate int) {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * clampFrequency(freq, sampleRate) / float64(sampleRate)
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / 2 * math.Sqrt2
	sqrtA := math.Sqrt(a)
	f.set(
		a*((a+1)-(a-1)*cos+2*sqrtA*alpha),
		2*a*((a-1)-(a+1)*cos),
		a*((a+1)-(a-1)*cos-2*sqrtA*alpha),
		(a+1)+(a-1)*cos+2*sqrtA*alpha,
		-2*((a-1)+(a+1)*cos),
		(a+1)+(a-1)*cos-2*sqrtA*alpha,
	)
}

func (f *biquad) peak(freq, gainDB, q float64, sampleRate int) {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * clampFrequency(freq, sampleRate) / float64(sampleRate)
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / (2 * math.Max(q, 1e-3))
	f.set(
		1+alpha*a,
		-2*cos,
		1-alpha*a,
		1+alpha/a,
		-2*cos,
		1-alpha/a,
	)
}

func (f *biquad) highShelf(freq, gainDB float64, sampleRate int) {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * clampFrequency(freq, sampleRate) / float64(sampleRate)
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / 2 * math.Sqrt2
	sqrtA := math.Sqrt(a)
	f.set(
		a*((a+1)+(a-1)*cos+2*sqrtA*alpha),
		-2*a*((a-1)+(a+1)*cos),
		a*((a+1)+(a-1)*cos-2*sqrtA*alpha),
		(a+1)-(a-1)*cos+2*sqrtA*alpha,
		2*((a-1)-(a+1)*cos),
		(a+1)-(a-1)*cos-2*sqrtA*alpha,
	)
}

// ThreeBandEQ runs a low shelf, a mid peak and a high shelf in series.
// Bands with negligible gain are left out of the chain entirely.
type ThreeBandEQ struct {
	bands []*biquad
}

func NewThreeBandEQ(params map[string]float64, sampleRate, channels int) *ThreeBandEQ {
	eq := &ThreeBandEQ{}
	if gain := insertParam(params, "low_gain_db", 0); math.Abs(gain) >= 1e-6 {
		band := newBiquad(channels)
		band.lowShelf(insertParam(params, "low_freq_hz", 160), gain, sampleRate)
		eq.bands = append(eq.bands, band)
	}
	if gain := insertParam(params, "mid_gain_db", 0); math.Abs(gain) >= 1e-6 {
		band := newBiquad(channels)
		q := math.Max(insertParam(params, "mid_q", 1), 0.1)
		band.peak(insertParam(params, "mid_freq_hz", 1200), gain, q, sampleRate)
		eq.bands = append(eq.bands, band)
	}
	if gain := insertParam(params, "high_gain_db", 0); math.Abs(gain) >= 1e-6 {
		band := newBiquad(channels)
		band.highShelf(insertParam(params, "high_freq_hz", 6000), gain, sampleRate)
		eq.bands = append(eq.bands, band)
	}
	return eq
}

func (eq *ThreeBandEQ) Kind() tahti.InsertKind { return tahti.InsertThreeBandEQ }

func (eq *ThreeBandEQ) Process(buffer tahti.AudioBuffer) {
	for _, band := range eq.bands {
		band.process(buffer)
	}
}
