// Package meter measures audio levels: sample peaks, per channel RMS and
// an integrated loudness estimate with K-weighting. All results are in dB
// relative to full scale, with silence reported as -Inf rather than a
// floor value, so callers can format or clamp as they see fit.
package meter

import (
	"math"

	"github.com/viterin/vek/vek32"

	"github.com/tahti-studio/tahti"
)

// Reading is a combined level measurement over a single buffer.
type Reading struct {
	PeakDB float64
	RMSDB  float64
}

// NewReading measures the sample peak and the overall RMS of the buffer.
func NewReading(buffer tahti.AudioBuffer) Reading {
	rms := RMSPerChannel(buffer)
	var power float64
	for _, r := range rms {
		power += r * r
	}
	if len(rms) > 0 {
		power /= float64(len(rms))
	}
	return Reading{
		PeakDB: PeakDB(buffer),
		RMSDB:  RMSDBFS(math.Sqrt(power), 1),
	}
}

// PeakDB returns the largest absolute sample value in the buffer, in dBFS.
func PeakDB(buffer tahti.AudioBuffer) float64 {
	var peak float32
	scratch := make([]float32, buffer.Frames())
	for _, ch := range buffer {
		if len(ch) == 0 {
			continue
		}
		copy(scratch, ch)
		vek32.Abs_Inplace(scratch)
		if m := vek32.Max(scratch); m > peak {
			peak = m
		}
	}
	return tahti.LinearToDB(float64(peak))
}

// RMSPerChannel returns the linear RMS level of each channel.
func RMSPerChannel(buffer tahti.AudioBuffer) []float64 {
	out := make([]float64, buffer.Channels())
	scratch := make([]float32, buffer.Frames())
	for c, ch := range buffer {
		if len(ch) == 0 {
			continue
		}
		vek32.Mul_Into(scratch, ch, ch)
		out[c] = math.Sqrt(float64(vek32.Mean(scratch)))
	}
	return out
}

// RMSDBFS converts a linear RMS value to dB relative to the reference
// level. Both sides are floored at 1e-9 so that digital silence maps to
// 0 dB difference instead of NaN.
func RMSDBFS(rms, reference float64) float64 {
	return 20 * math.Log10(math.Max(rms, 1e-9)/math.Max(reference, 1e-9))
}

// ChannelRMSDBFS returns the RMS level of each channel in dBFS.
func ChannelRMSDBFS(buffer tahti.AudioBuffer) []float64 {
	rms := RMSPerChannel(buffer)
	out := make([]float64, len(rms))
	for i, r := range rms {
		out[i] = RMSDBFS(r, 1)
	}
	return out
}

// kWeight is one stage of the K-weighting chain, a biquad in transposed
// direct form II with the feedback coefficients already normalized.
type kWeight struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func (k *kWeight) process(x float64) float64 {
	y := k.b0*x + k.z1
	k.z1 = k.b1*x + k.z2 - k.a1*y
	k.z2 = k.b2*x - k.a2*y
	return y
}

// IntegratedLUFS estimates the integrated loudness of the buffer. The
// K-weighting coefficients are tabulated for 48 kHz; at other rates the
// filter stages are skipped and the signal is weighted by sqrt(2), which
// keeps the estimate within a dB or so for broadband material.
func IntegratedLUFS(buffer tahti.AudioBuffer, sampleRate int) float64 {
	if buffer.Channels() == 0 || buffer.Frames() == 0 {
		return math.Inf(-1)
	}
	var meanPower float64
	for _, ch := range buffer {
		var power float64
		if sampleRate == 48000 {
			pre := kWeight{
				b0: 1.53512485958697, b1: -2.69169618940638, b2: 1.19839281085285,
				a1: -1.69065929318241, a2: 0.73248077421585,
			}
			rlb := kWeight{
				b0: 1, b1: -2, b2: 1,
				a1: -1.99004745483398, a2: 0.99007225036621,
			}
			for _, s := range ch {
				y := rlb.process(pre.process(float64(s)))
				power += y * y
			}
		} else {
			for _, s := range ch {
				y := float64(s) * math.Sqrt2
				power += y * y
			}
		}
		meanPower += power / float64(len(ch))
	}
	meanPower /= float64(buffer.Channels())
	if meanPower <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(meanPower)
}
