package meter_test

import (
	"math"
	"testing"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/meter"
)

// sineBuffer fills every channel with an integer number of full cycles so
// the RMS comes out exactly amplitude/sqrt(2).
func sineBuffer(channels, frames, cycles int, amplitude float64) tahti.AudioBuffer {
	buf := tahti.NewAudioBuffer(channels, frames)
	for c := 0; c < channels; c++ {
		for i := 0; i < frames; i++ {
			phase := 2 * math.Pi * float64(cycles) * float64(i) / float64(frames)
			buf[c][i] = float32(amplitude * math.Sin(phase))
		}
	}
	return buf
}

func TestRMSOfSine(t *testing.T) {
	buf := sineBuffer(1, 4800, 10, 0.5)
	rms := meter.RMSPerChannel(buf)
	if len(rms) != 1 {
		t.Fatalf("expected one channel, got %v", len(rms))
	}
	want := 0.5 / math.Sqrt2
	if math.Abs(rms[0]-want) > 1e-3 {
		t.Fatalf("sine rms %v, want %v", rms[0], want)
	}
	db := meter.ChannelRMSDBFS(buf)
	wantDB := 20 * math.Log10(want)
	if math.Abs(db[0]-wantDB) > 1e-2 {
		t.Fatalf("sine rms %v dBFS, want %v", db[0], wantDB)
	}
}

func TestPeakDB(t *testing.T) {
	buf := sineBuffer(2, 4800, 10, 0.5)
	got := meter.PeakDB(buf)
	want := 20 * math.Log10(0.5)
	if math.Abs(got-want) > 1e-3 {
		t.Fatalf("peak %v dB, want %v", got, want)
	}
}

func TestSilenceReadsMinusInf(t *testing.T) {
	buf := tahti.NewAudioBuffer(2, 256)
	if got := meter.PeakDB(buf); !math.IsInf(got, -1) {
		t.Fatalf("peak of silence should be -Inf, got %v", got)
	}
	if got := meter.IntegratedLUFS(buf, 48000); !math.IsInf(got, -1) {
		t.Fatalf("loudness of silence should be -Inf, got %v", got)
	}
	if got := meter.IntegratedLUFS(tahti.AudioBuffer{}, 48000); !math.IsInf(got, -1) {
		t.Fatalf("loudness of an empty buffer should be -Inf, got %v", got)
	}
}

func TestRMSDBFSFloorsSilence(t *testing.T) {
	if got := meter.RMSDBFS(0, 1); math.Abs(got-(-180)) > 1e-9 {
		t.Fatalf("floored rms should read -180 dB, got %v", got)
	}
	if got := meter.RMSDBFS(0, 0); got != 0 {
		t.Fatalf("silence against a silent reference should read 0 dB, got %v", got)
	}
}

func TestIntegratedLUFSCalibration(t *testing.T) {
	// A full scale 997 Hz sine is the BS.1770 calibration signal; one
	// channel of it should read close to -3.01 LUFS at 48 kHz.
	buf := sineBuffer(1, 48000, 997, 1)
	got := meter.IntegratedLUFS(buf, 48000)
	if math.Abs(got-(-3.01)) > 0.3 {
		t.Fatalf("997 Hz sine reads %v LUFS, want about -3.01", got)
	}
}

func TestIntegratedLUFSFallbackRate(t *testing.T) {
	// At rates without tabulated filters the signal is weighted by
	// sqrt(2), so a full scale sine has unit mean power.
	buf := sineBuffer(1, 44100, 100, 1)
	got := meter.IntegratedLUFS(buf, 44100)
	if math.Abs(got-(-0.691)) > 1e-2 {
		t.Fatalf("fallback loudness %v LUFS, want about -0.691", got)
	}
}

func TestNewReadingCombinesChannels(t *testing.T) {
	buf := sineBuffer(2, 4800, 10, 0.5)
	for i := range buf[1] {
		buf[1][i] = 0
	}
	reading := meter.NewReading(buf)
	if math.Abs(reading.PeakDB-20*math.Log10(0.5)) > 1e-3 {
		t.Fatalf("reading peak %v dB, want %v", reading.PeakDB, 20*math.Log10(0.5))
	}
	// Power averages across channels: 0.125 on the left, 0 on the right.
	want := 20 * math.Log10(0.25)
	if math.Abs(reading.RMSDB-want) > 1e-2 {
		t.Fatalf("reading rms %v dB, want %v", reading.RMSDB, want)
	}
}
