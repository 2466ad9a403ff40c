package tahti_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/tahti-studio/tahti"
)

func TestAudioBufferLayout(t *testing.T) {
	buf := tahti.NewAudioBuffer(2, 4)
	if buf.Channels() != 2 || buf.Frames() != 4 {
		t.Fatalf("got %v channels x %v frames, want 2x4", buf.Channels(), buf.Frames())
	}
	for f := 0; f < 4; f++ {
		buf[0][f] = float32(f)
		buf[1][f] = float32(-f)
	}
	inter := buf.Interleaved()
	want := []float32{0, 0, 1, -1, 2, -2, 3, -3}
	for i, s := range want {
		if inter[i] != s {
			t.Fatalf("interleaved[%v] = %v, want %v", i, inter[i], s)
		}
	}
	view := buf.Slice(2)
	view[0][0] = 42
	if buf[0][0] != 42 {
		t.Fatal("Slice should share samples with the receiver")
	}
	clone := buf.Copy()
	clone[0][0] = 7
	if buf[0][0] != 42 {
		t.Fatal("Copy should not share samples with the receiver")
	}
}

func TestAudioBufferArithmetic(t *testing.T) {
	a := tahti.NewAudioBuffer(1, 3)
	b := tahti.NewAudioBuffer(1, 3)
	copy(a[0], []float32{1, 2, 3})
	copy(b[0], []float32{10, 20, 30})
	a.Add(b)
	a.Scale(0.5)
	for i, want := range []float32{5.5, 11, 16.5} {
		if a[0][i] != want {
			t.Fatalf("frame %v = %v, want %v", i, a[0][i], want)
		}
	}
	a.Zero()
	for i, s := range a[0] {
		if s != 0 {
			t.Fatalf("Zero left frame %v = %v", i, s)
		}
	}
}

func TestDecibelConversions(t *testing.T) {
	for _, c := range []struct{ db, linear float64 }{
		{0, 1},
		{20, 10},
		{-20, 0.1},
		{6.020599913279624, 2},
	} {
		if got := tahti.DBToLinear(c.db); math.Abs(got-c.linear) > 1e-12 {
			t.Errorf("DBToLinear(%v) = %v, want %v", c.db, got, c.linear)
		}
		if got := tahti.LinearToDB(c.linear); math.Abs(got-c.db) > 1e-9 {
			t.Errorf("LinearToDB(%v) = %v, want %v", c.linear, got, c.db)
		}
	}
	if tahti.DBToLinear(math.Inf(-1)) != 0 {
		t.Error("minus infinity dB should be silence")
	}
	if !math.IsInf(tahti.LinearToDB(0), -1) {
		t.Error("zero gain should be minus infinity dB")
	}
}

func TestWavHeaderFloat32(t *testing.T) {
	samples := []float32{0, 0.25, -0.25, 1, -1, 0.5, -0.5, 0}
	wav, err := tahti.Wav(samples, 48000, 2, false)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint16(wav[20:]); got != 3 {
		t.Fatalf("wave format = %v, want 3 (IEEE float)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:]); got != 2 {
		t.Fatalf("channel count = %v, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 48000 {
		t.Fatalf("sample rate = %v, want 48000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:]); got != 32 {
		t.Fatalf("bits per sample = %v, want 32", got)
	}
	// fmt is 18 bytes with the extension, then the fact chunk, then data
	if string(wav[46:50]) != "data" {
		t.Fatalf("data chunk not at the expected offset, got %q", wav[46:50])
	}
	if got := binary.LittleEndian.Uint32(wav[50:]); got != uint32(4*len(samples)) {
		t.Fatalf("data chunk size = %v, want %v", got, 4*len(samples))
	}
	if len(wav) != 54+4*len(samples) {
		t.Fatalf("file length = %v, want %v", len(wav), 54+4*len(samples))
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(wav[58:])); got != 0.25 {
		t.Fatalf("second sample = %v, want 0.25", got)
	}
}

func TestWavHeaderPCM16(t *testing.T) {
	samples := []float32{0, 1, -1, 0.5}
	wav, err := tahti.Wav(samples, 44100, 1, true)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	if got := binary.LittleEndian.Uint16(wav[20:]); got != 1 {
		t.Fatalf("wave format = %v, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:]); got != 16 {
		t.Fatalf("bits per sample = %v, want 16", got)
	}
	if string(wav[36:40]) != "data" {
		t.Fatalf("data chunk not at the expected offset, got %q", wav[36:40])
	}
	if len(wav) != 44+2*len(samples) {
		t.Fatalf("file length = %v, want %v", len(wav), 44+2*len(samples))
	}
}

func TestRawClampsPCM16(t *testing.T) {
	raw, err := tahti.Raw([]float32{2, -2}, true)
	if err != nil {
		t.Fatalf("Raw failed: %v", err)
	}
	if got := int16(binary.LittleEndian.Uint16(raw[0:])); got != math.MaxInt16 {
		t.Fatalf("overdriven sample = %v, want %v", got, math.MaxInt16)
	}
	if got := int16(binary.LittleEndian.Uint16(raw[2:])); got != math.MinInt16 {
		t.Fatalf("underdriven sample = %v, want %v", got, math.MinInt16)
	}
}
