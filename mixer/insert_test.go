package mixer_test

import (
	"errors"
	"math"
	"testing"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/mixer"
)

func TestDelayEchoes(t *testing.T) {
	d := mixer.NewStereoFeedbackDelay(map[string]float64{"time_ms": 10, "feedback": 0.5, "mix": 0.5}, 48000, 1)
	buf := tahti.NewAudioBuffer(1, 1024)
	buf[0][0] = 1
	d.Process(buf)
	for _, c := range []struct {
		frame int
		want  float32
	}{
		{0, 0.5},
		{100, 0},
		{480, 0.5},
		{500, 0},
		{960, 0.25},
	} {
		if got := buf[0][c.frame]; got != c.want {
			t.Fatalf("frame %v = %v, want %v", c.frame, got, c.want)
		}
	}
}

func TestCompressorGainStages(t *testing.T) {
	loud := mixer.NewSoftKneeCompressor(nil, 48000)
	buf := tahti.NewAudioBuffer(1, 48000)
	for i := range buf[0] {
		buf[0][i] = 0.9
	}
	loud.Process(buf)
	last := float64(buf[0][len(buf[0])-1])
	if last >= 0.5 {
		t.Fatalf("signal over the threshold should be reduced, got %v", last)
	}
	// Converged gain: -18 + (level+18)/3 - level plus 3 dB of makeup.
	want := 0.9 * math.Pow(10, (-11.39+3)/20)
	if math.Abs(last-want) > 0.05 {
		t.Fatalf("compressed level %v, want about %v", last, want)
	}
	quiet := mixer.NewSoftKneeCompressor(nil, 48000)
	buf = tahti.NewAudioBuffer(1, 48000)
	for i := range buf[0] {
		buf[0][i] = 0.01
	}
	quiet.Process(buf)
	last = float64(buf[0][len(buf[0])-1])
	if last <= 0.0135 {
		t.Fatalf("signal under the threshold should only get makeup gain, got %v", last)
	}
	if math.Abs(last-0.01*math.Pow(10, 3.0/20)) > 0.002 {
		t.Fatalf("makeup level %v, want about %v", last, 0.01*math.Pow(10, 3.0/20))
	}
}

func TestEQZeroGainIsIdentity(t *testing.T) {
	eq := mixer.NewThreeBandEQ(nil, 48000, 1)
	buf := tahti.NewAudioBuffer(1, 256)
	for i := range buf[0] {
		buf[0][i] = float32(i%7) - 3
	}
	want := buf.Copy()
	eq.Process(buf)
	for i := range buf[0] {
		if buf[0][i] != want[0][i] {
			t.Fatalf("flat eq should not touch the signal, frame %v: %v != %v", i, buf[0][i], want[0][i])
		}
	}
}

func TestEQShelfGains(t *testing.T) {
	low := mixer.NewThreeBandEQ(map[string]float64{"low_gain_db": 6}, 48000, 1)
	buf := tahti.NewAudioBuffer(1, 48000)
	for i := range buf[0] {
		buf[0][i] = 1
	}
	low.Process(buf)
	want := math.Pow(10, 6.0/20)
	if got := float64(buf[0][len(buf[0])-1]); math.Abs(got-want) > 0.05 {
		t.Fatalf("low shelf at DC should settle at %v, got %v", want, got)
	}
	high := mixer.NewThreeBandEQ(map[string]float64{"high_gain_db": 12}, 48000, 1)
	buf = tahti.NewAudioBuffer(1, 48000)
	for i := range buf[0] {
		buf[0][i] = 1
	}
	high.Process(buf)
	if got := float64(buf[0][len(buf[0])-1]); math.Abs(got-1) > 0.05 {
		t.Fatalf("high shelf should leave DC alone, got %v", got)
	}
}

func TestReverbFirstReflection(t *testing.T) {
	r := mixer.NewPlateReverb(map[string]float64{"mix": 1}, 48000, 1)
	buf := tahti.NewAudioBuffer(1, 4800)
	buf[0][0] = 1
	r.Process(buf)
	if got := buf[0][100]; got != 0 {
		t.Fatalf("nothing should come out before the pre delay, got %v", got)
	}
	if got := buf[0][960]; got != 0 {
		t.Fatalf("the excitation enters the combs silently, got %v", got)
	}
	// Pre delay of 960 plus the shortest comb of 2064 samples, damped
	// once: (1-0.35)/4.
	want := 0.65 / 4
	if got := float64(buf[0][3024]); math.Abs(got-want) > 1e-3 {
		t.Fatalf("first reflection %v, want about %v", got, want)
	}
	var tail float32
	for _, s := range buf[0][3025:] {
		if a := float32(math.Abs(float64(s))); a > tail {
			tail = a
		}
	}
	if tail == 0 {
		t.Fatalf("reverb should keep ringing after the first reflection")
	}
}

func TestNewInsertRejectsUnknownKind(t *testing.T) {
	_, err := mixer.NewInsert(tahti.InsertConfig{Kind: tahti.InsertKind(99)}, 48000, 2)
	if !errors.Is(err, tahti.ErrInvalidConfig) {
		t.Fatalf("unknown insert kind should fail, got %v", err)
	}
}
