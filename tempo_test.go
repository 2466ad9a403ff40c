package tahti_test

import (
	"errors"
	"math"
	"testing"

	"github.com/tahti-studio/tahti"
)

func TestTempoMapConversions(t *testing.T) {
	tempo := tahti.TempoMap{BPM: 120, Changes: []tahti.TempoChange{{Beat: 4, BPM: 60}}}
	if err := tempo.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	for _, c := range []struct {
		beats, seconds float64
	}{
		{0, 0},
		{1, 0.5},
		{4, 2},   // the tempo change lands here
		{6, 4},   // 2s at 120 BPM, then 2 beats at 60 BPM
		{4.5, 2.5},
	} {
		if got := tempo.BeatsToSeconds(c.beats); math.Abs(got-c.seconds) > 1e-9 {
			t.Errorf("BeatsToSeconds(%v) = %v, want %v", c.beats, got, c.seconds)
		}
		if got := tempo.SecondsToBeats(c.seconds); math.Abs(got-c.beats) > 1e-9 {
			t.Errorf("SecondsToBeats(%v) = %v, want %v", c.seconds, got, c.beats)
		}
	}
}

func TestTempoMapRoundTrip(t *testing.T) {
	tempo := tahti.TempoMap{BPM: 97.3, Changes: []tahti.TempoChange{{Beat: 3.25, BPM: 141}, {Beat: 9, BPM: 80}}}
	for beats := 0.0; beats < 16; beats += 0.37 {
		back := tempo.SecondsToBeats(tempo.BeatsToSeconds(beats))
		if math.Abs(back-beats) > 1e-9 {
			t.Fatalf("round trip of beat %v came back as %v", beats, back)
		}
	}
}

func TestBeatsToSamplesFloors(t *testing.T) {
	tempo := tahti.TempoMap{BPM: 127}
	// one beat at 127 BPM and 44.1 kHz is 20834.645... frames
	if got := tempo.BeatsToSamples(1, 44100); got != 20834 {
		t.Fatalf("BeatsToSamples(1) = %v, want 20834", got)
	}
	if got := tempo.SamplesToBeats(20834, 44100); got > 1 {
		t.Fatalf("the floored frame should not be past its beat, got beat %v", got)
	}
}

func TestTempoMapValidate(t *testing.T) {
	for _, c := range []tahti.TempoMap{
		{BPM: 0},
		{BPM: -10},
		{BPM: math.Inf(1)},
		{BPM: 120, Changes: []tahti.TempoChange{{Beat: 2, BPM: 0}}},
		{BPM: 120, Changes: []tahti.TempoChange{{Beat: -1, BPM: 60}}},
		{BPM: 120, Changes: []tahti.TempoChange{{Beat: 4, BPM: 60}, {Beat: 2, BPM: 90}}},
	} {
		if err := c.Validate(); !errors.Is(err, tahti.ErrInvalidTempo) {
			t.Errorf("expected ErrInvalidTempo for %+v, got %v", c, err)
		}
	}
}
