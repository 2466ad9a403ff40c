package tahti

import (
	"fmt"
	"math"
)

type (
	// TempoMap converts between musical time in beats and wall clock time in
	// seconds. BPM is the tempo at beat zero and Changes lists the tempo
	// changes at later beats, in ascending beat order. A TempoMap never
	// changes while a render is in progress.
	TempoMap struct {
		BPM     float64       `yaml:",omitempty"`
		Changes []TempoChange `yaml:",omitempty"`
	}

	// TempoChange switches the song to a new tempo from Beat onwards.
	TempoChange struct {
		Beat float64
		BPM  float64
	}
)

func (t TempoMap) Copy() TempoMap {
	changes := make([]TempoChange, len(t.Changes))
	copy(changes, t.Changes)
	return TempoMap{BPM: t.BPM, Changes: changes}
}

func (t TempoMap) Validate() error {
	if !(t.BPM > 0) || math.IsInf(t.BPM, 0) {
		return fmt.Errorf("%w: BPM should be > 0, got %v", ErrInvalidTempo, t.BPM)
	}
	prev := math.Inf(-1)
	for _, c := range t.Changes {
		if !(c.BPM > 0) || math.IsInf(c.BPM, 0) {
			return fmt.Errorf("%w: BPM should be > 0, got %v at beat %v", ErrInvalidTempo, c.BPM, c.Beat)
		}
		if c.Beat < 0 || c.Beat <= prev {
			return fmt.Errorf("%w: tempo changes should be in ascending beat order", ErrInvalidTempo)
		}
		prev = c.Beat
	}
	return nil
}

// BeatsToSeconds returns the wall clock time at which the given beat
// position is reached.
func (t TempoMap) BeatsToSeconds(beats float64) float64 {
	seconds, prevBeat, bpm := 0.0, 0.0, t.BPM
	for _, c := range t.Changes {
		if beats <= c.Beat {
			break
		}
		seconds += (c.Beat - prevBeat) * 60 / bpm
		prevBeat, bpm = c.Beat, c.BPM
	}
	return seconds + (beats-prevBeat)*60/bpm
}

// SecondsToBeats returns the beat position reached at the given wall clock
// time. It is the inverse of BeatsToSeconds.
func (t TempoMap) SecondsToBeats(seconds float64) float64 {
	prevSeconds, prevBeat, bpm := 0.0, 0.0, t.BPM
	for _, c := range t.Changes {
		changeSeconds := prevSeconds + (c.Beat-prevBeat)*60/bpm
		if seconds <= changeSeconds {
			break
		}
		prevSeconds, prevBeat, bpm = changeSeconds, c.Beat, c.BPM
	}
	return prevBeat + (seconds-prevSeconds)*bpm/60
}

// BeatsToSamples returns the frame index a beat position falls on, always
// rounding down so an event never lands past its musical position.
func (t TempoMap) BeatsToSamples(beats float64, sampleRate int) int {
	return int(math.Floor(t.BeatsToSeconds(beats) * float64(sampleRate)))
}

// SamplesToBeats returns the beat position of a frame index.
func (t TempoMap) SamplesToBeats(frame int, sampleRate int) float64 {
	return t.SecondsToBeats(float64(frame) / float64(sampleRate))
}
