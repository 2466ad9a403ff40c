// Package mixer implements the signal flow of the workstation: channel
// strips feeding subgroups, send effect returns and the master bus, with
// insert chains and level metering on every stage.
//
// The graph processes audio block by block. Parameter changes can be
// scheduled on a timeline in seconds; a change is applied at the first
// block boundary at or after its scheduled time, so a render is
// deterministic for a given schedule regardless of block size.
package mixer

import (
	"fmt"

	"github.com/tahti-studio/tahti"
)

// Insert is an effect that processes audio in place within a strip's
// insert chain.
type Insert interface {
	Kind() tahti.InsertKind
	Process(buffer tahti.AudioBuffer)
}

// NewInsert builds the insert effect described by config. Parameters
// missing from config.Params fall back to the effect's defaults.
func NewInsert(config tahti.InsertConfig, sampleRate, channels int) (Insert, error) {
	switch config.Kind {
	case tahti.InsertThreeBandEQ:
		return NewThreeBandEQ(config.Params, sampleRate, channels), nil
	case tahti.InsertCompressor:
		return NewSoftKneeCompressor(config.Params, sampleRate), nil
	case tahti.InsertDelay:
		return NewStereoFeedbackDelay(config.Params, sampleRate, channels), nil
	case tahti.InsertReverb:
		return NewPlateReverb(config.Params, sampleRate, channels), nil
	}
	return nil, fmt.Errorf("%w: unknown insert kind %v", tahti.ErrInvalidConfig, int(config.Kind))
}

func insertParam(params map[string]float64, name string, def float64) float64 {
	if value, ok := params[name]; ok {
		return value
	}
	return def
}

func buildInserts(configs []tahti.InsertConfig, sampleRate, channels int) ([]Insert, error) {
	out := make([]Insert, 0, len(configs))
	for _, c := range configs {
		insert, err := NewInsert(c, sampleRate, channels)
		if err != nil {
			return nil, err
		}
		out = append(out, insert)
	}
	return out, nil
}
