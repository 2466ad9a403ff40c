package bridge

import (
	"fmt"
	"math"
	"sort"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/engine"
	"github.com/tahti-studio/tahti/mixer"
)

type (
	// contribution is one lane point after scaling: the lane it came
	// from, the plain value written in the pattern and the value mapped
	// into the parameter's range.
	contribution struct {
		lane     *laneSpec
		source   float64
		resolved float64
	}

	// resolveKey identifies one automation target at one moment. Lanes
	// whose points share a key collide, and their contributions are
	// averaged.
	resolveKey struct {
		target    string
		parameter string
		beat      float64
	}

	group struct {
		key           resolveKey
		contributions []contribution
	}
)

// resolveLanes turns the pattern's automation lanes into scheduled engine
// and mixer events. Points from different lanes landing on the same
// (target, parameter, beat) are averaged, and a lane asking for smoothing
// expands its targets into linear ramp segments. Every application is
// logged; the returned records are sorted by beat.
func resolveLanes(eng *engine.Engine, graph *mixer.Graph, lanes []tahti.AutomationLane, tempo tahti.TempoMap) ([]AutomationRecord, error) {
	specs := make([]laneSpec, len(lanes))
	pspecs := make([]tahti.ParameterSpec, len(lanes))
	for i, lane := range lanes {
		spec, err := parseLane(i, lane.Name)
		if err != nil {
			return nil, err
		}
		if pspecs[i], err = targetSpec(eng, graph, spec); err != nil {
			return nil, fmt.Errorf("lane %q: %w", lane.Name, err)
		}
		specs[i] = spec
	}

	groups := map[resolveKey]int{}
	var ordered []group
	for i, lane := range lanes {
		spec := &specs[i]
		for _, point := range lane.Points {
			if point.Beat < 0 || math.IsNaN(point.Beat) || math.IsInf(point.Beat, 0) {
				return nil, fmt.Errorf("%w: lane %q has a point at beat %v", tahti.ErrInvalidLaneMetadata, lane.Name, point.Beat)
			}
			key := resolveKey{target: spec.target, parameter: spec.parameter, beat: point.Beat}
			idx, ok := groups[key]
			if !ok {
				idx = len(ordered)
				groups[key] = idx
				ordered = append(ordered, group{key: key})
			}
			ordered[idx].contributions = append(ordered[idx].contributions, contribution{
				lane:     spec,
				source:   point.Value,
				resolved: spec.mapValue(point.Value, pspecs[i]),
			})
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].key.beat < ordered[j].key.beat })

	previous := map[string]float64{} // last resolved value per target.parameter
	var records []AutomationRecord
	for _, g := range ordered {
		var sourceSum, resolvedSum float64
		sources := make([]string, 0, len(g.contributions))
		var smoother *laneSpec
		for _, c := range g.contributions {
			sourceSum += c.source
			resolvedSum += c.resolved
			sources = append(sources, c.lane.name)
			if smoother == nil && c.lane.smoothing {
				smoother = c.lane
			}
		}
		n := float64(len(g.contributions))
		sourceMean, target := sourceSum/n, resolvedSum/n
		prevKey := g.key.target + "." + g.key.parameter
		prev, known := previous[prevKey]
		if !known {
			prev = currentValue(eng, graph, g.contributions[0].lane, pspecs[g.contributions[0].lane.index])
		}
		if smoother == nil {
			if err := scheduleResolved(eng, graph, g.contributions[0].lane, tempo, g.key.beat, target); err != nil {
				return nil, err
			}
			records = append(records, AutomationRecord{
				Target:        g.key.target,
				Parameter:     g.key.parameter,
				Beat:          g.key.beat,
				SourceValue:   sourceMean,
				ResolvedValue: target,
				Lane:          g.contributions[0].lane.name,
				Sources:       sources,
			})
		} else {
			window := smoothingWindowBeats(*smoother, tempo, g.key.beat)
			segments := smoother.smoothSegments
			if segments == 0 {
				segments = defaultSegments(window, tempo, g.key.beat, eng.Config())
			}
			for k := 1; k <= segments; k++ {
				value := prev + (target-prev)*float64(k)/float64(segments)
				beat := g.key.beat + window*float64(k)/float64(segments)
				if err := scheduleResolved(eng, graph, smoother, tempo, beat, value); err != nil {
					return nil, err
				}
				records = append(records, AutomationRecord{
					Target:        g.key.target,
					Parameter:     g.key.parameter,
					Beat:          beat,
					SourceValue:   sourceMean,
					ResolvedValue: value,
					Lane:          smoother.name,
					Sources:       sources,
					Smoothing: &SmoothingInfo{
						Lane:        smoother.name,
						WindowBeats: window,
						Strategy:    "linear",
						Segments:    segments,
						Segment:     k,
					},
				})
			}
		}
		previous[prevKey] = target
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Beat < records[j].Beat })
	return records, nil
}

// targetSpec resolves the parameter spec a lane writes through, failing
// when the lane addresses something the engine or the mixer does not have.
func targetSpec(eng *engine.Engine, graph *mixer.Graph, spec laneSpec) (tahti.ParameterSpec, error) {
	if spec.mixer {
		if graph == nil {
			return tahti.ParameterSpec{}, fmt.Errorf("%w: no mixer declared", tahti.ErrUnknownBus)
		}
		if err := graph.ValidateTarget(spec.scope, spec.strip, spec.parameter); err != nil {
			return tahti.ParameterSpec{}, err
		}
		return mixer.AutomationSpec(spec.scope, spec.parameter)
	}
	m, ok := eng.Module(spec.target)
	if !ok {
		return tahti.ParameterSpec{}, fmt.Errorf("%w: %q", tahti.ErrUnknownModule, spec.target)
	}
	for _, p := range m.Parameters() {
		if p.Name == spec.parameter {
			return p, nil
		}
	}
	return tahti.ParameterSpec{}, fmt.Errorf("%w: module %q has no parameter %q", tahti.ErrUnknownParameter, spec.target, spec.parameter)
}

// currentValue reads the value a smoothing ramp starts from when the lane
// has not written the parameter yet: the module's live value, or the
// parameter default for mixer strips.
func currentValue(eng *engine.Engine, graph *mixer.Graph, spec *laneSpec, pspec tahti.ParameterSpec) float64 {
	if !spec.mixer {
		if m, ok := eng.Module(spec.target); ok {
			if v, ok := m.Parameter(spec.parameter); ok {
				return v
			}
		}
		return pspec.Default
	}
	if graph == nil {
		return pspec.Default
	}
	switch spec.scope {
	case "channel":
		if ch, ok := graph.Channel(spec.strip); ok {
			switch spec.parameter {
			case "fader_db":
				return ch.FaderDB()
			case "pan":
				return ch.Pan()
			}
		}
	case "subgroup":
		if sg, ok := graph.Subgroup(spec.strip); ok {
			if spec.parameter == "fader_db" {
				return sg.FaderDB()
			}
		}
	case "return":
		if r, ok := graph.Return(spec.strip); ok {
			return r.LevelDB()
		}
	}
	return pspec.Default
}

func scheduleResolved(eng *engine.Engine, graph *mixer.Graph, spec *laneSpec, tempo tahti.TempoMap, beat, value float64) error {
	source := "lane:" + spec.name
	if spec.mixer {
		return graph.Schedule(spec.scope, spec.strip, spec.parameter, tempo.BeatsToSeconds(beat), value, source)
	}
	return eng.Schedule(spec.target, spec.parameter, beat, value, source)
}

// smoothingWindowBeats converts a smoothing duration to beats at the
// position of the smoothed event, so ms windows stay ms wide across tempo
// changes.
func smoothingWindowBeats(spec laneSpec, tempo tahti.TempoMap, beat float64) float64 {
	switch spec.smoothUnit {
	case smoothMilliseconds:
		return tempo.SecondsToBeats(tempo.BeatsToSeconds(beat)+spec.smoothAmount/1000) - beat
	case smoothSeconds:
		return tempo.SecondsToBeats(tempo.BeatsToSeconds(beat)+spec.smoothAmount) - beat
	}
	return spec.smoothAmount
}

// defaultSegments derives a segment count from the window: roughly one
// segment per rendered block, with at least three so even short windows
// ramp instead of jumping. The window is measured at its beat position,
// mirroring smoothingWindowBeats, so tempo changes don't skew the count.
func defaultSegments(windowBeats float64, tempo tahti.TempoMap, beat float64, config tahti.EngineConfig) int {
	seconds := tempo.BeatsToSeconds(beat+windowBeats) - tempo.BeatsToSeconds(beat)
	blocks := int(math.Ceil(seconds * float64(config.SampleRate) / float64(config.BlockSize)))
	if blocks < 3 {
		return 3
	}
	if blocks > 64 {
		return 64
	}
	return blocks
}
