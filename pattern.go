package tahti

import (
	"fmt"
	"math"
)

type (
	// Pattern is a fixed length sequence of tracker steps, together with the
	// automation lanes recorded alongside them. LengthSteps may exceed
	// len(Steps), in which case the missing steps read as empty; this keeps
	// short yaml files short while the musical length stays explicit.
	Pattern struct {
		Name         string           `yaml:",omitempty"`
		StepsPerBeat int              `yaml:",omitempty"`
		LengthSteps  int              `yaml:",omitempty"`
		Steps        []PatternStep    `yaml:",omitempty"`
		Lanes        []AutomationLane `yaml:",omitempty"`
	}

	// PatternStep is one row of a pattern. A zero Note means the row is
	// empty and a zero Velocity plays at the default velocity of 100. The
	// Instrument id may be empty, in which case the step plays the first
	// instrument of the project. Effects carries per step overrides, e.g.
	// length_beats to hold a note past its row.
	PatternStep struct {
		Note       int                `yaml:",omitempty"`
		Velocity   int                `yaml:",omitempty"`
		Instrument string             `yaml:",omitempty"`
		Effects    map[string]float64 `yaml:",omitempty"`
	}

	// AutomationLane is a named series of automation points. The name
	// carries the target and the optional scaling, curve and smoothing
	// metadata:
	//
	//	module.parameter[|scaling][|range=min:max][|curve=name[:intensity]][|smooth=duration[:segments]]
	//
	// where scaling is normalized, percent or raw. Lanes addressing the
	// mixer use mixer:scope:name in place of the module id.
	AutomationLane struct {
		Name   string            `yaml:",omitempty"`
		Points []AutomationPoint `yaml:",omitempty"`
	}

	// AutomationPoint sets an automation value at a beat position.
	AutomationPoint struct {
		Beat  float64
		Value float64
	}

	// StepGrid maps between tracker step indices and beats, at a fixed
	// resolution of steps per beat.
	StepGrid int
)

func (p Pattern) Copy() Pattern {
	steps := make([]PatternStep, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = s.Copy()
	}
	lanes := make([]AutomationLane, len(p.Lanes))
	for i, l := range p.Lanes {
		lanes[i] = l.Copy()
	}
	ret := p
	ret.Steps, ret.Lanes = steps, lanes
	return ret
}

func (p Pattern) Validate() error {
	if err := p.Grid().Validate(); err != nil {
		return err
	}
	if p.LengthSteps < 0 {
		return fmt.Errorf("%w: pattern length should be >= 0, got %d", ErrInvalidConfig, p.LengthSteps)
	}
	for i, s := range p.Steps {
		if s.Note < 0 || s.Note > 127 {
			return fmt.Errorf("%w: step %d note %d outside 0..127", ErrInvalidConfig, i, s.Note)
		}
		if s.Velocity < 0 || s.Velocity > 127 {
			return fmt.Errorf("%w: step %d velocity %d outside 0..127", ErrInvalidConfig, i, s.Velocity)
		}
	}
	return nil
}

// Length returns the pattern length in steps, counting the implicit empty
// steps at the end.
func (p Pattern) Length() int {
	if p.LengthSteps > len(p.Steps) {
		return p.LengthSteps
	}
	return len(p.Steps)
}

// Step returns the step at index, with indices outside Steps reading as
// empty steps.
func (p Pattern) Step(index int) PatternStep {
	if index < 0 || index >= len(p.Steps) {
		return PatternStep{}
	}
	return p.Steps[index]
}

func (p Pattern) Grid() StepGrid { return StepGrid(p.StepsPerBeat) }

// DurationBeats returns the musical length of the pattern.
func (p Pattern) DurationBeats() float64 {
	return p.Grid().StepsToBeats(float64(p.Length()))
}

func (s PatternStep) Copy() PatternStep {
	ret := s
	if s.Effects != nil {
		ret.Effects = make(map[string]float64, len(s.Effects))
		for k, v := range s.Effects {
			ret.Effects[k] = v
		}
	}
	return ret
}

// Empty returns whether the step triggers no note.
func (s PatternStep) Empty() bool { return s.Note == 0 }

// VelocityOrDefault returns the velocity of the step, with unset velocities
// playing at 100.
func (s PatternStep) VelocityOrDefault() int {
	if s.Velocity == 0 {
		return 100
	}
	return s.Velocity
}

// Effect returns the named effect value, or def when the step does not
// carry that effect.
func (s PatternStep) Effect(name string, def float64) float64 {
	if v, ok := s.Effects[name]; ok {
		return v
	}
	return def
}

func (l AutomationLane) Copy() AutomationLane {
	points := make([]AutomationPoint, len(l.Points))
	copy(points, l.Points)
	return AutomationLane{Name: l.Name, Points: points}
}

func (g StepGrid) Validate() error {
	if g <= 0 {
		return fmt.Errorf("%w: steps per beat should be > 0, got %d", ErrInvalidConfig, int(g))
	}
	return nil
}

// StepToBeat returns the beat position of a step index.
func (g StepGrid) StepToBeat(index int) float64 {
	return float64(index) / float64(g)
}

// BeatToStep returns the step index closest to a beat position. It is the
// inverse of StepToBeat for whole step indices.
func (g StepGrid) BeatToStep(beat float64) int {
	return int(math.Round(beat * float64(g)))
}

// StepsToBeats converts a step count to beats, clamping negative counts to
// zero.
func (g StepGrid) StepsToBeats(steps float64) float64 {
	if steps < 0 {
		steps = 0
	}
	return steps / float64(g)
}
