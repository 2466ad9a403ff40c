package bridge

import (
	"errors"
	"math"
	"testing"

	"github.com/tahti-studio/tahti"
)

var cutoffSpec = tahti.ParameterSpec{Name: "cutoff_hz", Default: 4000, Min: 20, Max: 20000, Unit: "Hz"}

func TestParseLaneDefaultsToNormalized(t *testing.T) {
	spec, err := parseLane(0, "lp.cutoff_hz")
	if err != nil {
		t.Fatalf("parseLane failed: %v", err)
	}
	if spec.scaling != scalingNormalized {
		t.Fatalf("expected normalized scaling by default, got %v", spec.scaling)
	}
	if got := spec.mapValue(1, cutoffSpec); got != 20000 {
		t.Fatalf("normalized 1 should map onto the parameter maximum, got %v", got)
	}
	if got := spec.mapValue(0, cutoffSpec); got != 20 {
		t.Fatalf("normalized 0 should map onto the parameter minimum, got %v", got)
	}
}

func TestParseLaneMetadata(t *testing.T) {
	spec, err := parseLane(0, "lp.cutoff_hz|percent|range=100:10000|curve=exp:3|smooth=10ms:5")
	if err != nil {
		t.Fatalf("parseLane failed: %v", err)
	}
	if spec.scaling != scalingPercent || !spec.hasRange || spec.curve != curveExponential {
		t.Fatalf("metadata not picked up: %+v", spec)
	}
	if spec.rangeMin != 100 || spec.rangeMax != 10000 {
		t.Fatalf("range parsed as %v..%v", spec.rangeMin, spec.rangeMax)
	}
	if !spec.smoothing || spec.smoothUnit != smoothMilliseconds || spec.smoothAmount != 10 || spec.smoothSegments != 5 {
		t.Fatalf("smoothing parsed as %+v", spec)
	}
	if got := spec.mapValue(100, cutoffSpec); got != 10000 {
		t.Fatalf("percent 100 should map onto the range maximum, got %v", got)
	}
}

func TestParseLaneMixerTarget(t *testing.T) {
	spec, err := parseLane(0, "mixer:channel:drums:send:verb|raw")
	if err != nil {
		t.Fatalf("parseLane failed: %v", err)
	}
	if !spec.mixer || spec.scope != "channel" || spec.strip != "drums" || spec.parameter != "send:verb" {
		t.Fatalf("mixer target parsed as %+v", spec)
	}
}

func TestParseLaneRejectsGarbage(t *testing.T) {
	for _, name := range []string{
		"noparameter",
		"lp.cutoff_hz|warble",
		"lp.cutoff_hz|curve=wiggle",
		"lp.cutoff_hz|range=20",
		"lp.cutoff_hz|smooth=abc",
		"lp.cutoff_hz|raw|raw",
		"mixer:channel.fader_db",
	} {
		if _, err := parseLane(0, name); !errors.Is(err, tahti.ErrInvalidLaneMetadata) {
			t.Errorf("lane %q: expected ErrInvalidLaneMetadata, got %v", name, err)
		}
	}
}

func TestCurvesAreMonotonicWithinUnitInterval(t *testing.T) {
	for _, name := range []string{"lp.cutoff_hz|curve=exp", "lp.cutoff_hz|curve=log:3", "lp.cutoff_hz|curve=s_curve:2"} {
		spec, err := parseLane(0, name)
		if err != nil {
			t.Fatalf("parseLane(%q) failed: %v", name, err)
		}
		prev := math.Inf(-1)
		for i := 0; i <= 100; i++ {
			v := spec.applyCurve(float64(i) / 100)
			if v < 0 || v > 1 {
				t.Fatalf("%q leaves the unit interval at %v: %v", name, i, v)
			}
			if v < prev {
				t.Fatalf("%q is not monotonic at %v: %v < %v", name, i, v, prev)
			}
			prev = v
		}
	}
}

func TestRawRangeOverrideClamps(t *testing.T) {
	spec, err := parseLane(0, "lp.cutoff_hz|raw|range=100:5000")
	if err != nil {
		t.Fatalf("parseLane failed: %v", err)
	}
	if got := spec.mapValue(9000, cutoffSpec); got != 5000 {
		t.Fatalf("raw value should clamp to the range override, got %v", got)
	}
}
