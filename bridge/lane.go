package bridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tahti-studio/tahti"
)

type scalingMode int

const (
	scalingNormalized scalingMode = iota
	scalingRaw
	scalingPercent
)

type curveShape int

const (
	curveLinear curveShape = iota
	curveExponential
	curveLogarithmic
	curveSCurve
)

type smoothUnit int

const (
	smoothBeats smoothUnit = iota
	smoothMilliseconds
	smoothSeconds
)

// laneSpec is the parsed form of an automation lane name: the target,
// the parameter, and how the lane's plain point values map onto it.
//
// The grammar is the head "target.parameter" followed by metadata
// fields separated by pipes: a scaling word (raw, normalized, percent),
// range=min:max, curve=name[:intensity] and smooth=duration[:segments].
// Each field may appear once and anything unrecognized is an error, so
// a typo in a lane name fails loudly instead of silently playing the
// pattern without its automation.
type laneSpec struct {
	index     int
	name      string
	target    string
	mixer     bool
	scope     string
	strip     string
	parameter string

	scaling   scalingMode
	hasRange  bool
	rangeMin  float64
	rangeMax  float64
	curve     curveShape
	intensity float64

	smoothing      bool
	smoothAmount   float64
	smoothUnit     smoothUnit
	smoothSegments int
}

func parseLane(index int, name string) (laneSpec, error) {
	spec := laneSpec{index: index, name: name, intensity: math.NaN()}
	parts := strings.Split(name, "|")
	head := strings.TrimSpace(parts[0])
	if rest, isMixer := strings.CutPrefix(head, "mixer:"); isMixer {
		// the parameter may itself carry a colon (send:<bus>), so split
		// off exactly the scope and the strip name
		fields := strings.SplitN(rest, ":", 3)
		if len(fields) != 3 || fields[0] == "" || fields[1] == "" || fields[2] == "" {
			return spec, fmt.Errorf("%w: lane %q needs the form mixer:scope:name:parameter", tahti.ErrInvalidLaneMetadata, name)
		}
		spec.mixer = true
		spec.scope = fields[0]
		spec.strip = fields[1]
		spec.parameter = fields[2]
		spec.target = "mixer:" + spec.scope + ":" + spec.strip
	} else {
		target, parameter, ok := strings.Cut(head, ".")
		if !ok || target == "" || parameter == "" {
			return spec, fmt.Errorf("%w: lane %q needs the form target.parameter", tahti.ErrInvalidLaneMetadata, name)
		}
		spec.target = target
		spec.parameter = parameter
	}
	seen := map[string]bool{}
	once := func(field string) error {
		if seen[field] {
			return fmt.Errorf("%w: lane %q repeats %v", tahti.ErrInvalidLaneMetadata, name, field)
		}
		seen[field] = true
		return nil
	}
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		key, value, hasValue := strings.Cut(part, "=")
		switch {
		case !hasValue:
			if err := once("scaling"); err != nil {
				return spec, err
			}
			switch part {
			case "raw", "absolute":
				spec.scaling = scalingRaw
			case "normalized", "normalised":
				spec.scaling = scalingNormalized
			case "percent", "percentage":
				spec.scaling = scalingPercent
			default:
				return spec, fmt.Errorf("%w: lane %q has unknown metadata %q", tahti.ErrInvalidLaneMetadata, name, part)
			}
		case key == "range":
			if err := once("range"); err != nil {
				return spec, err
			}
			loText, hiText, ok := strings.Cut(value, ":")
			if !ok {
				return spec, fmt.Errorf("%w: lane %q range needs the form min:max", tahti.ErrInvalidLaneMetadata, name)
			}
			lo, errLo := strconv.ParseFloat(loText, 64)
			hi, errHi := strconv.ParseFloat(hiText, 64)
			if errLo != nil || errHi != nil {
				return spec, fmt.Errorf("%w: lane %q has a malformed range %q", tahti.ErrInvalidLaneMetadata, name, value)
			}
			spec.hasRange = true
			spec.rangeMin = math.Min(lo, hi)
			spec.rangeMax = math.Max(lo, hi)
		case key == "curve":
			if err := once("curve"); err != nil {
				return spec, err
			}
			shape, intensityText, hasIntensity := strings.Cut(value, ":")
			switch shape {
			case "linear":
				spec.curve = curveLinear
			case "exponential", "exp", "ease_in":
				spec.curve = curveExponential
			case "logarithmic", "log", "ease_out":
				spec.curve = curveLogarithmic
			case "s_curve", "s-curve", "smooth":
				spec.curve = curveSCurve
			default:
				return spec, fmt.Errorf("%w: lane %q has unknown curve %q", tahti.ErrInvalidLaneMetadata, name, shape)
			}
			if hasIntensity {
				v, err := strconv.ParseFloat(intensityText, 64)
				if err != nil {
					return spec, fmt.Errorf("%w: lane %q has a malformed curve intensity %q", tahti.ErrInvalidLaneMetadata, name, intensityText)
				}
				spec.intensity = v
			}
		case key == "smooth" || key == "smoothing":
			if err := once("smooth"); err != nil {
				return spec, err
			}
			durationText, segmentsText, hasSegments := strings.Cut(value, ":")
			amount, unit, err := parseSmoothing(durationText)
			if err != nil {
				return spec, fmt.Errorf("%w: lane %q has a malformed smoothing duration %q", tahti.ErrInvalidLaneMetadata, name, durationText)
			}
			spec.smoothing = true
			spec.smoothAmount = amount
			spec.smoothUnit = unit
			if hasSegments {
				n, err := strconv.Atoi(segmentsText)
				if err != nil || n < 1 {
					return spec, fmt.Errorf("%w: lane %q has a malformed segment count %q", tahti.ErrInvalidLaneMetadata, name, segmentsText)
				}
				spec.smoothSegments = n
			}
		default:
			return spec, fmt.Errorf("%w: lane %q has unknown metadata %q", tahti.ErrInvalidLaneMetadata, name, part)
		}
	}
	return spec, nil
}

// parseSmoothing reads a duration like 10ms, 0.5s, 2beats or a bare
// number of beats. Negative durations clamp to zero.
func parseSmoothing(text string) (float64, smoothUnit, error) {
	unit := smoothBeats
	number := text
	switch {
	case strings.HasSuffix(text, "ms"):
		unit = smoothMilliseconds
		number = strings.TrimSuffix(text, "ms")
	case strings.HasSuffix(text, "beats"):
		number = strings.TrimSuffix(text, "beats")
	case strings.HasSuffix(text, "beat"):
		number = strings.TrimSuffix(text, "beat")
	case strings.HasSuffix(text, "s"):
		unit = smoothSeconds
		number = strings.TrimSuffix(text, "s")
	}
	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, unit, err
	}
	return math.Max(v, 0), unit, nil
}

func (s laneSpec) intensityOr(def float64) float64 {
	if math.IsNaN(s.intensity) {
		return def
	}
	return s.intensity
}

// applyCurve shapes a normalized position in [0, 1].
func (s laneSpec) applyCurve(n float64) float64 {
	switch s.curve {
	case curveExponential:
		return math.Pow(n, math.Max(s.intensityOr(2), 1e-3))
	case curveLogarithmic:
		return math.Pow(n, 1/math.Max(s.intensityOr(2), 1e-3))
	case curveSCurve:
		strength := s.intensityOr(1)
		if strength <= 0 {
			return n
		}
		base := n * n * (3 - 2*n)
		base = math.Min(math.Max(base, 1e-6), 1-1e-6)
		p := math.Max(strength, 1e-3)
		a := math.Pow(base, p)
		b := math.Pow(1-base, p)
		return a / (a + b)
	}
	return n
}

// mapValue turns a lane point value into the parameter's native range.
// Raw values are only clamped; normalized and percent values are
// curved and scaled across the parameter range, or across the lane's
// range override when one is given.
func (s laneSpec) mapValue(value float64, pspec tahti.ParameterSpec) float64 {
	switch s.scaling {
	case scalingNormalized:
		return s.scaleCurved(s.applyCurve(math.Min(math.Max(value, 0), 1)), pspec)
	case scalingPercent:
		return s.scaleCurved(s.applyCurve(math.Min(math.Max(value, 0), 100)/100), pspec)
	}
	if s.hasRange {
		value = math.Min(math.Max(value, s.rangeMin), s.rangeMax)
	}
	return pspec.Clamp(value)
}

func (s laneSpec) scaleCurved(curved float64, pspec tahti.ParameterSpec) float64 {
	lo, hi := pspec.Min, pspec.Max
	if s.hasRange {
		lo, hi = s.rangeMin, s.rangeMax
	}
	return pspec.Clamp(lo + (hi-lo)*curved)
}
