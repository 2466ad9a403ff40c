package mixer

import (
	"fmt"
	"strings"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/meter"
)

var (
	faderSpec = tahti.ParameterSpec{Name: "fader_db", Default: 0, Min: -96, Max: 12, Unit: "dB"}
	panSpec   = tahti.ParameterSpec{Name: "pan", Default: 0, Min: -1, Max: 1}
	muteSpec  = tahti.ParameterSpec{Name: "mute", Default: 0, Min: 0, Max: 1}
	sendSpec  = tahti.ParameterSpec{Name: "send", Default: 0, Min: -96, Max: 12, Unit: "dB"}
	levelSpec = tahti.ParameterSpec{Name: "level", Default: 0, Min: -96, Max: 12, Unit: "dB"}
)

// AutomationSpec resolves an automatable mixer parameter to its spec.
// Send levels use the parameter form "send:<bus>"; whether the bus
// exists is the graph's business, not the spec's. The master bus has no
// automatable parameters.
func AutomationSpec(scope, parameter string) (tahti.ParameterSpec, error) {
	base := parameter
	if strings.HasPrefix(parameter, "send:") {
		base = "send"
	}
	switch scope {
	case "channel":
		switch base {
		case "fader_db":
			return faderSpec, nil
		case "pan":
			return panSpec, nil
		case "mute":
			return muteSpec, nil
		case "send":
			return sendSpec, nil
		}
	case "subgroup":
		switch base {
		case "fader_db":
			return faderSpec, nil
		case "mute":
			return muteSpec, nil
		case "send":
			return sendSpec, nil
		}
	case "return":
		if base == "level" {
			return levelSpec, nil
		}
	}
	return tahti.ParameterSpec{}, fmt.Errorf("%w: %v parameter %q is not automatable", tahti.ErrInvalidLaneMetadata, scope, parameter)
}

// send routes a strip's signal into a return bus, tapped either before
// or after the fader.
type send struct {
	bus      string
	levelDB  float64
	preFader bool
}

func buildSends(configs []tahti.SendConfig) []*send {
	out := make([]*send, 0, len(configs))
	for _, c := range configs {
		out = append(out, &send{bus: c.Bus, levelDB: sendSpec.Clamp(c.LevelDB), preFader: c.PreFader})
	}
	return out
}

// Channel is an input strip fed by one source buffer per block.
type Channel struct {
	graph    *Graph
	name     string
	source   string
	faderDB  float64
	pan      float64
	mute     bool
	solo     bool
	subgroup string
	sends    []*send
	inserts  []Insert
	work     tahti.AudioBuffer
	pre      tahti.AudioBuffer
	reading  meter.Reading
}

func (c *Channel) Name() string   { return c.name }
func (c *Channel) Source() string { return c.source }

// Subgroup returns the name of the subgroup the channel feeds, or the
// empty string when it feeds the master bus directly.
func (c *Channel) Subgroup() string { return c.subgroup }

func (c *Channel) FaderDB() float64 { return c.faderDB }
func (c *Channel) Pan() float64     { return c.pan }
func (c *Channel) Muted() bool      { return c.mute }
func (c *Channel) Soloed() bool     { return c.solo }

// Meter returns the post fader reading from the last processed block.
func (c *Channel) Meter() meter.Reading { return c.reading }

// SetSource points the channel at another engine module. The bridge uses
// this to bind an instrument's output to the channel it declares.
func (c *Channel) SetSource(id string) { c.source = id }

func (c *Channel) SetFaderDB(db float64) { c.faderDB = faderSpec.Clamp(db) }
func (c *Channel) SetPan(pan float64)    { c.pan = panSpec.Clamp(pan) }
func (c *Channel) SetMute(mute bool)     { c.mute = mute }

func (c *Channel) SetSolo(solo bool) {
	c.solo = solo
	c.graph.dirty = true
}

// SetSend adjusts the level of an existing send.
func (c *Channel) SetSend(bus string, levelDB float64) error {
	return setSendLevel(c.sends, bus, levelDB, "channel", c.name)
}

// SendLevel reports the level of the send to a bus, if one exists.
func (c *Channel) SendLevel(bus string) (float64, bool) {
	return sendLevel(c.sends, bus)
}

func setSendLevel(sends []*send, bus string, levelDB float64, scope, name string) error {
	for _, s := range sends {
		if s.bus == bus {
			s.levelDB = sendSpec.Clamp(levelDB)
			return nil
		}
	}
	return fmt.Errorf("%w: %v %q has no send to %q", tahti.ErrUnknownBus, scope, name, bus)
}

func sendLevel(sends []*send, bus string) (float64, bool) {
	for _, s := range sends {
		if s.bus == bus {
			return s.levelDB, true
		}
	}
	return 0, false
}

// Subgroup is a summing strip: channels and other subgroups feed it, and
// its output feeds a parent subgroup or the master bus.
type Subgroup struct {
	graph   *Graph
	name    string
	faderDB float64
	mute    bool
	solo    bool
	parent  string
	sends   []*send
	inserts []Insert
	input   tahti.AudioBuffer
	pre     tahti.AudioBuffer
	reading meter.Reading
}

func (s *Subgroup) Name() string         { return s.name }
func (s *Subgroup) Parent() string       { return s.parent }
func (s *Subgroup) FaderDB() float64     { return s.faderDB }
func (s *Subgroup) Muted() bool          { return s.mute }
func (s *Subgroup) Soloed() bool         { return s.solo }
func (s *Subgroup) Meter() meter.Reading { return s.reading }

func (s *Subgroup) SetFaderDB(db float64) { s.faderDB = faderSpec.Clamp(db) }
func (s *Subgroup) SetMute(mute bool)     { s.mute = mute }

func (s *Subgroup) SetSolo(solo bool) {
	s.solo = solo
	s.graph.dirty = true
}

func (s *Subgroup) SetSend(bus string, levelDB float64) error {
	return setSendLevel(s.sends, bus, levelDB, "subgroup", s.name)
}

// SendLevel reports the level of the send to a bus, if one exists.
func (s *Subgroup) SendLevel(bus string) (float64, bool) {
	return sendLevel(s.sends, bus)
}

// ReturnBus sums the sends pointed at it, runs its inserts and feeds the
// master bus. Returns have no mute or solo: they keep ringing out even
// when every strip feeding them goes quiet.
type ReturnBus struct {
	name    string
	levelDB float64
	inserts []Insert
	input   tahti.AudioBuffer
	reading meter.Reading
}

func (r *ReturnBus) Name() string         { return r.name }
func (r *ReturnBus) LevelDB() float64     { return r.levelDB }
func (r *ReturnBus) Meter() meter.Reading { return r.reading }

func (r *ReturnBus) SetLevelDB(db float64) { r.levelDB = levelSpec.Clamp(db) }
