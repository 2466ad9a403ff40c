package tahti

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type (
	// Project ties together everything needed to render: the audio
	// configuration, the tempo, one pattern, the instruments it plays and
	// the mixer layout the instruments route through.
	Project struct {
		Audio       EngineConfig           `yaml:",omitempty"`
		Tempo       TempoMap               `yaml:",omitempty"`
		Pattern     Pattern                `yaml:",omitempty"`
		Instruments []InstrumentDefinition `yaml:",omitempty"`
		Mixer       MixerConfig            `yaml:",omitempty"`
	}

	// MixerConfig is the declarative mixer layout: named channels, the
	// subgroups they feed, return buses and the master settings. The
	// runtime graph is built from it by the mixer package.
	MixerConfig struct {
		Channels      []ChannelConfig  `yaml:",omitempty"`
		Subgroups     []SubgroupConfig `yaml:",omitempty"`
		Returns       []ReturnConfig   `yaml:",omitempty"`
		MasterDB      float64          `yaml:",omitempty"`
		MasterInserts []InsertConfig   `yaml:",omitempty"`
	}

	// ChannelConfig describes one mixer channel. Source names the engine
	// module the channel reads audio from; Subgroup optionally routes the
	// channel into a subgroup instead of straight to master.
	ChannelConfig struct {
		Name     string         `yaml:",omitempty"`
		Source   string         `yaml:",omitempty"`
		FaderDB  float64        `yaml:",omitempty"`
		Pan      float64        `yaml:",omitempty"`
		Mute     bool           `yaml:",omitempty"`
		Solo     bool           `yaml:",omitempty"`
		Subgroup string         `yaml:",omitempty"`
		Sends    []SendConfig   `yaml:",omitempty"`
		Inserts  []InsertConfig `yaml:",omitempty"`
	}

	// SubgroupConfig describes a subgroup bus. Parent optionally nests the
	// subgroup under another subgroup.
	SubgroupConfig struct {
		Name    string         `yaml:",omitempty"`
		FaderDB float64        `yaml:",omitempty"`
		Mute    bool           `yaml:",omitempty"`
		Solo    bool           `yaml:",omitempty"`
		Parent  string         `yaml:",omitempty"`
		Sends   []SendConfig   `yaml:",omitempty"`
		Inserts []InsertConfig `yaml:",omitempty"`
	}

	// ReturnConfig describes a return bus: the shared effect chain applied
	// to the summed sends and the level at which the result feeds master.
	ReturnConfig struct {
		Name    string         `yaml:",omitempty"`
		LevelDB float64        `yaml:",omitempty"`
		Inserts []InsertConfig `yaml:",omitempty"`
	}

	// SendConfig taps a channel or subgroup into a return bus. LevelDB is
	// the send gain in decibels, with the zero value meaning unity gain;
	// PreFader taps the signal before the pan and fader stages so the send
	// survives the fader and the mute of its owner.
	SendConfig struct {
		Bus      string  `yaml:",omitempty"`
		LevelDB  float64 `yaml:",omitempty"`
		PreFader bool    `yaml:",omitempty"`
	}

	// InsertKind enumerates the stateful processors that can sit on a
	// channel or bus.
	InsertKind int

	// InsertConfig instantiates one insert processor, overriding the
	// parameters it names and leaving the rest at their defaults.
	InsertConfig struct {
		Kind   InsertKind         `yaml:",omitempty"`
		Params map[string]float64 `yaml:",omitempty"`
	}
)

const (
	InsertThreeBandEQ InsertKind = iota
	InsertCompressor
	InsertDelay
	InsertReverb
)

var insertKindNames = [...]string{"three_band_eq", "soft_knee_compressor", "stereo_feedback_delay", "plate_reverb"}

func (k InsertKind) String() string {
	if k < 0 || int(k) >= len(insertKindNames) {
		return fmt.Sprintf("InsertKind(%d)", int(k))
	}
	return insertKindNames[k]
}

// ParseInsertKind returns the insert kind with the given name.
func ParseInsertKind(name string) (InsertKind, error) {
	for i, n := range insertKindNames {
		if n == name {
			return InsertKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown insert kind %q", ErrInvalidConfig, name)
}

func (k InsertKind) MarshalYAML() (interface{}, error) {
	if k < 0 || int(k) >= len(insertKindNames) {
		return nil, fmt.Errorf("cannot marshal insert kind %d", int(k))
	}
	return k.String(), nil
}

func (k *InsertKind) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseInsertKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseProject parses a yaml project file and validates it. An omitted audio
// section falls back to the default configuration and an omitted tempo to 120
// BPM.
func ParseProject(data []byte) (Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Project{}, fmt.Errorf("could not parse project: %v", err)
	}
	if p.Audio == (EngineConfig{}) {
		p.Audio = DefaultEngineConfig()
	}
	if p.Tempo.BPM == 0 && len(p.Tempo.Changes) == 0 {
		p.Tempo.BPM = 120
	}
	if err := p.Validate(); err != nil {
		return Project{}, err
	}
	return p, nil
}

// YAML returns the project serialized as yaml.
func (p Project) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}

func (p Project) Copy() Project {
	instruments := make([]InstrumentDefinition, len(p.Instruments))
	for i, d := range p.Instruments {
		instruments[i] = d.Copy()
	}
	ret := p
	ret.Tempo = p.Tempo.Copy()
	ret.Pattern = p.Pattern.Copy()
	ret.Instruments = instruments
	ret.Mixer = p.Mixer.Copy()
	return ret
}

// Instrument returns the instrument with the given id, or the first
// instrument when id is empty.
func (p Project) Instrument(id string) (InstrumentDefinition, bool) {
	if id == "" {
		if len(p.Instruments) == 0 {
			return InstrumentDefinition{}, false
		}
		return p.Instruments[0], true
	}
	for _, d := range p.Instruments {
		if d.ID == id {
			return d, true
		}
	}
	return InstrumentDefinition{}, false
}

func (p Project) Validate() error {
	if err := p.Audio.Validate(); err != nil {
		return err
	}
	if err := p.Tempo.Validate(); err != nil {
		return err
	}
	if err := p.Pattern.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Instruments))
	for _, d := range p.Instruments {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: instrument id %q used twice", ErrInvalidConfig, d.ID)
		}
		seen[d.ID] = true
	}
	for i, s := range p.Pattern.Steps {
		if s.Instrument != "" && !seen[s.Instrument] {
			return fmt.Errorf("%w: step %d references instrument %q", ErrUnknownInstrument, i, s.Instrument)
		}
	}
	if err := p.Mixer.Validate(); err != nil {
		return err
	}
	channels := make(map[string]bool, len(p.Mixer.Channels))
	for _, c := range p.Mixer.Channels {
		channels[c.Name] = true
	}
	for _, d := range p.Instruments {
		if d.MixerChannel != "" && !channels[d.MixerChannel] {
			return fmt.Errorf("%w: instrument %q routes to mixer channel %q", ErrUnknownBus, d.ID, d.MixerChannel)
		}
	}
	return nil
}

func (m MixerConfig) Copy() MixerConfig {
	channels := make([]ChannelConfig, len(m.Channels))
	for i, c := range m.Channels {
		channels[i] = c.Copy()
	}
	subgroups := make([]SubgroupConfig, len(m.Subgroups))
	for i, s := range m.Subgroups {
		subgroups[i] = s.Copy()
	}
	returns := make([]ReturnConfig, len(m.Returns))
	for i, r := range m.Returns {
		returns[i] = r.Copy()
	}
	ret := m
	ret.Channels, ret.Subgroups, ret.Returns = channels, subgroups, returns
	ret.MasterInserts = copyInserts(m.MasterInserts)
	return ret
}

func (m MixerConfig) Validate() error {
	subgroups := make(map[string]bool, len(m.Subgroups))
	for _, s := range m.Subgroups {
		if s.Name == "" {
			return fmt.Errorf("%w: subgroup has no name", ErrInvalidConfig)
		}
		if subgroups[s.Name] {
			return fmt.Errorf("%w: subgroup name %q used twice", ErrInvalidConfig, s.Name)
		}
		subgroups[s.Name] = true
	}
	returns := make(map[string]bool, len(m.Returns))
	for _, r := range m.Returns {
		if r.Name == "" {
			return fmt.Errorf("%w: return bus has no name", ErrInvalidConfig)
		}
		if returns[r.Name] {
			return fmt.Errorf("%w: return bus name %q used twice", ErrInvalidConfig, r.Name)
		}
		returns[r.Name] = true
	}
	channels := make(map[string]bool, len(m.Channels))
	for _, c := range m.Channels {
		if c.Name == "" {
			return fmt.Errorf("%w: channel has no name", ErrInvalidConfig)
		}
		if channels[c.Name] {
			return fmt.Errorf("%w: channel name %q used twice", ErrInvalidConfig, c.Name)
		}
		channels[c.Name] = true
		if c.Subgroup != "" && !subgroups[c.Subgroup] {
			return fmt.Errorf("%w: channel %q routes to subgroup %q", ErrUnknownBus, c.Name, c.Subgroup)
		}
		for _, send := range c.Sends {
			if !returns[send.Bus] {
				return fmt.Errorf("%w: channel %q sends to %q", ErrUnknownBus, c.Name, send.Bus)
			}
		}
	}
	for _, s := range m.Subgroups {
		if s.Parent != "" {
			if s.Parent == s.Name {
				return fmt.Errorf("%w: subgroup %q cannot feed itself", ErrCyclicGraph, s.Name)
			}
			if !subgroups[s.Parent] {
				return fmt.Errorf("%w: subgroup %q routes to %q", ErrUnknownBus, s.Name, s.Parent)
			}
		}
		for _, send := range s.Sends {
			if !returns[send.Bus] {
				return fmt.Errorf("%w: subgroup %q sends to %q", ErrUnknownBus, s.Name, send.Bus)
			}
		}
	}
	return nil
}

func (c ChannelConfig) Copy() ChannelConfig {
	sends := make([]SendConfig, len(c.Sends))
	copy(sends, c.Sends)
	ret := c
	ret.Sends = sends
	ret.Inserts = copyInserts(c.Inserts)
	return ret
}

func (s SubgroupConfig) Copy() SubgroupConfig {
	sends := make([]SendConfig, len(s.Sends))
	copy(sends, s.Sends)
	ret := s
	ret.Sends = sends
	ret.Inserts = copyInserts(s.Inserts)
	return ret
}

func (r ReturnConfig) Copy() ReturnConfig {
	ret := r
	ret.Inserts = copyInserts(r.Inserts)
	return ret
}

func (c InsertConfig) Copy() InsertConfig {
	ret := c
	if c.Params != nil {
		ret.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			ret.Params[k] = v
		}
	}
	return ret
}

func copyInserts(inserts []InsertConfig) []InsertConfig {
	out := make([]InsertConfig, len(inserts))
	for i, c := range inserts {
		out[i] = c.Copy()
	}
	return out
}
