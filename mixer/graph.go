package mixer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/viterin/vek/vek32"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/engine"
	"github.com/tahti-studio/tahti/meter"
)

// Graph owns every strip of the mixer and renders them in routing
// order: channels first, then subgroups children before parents, then
// the return buses, and finally the master chain.
type Graph struct {
	config tahti.EngineConfig

	channels  map[string]*Channel
	subgroups map[string]*Subgroup
	returns   map[string]*ReturnBus

	channelOrder  []string
	subgroupOrder []string
	returnOrder   []string

	masterDB      float64
	masterInserts []Insert
	master        tahti.AudioBuffer
	masterReading meter.Reading

	scratch  tahti.AudioBuffer
	timeline engine.Timeline
	clock    int64

	activeChannels  map[string]bool
	activeSubgroups map[string]bool
	dirty           bool
}

// Snapshot reports the meter readings taken during one block.
type Snapshot struct {
	Channels  map[string]meter.Reading
	Subgroups map[string]meter.Reading
	Returns   map[string]meter.Reading
	Master    meter.Reading
}

func NewGraph(config tahti.EngineConfig) (*Graph, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Graph{
		config:    config,
		channels:  map[string]*Channel{},
		subgroups: map[string]*Subgroup{},
		returns:   map[string]*ReturnBus{},
		master:    tahti.NewAudioBuffer(config.Channels, config.BlockSize),
		scratch:   tahti.NewAudioBuffer(config.Channels, config.BlockSize),
		dirty:     true,
	}, nil
}

// FromConfig builds the full graph described by a project mixer section
// and validates its routing.
func FromConfig(engineConfig tahti.EngineConfig, config tahti.MixerConfig) (*Graph, error) {
	g, err := NewGraph(engineConfig)
	if err != nil {
		return nil, err
	}
	g.masterDB = config.MasterDB
	if g.masterInserts, err = buildInserts(config.MasterInserts, engineConfig.SampleRate, engineConfig.Channels); err != nil {
		return nil, err
	}
	for _, c := range config.Returns {
		if _, err := g.AddReturn(c); err != nil {
			return nil, err
		}
	}
	for _, c := range config.Subgroups {
		if _, err := g.AddSubgroup(c); err != nil {
			return nil, err
		}
	}
	for _, c := range config.Channels {
		if _, err := g.AddChannel(c); err != nil {
			return nil, err
		}
	}
	if err := g.refresh(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) AddChannel(config tahti.ChannelConfig) (*Channel, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("%w: channel needs a name", tahti.ErrInvalidConfig)
	}
	if _, ok := g.channels[config.Name]; ok {
		return nil, fmt.Errorf("%w: duplicate channel %q", tahti.ErrInvalidConfig, config.Name)
	}
	inserts, err := buildInserts(config.Inserts, g.config.SampleRate, g.config.Channels)
	if err != nil {
		return nil, err
	}
	ch := &Channel{
		graph:    g,
		name:     config.Name,
		source:   config.Source,
		faderDB:  faderSpec.Clamp(config.FaderDB),
		pan:      panSpec.Clamp(config.Pan),
		mute:     config.Mute,
		solo:     config.Solo,
		subgroup: config.Subgroup,
		sends:    buildSends(config.Sends),
		inserts:  inserts,
		work:     tahti.NewAudioBuffer(g.config.Channels, g.config.BlockSize),
		pre:      tahti.NewAudioBuffer(g.config.Channels, g.config.BlockSize),
	}
	g.channels[config.Name] = ch
	g.channelOrder = append(g.channelOrder, config.Name)
	g.dirty = true
	return ch, nil
}

func (g *Graph) AddSubgroup(config tahti.SubgroupConfig) (*Subgroup, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("%w: subgroup needs a name", tahti.ErrInvalidConfig)
	}
	if _, ok := g.subgroups[config.Name]; ok {
		return nil, fmt.Errorf("%w: duplicate subgroup %q", tahti.ErrInvalidConfig, config.Name)
	}
	inserts, err := buildInserts(config.Inserts, g.config.SampleRate, g.config.Channels)
	if err != nil {
		return nil, err
	}
	sg := &Subgroup{
		graph:   g,
		name:    config.Name,
		faderDB: faderSpec.Clamp(config.FaderDB),
		mute:    config.Mute,
		solo:    config.Solo,
		parent:  config.Parent,
		sends:   buildSends(config.Sends),
		inserts: inserts,
		input:   tahti.NewAudioBuffer(g.config.Channels, g.config.BlockSize),
		pre:     tahti.NewAudioBuffer(g.config.Channels, g.config.BlockSize),
	}
	g.subgroups[config.Name] = sg
	g.dirty = true
	return sg, nil
}

func (g *Graph) AddReturn(config tahti.ReturnConfig) (*ReturnBus, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("%w: return needs a name", tahti.ErrInvalidConfig)
	}
	if _, ok := g.returns[config.Name]; ok {
		return nil, fmt.Errorf("%w: duplicate return %q", tahti.ErrInvalidConfig, config.Name)
	}
	inserts, err := buildInserts(config.Inserts, g.config.SampleRate, g.config.Channels)
	if err != nil {
		return nil, err
	}
	r := &ReturnBus{
		name:    config.Name,
		levelDB: levelSpec.Clamp(config.LevelDB),
		inserts: inserts,
		input:   tahti.NewAudioBuffer(g.config.Channels, g.config.BlockSize),
	}
	g.returns[config.Name] = r
	g.returnOrder = append(g.returnOrder, config.Name)
	g.dirty = true
	return r, nil
}

// AssignChannel reroutes a channel to a subgroup, or to the master bus
// when subgroup is empty.
func (g *Graph) AssignChannel(name, subgroup string) error {
	ch, ok := g.channels[name]
	if !ok {
		return fmt.Errorf("%w: no channel %q", tahti.ErrUnknownBus, name)
	}
	ch.subgroup = subgroup
	g.dirty = true
	return nil
}

// AssignSubgroup reroutes a subgroup to a parent subgroup, or to the
// master bus when parent is empty.
func (g *Graph) AssignSubgroup(name, parent string) error {
	sg, ok := g.subgroups[name]
	if !ok {
		return fmt.Errorf("%w: no subgroup %q", tahti.ErrUnknownBus, name)
	}
	sg.parent = parent
	g.dirty = true
	return nil
}

func (g *Graph) Channel(name string) (*Channel, bool) {
	ch, ok := g.channels[name]
	return ch, ok
}

func (g *Graph) Subgroup(name string) (*Subgroup, bool) {
	sg, ok := g.subgroups[name]
	return sg, ok
}

func (g *Graph) Return(name string) (*ReturnBus, bool) {
	r, ok := g.returns[name]
	return r, ok
}

// Master returns the output buffer of the last processed block.
func (g *Graph) Master() tahti.AudioBuffer { return g.master }

func (g *Graph) MasterReading() meter.Reading { return g.masterReading }

func (g *Graph) SetMasterDB(db float64) { g.masterDB = db }

// Pending returns how many scheduled changes have not been applied yet.
func (g *Graph) Pending() int { return g.timeline.Len() }

// ValidateTarget checks that an automation target resolves to a strip
// and a parameter this graph can apply.
func (g *Graph) ValidateTarget(scope, name, parameter string) error {
	if _, err := AutomationSpec(scope, parameter); err != nil {
		return err
	}
	var sends []*send
	switch scope {
	case "channel":
		ch, ok := g.channels[name]
		if !ok {
			return fmt.Errorf("%w: no channel %q", tahti.ErrUnknownBus, name)
		}
		sends = ch.sends
	case "subgroup":
		sg, ok := g.subgroups[name]
		if !ok {
			return fmt.Errorf("%w: no subgroup %q", tahti.ErrUnknownBus, name)
		}
		sends = sg.sends
	case "return":
		if _, ok := g.returns[name]; !ok {
			return fmt.Errorf("%w: no return %q", tahti.ErrUnknownBus, name)
		}
		return nil
	}
	if bus, isSend := strings.CutPrefix(parameter, "send:"); isSend {
		for _, s := range sends {
			if s.bus == bus {
				return nil
			}
		}
		return fmt.Errorf("%w: %v %q has no send to %q", tahti.ErrUnknownBus, scope, name, bus)
	}
	return nil
}

// Schedule books a parameter change at a time in seconds. The value is
// clamped to the parameter's range when applied, at the first block
// boundary at or after the scheduled time.
func (g *Graph) Schedule(scope, name, parameter string, seconds, value float64, source string) error {
	if err := g.ValidateTarget(scope, name, parameter); err != nil {
		return err
	}
	g.timeline.Schedule(engine.Event{
		Module:    scope + ":" + name,
		Parameter: parameter,
		Time:      seconds,
		Value:     value,
		Source:    source,
	})
	return nil
}

func (g *Graph) applyEvent(event engine.Event) {
	scope, name, _ := strings.Cut(event.Module, ":")
	spec, err := AutomationSpec(scope, event.Parameter)
	if err != nil {
		return
	}
	value := spec.Clamp(event.Value)
	bus, isSend := strings.CutPrefix(event.Parameter, "send:")
	switch scope {
	case "channel":
		ch, ok := g.channels[name]
		if !ok {
			return
		}
		switch {
		case isSend:
			ch.SetSend(bus, value)
		case event.Parameter == "fader_db":
			ch.faderDB = value
		case event.Parameter == "pan":
			ch.pan = value
		case event.Parameter == "mute":
			ch.mute = value >= 0.5
		}
	case "subgroup":
		sg, ok := g.subgroups[name]
		if !ok {
			return
		}
		switch {
		case isSend:
			sg.SetSend(bus, value)
		case event.Parameter == "fader_db":
			sg.faderDB = value
		case event.Parameter == "mute":
			sg.mute = value >= 0.5
		}
	case "return":
		if r, ok := g.returns[name]; ok {
			r.levelDB = value
		}
	}
}

// refresh revalidates the routing after structural edits: every
// reference must resolve, the subgroup forest must be acyclic, and the
// solo active set is recomputed.
func (g *Graph) refresh() error {
	for _, name := range g.channelOrder {
		ch := g.channels[name]
		if ch.subgroup != "" {
			if _, ok := g.subgroups[ch.subgroup]; !ok {
				return fmt.Errorf("%w: channel %q routes to unknown subgroup %q", tahti.ErrUnknownBus, name, ch.subgroup)
			}
		}
		for _, s := range ch.sends {
			if _, ok := g.returns[s.bus]; !ok {
				return fmt.Errorf("%w: channel %q sends to unknown return %q", tahti.ErrUnknownBus, name, s.bus)
			}
		}
	}
	names := make([]string, 0, len(g.subgroups))
	for name := range g.subgroups {
		names = append(names, name)
	}
	sort.Strings(names)
	children := map[string][]string{}
	roots := []string{}
	for _, name := range names {
		sg := g.subgroups[name]
		if sg.parent == "" {
			roots = append(roots, name)
		} else {
			if _, ok := g.subgroups[sg.parent]; !ok {
				return fmt.Errorf("%w: subgroup %q routes to unknown subgroup %q", tahti.ErrUnknownBus, name, sg.parent)
			}
			children[sg.parent] = append(children[sg.parent], name)
		}
		for _, s := range sg.sends {
			if _, ok := g.returns[s.bus]; !ok {
				return fmt.Errorf("%w: subgroup %q sends to unknown return %q", tahti.ErrUnknownBus, name, s.bus)
			}
		}
	}
	order := make([]string, 0, len(g.subgroups))
	var visit func(string)
	visit = func(name string) {
		for _, child := range children[name] {
			visit(child)
		}
		order = append(order, name)
	}
	for _, root := range roots {
		visit(root)
	}
	if len(order) != len(g.subgroups) {
		return fmt.Errorf("%w: subgroup routing loops back on itself", tahti.ErrCyclicGraph)
	}
	g.subgroupOrder = order
	g.computeActive()
	g.dirty = false
	return nil
}

// chain lists the subgroups between a strip and the master bus, nearest
// first.
func (g *Graph) chain(subgroup string) []string {
	var out []string
	for i := 0; subgroup != "" && i <= len(g.subgroups); i++ {
		sg, ok := g.subgroups[subgroup]
		if !ok {
			break
		}
		out = append(out, subgroup)
		subgroup = sg.parent
	}
	return out
}

// computeActive derives which strips take part in the mix. With no
// solos everything is active. Otherwise a channel is active if it is
// soloed or routes through a soloed subgroup, and a subgroup is active
// if it is soloed or carries an active strip's signal toward the
// master. Returns are not part of the set: they always run.
func (g *Graph) computeActive() {
	g.activeChannels = make(map[string]bool, len(g.channels))
	g.activeSubgroups = make(map[string]bool, len(g.subgroups))
	anySolo := false
	for _, ch := range g.channels {
		if ch.solo {
			anySolo = true
		}
	}
	for _, sg := range g.subgroups {
		if sg.solo {
			anySolo = true
		}
	}
	if !anySolo {
		for name := range g.channels {
			g.activeChannels[name] = true
		}
		for name := range g.subgroups {
			g.activeSubgroups[name] = true
		}
		return
	}
	for name, ch := range g.channels {
		active := ch.solo
		for _, sg := range g.chain(ch.subgroup) {
			if g.subgroups[sg].solo {
				active = true
			}
		}
		g.activeChannels[name] = active
		if active {
			for _, sg := range g.chain(ch.subgroup) {
				g.activeSubgroups[sg] = true
			}
		}
	}
	for name, sg := range g.subgroups {
		if sg.solo {
			g.activeSubgroups[name] = true
			for _, a := range g.chain(sg.parent) {
				g.activeSubgroups[a] = true
			}
		}
	}
}

func silentReading() meter.Reading {
	return meter.Reading{PeakDB: math.Inf(-1), RMSDB: meter.RMSDBFS(0, 1)}
}

// ProcessBlock renders one block of up to the configured block size.
// source provides the input buffer for a channel's source id; nil means
// silence, and a returned buffer must have at least frames frames and
// the graph's channel count.
func (g *Graph) ProcessBlock(frames int, source func(string) tahti.AudioBuffer) (Snapshot, error) {
	if frames <= 0 || frames > g.config.BlockSize {
		return Snapshot{}, fmt.Errorf("%w: block of %v frames outside 1..%v", tahti.ErrInvalidConfig, frames, g.config.BlockSize)
	}
	if g.dirty {
		if err := g.refresh(); err != nil {
			return Snapshot{}, err
		}
	}
	for _, event := range g.timeline.Due(float64(g.clock) / float64(g.config.SampleRate)) {
		g.applyEvent(event)
	}
	master := g.master.Slice(frames)
	master.Zero()
	for _, name := range g.subgroupOrder {
		g.subgroups[name].input.Slice(frames).Zero()
	}
	for _, name := range g.returnOrder {
		g.returns[name].input.Slice(frames).Zero()
	}
	for _, name := range g.channelOrder {
		ch := g.channels[name]
		if !g.activeChannels[name] {
			// Same treatment as a silenced subgroup: inserts tick over
			// silence so their delay lines keep moving while the
			// channel is out of the mix.
			work := ch.work.Slice(frames)
			work.Zero()
			for _, insert := range ch.inserts {
				insert.Process(work)
			}
			ch.reading = silentReading()
			continue
		}
		work := ch.work.Slice(frames)
		if src := source(ch.source); src != nil {
			work.CopyFrom(src)
		} else {
			work.Zero()
		}
		for _, insert := range ch.inserts {
			insert.Process(work)
		}
		pre := ch.pre.Slice(frames)
		pre.CopyFrom(work)
		if ch.pan != 0 && g.config.Channels >= 2 {
			vek32.MulNumber_Inplace(work[0], float32(1-math.Max(0, ch.pan)))
			vek32.MulNumber_Inplace(work[1], float32(1+math.Min(0, ch.pan)))
		}
		gain := 0.0
		if !ch.mute {
			gain = tahti.DBToLinear(ch.faderDB)
		}
		work.Scale(float32(gain))
		ch.reading = meter.NewReading(work)
		if ch.subgroup != "" {
			g.subgroups[ch.subgroup].input.Slice(frames).Add(work)
		} else {
			master.Add(work)
		}
		g.processSends(ch.sends, pre, work, frames)
	}
	for _, name := range g.subgroupOrder {
		sg := g.subgroups[name]
		in := sg.input.Slice(frames)
		if !g.activeSubgroups[name] {
			// Inserts still tick over silence so delay lines and
			// reverb tails do not freeze while the subgroup is out
			// of the mix.
			for _, insert := range sg.inserts {
				insert.Process(in)
			}
			in.Zero()
			sg.reading = silentReading()
			continue
		}
		for _, insert := range sg.inserts {
			insert.Process(in)
		}
		pre := sg.pre.Slice(frames)
		pre.CopyFrom(in)
		if sg.mute {
			in.Zero()
		} else {
			in.Scale(float32(tahti.DBToLinear(sg.faderDB)))
		}
		sg.reading = meter.NewReading(in)
		if sg.parent != "" {
			g.subgroups[sg.parent].input.Slice(frames).Add(in)
		} else {
			master.Add(in)
		}
		g.processSends(sg.sends, pre, in, frames)
	}
	for _, name := range g.returnOrder {
		r := g.returns[name]
		in := r.input.Slice(frames)
		for _, insert := range r.inserts {
			insert.Process(in)
		}
		in.Scale(float32(tahti.DBToLinear(r.levelDB)))
		r.reading = meter.NewReading(in)
		master.Add(in)
	}
	for _, insert := range g.masterInserts {
		insert.Process(master)
	}
	master.Scale(float32(tahti.DBToLinear(g.masterDB)))
	g.masterReading = meter.NewReading(master)
	g.clock += int64(frames)
	return g.snapshot(), nil
}

func (g *Graph) processSends(sends []*send, pre, post tahti.AudioBuffer, frames int) {
	for _, s := range sends {
		gain := tahti.DBToLinear(s.levelDB)
		if gain == 0 {
			continue
		}
		r, ok := g.returns[s.bus]
		if !ok {
			continue
		}
		tap := post
		if s.preFader {
			tap = pre
		}
		scratch := g.scratch.Slice(frames)
		scratch.CopyFrom(tap)
		scratch.Scale(float32(gain))
		r.input.Slice(frames).Add(scratch)
	}
}

func (g *Graph) snapshot() Snapshot {
	out := Snapshot{
		Channels:  make(map[string]meter.Reading, len(g.channels)),
		Subgroups: make(map[string]meter.Reading, len(g.subgroups)),
		Returns:   make(map[string]meter.Reading, len(g.returns)),
		Master:    g.masterReading,
	}
	for name, ch := range g.channels {
		out.Channels[name] = ch.reading
	}
	for name, sg := range g.subgroups {
		out.Subgroups[name] = sg.reading
	}
	for name, r := range g.returns {
		out.Returns[name] = r.reading
	}
	return out
}
