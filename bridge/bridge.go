// Package bridge turns tracker patterns into rendered performances. It
// instantiates the instruments a pattern plays into a fresh engine,
// schedules a gate, pitch and articulation event stream from the steps,
// resolves the automation lanes recorded next to them and renders the
// result block by block, through the mixer graph when the instruments
// declare channels. The returned playback bundles the audio with the
// loudness buckets, the automation audit log and the per block mixer
// meters, and is immutable once returned.
package bridge

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/engine"
	"github.com/tahti-studio/tahti/mixer"
)

type (
	// RenderOptions selects how a pattern is rendered. The zero value
	// renders at the default audio configuration, 120 BPM, without a
	// mixer, one beat per loudness bucket and the default grade
	// thresholds.
	RenderOptions struct {
		Audio          tahti.EngineConfig
		Tempo          tahti.TempoMap
		Mixer          *tahti.MixerConfig
		Library        engine.SampleLibrary
		TailSeconds    float64
		BeatsPerBucket float64
		Grades         GradeThresholds

		// BlockHook runs between blocks; returning an error aborts the
		// render. The player uses it for cooperative cancellation.
		BlockHook func(block int) error
	}

	// PatternPlayback is the read only artifact of one render.
	PatternPlayback struct {
		ID              string
		Buffer          tahti.AudioBuffer
		DurationSeconds float64
		// BeatFrames[i] is the frame offset of beat i in Buffer,
		// clamped to the buffer length.
		BeatFrames []int
		NoteEvents      int
		Log             []AutomationRecord
		Loudness        LoudnessTrends
		Snapshots       []mixer.Snapshot
		Parameters      map[string]map[string]float64
	}

	// SmoothingInfo describes the expansion that produced a smoothed
	// automation record: which lane asked for it, the window it spreads
	// over and which of the segments this record is.
	SmoothingInfo struct {
		Lane        string
		WindowBeats float64
		Strategy    string
		Segments    int
		Segment     int
	}

	// AutomationRecord is one line of the automation audit log: what was
	// applied where, the plain lane value it came from and the value that
	// actually reached the parameter. Sources lists every lane that
	// contributed, so colliding lanes stay auditable. The log is append
	// only and never consulted for scheduling.
	AutomationRecord struct {
		Target        string
		Parameter     string
		Beat          float64
		SourceValue   float64
		ResolvedValue float64
		Lane          string
		Sources       []string
		Smoothing     *SmoothingInfo
		Applied       bool
	}
)

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Audio == (tahti.EngineConfig{}) {
		o.Audio = tahti.DefaultEngineConfig()
	}
	if o.Tempo.BPM == 0 && len(o.Tempo.Changes) == 0 {
		o.Tempo = tahti.TempoMap{BPM: 120}
	}
	if o.BeatsPerBucket <= 0 {
		o.BeatsPerBucket = 1
	}
	if o.Grades == (GradeThresholds{}) {
		o.Grades = DefaultGradeThresholds()
	}
	return o
}

// RenderProject renders the project's pattern with its instruments, tempo
// and mixer layout.
func RenderProject(project tahti.Project, opts RenderOptions) (*PatternPlayback, error) {
	if err := project.Validate(); err != nil {
		return nil, err
	}
	opts.Audio = project.Audio
	opts.Tempo = project.Tempo
	m := project.Mixer
	opts.Mixer = &m
	return RenderPattern(project.Pattern, project.Instruments, opts)
}

// RenderPattern renders one pattern. Every instrument a step references is
// instantiated into a fresh engine, so renders never share module state;
// rendering the same inputs twice produces identical output.
func RenderPattern(pattern tahti.Pattern, instruments []tahti.InstrumentDefinition, opts RenderOptions) (*PatternPlayback, error) {
	opts = opts.withDefaults()
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	eng, err := engine.NewEngine(opts.Audio, opts.Tempo)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]tahti.InstrumentDefinition, len(instruments))
	for _, def := range instruments {
		if _, ok := byID[def.ID]; !ok {
			byID[def.ID] = def
		}
	}
	outputs := make(map[string]string) // instrument id -> output module id
	used := make([]tahti.InstrumentDefinition, 0, len(instruments))
	for i := 0; i < pattern.Length(); i++ {
		step := pattern.Step(i)
		if step.Empty() {
			continue
		}
		def, err := resolveInstrument(byID, instruments, step.Instrument)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if _, done := outputs[def.ID]; done {
			continue
		}
		out, err := eng.AddInstrument(def, opts.Library)
		if err != nil {
			return nil, err
		}
		outputs[def.ID] = out
		used = append(used, def)
	}

	var graph *mixer.Graph
	if opts.Mixer != nil && !emptyMixer(*opts.Mixer) {
		if graph, err = mixer.FromConfig(opts.Audio, *opts.Mixer); err != nil {
			return nil, err
		}
	}
	routed := map[string]bool{} // instrument ids playing through the mixer
	for _, def := range used {
		if def.MixerChannel == "" {
			continue
		}
		if graph == nil {
			return nil, fmt.Errorf("%w: instrument %q routes to mixer channel %q but no mixer is declared", tahti.ErrUnknownBus, def.ID, def.MixerChannel)
		}
		ch, ok := graph.Channel(def.MixerChannel)
		if !ok {
			return nil, fmt.Errorf("%w: instrument %q routes to mixer channel %q", tahti.ErrUnknownBus, def.ID, def.MixerChannel)
		}
		if ch.Source() == "" {
			ch.SetSource(outputs[def.ID])
		}
		routed[def.ID] = true
	}

	noteEvents, err := scheduleSteps(eng, pattern, byID, instruments, outputs)
	if err != nil {
		return nil, err
	}
	records, err := resolveLanes(eng, graph, pattern.Lanes, opts.Tempo)
	if err != nil {
		return nil, err
	}

	playback := &PatternPlayback{
		ID:         uuid.NewString(),
		NoteEvents: noteEvents,
		Log:        records,
	}
	if err := renderBlocks(playback, eng, graph, pattern, used, outputs, routed, opts); err != nil {
		return nil, err
	}
	playback.Loudness = MeasureLoudness(playback.Buffer, opts.Tempo, opts.Audio.SampleRate, opts.BeatsPerBucket)
	playback.Parameters = eng.Snapshot()
	return playback, nil
}

// Rows formats the playback's loudness buckets with the given thresholds.
func (p *PatternPlayback) Rows(grades GradeThresholds) []LoudnessRow {
	return p.Loudness.Rows(grades)
}

func emptyMixer(m tahti.MixerConfig) bool {
	return len(m.Channels) == 0 && len(m.Subgroups) == 0 && len(m.Returns) == 0 && len(m.MasterInserts) == 0
}

func resolveInstrument(byID map[string]tahti.InstrumentDefinition, instruments []tahti.InstrumentDefinition, id string) (tahti.InstrumentDefinition, error) {
	if id == "" {
		if len(instruments) == 0 {
			return tahti.InstrumentDefinition{}, fmt.Errorf("%w: pattern plays no instruments", tahti.ErrUnknownInstrument)
		}
		return instruments[0], nil
	}
	def, ok := byID[id]
	if !ok {
		return tahti.InstrumentDefinition{}, fmt.Errorf("%w: %q", tahti.ErrUnknownInstrument, id)
	}
	return def, nil
}

// scheduleSteps books the event stream of the pattern's steps: a gate on at
// every sounding step, the matching gate off at the step's musical end, and
// pitch and articulation events for the modules that understand them.
func scheduleSteps(eng *engine.Engine, pattern tahti.Pattern, byID map[string]tahti.InstrumentDefinition, instruments []tahti.InstrumentDefinition, outputs map[string]string) (int, error) {
	grid := pattern.Grid()
	stepBeats := grid.StepsToBeats(1)
	noteEvents := 0
	for i := 0; i < pattern.Length(); i++ {
		step := pattern.Step(i)
		if step.Empty() {
			continue
		}
		def, err := resolveInstrument(byID, instruments, step.Instrument)
		if err != nil {
			return 0, fmt.Errorf("step %d: %w", i, err)
		}
		beat := grid.StepToBeat(i)
		end := beat + math.Max(step.Effect("length_beats", 0), stepBeats/2)
		gate := float64(step.VelocityOrDefault()) / 127
		source := fmt.Sprintf("step:%d", i)
		triggered := false
		for _, mc := range def.Modules {
			m, ok := eng.Module(mc.ID)
			if !ok {
				return 0, fmt.Errorf("%w: %q", tahti.ErrUnknownModule, mc.ID)
			}
			if _, has := m.Parameter("gate"); has {
				if err := eng.Schedule(mc.ID, "gate", beat, gate, source); err != nil {
					return 0, err
				}
				if err := eng.Schedule(mc.ID, "gate", end, 0, source); err != nil {
					return 0, err
				}
				triggered = true
			}
			if _, has := m.Parameter("frequency_hz"); has {
				if err := scheduleFrequency(eng, mc.ID, step, beat, source); err != nil {
					return 0, err
				}
			}
			if _, has := m.Parameter("velocity"); has {
				if err := eng.Schedule(mc.ID, "velocity", beat, float64(step.VelocityOrDefault()), source); err != nil {
					return 0, err
				}
			}
			if root, has := m.Parameter("root_midi_note"); has {
				transpose := float64(step.Note) - root + step.Effect("transpose", 0)
				if err := eng.Schedule(mc.ID, "transpose_semitones", beat, transpose, source); err != nil {
					return 0, err
				}
			}
			if _, has := m.Parameter("retrigger"); has {
				if err := scheduleRetriggers(eng, mc.ID, step, beat, end, source); err != nil {
					return 0, err
				}
				triggered = true
			}
		}
		if triggered {
			noteEvents++
		}
	}
	return noteEvents, nil
}

// scheduleFrequency books the pitch of a step on an oscillator. A slide
// effect spreads the change over slide_beats as a linear ramp instead of a
// jump.
func scheduleFrequency(eng *engine.Engine, id string, step tahti.PatternStep, beat float64, source string) error {
	freq := noteToHz(step.Note + int(step.Effect("transpose", 0)))
	slide := step.Effect("slide_beats", 0)
	if slide <= 0 {
		return eng.Schedule(id, "frequency_hz", beat, freq, source)
	}
	m, _ := eng.Module(id)
	from, _ := m.Parameter("frequency_hz")
	const segments = 8
	for k := 1; k <= segments; k++ {
		f := from + (freq-from)*float64(k)/segments
		t := beat + slide*float64(k)/segments
		if err := eng.Schedule(id, "frequency_hz", t, f, source+":slide"); err != nil {
			return err
		}
	}
	return nil
}

// scheduleRetriggers fires the sampler at the step start, plus extra evenly
// spaced hits when the step carries a retrigger effect.
func scheduleRetriggers(eng *engine.Engine, id string, step tahti.PatternStep, beat, end float64, source string) error {
	hits := 1 + int(step.Effect("retrigger", 0))
	for k := 0; k < hits; k++ {
		t := beat + (end-beat)*float64(k)/float64(hits)
		if err := eng.Schedule(id, "retrigger", t, 1, source); err != nil {
			return err
		}
	}
	return nil
}

// noteToHz converts a MIDI note number to equal temperament pitch.
func noteToHz(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

// renderBlocks runs the block loop: engine first, then the mixer pass,
// summing the direct instrument outputs and the master bus into the final
// buffer. Audit records are marked applied as the render passes them.
func renderBlocks(playback *PatternPlayback, eng *engine.Engine, graph *mixer.Graph, pattern tahti.Pattern, used []tahti.InstrumentDefinition, outputs map[string]string, routed map[string]bool, opts RenderOptions) error {
	seconds := opts.Tempo.BeatsToSeconds(pattern.DurationBeats()) + opts.TailSeconds
	frames := int(math.Ceil(seconds * float64(opts.Audio.SampleRate)))
	result := tahti.NewAudioBuffer(opts.Audio.Channels, frames)
	sum := tahti.NewAudioBuffer(opts.Audio.Channels, opts.Audio.BlockSize)
	source := func(id string) tahti.AudioBuffer {
		if buf, ok := eng.ModuleBuffer(id); ok {
			return buf
		}
		return nil
	}
	logCursor := 0
	for done, block := 0, 0; done < frames; block++ {
		if opts.BlockHook != nil {
			if err := opts.BlockHook(block); err != nil {
				return err
			}
		}
		if err := eng.ProcessBlock(); err != nil {
			return err
		}
		sum.Zero()
		for _, def := range used {
			if routed[def.ID] {
				continue
			}
			if buf, ok := eng.ModuleBuffer(outputs[def.ID]); ok {
				sum.Add(buf)
			}
		}
		if graph != nil {
			snapshot, err := graph.ProcessBlock(opts.Audio.BlockSize, source)
			if err != nil {
				return err
			}
			sum.Add(graph.Master())
			playback.Snapshots = append(playback.Snapshots, snapshot)
		}
		n := frames - done
		if n > opts.Audio.BlockSize {
			n = opts.Audio.BlockSize
		}
		for c := range result {
			copy(result[c][done:done+n], sum[c][:n])
		}
		done += n
		renderedBeat := opts.Tempo.SamplesToBeats(eng.Clock(), opts.Audio.SampleRate)
		for ; logCursor < len(playback.Log) && playback.Log[logCursor].Beat < renderedBeat; logCursor++ {
			playback.Log[logCursor].Applied = true
		}
	}
	playback.Buffer = result
	playback.DurationSeconds = seconds
	playback.BeatFrames = make([]int, int(math.Ceil(pattern.DurationBeats()))+1)
	for i := range playback.BeatFrames {
		f := opts.Tempo.BeatsToSamples(float64(i), opts.Audio.SampleRate)
		if f > frames {
			f = frames
		}
		playback.BeatFrames[i] = f
	}
	return nil
}
