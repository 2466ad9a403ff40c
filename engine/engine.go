// Package engine renders module graphs block by block, applying scheduled
// parameter automation between blocks. An Engine owns its modules and its
// timeline exclusively; everything is driven by one render loop at a time
// and the package adds no locking of its own.
package engine

import (
	"fmt"
	"math"

	"github.com/tahti-studio/tahti"
)

type (
	// Engine renders a module graph. Modules live in an arena indexed by
	// id; input references are resolved into arena indices when the
	// evaluation order is computed, so the per block loop never chases
	// names.
	Engine struct {
		config    tahti.EngineConfig
		tempo     tahti.TempoMap
		slots     []slot
		index     map[string]int
		order     []int
		output    int
		outputSet bool
		timeline  Timeline
		clock     int
		dirty     bool
	}

	slot struct {
		module  Module
		inputs  []int
		buffer  tahti.AudioBuffer
		scratch []tahti.AudioBuffer
	}
)

// NewEngine returns an engine with no modules. The configuration and tempo
// are validated here so rendering never has to.
func NewEngine(config tahti.EngineConfig, tempo tahti.TempoMap) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := tempo.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config: config,
		tempo:  tempo,
		index:  make(map[string]int),
		output: -1,
	}, nil
}

func (e *Engine) Config() tahti.EngineConfig { return e.config }

func (e *Engine) Tempo() tahti.TempoMap { return e.tempo }

// Clock returns the number of frames rendered so far.
func (e *Engine) Clock() int { return e.clock }

// AddModule inserts a module into the arena. Until SetOutput says
// otherwise, the output module is the one added last.
func (e *Engine) AddModule(m Module) error {
	if _, ok := e.index[m.ID()]; ok {
		return fmt.Errorf("%w: module id %q used twice", tahti.ErrInvalidConfig, m.ID())
	}
	e.index[m.ID()] = len(e.slots)
	e.slots = append(e.slots, slot{
		module: m,
		buffer: tahti.NewAudioBuffer(e.config.Channels, e.config.BlockSize),
	})
	if !e.outputSet {
		e.output = len(e.slots) - 1
	}
	e.dirty = true
	return nil
}

// AddInstrument instantiates every module of the definition into the engine
// and returns the id of the instrument's output module.
func (e *Engine) AddInstrument(def tahti.InstrumentDefinition, library SampleLibrary) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	for _, mc := range def.Modules {
		m, err := New(e.config, mc, library)
		if err != nil {
			return "", err
		}
		if err := e.AddModule(m); err != nil {
			return "", err
		}
	}
	return def.OutputModule()
}

// SetOutput designates the module whose buffer Render returns.
func (e *Engine) SetOutput(id string) error {
	i, ok := e.index[id]
	if !ok {
		return fmt.Errorf("%w: %q", tahti.ErrUnknownModule, id)
	}
	e.output = i
	e.outputSet = true
	return nil
}

func (e *Engine) Module(id string) (Module, bool) {
	i, ok := e.index[id]
	if !ok {
		return nil, false
	}
	return e.slots[i].module, true
}

// ModuleBuffer returns the block most recently rendered by a module. The
// mixer reads its channel sources through this.
func (e *Engine) ModuleBuffer(id string) (tahti.AudioBuffer, bool) {
	i, ok := e.index[id]
	if !ok {
		return nil, false
	}
	return e.slots[i].buffer, true
}

// Schedule appends a parameter change at a beat position. Unknown modules
// and parameters are rejected here, at schedule time, so a render never
// starts with events it cannot apply.
func (e *Engine) Schedule(module, parameter string, beat, value float64, source string) error {
	i, ok := e.index[module]
	if !ok {
		return fmt.Errorf("%w: %q", tahti.ErrUnknownModule, module)
	}
	if _, ok := e.slots[i].module.Parameter(parameter); !ok {
		return fmt.Errorf("%w: module %q has no parameter %q", tahti.ErrUnknownParameter, module, parameter)
	}
	e.timeline.Schedule(Event{Module: module, Parameter: parameter, Time: beat, Value: value, Source: source})
	return nil
}

// Pending returns the number of automation events not yet applied.
func (e *Engine) Pending() int { return e.timeline.Len() }

// sortModules recomputes the evaluation order with Kahn's algorithm,
// resolving declared input names into arena indices on the way.
func (e *Engine) sortModules() error {
	for i := range e.slots {
		s := &e.slots[i]
		s.inputs = s.inputs[:0]
		for _, id := range s.module.Inputs() {
			j, ok := e.index[id]
			if !ok {
				return fmt.Errorf("%w: module %q reads from %q", tahti.ErrUnknownModule, s.module.ID(), id)
			}
			s.inputs = append(s.inputs, j)
		}
	}
	indegree := make([]int, len(e.slots))
	dependents := make([][]int, len(e.slots))
	for i, s := range e.slots {
		indegree[i] = len(s.inputs)
		for _, j := range s.inputs {
			dependents[j] = append(dependents[j], i)
		}
	}
	queue := make([]int, 0, len(e.slots))
	for i := range e.slots {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(e.slots))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, d := range dependents[i] {
			if indegree[d]--; indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) != len(e.slots) {
		return tahti.ErrCyclicGraph
	}
	e.order = order
	e.dirty = false
	return nil
}

// ProcessBlock renders the next block: applies every automation event whose
// beat position falls inside the block, then runs the modules in dependency
// order. Beat positions convert to frames with the floor rule, so an event
// exactly on the block boundary belongs to the next block, and an event
// behind the render position is applied at the start of this one.
func (e *Engine) ProcessBlock() error {
	if e.dirty {
		if err := e.sortModules(); err != nil {
			return err
		}
	}
	limit := e.tempo.SamplesToBeats(e.clock+e.config.BlockSize, e.config.SampleRate)
	for _, ev := range e.timeline.DueBefore(limit) {
		i, ok := e.index[ev.Module]
		if !ok {
			return fmt.Errorf("%w: %q", tahti.ErrUnknownModule, ev.Module)
		}
		if err := e.slots[i].module.SetParameter(ev.Parameter, ev.Value); err != nil {
			return err
		}
	}
	for _, i := range e.order {
		s := &e.slots[i]
		s.scratch = s.scratch[:0]
		for _, j := range s.inputs {
			s.scratch = append(s.scratch, e.slots[j].buffer)
		}
		s.module.Process(s.buffer, s.scratch)
	}
	e.clock += e.config.BlockSize
	return nil
}

// Output returns the buffer of the designated output module for the block
// rendered last.
func (e *Engine) Output() (tahti.AudioBuffer, error) {
	if e.output < 0 {
		return nil, fmt.Errorf("%w: engine has no output module", tahti.ErrUnknownModule)
	}
	return e.slots[e.output].buffer, nil
}

// Render renders the given number of seconds through the output module and
// returns the result trimmed to length.
func (e *Engine) Render(seconds float64) (tahti.AudioBuffer, error) {
	if seconds < 0 || math.IsNaN(seconds) {
		return nil, fmt.Errorf("%w: cannot render %v seconds", tahti.ErrInvalidConfig, seconds)
	}
	return e.RenderFrames(int(math.Round(seconds * float64(e.config.SampleRate))))
}

// RenderFrames renders whole blocks until frames frames have accumulated;
// the tail of the last block past frames is dropped.
func (e *Engine) RenderFrames(frames int) (tahti.AudioBuffer, error) {
	out, err := e.Output()
	if err != nil {
		return nil, err
	}
	result := tahti.NewAudioBuffer(e.config.Channels, frames)
	for done := 0; done < frames; {
		if err := e.ProcessBlock(); err != nil {
			return nil, err
		}
		n := frames - done
		if n > e.config.BlockSize {
			n = e.config.BlockSize
		}
		for c := range result {
			copy(result[c][done:done+n], out[c][:n])
		}
		done += n
	}
	return result, nil
}

// Snapshot returns the current value of every parameter of every module,
// keyed by module id.
func (e *Engine) Snapshot() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(e.slots))
	for _, s := range e.slots {
		values := make(map[string]float64)
		for _, spec := range s.module.Parameters() {
			v, _ := s.module.Parameter(spec.Name)
			values[spec.Name] = v
		}
		out[s.module.ID()] = values
	}
	return out
}
