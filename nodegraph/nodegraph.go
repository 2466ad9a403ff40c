// Package nodegraph models the node canvas of the instrument builder:
// typed node definitions, placed instances, connections between their
// ports and the checks that keep an authored patch renderable. A valid
// graph compiles down to a tahti.InstrumentDefinition the bridge can
// play.
//
// Cycles are rejected, with one documented exception: a definition may be
// flagged BreaksFeedback, which legalizes authored feedback through it by
// construction (such a node reads its input one block late, so the render
// order stays well defined). The compiled instrument itself is always
// acyclic; a patch whose cycle survives compilation fails there.
package nodegraph

import (
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tahti-studio/tahti"
)

type (
	// PortKind separates audio ports from control ports. Connections may
	// only join ports of the same kind.
	PortKind int

	// Port is one named input or output of a node definition.
	Port struct {
		Name string   `yaml:",omitempty"`
		Kind PortKind `yaml:",omitempty"`
	}

	// Definition is a node type: its ports, its parameters and the engine
	// module kind it compiles to. BreaksFeedback marks delay like nodes
	// whose incoming connections may close a loop.
	Definition struct {
		Type           string
		Kind           tahti.ModuleKind
		HasKind        bool
		Inputs         []Port
		Outputs        []Port
		Parameters     []tahti.ParameterSpec
		BreaksFeedback bool
	}

	// Instance is one placed node. X and Y are canvas coordinates kept
	// for the editor; the engine ignores them.
	Instance struct {
		ID     string             `yaml:",omitempty"`
		Type   string             `yaml:",omitempty"`
		Params map[string]float64 `yaml:",omitempty"`
		X      float64            `yaml:",omitempty"`
		Y      float64            `yaml:",omitempty"`
	}

	// Connection joins an output port of one instance to an input port of
	// another.
	Connection struct {
		From     string `yaml:",omitempty"`
		FromPort string `yaml:",omitempty"`
		To       string `yaml:",omitempty"`
		ToPort   string `yaml:",omitempty"`
	}

	// Graph is the authored node graph.
	Graph struct {
		definitions map[string]Definition
		Instances   []Instance   `yaml:",omitempty"`
		Connections []Connection `yaml:",omitempty"`
	}

	// ParameterMatrix tabulates every instance against the union of their
	// parameter names, for editor overlays. Cells without a parameter are
	// NaN.
	ParameterMatrix struct {
		Parameters []string
		Instances  []string
		Values     [][]float64
	}
)

const (
	PortAudio PortKind = iota
	PortControl
)

// DefaultDefinitions returns the node types matching the engine's module
// kinds.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Type: "sine", Kind: tahti.KindSineOscillator, HasKind: true,
			Outputs: []Port{{Name: "out"}},
			Parameters: []tahti.ParameterSpec{
				{Name: "amplitude", Default: 0.25, Min: 0, Max: 1},
				{Name: "frequency_hz", Default: 440, Min: 20, Max: 20000, Unit: "Hz"},
				{Name: "gate", Default: 1, Min: 0, Max: 1},
			},
		},
		{
			Type: "clip_sampler", Kind: tahti.KindClipSampler, HasKind: true,
			Outputs: []Port{{Name: "out"}},
			Parameters: []tahti.ParameterSpec{
				{Name: "velocity", Default: 100, Min: 0, Max: 127},
				{Name: "transpose_semitones", Default: 0, Min: -24, Max: 24},
			},
		},
		{
			Type: "amplitude_envelope", Kind: tahti.KindAmplitudeEnvelope, HasKind: true,
			Inputs:  []Port{{Name: "in"}},
			Outputs: []Port{{Name: "out"}},
			Parameters: []tahti.ParameterSpec{
				{Name: "gate", Default: 1, Min: 0, Max: 1},
				{Name: "attack_ms", Default: 10, Min: 0, Max: 5000, Unit: "ms"},
				{Name: "release_ms", Default: 120, Min: 0, Max: 5000, Unit: "ms"},
			},
		},
		{
			Type: "one_pole_lowpass", Kind: tahti.KindOnePoleLowPass, HasKind: true,
			Inputs:  []Port{{Name: "in"}},
			Outputs: []Port{{Name: "out"}},
			Parameters: []tahti.ParameterSpec{
				{Name: "cutoff_hz", Default: 4000, Min: 20, Max: 20000, Unit: "Hz"},
				{Name: "mix", Default: 1, Min: 0, Max: 1},
			},
		},
	}
}

// NewGraph returns an empty graph understanding the given node types.
func NewGraph(definitions []Definition) (*Graph, error) {
	g := &Graph{definitions: make(map[string]Definition, len(definitions))}
	for _, def := range definitions {
		if def.Type == "" {
			return nil, fmt.Errorf("%w: node definition has no type", tahti.ErrInvalidConfig)
		}
		if _, ok := g.definitions[def.Type]; ok {
			return nil, fmt.Errorf("%w: node type %q defined twice", tahti.ErrInvalidConfig, def.Type)
		}
		g.definitions[def.Type] = def
	}
	return g, nil
}

// Definition returns the definition of a node type.
func (g *Graph) Definition(nodeType string) (Definition, bool) {
	def, ok := g.definitions[nodeType]
	return def, ok
}

// AddInstance places a node on the canvas. The id must be unused and the
// type known.
func (g *Graph) AddInstance(instance Instance) error {
	if instance.ID == "" {
		return fmt.Errorf("%w: node instance has no id", tahti.ErrInvalidConfig)
	}
	if _, ok := g.instance(instance.ID); ok {
		return fmt.Errorf("%w: node id %q used twice", tahti.ErrInvalidConfig, instance.ID)
	}
	def, ok := g.definitions[instance.Type]
	if !ok {
		return fmt.Errorf("%w: no node type %q", tahti.ErrInvalidConfig, instance.Type)
	}
	for name := range instance.Params {
		if _, ok := findSpec(def.Parameters, name); !ok {
			return fmt.Errorf("%w: node type %q has no parameter %q", tahti.ErrUnknownParameter, instance.Type, name)
		}
	}
	g.Instances = append(g.Instances, instance)
	return nil
}

// Connect joins two ports. Both ends must exist, the kinds must match and
// an input port takes at most one connection.
func (g *Graph) Connect(c Connection) error {
	out, err := g.port(c.From, c.FromPort, false)
	if err != nil {
		return err
	}
	in, err := g.port(c.To, c.ToPort, true)
	if err != nil {
		return err
	}
	if out.Kind != in.Kind {
		return fmt.Errorf("%w: cannot connect %v port %q to %v port %q", tahti.ErrInvalidConfig, out.Kind, c.FromPort, in.Kind, c.ToPort)
	}
	for _, existing := range g.Connections {
		if existing.To == c.To && existing.ToPort == c.ToPort {
			return fmt.Errorf("%w: input %s.%s is already connected", tahti.ErrInvalidConfig, c.To, c.ToPort)
		}
	}
	g.Connections = append(g.Connections, c)
	return nil
}

func (g *Graph) instance(id string) (Instance, bool) {
	for _, inst := range g.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

func (g *Graph) port(id, portName string, input bool) (Port, error) {
	inst, ok := g.instance(id)
	if !ok {
		return Port{}, fmt.Errorf("%w: no node %q", tahti.ErrUnknownModule, id)
	}
	def := g.definitions[inst.Type]
	ports := def.Outputs
	side := "output"
	if input {
		ports, side = def.Inputs, "input"
	}
	for _, p := range ports {
		if p.Name == portName {
			return p, nil
		}
	}
	return Port{}, fmt.Errorf("%w: node %q has no %v port %q", tahti.ErrInvalidConfig, id, side, portName)
}

// TopologicalOrder returns the instance ids in evaluation order.
// Connections into a BreaksFeedback node do not count as ordering edges,
// which is what legalizes authored feedback through delay like nodes.
func (g *Graph) TopologicalOrder() ([]string, error) {
	index := make(map[string]int, len(g.Instances))
	for i, inst := range g.Instances {
		index[inst.ID] = i
	}
	indegree := make([]int, len(g.Instances))
	dependents := make([][]int, len(g.Instances))
	for _, c := range g.Connections {
		to := g.Instances[index[c.To]]
		if g.definitions[to.Type].BreaksFeedback {
			continue
		}
		indegree[index[c.To]]++
		dependents[index[c.From]] = append(dependents[index[c.From]], index[c.To])
	}
	queue := make([]int, 0, len(g.Instances))
	for i := range g.Instances {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]string, 0, len(g.Instances))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, g.Instances[i].ID)
		for _, d := range dependents[i] {
			if indegree[d]--; indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) != len(g.Instances) {
		stuck := make([]string, 0)
		for i, inst := range g.Instances {
			if indegree[i] > 0 {
				stuck = append(stuck, inst.ID)
			}
		}
		return nil, fmt.Errorf("%w: nodes %v form a loop", tahti.ErrCyclicGraph, stuck)
	}
	return order, nil
}

// ParameterMatrix tabulates every instance's parameter values, defaults
// filled in, overrides applied.
func (g *Graph) ParameterMatrix() ParameterMatrix {
	nameSet := map[string]bool{}
	for _, inst := range g.Instances {
		for _, spec := range g.definitions[inst.Type].Parameters {
			nameSet[spec.Name] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)
	matrix := ParameterMatrix{Parameters: names}
	for _, inst := range g.Instances {
		def := g.definitions[inst.Type]
		row := make([]float64, len(names))
		for i, name := range names {
			spec, ok := findSpec(def.Parameters, name)
			if !ok {
				row[i] = math.NaN()
				continue
			}
			row[i] = spec.Default
			if v, has := inst.Params[name]; has {
				row[i] = spec.Clamp(v)
			}
		}
		matrix.Instances = append(matrix.Instances, inst.ID)
		matrix.Values = append(matrix.Values, row)
	}
	return matrix
}

// Compile lowers the graph into an instrument definition. output names the
// instance whose signal is the instrument's voice; when empty, the single
// instance no audio connection reads from is used. Every instance must
// compile to an engine module kind, and the compiled graph must be acyclic
// even where the editor allowed feedback.
func (g *Graph) Compile(id, name, output string) (tahti.InstrumentDefinition, error) {
	if len(g.Instances) == 0 {
		return tahti.InstrumentDefinition{}, fmt.Errorf("%w: graph has no nodes", tahti.ErrInvalidConfig)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return tahti.InstrumentDefinition{}, err
	}
	if output == "" {
		if output, err = g.sink(); err != nil {
			return tahti.InstrumentDefinition{}, err
		}
	} else if _, ok := g.instance(output); !ok {
		return tahti.InstrumentDefinition{}, fmt.Errorf("%w: no node %q", tahti.ErrUnknownModule, output)
	}
	def := tahti.InstrumentDefinition{ID: id, Name: name, Output: output}
	for _, instID := range order {
		inst, _ := g.instance(instID)
		nodeDef := g.definitions[inst.Type]
		if !nodeDef.HasKind {
			return tahti.InstrumentDefinition{}, fmt.Errorf("%w: node type %q does not compile to an engine module", tahti.ErrInvalidConfig, inst.Type)
		}
		params := make(map[string]float64, len(inst.Params))
		for k, v := range inst.Params {
			params[k] = v
		}
		def.Modules = append(def.Modules, tahti.ModuleConfig{
			ID:     inst.ID,
			Kind:   nodeDef.Kind,
			Inputs: g.audioInputs(inst.ID, nodeDef),
			Params: params,
		})
	}
	if err := def.Validate(); err != nil {
		return tahti.InstrumentDefinition{}, err
	}
	return def, nil
}

// audioInputs lists the instances feeding a node's audio inputs, in the
// port order of its definition.
func (g *Graph) audioInputs(id string, def Definition) []string {
	var inputs []string
	for _, port := range def.Inputs {
		if port.Kind != PortAudio {
			continue
		}
		for _, c := range g.Connections {
			if c.To == id && c.ToPort == port.Name {
				inputs = append(inputs, c.From)
			}
		}
	}
	return inputs
}

// sink finds the unique instance nothing reads audio from.
func (g *Graph) sink() (string, error) {
	read := map[string]bool{}
	for _, c := range g.Connections {
		read[c.From] = true
	}
	var sinks []string
	for _, inst := range g.Instances {
		if !read[inst.ID] {
			sinks = append(sinks, inst.ID)
		}
	}
	if len(sinks) != 1 {
		return "", fmt.Errorf("%w: cannot pick an output from %v terminal nodes", tahti.ErrInvalidConfig, len(sinks))
	}
	return sinks[0], nil
}

// MarshalYAML serializes the authored part of the graph: the instances and
// their connections. Definitions are a registry, not document content.
func (g *Graph) MarshalYAML() (interface{}, error) {
	return struct {
		Instances   []Instance   `yaml:",omitempty"`
		Connections []Connection `yaml:",omitempty"`
	}{g.Instances, g.Connections}, nil
}

// ParseGraph reads a serialized graph back, revalidating every instance
// and connection against the definitions.
func ParseGraph(data []byte, definitions []Definition) (*Graph, error) {
	var doc struct {
		Instances   []Instance   `yaml:",omitempty"`
		Connections []Connection `yaml:",omitempty"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("could not parse node graph: %v", err)
	}
	g, err := NewGraph(definitions)
	if err != nil {
		return nil, err
	}
	for _, inst := range doc.Instances {
		if err := g.AddInstance(inst); err != nil {
			return nil, err
		}
	}
	for _, c := range doc.Connections {
		if err := g.Connect(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func findSpec(specs []tahti.ParameterSpec, name string) (tahti.ParameterSpec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return tahti.ParameterSpec{}, false
}

func (k PortKind) String() string {
	if k == PortControl {
		return "control"
	}
	return "audio"
}
