package nodegraph_test

import (
	"errors"
	"math"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/nodegraph"
)

func buildLead(t *testing.T) *nodegraph.Graph {
	t.Helper()
	g, err := nodegraph.NewGraph(nodegraph.DefaultDefinitions())
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	for _, inst := range []nodegraph.Instance{
		{ID: "osc", Type: "sine", Params: map[string]float64{"amplitude": 0.5}},
		{ID: "env", Type: "amplitude_envelope", X: 120},
		{ID: "lp", Type: "one_pole_lowpass", X: 240, Params: map[string]float64{"cutoff_hz": 6000}},
	} {
		if err := g.AddInstance(inst); err != nil {
			t.Fatalf("AddInstance(%v) failed: %v", inst.ID, err)
		}
	}
	for _, c := range []nodegraph.Connection{
		{From: "osc", FromPort: "out", To: "env", ToPort: "in"},
		{From: "env", FromPort: "out", To: "lp", ToPort: "in"},
	} {
		if err := g.Connect(c); err != nil {
			t.Fatalf("Connect(%v->%v) failed: %v", c.From, c.To, err)
		}
	}
	return g
}

func TestGraphRejectsDuplicateAndUnknown(t *testing.T) {
	g := buildLead(t)
	if err := g.AddInstance(nodegraph.Instance{ID: "osc", Type: "sine"}); !errors.Is(err, tahti.ErrInvalidConfig) {
		t.Fatalf("duplicate id: expected ErrInvalidConfig, got %v", err)
	}
	if err := g.AddInstance(nodegraph.Instance{ID: "x", Type: "warbler"}); !errors.Is(err, tahti.ErrInvalidConfig) {
		t.Fatalf("unknown type: expected ErrInvalidConfig, got %v", err)
	}
	if err := g.Connect(nodegraph.Connection{From: "osc", FromPort: "out", To: "env", ToPort: "in"}); !errors.Is(err, tahti.ErrInvalidConfig) {
		t.Fatalf("double connection to one input: expected ErrInvalidConfig, got %v", err)
	}
	if err := g.Connect(nodegraph.Connection{From: "osc", FromPort: "out", To: "lp", ToPort: "sidechain"}); !errors.Is(err, tahti.ErrInvalidConfig) {
		t.Fatalf("unknown port: expected ErrInvalidConfig, got %v", err)
	}
}

func TestTopologicalOrderAndCycleRejection(t *testing.T) {
	g := buildLead(t)
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder failed: %v", err)
	}
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["osc"] < pos["env"] && pos["env"] < pos["lp"]) {
		t.Fatalf("order %v does not follow the signal flow", order)
	}

	defs := append(nodegraph.DefaultDefinitions(), nodegraph.Definition{
		Type:    "gain",
		Inputs:  []nodegraph.Port{{Name: "in"}},
		Outputs: []nodegraph.Port{{Name: "out"}},
	})
	cyclic, _ := nodegraph.NewGraph(defs)
	cyclic.AddInstance(nodegraph.Instance{ID: "a", Type: "gain"})
	cyclic.AddInstance(nodegraph.Instance{ID: "b", Type: "gain"})
	cyclic.Connect(nodegraph.Connection{From: "a", FromPort: "out", To: "b", ToPort: "in"})
	cyclic.Connect(nodegraph.Connection{From: "b", FromPort: "out", To: "a", ToPort: "in"})
	if _, err := cyclic.TopologicalOrder(); !errors.Is(err, tahti.ErrCyclicGraph) {
		t.Fatalf("expected ErrCyclicGraph, got %v", err)
	}
}

func TestFeedbackLegalizedThroughDelayNode(t *testing.T) {
	defs := append(nodegraph.DefaultDefinitions(),
		nodegraph.Definition{
			Type:    "gain",
			Inputs:  []nodegraph.Port{{Name: "in"}},
			Outputs: []nodegraph.Port{{Name: "out"}},
		},
		nodegraph.Definition{
			Type:           "delay_line",
			Inputs:         []nodegraph.Port{{Name: "in"}},
			Outputs:        []nodegraph.Port{{Name: "out"}},
			BreaksFeedback: true,
		})
	g, _ := nodegraph.NewGraph(defs)
	g.AddInstance(nodegraph.Instance{ID: "amp", Type: "gain"})
	g.AddInstance(nodegraph.Instance{ID: "fb", Type: "delay_line"})
	g.Connect(nodegraph.Connection{From: "amp", FromPort: "out", To: "fb", ToPort: "in"})
	g.Connect(nodegraph.Connection{From: "fb", FromPort: "out", To: "amp", ToPort: "in"})
	if _, err := g.TopologicalOrder(); err != nil {
		t.Fatalf("feedback through a delay node should validate, got %v", err)
	}
}

func TestParameterMatrix(t *testing.T) {
	g := buildLead(t)
	matrix := g.ParameterMatrix()
	col := -1
	for i, name := range matrix.Parameters {
		if name == "cutoff_hz" {
			col = i
		}
	}
	if col < 0 {
		t.Fatalf("cutoff_hz missing from matrix columns %v", matrix.Parameters)
	}
	for i, id := range matrix.Instances {
		switch id {
		case "lp":
			if matrix.Values[i][col] != 6000 {
				t.Fatalf("lp cutoff override not applied: %v", matrix.Values[i][col])
			}
		default:
			if !math.IsNaN(matrix.Values[i][col]) {
				t.Fatalf("%v should have no cutoff cell, got %v", id, matrix.Values[i][col])
			}
		}
	}
}

func TestSineDefinitionCarriesGate(t *testing.T) {
	for _, d := range nodegraph.DefaultDefinitions() {
		if d.Type != "sine" {
			continue
		}
		for _, p := range d.Parameters {
			if p.Name == "gate" {
				if p.Default != 1 {
					t.Fatalf("gate should default open, got %v", p.Default)
				}
				return
			}
		}
		t.Fatalf("sine definition misses its gate parameter: %+v", d.Parameters)
	}
	t.Fatal("no sine definition registered")
}

func TestCompileToInstrument(t *testing.T) {
	g := buildLead(t)
	def, err := g.Compile("lead", "Lead", "")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if def.Output != "lp" {
		t.Fatalf("expected the filter as the compiled output, got %q", def.Output)
	}
	if len(def.Modules) != 3 {
		t.Fatalf("expected 3 compiled modules, got %v", len(def.Modules))
	}
	for _, m := range def.Modules {
		if m.ID == "env" && (len(m.Inputs) != 1 || m.Inputs[0] != "osc") {
			t.Fatalf("envelope should read from the oscillator, got %v", m.Inputs)
		}
	}
}

func TestGraphYAMLRoundTrip(t *testing.T) {
	g := buildLead(t)
	data, err := yaml.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := nodegraph.ParseGraph(data, nodegraph.DefaultDefinitions())
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	if len(parsed.Instances) != 3 || len(parsed.Connections) != 2 {
		t.Fatalf("round trip lost content: %v instances, %v connections", len(parsed.Instances), len(parsed.Connections))
	}
	if _, err := parsed.Compile("lead", "Lead", ""); err != nil {
		t.Fatalf("round tripped graph should still compile: %v", err)
	}
}
