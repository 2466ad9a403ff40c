package tracker_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/tracker"
)

func newEditor(t *testing.T) *tracker.PatternEditor {
	t.Helper()
	e, err := tracker.NewPatternEditor(tahti.Pattern{
		StepsPerBeat: 4,
		LengthSteps:  8,
		Steps: []tahti.PatternStep{
			{Note: 60, Velocity: 100},
			{},
			{Note: 64, Velocity: 90},
			{},
		},
	})
	if err != nil {
		t.Fatalf("NewPatternEditor failed: %v", err)
	}
	return e
}

func TestSetStepUndoRedo(t *testing.T) {
	e := newEditor(t)
	original := e.Pattern()
	if err := e.SetStep(1, tahti.PatternStep{Note: 62, Velocity: 80}); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	changed := e.Pattern()
	if changed.Steps[1].Note != 62 {
		t.Fatalf("step not written: %+v", changed.Steps[1])
	}
	if _, ok := e.Undo(); !ok {
		t.Fatalf("expected an undoable batch")
	}
	if !reflect.DeepEqual(e.Pattern().Steps, original.Steps) {
		t.Fatalf("undo did not restore the pattern")
	}
	if _, ok := e.Redo(); !ok {
		t.Fatalf("expected a redoable batch")
	}
	if !reflect.DeepEqual(e.Pattern().Steps, changed.Steps) {
		t.Fatalf("redo did not reapply the edit")
	}
}

func TestBatchUndoesAsOne(t *testing.T) {
	e := newEditor(t)
	original := e.Pattern()
	e.Begin()
	e.SetStep(4, tahti.PatternStep{Note: 67})
	e.SetStep(5, tahti.PatternStep{Note: 69})
	e.ApplyEffect(5, "length_beats", 0.5)
	batch := e.Commit()
	if len(batch.Mutations) != 3 {
		t.Fatalf("expected 3 mutations in the batch, got %v", len(batch.Mutations))
	}
	if batch.ID == "" {
		t.Fatalf("batch should carry an id")
	}
	if _, ok := e.Undo(); !ok {
		t.Fatalf("expected the batch to undo")
	}
	if !reflect.DeepEqual(e.Pattern().Steps, original.Steps) {
		t.Fatalf("undoing the batch did not restore all three edits")
	}
}

func TestEditInvalidatesRedo(t *testing.T) {
	e := newEditor(t)
	e.SetStep(1, tahti.PatternStep{Note: 62})
	e.Undo()
	e.SetStep(1, tahti.PatternStep{Note: 65})
	if e.CanRedo() {
		t.Fatalf("a fresh edit should clear the redo stack")
	}
}

func TestDuplicateAndRotateRange(t *testing.T) {
	e := newEditor(t)
	if err := e.DuplicateRange(0, 4, 4); err != nil {
		t.Fatalf("DuplicateRange failed: %v", err)
	}
	p := e.Pattern()
	if p.Steps[4].Note != 60 || p.Steps[6].Note != 64 {
		t.Fatalf("range not duplicated: %+v", p.Steps[4:8])
	}
	if err := e.DuplicateRange(0, 4, 2); !errors.Is(err, tahti.ErrInvalidConfig) {
		t.Fatalf("overlapping duplicate: expected ErrInvalidConfig, got %v", err)
	}
	if err := e.RotateRange(0, 4, 1); err != nil {
		t.Fatalf("RotateRange failed: %v", err)
	}
	p = e.Pattern()
	if p.Steps[1].Note != 60 || p.Steps[3].Note != 64 {
		t.Fatalf("range not rotated: %+v", p.Steps[0:4])
	}
	if _, ok := e.Undo(); !ok {
		t.Fatalf("rotate should undo as one batch")
	}
	if p := e.Pattern(); p.Steps[0].Note != 60 {
		t.Fatalf("undo of rotate failed: %+v", p.Steps[0:4])
	}
}

func TestPreviewWindow(t *testing.T) {
	e := newEditor(t)
	e.Begin()
	e.SetStep(2, tahti.PatternStep{Note: 65, Effects: map[string]float64{"length_beats": 1}})
	batch := e.Commit()
	start, end := e.PreviewWindow(batch)
	if start != 0.5 {
		t.Fatalf("expected the window to start at beat 0.5, got %v", start)
	}
	if end != 1.5 {
		t.Fatalf("expected the held note to stretch the window to beat 1.5, got %v", end)
	}

	e.Begin()
	e.ClearStep(0)
	short := e.Commit()
	start, end = e.PreviewWindow(short)
	if end-start < 0.125 {
		t.Fatalf("window %v..%v narrower than half a step", start, end)
	}
}

func TestQueuePreview(t *testing.T) {
	e := newEditor(t)
	e.SetStep(1, tahti.PatternStep{Note: 62})
	batch, _ := e.Undo()
	var got tracker.PreviewRequest
	accepted := e.QueuePreview(batch, func(r tracker.PreviewRequest) bool {
		got = r
		return true
	})
	if !accepted || got.Batch.ID != batch.ID {
		t.Fatalf("preview request not forwarded: %+v", got)
	}
	if e.QueuePreview(tracker.Batch{}, func(tracker.PreviewRequest) bool { return true }) {
		t.Fatalf("an empty batch should not queue a preview")
	}
}
