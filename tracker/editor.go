// Package tracker implements the editing model of the pattern grid: step
// mutations grouped into undoable batches, and the preview windows a
// change should be auditioned over. The package only edits data; turning
// an edit into sound is the player's job.
package tracker

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/tahti-studio/tahti"
)

type (
	// StepMutation records one step changing, with enough context to play
	// it back in either direction.
	StepMutation struct {
		Index    int
		Previous tahti.PatternStep
		Updated  tahti.PatternStep
	}

	// Batch groups the mutations of one user gesture, so a multi step
	// edit undoes in one go.
	Batch struct {
		ID        string
		Mutations []StepMutation
	}

	// PreviewRequest asks the player to audition the beats a batch
	// touched.
	PreviewRequest struct {
		Batch     Batch
		StartBeat float64
		EndBeat   float64
	}

	// PatternEditor edits one pattern, keeping an undo and a redo stack
	// of mutation batches.
	PatternEditor struct {
		pattern tahti.Pattern
		open    *Batch
		undo    []Batch
		redo    []Batch
	}
)

// NewPatternEditor wraps a copy of the pattern; the caller's value stays
// untouched until it reads Pattern back.
func NewPatternEditor(pattern tahti.Pattern) (*PatternEditor, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	return &PatternEditor{pattern: pattern.Copy()}, nil
}

// Pattern returns a copy of the edited pattern.
func (e *PatternEditor) Pattern() tahti.Pattern { return e.pattern.Copy() }

// Begin opens a batch: every mutation until Commit lands in it. Beginning
// twice is an authoring bug and panics early.
func (e *PatternEditor) Begin() {
	if e.open != nil {
		panic("tracker: Begin called with a batch already open")
	}
	e.open = &Batch{ID: uuid.NewString()}
}

// Commit closes the open batch and returns it. Committing an empty batch
// returns a batch with no mutations and pushes nothing.
func (e *PatternEditor) Commit() Batch {
	if e.open == nil {
		panic("tracker: Commit called with no open batch")
	}
	batch := *e.open
	e.open = nil
	if len(batch.Mutations) > 0 {
		e.undo = append(e.undo, batch)
		e.redo = e.redo[:0]
	}
	return batch
}

func (e *PatternEditor) record(m StepMutation) {
	if e.open != nil {
		e.open.Mutations = append(e.open.Mutations, m)
		return
	}
	e.undo = append(e.undo, Batch{ID: uuid.NewString(), Mutations: []StepMutation{m}})
	e.redo = e.redo[:0]
}

// growTo pads the step slice so index is addressable. Implicit empty
// steps past LengthSteps become explicit only when written to.
func (e *PatternEditor) growTo(index int) {
	for len(e.pattern.Steps) <= index {
		e.pattern.Steps = append(e.pattern.Steps, tahti.PatternStep{})
	}
}

func (e *PatternEditor) checkIndex(index int) error {
	if index < 0 || index >= e.pattern.Length() {
		return fmt.Errorf("%w: step %d outside the pattern's %d steps", tahti.ErrInvalidConfig, index, e.pattern.Length())
	}
	return nil
}

// SetStep overwrites a step.
func (e *PatternEditor) SetStep(index int, step tahti.PatternStep) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	if step.Note < 0 || step.Note > 127 || step.Velocity < 0 || step.Velocity > 127 {
		return fmt.Errorf("%w: step note %d velocity %d outside 0..127", tahti.ErrInvalidConfig, step.Note, step.Velocity)
	}
	e.growTo(index)
	m := StepMutation{Index: index, Previous: e.pattern.Steps[index].Copy(), Updated: step.Copy()}
	e.pattern.Steps[index] = step.Copy()
	e.record(m)
	return nil
}

// ClearStep empties a step.
func (e *PatternEditor) ClearStep(index int) error {
	return e.SetStep(index, tahti.PatternStep{})
}

// ApplyEffect sets one effect value on a step, keeping the rest of the
// step as it is.
func (e *PatternEditor) ApplyEffect(index int, name string, value float64) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	e.growTo(index)
	updated := e.pattern.Steps[index].Copy()
	if updated.Effects == nil {
		updated.Effects = map[string]float64{}
	}
	updated.Effects[name] = value
	return e.SetStep(index, updated)
}

// DuplicateRange copies steps [from, to) onto dest onwards, overwriting
// what is there. The ranges may not overlap.
func (e *PatternEditor) DuplicateRange(from, to, dest int) error {
	if from < 0 || to <= from || to > e.pattern.Length() {
		return fmt.Errorf("%w: range %d..%d outside the pattern", tahti.ErrInvalidConfig, from, to)
	}
	count := to - from
	if dest < 0 || dest+count > e.pattern.Length() {
		return fmt.Errorf("%w: destination %d does not fit %d steps", tahti.ErrInvalidConfig, dest, count)
	}
	if dest < to && from < dest+count {
		return fmt.Errorf("%w: source %d..%d overlaps destination %d", tahti.ErrInvalidConfig, from, to, dest)
	}
	implicit := e.open == nil
	if implicit {
		e.Begin()
	}
	for i := 0; i < count; i++ {
		if err := e.SetStep(dest+i, e.pattern.Step(from+i)); err != nil {
			if implicit {
				e.Commit()
			}
			return err
		}
	}
	if implicit {
		e.Commit()
	}
	return nil
}

// RotateRange rotates steps [from, to) forward by the given number of
// steps, wrapping within the range.
func (e *PatternEditor) RotateRange(from, to, by int) error {
	if from < 0 || to <= from || to > e.pattern.Length() {
		return fmt.Errorf("%w: range %d..%d outside the pattern", tahti.ErrInvalidConfig, from, to)
	}
	count := to - from
	by = ((by % count) + count) % count
	if by == 0 {
		return nil
	}
	original := make([]tahti.PatternStep, count)
	for i := range original {
		original[i] = e.pattern.Step(from + i)
	}
	implicit := e.open == nil
	if implicit {
		e.Begin()
	}
	for i := 0; i < count; i++ {
		if err := e.SetStep(from+(i+by)%count, original[i]); err != nil {
			if implicit {
				e.Commit()
			}
			return err
		}
	}
	if implicit {
		e.Commit()
	}
	return nil
}

// CanUndo reports whether an Undo would do anything.
func (e *PatternEditor) CanUndo() bool { return len(e.undo) > 0 }

// CanRedo reports whether a Redo would do anything.
func (e *PatternEditor) CanRedo() bool { return len(e.redo) > 0 }

// Undo reverts the newest batch, replaying its mutations backwards.
func (e *PatternEditor) Undo() (Batch, bool) {
	if len(e.undo) == 0 {
		return Batch{}, false
	}
	batch := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	for i := len(batch.Mutations) - 1; i >= 0; i-- {
		m := batch.Mutations[i]
		e.growTo(m.Index)
		e.pattern.Steps[m.Index] = m.Previous.Copy()
	}
	e.redo = append(e.redo, batch)
	return batch, true
}

// Redo reapplies the most recently undone batch.
func (e *PatternEditor) Redo() (Batch, bool) {
	if len(e.redo) == 0 {
		return Batch{}, false
	}
	batch := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]
	for _, m := range batch.Mutations {
		e.growTo(m.Index)
		e.pattern.Steps[m.Index] = m.Updated.Copy()
	}
	e.undo = append(e.undo, batch)
	return batch, true
}

// PreviewWindow computes the beat range auditioning a batch should cover:
// the touched steps, stretched by any held notes, and never narrower than
// half a step.
func (e *PatternEditor) PreviewWindow(batch Batch) (startBeat, endBeat float64) {
	grid := e.pattern.Grid()
	stepBeats := grid.StepsToBeats(1)
	start, end := math.Inf(1), math.Inf(-1)
	for _, m := range batch.Mutations {
		s := grid.StepToBeat(m.Index)
		start = math.Min(start, s)
		stepEnd := s + math.Max(stepBeats, m.Updated.Effect("length_beats", 0))
		if held := m.Previous.Effect("length_beats", 0); s+held > stepEnd {
			stepEnd = s + held
		}
		end = math.Max(end, stepEnd)
	}
	if math.IsInf(start, 1) {
		return 0, 0
	}
	if end-start < stepBeats/2 {
		end = start + stepBeats/2
	}
	return start, math.Min(end, e.pattern.DurationBeats())
}

// QueuePreview builds a preview request for the batch and offers it to
// enqueue, reporting whether it was accepted.
func (e *PatternEditor) QueuePreview(batch Batch, enqueue func(PreviewRequest) bool) bool {
	if len(batch.Mutations) == 0 {
		return false
	}
	start, end := e.PreviewWindow(batch)
	return enqueue(PreviewRequest{Batch: batch, StartBeat: start, EndBeat: end})
}
