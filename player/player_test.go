package player_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/bridge"
	"github.com/tahti-studio/tahti/player"
)

func testInstrument() tahti.InstrumentDefinition {
	return tahti.InstrumentDefinition{
		ID:   "lead",
		Name: "Lead",
		Modules: []tahti.ModuleConfig{
			{ID: "osc", Kind: tahti.KindSineOscillator, Params: map[string]float64{"amplitude": 0.5}},
			{ID: "env", Kind: tahti.KindAmplitudeEnvelope, Inputs: []string{"osc"},
				Params: map[string]float64{"attack_ms": 1, "release_ms": 20, "gate": 0}},
		},
		Output: "env",
	}
}

func testPattern() tahti.Pattern {
	return tahti.Pattern{
		Name:         "ping",
		StepsPerBeat: 4,
		LengthSteps:  2,
		Steps: []tahti.PatternStep{
			{Note: 60, Velocity: 100, Instrument: "lead"},
		},
	}
}

func testOptions() bridge.RenderOptions {
	return bridge.RenderOptions{
		Audio: tahti.EngineConfig{SampleRate: 8000, BlockSize: 64, Channels: 2},
		Tempo: tahti.TempoMap{BPM: 120},
	}
}

func TestWorkerCompletesRequestsInOrder(t *testing.T) {
	w := player.NewWorker(4)
	defer w.Close()
	done := make(chan player.Result, 4)
	w.OnComplete(func(r player.Result) { done <- r })
	first := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, testOptions())
	second := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, testOptions())
	if !w.Submit(first) || !w.Submit(second) {
		t.Fatal("submissions should be accepted by an empty queue")
	}
	for i, want := range []string{first.ID, second.ID} {
		select {
		case r := <-done:
			if r.Request.ID != want {
				t.Fatalf("completion %d: got request %v, want %v", i, r.Request.ID, want)
			}
			if r.Err != nil {
				t.Fatalf("completion %d: unexpected error %v", i, r.Err)
			}
			if r.Playback == nil || r.Playback.Buffer.Frames() == 0 {
				t.Fatalf("completion %d: expected a rendered playback", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for completion %d", i)
		}
	}
	last, ok := w.Last()
	if !ok || last.Request.ID != second.ID {
		t.Fatalf("Last() = %v, %v, want the second request", last.Request.ID, ok)
	}
}

func TestWorkerHonorsCancellation(t *testing.T) {
	w := player.NewWorker(1)
	defer w.Close()
	done := make(chan player.Result, 1)
	w.OnComplete(func(r player.Result) { done <- r })
	req := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, testOptions())
	req.Cancel()
	req.Cancel() // cancelling twice is fine
	if !w.Submit(req) {
		t.Fatal("submission should be accepted")
	}
	select {
	case r := <-done:
		if !errors.Is(r.Err, player.ErrCancelled) {
			t.Fatalf("got error %v, want ErrCancelled", r.Err)
		}
		if r.Playback != nil {
			t.Fatal("a cancelled render should not produce a playback")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the cancelled request")
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	w := player.NewWorker(1)
	defer w.Close()
	gate := make(chan struct{})
	defer close(gate)
	blocking := testOptions()
	blocking.BlockHook = func(int) error { <-gate; return nil }
	busy := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, blocking)
	if !w.Submit(busy) {
		t.Fatal("first submission should be accepted")
	}
	// Wait until the worker has picked up the busy request, leaving the
	// queue empty again.
	deadline := time.Now().Add(5 * time.Second)
	queued := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, testOptions())
	for !w.Submit(queued) {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the blocking request")
		}
		time.Sleep(time.Millisecond)
	}
	overflow := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, testOptions())
	if w.Submit(overflow) {
		t.Fatal("submission to a full queue should be rejected")
	}
	busy.Cancel()
}

func TestCloseDropsQueuedRequests(t *testing.T) {
	w := player.NewWorker(2)
	done := make(chan player.Result, 2)
	w.OnComplete(func(r player.Result) { done <- r })
	gate := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	blocking := testOptions()
	blocking.BlockHook = func(int) error {
		once.Do(func() { close(started) })
		<-gate
		return nil
	}
	busy := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, blocking)
	if !w.Submit(busy) {
		t.Fatal("first submission should be accepted")
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never started the blocking request")
	}
	queued := player.NewRequest(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, testOptions())
	if !w.Submit(queued) {
		t.Fatal("second submission should be accepted")
	}
	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	// Give Close a moment to queue the shutdown before the render in
	// progress is released.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close never returned")
	}
	select {
	case r := <-done:
		if r.Request.ID != busy.ID {
			t.Fatalf("got completion for %v, want the in-progress request %v", r.Request.ID, busy.ID)
		}
	default:
		t.Fatal("the in-progress request should still complete")
	}
	select {
	case r := <-done:
		t.Fatalf("request %v rendered after Close", r.Request.ID)
	default:
	}
}

type collectingSink struct {
	samples []float32
	closed  bool
}

func (s *collectingSink) WriteAudio(buf []float32) error {
	s.samples = append(s.samples, buf...)
	return nil
}

func (s *collectingSink) Close() error {
	s.closed = true
	return nil
}

type collectingContext struct{ sink collectingSink }

func (c *collectingContext) Output() tahti.AudioSink { return &c.sink }
func (c *collectingContext) Close() error            { return nil }

func TestPlayStreamsWholeBuffer(t *testing.T) {
	playback, err := bridge.RenderPattern(testPattern(), []tahti.InstrumentDefinition{testInstrument()}, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	ctx := &collectingContext{}
	if err := player.Play(ctx, playback); err != nil {
		t.Fatal(err)
	}
	want := playback.Buffer.Interleaved()
	if len(ctx.sink.samples) != len(want) {
		t.Fatalf("streamed %d samples, want %d", len(ctx.sink.samples), len(want))
	}
	for i, s := range want {
		if ctx.sink.samples[i] != s {
			t.Fatalf("sample %d: got %v, want %v", i, ctx.sink.samples[i], s)
		}
	}
	if !ctx.sink.closed {
		t.Fatal("Play should close the sink when done")
	}
}
