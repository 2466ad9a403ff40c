// Package oto plays audio through the system sound device. It adapts the
// pull based oto player to the push based AudioSink interface with a pipe:
// WriteAudio feeds one end, the device drains the other.
package oto

import (
	"fmt"
	"io"
	"time"

	oto "github.com/ebitengine/oto/v3"

	"github.com/tahti-studio/tahti"
)

type (
	Context struct {
		ctx        *oto.Context
		sampleRate int
		channels   int
	}

	Output struct {
		player    *oto.Player
		pipe      *io.PipeWriter
		tmpBuffer []byte
	}
)

// The device side buffer. Large enough to ride out scheduling hiccups,
// small enough that playback starts without a noticeable wait.
const playerBufferDuration = 100 * time.Millisecond

// NewContext opens the sound device for the given sample rate and channel
// count. Only one context can exist per process; open it once and reuse it.
func NewContext(config tahti.EngineConfig) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: config.SampleRate, channels: config.Channels}, nil
}

// Output returns a sink that plays whatever is written to it. The sink
// starts playing immediately and keeps going until closed.
func (c *Context) Output() tahti.AudioSink {
	r, w := io.Pipe()
	player := c.ctx.NewPlayer(r)
	bytesPerSecond := c.sampleRate * c.channels * 4
	player.SetBufferSize(int(playerBufferDuration) * bytesPerSecond / int(time.Second))
	player.Play()
	return &Output{player: player, pipe: w}
}

// Close suspends the sound device. The underlying context cannot be torn
// down, so a closed context can be reopened by creating sinks again.
func (c *Context) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (o *Output) WriteAudio(buffer []float32) error {
	// reuse the old capacity of tmpBuffer by setting its length to zero,
	// then save it so the next write starts from the grown slice
	o.tmpBuffer = floatBufferToLE(buffer, o.tmpBuffer[:0])
	if _, err := o.pipe.Write(o.tmpBuffer); err != nil {
		return fmt.Errorf("cannot write to player: %w", err)
	}
	return nil
}

// Close waits until everything written has actually sounded, then releases
// the player.
func (o *Output) Close() error {
	if err := o.pipe.Close(); err != nil {
		return fmt.Errorf("cannot close pipe: %w", err)
	}
	for o.player.IsPlaying() && o.player.BufferedSize() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
