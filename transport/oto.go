//go:build !headless

package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/render"
)

// Device plays the ring through the system audio output.
type Device struct {
	*pacer
	ctx    *oto.Context
	player *oto.Player
	mu     sync.Mutex
}

var _ render.Transport = (*Device)(nil)

// DeviceConfig parameterizes a [Device].
type DeviceConfig struct {
	SampleRate int
	// Capacity is the ring size in frames.
	Capacity int
	// Window bounds a single render pass.
	Window int
	// Latency is the device's own buffer.
	Latency time.Duration
}

// NewDevice opens the default audio output.
// Only one device may be open per process.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	r, err := newRing(cfg.Capacity, cfg.Window)
	if err != nil {
		return nil, err
	}
	p, err := newPacer(r, cfg.SampleRate, nil)
	if err != nil {
		return nil, err
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.Latency,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening audio device: %w",
			streamsynth.ErrInvalidConfig, err)
	}
	<-ready
	d := &Device{pacer: p, ctx: ctx}
	d.player = ctx.NewPlayer(&pcmReader{ring: r})
	return d, nil
}

// Start begins pulling frames from the ring.
func (d *Device) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil && !d.player.IsPlaying() {
		d.player.Play()
	}
}

// Close stops playback. The ring is left intact.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	return err
}
