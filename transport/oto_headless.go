//go:build headless

package transport

import (
	"sync"
	"time"

	"github.com/djdv/go-streamsynth/render"
)

// Device consumes the ring in real time without producing sound,
// for machines with no audio output.
type Device struct {
	*pacer
	sampleRate int
	stop       chan struct{}
	once       sync.Once
	started    sync.Once
}

var _ render.Transport = (*Device)(nil)

// DeviceConfig parameterizes a [Device]. Latency is ignored.
type DeviceConfig struct {
	SampleRate int
	Capacity   int
	Window     int
	Latency    time.Duration
}

// NewDevice prepares a silent consumer; nothing runs until [Device.Start].
func NewDevice(cfg DeviceConfig) (*Device, error) {
	r, err := newRing(cfg.Capacity, cfg.Window)
	if err != nil {
		return nil, err
	}
	p, err := newPacer(r, cfg.SampleRate, nil)
	if err != nil {
		return nil, err
	}
	return &Device{
		pacer:      p,
		sampleRate: cfg.SampleRate,
		stop:       make(chan struct{}),
	}, nil
}

const headlessPeriod = 10 * time.Millisecond

// Start begins consuming frames at the sample rate.
func (d *Device) Start() {
	d.started.Do(func() {
		go func() {
			var (
				ticker  = time.NewTicker(headlessPeriod)
				scratch = make([]render.Frame, d.sampleRate*int(headlessPeriod)/int(time.Second))
			)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					d.take(scratch)
				case <-d.stop:
					return
				}
			}
		}()
	})
}

// Close stops the consumer.
func (d *Device) Close() error {
	d.once.Do(func() { close(d.stop) })
	return nil
}
