package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// StreamReader adapts a pull of float32 LE bytes (what the ebiten player
// reads) to the push-style stereo callback the runtime implements.
type StreamReader struct {
	mu       sync.Mutex
	callback Callback
	buf      []float32
	count    atomic.Uint64
}

func NewStreamReader(callback Callback) *StreamReader {
	return &StreamReader{callback: callback}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8 // 2 channels * 4 bytes
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.callback(r.buf)
	r.count.Add(1)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

// Callbacks reports how many buffers have been pulled so far.
func (r *StreamReader) Callbacks() uint64 { return r.count.Load() }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// sharedContext returns the process-wide ebiten audio context. The library
// allows exactly one context per process, so a second rate is an error.
func sharedContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// DeviceBackend renders through the platform output device. The device
// itself paces the callback by pulling from the StreamReader.
type DeviceBackend struct {
	mu      sync.Mutex
	player  *ebitaudio.Player
	reader  *StreamReader
	running bool
}

func NewDeviceBackend() *DeviceBackend {
	return &DeviceBackend{}
}

func (d *DeviceBackend) Start(config Config, callback Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if config.SampleRateHz == 0 || config.BufferSizeFrames == 0 || callback == nil {
		return errors.New("invalid audio backend configuration")
	}

	ctx, err := sharedContext(int(config.SampleRateHz))
	if err != nil {
		return err
	}
	reader := NewStreamReader(callback)
	player, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return fmt.Errorf("create device player: %w", err)
	}

	d.reader = reader
	d.player = player
	d.player.Play()
	d.running = true
	return nil
}

func (d *DeviceBackend) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.player.Pause()
	d.player.Close()
	d.player = nil
	d.running = false
}

func (d *DeviceBackend) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *DeviceBackend) OutputDevices() []DeviceInfo {
	return []DeviceInfo{{ID: "default", Name: "System Output", IsDefault: true}}
}

func (d *DeviceBackend) Stats() Stats {
	d.mu.Lock()
	reader := d.reader
	d.mu.Unlock()
	if reader == nil {
		return Stats{}
	}
	return Stats{CallbackCount: reader.Callbacks()}
}
