// Package audio provides the output backend boundary: a callback-driven
// interface over interleaved stereo float32 buffers, with a real device
// implementation on top of the ebiten audio context and a simulated
// implementation for headless runs and tests.
package audio

// Callback fills an interleaved stereo buffer; frame count is len(buf)/2.
// It runs on the audio thread and must never block.
type Callback func(interleaved []float32)

// Config selects the output device and stream geometry.
type Config struct {
	DeviceID         string
	SampleRateHz     uint32
	BufferSizeFrames uint32
}

// DeviceInfo describes one selectable output device.
type DeviceInfo struct {
	ID        string
	Name      string
	IsDefault bool
}

// Stats accumulates per-callback timing on backends that drive their own
// callback pacing. Device backends that pull on demand report counts only.
type Stats struct {
	CallbackCount             uint64
	XrunCount                 uint64
	AverageCallbackDurationUs float64
	PeakCallbackDurationUs    float64
	AverageCallbackIntervalUs float64
	PeakCallbackIntervalUs    float64
}

// Backend is the capability the runtime needs from audio output: start a
// periodic callback stream, stop it, and report health. Stop joins the
// callback source, which is safe because callbacks never block.
type Backend interface {
	Start(config Config, callback Callback) error
	Stop()
	IsRunning() bool
	OutputDevices() []DeviceInfo
	Stats() Stats
}
