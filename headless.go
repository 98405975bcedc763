package drumbox

import (
	"fmt"
	"math"

	"github.com/oakmoss/drumbox-go/internal/engine"
)

// HeadlessResult summarizes an offline render for smoke and soak checks.
type HeadlessResult struct {
	Blocks         int
	Frames         uint64
	PeakAmplitude  float64
	EngineStats    engine.PerformanceStats
	TimelineSample uint64
}

// RunHeadlessSession renders the default groove offline by driving the
// audio callback directly, with no audio or MIDI device involved. It fails
// if the output ever goes non-finite or stays effectively silent, which
// catches broken voice math long before anyone plugs in speakers.
func RunHeadlessSession(sampleRateHz, bufferSizeFrames uint32, blocks int) (HeadlessResult, error) {
	var result HeadlessResult
	if sampleRateHz == 0 || bufferSizeFrames == 0 || blocks <= 0 {
		return result, fmt.Errorf("invalid headless session geometry: rate=%d frames=%d blocks=%d",
			sampleRateHz, bufferSizeFrames, blocks)
	}

	r := New()
	r.config.Audio = engine.DeviceConfig{
		SampleRateHz:     sampleRateHz,
		BufferSizeFrames: bufferSizeFrames,
		DeviceID:         "headless",
	}
	if !r.engine.SetDeviceConfig(r.config.Audio) {
		return result, fmt.Errorf("engine rejected device config %d Hz / %d frames",
			sampleRateHz, bufferSizeFrames)
	}
	r.engine.SetMasterGain(defaultMasterGain)
	r.engine.SetProfilingEnabled(true)

	if err := r.LoadStarterKit(); err != nil {
		return result, err
	}
	r.SetTransportRunning(true)

	interleaved := make([]float32, bufferSizeFrames*2)
	peak := 0.0
	for block := 0; block < blocks; block++ {
		r.handleAudioCallback(interleaved)
		for _, v := range interleaved {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return result, fmt.Errorf("non-finite sample in block %d", block)
			}
			if a := math.Abs(f); a > peak {
				peak = a
			}
		}
	}

	r.SetTransportRunning(false)
	// One more block so the stop command actually drains.
	r.handleAudioCallback(interleaved)

	result = HeadlessResult{
		Blocks:         blocks,
		Frames:         uint64(blocks+1) * uint64(bufferSizeFrames),
		PeakAmplitude:  peak,
		EngineStats:    r.engine.PerformanceStats(),
		TimelineSample: r.timelineSample.Load(),
	}

	if peak < 0.001 {
		return result, fmt.Errorf("output effectively silent, peak %.6f", peak)
	}
	return result, nil
}
