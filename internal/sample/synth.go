package sample

import "math"

const twoPi = math.Pi * 2

// Synthetic returns a generated drum hit for a track, used when no starter
// WAV asset is available. Lower tracks get lower fundamentals and slower
// decay so a bare install still sounds like a kit.
func Synthetic(trackIndex int, sampleRateHz uint32) []float32 {
	length := int(sampleRateHz / 8)
	if length < 512 {
		length = 512
	}
	out := make([]float32, length)

	frequency := 45.0 + 12.0*float64(trackIndex)
	decay := 5.5 + 0.5*float64(trackIndex)

	for frame := range out {
		t := float64(frame) / float64(sampleRateHz)
		envelope := math.Exp(-decay * t)
		sine := math.Sin(twoPi*frequency*t + 0.21*float64(trackIndex))
		noise := math.Sin(twoPi*(4000.0+220.0*float64(trackIndex))*t) * 0.2
		v := (sine*0.85 + noise) * envelope
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[frame] = float32(v)
	}
	return out
}
