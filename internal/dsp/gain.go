// Package dsp holds small stateless block processors applied after voice
// mixing.
package dsp

// GainProcessor scales a mono buffer by a clamped master gain.
type GainProcessor struct {
	gain float32
}

func NewGainProcessor() *GainProcessor {
	return &GainProcessor{gain: 1}
}

// SetGain clamps to [0, 2]; values above unity allow modest makeup gain.
func (g *GainProcessor) SetGain(gain float32) {
	if gain < 0 {
		gain = 0
	}
	if gain > 2 {
		gain = 2
	}
	g.gain = gain
}

func (g *GainProcessor) Gain() float32 { return g.gain }

// Process scales buf in place. Real-time safe.
func (g *GainProcessor) Process(buf []float32) {
	if g.gain == 1 {
		return
	}
	for i := range buf {
		buf[i] *= g.gain
	}
}
