package drumbox

import (
	"math"
	"sort"
)

// sequencerState converts elapsed audio frames into step advances. Owned
// exclusively by the audio thread; never touched concurrently.
type sequencerState struct {
	currentStep           int
	samplesToNextStep     float64
	timelineSample        uint64
	emitStepOnNextProcess bool
	callbacksSinceStart   uint64
}

// triggerEvent schedules one voice start at an exact frame offset within
// the current block. Built fresh every callback.
type triggerEvent struct {
	offset     int
	trackIndex int
	velocity   float32
}

// stepIntervalSamples computes the sixteenth-note interval for a step at
// the current tempo and swing. Swing lengthens even steps and shortens odd
// ones by the same proportion; step parity is the rule, not beat position.
func (r *Runtime) stepIntervalSamples(stepIndex int) float64 {
	bpm := float64(clampRange(r.TempoBPM(), 20, 300))
	sampleRate := float64(r.config.Audio.SampleRateHz)
	if sampleRate < 1 {
		sampleRate = 1
	}
	base := sampleRate * 60 / bpm / 4

	swing := float64(clampRange(r.Swing(), 0, 0.45))
	if swing <= epsilon {
		return base
	}
	if stepIndex%2 == 0 {
		return base * (1 + swing)
	}
	return base * (1 - swing)
}

const epsilon = 2.220446049250313e-16 // math.Nextafter(1, 2) - 1

// collectStepEvents emits a trigger for every active cell in the step
// column, reading the atomic grid without locks.
func (r *Runtime) collectStepEvents(stepIndex, blockOffset int, events *[]triggerEvent) {
	if stepIndex < 0 || stepIndex >= Steps {
		return
	}
	for track := 0; track < TrackCount; track++ {
		velocity := r.steps[track][stepIndex].Load()
		if velocity > 0 {
			*events = append(*events, triggerEvent{
				offset:     blockOffset,
				trackIndex: track,
				velocity:   clampUnit(float32(velocity) / 127),
			})
		}
	}
}

// processSequencer advances musical time across a block of frames, emitting
// step events with exact intra-block offsets. The timeline counter advances
// by exactly frames regardless of transport state.
func (r *Runtime) processSequencer(frames int, events *[]triggerEvent) {
	if frames <= 0 || !r.TransportRunning() {
		r.sequencer.timelineSample += uint64(max(frames, 0))
		r.timelineSample.Store(r.sequencer.timelineSample)
		return
	}

	// A freshly started transport fires the current step at offset zero so
	// the first beat is never lost to the step-boundary loop.
	if r.sequencer.emitStepOnNextProcess {
		r.collectStepEvents(r.sequencer.currentStep, 0, events)
		r.sequencer.emitStepOnNextProcess = false
		r.sequencer.samplesToNextStep = r.stepIntervalSamples(r.sequencer.currentStep)
	}

	remaining := float64(frames)
	consumed := 0.0

	for remaining > 0 {
		if r.sequencer.samplesToNextStep <= remaining+epsilon {
			stepAdvance := math.Max(0, r.sequencer.samplesToNextStep)
			consumed += stepAdvance
			remaining -= stepAdvance

			r.sequencer.currentStep = (r.sequencer.currentStep + 1) % Steps
			r.playheadStep.Store(uint32(r.sequencer.currentStep))

			offset := int(math.Round(consumed))
			if offset > frames {
				offset = frames
			}
			r.collectStepEvents(r.sequencer.currentStep, offset, events)
			r.sequencer.samplesToNextStep = r.stepIntervalSamples(r.sequencer.currentStep)
		} else {
			r.sequencer.samplesToNextStep -= remaining
			remaining = 0
		}
	}

	r.sequencer.timelineSample += uint64(frames)
	r.timelineSample.Store(r.sequencer.timelineSample)
}

// handleAudioCallback is the per-block driver on the audio thread: drain
// commands, advance the sequencer, then render in segments between event
// offsets so every trigger starts on its exact sample. Triggers are never
// deferred to the next callback or rounded to block boundaries.
func (r *Runtime) handleAudioCallback(interleaved []float32) {
	frames := len(interleaved) / 2
	if frames == 0 {
		return
	}

	if len(r.renderScratch) < frames {
		r.renderScratch = make([]float32, frames)
	}
	mono := r.renderScratch[:frames]

	events := r.eventScratch[:0]
	r.applyPendingCommands(&events)
	r.processSequencer(frames, &events)
	r.sequencer.callbacksSinceStart++

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].offset != events[j].offset {
			return events[i].offset < events[j].offset
		}
		return events[i].trackIndex < events[j].trackIndex
	})

	cursor := 0
	eventIndex := 0
	for eventIndex < len(events) {
		eventOffset := events[eventIndex].offset
		if eventOffset > frames {
			eventOffset = frames
		}
		if eventOffset > cursor {
			r.engine.Process(mono[cursor:eventOffset])
			cursor = eventOffset
		}
		for eventIndex < len(events) && min(events[eventIndex].offset, frames) == eventOffset {
			ev := events[eventIndex]
			r.engine.TriggerTrack(ev.trackIndex, ev.velocity)
			eventIndex++
		}
	}
	if cursor < frames {
		r.engine.Process(mono[cursor:])
	}

	r.eventScratch = events[:0]
	r.engineXruns.Store(r.engine.PerformanceStats().XrunCount)

	// Dual-mono: duplicate the mix into both interleaved channels.
	for frame := 0; frame < frames; frame++ {
		interleaved[frame*2] = mono[frame]
		interleaved[frame*2+1] = mono[frame]
	}
}

func clampRange(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
