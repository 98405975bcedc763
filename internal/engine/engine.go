// Package engine implements the sample-playback voice engine: up to
// TrackCount independently parametrized voices mixed into a mono buffer,
// followed by master gain. Process is real-time safe: it never allocates,
// locks, or loops without bound. All mutation is expected to arrive on the
// audio thread via the runtime's command queue.
package engine

import (
	"math"
	"time"

	"github.com/oakmoss/drumbox-go/internal/dsp"
	"github.com/oakmoss/drumbox-go/internal/param"
)

const (
	// TrackCount is the number of pad tracks / voices.
	TrackCount = 8

	// DefaultPadBaseNote maps MIDI note 36 (GM kick) to track 0.
	DefaultPadBaseNote uint8 = 36

	// envelopeFloor deactivates a voice once its decay envelope is inaudible.
	envelopeFloor = 1e-4
)

// TrackParameters are the per-voice mix controls. Every setter clamps, so
// stored values are always inside the documented ranges.
type TrackParameters struct {
	Gain           float32 // [0, 2]
	Pan            float32 // [-1, 1]; dual-mono attenuation, not true stereo
	FilterCutoff   float32 // [0, 1]
	EnvelopeDecay  float32 // [0, 1]
	PitchSemitones float32 // [-24, 24]
	ChokeGroup     int     // -1 = none, else [0, 15]
}

func DefaultTrackParameters() TrackParameters {
	return TrackParameters{
		Gain:          1,
		Pan:           0,
		FilterCutoff:  1,
		EnvelopeDecay: 0.5,
		ChokeGroup:    -1,
	}
}

// ParameterUpdate is a normalized write to one flat parameter id.
type ParameterUpdate struct {
	ID         uint32
	Normalized float32
}

// DeviceConfig describes the output device the engine renders for. The
// sample rate feeds the envelope coefficient and the caller's step timing.
type DeviceConfig struct {
	SampleRateHz     uint32
	BufferSizeFrames uint32
	DeviceID         string
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{SampleRateHz: 48000, BufferSizeFrames: 256, DeviceID: "default"}
}

// PerformanceStats accumulates per-block profiling results while profiling
// is enabled. Utilization is elapsed time over the callback budget
// (frames/sampleRate); a block over budget counts as an xrun.
type PerformanceStats struct {
	ProcessedBlocks            uint64
	ProcessedFrames            uint64
	AverageBlockDurationUs     float64
	PeakBlockDurationUs        float64
	AverageCallbackUtilization float64
	PeakCallbackUtilization    float64
	XrunCount                  uint64
}

type trackVoice struct {
	sample          []float32
	playhead        float64
	triggerVelocity float32
	envelopeValue   float32
	filterState     float32
	active          bool
	parameters      TrackParameters
}

// Engine mixes voices. It is not safe for concurrent use; the owning
// runtime serializes every call onto the audio thread.
type Engine struct {
	tracks     [TrackCount]trackVoice
	masterGain *dsp.GainProcessor

	config      DeviceConfig
	padBaseNote uint8

	transportPlaying bool
	tempoBPM         float32

	profilingEnabled bool
	stats            PerformanceStats
}

func New() *Engine {
	e := &Engine{
		masterGain:  dsp.NewGainProcessor(),
		config:      DefaultDeviceConfig(),
		padBaseNote: DefaultPadBaseNote,
		tempoBPM:    120,
	}
	for i := range e.tracks {
		e.tracks[i].parameters = DefaultTrackParameters()
	}
	return e
}

func (e *Engine) SetMasterGain(gain float32) { e.masterGain.SetGain(gain) }
func (e *Engine) MasterGain() float32        { return e.masterGain.Gain() }

// Process fills buf with the mono mix of all active voices, then applies
// master gain. Zero active voices yields exactly len(buf) zeros.
func (e *Engine) Process(buf []float32) {
	if len(buf) == 0 {
		return
	}

	var startedAt time.Time
	if e.profilingEnabled {
		startedAt = time.Now()
	}

	for frame := range buf {
		var mixed float32
		for t := range e.tracks {
			track := &e.tracks[t]
			if !track.active {
				continue
			}
			if len(track.sample) == 0 {
				track.active = false
				continue
			}

			input := sampleAt(track)
			track.playhead += pitchRatio(track.parameters.PitchSemitones)
			if track.playhead >= float64(len(track.sample)) {
				track.active = false
			}

			track.filterState += filterAlpha(track.parameters.FilterCutoff) * (input - track.filterState)
			amplitude := track.parameters.Gain * track.triggerVelocity *
				track.envelopeValue * panGain(track.parameters.Pan)
			mixed += track.filterState * amplitude

			track.envelopeValue *= e.envelopeCoefficient(track.parameters.EnvelopeDecay)
			if track.envelopeValue < envelopeFloor {
				track.active = false
			}
		}
		buf[frame] = mixed
	}

	e.masterGain.Process(buf)

	if e.profilingEnabled {
		e.recordProcessTiming(len(buf), float64(time.Since(startedAt).Microseconds()))
	}
}

// SetTrackSample replaces a voice's sample buffer and silences the voice.
// A sounding voice is cut rather than glitched; callers re-trigger.
func (e *Engine) SetTrackSample(trackIndex int, sample []float32) bool {
	if trackIndex < 0 || trackIndex >= TrackCount || len(sample) == 0 {
		return false
	}
	track := &e.tracks[trackIndex]
	track.sample = sample
	track.playhead = 0
	track.triggerVelocity = 0
	track.envelopeValue = 0
	track.filterState = 0
	track.active = false
	return true
}

func (e *Engine) ClearTrackSample(trackIndex int) {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return
	}
	track := &e.tracks[trackIndex]
	track.sample = nil
	track.playhead = 0
	track.triggerVelocity = 0
	track.envelopeValue = 0
	track.filterState = 0
	track.active = false
}

// TriggerTrack starts a voice from the top of its sample. Tracks in the
// same non-negative choke group are cut immediately; this hard cutoff is
// the only cross-voice interaction.
func (e *Engine) TriggerTrack(trackIndex int, velocity float32) bool {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return false
	}
	track := &e.tracks[trackIndex]
	if len(track.sample) == 0 {
		return false
	}

	if track.parameters.ChokeGroup >= 0 {
		for other := range e.tracks {
			if other == trackIndex {
				continue
			}
			voice := &e.tracks[other]
			if voice.active && voice.parameters.ChokeGroup == track.parameters.ChokeGroup {
				voice.active = false
			}
		}
	}

	track.playhead = 0
	track.triggerVelocity = clampUnit(velocity)
	track.envelopeValue = 1
	track.filterState = 0
	track.active = track.triggerVelocity > 0
	return track.active
}

// SetTrackParameters clamps every field before storing.
func (e *Engine) SetTrackParameters(trackIndex int, p TrackParameters) bool {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return false
	}
	p.Gain = clampRange(p.Gain, 0, 2)
	p.Pan = clampRange(p.Pan, -1, 1)
	p.FilterCutoff = clampUnit(p.FilterCutoff)
	p.EnvelopeDecay = clampUnit(p.EnvelopeDecay)
	p.PitchSemitones = clampRange(p.PitchSemitones, -24, 24)
	p.ChokeGroup = clampChokeGroup(p.ChokeGroup)
	e.tracks[trackIndex].parameters = p
	return true
}

func (e *Engine) TrackParameters(trackIndex int) TrackParameters {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return TrackParameters{}
	}
	return e.tracks[trackIndex].parameters
}

// ApplyParameterUpdate decodes a flat parameter id and maps the normalized
// value into the slot's native range. Unknown ids fail without side effects.
func (e *Engine) ApplyParameterUpdate(id uint32, normalized float32) bool {
	trackIndex, slot, ok := param.Decode(id)
	if !ok || trackIndex >= TrackCount {
		return false
	}

	p := e.tracks[trackIndex].parameters
	clamped := clampUnit(normalized)
	switch slot {
	case param.SlotGain:
		p.Gain = clamped * 2
	case param.SlotPan:
		p.Pan = clamped*2 - 1
	case param.SlotFilterCutoff:
		p.FilterCutoff = clamped
	case param.SlotEnvelopeDecay:
		p.EnvelopeDecay = clamped
	case param.SlotPitch:
		p.PitchSemitones = clamped*48 - 24
	case param.SlotChokeGroup:
		p.ChokeGroup = normalizedToChokeGroup(clamped)
	default:
		return false
	}
	return e.SetTrackParameters(trackIndex, p)
}

// ApplyParameterUpdates applies a batch, reporting whether every update
// landed.
func (e *Engine) ApplyParameterUpdates(updates []ParameterUpdate) bool {
	allApplied := true
	for _, u := range updates {
		if !e.ApplyParameterUpdate(u.ID, u.Normalized) {
			allApplied = false
		}
	}
	return allApplied
}

// HandleMidiNoteOn maps note - padBaseNote to a track trigger. Notes below
// the base or beyond the last pad are ignored.
func (e *Engine) HandleMidiNoteOn(note, velocity uint8) bool {
	if velocity == 0 || note < e.padBaseNote {
		return false
	}
	trackIndex := int(note - e.padBaseNote)
	if trackIndex >= TrackCount {
		return false
	}
	return e.TriggerTrack(trackIndex, float32(velocity)/127)
}

func (e *Engine) SetPadBaseNote(note uint8) { e.padBaseNote = note }
func (e *Engine) PadBaseNote() uint8        { return e.padBaseNote }

func (e *Engine) StartTransport()         { e.transportPlaying = true }
func (e *Engine) StopTransport()          { e.transportPlaying = false }
func (e *Engine) TransportRunning() bool  { return e.transportPlaying }
func (e *Engine) TempoBPM() float32       { return e.tempoBPM }
func (e *Engine) SetTempoBPM(bpm float32) { e.tempoBPM = clampRange(bpm, 20, 300) }

// SetDeviceConfig rejects zero rates/sizes without partial application.
func (e *Engine) SetDeviceConfig(config DeviceConfig) bool {
	if config.SampleRateHz == 0 || config.BufferSizeFrames == 0 {
		return false
	}
	e.config = config
	return true
}

func (e *Engine) DeviceConfig() DeviceConfig { return e.config }

func (e *Engine) SetProfilingEnabled(enabled bool) { e.profilingEnabled = enabled }
func (e *Engine) ProfilingEnabled() bool           { return e.profilingEnabled }
func (e *Engine) ResetPerformanceStats()           { e.stats = PerformanceStats{} }
func (e *Engine) PerformanceStats() PerformanceStats {
	return e.stats
}

// sampleAt linearly interpolates at the fractional playhead, clamped to the
// last sample index (no wraparound).
func sampleAt(track *trackVoice) float32 {
	if len(track.sample) == 0 {
		return 0
	}
	last := float64(len(track.sample) - 1)
	pos := track.playhead
	if pos < 0 {
		pos = 0
	}
	if pos > last {
		pos = last
	}
	lower := int(pos)
	upper := lower + 1
	if upper > len(track.sample)-1 {
		upper = len(track.sample) - 1
	}
	fraction := float32(pos - float64(lower))
	return track.sample[lower] + (track.sample[upper]-track.sample[lower])*fraction
}

func pitchRatio(semitones float32) float64 {
	return math.Pow(2, float64(semitones)/12)
}

// filterAlpha maps cutoff 0 to heavy smoothing and cutoff 1 to near
// passthrough on the one-pole low-pass.
func filterAlpha(cutoff float32) float32 {
	return 0.01 + cutoff*0.99
}

func (e *Engine) envelopeCoefficient(decay float32) float32 {
	sampleRate := float64(e.config.SampleRateHz)
	if sampleRate < 1 {
		sampleRate = 1
	}
	decaySeconds := 0.02 + float64(decay)*3.0
	return float32(math.Exp(-1 / (decaySeconds * sampleRate)))
}

// panGain is center-biased attenuation; output is dual-mono, not stereo.
func panGain(pan float32) float32 {
	return 1 - absf(pan)*0.5
}

func (e *Engine) recordProcessTiming(frames int, elapsedUs float64) {
	e.stats.ProcessedBlocks++
	e.stats.ProcessedFrames += uint64(frames)
	if elapsedUs > e.stats.PeakBlockDurationUs {
		e.stats.PeakBlockDurationUs = elapsedUs
	}

	budgetUs := e.blockBudgetMicros(frames)
	utilization := 0.0
	if budgetUs > 0 {
		utilization = elapsedUs / budgetUs
	}
	if utilization > e.stats.PeakCallbackUtilization {
		e.stats.PeakCallbackUtilization = utilization
	}
	if utilization > 1 {
		e.stats.XrunCount++
	}

	blocks := float64(e.stats.ProcessedBlocks)
	e.stats.AverageBlockDurationUs += (elapsedUs - e.stats.AverageBlockDurationUs) / blocks
	e.stats.AverageCallbackUtilization += (utilization - e.stats.AverageCallbackUtilization) / blocks
}

func (e *Engine) blockBudgetMicros(frames int) float64 {
	if e.config.SampleRateHz == 0 {
		return 0
	}
	return float64(frames) * 1e6 / float64(e.config.SampleRateHz)
}

func clampUnit(v float32) float32 { return clampRange(v, 0, 1) }

func clampRange(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampChokeGroup(group int) int {
	if group < 0 {
		return -1
	}
	if group > 15 {
		return 15
	}
	return group
}

func normalizedToChokeGroup(normalized float32) int {
	if normalized <= 0.0001 {
		return -1
	}
	group := int(math.Round(float64(normalized)*16)) - 1
	return clampChokeGroup(group)
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
