// Package drumbox is a desktop drum machine: an eight-pad sample playback
// engine driven by a sixteen-step sequencer inside a real-time audio
// callback. A Runtime owns the engine, the audio/MIDI backends, and the
// bounded command queue that carries control changes from UI and MIDI
// threads onto the audio thread without locking it.
package drumbox

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/oakmoss/drumbox-go/internal/audio"
	"github.com/oakmoss/drumbox-go/internal/diag"
	"github.com/oakmoss/drumbox-go/internal/engine"
	"github.com/oakmoss/drumbox-go/internal/midiio"
	"github.com/oakmoss/drumbox-go/internal/project"
	"github.com/oakmoss/drumbox-go/internal/sample"
)

const (
	// TrackCount and Steps fix the pattern grid dimensions.
	TrackCount = engine.TrackCount
	Steps      = 16

	defaultMasterGain = 0.95
)

var starterSampleNames = [TrackCount]string{
	"kick.wav",
	"snare.wav",
	"clap.wav",
	"hat_closed.wav",
	"hat_open.wav",
	"tom_low.wav",
	"tom_high.wav",
	"perc.wav",
}

// DeviceConfig is the audio device selection re-exported for callers
// outside internal/.
type DeviceConfig = engine.DeviceConfig

// TrackParams re-exports the per-track mix controls.
type TrackParams = engine.TrackParameters

// Config selects devices and stream geometry for Start. Zero fields take
// defaults (48 kHz, 256 frames, "default" devices).
type Config struct {
	Audio        DeviceConfig
	MidiDeviceID string
}

// Status is a point-in-time snapshot assembled from atomics and backend
// queries; safe to call from any thread.
type Status struct {
	AudioRunning     bool
	MidiRunning      bool
	TransportRunning bool
	PlayheadStep     uint32
	TimelineSample   uint64
	BackendXruns     uint64
	EngineXruns      uint64
	AudioDeviceID    string
	MidiDeviceCount  int
	DiagnosticsDir   string
	LearnedCCBinding string
}

// MidiLearnSlot names the track parameters a CC can be bound to.
type MidiLearnSlot int

const (
	LearnTrackGain MidiLearnSlot = iota
	LearnTrackFilterCutoff
	LearnTrackEnvelopeDecay
)

type learnTarget struct {
	trackIndex int
	slot       MidiLearnSlot
}

type atomicFloat32 struct{ bits atomic.Uint32 }

func (a *atomicFloat32) Store(v float32) { a.bits.Store(math.Float32bits(v)) }
func (a *atomicFloat32) Load() float32   { return math.Float32frombits(a.bits.Load()) }

// Runtime bridges the control world (UI, MIDI, persistence) and the audio
// thread. All audio-affecting mutation funnels through the command queue;
// status reads come back through atomics.
type Runtime struct {
	diagnostics  *diag.Reporter
	audioBackend audio.Backend
	midiBackend  midiio.Backend

	commandMu       sync.Mutex
	pendingCommands []command
	commandScratch  []command

	engine    *engine.Engine
	sequencer sequencerState

	steps            [TrackCount][Steps]atomic.Uint32
	trackChokeGroups [TrackCount]atomic.Int32

	transportRunning atomic.Bool
	tempoBPM         atomicFloat32
	swing            atomicFloat32
	playheadStep     atomic.Uint32
	timelineSample   atomic.Uint64
	padBaseNote      atomic.Uint32
	engineXruns      atomic.Uint64
	running          atomic.Bool
	midiRunning      atomic.Bool

	projectMu    sync.Mutex
	projectModel project.Model

	midiMu             sync.Mutex
	activeLearn        *learnTarget
	ccBindings         [128]uint32 // 0 = unbound; valid ids start at param.TrackBase
	lastLearnedBinding string

	renderScratch []float32
	eventScratch  []triggerEvent

	starterKitDir string
	config        Config
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithDiagnostics attaches a best-effort report writer.
func WithDiagnostics(reporter *diag.Reporter) Option {
	return func(r *Runtime) { r.diagnostics = reporter }
}

// WithAudioBackend replaces the default device backend, e.g. with a
// simulated one for headless use.
func WithAudioBackend(backend audio.Backend) Option {
	return func(r *Runtime) { r.audioBackend = backend }
}

// WithMidiBackend replaces the default system MIDI listener.
func WithMidiBackend(backend midiio.Backend) Option {
	return func(r *Runtime) { r.midiBackend = backend }
}

// WithStarterKitDir points at the directory holding default.ffproject and
// the starter WAVs loaded on first start.
func WithStarterKitDir(dir string) Option {
	return func(r *Runtime) { r.starterKitDir = dir }
}

// New builds a stopped Runtime seeded with a usable first-launch groove.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		engine:          engine.New(),
		pendingCommands: make([]command, 0, 256),
		commandScratch:  make([]command, 0, 256),
		eventScratch:    make([]triggerEvent, 0, 64),
		projectModel:    project.NewModel(),
		starterKitDir:   filepath.Join("assets", "starter-kit"),
		config: Config{
			Audio:        engine.DefaultDeviceConfig(),
			MidiDeviceID: "default",
		},
	}
	r.tempoBPM.Store(120)
	r.padBaseNote.Store(uint32(engine.DefaultPadBaseNote))
	for track := range r.trackChokeGroups {
		r.trackChokeGroups[track].Store(-1)
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.audioBackend == nil {
		r.audioBackend = audio.NewDeviceBackend()
	}
	if r.midiBackend == nil {
		r.midiBackend = midiio.NewListener()
	}

	r.seedDefaultGroove()
	return r
}

// seedDefaultGroove writes the first-launch pattern: four-on-the-floor
// kick, backbeat snare, eighth-note hats with a shared choke group.
func (r *Runtime) seedDefaultGroove() {
	r.SetStep(0, 0, true, 127)
	r.SetStep(0, 4, true, 120)
	r.SetStep(0, 8, true, 127)
	r.SetStep(0, 12, true, 120)

	r.SetStep(1, 4, true, 118)
	r.SetStep(1, 12, true, 118)

	for step := 0; step < Steps; step += 2 {
		r.SetStep(2, step, true, 95)
	}

	r.SetStep(3, 2, true, 90)
	r.SetStep(3, 10, true, 90)

	hatClosed := engine.DefaultTrackParameters()
	hatClosed.ChokeGroup = 1
	hatClosed.EnvelopeDecay = 0.25
	hatClosed.FilterCutoff = 0.8
	r.SetTrackParameters(2, hatClosed)

	hatOpen := engine.DefaultTrackParameters()
	hatOpen.ChokeGroup = 1
	hatOpen.EnvelopeDecay = 0.65
	hatOpen.FilterCutoff = 0.85
	r.SetTrackParameters(4, hatOpen)
}

// Start configures the engine and spins up the audio and MIDI backends.
// MIDI failure is tolerated (the machine plays without a controller);
// audio failure is not.
func (r *Runtime) Start(config Config) error {
	if r.running.Load() {
		return nil
	}

	if config.Audio.SampleRateHz == 0 {
		config.Audio.SampleRateHz = 48000
	}
	if config.Audio.BufferSizeFrames == 0 {
		config.Audio.BufferSizeFrames = 256
	}
	if config.Audio.DeviceID == "" {
		config.Audio.DeviceID = "default"
	}
	if config.MidiDeviceID == "" {
		config.MidiDeviceID = "default"
	}
	r.config = config

	if !r.engine.SetDeviceConfig(config.Audio) {
		return errors.New("invalid audio configuration")
	}

	r.engine.SetMasterGain(defaultMasterGain)
	r.engine.SetProfilingEnabled(true)
	r.engine.ResetPerformanceStats()
	r.engine.SetPadBaseNote(uint8(r.padBaseNote.Load()))

	if err := r.LoadStarterKit(); err != nil {
		return err
	}

	if err := r.audioBackend.Start(audio.Config{
		DeviceID:         config.Audio.DeviceID,
		SampleRateHz:     config.Audio.SampleRateHz,
		BufferSizeFrames: config.Audio.BufferSizeFrames,
	}, r.handleAudioCallback); err != nil {
		return fmt.Errorf("start audio backend: %w", err)
	}

	midiErr := r.midiBackend.Start(config.MidiDeviceID, r.handleMidiMessage)
	r.midiRunning.Store(midiErr == nil)

	r.running.Store(true)

	if r.diagnostics != nil {
		midiError := ""
		if midiErr != nil {
			midiError = midiErr.Error()
		}
		backend := r.audioBackend.Stats()
		r.diagnostics.WriteRuntimeReport("runtime_started", []diag.Field{
			{Key: "audio_device", Value: config.Audio.DeviceID},
			{Key: "sample_rate_hz", Value: strconv.FormatUint(uint64(config.Audio.SampleRateHz), 10)},
			{Key: "buffer_size_frames", Value: strconv.FormatUint(uint64(config.Audio.BufferSizeFrames), 10)},
			{Key: "midi_started", Value: strconv.FormatBool(midiErr == nil)},
			{Key: "midi_error", Value: midiError},
			{Key: "backend_callback_count", Value: strconv.FormatUint(backend.CallbackCount, 10)},
		})
	}
	return nil
}

// Stop joins the backends. Safe because the callback never blocks.
func (r *Runtime) Stop() {
	if !r.running.Swap(false) {
		return
	}

	r.midiBackend.Stop()
	r.midiRunning.Store(false)
	r.audioBackend.Stop()
	r.transportRunning.Store(false)

	if r.diagnostics != nil {
		backend := r.audioBackend.Stats()
		perf := r.engine.PerformanceStats()
		r.diagnostics.WriteRuntimeReport("runtime_stopped", []diag.Field{
			{Key: "backend_callback_count", Value: strconv.FormatUint(backend.CallbackCount, 10)},
			{Key: "backend_xrun_count", Value: strconv.FormatUint(backend.XrunCount, 10)},
			{Key: "engine_blocks", Value: strconv.FormatUint(perf.ProcessedBlocks, 10)},
			{Key: "engine_frames", Value: strconv.FormatUint(perf.ProcessedFrames, 10)},
			{Key: "engine_xruns", Value: strconv.FormatUint(perf.XrunCount, 10)},
		})
	}
}

func (r *Runtime) IsRunning() bool { return r.running.Load() }

// SetTransportRunning enqueues a transport change; on queue overflow the
// flag is flipped directly so the UI never shows a stuck transport.
func (r *Runtime) SetTransportRunning(running bool) {
	kind := commandStopTransport
	if running {
		kind = commandStartTransport
	}
	if !r.enqueueCommand(command{kind: kind}) {
		r.transportRunning.Store(running)
	}
}

func (r *Runtime) ToggleTransport() {
	r.SetTransportRunning(!r.TransportRunning())
}

func (r *Runtime) TransportRunning() bool {
	return r.transportRunning.Load()
}

// SetTempoBPM clamps, mirrors for status reads and persistence, then
// routes the audio-affecting change through the queue.
func (r *Runtime) SetTempoBPM(bpm float32) {
	clamped := clampRange(bpm, 20, 300)
	r.tempoBPM.Store(clamped)

	r.projectMu.Lock()
	r.projectModel.BPM = clamped
	r.projectMu.Unlock()

	if !r.enqueueCommand(command{kind: commandSetTempo, value: clamped}) {
		r.engine.SetTempoBPM(clamped)
	}
}

func (r *Runtime) TempoBPM() float32 { return r.tempoBPM.Load() }

func (r *Runtime) SetSwing(swing float32) {
	clamped := clampRange(swing, 0, 0.45)
	r.swing.Store(clamped)

	r.projectMu.Lock()
	r.projectModel.Swing = clamped
	r.projectMu.Unlock()

	r.enqueueCommand(command{kind: commandSetSwing, value: clamped})
}

func (r *Runtime) Swing() float32 { return r.swing.Load() }

// SetStep writes one pattern cell. The grid cell is atomic so the audio
// thread reads step columns lock-free; concurrent writes to the same cell
// are last-writer-wins, which is fine for one-at-a-time user edits.
func (r *Runtime) SetStep(trackIndex, stepIndex int, active bool, velocity uint8) bool {
	if trackIndex < 0 || trackIndex >= TrackCount || stepIndex < 0 || stepIndex >= Steps {
		return false
	}

	var stored uint32
	if active {
		v := velocity
		if v < 1 {
			v = 1
		} else if v > 127 {
			v = 127
		}
		stored = uint32(v)
	}
	r.steps[trackIndex][stepIndex].Store(stored)

	r.projectMu.Lock()
	r.projectModel.Pattern[trackIndex][stepIndex].Active = active
	if stored == 0 {
		r.projectModel.Pattern[trackIndex][stepIndex].Velocity = 100
	} else {
		r.projectModel.Pattern[trackIndex][stepIndex].Velocity = uint8(stored)
	}
	r.projectMu.Unlock()
	return true
}

// Step reads one pattern cell.
func (r *Runtime) Step(trackIndex, stepIndex int) project.Step {
	if trackIndex < 0 || trackIndex >= TrackCount || stepIndex < 0 || stepIndex >= Steps {
		return project.Step{}
	}
	stored := r.steps[trackIndex][stepIndex].Load()
	cell := project.Step{Active: stored > 0, Velocity: 100}
	if stored > 0 {
		cell.Velocity = uint8(stored)
	}
	return cell
}

// TriggerPad fires a one-shot at the next callback (offset zero), or
// immediately on queue overflow.
func (r *Runtime) TriggerPad(trackIndex int, velocity uint8) bool {
	if trackIndex < 0 || trackIndex >= TrackCount || velocity == 0 {
		return false
	}
	unit := clampUnit(float32(velocity) / 127)
	if !r.enqueueCommand(command{kind: commandTriggerTrack, trackIndex: trackIndex, value: unit}) {
		return r.engine.TriggerTrack(trackIndex, unit)
	}
	return true
}

// SetTrackParameters mirrors the choke group and project model, then
// queues the engine update.
func (r *Runtime) SetTrackParameters(trackIndex int, parameters TrackParams) bool {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return false
	}

	r.trackChokeGroups[trackIndex].Store(int32(parameters.ChokeGroup))

	r.projectMu.Lock()
	r.projectModel.Tracks[trackIndex].Parameters = parameters
	r.projectMu.Unlock()

	if !r.enqueueCommand(command{
		kind:            commandSetTrackParameters,
		trackIndex:      trackIndex,
		trackParameters: parameters,
	}) {
		return r.engine.SetTrackParameters(trackIndex, parameters)
	}
	return true
}

// SetPadBaseNote remaps which MIDI note triggers pad 0. Notes
// [base, base+TrackCount) cover the pads.
func (r *Runtime) SetPadBaseNote(note uint8) {
	r.padBaseNote.Store(uint32(note))
}

func (r *Runtime) PadBaseNote() uint8 {
	return uint8(r.padBaseNote.Load())
}

// TrackChokeGroup reads the atomic choke mirror; -1 means none. Cheap
// enough for per-frame UI polling, unlike the mutex-guarded mirror.
func (r *Runtime) TrackChokeGroup(trackIndex int) int {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return -1
	}
	return int(r.trackChokeGroups[trackIndex].Load())
}

// TrackParameters reads the persistence mirror, not engine internals.
func (r *Runtime) TrackParameters(trackIndex int) TrackParams {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return TrackParams{}
	}
	r.projectMu.Lock()
	defer r.projectMu.Unlock()
	return r.projectModel.Tracks[trackIndex].Parameters
}

func (r *Runtime) setTrackSampleLoaded(trackIndex int, loaded sample.Loaded, path string) error {
	if trackIndex < 0 || trackIndex >= TrackCount || len(loaded.Mono) == 0 {
		return errors.New("invalid track/sample assignment")
	}

	r.projectMu.Lock()
	r.projectModel.Tracks[trackIndex].SamplePath = path
	r.projectMu.Unlock()

	if !r.enqueueCommand(command{
		kind:       commandSetTrackSample,
		trackIndex: trackIndex,
		sampleData: loaded.Mono,
	}) {
		if !r.engine.SetTrackSample(trackIndex, loaded.Mono) {
			return errors.New("engine rejected sample assignment")
		}
	}
	return nil
}

// ClearTrackSample unloads a track's sample; the voice goes silent and
// future triggers fail until a new sample is assigned.
func (r *Runtime) ClearTrackSample(trackIndex int) bool {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return false
	}

	r.projectMu.Lock()
	r.projectModel.Tracks[trackIndex].SamplePath = ""
	r.projectMu.Unlock()

	if !r.enqueueCommand(command{kind: commandClearTrackSample, trackIndex: trackIndex}) {
		r.engine.ClearTrackSample(trackIndex)
	}
	return true
}

// SetTrackSampleFromFile loads, resamples and assigns a WAV to a track.
func (r *Runtime) SetTrackSampleFromFile(trackIndex int, path string) error {
	loaded, err := sample.LoadMono(path, r.config.Audio.SampleRateHz)
	if err != nil {
		return err
	}
	return r.setTrackSampleLoaded(trackIndex, loaded, path)
}

// LoadStarterKit makes the machine playable on first launch: the shipped
// starter project if present, else starter WAVs, else synthetic hits.
func (r *Runtime) LoadStarterKit() error {
	shippedPath := filepath.Join(r.starterKitDir, "default.ffproject")
	if shipped, err := project.Load(shippedPath); err == nil {
		return r.applyProjectModel(shipped, true)
	}

	for track := 0; track < TrackCount; track++ {
		samplePath := filepath.Join(r.starterKitDir, starterSampleNames[track])
		if loaded, err := sample.LoadMono(samplePath, r.config.Audio.SampleRateHz); err == nil {
			_ = r.setTrackSampleLoaded(track, loaded, samplePath)
			continue
		}
		loaded := sample.Loaded{
			SourceSampleRateHz: r.config.Audio.SampleRateHz,
			Mono:               sample.Synthetic(track, r.config.Audio.SampleRateHz),
		}
		_ = r.setTrackSampleLoaded(track, loaded, samplePath)
	}

	r.SetTempoBPM(120)
	r.SetSwing(0.12)
	return nil
}

// SaveProject snapshots the mirror model and writes it to disk.
func (r *Runtime) SaveProject(path string) error {
	r.projectMu.Lock()
	snapshot := r.projectModel
	r.projectMu.Unlock()
	return project.Save(path, snapshot)
}

// LoadProject replays a saved model through the same public setters the UI
// uses, so every value passes validation.
func (r *Runtime) LoadProject(path string) error {
	loaded, err := project.Load(path)
	if err != nil {
		return err
	}
	return r.applyProjectModel(loaded, false)
}

func (r *Runtime) applyProjectModel(loaded project.Model, tolerateMissingSamples bool) error {
	r.SetTempoBPM(loaded.BPM)
	r.SetSwing(loaded.Swing)

	for track := 0; track < TrackCount; track++ {
		for step := 0; step < Steps; step++ {
			cell := loaded.Pattern[track][step]
			r.SetStep(track, step, cell.Active, cell.Velocity)
		}
	}

	for track := 0; track < TrackCount; track++ {
		r.SetTrackParameters(track, loaded.Tracks[track].Parameters)

		samplePath := loaded.Tracks[track].SamplePath
		if samplePath == "" {
			continue
		}
		if err := r.SetTrackSampleFromFile(track, samplePath); err != nil {
			if tolerateMissingSamples {
				fallback := sample.Loaded{
					SourceSampleRateHz: r.config.Audio.SampleRateHz,
					Mono:               sample.Synthetic(track, r.config.Audio.SampleRateHz),
				}
				_ = r.setTrackSampleLoaded(track, fallback, samplePath)
				continue
			}
			return fmt.Errorf("load track sample %q: %w", samplePath, err)
		}
	}

	r.projectMu.Lock()
	r.projectModel.Name = loaded.Name
	r.projectMu.Unlock()
	return nil
}

// ProjectName returns the mirror model's session name.
func (r *Runtime) ProjectName() string {
	r.projectMu.Lock()
	defer r.projectMu.Unlock()
	return r.projectModel.Name
}

// SetProjectName renames the session in the mirror model.
func (r *Runtime) SetProjectName(name string) {
	r.projectMu.Lock()
	r.projectModel.Name = name
	r.projectMu.Unlock()
}

// Status assembles a cross-thread snapshot for UIs and reports.
func (r *Runtime) Status() Status {
	status := Status{
		AudioRunning:     r.audioBackend.IsRunning(),
		MidiRunning:      r.midiBackend.IsRunning(),
		TransportRunning: r.TransportRunning(),
		PlayheadStep:     r.playheadStep.Load(),
		TimelineSample:   r.timelineSample.Load(),
		AudioDeviceID:    r.config.Audio.DeviceID,
		MidiDeviceCount:  len(r.midiBackend.InputDevices()),
	}

	status.BackendXruns = r.audioBackend.Stats().XrunCount
	status.EngineXruns = r.engineXruns.Load()

	if r.diagnostics != nil {
		status.DiagnosticsDir = r.diagnostics.OutputDirectory()
	}

	r.midiMu.Lock()
	status.LearnedCCBinding = r.lastLearnedBinding
	r.midiMu.Unlock()

	return status
}

// AudioOutputDevices lists selectable outputs.
func (r *Runtime) AudioOutputDevices() []audio.DeviceInfo {
	return r.audioBackend.OutputDevices()
}

// MidiInputDevices lists available MIDI inputs.
func (r *Runtime) MidiInputDevices() []midiio.DeviceInfo {
	return r.midiBackend.InputDevices()
}
