package drumbox

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/oakmoss/drumbox-go/internal/audio"
	"github.com/oakmoss/drumbox-go/internal/engine"
	"github.com/oakmoss/drumbox-go/internal/midiio"
)

func clearPattern(r *Runtime) {
	for track := 0; track < TrackCount; track++ {
		for step := 0; step < Steps; step++ {
			r.SetStep(track, step, false, 0)
		}
	}
}

func constantSample(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

func renderBlock(t *testing.T, r *Runtime, frames int) []float32 {
	t.Helper()
	interleaved := make([]float32, frames*2)
	r.handleAudioCallback(interleaved)
	left := make([]float32, frames)
	for i := range left {
		left[i] = interleaved[i*2]
	}
	return left
}

func TestCommandQueueCapacity(t *testing.T) {
	r := New()
	r.drainCommands()

	for i := 0; i < commandQueueCapacity; i++ {
		if !r.enqueueCommand(command{kind: commandSetSwing}) {
			t.Fatalf("enqueue %d rejected before capacity", i)
		}
	}
	if r.enqueueCommand(command{kind: commandSetSwing}) {
		t.Fatalf("enqueue accepted past capacity %d", commandQueueCapacity)
	}

	r.drainCommands()
	if !r.enqueueCommand(command{kind: commandSetSwing}) {
		t.Fatalf("enqueue rejected after drain")
	}
}

func TestDrainSkipsWhileProducerHoldsLock(t *testing.T) {
	r := New()
	r.drainCommands()
	if !r.enqueueCommand(command{kind: commandSetSwing}) {
		t.Fatalf("enqueue rejected on an empty queue")
	}

	// While a producer holds the queue mutex the audio side must give up
	// immediately instead of blocking, leaving the commands queued.
	r.commandMu.Lock()
	drained := r.drainCommands()
	r.commandMu.Unlock()
	if drained != nil {
		t.Fatalf("drain returned %d commands while the lock was held", len(drained))
	}

	drained = r.drainCommands()
	if len(drained) != 1 {
		t.Fatalf("command lost across a skipped drain: got %d, want 1", len(drained))
	}
}

func TestQueueOverflowAppliesTempoDirectly(t *testing.T) {
	r := New()
	r.drainCommands()
	for i := 0; i < commandQueueCapacity; i++ {
		if !r.enqueueCommand(command{kind: commandSetSwing}) {
			t.Fatalf("enqueue %d rejected before capacity", i)
		}
	}

	r.SetTempoBPM(180)
	if got := r.engine.TempoBPM(); got != 180 {
		t.Fatalf("engine tempo = %f after overflow, want 180 applied directly", got)
	}
	if got := r.TempoBPM(); got != 180 {
		t.Fatalf("tempo mirror = %f after overflow, want 180", got)
	}
	if r.enqueueCommand(command{kind: commandSetSwing}) {
		t.Fatalf("queue accepted a command while full")
	}
}

func TestStepIntervalAtDefaultTempo(t *testing.T) {
	r := New()
	r.config.Audio.SampleRateHz = 48000
	r.SetTempoBPM(120)
	r.SetSwing(0)

	got := r.stepIntervalSamples(0)
	if math.Abs(got-6000) > 1e-9 {
		t.Fatalf("interval at 120 BPM / 48 kHz = %f, want 6000", got)
	}
}

func TestStepIntervalSwingParity(t *testing.T) {
	r := New()
	r.config.Audio.SampleRateHz = 48000
	r.SetTempoBPM(120)
	r.SetSwing(0.2)

	even := r.stepIntervalSamples(0)
	odd := r.stepIntervalSamples(1)
	if math.Abs(even-7200) > 1e-6 {
		t.Fatalf("even interval = %f, want 7200", even)
	}
	if math.Abs(odd-4800) > 1e-6 {
		t.Fatalf("odd interval = %f, want 4800", odd)
	}
	if math.Abs((even+odd)-12000) > 1e-6 {
		t.Fatalf("swing changed the step pair duration: %f", even+odd)
	}
}

func TestSequencerStepAdvanceTiming(t *testing.T) {
	r := New()
	r.config.Audio.SampleRateHz = 48000
	r.SetTempoBPM(120)
	r.SetSwing(0)
	r.SetTransportRunning(true)

	// 6000 samples per step; 23 blocks of 256 leave us at frame 5888, one
	// more crosses the boundary at frame 6000.
	for block := 0; block < 23; block++ {
		renderBlock(t, r, 256)
	}
	if got := r.playheadStep.Load(); got != 0 {
		t.Fatalf("playhead advanced early: step %d at frame 5888", got)
	}

	renderBlock(t, r, 256)
	if got := r.playheadStep.Load(); got != 1 {
		t.Fatalf("playhead = %d after 6144 frames, want 1", got)
	}

	if got := r.timelineSample.Load(); got != 24*256 {
		t.Fatalf("timeline = %d, want %d", got, 24*256)
	}
}

func TestTimelineAdvancesWhileStopped(t *testing.T) {
	r := New()
	renderBlock(t, r, 256)
	renderBlock(t, r, 256)
	if got := r.timelineSample.Load(); got != 512 {
		t.Fatalf("timeline = %d with transport stopped, want 512", got)
	}
	if got := r.playheadStep.Load(); got != 0 {
		t.Fatalf("playhead moved with transport stopped: %d", got)
	}
}

func TestTriggerFiresAtExactOffset(t *testing.T) {
	r := New()
	clearPattern(r)
	r.config.Audio.SampleRateHz = 48000
	r.SetTempoBPM(300)
	r.SetSwing(0)

	p := engine.DefaultTrackParameters()
	p.FilterCutoff = 1
	p.EnvelopeDecay = 1
	r.engine.SetTrackParameters(0, p)
	r.engine.SetTrackSample(0, constantSample(48000))

	// Only step 1 is active; its boundary lands at sample 2400 inside a
	// 4096-frame block (step 0 fires at the transport start and is empty).
	r.SetStep(0, 1, true, 127)
	r.SetTransportRunning(true)

	left := renderBlock(t, r, 4096)
	for i := 0; i < 2400; i++ {
		if left[i] != 0 {
			t.Fatalf("output before the step boundary at frame %d: %f", i, left[i])
		}
	}
	if left[2400] == 0 {
		t.Fatalf("no output at the step boundary frame 2400")
	}
}

func TestTransportStartFiresStepZeroImmediately(t *testing.T) {
	r := New()
	clearPattern(r)
	r.engine.SetTrackSample(0, constantSample(4096))
	r.SetStep(0, 0, true, 127)
	r.SetTransportRunning(true)

	left := renderBlock(t, r, 256)
	if left[0] == 0 {
		t.Fatalf("step 0 did not sound on the first frame after transport start")
	}
}

func TestTriggerPadThroughQueue(t *testing.T) {
	r := New()
	clearPattern(r)
	r.engine.SetTrackSample(3, constantSample(4096))

	if !r.TriggerPad(3, 127) {
		t.Fatalf("TriggerPad rejected a valid pad")
	}
	if r.TriggerPad(TrackCount, 127) {
		t.Fatalf("TriggerPad accepted pad %d", TrackCount)
	}
	if r.TriggerPad(3, 0) {
		t.Fatalf("TriggerPad accepted zero velocity")
	}

	left := renderBlock(t, r, 256)
	if left[0] == 0 {
		t.Fatalf("queued pad trigger produced no output")
	}
}

func TestClearTrackSampleSilencesVoice(t *testing.T) {
	r := New()
	clearPattern(r)
	r.engine.SetTrackSample(0, constantSample(4096))
	r.TriggerPad(0, 127)
	renderBlock(t, r, 64)

	if !r.ClearTrackSample(0) {
		t.Fatalf("ClearTrackSample rejected a valid track")
	}
	if r.ClearTrackSample(TrackCount) {
		t.Fatalf("ClearTrackSample accepted track %d", TrackCount)
	}
	left := renderBlock(t, r, 64)
	for i, v := range left {
		if v != 0 {
			t.Fatalf("cleared track still sounding at frame %d: %f", i, v)
		}
	}
	if r.TriggerPad(0, 127) {
		renderBlock(t, r, 64)
	}
	if got := renderBlock(t, r, 64); got[0] != 0 {
		t.Fatalf("trigger after clearing produced output")
	}
}

func TestSetStepClampsVelocity(t *testing.T) {
	r := New()
	if !r.SetStep(0, 0, true, 200) {
		t.Fatalf("SetStep rejected a valid cell")
	}
	if got := r.Step(0, 0); !got.Active || got.Velocity != 127 {
		t.Fatalf("velocity 200 stored as %+v, want active at 127", got)
	}

	r.SetStep(0, 0, false, 0)
	if got := r.Step(0, 0); got.Active {
		t.Fatalf("cell still active after clearing")
	}
	if r.SetStep(-1, 0, true, 100) || r.SetStep(0, Steps, true, 100) {
		t.Fatalf("SetStep accepted out-of-range indices")
	}
}

func TestTempoAndSwingClamp(t *testing.T) {
	r := New()
	r.SetTempoBPM(1000)
	if got := r.TempoBPM(); got != 300 {
		t.Fatalf("tempo clamped to %f, want 300", got)
	}
	r.SetTempoBPM(5)
	if got := r.TempoBPM(); got != 20 {
		t.Fatalf("tempo clamped to %f, want 20", got)
	}
	r.SetSwing(0.9)
	if got := r.Swing(); got != 0.45 {
		t.Fatalf("swing clamped to %f, want 0.45", got)
	}
}

func TestTrackChokeGroupMirror(t *testing.T) {
	r := New()
	// Seeded groove puts both hats in choke group 1.
	if got := r.TrackChokeGroup(2); got != 1 {
		t.Fatalf("track 2 choke group = %d, want 1", got)
	}
	if got := r.TrackChokeGroup(4); got != 1 {
		t.Fatalf("track 4 choke group = %d, want 1", got)
	}
	if got := r.TrackChokeGroup(0); got != -1 {
		t.Fatalf("track 0 choke group = %d, want -1", got)
	}

	p := engine.DefaultTrackParameters()
	p.ChokeGroup = 7
	r.SetTrackParameters(0, p)
	if got := r.TrackChokeGroup(0); got != 7 {
		t.Fatalf("track 0 choke group = %d after update, want 7", got)
	}
	if got := r.TrackChokeGroup(-1); got != -1 {
		t.Fatalf("out-of-range track returned %d", got)
	}
}

func TestProjectRoundTripThroughRuntime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.ffproject")

	r1 := New()
	clearPattern(r1)
	r1.SetProjectName("timing test kit")
	r1.SetTempoBPM(174)
	r1.SetSwing(0.3)
	r1.SetStep(5, 7, true, 64)
	r1.SetStep(0, 0, true, 127)

	p := engine.DefaultTrackParameters()
	p.Gain = 1.5
	p.PitchSemitones = -12
	p.ChokeGroup = 3
	r1.SetTrackParameters(5, p)

	if err := r1.SaveProject(path); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	r2 := New()
	if err := r2.LoadProject(path); err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}

	if got := r2.ProjectName(); got != "timing test kit" {
		t.Fatalf("name = %q", got)
	}
	if got := r2.TempoBPM(); math.Abs(float64(got-174)) > 1e-3 {
		t.Fatalf("tempo = %f, want 174", got)
	}
	if got := r2.Swing(); math.Abs(float64(got-0.3)) > 1e-5 {
		t.Fatalf("swing = %f, want 0.3", got)
	}
	if got := r2.Step(5, 7); !got.Active || got.Velocity != 64 {
		t.Fatalf("step (5,7) = %+v", got)
	}
	if got := r2.Step(5, 6); got.Active {
		t.Fatalf("step (5,6) active after loading a cleared pattern")
	}
	loaded := r2.TrackParameters(5)
	if loaded.Gain != 1.5 || loaded.PitchSemitones != -12 || loaded.ChokeGroup != 3 {
		t.Fatalf("track 5 parameters = %+v", loaded)
	}
}

func TestStartStopWithSimulatedBackends(t *testing.T) {
	r := New(
		WithAudioBackend(audio.NewSimulatedBackend()),
		WithMidiBackend(midiio.NewNullBackend()),
	)
	if err := r.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !r.IsRunning() {
		t.Fatalf("IsRunning false after Start")
	}

	r.SetTransportRunning(true)
	time.Sleep(120 * time.Millisecond)

	status := r.Status()
	if !status.AudioRunning {
		t.Fatalf("audio backend not running")
	}
	if !status.MidiRunning {
		t.Fatalf("midi backend not running")
	}
	if status.TimelineSample == 0 {
		t.Fatalf("timeline never advanced under the simulated backend")
	}

	r.Stop()
	if r.IsRunning() {
		t.Fatalf("IsRunning true after Stop")
	}
	if r.Status().AudioRunning {
		t.Fatalf("audio backend still running after Stop")
	}
}
