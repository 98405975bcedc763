package engine

import (
	"math"
	"testing"

	"github.com/oakmoss/drumbox-go/internal/param"
)

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a)-float64(b)) <= 0.0001
}

func TestProcessWithNoActiveVoicesEmitsSilence(t *testing.T) {
	e := New()
	buf := make([]float32, 128)
	for i := range buf {
		buf[i] = 0.5 // stale data must be overwritten
	}
	e.Process(buf)
	for i, s := range buf {
		if s != 0 {
			t.Fatalf("frame %d: expected silence, got %f", i, s)
		}
	}
}

func TestSamplePlaybackMixesTriggeredTrack(t *testing.T) {
	e := New()
	if !e.SetTrackSample(0, []float32{1.0, 0.5}) {
		t.Fatal("sample assignment rejected")
	}
	if !e.TriggerTrack(0, 1.0) {
		t.Fatal("trigger rejected")
	}

	buf := make([]float32, 4)
	e.Process(buf)

	want := []float32{1.0, 0.5, 0.0, 0.0}
	for i := range want {
		if !almostEqual(buf[i], want[i]) {
			t.Fatalf("frame %d: want %f, got %f", i, want[i], buf[i])
		}
	}
}

func TestMasterGainScalesOutput(t *testing.T) {
	e := New()
	e.SetTrackSample(0, []float32{1.0})
	e.TriggerTrack(0, 1.0)
	e.SetMasterGain(0.25)

	buf := make([]float32, 1)
	e.Process(buf)
	if !almostEqual(buf[0], 0.25) {
		t.Fatalf("want 0.25, got %f", buf[0])
	}
}

func TestChokeGroupCutsSharedGroupOnly(t *testing.T) {
	e := New()
	longSample := make([]float32, 1024)
	for i := range longSample {
		longSample[i] = 1.0
	}
	e.SetTrackSample(0, longSample)
	e.SetTrackSample(1, longSample)
	e.SetTrackSample(2, longSample)

	choked := DefaultTrackParameters()
	choked.ChokeGroup = 3
	e.SetTrackParameters(0, choked)
	e.SetTrackParameters(1, choked)

	e.TriggerTrack(0, 1.0)
	e.TriggerTrack(2, 1.0) // different group, must survive
	e.TriggerTrack(1, 1.0) // same group as 0, cuts it

	buf := make([]float32, 8)
	e.Process(buf)

	// Two surviving voices at full velocity; track 0 contributes nothing.
	if e.tracks[0].active {
		t.Fatal("choked voice still active")
	}
	if !e.tracks[1].active || !e.tracks[2].active {
		t.Fatal("non-choked voices were cut")
	}
}

func TestMidiNoteOnMatchesDirectTrigger(t *testing.T) {
	direct := New()
	viaMidi := New()
	sample := []float32{0.9, 0.7, 0.4}
	direct.SetTrackSample(2, sample)
	viaMidi.SetTrackSample(2, sample)

	if !viaMidi.HandleMidiNoteOn(DefaultPadBaseNote+2, 100) {
		t.Fatal("note-on rejected")
	}
	direct.TriggerTrack(2, 100.0/127.0)

	a := make([]float32, 8)
	b := make([]float32, 8)
	direct.Process(a)
	viaMidi.Process(b)
	for i := range a {
		if !almostEqual(a[i], b[i]) {
			t.Fatalf("frame %d: direct %f, midi %f", i, a[i], b[i])
		}
	}
}

func TestMidiNoteOnIgnoresOutOfRangeAndZeroVelocity(t *testing.T) {
	e := New()
	e.SetTrackSample(0, []float32{1})
	if e.HandleMidiNoteOn(DefaultPadBaseNote-1, 100) {
		t.Fatal("note below pad base accepted")
	}
	if e.HandleMidiNoteOn(DefaultPadBaseNote+TrackCount, 100) {
		t.Fatal("note beyond last pad accepted")
	}
	if e.HandleMidiNoteOn(DefaultPadBaseNote, 0) {
		t.Fatal("zero velocity accepted")
	}
}

func TestTriggerRejectsMissingSampleAndZeroVelocity(t *testing.T) {
	e := New()
	if e.TriggerTrack(0, 1.0) {
		t.Fatal("trigger without sample accepted")
	}
	e.SetTrackSample(0, []float32{1})
	if e.TriggerTrack(0, 0) {
		t.Fatal("zero-velocity trigger accepted")
	}
	if e.TriggerTrack(TrackCount, 1.0) {
		t.Fatal("out-of-range track accepted")
	}
}

func TestSetTrackSampleSilencesSoundingVoice(t *testing.T) {
	e := New()
	e.SetTrackSample(0, make([]float32, 4096))
	e.TriggerTrack(0, 1.0)
	if !e.tracks[0].active {
		t.Fatal("voice not active after trigger")
	}
	e.SetTrackSample(0, []float32{0.5})
	if e.tracks[0].active {
		t.Fatal("sample replacement left voice active")
	}
	if e.tracks[0].playhead != 0 {
		t.Fatal("playhead not reset")
	}
}

func TestSetTrackParametersClamps(t *testing.T) {
	e := New()
	e.SetTrackParameters(0, TrackParameters{
		Gain:           5,
		Pan:            -3,
		FilterCutoff:   2,
		EnvelopeDecay:  -1,
		PitchSemitones: 99,
		ChokeGroup:     40,
	})
	p := e.TrackParameters(0)
	if p.Gain != 2 || p.Pan != -1 || p.FilterCutoff != 1 || p.EnvelopeDecay != 0 {
		t.Fatalf("unexpected clamped parameters: %+v", p)
	}
	if p.PitchSemitones != 24 || p.ChokeGroup != 15 {
		t.Fatalf("unexpected clamped pitch/choke: %+v", p)
	}
}

func TestApplyParameterUpdateMapsNormalizedRanges(t *testing.T) {
	e := New()
	cases := []struct {
		slot       uint32
		normalized float32
		check      func(TrackParameters) bool
	}{
		{param.SlotGain, 0.5, func(p TrackParameters) bool { return almostEqual(p.Gain, 1.0) }},
		{param.SlotPan, 0.0, func(p TrackParameters) bool { return almostEqual(p.Pan, -1.0) }},
		{param.SlotFilterCutoff, 0.3, func(p TrackParameters) bool { return almostEqual(p.FilterCutoff, 0.3) }},
		{param.SlotEnvelopeDecay, 0.8, func(p TrackParameters) bool { return almostEqual(p.EnvelopeDecay, 0.8) }},
		{param.SlotPitch, 1.0, func(p TrackParameters) bool { return almostEqual(p.PitchSemitones, 24) }},
		{param.SlotChokeGroup, 0.0, func(p TrackParameters) bool { return p.ChokeGroup == -1 }},
		{param.SlotChokeGroup, 1.0, func(p TrackParameters) bool { return p.ChokeGroup == 15 }},
	}
	for _, tc := range cases {
		if !e.ApplyParameterUpdate(param.ID(3, tc.slot), tc.normalized) {
			t.Fatalf("slot %d: update rejected", tc.slot)
		}
		if p := e.TrackParameters(3); !tc.check(p) {
			t.Fatalf("slot %d: unexpected parameters %+v", tc.slot, p)
		}
	}
}

func TestApplyParameterUpdateIsIdempotent(t *testing.T) {
	e := New()
	id := param.ID(1, param.SlotGain)
	e.ApplyParameterUpdate(id, 0.37)
	first := e.TrackParameters(1)
	e.ApplyParameterUpdate(id, 0.37)
	second := e.TrackParameters(1)
	if first != second {
		t.Fatalf("repeated update changed state: %+v vs %+v", first, second)
	}
}

func TestApplyParameterUpdateRejectsBadIDs(t *testing.T) {
	e := New()
	before := e.TrackParameters(0)
	if e.ApplyParameterUpdate(param.TrackBase-1, 0.5) {
		t.Fatal("id below track base accepted")
	}
	if e.ApplyParameterUpdate(param.ID(TrackCount, param.SlotGain), 0.5) {
		t.Fatal("track index beyond engine accepted")
	}
	if e.ApplyParameterUpdate(param.ID(0, param.SlotCount), 0.5) {
		t.Fatal("unknown slot accepted")
	}
	if got := e.TrackParameters(0); got != before {
		t.Fatalf("failed update had side effects: %+v", got)
	}
}

func TestApplyParameterUpdatesReportsBatchFailure(t *testing.T) {
	e := New()
	ok := e.ApplyParameterUpdates([]ParameterUpdate{
		{ID: param.ID(0, param.SlotGain), Normalized: 0.5},
		{ID: 0, Normalized: 0.5},
	})
	if ok {
		t.Fatal("batch with invalid id reported success")
	}
	if !almostEqual(e.TrackParameters(0).Gain, 1.0) {
		t.Fatal("valid update in batch was not applied")
	}
}

func TestTempoAndDeviceConfigValidation(t *testing.T) {
	e := New()
	e.SetTempoBPM(400)
	if e.TempoBPM() != 300 {
		t.Fatalf("tempo not clamped high: %f", e.TempoBPM())
	}
	e.SetTempoBPM(5)
	if e.TempoBPM() != 20 {
		t.Fatalf("tempo not clamped low: %f", e.TempoBPM())
	}

	if e.SetDeviceConfig(DeviceConfig{SampleRateHz: 0, BufferSizeFrames: 128}) {
		t.Fatal("zero sample rate accepted")
	}
	if e.SetDeviceConfig(DeviceConfig{SampleRateHz: 44100, BufferSizeFrames: 0}) {
		t.Fatal("zero buffer size accepted")
	}
	cfg := DeviceConfig{SampleRateHz: 44100, BufferSizeFrames: 128, DeviceID: "test"}
	if !e.SetDeviceConfig(cfg) {
		t.Fatal("valid config rejected")
	}
	if e.DeviceConfig() != cfg {
		t.Fatalf("config not stored: %+v", e.DeviceConfig())
	}
}

func TestEnvelopeDecayEventuallyDeactivatesVoice(t *testing.T) {
	e := New()
	sample := make([]float32, 1<<20)
	for i := range sample {
		sample[i] = 1
	}
	e.SetTrackSample(0, sample)
	p := DefaultTrackParameters()
	p.EnvelopeDecay = 0 // fastest decay, ~20ms
	e.SetTrackParameters(0, p)
	e.TriggerTrack(0, 1.0)

	buf := make([]float32, 4096)
	for i := 0; i < 64 && e.tracks[0].active; i++ {
		e.Process(buf)
	}
	if e.tracks[0].active {
		t.Fatal("voice never decayed below the envelope floor")
	}
}

func TestProfilingAccumulatesStats(t *testing.T) {
	e := New()
	e.SetTrackSample(0, make([]float32, 256))
	e.SetProfilingEnabled(true)
	buf := make([]float32, 256)
	e.TriggerTrack(0, 1.0)
	e.Process(buf)
	e.Process(buf)

	stats := e.PerformanceStats()
	if stats.ProcessedBlocks != 2 {
		t.Fatalf("want 2 blocks, got %d", stats.ProcessedBlocks)
	}
	if stats.ProcessedFrames != 512 {
		t.Fatalf("want 512 frames, got %d", stats.ProcessedFrames)
	}

	e.ResetPerformanceStats()
	if e.PerformanceStats().ProcessedBlocks != 0 {
		t.Fatal("reset did not clear stats")
	}
}
