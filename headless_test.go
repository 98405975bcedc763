package drumbox

import "testing"

func TestHeadlessSmoke(t *testing.T) {
	result, err := RunHeadlessSession(48000, 256, 200)
	if err != nil {
		t.Fatalf("headless session failed: %v", err)
	}
	if result.PeakAmplitude < 0.001 {
		t.Fatalf("peak amplitude %f below audibility floor", result.PeakAmplitude)
	}
	if result.EngineStats.ProcessedBlocks == 0 {
		t.Fatalf("engine recorded no processed blocks")
	}
	if result.TimelineSample != uint64(201*256) {
		t.Fatalf("timeline = %d, want %d", result.TimelineSample, 201*256)
	}
}

func TestHeadlessRejectsBadGeometry(t *testing.T) {
	if _, err := RunHeadlessSession(0, 256, 10); err == nil {
		t.Fatalf("accepted zero sample rate")
	}
	if _, err := RunHeadlessSession(48000, 0, 10); err == nil {
		t.Fatalf("accepted zero buffer size")
	}
	if _, err := RunHeadlessSession(48000, 256, 0); err == nil {
		t.Fatalf("accepted zero block count")
	}
}
