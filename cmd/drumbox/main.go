// Command drumbox runs the drum machine: a terminal step-sequencer UI over
// the real-time engine, or a headless render for smoke and soak checks.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"

	drumbox "github.com/oakmoss/drumbox-go"
	"github.com/oakmoss/drumbox-go/internal/diag"
)

func main() {
	var (
		headlessSmoke  = flag.Bool("headless-smoke", false, "render a short session offline and exit")
		headlessSoak   = flag.Bool("headless-soak", false, "render a five-minute session offline and exit")
		sampleRate     = flag.Uint("sample-rate", 48000, "output sample rate in Hz")
		bufferSize     = flag.Uint("buffer-size", 256, "output buffer size in frames")
		audioDevice    = flag.String("audio-device", "default", "output device id")
		midiDevice     = flag.String("midi-device", "default", "MIDI input device id")
		projectPath    = flag.String("project", "session.ffproject", "project file for save/load")
		diagnosticsDir = flag.String("diagnostics-dir", "", "directory for diagnostic reports")
	)
	flag.Parse()

	reporter := diag.NewReporter(*diagnosticsDir)

	if *headlessSmoke || *headlessSoak {
		// Smoke is ~8 seconds of audio, soak is five minutes.
		blocks := 1500
		if *headlessSoak {
			blocks = 56250
		}
		os.Exit(runHeadless(reporter, uint32(*sampleRate), uint32(*bufferSize), blocks))
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			reporter.WriteCrashReport("panic", fmt.Sprint(recovered), nil)
			panic(recovered)
		}
	}()

	runtime := drumbox.New(drumbox.WithDiagnostics(reporter))
	if err := runtime.Start(drumbox.Config{
		Audio: drumbox.DeviceConfig{
			SampleRateHz:     uint32(*sampleRate),
			BufferSizeFrames: uint32(*bufferSize),
			DeviceID:         *audioDevice,
		},
		MidiDeviceID: *midiDevice,
	}); err != nil {
		reporter.WriteCrashReport("startup_failure", err.Error(), nil)
		fmt.Fprintf(os.Stderr, "drumbox: %v\n", err)
		os.Exit(1)
	}
	defer runtime.Stop()

	program := tea.NewProgram(newModel(runtime, *projectPath), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "drumbox: %v\n", err)
		os.Exit(1)
	}
}

func runHeadless(reporter *diag.Reporter, sampleRate, bufferSize uint32, blocks int) int {
	result, err := drumbox.RunHeadlessSession(sampleRate, bufferSize, blocks)

	fields := []diag.Field{
		{Key: "blocks", Value: strconv.Itoa(result.Blocks)},
		{Key: "frames", Value: strconv.FormatUint(result.Frames, 10)},
		{Key: "peak_amplitude", Value: strconv.FormatFloat(result.PeakAmplitude, 'f', 6, 64)},
		{Key: "engine_xruns", Value: strconv.FormatUint(result.EngineStats.XrunCount, 10)},
		{Key: "avg_block_us", Value: strconv.FormatFloat(result.EngineStats.AverageBlockDurationUs, 'f', 2, 64)},
		{Key: "peak_block_us", Value: strconv.FormatFloat(result.EngineStats.PeakBlockDurationUs, 'f', 2, 64)},
	}

	if err != nil {
		reporter.WriteCrashReport("headless_failure", err.Error(), fields)
		fmt.Fprintf(os.Stderr, "headless session failed: %v\n", err)
		return 1
	}

	reporter.WriteRuntimeReport("headless_session", fields)
	fmt.Printf("headless ok: %d blocks, peak %.4f, avg block %.1fus, peak block %.1fus, xruns %d\n",
		result.Blocks, result.PeakAmplitude,
		result.EngineStats.AverageBlockDurationUs,
		result.EngineStats.PeakBlockDurationUs,
		result.EngineStats.XrunCount)
	return 0
}
