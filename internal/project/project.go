// Package project defines the persisted session model and its file format:
// a line-oriented text file with hex-encoded free-text fields, a kit section
// for per-track samples and controls, and a pattern section for the step
// grid. Loading is strict — a malformed record fails the whole file rather
// than silently dropping state.
package project

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oakmoss/drumbox-go/internal/engine"
)

const (
	// TrackCount and Steps fix the persisted grid dimensions.
	TrackCount = engine.TrackCount
	Steps      = 16

	header    = "FF_PROJECT_V1"
	bpmMarker = "|FF_BPM="

	DefaultName = "Drumbox Session"
)

// Step is one persisted pattern cell.
type Step struct {
	Active   bool
	Velocity uint8
}

// TrackState pairs a sample path with its mix controls.
type TrackState struct {
	SamplePath string
	Parameters engine.TrackParameters
}

// Model is the full persisted session.
type Model struct {
	Name    string
	BPM     float32
	Swing   float32
	Tracks  [TrackCount]TrackState
	Pattern [TrackCount][Steps]Step
}

func NewModel() Model {
	m := Model{Name: DefaultName, BPM: 120}
	for i := range m.Tracks {
		m.Tracks[i].Parameters = engine.DefaultTrackParameters()
	}
	for t := range m.Pattern {
		for s := range m.Pattern[t] {
			m.Pattern[t][s].Velocity = 100
		}
	}
	return m
}

// Save writes the model to path, replacing any existing file.
func Save(path string, m Model) error {
	var b strings.Builder
	b.WriteString(header + "\n")
	fmt.Fprintf(&b, "name=%s\n", encodeText(nameWithMeta(m)))
	b.WriteString("active_kit=0\n")
	b.WriteString("active_pattern=0\n")

	b.WriteString("BEGIN_KIT\n")
	fmt.Fprintf(&b, "name=%s\n", encodeText("Desktop Kit"))
	for track := range m.Tracks {
		state := m.Tracks[track]
		if state.SamplePath != "" {
			fmt.Fprintf(&b, "track|%d|%s\n", track, encodeText(state.SamplePath))
		}
		p := state.Parameters
		choke := p.ChokeGroup
		if choke < 0 {
			choke = -1
		} else if choke > 15 {
			choke = 15
		}
		fmt.Fprintf(&b, "control|%d|%s|%s|%s|%s|%s|%d\n", track,
			formatFloat(p.Gain), formatFloat(p.Pan), formatFloat(p.FilterCutoff),
			formatFloat(p.EnvelopeDecay), formatFloat(p.PitchSemitones), choke)
	}
	b.WriteString("END_KIT\n")

	b.WriteString("BEGIN_PATTERN\n")
	fmt.Fprintf(&b, "name=%s\n", encodeText("Desktop Pattern"))
	fmt.Fprintf(&b, "swing=%s\n", formatFloat(m.Swing))
	for track := range m.Pattern {
		for step := range m.Pattern[track] {
			cell := m.Pattern[track][step]
			active := 0
			if cell.Active {
				active = 1
			}
			fmt.Fprintf(&b, "step|%d|%d|%d|%d\n", track, step, active, cell.Velocity)
		}
	}
	b.WriteString("END_PATTERN\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	return nil
}

// Load parses a project file written by Save.
func Load(path string) (Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("open project file: %w", err)
	}
	return Parse(string(raw))
}

// Parse decodes project text.
func Parse(text string) (Model, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || lines[0] != header {
		return Model{}, fmt.Errorf("invalid project header")
	}

	parsed := NewModel()
	parsedName := false
	inKit := false
	inPattern := false

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		switch line {
		case "BEGIN_KIT":
			inKit = true
			continue
		case "END_KIT":
			inKit = false
			continue
		case "BEGIN_PATTERN":
			inPattern = true
			continue
		case "END_PATTERN":
			inPattern = false
			continue
		}

		switch {
		case !inKit && !inPattern:
			if strings.HasPrefix(line, "name=") && !parsedName {
				decoded, err := decodeText(line[len("name="):])
				if err != nil {
					return Model{}, err
				}
				parseNameAndMeta(decoded, &parsed)
				parsedName = true
			}

		case inKit:
			if err := parseKitLine(line, &parsed); err != nil {
				return Model{}, err
			}

		case inPattern:
			if err := parsePatternLine(line, &parsed); err != nil {
				return Model{}, err
			}
		}
	}

	if !parsedName {
		parsed.Name = DefaultName
		parsed.BPM = 120
	}
	return parsed, nil
}

func parseKitLine(line string, parsed *Model) error {
	if rest, ok := strings.CutPrefix(line, "track|"); ok {
		fields := strings.Split(rest, "|")
		if len(fields) != 2 {
			return fmt.Errorf("invalid track line in kit")
		}
		track, err := strconv.Atoi(fields[0])
		if err != nil || track < 0 || track >= TrackCount {
			return fmt.Errorf("track assignment out of range")
		}
		path, err := decodeText(fields[1])
		if err != nil {
			return err
		}
		parsed.Tracks[track].SamplePath = path
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "control|"); ok {
		fields := strings.Split(rest, "|")
		if len(fields) != 7 {
			return fmt.Errorf("invalid control line in kit")
		}
		track, err := strconv.Atoi(fields[0])
		if err != nil || track < 0 || track >= TrackCount {
			return fmt.Errorf("control track out of range")
		}
		p := &parsed.Tracks[track].Parameters
		values := make([]float32, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 32)
			if err != nil {
				return fmt.Errorf("invalid control value in kit")
			}
			values[i] = float32(v)
		}
		p.Gain, p.Pan, p.FilterCutoff, p.EnvelopeDecay, p.PitchSemitones =
			values[0], values[1], values[2], values[3], values[4]
		choke, err := strconv.Atoi(fields[6])
		if err != nil {
			return fmt.Errorf("invalid choke group value")
		}
		p.ChokeGroup = choke
		return nil
	}

	// Unknown kit records (e.g. a kit name) are tolerated.
	return nil
}

func parsePatternLine(line string, parsed *Model) error {
	if rest, ok := strings.CutPrefix(line, "swing="); ok {
		swing, err := strconv.ParseFloat(rest, 32)
		if err != nil {
			return fmt.Errorf("invalid swing value")
		}
		parsed.Swing = clampSwing(float32(swing))
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "step|"); ok {
		fields := strings.Split(rest, "|")
		if len(fields) != 4 {
			return fmt.Errorf("invalid step line")
		}
		track, err1 := strconv.Atoi(fields[0])
		step, err2 := strconv.Atoi(fields[1])
		active, err3 := strconv.Atoi(fields[2])
		velocity, err4 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return fmt.Errorf("invalid step field")
		}
		if track < 0 || track >= TrackCount || step < 0 || step >= Steps {
			return fmt.Errorf("step index out of range")
		}
		if velocity < 0 {
			velocity = 0
		} else if velocity > 127 {
			velocity = 127
		}
		parsed.Pattern[track][step].Active = active != 0
		parsed.Pattern[track][step].Velocity = uint8(velocity)
		return nil
	}

	return nil
}

// nameWithMeta folds the bpm into the encoded name field so older readers
// that only understand the name still round-trip it.
func nameWithMeta(m Model) string {
	return m.Name + bpmMarker + formatFloat(m.BPM)
}

func parseNameAndMeta(decoded string, parsed *Model) {
	marker := strings.Index(decoded, bpmMarker)
	if marker < 0 {
		parsed.Name = decoded
		parsed.BPM = 120
		return
	}
	parsed.Name = decoded[:marker]
	bpm, err := strconv.ParseFloat(decoded[marker+len(bpmMarker):], 32)
	if err != nil {
		parsed.BPM = 120
		return
	}
	parsed.BPM = clampBPM(float32(bpm))
}

func encodeText(value string) string {
	return strings.ToUpper(hex.EncodeToString([]byte(value)))
}

func decodeText(value string) (string, error) {
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("invalid hex text field")
	}
	return string(decoded), nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 6, 32)
}

func clampBPM(bpm float32) float32 {
	if bpm < 20 {
		return 20
	}
	if bpm > 300 {
		return 300
	}
	return bpm
}

func clampSwing(swing float32) float32 {
	if swing < 0 {
		return 0
	}
	if swing > 0.45 {
		return 0.45
	}
	return swing
}
