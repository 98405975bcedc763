package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	drumbox "github.com/oakmoss/drumbox-go"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	trackStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	selectedTrack = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true).Width(12)
	stepOffStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	stepOnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
	playheadStyle = lipgloss.NewStyle().Background(lipgloss.Color("57"))
	cursorStyle   = lipgloss.NewStyle().Background(lipgloss.Color("240"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	messageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	learnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var trackNames = [drumbox.TrackCount]string{
	"kick", "snare", "clap", "hat closed", "hat open",
	"tom low", "tom high", "perc",
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	runtime     *drumbox.Runtime
	projectPath string

	cursorTrack int
	cursorStep  int
	message     string
	quitting    bool
}

func newModel(runtime *drumbox.Runtime, projectPath string) model {
	return model{runtime: runtime, projectPath: projectPath}
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case " ":
			m.runtime.ToggleTransport()

		case "up", "k":
			m.cursorTrack = (m.cursorTrack + drumbox.TrackCount - 1) % drumbox.TrackCount
		case "down", "j":
			m.cursorTrack = (m.cursorTrack + 1) % drumbox.TrackCount
		case "left", "h":
			m.cursorStep = (m.cursorStep + drumbox.Steps - 1) % drumbox.Steps
		case "right", "l":
			m.cursorStep = (m.cursorStep + 1) % drumbox.Steps

		case "enter", "x":
			cell := m.runtime.Step(m.cursorTrack, m.cursorStep)
			if cell.Active {
				m.runtime.SetStep(m.cursorTrack, m.cursorStep, false, 0)
			} else {
				m.runtime.SetStep(m.cursorTrack, m.cursorStep, true, 100)
			}

		case "+", "=":
			m.runtime.SetTempoBPM(m.runtime.TempoBPM() + 2)
		case "-", "_":
			m.runtime.SetTempoBPM(m.runtime.TempoBPM() - 2)
		case ">", ".":
			m.runtime.SetSwing(m.runtime.Swing() + 0.03)
		case "<", ",":
			m.runtime.SetSwing(m.runtime.Swing() - 0.03)

		case "1", "2", "3", "4", "5", "6", "7", "8":
			pad := int(msg.String()[0] - '1')
			m.runtime.TriggerPad(pad, 110)

		case "g":
			if m.runtime.BeginMidiLearn(m.cursorTrack, drumbox.LearnTrackGain) {
				m.message = fmt.Sprintf("learn: move a CC to bind track %d gain", m.cursorTrack)
			}
		case "f":
			if m.runtime.BeginMidiLearn(m.cursorTrack, drumbox.LearnTrackFilterCutoff) {
				m.message = fmt.Sprintf("learn: move a CC to bind track %d cutoff", m.cursorTrack)
			}
		case "d":
			if m.runtime.BeginMidiLearn(m.cursorTrack, drumbox.LearnTrackEnvelopeDecay) {
				m.message = fmt.Sprintf("learn: move a CC to bind track %d decay", m.cursorTrack)
			}
		case "esc":
			m.runtime.CancelMidiLearn()
			m.message = ""

		case "s":
			if err := m.runtime.SaveProject(m.projectPath); err != nil {
				m.message = fmt.Sprintf("save failed: %v", err)
			} else {
				m.message = fmt.Sprintf("saved %s", m.projectPath)
			}
		case "o":
			if err := m.runtime.LoadProject(m.projectPath); err != nil {
				m.message = fmt.Sprintf("load failed: %v", err)
			} else {
				m.message = fmt.Sprintf("loaded %s", m.projectPath)
			}
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	status := m.runtime.Status()

	var b strings.Builder
	b.WriteString(titleStyle.Render("drumbox"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(m.runtime.ProjectName()))
	b.WriteString("\n\n")

	playhead := int(status.PlayheadStep)
	for track := 0; track < drumbox.TrackCount; track++ {
		label := trackStyle
		if track == m.cursorTrack {
			label = selectedTrack
		}
		name := trackNames[track]
		if group := m.runtime.TrackChokeGroup(track); group >= 0 {
			name = fmt.Sprintf("%s c%d", name, group)
		}
		b.WriteString(label.Render(fmt.Sprintf("%d %s", track+1, name)))

		for step := 0; step < drumbox.Steps; step++ {
			cell := m.runtime.Step(track, step)
			glyph := stepOffStyle.Render(" · ")
			if cell.Active {
				glyph = stepOnStyle.Render(fmt.Sprintf("%3d", cell.Velocity))
			}
			if status.TransportRunning && step == playhead {
				glyph = playheadStyle.Render(glyph)
			} else if track == m.cursorTrack && step == m.cursorStep {
				glyph = cursorStyle.Render(glyph)
			}
			b.WriteString(glyph)
			if step%4 == 3 && step != drumbox.Steps-1 {
				b.WriteString(" ")
			}
		}
		b.WriteString("\n")
	}

	transport := "stopped"
	if status.TransportRunning {
		transport = "playing"
	}
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(fmt.Sprintf(
		"%s  %.0f bpm  swing %.2f  audio:%s  midi inputs:%d  xruns:%d",
		transport, m.runtime.TempoBPM(), m.runtime.Swing(),
		status.AudioDeviceID, status.MidiDeviceCount,
		status.BackendXruns+status.EngineXruns)))
	b.WriteString("\n")

	if status.LearnedCCBinding != "" {
		b.WriteString(learnStyle.Render("bound: " + status.LearnedCCBinding))
		b.WriteString("\n")
	}
	if m.message != "" {
		b.WriteString(messageStyle.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(
		"space play/stop · arrows move · enter toggle step · 1-8 trigger pads\n" +
			"+/- tempo · </> swing · g/f/d midi learn · esc cancel · s save · o load · q quit"))
	return b.String()
}
