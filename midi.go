package drumbox

import (
	"fmt"

	"github.com/oakmoss/drumbox-go/internal/param"
)

const (
	midiStatusNoteOn        = 0x90
	midiStatusControlChange = 0xB0
)

// BeginMidiLearn arms learn mode: the next control change message binds
// its controller number to the given track parameter. Only one learn can
// be armed at a time; arming again replaces the previous target.
func (r *Runtime) BeginMidiLearn(trackIndex int, slot MidiLearnSlot) bool {
	if trackIndex < 0 || trackIndex >= TrackCount {
		return false
	}
	if parameterIDForLearnTarget(trackIndex, slot) == 0 {
		return false
	}
	r.midiMu.Lock()
	r.activeLearn = &learnTarget{trackIndex: trackIndex, slot: slot}
	r.lastLearnedBinding = ""
	r.midiMu.Unlock()
	return true
}

// CancelMidiLearn disarms learn mode without binding anything.
func (r *Runtime) CancelMidiLearn() {
	r.midiMu.Lock()
	r.activeLearn = nil
	r.midiMu.Unlock()
}

// MidiLearnArmed reports whether a learn target is waiting for a CC.
func (r *Runtime) MidiLearnArmed() bool {
	r.midiMu.Lock()
	defer r.midiMu.Unlock()
	return r.activeLearn != nil
}

// handleMidiMessage runs on the MIDI backend's listener thread. Note-ons
// trigger pads; control changes either complete an armed learn or dispatch
// through an existing binding. Everything audio-bound goes through the
// command queue, never straight into the engine.
func (r *Runtime) handleMidiMessage(message []byte) {
	if len(message) < 3 {
		return
	}

	status := message[0] & 0xF0
	data1 := message[1] & 0x7F
	data2 := message[2] & 0x7F

	switch status {
	case midiStatusNoteOn:
		if data2 == 0 {
			return // velocity-zero note-on is a note-off
		}
		pad := int(data1) - int(r.PadBaseNote())
		if pad < 0 || pad >= TrackCount {
			return
		}
		r.TriggerPad(pad, data2)

	case midiStatusControlChange:
		r.dispatchControlChange(data1, data2)
	}
}

func (r *Runtime) dispatchControlChange(controller, value byte) {
	r.midiMu.Lock()
	if r.activeLearn != nil {
		target := *r.activeLearn
		r.activeLearn = nil
		id := parameterIDForLearnTarget(target.trackIndex, target.slot)
		r.ccBindings[controller] = id
		r.lastLearnedBinding = fmt.Sprintf("CC %d -> track %d %s",
			controller, target.trackIndex, learnSlotName(target.slot))
		r.midiMu.Unlock()
		return
	}
	id := r.ccBindings[controller]
	r.midiMu.Unlock()

	if id == 0 {
		return
	}
	normalized := clampUnit(float32(value) / 127)
	if !r.enqueueCommand(command{
		kind:        commandApplyEngineParameter,
		parameterID: id,
		value:       normalized,
	}) {
		r.engine.ApplyParameterUpdate(id, normalized)
	}
}

// ClearCCBindings forgets every learned controller mapping.
func (r *Runtime) ClearCCBindings() {
	r.midiMu.Lock()
	r.ccBindings = [128]uint32{}
	r.lastLearnedBinding = ""
	r.midiMu.Unlock()
}

func parameterIDForLearnTarget(trackIndex int, slot MidiLearnSlot) uint32 {
	switch slot {
	case LearnTrackGain:
		return param.ID(trackIndex, param.SlotGain)
	case LearnTrackFilterCutoff:
		return param.ID(trackIndex, param.SlotFilterCutoff)
	case LearnTrackEnvelopeDecay:
		return param.ID(trackIndex, param.SlotEnvelopeDecay)
	}
	return 0
}

func learnSlotName(slot MidiLearnSlot) string {
	switch slot {
	case LearnTrackGain:
		return "gain"
	case LearnTrackFilterCutoff:
		return "filter cutoff"
	case LearnTrackEnvelopeDecay:
		return "envelope decay"
	}
	return "unknown"
}
