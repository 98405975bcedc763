// Package param defines the flat parameter-id space shared by the engine,
// the runtime command queue, and MIDI CC bindings. Each track owns a
// contiguous block of ids starting at TrackBase, Stride ids apart.
package param

// Slot indices within a track's parameter block.
const (
	SlotGain uint32 = iota
	SlotPan
	SlotFilterCutoff
	SlotEnvelopeDecay
	SlotPitch
	SlotChokeGroup

	SlotCount
)

const (
	// TrackBase is the first id assigned to track parameters. Ids below it
	// are reserved for future global parameters.
	TrackBase uint32 = 0x1000

	// Stride is the id distance between consecutive tracks' blocks. Wider
	// than SlotCount so slots can be added without renumbering.
	Stride uint32 = 16
)

// ID returns the flat parameter id for a track/slot pair.
func ID(trackIndex int, slot uint32) uint32 {
	return TrackBase + uint32(trackIndex)*Stride + slot
}

// Decode splits a flat id into (trackIndex, slot). ok is false for ids
// outside the track parameter space.
func Decode(id uint32) (trackIndex int, slot uint32, ok bool) {
	if id < TrackBase {
		return 0, 0, false
	}
	offset := id - TrackBase
	return int(offset / Stride), offset % Stride, true
}
