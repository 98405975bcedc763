package drumbox

import (
	"github.com/oakmoss/drumbox-go/internal/engine"
)

// commandQueueCapacity bounds the control-to-audio mailbox. Past this the
// producer falls back to direct mutation rather than dropping the update.
const commandQueueCapacity = 4096

type commandType int

const (
	commandStartTransport commandType = iota
	commandStopTransport
	commandSetTempo
	commandSetSwing
	commandTriggerTrack
	commandSetTrackParameters
	commandSetTrackSample
	commandClearTrackSample
	commandApplyEngineParameter
)

// command is one control operation in flight to the audio thread. Created
// by any caller, consumed exactly once inside the audio callback.
type command struct {
	kind            commandType
	trackIndex      int
	value           float32
	trackParameters engine.TrackParameters
	sampleData      []float32
	parameterID     uint32
}

// enqueueCommand appends to the pending mailbox. It blocks only on the
// queue mutex, held by the audio thread for no longer than a slice swap.
// Returns false when the queue is full; callers then apply the change
// directly, accepting the documented consistency relaxation.
func (r *Runtime) enqueueCommand(cmd command) bool {
	r.commandMu.Lock()
	defer r.commandMu.Unlock()
	if len(r.pendingCommands) >= commandQueueCapacity {
		return false
	}
	r.pendingCommands = append(r.pendingCommands, cmd)
	return true
}

// drainCommands swaps the pending slice out under a try-lock. If the
// control thread holds the lock right now, the audio thread skips this
// callback instead of stalling; commands wait one more block.
func (r *Runtime) drainCommands() []command {
	if !r.commandMu.TryLock() {
		return nil
	}
	commands := r.pendingCommands
	r.pendingCommands = r.commandScratch[:0]
	r.commandScratch = commands[:0:cap(commands)]
	r.commandMu.Unlock()
	return commands
}

// applyPendingCommands executes drained commands on the audio thread,
// collecting immediate pad triggers as zero-offset events.
func (r *Runtime) applyPendingCommands(immediateEvents *[]triggerEvent) {
	commands := r.drainCommands()

	for i := range commands {
		cmd := &commands[i]
		switch cmd.kind {
		case commandStartTransport:
			r.transportRunning.Store(true)
			r.engine.StartTransport()
			r.sequencer.emitStepOnNextProcess = true
			r.sequencer.currentStep = 0
			r.sequencer.samplesToNextStep = r.stepIntervalSamples(0)
			r.playheadStep.Store(0)
		case commandStopTransport:
			r.transportRunning.Store(false)
			r.engine.StopTransport()
			r.sequencer.emitStepOnNextProcess = false
		case commandSetTempo:
			r.engine.SetTempoBPM(cmd.value)
			r.clampPendingStepInterval()
		case commandSetSwing:
			r.clampPendingStepInterval()
		case commandTriggerTrack:
			*immediateEvents = append(*immediateEvents, triggerEvent{
				offset:     0,
				trackIndex: cmd.trackIndex,
				velocity:   clampUnit(cmd.value),
			})
		case commandSetTrackParameters:
			r.engine.SetTrackParameters(cmd.trackIndex, cmd.trackParameters)
		case commandSetTrackSample:
			r.engine.SetTrackSample(cmd.trackIndex, cmd.sampleData)
		case commandClearTrackSample:
			r.engine.ClearTrackSample(cmd.trackIndex)
		case commandApplyEngineParameter:
			r.engine.ApplyParameterUpdate(cmd.parameterID, cmd.value)
		}
	}
}

// clampPendingStepInterval never lets a tempo/swing change push the next
// step further away than the freshly computed interval.
func (r *Runtime) clampPendingStepInterval() {
	fresh := r.stepIntervalSamples(r.sequencer.currentStep)
	if r.sequencer.samplesToNextStep > fresh {
		r.sequencer.samplesToNextStep = fresh
	}
}

func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
