// Package midiio provides the MIDI input boundary: raw message bytes
// delivered to a callback on the driver's thread. Only the runtime decides
// what the bytes mean.
package midiio

// MessageCallback receives one raw MIDI message. The slice is only valid
// for the duration of the call.
type MessageCallback func(bytes []byte)

// DeviceInfo describes one MIDI input port.
type DeviceInfo struct {
	ID   string
	Name string
}

// Backend is the capability the runtime needs from MIDI input.
type Backend interface {
	Start(preferredDeviceID string, callback MessageCallback) error
	Stop()
	IsRunning() bool
	InputDevices() []DeviceInfo
}
