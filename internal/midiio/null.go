package midiio

import (
	"errors"
	"sync"
)

// NullBackend accepts a callback and never delivers anything. Headless
// sessions and tests use it in place of real MIDI input; tests can also
// inject messages through Deliver.
type NullBackend struct {
	mu       sync.Mutex
	callback MessageCallback
	running  bool
}

func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

func (n *NullBackend) Start(preferredDeviceID string, callback MessageCallback) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if callback == nil {
		return errors.New("invalid MIDI callback")
	}
	n.callback = callback
	n.running = true
	return nil
}

func (n *NullBackend) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callback = nil
	n.running = false
}

func (n *NullBackend) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

func (n *NullBackend) InputDevices() []DeviceInfo {
	return []DeviceInfo{{ID: "none", Name: "No MIDI inputs available"}}
}

// Deliver forwards bytes to the registered callback, mimicking a driver
// thread. No-op while stopped.
func (n *NullBackend) Deliver(bytes []byte) {
	n.mu.Lock()
	callback := n.callback
	n.mu.Unlock()
	if callback != nil {
		callback(bytes)
	}
}
