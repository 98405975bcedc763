package midiio

import (
	"fmt"
	"strings"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver
)

// Listener opens one MIDI input port through the system driver and forwards
// raw message bytes. Device selection is by id substring match, falling
// back to the first available port.
type Listener struct {
	mu       sync.Mutex
	stopFunc func()
	portName string
	running  bool
}

func NewListener() *Listener {
	return &Listener{}
}

func (l *Listener) Start(preferredDeviceID string, callback MessageCallback) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}
	if callback == nil {
		return fmt.Errorf("invalid MIDI callback")
	}

	inPorts := gomidi.GetInPorts()
	if len(inPorts) == 0 {
		return fmt.Errorf("no MIDI input ports available")
	}

	port := inPorts[0]
	if preferredDeviceID != "" && preferredDeviceID != "default" {
		wanted := strings.ToLower(preferredDeviceID)
		for i, candidate := range inPorts {
			if strings.Contains(strings.ToLower(candidate.String()), wanted) {
				port = inPorts[i]
				break
			}
		}
	}

	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, timestampms int32) {
		callback(msg)
	})
	if err != nil {
		return fmt.Errorf("open MIDI input %q: %w", port.String(), err)
	}

	l.stopFunc = stop
	l.portName = port.String()
	l.running = true
	return nil
}

func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	if l.stopFunc != nil {
		l.stopFunc()
		l.stopFunc = nil
	}
	l.running = false
}

func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) InputDevices() []DeviceInfo {
	ports := gomidi.GetInPorts()
	devices := make([]DeviceInfo, 0, len(ports))
	for _, port := range ports {
		devices = append(devices, DeviceInfo{ID: port.String(), Name: port.String()})
	}
	return devices
}

// PortName reports the opened port, empty while stopped.
func (l *Listener) PortName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portName
}
