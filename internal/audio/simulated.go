package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// SimulatedBackend drives the callback from its own goroutine at the pace a
// real device would, without touching audio hardware. Used for headless
// smoke/soak sessions and tests. It records per-callback duration and
// interval statistics and counts a callback as an xrun when it spends more
// than 95% of its budget, leaving no headroom for device jitter.
type SimulatedBackend struct {
	running atomic.Bool
	done    chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

func NewSimulatedBackend() *SimulatedBackend {
	return &SimulatedBackend{}
}

func (s *SimulatedBackend) Start(config Config, callback Callback) error {
	if s.running.Load() {
		return nil
	}
	if config.SampleRateHz == 0 || config.BufferSizeFrames == 0 || callback == nil {
		return errors.New("invalid simulated audio backend configuration")
	}

	s.done = make(chan struct{})
	s.running.Store(true)
	go s.run(config, callback)
	return nil
}

func (s *SimulatedBackend) Stop() {
	if !s.running.Swap(false) {
		return
	}
	<-s.done
}

func (s *SimulatedBackend) IsRunning() bool { return s.running.Load() }

func (s *SimulatedBackend) OutputDevices() []DeviceInfo {
	return []DeviceInfo{{ID: "default", Name: "Simulated Output", IsDefault: true}}
}

func (s *SimulatedBackend) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *SimulatedBackend) run(config Config, callback Callback) {
	defer close(s.done)

	interleaved := make([]float32, config.BufferSizeFrames*2)
	budgetUs := float64(config.BufferSizeFrames) * 1e6 / float64(config.SampleRateHz)
	budget := time.Duration(budgetUs * float64(time.Microsecond))

	var lastCallback time.Time

	for s.running.Load() {
		callbackStart := time.Now()
		callback(interleaved)
		durationUs := float64(time.Since(callbackStart).Microseconds())

		intervalUs := 0.0
		if !lastCallback.IsZero() {
			intervalUs = float64(callbackStart.Sub(lastCallback).Microseconds())
		}
		lastCallback = callbackStart

		s.statsMu.Lock()
		s.stats.CallbackCount++
		count := float64(s.stats.CallbackCount)
		s.stats.AverageCallbackDurationUs += (durationUs - s.stats.AverageCallbackDurationUs) / count
		if durationUs > s.stats.PeakCallbackDurationUs {
			s.stats.PeakCallbackDurationUs = durationUs
		}
		if intervalUs > 0 {
			s.stats.AverageCallbackIntervalUs += (intervalUs - s.stats.AverageCallbackIntervalUs) / count
			if intervalUs > s.stats.PeakCallbackIntervalUs {
				s.stats.PeakCallbackIntervalUs = intervalUs
			}
		}
		if durationUs > budgetUs*0.95 {
			s.stats.XrunCount++
		}
		s.statsMu.Unlock()

		if elapsed := time.Since(callbackStart); elapsed < budget {
			time.Sleep(budget - elapsed)
		}
	}
}
