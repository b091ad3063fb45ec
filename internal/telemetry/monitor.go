package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/events"
	"codeberg.org/mutker/nvtuner/internal/logger"
)

const defaultHistorySize = 300

// Averages summarizes a window of samples.
type Averages struct {
	Temperature    float64
	MaxTemperature device.Celsius
	Power          float64
	MaxPower       device.Watts
	CoreClock      float64
	MemoryClock    float64
	Utilization    float64
	Samples        int
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	HistorySize   int
	SoftTempLimit device.Celsius
	Archive       Collector
}

// Monitor periodically samples device state into a bounded history
// buffer and raises threshold notifications through the event bus.
// A tick whose device query has not returned by the next tick causes
// the new tick to be skipped rather than queued, so at most one device
// query is outstanding at any time.
type Monitor struct {
	ctrl      device.Controller
	publisher events.Publisher
	softLimit device.Celsius
	archive   Collector

	mu      sync.RWMutex
	history *ring
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	inFlight atomic.Bool
	samplers sync.WaitGroup
}

func NewMonitor(ctrl device.Controller, publisher events.Publisher, cfg MonitorConfig) (*Monitor, error) {
	errFactory := errors.New()

	if cfg.HistorySize == 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.HistorySize < 0 {
		return nil, errFactory.WithData(ErrInvalidCapacity, cfg.HistorySize)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Monitor{
		ctrl:      ctrl,
		publisher: publisher,
		softLimit: cfg.SoftTempLimit,
		archive:   cfg.Archive,
		history:   newRing(cfg.HistorySize),
	}, nil
}

// Start begins sampling at the given interval until Stop is called or
// the context is canceled.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	errFactory := errors.New()

	if interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, interval.String())
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errFactory.New(ErrAlreadyStarted)
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx, interval)

	return nil
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Prime the history so Latest works immediately after Start.
	m.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Skip, do not queue, when the previous query is still
			// outstanding.
			if !m.inFlight.CompareAndSwap(false, true) {
				logger.Debug().Msg("Telemetry tick skipped: previous query still in flight")
				continue
			}
			m.samplers.Add(1)
			go func() {
				defer m.samplers.Done()
				defer m.inFlight.Store(false)
				m.sample(ctx)
			}()
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	sample, err := m.ctrl.Telemetry()
	if err != nil {
		// Transient query failures are common while the device is under
		// stress; surface and continue.
		e := events.New(events.TelemetryError)
		e.Err = err
		m.publisher.Publish(e)
		return
	}

	m.mu.Lock()
	m.history.push(sample)
	m.mu.Unlock()

	m.checkThresholds(sample)

	if m.archive != nil {
		if err := m.archive.Record(ctx, sample); err != nil {
			logger.Warn().AnErr("error", err).Msg("Failed to archive telemetry sample")
		}
	}
}

func (m *Monitor) checkThresholds(sample device.Sample) {
	if sample.Throttle.Has(device.ThrottleThermal) {
		e := events.New(events.ThermalThrottle)
		e.Sample = sample
		m.publisher.Publish(e)
	}
	if sample.Throttle.Has(device.ThrottlePower) {
		e := events.New(events.PowerThrottle)
		e.Sample = sample
		m.publisher.Publish(e)
	}
	if m.softLimit > 0 && sample.Temperature > m.softLimit {
		e := events.New(events.HighTemperature)
		e.Sample = sample
		m.publisher.Publish(e)
	}
}

// Stop halts sampling and waits for any in-flight query to finish.
// Safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.samplers.Wait()
}

// Latest returns the most recent sample.
func (m *Monitor) Latest() (device.Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.history.latest()
}

// History returns the samples recorded within the trailing window,
// oldest first.
func (m *Monitor) History(window time.Duration) []device.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.history.window(window)
}

// Len reports the number of buffered samples.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.history.len()
}

// AverageMetrics computes aggregate statistics over the trailing window.
func (m *Monitor) AverageMetrics(window time.Duration) Averages {
	return Aggregate(m.History(window))
}

// Clear discards all buffered samples.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history.clear()
}

// Aggregate computes summary statistics over a complete sample set.
func Aggregate(samples []device.Sample) Averages {
	if len(samples) == 0 {
		return Averages{}
	}

	avg := Averages{Samples: len(samples)}
	for _, s := range samples {
		avg.Temperature += float64(s.Temperature)
		avg.Power += float64(s.PowerDraw)
		avg.CoreClock += float64(s.CoreClock)
		avg.MemoryClock += float64(s.MemoryClock)
		avg.Utilization += float64(s.Utilization)
		if s.Temperature > avg.MaxTemperature {
			avg.MaxTemperature = s.Temperature
		}
		if s.PowerDraw > avg.MaxPower {
			avg.MaxPower = s.PowerDraw
		}
	}

	n := float64(len(samples))
	avg.Temperature /= n
	avg.Power /= n
	avg.CoreClock /= n
	avg.MemoryClock /= n
	avg.Utilization /= n

	return avg
}
