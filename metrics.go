package ferro

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the syscall-dispatch latency histogram buckets
// in nanoseconds, log-spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks kernel-wide operational statistics: message traffic,
// futex activity, page fault volume, monitor polling, and scheduler
// context switches (spec.md's ambient observability surface). Events
// are recorded by calling the Record* methods directly or through a
// MetricsObserver; the kernel's subsystems do not record into it on
// their own.
type Metrics struct {
	// Channel traffic
	MessagesSent     atomic.Uint64
	MessagesReceived atomic.Uint64
	SendErrors       atomic.Uint64
	ReceiveErrors    atomic.Uint64

	// Futex activity
	FutexWaits    atomic.Uint64
	FutexWakes    atomic.Uint64
	FutexTimeouts atomic.Uint64

	// Virtual memory
	PageFaults      atomic.Uint64
	PageFaultErrors atomic.Uint64

	// Monitor
	MonitorPolls   atomic.Uint64
	MonitorTimeout atomic.Uint64

	// Scheduler
	ContextSwitches atomic.Uint64

	// Syscall dispatch latency
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Kernel lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records one channel_send dispatch.
func (m *Metrics) RecordSend(latencyNs uint64, success bool) {
	m.MessagesSent.Add(1)
	if !success {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordReceive records one channel_receive dispatch.
func (m *Metrics) RecordReceive(latencyNs uint64, success bool) {
	m.MessagesReceived.Add(1)
	if !success {
		m.ReceiveErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFutexWait records one futex_wait dispatch.
func (m *Metrics) RecordFutexWait(latencyNs uint64, timedOut bool) {
	m.FutexWaits.Add(1)
	if timedOut {
		m.FutexTimeouts.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFutexWake records the number of waiters woken by one futex_wake
// dispatch.
func (m *Metrics) RecordFutexWake(woken uint64, latencyNs uint64) {
	m.FutexWakes.Add(woken)
	m.recordLatency(latencyNs)
}

// RecordPageFault records one on-demand page fault resolution.
func (m *Metrics) RecordPageFault(latencyNs uint64, success bool) {
	m.PageFaults.Add(1)
	if !success {
		m.PageFaultErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordMonitorPoll records one monitor_poll dispatch.
func (m *Metrics) RecordMonitorPoll(latencyNs uint64, timedOut bool) {
	m.MonitorPolls.Add(1)
	if timedOut {
		m.MonitorTimeout.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordContextSwitch records one scheduler CPU handoff between threads.
func (m *Metrics) RecordContextSwitch() {
	m.ContextSwitches.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics plus derived rates.
type MetricsSnapshot struct {
	MessagesSent     uint64
	MessagesReceived uint64
	SendErrors       uint64
	ReceiveErrors    uint64

	FutexWaits    uint64
	FutexWakes    uint64
	FutexTimeouts uint64

	PageFaults      uint64
	PageFaultErrors uint64

	MonitorPolls   uint64
	MonitorTimeout uint64

	ContextSwitches uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SyscallsPerSecond float64
	TotalOps          uint64
	ErrorRate         float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		MessagesSent:     m.MessagesSent.Load(),
		MessagesReceived: m.MessagesReceived.Load(),
		SendErrors:       m.SendErrors.Load(),
		ReceiveErrors:    m.ReceiveErrors.Load(),
		FutexWaits:       m.FutexWaits.Load(),
		FutexWakes:       m.FutexWakes.Load(),
		FutexTimeouts:    m.FutexTimeouts.Load(),
		PageFaults:       m.PageFaults.Load(),
		PageFaultErrors:  m.PageFaultErrors.Load(),
		MonitorPolls:     m.MonitorPolls.Load(),
		MonitorTimeout:   m.MonitorTimeout.Load(),
		ContextSwitches:  m.ContextSwitches.Load(),
	}

	snap.TotalOps = snap.MessagesSent + snap.MessagesReceived + snap.FutexWaits +
		snap.FutexWakes + snap.PageFaults + snap.MonitorPolls

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SyscallsPerSecond = float64(opCount) / uptimeSeconds
	}

	totalErrors := snap.SendErrors + snap.ReceiveErrors + snap.FutexTimeouts + snap.PageFaultErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters (used by tests).
func (m *Metrics) Reset() {
	m.MessagesSent.Store(0)
	m.MessagesReceived.Store(0)
	m.SendErrors.Store(0)
	m.ReceiveErrors.Store(0)
	m.FutexWaits.Store(0)
	m.FutexWakes.Store(0)
	m.FutexTimeouts.Store(0)
	m.PageFaults.Store(0)
	m.PageFaultErrors.Store(0)
	m.MonitorPolls.Store(0)
	m.MonitorTimeout.Store(0)
	m.ContextSwitches.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, so a syscall dispatcher
// can report events without depending on *Metrics directly.
type Observer interface {
	ObserveSend(latencyNs uint64, success bool)
	ObserveReceive(latencyNs uint64, success bool)
	ObserveFutexWait(latencyNs uint64, timedOut bool)
	ObserveFutexWake(woken uint64, latencyNs uint64)
	ObservePageFault(latencyNs uint64, success bool)
	ObserveMonitorPoll(latencyNs uint64, timedOut bool)
	ObserveContextSwitch()
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, bool)           {}
func (NoOpObserver) ObserveReceive(uint64, bool)        {}
func (NoOpObserver) ObserveFutexWait(uint64, bool)      {}
func (NoOpObserver) ObserveFutexWake(uint64, uint64)    {}
func (NoOpObserver) ObservePageFault(uint64, bool)      {}
func (NoOpObserver) ObserveMonitorPoll(uint64, bool)    {}
func (NoOpObserver) ObserveContextSwitch()              {}

// MetricsObserver implements Observer by recording into a *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(latencyNs uint64, success bool) {
	o.metrics.RecordSend(latencyNs, success)
}
func (o *MetricsObserver) ObserveReceive(latencyNs uint64, success bool) {
	o.metrics.RecordReceive(latencyNs, success)
}
func (o *MetricsObserver) ObserveFutexWait(latencyNs uint64, timedOut bool) {
	o.metrics.RecordFutexWait(latencyNs, timedOut)
}
func (o *MetricsObserver) ObserveFutexWake(woken uint64, latencyNs uint64) {
	o.metrics.RecordFutexWake(woken, latencyNs)
}
func (o *MetricsObserver) ObservePageFault(latencyNs uint64, success bool) {
	o.metrics.RecordPageFault(latencyNs, success)
}
func (o *MetricsObserver) ObserveMonitorPoll(latencyNs uint64, timedOut bool) {
	o.metrics.RecordMonitorPoll(latencyNs, timedOut)
}
func (o *MetricsObserver) ObserveContextSwitch() {
	o.metrics.RecordContextSwitch()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
