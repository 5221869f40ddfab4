package lattice

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the work-item dispatch latency histogram buckets
// in nanoseconds, from enqueue to completion. Logarithmically spaced from
// 1us to 10s.
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

// Metrics tracks runtime-wide operational statistics: message fabric
// health and work-item dispatch latency. Per-region counters live on the
// region itself (region.Stats); per-worker completion counts live on the
// worker (worker.Worker.WorkCompleted / WorkDropped). Metrics aggregates
// what spans the whole pool.
type Metrics struct {
	// Message fabric counters (spec.md §7 "Stats counters").
	DroppedMessages atomic.Uint64 // messages dropped (pool exhausted with heap fallback disabled)
	FailedSends     atomic.Uint64 // channel sends rejected (sender not a channel endpoint)
	MessagesRouted  atomic.Uint64 // messages successfully enqueued onto a channel direction

	// Work-item dispatch counters.
	WorkItemsCompleted atomic.Uint64
	WorkItemsDropped   atomic.Uint64 // unknown work-item tag

	// Queue depth statistics, sampled by callers via RecordQueueDepth.
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Dispatch latency.
	TotalLatencyNs atomic.Uint64
	LatencyCount   atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRouted records a message successfully enqueued onto a channel.
func (m *Metrics) RecordRouted() { m.MessagesRouted.Add(1) }

// RecordDropped records a message that could not be delivered.
func (m *Metrics) RecordDropped() { m.DroppedMessages.Add(1) }

// RecordFailedSend records a send rejected by the channel (bad sender).
func (m *Metrics) RecordFailedSend() { m.FailedSends.Add(1) }

// RecordWorkItem records a dispatched work item and its end-to-end latency.
func (m *Metrics) RecordWorkItem(latencyNs uint64, dropped bool) {
	if dropped {
		m.WorkItemsDropped.Add(1)
		return
	}
	m.WorkItemsCompleted.Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordQueueDepth records a queue depth sample and updates the observed
// maximum.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// Stop marks the runtime as stopped for uptime accounting.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// Snapshot is a point-in-time copy of Metrics safe to read without races.
type Snapshot struct {
	DroppedMessages    uint64
	FailedSends        uint64
	MessagesRouted     uint64
	WorkItemsCompleted uint64
	WorkItemsDropped   uint64
	AvgQueueDepth      float64
	MaxQueueDepth      uint32
	AvgLatencyNs       uint64
	LatencyHistogram   [numLatencyBuckets]uint64
	UptimeNs           uint64
}

// Snapshot takes a consistent point-in-time reading of the counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		DroppedMessages:    m.DroppedMessages.Load(),
		FailedSends:        m.FailedSends.Load(),
		MessagesRouted:     m.MessagesRouted.Load(),
		WorkItemsCompleted: m.WorkItemsCompleted.Load(),
		WorkItemsDropped:   m.WorkItemsDropped.Load(),
		MaxQueueDepth:      m.MaxQueueDepth.Load(),
	}

	if count := m.QueueDepthCount.Load(); count > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(count)
	}
	if count := m.LatencyCount.Load(); count > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / count
	}

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// Reset zeroes all counters; useful between benchmark runs.
func (m *Metrics) Reset() {
	m.DroppedMessages.Store(0)
	m.FailedSends.Store(0)
	m.MessagesRouted.Store(0)
	m.WorkItemsCompleted.Store(0)
	m.WorkItemsDropped.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.LatencyCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection from the message fabric and
// worker dispatch loop without a hard dependency on *Metrics.
type Observer interface {
	ObserveRouted()
	ObserveDropped()
	ObserveFailedSend()
	ObserveWorkItem(latencyNs uint64, dropped bool)
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRouted()                                 {}
func (NoOpObserver) ObserveDropped()                                {}
func (NoOpObserver) ObserveFailedSend()                             {}
func (NoOpObserver) ObserveWorkItem(latencyNs uint64, dropped bool) {}
func (NoOpObserver) ObserveQueueDepth(depth uint32)                 {}

// MetricsObserver implements Observer by recording into a *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRouted()     { o.metrics.RecordRouted() }
func (o *MetricsObserver) ObserveDropped()    { o.metrics.RecordDropped() }
func (o *MetricsObserver) ObserveFailedSend() { o.metrics.RecordFailedSend() }
func (o *MetricsObserver) ObserveWorkItem(latencyNs uint64, dropped bool) {
	o.metrics.RecordWorkItem(latencyNs, dropped)
}
func (o *MetricsObserver) ObserveQueueDepth(depth uint32) { o.metrics.RecordQueueDepth(depth) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
