package lattice

import (
	"testing"
	"time"
)

func TestMetricsInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()

	if snap.MessagesRouted != 0 || snap.DroppedMessages != 0 || snap.WorkItemsCompleted != 0 {
		t.Errorf("expected zeroed snapshot, got %+v", snap)
	}
}

func TestMetricsMessageCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRouted()
	m.RecordRouted()
	m.RecordDropped()
	m.RecordFailedSend()

	snap := m.Snapshot()
	if snap.MessagesRouted != 2 {
		t.Errorf("MessagesRouted = %d, want 2", snap.MessagesRouted)
	}
	if snap.DroppedMessages != 1 {
		t.Errorf("DroppedMessages = %d, want 1", snap.DroppedMessages)
	}
	if snap.FailedSends != 1 {
		t.Errorf("FailedSends = %d, want 1", snap.FailedSends)
	}
}

func TestMetricsWorkItems(t *testing.T) {
	m := NewMetrics()

	m.RecordWorkItem(1_000_000, false) // 1ms, completed
	m.RecordWorkItem(2_000_000, false) // 2ms, completed
	m.RecordWorkItem(0, true)          // dropped

	snap := m.Snapshot()
	if snap.WorkItemsCompleted != 2 {
		t.Errorf("WorkItemsCompleted = %d, want 2", snap.WorkItemsCompleted)
	}
	if snap.WorkItemsDropped != 1 {
		t.Errorf("WorkItemsDropped = %d, want 1", snap.WorkItemsDropped)
	}
	if snap.AvgLatencyNs != 1_500_000 {
		t.Errorf("AvgLatencyNs = %d, want 1500000", snap.AvgLatencyNs)
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()
	if snap.MaxQueueDepth != 20 {
		t.Errorf("MaxQueueDepth = %d, want 20", snap.MaxQueueDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgQueueDepth < expectedAvg-0.01 || snap.AvgQueueDepth > expectedAvg+0.01 {
		t.Errorf("AvgQueueDepth = %.2f, want %.2f", snap.AvgQueueDepth, expectedAvg)
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics()

	m.RecordWorkItem(500, false)        // falls in every bucket >= 1us
	m.RecordWorkItem(50_000_000, false) // falls in buckets >= 100ms

	snap := m.Snapshot()
	if snap.LatencyHistogram[0] != 1 {
		t.Errorf("bucket[0] (1us) = %d, want 1", snap.LatencyHistogram[0])
	}
	if snap.LatencyHistogram[5] != 2 {
		t.Errorf("bucket[5] (100ms) = %d, want 2", snap.LatencyHistogram[5])
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*uint64(time.Millisecond) {
		t.Errorf("UptimeNs = %d, want >= 10ms", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+uint64(2*time.Millisecond) {
		t.Errorf("uptime kept advancing after Stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordRouted()
	m.RecordWorkItem(1000, false)
	m.RecordQueueDepth(5)

	if snap := m.Snapshot(); snap.MessagesRouted == 0 {
		t.Fatal("expected nonzero counters before reset")
	}

	m.Reset()

	snap := m.Snapshot()
	if snap.MessagesRouted != 0 || snap.WorkItemsCompleted != 0 || snap.MaxQueueDepth != 0 {
		t.Errorf("expected zeroed counters after reset, got %+v", snap)
	}
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveRouted()
	o.ObserveDropped()
	o.ObserveFailedSend()
	o.ObserveWorkItem(1000, false)
	o.ObserveQueueDepth(1)
}

func TestMetricsObserverForwards(t *testing.T) {
	m := NewMetrics()
	var o Observer = NewMetricsObserver(m)

	o.ObserveRouted()
	o.ObserveDropped()
	o.ObserveWorkItem(1_000_000, false)
	o.ObserveQueueDepth(3)

	snap := m.Snapshot()
	if snap.MessagesRouted != 1 {
		t.Errorf("MessagesRouted = %d, want 1", snap.MessagesRouted)
	}
	if snap.DroppedMessages != 1 {
		t.Errorf("DroppedMessages = %d, want 1", snap.DroppedMessages)
	}
	if snap.WorkItemsCompleted != 1 {
		t.Errorf("WorkItemsCompleted = %d, want 1", snap.WorkItemsCompleted)
	}
	if snap.MaxQueueDepth != 3 {
		t.Errorf("MaxQueueDepth = %d, want 3", snap.MaxQueueDepth)
	}
}
