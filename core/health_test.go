package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyAggregator(now time.Time) *HealthAggregator {
	h := NewHealthAggregator(HealthOptions{SendLabel: "#ctrl", RecvLabel: "#state"})
	h.SetConnectionState(StateConnected, now)
	h.SetChannel("#ctrl", true, now)
	h.SetChannel("#state", true, now)
	h.NoteHeartbeat(now)
	return h
}

func TestHealthLevels(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("all good", func(t *testing.T) {
		h := healthyAggregator(now)
		snap := h.Snapshot(now)
		assert.Equal(t, HealthConnected, snap.Level)
		assert.True(t, snap.HeartbeatSeen)
	})

	t.Run("stale heartbeat", func(t *testing.T) {
		h := healthyAggregator(now)
		assert.Equal(t, HealthDegraded, h.Snapshot(now.Add(3*time.Second)).Level)
	})

	t.Run("no heartbeat yet", func(t *testing.T) {
		h := NewHealthAggregator(HealthOptions{SendLabel: "#ctrl", RecvLabel: "#state"})
		h.SetConnectionState(StateConnected, now)
		h.SetChannel("#ctrl", true, now)
		h.SetChannel("#state", true, now)
		assert.Equal(t, HealthDegraded, h.Snapshot(now).Level)
	})

	t.Run("reconnecting", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetConnectionState(StateReconnecting, now)
		assert.Equal(t, HealthDegraded, h.Snapshot(now).Level)
	})

	t.Run("error state", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetConnectionState(StateError, now)
		assert.Equal(t, HealthDisconnected, h.Snapshot(now).Level)
	})

	t.Run("stopped", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetConnectionState(StateStopped, now)
		assert.Equal(t, HealthDisconnected, h.Snapshot(now).Level)
	})

	t.Run("receive channel closed", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetChannel("#state", false, now)
		assert.Equal(t, HealthDisconnected, h.Snapshot(now).Level)
	})

	t.Run("send channel closed", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetChannel("#ctrl", false, now)
		assert.Equal(t, HealthDisconnected, h.Snapshot(now).Level)
	})

	t.Run("remote reports trouble", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetRemoteStatus(RemoteStatus{OK: false, Msg: "motor fault"}, now)
		snap := h.Snapshot(now)
		assert.Equal(t, HealthDegraded, snap.Level)
		assert.Equal(t, "motor fault", snap.RemoteMsg)
	})

	t.Run("remote ok stays connected", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetRemoteStatus(RemoteStatus{OK: true}, now)
		assert.Equal(t, HealthConnected, h.Snapshot(now).Level)
	})

	t.Run("connection loss outranks stale heartbeat", func(t *testing.T) {
		h := healthyAggregator(now)
		h.SetConnectionState(StateError, now)
		assert.Equal(t, HealthDisconnected, h.Snapshot(now.Add(time.Minute)).Level)
	})
}

func TestHealthViewerWithoutSendChannel(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHealthAggregator(HealthOptions{RecvLabel: "#state"})
	h.SetConnectionState(StateConnected, now)
	h.SetChannel("#state", true, now)
	h.NoteHeartbeat(now)
	assert.Equal(t, HealthConnected, h.Snapshot(now).Level)
}

func TestHealthChangeReasons(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHealthAggregator(HealthOptions{SendLabel: "#ctrl", RecvLabel: "#state"})

	var reasons []string
	h.OnChange = func(reason string, snap HealthSnapshot) { reasons = append(reasons, reason) }

	h.SetConnectionState(StateConnected, now)
	h.SetChannel("#state", true, now)
	h.SetChannel("#state", false, now)
	h.SetRemoteStatus(RemoteStatus{OK: true}, now)
	h.SetSyncStatus(SyncStatus{BufferLen: 3}, now)
	h.SetCommandMetrics(CommandMetrics{Sent: 4}, now)
	h.NoteHeartbeat(now) // silent

	assert.Equal(t, []string{
		"connection:connected",
		"channel-open:#state",
		"channel-close:#state",
		"remote-status",
		"sync",
		"metrics",
	}, reasons)
}

func TestHealthSyncStatusFeedsLiveness(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := healthyAggregator(now.Add(-time.Hour))

	// A fresh sample implies the remote was alive SampleAge ago.
	h.SetSyncStatus(SyncStatus{HaveSample: true, SampleAge: 100 * time.Millisecond}, now)
	snap := h.Snapshot(now)
	require.True(t, snap.HeartbeatSeen)
	assert.Equal(t, 100*time.Millisecond, snap.HeartbeatAge)
	assert.Equal(t, HealthConnected, snap.Level)
}

func TestHealthHeartbeatMonotonic(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := healthyAggregator(now)
	h.NoteHeartbeat(now.Add(-time.Minute))
	assert.Equal(t, time.Duration(0), h.Snapshot(now).HeartbeatAge)
}

func TestHealthSnapshotIsolation(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := healthyAggregator(now)

	snap := h.Snapshot(now)
	snap.Channels["#state"] = false
	assert.True(t, h.Snapshot(now).Channels["#state"], "snapshot holds a copy")
}
