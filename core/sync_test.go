package core

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSynchronizerSeqGate(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{}, discardLogger())
	now := time.Unix(1700000000, 0)

	assert.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 5}, now))
	assert.False(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 5}, now), "duplicate")
	assert.False(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 4}, now), "stale")
	assert.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 6}, now))
}

func TestSynchronizerSeqGateWraps(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{}, discardLogger())
	now := time.Unix(1700000000, 0)

	assert.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 1<<31 - 1}, now))
	assert.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 0}, now), "wraparound successor")
}

func TestSynchronizerResetConnectionClearsGate(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{}, discardLogger())
	now := time.Unix(1700000000, 0)

	require.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 100}, now))
	require.False(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 5}, now))

	s.ResetConnection()
	assert.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 5}, now))
}

func TestSynchronizerInterpolation(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{RenderDelay: 50 * time.Millisecond}, discardLogger())

	var frames []Frame
	s.OnFrame = func(f Frame) { frames = append(frames, f) }

	local := time.Unix(1700000000, 0)
	// Remote clock is far from local; the offset is estimated from the
	// first sample and correction preserves 100ms spacing.
	remoteMS := int64(42_000)

	require.True(t, s.Ingest(StateMessage{
		Type: MsgTypeState, Seq: 1, T: remoteMS,
		Pose:   Pose{X: 0, Z: 0, Yaw: 3.0},
		Vel:    Velocity{VX: 1},
		Status: []byte(`{"ok":true}`),
	}, local))
	require.True(t, s.Ingest(StateMessage{
		Type: MsgTypeState, Seq: 2, T: remoteMS + 100,
		Pose:   Pose{X: 2, Z: 4, Yaw: -3.0},
		Vel:    Velocity{VX: 3},
		Status: []byte(`{"ok":false}`),
	}, local.Add(20*time.Millisecond)))

	// Target = now - 50ms lands at the midpoint of the two samples.
	s.Tick(local.Add(100 * time.Millisecond))
	require.Len(t, frames, 1)
	f := frames[0]

	assert.False(t, f.Extrapolated)
	assert.InDelta(t, 1.0, f.Pose.X, 1e-9)
	assert.InDelta(t, 2.0, f.Pose.Z, 1e-9)
	assert.InDelta(t, 2.0, f.Vel.VX, 1e-9)
	// Yaw blends across the wrap boundary, not through zero.
	assert.InDelta(t, math.Pi, math.Abs(f.Pose.Yaw), 1e-9)
	assert.Equal(t, uint32(2), f.Seq)
	// At u=0.5 the aux payload comes from the later sample.
	assert.JSONEq(t, `{"ok":false}`, string(f.Status))

	// A target in the earlier half carries the earlier payload.
	s.Tick(local.Add(70 * time.Millisecond))
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"ok":true}`, string(frames[1].Status))
}

func TestSynchronizerSnapsToEarliest(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{RenderDelay: 50 * time.Millisecond}, discardLogger())

	var frames []Frame
	s.OnFrame = func(f Frame) { frames = append(frames, f) }

	local := time.Unix(1700000000, 0)
	require.True(t, s.Ingest(StateMessage{
		Type: MsgTypeState, Seq: 1,
		Pose: Pose{X: 7, Yaw: 0.5},
	}, local))

	// Target is 40ms before the only sample: no blending, no motion model.
	s.Tick(local.Add(10 * time.Millisecond))
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Extrapolated)
	assert.Equal(t, 7.0, frames[0].Pose.X)
	assert.Equal(t, 0.5, frames[0].Pose.Yaw)
}

func TestSynchronizerExtrapolationClamp(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{RenderDelay: time.Millisecond}, discardLogger())

	var frames []Frame
	s.OnFrame = func(f Frame) { frames = append(frames, f) }

	local := time.Unix(1700000000, 0)
	require.True(t, s.Ingest(StateMessage{
		Type: MsgTypeState, Seq: 1,
		Vel: Velocity{VX: 2},
	}, local))

	s.Tick(local.Add(200 * time.Millisecond))
	s.Tick(local.Add(500 * time.Millisecond))
	require.Len(t, frames, 2)

	// vx=2, yaw=0: forward motion is along z. Both targets exceed the
	// 150ms horizon, so both clamp to z = 2 * 0.15.
	for _, f := range frames {
		assert.True(t, f.Extrapolated)
		assert.InDelta(t, 0.3, f.Pose.Z, 1e-9)
		assert.InDelta(t, 0.0, f.Pose.X, 1e-9)
	}
}

func TestSynchronizerExtrapolationTurns(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{RenderDelay: time.Millisecond}, discardLogger())

	var frames []Frame
	s.OnFrame = func(f Frame) { frames = append(frames, f) }

	local := time.Unix(1700000000, 0)
	require.True(t, s.Ingest(StateMessage{
		Type: MsgTypeState, Seq: 1,
		Vel: Velocity{VX: 1, WZ: 2},
	}, local))

	// 101ms past the sample: yaw advances by wz*dt and position follows
	// the new heading.
	s.Tick(local.Add(102 * time.Millisecond))
	require.Len(t, frames, 1)
	f := frames[0]

	dt := 0.101
	yaw := 2 * dt
	assert.InDelta(t, yaw, f.Pose.Yaw, 1e-9)
	assert.InDelta(t, math.Sin(yaw)*dt, f.Pose.X, 1e-9)
	assert.InDelta(t, math.Cos(yaw)*dt, f.Pose.Z, 1e-9)
}

func TestSynchronizerRetention(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{
		RenderDelay: 50 * time.Millisecond,
		Retention:   200 * time.Millisecond,
	}, discardLogger())

	var statuses []SyncStatus
	s.OnStatus = func(st SyncStatus) { statuses = append(statuses, st) }

	local := time.Unix(1700000000, 0)
	require.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 1}, local))
	require.True(t, s.Ingest(StateMessage{Type: MsgTypeState, Seq: 2}, local.Add(150*time.Millisecond)))

	s.Tick(local.Add(250 * time.Millisecond))
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, statuses[0].BufferLen, "first sample aged out")
	assert.False(t, statuses[0].Idle)
}

func TestSynchronizerIdleStatus(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{}, discardLogger())

	var frames []Frame
	var statuses []SyncStatus
	s.OnFrame = func(f Frame) { frames = append(frames, f) }
	s.OnStatus = func(st SyncStatus) { statuses = append(statuses, st) }

	s.Tick(time.Unix(1700000000, 0))
	assert.Empty(t, frames)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Idle)
	assert.False(t, statuses[0].HaveSample)
}

func TestSynchronizerStatusThrottle(t *testing.T) {
	s := NewSynchronizer(SynchronizerOptions{StatusInterval: 200 * time.Millisecond}, discardLogger())

	count := 0
	s.OnStatus = func(SyncStatus) { count++ }

	local := time.Unix(1700000000, 0)
	s.Tick(local)
	s.Tick(local.Add(100 * time.Millisecond))
	s.Tick(local.Add(250 * time.Millisecond))
	assert.Equal(t, 2, count)
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, 0.0, wrapAngle(2*math.Pi), 1e-9)
	assert.InDelta(t, -math.Pi+0.1, wrapAngle(math.Pi+0.1), 1e-9)
	assert.InDelta(t, 1.0, wrapAngle(1.0), 1e-9)
	assert.InDelta(t, math.Pi, wrapAngle(-math.Pi), 1e-9)
}

func TestLerpAngleShortestPath(t *testing.T) {
	// From just below pi to just above -pi the short way crosses the wrap.
	got := lerpAngle(3.1, -3.1, 0.5)
	assert.InDelta(t, math.Pi, math.Abs(got), 1e-9)

	// Within the continuous range it is plain linear blending.
	assert.InDelta(t, 0.5, lerpAngle(0, 1, 0.5), 1e-9)
}
