package core

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"time"
)

// Sample is one accepted remote state observation, timestamped on the local
// clock after offset correction. Immutable once stored.
type Sample struct {
	Seq    uint32
	T      time.Time
	Pose   Pose
	Vel    Velocity
	Status json.RawMessage
	Sim    json.RawMessage
}

// Frame is one reconstructed state, either interpolated between two samples
// or extrapolated past the newest one.
type Frame struct {
	T            time.Time
	Pose         Pose
	Vel          Velocity
	Status       json.RawMessage
	Sim          json.RawMessage
	Seq          uint32
	Extrapolated bool
}

// SyncStatus is the throttled periodic report of the synchronizer,
// independent of whether a frame was produced this tick.
type SyncStatus struct {
	BufferLen    int
	Idle         bool
	SampleAge    time.Duration
	HaveSample   bool
	LastFrameT   time.Time
	LastFrameSeq uint32
	Extrapolated bool
}

// Synchronizer turns a sparse, reordered stream of state samples into a
// continuous trajectory reconstructed at a fixed render delay behind now.
//
// Arrival order is untrusted: samples are gated by cyclic sequence number,
// re-ordered by corrected timestamp and bounded to a retention window. The
// remote-to-local clock offset is estimated from the first timestamped
// sample of a connection and held fixed until ResetConnection.
type Synchronizer struct {
	renderDelay time.Duration
	retention   time.Duration
	maxExtrap   time.Duration
	statusEvery time.Duration
	log         *slog.Logger

	OnFrame  func(Frame)
	OnStatus func(SyncStatus)

	history      []Sample
	lastSeq      uint32
	haveSeq      bool
	offset       time.Duration
	haveOffset   bool
	lastIngestAt time.Time
	lastStatusAt time.Time
	lastFrame    Frame
	haveFrame    bool
}

type SynchronizerOptions struct {
	RenderDelay      time.Duration
	Retention        time.Duration
	MaxExtrapolation time.Duration
	StatusInterval   time.Duration
}

func NewSynchronizer(opts SynchronizerOptions, log *slog.Logger) *Synchronizer {
	if opts.RenderDelay <= 0 {
		opts.RenderDelay = 80 * time.Millisecond
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Second
	}
	if opts.MaxExtrapolation <= 0 {
		opts.MaxExtrapolation = 150 * time.Millisecond
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 200 * time.Millisecond
	}
	return &Synchronizer{
		renderDelay: opts.RenderDelay,
		retention:   opts.Retention,
		maxExtrap:   opts.MaxExtrapolation,
		statusEvery: opts.StatusInterval,
		log:         log,
	}
}

// ResetConnection clears the sequence gate, clock offset and history. Called
// when the session re-establishes; the remote restarts its sequence space.
func (s *Synchronizer) ResetConnection() {
	s.history = s.history[:0]
	s.haveSeq = false
	s.haveOffset = false
}

// Ingest accepts one inbound state message. Returns false for duplicates and
// stale arrivals (sequence number not cyclically ahead of the last accepted).
func (s *Synchronizer) Ingest(msg StateMessage, now time.Time) bool {
	if s.haveSeq && !SeqAhead(msg.Seq, s.lastSeq) {
		s.log.Debug("drop stale state", "seq", msg.Seq, "last", s.lastSeq)
		return false
	}
	if !s.haveOffset && msg.T != 0 {
		s.offset = now.Sub(time.UnixMilli(msg.T))
		s.haveOffset = true
		s.log.Debug("clock offset estimated", "offset", s.offset)
	}

	corrected := now
	if msg.T != 0 && s.haveOffset {
		corrected = time.UnixMilli(msg.T).Add(s.offset)
	}

	sample := Sample{
		Seq:    msg.Seq,
		T:      corrected,
		Pose:   msg.Pose,
		Vel:    msg.Vel,
		Status: msg.Status,
		Sim:    msg.Sim,
	}
	idx := sort.Search(len(s.history), func(i int) bool {
		return s.history[i].T.After(sample.T)
	})
	s.history = append(s.history, Sample{})
	copy(s.history[idx+1:], s.history[idx:])
	s.history[idx] = sample

	s.lastSeq = msg.Seq
	s.haveSeq = true
	s.lastIngestAt = now
	s.evict(now)
	return true
}

func (s *Synchronizer) evict(now time.Time) {
	cutoff := now.Add(-s.retention)
	drop := 0
	for drop < len(s.history) && s.history[drop].T.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		s.history = append(s.history[:0], s.history[drop:]...)
	}
}

// Tick reconstructs one frame at now minus the render delay and emits the
// throttled status report.
func (s *Synchronizer) Tick(now time.Time) {
	s.evict(now)

	if len(s.history) == 0 {
		s.emitStatus(now, true)
		return
	}

	target := now.Add(-s.renderDelay)
	frame, ok := s.reconstruct(target)
	if ok {
		s.lastFrame = frame
		s.haveFrame = true
		if s.OnFrame != nil {
			s.OnFrame(frame)
		}
	}
	s.emitStatus(now, false)
}

func (s *Synchronizer) reconstruct(target time.Time) (Frame, bool) {
	// Index of the earliest entry at or after target.
	idx := sort.Search(len(s.history), func(i int) bool {
		return !s.history[i].T.Before(target)
	})

	switch {
	case idx == len(s.history):
		// Target is beyond the newest sample: constant-velocity forward
		// model, clamped to the extrapolation horizon to bound drift.
		newest := s.history[len(s.history)-1]
		dt := target.Sub(newest.T)
		if dt > s.maxExtrap {
			dt = s.maxExtrap
		}
		return extrapolate(newest, dt, target), true

	case idx == 0:
		// Only future samples: snap to the earliest without blending.
		first := s.history[0]
		return sampleFrame(first, target), true

	default:
		prev := s.history[idx-1]
		next := s.history[idx]
		span := next.T.Sub(prev.T)
		if span <= 0 {
			return sampleFrame(next, target), true
		}
		u := float64(target.Sub(prev.T)) / float64(span)
		return interpolate(prev, next, u, target), true
	}
}

func sampleFrame(sm Sample, target time.Time) Frame {
	return Frame{
		T:      target,
		Pose:   sm.Pose,
		Vel:    sm.Vel,
		Status: sm.Status,
		Sim:    sm.Sim,
		Seq:    sm.Seq,
	}
}

func interpolate(prev, next Sample, u float64, target time.Time) Frame {
	nearer := prev
	if u >= 0.5 {
		nearer = next
	}
	return Frame{
		T: target,
		Pose: Pose{
			X:   lerp(prev.Pose.X, next.Pose.X, u),
			Y:   lerp(prev.Pose.Y, next.Pose.Y, u),
			Z:   lerp(prev.Pose.Z, next.Pose.Z, u),
			Yaw: lerpAngle(prev.Pose.Yaw, next.Pose.Yaw, u),
		},
		Vel: Velocity{
			VX: lerp(prev.Vel.VX, next.Vel.VX, u),
			WZ: lerp(prev.Vel.WZ, next.Vel.WZ, u),
		},
		Status: nearer.Status,
		Sim:    nearer.Sim,
		Seq:    next.Seq,
	}
}

func extrapolate(newest Sample, dt time.Duration, target time.Time) Frame {
	sec := dt.Seconds()
	yaw := wrapAngle(newest.Pose.Yaw + newest.Vel.WZ*sec)
	return Frame{
		T: target,
		Pose: Pose{
			X:   newest.Pose.X + newest.Vel.VX*math.Sin(yaw)*sec,
			Y:   newest.Pose.Y,
			Z:   newest.Pose.Z + newest.Vel.VX*math.Cos(yaw)*sec,
			Yaw: yaw,
		},
		Vel:          newest.Vel,
		Status:       newest.Status,
		Sim:          newest.Sim,
		Seq:          newest.Seq,
		Extrapolated: true,
	}
}

func (s *Synchronizer) emitStatus(now time.Time, idle bool) {
	if s.OnStatus == nil {
		return
	}
	if !s.lastStatusAt.IsZero() && now.Sub(s.lastStatusAt) < s.statusEvery {
		return
	}
	s.lastStatusAt = now

	st := SyncStatus{
		BufferLen: len(s.history),
		Idle:      idle,
	}
	if !s.lastIngestAt.IsZero() {
		st.SampleAge = now.Sub(s.lastIngestAt)
		st.HaveSample = true
	}
	if s.haveFrame {
		st.LastFrameT = s.lastFrame.T
		st.LastFrameSeq = s.lastFrame.Seq
		st.Extrapolated = s.lastFrame.Extrapolated
	}
	s.OnStatus(st)
}

func lerp(a, b, u float64) float64 {
	return a + (b-a)*u
}

// lerpAngle blends along the shortest angular path, wrapping the difference
// into (-pi, pi] before scaling.
func lerpAngle(a, b, u float64) float64 {
	return wrapAngle(a + wrapAngle(b-a)*u)
}

func wrapAngle(rad float64) float64 {
	for rad > math.Pi {
		rad -= 2 * math.Pi
	}
	for rad <= -math.Pi {
		rad += 2 * math.Pi
	}
	return rad
}
