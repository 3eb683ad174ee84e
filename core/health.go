package core

import (
	"time"
)

// HealthLevel is the aggregate verdict surfaced to the presentation layer.
type HealthLevel string

const (
	HealthConnected    HealthLevel = "connected"
	HealthDegraded     HealthLevel = "degraded"
	HealthDisconnected HealthLevel = "disconnected"
)

// HealthSnapshot is recomputed on demand and handed out by value; it is
// never persisted or mutated after construction.
type HealthSnapshot struct {
	Level         HealthLevel
	Connection    ConnectionState
	Channels      map[string]bool
	HeartbeatAge  time.Duration
	HeartbeatSeen bool
	BufferLen     int
	CommandsSent  int
	RemoteOK      bool
	RemoteMsg     string
	RemoteSeen    bool
}

// HealthAggregator merges the signals of the session, synchronizer and
// command link into one verdict. OnChange fires on every materially
// state-affecting event with a reason tag and a full snapshot.
type HealthAggregator struct {
	staleness time.Duration
	sendLabel string
	recvLabel string

	OnChange func(reason string, snap HealthSnapshot)

	conn         ConnectionState
	channels     map[string]bool
	lastLifeAt   time.Time
	bufferLen    int
	commandsSent int
	remote       RemoteStatus
	remoteSeen   bool
}

type HealthOptions struct {
	Staleness time.Duration
	SendLabel string // required sender channel, empty when not configured
	RecvLabel string // required receiver channel, empty when not configured
}

func NewHealthAggregator(opts HealthOptions) *HealthAggregator {
	if opts.Staleness <= 0 {
		opts.Staleness = 2500 * time.Millisecond
	}
	return &HealthAggregator{
		staleness: opts.Staleness,
		sendLabel: opts.SendLabel,
		recvLabel: opts.RecvLabel,
		conn:      StateIdle,
		channels:  make(map[string]bool),
	}
}

func (h *HealthAggregator) SetConnectionState(st ConnectionState, now time.Time) {
	h.conn = st
	h.notify("connection:"+string(st), now)
}

func (h *HealthAggregator) SetChannel(label string, open bool, now time.Time) {
	h.channels[label] = open
	reason := "channel-close:" + label
	if open {
		reason = "channel-open:" + label
	}
	h.notify(reason, now)
}

// NoteHeartbeat records proof of remote liveness without notifying; the
// derived age feeds the next evaluation.
func (h *HealthAggregator) NoteHeartbeat(now time.Time) {
	if now.After(h.lastLifeAt) {
		h.lastLifeAt = now
	}
}

func (h *HealthAggregator) SetSyncStatus(st SyncStatus, now time.Time) {
	h.bufferLen = st.BufferLen
	if st.HaveSample {
		h.NoteHeartbeat(now.Add(-st.SampleAge))
	}
	h.notify("sync", now)
}

func (h *HealthAggregator) SetCommandMetrics(m CommandMetrics, now time.Time) {
	h.commandsSent = m.Sent
	h.notify("metrics", now)
}

func (h *HealthAggregator) SetRemoteStatus(rs RemoteStatus, now time.Time) {
	h.remote = rs
	h.remoteSeen = true
	h.notify("remote-status", now)
}

// Snapshot computes the current verdict. Derivation order, first match wins.
func (h *HealthAggregator) Snapshot(now time.Time) HealthSnapshot {
	snap := HealthSnapshot{
		Connection:   h.conn,
		Channels:     make(map[string]bool, len(h.channels)),
		BufferLen:    h.bufferLen,
		CommandsSent: h.commandsSent,
		RemoteOK:     h.remote.OK,
		RemoteMsg:    h.remote.Msg,
		RemoteSeen:   h.remoteSeen,
	}
	for label, open := range h.channels {
		snap.Channels[label] = open
	}
	if !h.lastLifeAt.IsZero() {
		snap.HeartbeatAge = now.Sub(h.lastLifeAt)
		snap.HeartbeatSeen = true
	}
	snap.Level = h.level(snap)
	return snap
}

func (h *HealthAggregator) level(snap HealthSnapshot) HealthLevel {
	switch {
	case h.conn == StateError || h.conn == StateStopped:
		return HealthDisconnected
	case h.conn == StateReconnecting:
		return HealthDegraded
	case h.conn != StateConnected:
		return HealthDisconnected
	case h.sendLabel != "" && !h.channels[h.sendLabel]:
		return HealthDisconnected
	case h.recvLabel != "" && !h.channels[h.recvLabel]:
		return HealthDisconnected
	case !snap.HeartbeatSeen || snap.HeartbeatAge > h.staleness:
		return HealthDegraded
	case h.remoteSeen && !h.remote.OK:
		return HealthDegraded
	default:
		return HealthConnected
	}
}

func (h *HealthAggregator) notify(reason string, now time.Time) {
	if h.OnChange == nil {
		return
	}
	h.OnChange(reason, h.Snapshot(now))
}
