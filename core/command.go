package core

import (
	"encoding/json"
	"log/slog"
	"math"
	"time"
)

// Input is one raw sample from the input collaborator. Axis values may be
// out of range; the link normalizes before sending.
type Input struct {
	Throttle float64
	Steer    float64
	Brake    float64
	Mode     string
	Keyboard bool
	Gamepad  bool
}

// InputProvider supplies the current input on demand each tick. The second
// return is false when no input is available this tick.
type InputProvider interface {
	Sample() (Input, bool)
}

// InputFunc adapts a function to the InputProvider interface.
type InputFunc func() (Input, bool)

func (f InputFunc) Sample() (Input, bool) { return f() }

// CommandMetrics is the periodic throughput report of the link.
type CommandMetrics struct {
	Sent        int
	Interval    time.Duration
	ChannelOpen bool
}

// commandTransport is the slice of the session the link needs.
type commandTransport interface {
	Send(label string, data []byte) bool
	ChannelOpen(label string) bool
}

// CommandLink converts a continuously sampled input into a bandwidth-bounded,
// always-live control stream. Sends are gated by change detection and a
// minimum inter-send interval; a keepalive resend and an independent
// heartbeat guarantee liveness, and ForceBrake bypasses the gate entirely.
type CommandLink struct {
	transport commandTransport
	input     InputProvider
	label     string
	role      string
	log       *slog.Logger

	minInterval    time.Duration
	keepalive      time.Duration
	heartbeatEvery time.Duration
	metricsEvery   time.Duration
	axisEpsilon    float64
	brakeSnap      float64

	OnMetrics func(CommandMetrics)

	seq             uint32
	hasSent         bool
	lastCmd         CommandAxes
	lastDevice      DeviceFlags
	lastSentAt      time.Time
	lastHeartbeatAt time.Time
	lastMetricsAt   time.Time
	sentCount       int
}

type CommandLinkOptions struct {
	Label             string
	Role              string
	MinInterval       time.Duration
	Keepalive         time.Duration
	HeartbeatInterval time.Duration
	MetricsInterval   time.Duration
	AxisEpsilon       float64
}

func NewCommandLink(transport commandTransport, input InputProvider, opts CommandLinkOptions, log *slog.Logger) *CommandLink {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 50 * time.Millisecond
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = 250 * time.Millisecond
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Second
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = time.Second
	}
	if opts.AxisEpsilon <= 0 {
		opts.AxisEpsilon = 0.005
	}
	if opts.Role == "" {
		opts.Role = "ui"
	}
	return &CommandLink{
		transport:      transport,
		input:          input,
		label:          opts.Label,
		role:           opts.Role,
		log:            log,
		minInterval:    opts.MinInterval,
		keepalive:      opts.Keepalive,
		heartbeatEvery: opts.HeartbeatInterval,
		metricsEvery:   opts.MetricsInterval,
		axisEpsilon:    opts.AxisEpsilon,
		brakeSnap:      0.02,
	}
}

// Tick samples the input source once and applies the send gate.
func (l *CommandLink) Tick(now time.Time) {
	open := l.transport.ChannelOpen(l.label)
	l.maybeMetrics(now, open)
	if !open {
		return
	}
	l.maybeHeartbeat(now)

	in, ok := l.input.Sample()
	if !ok {
		return
	}
	cmd, device := l.normalize(in)
	if !l.shouldSend(cmd, device, now) {
		return
	}
	l.send(cmd, device, false, now)
}

// ForceBrake sends an immediate full-brake command flagged for priority on
// the remote side, bypassing the send gate, plus a dedicated estop frame.
func (l *CommandLink) ForceBrake(now time.Time) bool {
	cmd := CommandAxes{Brake: 1, Mode: l.lastCmd.Mode}
	if cmd.Mode == "" {
		cmd.Mode = "arcade"
	}
	sent := l.send(cmd, l.lastDevice, true, now)

	estop := EstopMessage{Type: MsgTypeEstop, T: now.UnixMilli(), Reason: "operator"}
	if data, err := json.Marshal(estop); err == nil {
		l.transport.Send(l.label, data)
	}
	if sent {
		l.log.Warn("force brake sent")
	}
	return sent
}

func (l *CommandLink) normalize(in Input) (CommandAxes, DeviceFlags) {
	cmd := CommandAxes{
		Throttle: clamp(in.Throttle, -1, 1),
		Steer:    clamp(in.Steer, -1, 1),
		Brake:    clamp(in.Brake, 0, 1),
		Mode:     in.Mode,
	}
	if cmd.Mode == "" {
		cmd.Mode = "arcade"
	}
	if cmd.Brake < l.brakeSnap {
		cmd.Brake = 0
	}
	return cmd, DeviceFlags{Keyboard: in.Keyboard, Gamepad: in.Gamepad}
}

// shouldSend implements the gate: an unconditional first send, then a
// minimum inter-send spacing combined with change detection or keepalive.
func (l *CommandLink) shouldSend(cmd CommandAxes, device DeviceFlags, now time.Time) bool {
	if !l.hasSent {
		return true
	}
	if now.Sub(l.lastSentAt) < l.minInterval {
		return false
	}
	if device != l.lastDevice || cmd.Mode != l.lastCmd.Mode {
		return true
	}
	if math.Abs(cmd.Throttle-l.lastCmd.Throttle) > l.axisEpsilon ||
		math.Abs(cmd.Steer-l.lastCmd.Steer) > l.axisEpsilon ||
		math.Abs(cmd.Brake-l.lastCmd.Brake) > l.axisEpsilon {
		return true
	}
	return now.Sub(l.lastSentAt) >= l.keepalive
}

func (l *CommandLink) send(cmd CommandAxes, device DeviceFlags, override bool, now time.Time) bool {
	l.seq = NextSeq(l.seq)
	msg := ControlMessage{
		Type:     MsgTypeControl,
		Seq:      l.seq,
		T:        now.UnixMilli(),
		Source:   l.role,
		Cmd:      cmd,
		Device:   device,
		Override: override,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		l.log.Error("marshal control", "error", err)
		return false
	}
	if !l.transport.Send(l.label, data) {
		return false
	}
	l.hasSent = true
	l.lastCmd = cmd
	l.lastDevice = device
	l.lastSentAt = now
	l.sentCount++
	return true
}

// Heartbeats run on their own interval whenever the channel is open so the
// remote side can measure link age even with unchanging input. They carry
// no sequence number.
func (l *CommandLink) maybeHeartbeat(now time.Time) {
	if !l.lastHeartbeatAt.IsZero() && now.Sub(l.lastHeartbeatAt) < l.heartbeatEvery {
		return
	}
	hb := HeartbeatMessage{Type: MsgTypeHeartbeat, Role: l.role, T: now.UnixMilli()}
	data, err := json.Marshal(hb)
	if err != nil {
		return
	}
	if l.transport.Send(l.label, data) {
		l.lastHeartbeatAt = now
	}
}

func (l *CommandLink) maybeMetrics(now time.Time, open bool) {
	if l.lastMetricsAt.IsZero() {
		l.lastMetricsAt = now
		return
	}
	elapsed := now.Sub(l.lastMetricsAt)
	if elapsed < l.metricsEvery {
		return
	}
	if l.OnMetrics != nil {
		l.OnMetrics(CommandMetrics{Sent: l.sentCount, Interval: elapsed, ChannelOpen: open})
	}
	l.sentCount = 0
	l.lastMetricsAt = now
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
