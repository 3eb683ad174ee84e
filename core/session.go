package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tsunogaya/roverlink/pkg/interfaces"
	"github.com/tsunogaya/roverlink/utils"
)

// ConnectionState of a Session. Mutated only by the session's own
// lifecycle loop; StateStopped is terminal.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
	StateStopped      ConnectionState = "stopped"
)

// Session presents one resilient logical connection over a session-based
// transport that can drop and must be rebuilt. It owns the reconnect loop,
// classifies inbound frames and offers best-effort sends on named channels.
//
// Callback fields are invoked from the session's loop goroutine. A panic in
// one callback is recovered and logged so the remaining callbacks still run.
type Session struct {
	connector interfaces.Connector
	backoff   utils.ReconnectStrategy
	log       *slog.Logger

	OnStateChange func(ConnectionState)
	OnChannel     func(label string, open bool)
	OnHeartbeat   func(HeartbeatMessage)
	OnMessage     func(label, kind string, raw []byte)

	mu            sync.Mutex
	channels      map[string]*interfaces.ChannelDescriptor
	order         []string
	conn          interfaces.Conn
	state         ConnectionState
	lastHeartbeat time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewSession(connector interfaces.Connector, backoff utils.ReconnectStrategy, log *slog.Logger) *Session {
	if backoff == nil {
		backoff = utils.NewScheduleBackoff()
	}
	return &Session{
		connector: connector,
		backoff:   backoff,
		log:       log,
		channels:  make(map[string]*interfaces.ChannelDescriptor),
		state:     StateIdle,
	}
}

// RegisterChannel declares a named directional channel. Must be called
// before Start; registering the same label again overwrites its
// configuration.
func (s *Session) RegisterChannel(label string, dir interfaces.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[label]; !exists {
		s.order = append(s.order, label)
	}
	s.channels[label] = &interfaces.ChannelDescriptor{Label: label, Direction: dir}
}

// Start begins the reconnect loop. Idempotent; a no-op when already running
// or after Stop.
func (s *Session) Start() {
	s.mu.Lock()
	if s.cancel != nil || s.stopped {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop cancels the loop, closes any active connection and marks the session
// stopped. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	done := s.done
	conn := s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		if conn != nil {
			_ = conn.Close()
		}
		<-done
	} else {
		s.setState(StateStopped)
	}
}

// Send delivers one frame on an open channel. Returns false without side
// effects when the channel is not open or no connection is active.
func (s *Session) Send(label string, data []byte) bool {
	s.mu.Lock()
	ch, ok := s.channels[label]
	conn := s.conn
	s.mu.Unlock()
	if !ok || !ch.Open || conn == nil {
		return false
	}
	if err := conn.Send(label, data); err != nil {
		s.log.Debug("send failed", "label", label, "error", err)
		return false
	}
	return true
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChannelOpen reports whether the labeled channel is currently open.
func (s *Session) ChannelOpen(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[label]
	return ok && ch.Open
}

// Channels returns a value copy of all registered channel descriptors.
func (s *Session) Channels() []interfaces.ChannelDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interfaces.ChannelDescriptor, 0, len(s.order))
	for _, label := range s.order {
		out = append(out, *s.channels[label])
	}
	return out
}

// HeartbeatAge returns the time since the last inbound heartbeat frame, or
// false when none has been seen on the current connection.
func (s *Session) HeartbeatAge(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHeartbeat.IsZero() {
		return 0, false
	}
	return now.Sub(s.lastHeartbeat), true
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)
		conn, err := s.connector.Dial(ctx, s.Channels())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("connect failed", "error", err)
			s.setState(StateError)
			if !s.waitBackoff(ctx) {
				return
			}
			continue
		}

		s.attach(conn)
		s.backoff.Reset()
		s.setState(StateConnected)

		clean := s.serve(ctx, conn)
		s.detach()
		if ctx.Err() != nil {
			return
		}
		if clean {
			s.setState(StateDisconnected)
		} else {
			s.setState(StateError)
		}
		if !s.waitBackoff(ctx) {
			return
		}
	}
}

// serve drains connection events until the connection dies. Returns true
// for an orderly remote close, false for a failure.
func (s *Session) serve(ctx context.Context, conn interfaces.Conn) bool {
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return true
		case ev, ok := <-conn.Events():
			if !ok {
				return true
			}
			switch ev.Kind {
			case interfaces.EventChannelOpen:
				s.setChannelOpen(ev.Label, true)
			case interfaces.EventChannelClose:
				s.setChannelOpen(ev.Label, false)
			case interfaces.EventMessage:
				s.classify(ev.Label, ev.Data)
			case interfaces.EventClosed:
				if ev.Err != nil {
					s.log.Warn("connection lost", "error", ev.Err)
					return false
				}
				return true
			}
		}
	}
}

func (s *Session) waitBackoff(ctx context.Context) bool {
	delay := s.backoff.NextDelay()
	s.setState(StateReconnecting)
	s.log.Info("reconnecting", "wait", delay)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *Session) attach(conn interfaces.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.lastHeartbeat = time.Time{}
	for _, ch := range s.channels {
		ch.Open = false
	}
	s.mu.Unlock()
}

func (s *Session) detach() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	closed := make([]string, 0, len(s.order))
	for _, label := range s.order {
		if s.channels[label].Open {
			s.channels[label].Open = false
			closed = append(closed, label)
		}
	}
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	for _, label := range closed {
		s.notifyChannel(label, false)
	}
}

func (s *Session) setChannelOpen(label string, open bool) {
	s.mu.Lock()
	ch, ok := s.channels[label]
	if !ok || ch.Open == open {
		s.mu.Unlock()
		return
	}
	ch.Open = open
	s.mu.Unlock()
	s.log.Info("data channel state", "label", label, "open", open)
	s.notifyChannel(label, open)
}

// classify decodes one inbound frame. Heartbeats update the last-heartbeat
// time and are never forwarded as domain messages; everything else is
// dispatched by label and message kind. Malformed frames are dropped with a
// warning.
func (s *Session) classify(label string, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		s.log.Warn("drop malformed frame", "label", label, "bytes", len(data))
		return
	}
	if env.Type == MsgTypeHeartbeat {
		var hb HeartbeatMessage
		if err := json.Unmarshal(data, &hb); err != nil {
			s.log.Warn("drop malformed heartbeat", "label", label)
			return
		}
		s.mu.Lock()
		s.lastHeartbeat = time.Now()
		s.mu.Unlock()
		if s.OnHeartbeat != nil {
			s.isolate("heartbeat", func() { s.OnHeartbeat(hb) })
		}
		return
	}
	if s.OnMessage != nil {
		s.isolate("message", func() { s.OnMessage(label, env.Type, data) })
	}
}

func (s *Session) setState(next ConnectionState) {
	s.mu.Lock()
	if s.state == next || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.log.Info("connection state", "from", prev, "to", next)
	if s.OnStateChange != nil {
		s.isolate("state", func() { s.OnStateChange(next) })
	}
}

func (s *Session) notifyChannel(label string, open bool) {
	if s.OnChannel != nil {
		s.isolate("channel", func() { s.OnChannel(label, open) })
	}
}

// isolate shields the dispatch loop from a failing subscriber.
func (s *Session) isolate(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("subscriber panic", "callback", name, "panic", r)
		}
	}()
	fn()
}
