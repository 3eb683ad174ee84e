package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tsunogaya/roverlink/pkg/interfaces"
	"github.com/tsunogaya/roverlink/utils"
)

// Client wires the session, synchronizer, command link and health aggregator
// together and owns the single run loop that mutates them. The presentation
// layer observes reconstructed frames and health snapshots; the remote peer
// is reached only through the session.
type Client struct {
	config  Config
	log     *slog.Logger
	session *Session
	sync    *Synchronizer
	link    *CommandLink // nil for the viewer role
	health  *HealthAggregator
	ticks   TickSource

	// OnFrame receives one reconstructed frame per successful tick.
	// OnHealth receives a reason-tagged snapshot on every material event.
	// Both are invoked from the run loop goroutine.
	OnFrame  func(Frame)
	OnHealth func(reason string, snap HealthSnapshot)

	events chan clientEvent
}

type clientEventKind int

const (
	evState clientEventKind = iota
	evChannel
	evHeartbeat
	evMessage
	evForceBrake
)

type clientEvent struct {
	kind    clientEventKind
	state   ConnectionState
	label   string
	open    bool
	msgKind string
	raw     []byte
}

// NewClient builds a fully wired client. The connector, input provider and
// tick source are injected; input may be nil for the viewer role.
func NewClient(cfg Config, connector interfaces.Connector, input InputProvider, ticks TickSource, log *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if ticks == nil {
		ticks = NewWallTicker(cfg.Loop.TickHZ)
	}

	c := &Client{
		config: cfg,
		log:    log,
		ticks:  ticks,
		events: make(chan clientEvent, 256),
	}

	c.session = NewSession(connector, utils.NewScheduleBackoff(), log.With("component", "session"))
	c.session.RegisterChannel(cfg.Channels.StateLabel, interfaces.RecvOnly)

	sendLabel := ""
	if cfg.System.Role == RoleOperator {
		sendLabel = cfg.Channels.CtrlLabel
		c.session.RegisterChannel(cfg.Channels.CtrlLabel, interfaces.SendOnly)
	}

	c.sync = NewSynchronizer(SynchronizerOptions{
		RenderDelay:      ms(cfg.Sync.RenderDelayMS),
		Retention:        ms(cfg.Sync.RetentionMS),
		MaxExtrapolation: ms(cfg.Sync.MaxExtrapolationMS),
		StatusInterval:   ms(cfg.Sync.StatusIntervalMS),
	}, log.With("component", "sync"))

	if cfg.System.Role == RoleOperator {
		if input == nil {
			input = InputFunc(func() (Input, bool) { return Input{}, false })
		}
		c.link = NewCommandLink(c.session, input, CommandLinkOptions{
			Label:             cfg.Channels.CtrlLabel,
			Role:              "ui",
			MinInterval:       ms(cfg.Command.MinIntervalMS),
			Keepalive:         ms(cfg.Command.KeepaliveMS),
			HeartbeatInterval: ms(cfg.Command.HeartbeatMS),
			MetricsInterval:   ms(cfg.Command.MetricsMS),
			AxisEpsilon:       cfg.Command.AxisEpsilon,
		}, log.With("component", "command"))
	}

	c.health = NewHealthAggregator(HealthOptions{
		Staleness: ms(cfg.Health.StalenessMS),
		SendLabel: sendLabel,
		RecvLabel: cfg.Channels.StateLabel,
	})

	c.wire()
	return c, nil
}

// wire funnels every subordinate signal into the run loop's event channel so
// all component mutation happens on one goroutine.
func (c *Client) wire() {
	c.session.OnStateChange = func(st ConnectionState) {
		c.enqueue(clientEvent{kind: evState, state: st})
	}
	c.session.OnChannel = func(label string, open bool) {
		c.enqueue(clientEvent{kind: evChannel, label: label, open: open})
	}
	c.session.OnHeartbeat = func(hb HeartbeatMessage) {
		c.enqueue(clientEvent{kind: evHeartbeat})
	}
	c.session.OnMessage = func(label, kind string, raw []byte) {
		c.enqueue(clientEvent{kind: evMessage, label: label, msgKind: kind, raw: raw})
	}

	c.sync.OnFrame = func(f Frame) {
		if c.OnFrame != nil {
			c.OnFrame(f)
		}
	}
	c.sync.OnStatus = func(st SyncStatus) {
		c.health.SetSyncStatus(st, time.Now())
	}
	if c.link != nil {
		c.link.OnMetrics = func(m CommandMetrics) {
			c.health.SetCommandMetrics(m, time.Now())
		}
	}
	c.health.OnChange = func(reason string, snap HealthSnapshot) {
		if c.OnHealth != nil {
			c.OnHealth(reason, snap)
		}
	}
}

func (c *Client) enqueue(ev clientEvent) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event queue full, dropping", "kind", ev.kind)
	}
}

// ForceBrake requests an immediate safety stop. Safe to call from any
// goroutine; the send happens on the run loop.
func (c *Client) ForceBrake() {
	c.enqueue(clientEvent{kind: evForceBrake})
}

// Health returns the current snapshot.
func (c *Client) Health() HealthSnapshot {
	return c.health.Snapshot(time.Now())
}

// Run starts the session and processes ticks and session events until the
// context is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.log.Info("starting client",
		"role", c.config.System.Role,
		"channel_id", c.config.Signaling.ChannelID,
		"state_label", c.config.Channels.StateLabel)

	c.session.Start()
	defer c.session.Stop()
	defer c.ticks.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("context cancelled, stopping client")
			return nil
		case now := <-c.ticks.Ticks():
			c.onTick(now)
		case ev := <-c.events:
			c.onEvent(ev, time.Now())
		}
	}
}

func (c *Client) onTick(now time.Time) {
	c.sync.Tick(now)
	if c.link != nil {
		c.link.Tick(now)
	}
}

func (c *Client) onEvent(ev clientEvent, now time.Time) {
	switch ev.kind {
	case evState:
		if ev.state == StateConnected {
			// Fresh connection: the remote restarts its sequence space and
			// the clock offset must be re-estimated.
			c.sync.ResetConnection()
		}
		c.health.SetConnectionState(ev.state, now)

	case evChannel:
		c.health.SetChannel(ev.label, ev.open, now)

	case evHeartbeat:
		c.health.NoteHeartbeat(now)

	case evMessage:
		c.onMessage(ev, now)

	case evForceBrake:
		if c.link != nil {
			c.link.ForceBrake(now)
		}
	}
}

func (c *Client) onMessage(ev clientEvent, now time.Time) {
	switch ev.msgKind {
	case MsgTypeState:
		var msg StateMessage
		if err := json.Unmarshal(ev.raw, &msg); err != nil {
			c.log.Warn("drop malformed state", "error", err)
			return
		}
		if !c.sync.Ingest(msg, now) {
			return
		}
		c.health.NoteHeartbeat(now)
		if rs, ok := DecodeRemoteStatus(msg.Status); ok {
			c.health.SetRemoteStatus(rs, now)
		}

	case MsgTypeEstop:
		c.log.Warn("remote estop announced", "label", ev.label)

	default:
		c.log.Debug("unhandled message kind", "kind", ev.msgKind, "label", ev.label)
	}
}
