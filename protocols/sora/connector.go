package sora

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tsunogaya/roverlink/pkg/interfaces"
)

const establishTimeout = 15 * time.Second

// Config for the connector. Metadata is passed through to the signaling
// endpoint verbatim; a room password travels inside it.
type Config struct {
	SignalingURLs []string
	ChannelID     string
	Metadata      map[string]any
}

// Connector implements interfaces.Connector over pion data channels
// negotiated through Sora-style signaling.
type Connector struct {
	cfg Config
	log *slog.Logger
}

func NewConnector(cfg Config, log *slog.Logger) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{cfg: cfg, log: log}
}

// Dial performs one full establishment: websocket signaling, offer/answer
// with complete ICE gathering, then waits for the peer connection to reach
// the connected state. The returned Conn owns both the peer connection and
// the signaling socket.
func (c *Connector) Dial(ctx context.Context, channels []interfaces.ChannelDescriptor) (interfaces.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, establishTimeout)
	defer cancel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	conn := newDataConn(pc, c.log)
	for _, ch := range channels {
		conn.expect(ch.Label)
	}

	connected := make(chan struct{})
	var connectedOnce sync.Once
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		c.log.Debug("peer connection state", "state", st.String())
		switch st {
		case webrtc.PeerConnectionStateConnected:
			connectedOnce.Do(func() { close(connected) })
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			conn.fail(fmt.Errorf("peer connection %s", st))
		}
	})
	pc.OnDataChannel(conn.adopt)

	sig, err := dialSignaling(ctx, c.cfg.SignalingURLs, c.log)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	conn.sig = sig

	if err := sig.sendJSON(buildConnectMessage(c.cfg.ChannelID, c.cfg.Metadata, channels)); err != nil {
		conn.abort()
		return nil, fmt.Errorf("%w: sending connect: %v", interfaces.ErrConnectionFailed, err)
	}

	offer, err := sig.awaitOffer()
	if err != nil {
		conn.abort()
		return nil, err
	}
	c.log.Info("signaling offer received", "connection_id", offer.ConnectionID)

	if err := c.answer(ctx, pc, sig, offer.SDP); err != nil {
		conn.abort()
		return nil, err
	}

	select {
	case <-connected:
	case <-ctx.Done():
		conn.abort()
		return nil, fmt.Errorf("%w: waiting for peer connection: %v", interfaces.ErrConnectionFailed, ctx.Err())
	}

	go conn.relaySignaling()
	return conn, nil
}

// answer sets the remote offer, gathers all local candidates and publishes
// the complete answer in one frame.
func (c *Connector) answer(ctx context.Context, pc *webrtc.PeerConnection, sig *signalingClient, sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fmt.Errorf("%w: ice gathering: %v", interfaces.ErrConnectionFailed, ctx.Err())
	}
	local := pc.LocalDescription()
	return sig.sendJSON(signalMessage{Type: "answer", SDP: local.SDP})
}

// dataConn is one established session exposed to the core.
type dataConn struct {
	pc  *webrtc.PeerConnection
	sig *signalingClient
	log *slog.Logger

	events chan interfaces.ConnEvent

	mu       sync.Mutex
	closed   bool
	expected map[string]bool
	dcs      map[string]*webrtc.DataChannel

	closeOnce sync.Once
}

func newDataConn(pc *webrtc.PeerConnection, log *slog.Logger) *dataConn {
	return &dataConn{
		pc:       pc,
		log:      log,
		events:   make(chan interfaces.ConnEvent, 256),
		expected: make(map[string]bool),
		dcs:      make(map[string]*webrtc.DataChannel),
	}
}

func (d *dataConn) expect(label string) {
	d.mu.Lock()
	d.expected[label] = true
	d.mu.Unlock()
}

// adopt wires one remotely announced data channel. Labels that were never
// requested are logged and ignored.
func (d *dataConn) adopt(dc *webrtc.DataChannel) {
	label := dc.Label()
	d.mu.Lock()
	if !d.expected[label] {
		d.mu.Unlock()
		d.log.Warn("unexpected data channel", "label", label)
		return
	}
	d.dcs[label] = dc
	d.mu.Unlock()

	dc.OnOpen(func() {
		d.emit(interfaces.ConnEvent{Kind: interfaces.EventChannelOpen, Label: label})
	})
	dc.OnClose(func() {
		d.emit(interfaces.ConnEvent{Kind: interfaces.EventChannelClose, Label: label})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.emit(interfaces.ConnEvent{Kind: interfaces.EventMessage, Label: label, Data: msg.Data})
	})
}

func (d *dataConn) Send(label string, data []byte) error {
	d.mu.Lock()
	dc := d.dcs[label]
	d.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return interfaces.ErrChannelClosed
	}
	return dc.Send(data)
}

func (d *dataConn) Events() <-chan interfaces.ConnEvent {
	return d.events
}

func (d *dataConn) Close() error {
	d.shutdown(nil)
	return nil
}

// fail terminates the connection abnormally; the error reaches the session
// through the final EventClosed.
func (d *dataConn) fail(err error) {
	d.shutdown(err)
}

// abort tears down a connection that never finished establishment; no
// events are consumed yet, so none are emitted.
func (d *dataConn) abort() {
	d.closeOnce.Do(func() {
		if d.sig != nil {
			d.sig.close()
		}
		_ = d.pc.Close()
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.events)
	})
}

func (d *dataConn) shutdown(err error) {
	d.closeOnce.Do(func() {
		if d.sig != nil {
			d.sig.close()
		}
		_ = d.pc.Close()
		d.mu.Lock()
		d.closed = true
		select {
		case d.events <- interfaces.ConnEvent{Kind: interfaces.EventClosed, Err: err}:
		default:
		}
		d.mu.Unlock()
		close(d.events)
	})
}

// emit never blocks the transport callbacks; an overflowing consumer loses
// frames with a warning instead of stalling the peer connection.
func (d *dataConn) emit(ev interfaces.ConnEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.log.Warn("event buffer full, dropping", "kind", ev.Kind, "label", ev.Label)
	}
}

// relaySignaling keeps consuming the signaling socket after establishment:
// trickled remote candidates, pings and notifies. A dead socket is not
// fatal; the peer connection state is authoritative.
func (d *dataConn) relaySignaling() {
	for {
		msg, err := d.sig.read()
		if err != nil {
			d.log.Debug("signaling socket closed", "error", err)
			return
		}
		switch msg.Type {
		case "candidate":
			if msg.Candidate == "" {
				continue
			}
			init := webrtc.ICECandidateInit{
				Candidate:     msg.Candidate,
				SDPMid:        msg.SDPMid,
				SDPMLineIndex: msg.SDPMLineIndex,
			}
			if err := d.pc.AddICECandidate(init); err != nil {
				d.log.Warn("add ice candidate", "error", err)
			}
		case "ping":
			_ = d.sig.sendJSON(signalMessage{Type: "pong"})
		case "notify":
			d.log.Debug("signaling notify", "event_type", msg.EventType)
		case "disconnect":
			d.fail(interfaces.ErrConnClosed)
			return
		}
	}
}
