// Package sora establishes WebRTC data-channel sessions through a
// Sora-style websocket signaling endpoint. The core consumes it only
// through the interfaces.Connector boundary.
package sora

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tsunogaya/roverlink/pkg/interfaces"
)

// signalMessage covers every signaling frame we produce or consume.
// Vanilla ICE: the answer is published with all candidates gathered, so
// establishment needs one offer/answer round trip; late remote candidates
// are still relayed when the server trickles them.
type signalMessage struct {
	Type          string          `json:"type"`
	SDP           string          `json:"sdp,omitempty"`
	ConnectionID  string          `json:"connection_id,omitempty"`
	EventType     string          `json:"event_type,omitempty"`
	Candidate     string          `json:"candidate,omitempty"`
	SDPMid        *string         `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16         `json:"sdpMLineIndex,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type connectMessage struct {
	Type                 string            `json:"type"`
	Role                 string            `json:"role"`
	ChannelID            string            `json:"channel_id"`
	ClientID             string            `json:"client_id"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	Audio                bool              `json:"audio"`
	Video                bool              `json:"video"`
	DataChannelSignaling bool              `json:"data_channel_signaling"`
	DataChannels         []dataChannelSpec `json:"data_channels"`
}

type dataChannelSpec struct {
	Label     string `json:"label"`
	Direction string `json:"direction"`
	Ordered   bool   `json:"ordered"`
}

// buildConnectMessage translates registered channel descriptors into the
// signaling request for one session.
func buildConnectMessage(channelID string, metadata map[string]any, channels []interfaces.ChannelDescriptor) connectMessage {
	specs := make([]dataChannelSpec, 0, len(channels))
	for _, ch := range channels {
		specs = append(specs, dataChannelSpec{
			Label:     ch.Label,
			Direction: string(ch.Direction),
			Ordered:   true,
		})
	}
	return connectMessage{
		Type:                 "connect",
		Role:                 "sendrecv",
		ChannelID:            channelID,
		ClientID:             uuid.NewString(),
		Metadata:             metadata,
		DataChannelSignaling: true,
		DataChannels:         specs,
	}
}

// signalingClient is one websocket to the signaling endpoint, serialized
// for concurrent writers.
type signalingClient struct {
	ws  *websocket.Conn
	log *slog.Logger
	wmu sync.Mutex
}

// dialSignaling tries each endpoint URL in order and returns the first that
// accepts the websocket upgrade.
func dialSignaling(ctx context.Context, urls []string, log *slog.Logger) (*signalingClient, error) {
	var lastErr error
	for _, u := range urls {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
		if err != nil {
			log.Warn("signaling dial failed", "url", u, "error", err)
			lastErr = err
			continue
		}
		log.Debug("signaling connected", "url", u)
		return &signalingClient{ws: ws, log: log}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no signaling urls configured")
	}
	return nil, fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, lastErr)
}

func (s *signalingClient) sendJSON(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *signalingClient) read() (signalMessage, error) {
	var msg signalMessage
	if err := s.ws.ReadJSON(&msg); err != nil {
		return signalMessage{}, err
	}
	return msg, nil
}

// awaitOffer reads signaling frames until the offer arrives, answering
// pings along the way.
func (s *signalingClient) awaitOffer() (signalMessage, error) {
	for {
		msg, err := s.read()
		if err != nil {
			return signalMessage{}, fmt.Errorf("%w: reading offer: %v", interfaces.ErrConnectionFailed, err)
		}
		switch msg.Type {
		case "offer":
			return msg, nil
		case "ping":
			_ = s.sendJSON(signalMessage{Type: "pong"})
		case "notify":
			s.log.Debug("signaling notify", "event_type", msg.EventType)
		default:
			s.log.Debug("ignoring signaling frame", "type", msg.Type)
		}
	}
}

func (s *signalingClient) close() {
	_ = s.sendJSON(signalMessage{Type: "disconnect"})
	_ = s.ws.Close()
}
