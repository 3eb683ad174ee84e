package core

import "encoding/json"

// Wire message discriminants. Every data-channel frame is a JSON object
// carrying one of these in its "type" field.
const (
	MsgTypeHeartbeat = "hb"
	MsgTypeState     = "state"
	MsgTypeControl   = "ctrl"
	MsgTypeEstop     = "estop"
)

type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"`
}

type Velocity struct {
	VX float64 `json:"vx"`
	WZ float64 `json:"wz"`
}

// StateMessage is one authoritative state snapshot from the remote peer.
// T is the remote wall clock in unix milliseconds. Status and Sim are
// opaque payloads carried through without interpretation by the
// synchronizer.
type StateMessage struct {
	Type   string          `json:"type"`
	Seq    uint32          `json:"seq"`
	T      int64           `json:"t"`
	Pose   Pose            `json:"pose"`
	Vel    Velocity        `json:"vel"`
	Status json.RawMessage `json:"status,omitempty"`
	Sim    json.RawMessage `json:"sim,omitempty"`
}

// RemoteStatus is the portion of the opaque status payload the health
// aggregator understands.
type RemoteStatus struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// DecodeRemoteStatus extracts ok/msg from an opaque status payload.
// The second return is false when no status payload is present.
func DecodeRemoteStatus(raw json.RawMessage) (RemoteStatus, bool) {
	if len(raw) == 0 {
		return RemoteStatus{}, false
	}
	var rs RemoteStatus
	if err := json.Unmarshal(raw, &rs); err != nil {
		return RemoteStatus{}, false
	}
	return rs, true
}

// HeartbeatMessage keeps the link measurable in both directions even when
// no domain traffic flows. Heartbeats carry no sequence number.
type HeartbeatMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	T    int64  `json:"t"`
}

type CommandAxes struct {
	Throttle float64 `json:"throttle"`
	Steer    float64 `json:"steer"`
	Brake    float64 `json:"brake"`
	Mode     string  `json:"mode"`
}

type DeviceFlags struct {
	Keyboard bool `json:"keyboard"`
	Gamepad  bool `json:"gamepad"`
}

// ControlMessage is one outbound control frame. Constructed fresh for each
// send and never mutated afterwards.
type ControlMessage struct {
	Type     string      `json:"type"`
	Seq      uint32      `json:"seq"`
	T        int64       `json:"t"`
	Source   string      `json:"source"`
	Cmd      CommandAxes `json:"cmd"`
	Device   DeviceFlags `json:"device"`
	Override bool        `json:"override"`
}

// EstopMessage requests an emergency stop on the remote side. Sent in
// addition to the override-flagged control frame so either path can win.
type EstopMessage struct {
	Type   string `json:"type"`
	T      int64  `json:"t"`
	Reason string `json:"reason"`
}
