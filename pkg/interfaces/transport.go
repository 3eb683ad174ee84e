// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrChannelClosed    = errors.New("data channel closed")
	ErrConnClosed       = errors.New("connection closed")
)

// Direction of a data channel as agreed during signaling.
type Direction string

const (
	SendOnly Direction = "sendonly"
	RecvOnly Direction = "recvonly"
	SendRecv Direction = "sendrecv"
)

// ChannelDescriptor declares one named data channel before the session is
// established. Open flips only in response to channel lifecycle events.
type ChannelDescriptor struct {
	Label     string
	Direction Direction
	Open      bool
}

// Connector establishes one session carrying the requested data channels.
// The signaling/negotiation mechanics behind Dial are outside the core.
type Connector interface {
	Dial(ctx context.Context, channels []ChannelDescriptor) (Conn, error)
}

// Conn is one established session. Events delivers channel lifecycle changes
// and inbound frames until the connection dies; the channel is closed after
// a final EventClosed has been delivered.
type Conn interface {
	Send(label string, data []byte) error
	Events() <-chan ConnEvent
	Close() error
}

type EventKind int

const (
	EventChannelOpen EventKind = iota
	EventChannelClose
	EventMessage
	EventClosed
)

// ConnEvent is one occurrence on a live connection. Label is set for channel
// and message events, Data for message events, Err for an EventClosed caused
// by a failure rather than a local Close.
type ConnEvent struct {
	Kind  EventKind
	Label string
	Data  []byte
	Err   error
}
