package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected = errors.New("radio not connected")
	ErrQueueFull    = errors.New("send queue full")
)

// Port numbers the gateway cares about.
const (
	PortText     = "TEXT_MESSAGE_APP"
	PortNodeInfo = "NODEINFO_APP"
)

// Packet is one decoded inbound mesh packet.
type Packet struct {
	FromID  string    `json:"fromId"`
	ToID    string    `json:"toId"`
	Channel int       `json:"channel"`
	RxTime  time.Time `json:"rxTime,omitempty"`
	Decoded Decoded   `json:"decoded"`
}

type Decoded struct {
	Portnum string `json:"portnum"`
	Text    string `json:"text,omitempty"`
	User    *User  `json:"user,omitempty"`
}

// User is the node-info payload a peer broadcasts about itself.
type User struct {
	ID        string `json:"id"`
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
}

// Target addresses an outbound message: a channel broadcast or a single peer.
type Target struct {
	ChannelIndex  *int
	DestinationID string
}

func Channel(i int) Target       { return Target{ChannelIndex: &i} }
func Direct(id string) Target    { return Target{DestinationID: id} }
func (t Target) IsDirect() bool  { return t.DestinationID != "" }
func (t Target) IsChannel() bool { return t.ChannelIndex != nil }

func (t Target) String() string {
	switch {
	case t.IsDirect():
		return "dm:" + t.DestinationID
	case t.IsChannel():
		return fmt.Sprintf("ch:%d", *t.ChannelIndex)
	default:
		return "none"
	}
}

// Sender delivers text to the mesh.
type Sender interface {
	Send(ctx context.Context, text string, to Target) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string, to Target) error

func (f SenderFunc) Send(ctx context.Context, text string, to Target) error { return f(ctx, text, to) }

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventPacket       EventKind = "packet"
	EventDisconnected EventKind = "disconnected"
)

// Event is emitted by an Adapter. SelfID is set on EventConnected, Packet on
// EventPacket and Err on EventDisconnected.
type Event struct {
	Kind   EventKind
	SelfID string
	Packet Packet
	Err    error
}

// Inbound is a packet paired with the gateway's own id at receive time.
type Inbound struct {
	Packet Packet
	SelfID string
}

// Adapter is a radio connection.
type Adapter interface {
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error
	Sender
}

// NodeID formats a numeric node number as the mesh's "!xxxxxxxx" id.
func NodeID(num uint32) string { return fmt.Sprintf("!%08x", num) }
