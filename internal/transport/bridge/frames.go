package bridge

import "meshgate/internal/transport"

const (
	frameConnected = "connected"
	framePacket    = "packet"
	frameError     = "error"
	frameSend      = "send"
)

type inFrame struct {
	Type      string            `json:"type"`
	MyNodeNum *uint32           `json:"my_node_num,omitempty"`
	Packet    *transport.Packet `json:"packet,omitempty"`
	Message   string            `json:"message,omitempty"`
}

type sendFrame struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	ChannelIndex  *int   `json:"channel_index,omitempty"`
	DestinationID string `json:"destination_id,omitempty"`
}
