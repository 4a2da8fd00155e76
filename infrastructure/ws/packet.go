package ws

import (
	"encoding/json"
	"time"
)

// IPacket is an application payload that can be turned into a wire message.
type IPacket interface {
	Encode() ([]byte, error)
}

// Packet is the default envelope: {"data": "...", "timestamp": "..."}.
type Packet struct {
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPacket(data string) Packet {
	return Packet{
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func (p Packet) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePacket parses a Packet envelope. It reports false for payloads that
// are not a JSON object carrying a data field.
func DecodePacket(data []byte) (Packet, bool) {
	if len(data) == 0 || data[0] != '{' {
		return Packet{}, false
	}

	var raw struct {
		Data      *string   `json:"data"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.Data == nil {
		return Packet{}, false
	}
	return Packet{Data: *raw.Data, Timestamp: raw.Timestamp}, true
}

type jsonPacket struct {
	value any
}

// JSONPacket adapts any JSON-marshalable value to IPacket.
func JSONPacket(v any) IPacket {
	return jsonPacket{value: v}
}

func (p jsonPacket) Encode() ([]byte, error) {
	return json.Marshal(p.value)
}
