package rtmp

import (
	"encoding/binary"
	"testing"
)

func TestMessageClassification(t *testing.T) {
	classifyTests := []struct {
		name    string
		typeID  MessageType
		control bool
		media   bool
	}{
		{"setChunkSize", SetChunkSize, true, false},
		{"abort", AbortMessage, true, false},
		{"ack", Ack, true, false},
		{"windowAckSize", WindowAckSize, true, false},
		{"setPeerBandwidth", SetPeerBandwidth, true, false},
		{"userControl", UserControl, false, false},
		{"audio", AudioMessage, false, true},
		{"video", VideoMessage, false, true},
		{"dataAMF0", DataMessageAMF0, false, true},
		{"commandAMF0", CommandMessageAMF0, false, false},
		{"aggregate", AggregateMessage, false, false},
	}

	for _, tt := range classifyTests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Type: tt.typeID}
			if got := m.IsProtocolControl(); got != tt.control {
				t.Errorf("expected IsProtocolControl %v, but got %v", tt.control, got)
			}
			if got := m.IsMedia(); got != tt.media {
				t.Errorf("expected IsMedia %v, but got %v", tt.media, got)
			}
		})
	}
}

func TestControlMessageLayout(t *testing.T) {
	msg := newSetChunkSizeMessage(4096)
	if msg.ChunkStreamID != ProtocolChunkStream || msg.StreamID != 0 {
		t.Error("expected the control message on the reserved chunk stream with stream id 0")
	}
	if got := binary.BigEndian.Uint32(msg.Payload); got != 4096 {
		t.Errorf("expected chunk size 4096, but got %d", got)
	}

	buffer := newSetBufferLengthMessage(1, 3000)
	if buffer.Type != UserControl {
		t.Errorf("expected a user control message, but got type %v", buffer.Type)
	}
	if event := binary.BigEndian.Uint16(buffer.Payload); event != EventSetBufferLength {
		t.Errorf("expected event %d, but got %d", EventSetBufferLength, event)
	}
	if sid := binary.BigEndian.Uint32(buffer.Payload[2:]); sid != 1 {
		t.Errorf("expected stream id 1, but got %d", sid)
	}
	if ms := binary.BigEndian.Uint32(buffer.Payload[6:]); ms != 3000 {
		t.Errorf("expected 3000 ms, but got %d", ms)
	}
}
