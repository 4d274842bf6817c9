package websocket

import (
	"encoding/json"
	"time"

	"statebridge/internal/domain"
)

type MessageType string

const (
	TypeNotice        MessageType = "notice"
	TypeCodeRedeemed  MessageType = "code_redeemed"
	TypeStateImported MessageType = "state_imported"
	TypeSaveFailed    MessageType = "state_save_failed"
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type NoticePayload struct {
	Kind    domain.NoticeKind `json:"kind"`
	Message string            `json:"message"`
	Data    map[string]any    `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

// NoticeMessage wraps a user-visible notice. Known kinds get their own
// message type so clients can react without parsing the payload.
func NoticeMessage(notice domain.Notice) (*Message, error) {
	msgType := TypeNotice
	switch notice.Kind {
	case domain.NoticeCodeRedeemed:
		msgType = TypeCodeRedeemed
	case domain.NoticeStateImported:
		msgType = TypeStateImported
	case domain.NoticeStateSaveFailed:
		msgType = TypeSaveFailed
	}

	msg, err := NewMessage(msgType, &NoticePayload{
		Kind:    notice.Kind,
		Message: notice.Message,
		Data:    notice.Data,
	})
	if err != nil {
		return nil, err
	}
	if !notice.CreatedAt.IsZero() {
		msg.Timestamp = notice.CreatedAt
	}
	return msg, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
