package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientQuery        MessageType = "client_query"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantReply     MessageType = "assistant_reply"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientQuery is the single client-originated message: one natural-language
// question per envelope.
type ClientQuery struct {
	Type    MessageType `json:"type"`
	QueryID string      `json:"query_id"`
	Text    string      `json:"text"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	QueryID   string      `json:"query_id"`
	TextDelta string      `json:"text_delta"`
}

// AssistantReply closes out a query with the full reply text.
type AssistantReply struct {
	Type    MessageType `json:"type"`
	QueryID string      `json:"query_id"`
	Text    string      `json:"text"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	QueryID   string      `json:"query_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientQuery:
		var msg ClientQuery
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid client_query")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func NewTextDelta(queryID, delta string) AssistantTextDelta {
	return AssistantTextDelta{Type: TypeAssistantTextDelta, QueryID: queryID, TextDelta: delta}
}

func NewReply(queryID, text string) AssistantReply {
	return AssistantReply{Type: TypeAssistantReply, QueryID: queryID, Text: text}
}

func NewErrorEvent(queryID, code string, retryable bool, detail string) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, QueryID: queryID, Code: code, Retryable: retryable, Detail: detail}
}
