package types

import "encoding/json"

// Subprotocol is the websocket subprotocol spoken on /graphql.
const Subprotocol = "graphql-transport-ws"

type MessageType string

const (
	MsgConnectionInit MessageType = "connection_init"
	MsgConnectionAck  MessageType = "connection_ack"
	MsgPing           MessageType = "ping"
	MsgPong           MessageType = "pong"
	MsgSubscribe      MessageType = "subscribe"
	MsgNext           MessageType = "next"
	MsgError          MessageType = "error"
	MsgComplete       MessageType = "complete"
)

type ClientMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ServerMessage struct {
	ID      string      `json:"id,omitempty"`
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// InitPayload is what clients may send with connection_init.
type InitPayload struct {
	UserID string `json:"userId,omitempty"`
}

type SubscribePayload struct {
	OperationName string                 `json:"operationName,omitempty"`
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}
