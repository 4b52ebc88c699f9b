// Package ws defines the frames exchanged over the chat WebSocket.
package ws

import (
	"encoding/json"

	"duo-chat/backend/internal/models"
)

// Frame types
const (
	// client to server
	TypeSubmit = "submit"
	TypePing   = "ping"

	// server to client
	TypeDeliver = "deliver"
	TypeAck     = "ack"
	TypeError   = "error"
	TypePong    = "pong"
)

// Envelope wraps every frame in both directions
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubmitPayload asks the server to send a message. ClientRef is echoed in the
// ack or error so the client can match them to the pending send.
type SubmitPayload struct {
	ReceiverID uint    `json:"receiver_id" validate:"required"`
	Content    *string `json:"content,omitempty" validate:"omitempty,max=10000"`
	MediaRef   *string `json:"media_ref,omitempty" validate:"omitempty,max=512"`
	ClientRef  string  `json:"client_ref,omitempty" validate:"max=128"`
}

// DeliverPayload carries a message to its receiver
type DeliverPayload struct {
	Message *models.Message `json:"message"`
}

// AckPayload confirms to the sender that a message was persisted
type AckPayload struct {
	Message   *models.Message `json:"message"`
	ClientRef string          `json:"client_ref,omitempty"`
}

// ErrorPayload reports a rejected frame or a session event
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"client_ref,omitempty"`
}

// Encode builds a frame of the given type
func Encode(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
