package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/slotline/slotline/internal/coordinator"
)

// MessageType tags every frame exchanged over a WebSocket connection.
type MessageType string

const (
	// Client to server.
	TypeJoinQueue          MessageType = "join_queue"
	TypeLeaveQueue         MessageType = "leave_queue"
	TypeReserveEvent       MessageType = "reserve_event"
	TypeConfirmReservation MessageType = "confirm_reservation"

	// Server to client.
	TypeWelcome              MessageType = "welcome"
	TypeUpdateState          MessageType = "update_state"
	TypeQueueResponse        MessageType = "queue_response"
	TypeReservationResponse  MessageType = "reservation_response"
	TypeConfirmationResponse MessageType = "confirmation_response"
	TypeSelectionStarted     MessageType = "selection_started"
	TypeSelectionExpired     MessageType = "selection_expired"
	TypeHoldExpired          MessageType = "hold_expired"
)

// Envelope is the wire frame: a type tag plus a type-specific payload.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventRef addresses one event in a client request.
type EventRef struct {
	EventID string `json:"event_id"`
}

// ConfirmPayload carries the confirmation form data.
type ConfirmPayload struct {
	EventID  string               `json:"event_id"`
	UserData coordinator.UserData `json:"user_data"`
}

// WelcomePayload hands the client its stable session identity.
type WelcomePayload struct {
	SessionID string `json:"session_id"`
}

// ResponsePayload is the outcome of a client-initiated operation.
type ResponsePayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SelectionStartedPayload tells the promoted client its window deadline.
type SelectionStartedPayload struct {
	EventID   string    `json:"event_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NoticePayload is an addressed expiry notice.
type NoticePayload struct {
	EventID string `json:"event_id"`
}

func marshalEnvelope(t MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}
