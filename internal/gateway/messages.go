package gateway

import (
	"encoding/json"
	"time"

	"million-dialogue/internal/domain"
)

// Action names accepted from clients.
const (
	ActionAuthenticate = "authenticate"
	ActionCreateRoom   = "create-room"
	ActionJoinRoom     = "join-room"
	ActionLeaveRoom    = "leave-room"
	ActionStartRound   = "start-round"
	ActionCancelRound  = "cancel-round"
	ActionSubmitAnswer = "submit-answer"
	ActionListRooms    = "list-rooms"
	ActionGetRoom      = "get-room"
)

const (
	messageTypeAck   = "ack"
	messageTypeEvent = "event"
)

// Envelope is an inbound client action.
type Envelope struct {
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Response acknowledges exactly one Envelope.
type Response struct {
	Type          string     `json:"type"`
	CorrelationID string     `json:"correlationId,omitempty"`
	Success       bool       `json:"success"`
	Data          any        `json:"data,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
}

// EventMessage is a room event pushed without a prior request.
type EventMessage struct {
	Type   string           `json:"type"`
	Event  domain.EventType `json:"event"`
	RoomID string           `json:"roomId"`
	Seq    uint64           `json:"seq"`
	At     time.Time        `json:"at"`
	Data   any              `json:"data,omitempty"`
}

func newEventMessage(e domain.Event) EventMessage {
	return EventMessage{
		Type:   messageTypeEvent,
		Event:  e.Type,
		RoomID: e.RoomID,
		Seq:    e.Seq,
		At:     e.At,
		Data:   e.Payload,
	}
}

func success(correlationID string, data any) Response {
	return Response{Type: messageTypeAck, CorrelationID: correlationID, Success: true, Data: data}
}

func failure(correlationID string, err error) Response {
	body := toErrorBody(err)
	return Response{Type: messageTypeAck, CorrelationID: correlationID, Error: &body}
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type createRoomPayload struct {
	Title    string              `json:"title"`
	Type     domain.Visibility   `json:"type"`
	Settings domain.RoomSettings `json:"settings"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type submitAnswerPayload struct {
	RoomID      string `json:"roomId"`
	QuestionID  string `json:"questionId"`
	ChosenIndex *int   `json:"chosenIndex"`
	TimeTaken   int64  `json:"timeTaken"`
}

type authenticatedData struct {
	ConnectionID string          `json:"connectionId"`
	User         domain.Identity `json:"user"`
}
