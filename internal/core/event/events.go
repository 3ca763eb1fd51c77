package event

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Call lifecycle events
const (
	ConversationCreated EventType = "conversation.created"
	CallInitiated       EventType = "call.initiated"
	CallInitiateFailed  EventType = "call.initiate_failed"
	CallStatusChanged   EventType = "call.status_changed"
	CallEnded           EventType = "call.ended"
	TurnCompleted       EventType = "turn.completed"
	ConversationExpired EventType = "conversation.expired"
)

// CallEvent represents something that happened to one conversation
type CallEvent struct {
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversation_id"`
	ExternalCallID string      `json:"call_sid,omitempty"`
	Status         string      `json:"status,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Data           interface{} `json:"data,omitempty"`
	Error          error       `json:"error,omitempty"`
}

// TurnEventData describes a handled voice callback
type TurnEventData struct {
	Kind          string `json:"kind"`
	HistoryLength int    `json:"history_length"`
}

// StatusEventData describes a status transition
type StatusEventData struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Ended    bool   `json:"ended"`
}

// NewCallEvent creates a new call event
func NewCallEvent(eventType EventType, conversationID string) *CallEvent {
	return &CallEvent{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	}
}

// WithCallID adds the provider call id to the event
func (e *CallEvent) WithCallID(callID string) *CallEvent {
	e.ExternalCallID = callID
	return e
}

// WithStatus adds the call status to the event
func (e *CallEvent) WithStatus(status string) *CallEvent {
	e.Status = status
	return e
}

// WithData adds data to the event
func (e *CallEvent) WithData(data interface{}) *CallEvent {
	e.Data = data
	return e
}

// WithError adds error to the event
func (e *CallEvent) WithError(err error) *CallEvent {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *CallEvent) IsError() bool {
	return e.Error != nil
}

// GetTurnData returns turn event data if available
func (e *CallEvent) GetTurnData() (*TurnEventData, bool) {
	if data, ok := e.Data.(*TurnEventData); ok {
		return data, true
	}
	return nil, false
}

// GetStatusData returns status event data if available
func (e *CallEvent) GetStatusData() (*StatusEventData, bool) {
	if data, ok := e.Data.(*StatusEventData); ok {
		return data, true
	}
	return nil, false
}
