package domain

import (
	"strings"
	"time"
)

// Role identifies who spoke a turn
type Role string

const (
	RoleAssistant  Role = "assistant"   // line generated by the model and spoken by us
	RoleServiceRep Role = "service_rep" // recognized speech of the human agent
)

// ConversationState is the explicit turn-taking state of a call
type ConversationState string

const (
	StateAwaitingGreeting ConversationState = "awaiting_greeting"
	StateAwaitingReply    ConversationState = "awaiting_reply"
	StateEnded            ConversationState = "ended"
)

// Call lifecycle statuses. Initiating, Initiated and Ended are set by this
// service; the rest are reported by Twilio status callbacks.
const (
	CallStatusInitiating = "initiating"
	CallStatusQueued     = "queued"
	CallStatusInitiated  = "initiated"
	CallStatusRinging    = "ringing"
	CallStatusAnswered   = "answered"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
	CallStatusEnded      = "ended"
)

const statusRankTerminal = 4

var statusRanks = map[string]int{
	CallStatusInitiating: 0,
	CallStatusQueued:     1,
	CallStatusInitiated:  1,
	CallStatusRinging:    2,
	CallStatusAnswered:   3,
	CallStatusInProgress: 3,
	CallStatusCompleted:  statusRankTerminal,
	CallStatusBusy:       statusRankTerminal,
	CallStatusFailed:     statusRankTerminal,
	CallStatusNoAnswer:   statusRankTerminal,
	CallStatusCanceled:   statusRankTerminal,
	CallStatusEnded:      statusRankTerminal,
}

// IsTerminalStatus reports whether the call can no longer progress
func IsTerminalStatus(status string) bool {
	return statusRanks[strings.ToLower(status)] == statusRankTerminal
}

// CanAdvanceStatus reports whether moving from current to next respects the
// forward-only lifecycle. Terminal statuses never change; unknown values are
// accepted while the call is still live. An unknown current status carries no
// rank, so Conversation.AdvanceStatus also checks the last known rank.
func CanAdvanceStatus(current, next string) bool {
	current = strings.ToLower(current)
	next = strings.ToLower(next)
	if next == "" || current == next {
		return false
	}
	if IsTerminalStatus(current) {
		return false
	}
	nextRank, known := statusRanks[next]
	if !known {
		return true
	}
	currentRank, ok := statusRanks[current]
	if !ok {
		return true
	}
	return nextRank >= currentRank
}

// Turn is one attributed utterance in a conversation
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallContext holds the call parameters and the mutable lifecycle fields
type CallContext struct {
	UserNumber       string `json:"user_number"`
	TargetNumber     string `json:"customer_service_number"`
	IssueDescription string `json:"issue_description"`
	UserName         string `json:"user_name,omitempty"`

	Status         string `json:"status"`
	ExternalCallID string `json:"call_sid,omitempty"`
}

// Conversation is the state of one outbound call
type Conversation struct {
	ID           string            `json:"id"`
	History      []Turn            `json:"history"`
	Context      CallContext       `json:"context"`
	State        ConversationState `json:"state"`
	NoInputCount int               `json:"no_input_count"`
	// StatusRank is the rank of the furthest known status reached
	StatusRank   int               `json:"status_rank"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewConversation creates a conversation waiting for its greeting
func NewConversation(id string, callCtx CallContext, now time.Time) *Conversation {
	callCtx.Status = CallStatusInitiating
	callCtx.ExternalCallID = ""
	return &Conversation{
		ID:        id,
		History:   make([]Turn, 0),
		Context:   callCtx,
		State:     StateAwaitingGreeting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn adds a turn to the history
func (c *Conversation) AppendTurn(role Role, content string) {
	c.History = append(c.History, Turn{Role: role, Content: content})
}

// SetExternalCallID records the provider call id. It is write-once and
// reports false if a different id was already recorded.
func (c *Conversation) SetExternalCallID(id string) bool {
	if c.Context.ExternalCallID != "" && c.Context.ExternalCallID != id {
		return false
	}
	c.Context.ExternalCallID = id
	return true
}

// AdvanceStatus applies next if it moves the lifecycle forward. A terminal
// status also ends the conversation.
func (c *Conversation) AdvanceStatus(next string) bool {
	if !CanAdvanceStatus(c.Context.Status, next) {
		return false
	}
	if rank, known := statusRanks[strings.ToLower(next)]; known {
		if rank < c.StatusRank {
			return false
		}
		c.StatusRank = rank
	}
	c.Context.Status = next
	if IsTerminalStatus(next) {
		c.State = StateEnded
	}
	return true
}

// IsEnded reports whether no further turns should be taken
func (c *Conversation) IsEnded() bool {
	return c.State == StateEnded
}
