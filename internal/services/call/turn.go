package call

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-callbot-service/internal/core/event"
	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/internal/prompts"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/ClareAI/astra-callbot-service/pkg/twilio"
	"go.uber.org/zap"
)

// Fixed lines spoken by the orchestrator
const (
	UnknownConversationReply = "Invalid conversation. Goodbye."
	RepromptText             = "I didn't catch that. Please say that again."
	ListenPrompt             = "You may speak now."
	NoInputGoodbye           = "No input detected. Goodbye."
	EndedReply               = "This call has ended. Goodbye."
)

// TurnKind is the orchestrator state a voice callback was resolved to
type TurnKind string

const (
	TurnUnknown    TurnKind = "unknown"
	TurnEnded      TurnKind = "ended"
	TurnOpening    TurnKind = "opening"
	TurnResponsive TurnKind = "responsive"
	TurnNoInput    TurnKind = "no_input"
	TurnGiveUp     TurnKind = "give_up"
)

type turnOutcome struct {
	kind   TurnKind
	text   string
	hangup bool
}

// HandleTurn answers one voice callback with TwiML. The decision, the model
// call and the history append all happen while the conversation is locked.
func (s *Service) HandleTurn(ctx context.Context, conversationID, speechResult string) (string, error) {
	speech := strings.TrimSpace(speechResult)

	var outcome turnOutcome
	conv, err := s.store.Update(ctx, conversationID, func(conv *domain.Conversation) error {
		outcome = s.advanceTurn(ctx, conv, speech)
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Base().Warn("Voice callback for unknown conversation", zap.String("conversation_id", conversationID))
		outcome = turnOutcome{kind: TurnUnknown, text: UnknownConversationReply, hangup: true}
	case err != nil:
		return "", fmt.Errorf("failed to handle turn for %s: %w", conversationID, err)
	}

	s.metrics.TurnCounter.WithLabelValues(string(outcome.kind)).Inc()
	if conv != nil {
		s.publish(event.NewCallEvent(event.TurnCompleted, conversationID).
			WithCallID(conv.Context.ExternalCallID).
			WithData(&event.TurnEventData{Kind: string(outcome.kind), HistoryLength: len(conv.History)}))
		if outcome.kind == TurnGiveUp {
			s.publish(event.NewCallEvent(event.CallEnded, conversationID).
				WithCallID(conv.Context.ExternalCallID).
				WithStatus(conv.Context.Status))
		}
		logger.Base().Info("Handled voice turn",
			zap.String("conversation_id", conversationID),
			zap.String("kind", string(outcome.kind)),
			zap.Int("history_length", len(conv.History)))
	}

	return s.render(conversationID, outcome)
}

// advanceTurn resolves the callback state in priority order: ended, opening,
// responsive, no-input
func (s *Service) advanceTurn(ctx context.Context, conv *domain.Conversation, speech string) turnOutcome {
	switch {
	case conv.IsEnded():
		return turnOutcome{kind: TurnEnded, text: EndedReply, hangup: true}

	case len(conv.History) == 0 && speech == "":
		greeting := s.completer.Complete(ctx, prompts.GreetingPrompt(conv.Context, s.config.Persona))
		conv.AppendTurn(domain.RoleAssistant, greeting)
		conv.State = domain.StateAwaitingReply
		conv.NoInputCount = 0
		return turnOutcome{kind: TurnOpening, text: greeting}

	case speech != "":
		prompt := prompts.ReplyPrompt(conv.History, speech, conv.Context)
		// Recognized speech is history even if the model fails
		conv.AppendTurn(domain.RoleServiceRep, speech)
		reply := s.completer.Complete(ctx, prompt)
		conv.AppendTurn(domain.RoleAssistant, reply)
		conv.State = domain.StateAwaitingReply
		conv.NoInputCount = 0
		return turnOutcome{kind: TurnResponsive, text: reply}

	default:
		conv.NoInputCount++
		if s.config.MaxNoInputPrompts > 0 && conv.NoInputCount > s.config.MaxNoInputPrompts {
			conv.State = domain.StateEnded
			return turnOutcome{kind: TurnGiveUp, text: NoInputGoodbye, hangup: true}
		}
		return turnOutcome{kind: TurnNoInput, text: RepromptText}
	}
}

func (s *Service) render(conversationID string, outcome turnOutcome) (string, error) {
	var (
		xml string
		err error
	)
	if outcome.hangup {
		xml, err = twilio.SayAndHangup(outcome.text, s.config.Speech)
	} else {
		xml, err = twilio.SayAndGather(outcome.text, "/voice/"+conversationID, s.config.Speech)
	}
	if err != nil {
		return "", fmt.Errorf("failed to render voice response: %w", err)
	}
	return xml, nil
}
