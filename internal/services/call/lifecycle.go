package call

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-callbot-service/internal/core/event"
	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"go.uber.org/zap"
)

var errStatusUnchanged = errors.New("status unchanged")

// knownStatuses bounds the label values of the status metric
var knownStatuses = map[string]bool{
	domain.CallStatusQueued:     true,
	domain.CallStatusInitiated:  true,
	domain.CallStatusRinging:    true,
	domain.CallStatusAnswered:   true,
	domain.CallStatusInProgress: true,
	domain.CallStatusCompleted:  true,
	domain.CallStatusBusy:       true,
	domain.CallStatusFailed:     true,
	domain.CallStatusNoAnswer:   true,
	domain.CallStatusCanceled:   true,
}

// RecordStatus applies a provider status callback. Unknown conversations and
// stale or regressing statuses are ignored without error.
func (s *Service) RecordStatus(ctx context.Context, conversationID, status string) error {
	status = strings.ToLower(strings.TrimSpace(status))
	s.metrics.StatusCounter.WithLabelValues(statusLabel(status)).Inc()
	if status == "" {
		logger.Base().Warn("Empty call status callback", zap.String("conversation_id", conversationID))
		return nil
	}

	var previous string
	conv, err := s.store.Update(ctx, conversationID, func(conv *domain.Conversation) error {
		previous = conv.Context.Status
		if !conv.AdvanceStatus(status) {
			return errStatusUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Base().Warn("Status callback for unknown conversation",
			zap.String("conversation_id", conversationID),
			zap.String("status", status))
		return nil
	case errors.Is(err, errStatusUnchanged):
		logger.Base().Debug("Ignoring call status that does not advance the lifecycle",
			zap.String("conversation_id", conversationID),
			zap.String("current", previous),
			zap.String("status", status))
		return nil
	case err != nil:
		return fmt.Errorf("failed to record status for %s: %w", conversationID, err)
	}

	s.publish(event.NewCallEvent(event.CallStatusChanged, conversationID).
		WithCallID(conv.Context.ExternalCallID).
		WithStatus(status).
		WithData(&event.StatusEventData{Previous: previous, Current: status, Ended: conv.IsEnded()}))
	logger.Base().Info("Call status updated",
		zap.String("conversation_id", conversationID),
		zap.String("previous", previous),
		zap.String("status", status))
	return nil
}

// EndCall hangs up the call of a conversation. It fails with ErrNotFound
// until the provider call id is known and with ErrProvider when the hangup
// request fails, leaving the status untouched.
func (s *Service) EndCall(ctx context.Context, conversationID string) error {
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	callSID := conv.Context.ExternalCallID
	if callSID == "" {
		return fmt.Errorf("%w: no call recorded for conversation %s", domain.ErrNotFound, conversationID)
	}

	if err := s.telephony.CompleteCall(ctx, callSID); err != nil {
		logger.Base().Error("Failed to end call",
			zap.String("conversation_id", conversationID),
			zap.String("call_sid", callSID),
			zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}

	conv, err = s.store.Update(ctx, conversationID, func(conv *domain.Conversation) error {
		// A terminal status already reported by the provider is kept
		if !domain.IsTerminalStatus(conv.Context.Status) {
			conv.Context.Status = domain.CallStatusEnded
		}
		conv.State = domain.StateEnded
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark conversation %s ended: %w", conversationID, err)
	}

	s.publish(event.NewCallEvent(event.CallEnded, conversationID).
		WithCallID(callSID).
		WithStatus(conv.Context.Status))
	logger.Base().Info("Call ended",
		zap.String("conversation_id", conversationID),
		zap.String("call_sid", callSID))
	return nil
}

func statusLabel(status string) string {
	if knownStatuses[status] {
		return status
	}
	return "other"
}
