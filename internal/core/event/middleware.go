package event

import (
	"time"

	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware logs every handled event with its duration
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		start := time.Now()

		defer func() {
			if event.IsError() {
				logger.Base().Warn("Call event handled with error",
					zap.String("type", string(event.Type)),
					zap.String("conversation_id", event.ConversationID),
					zap.Error(event.Error))
				return
			}
			logger.Base().Debug("Call event handled",
				zap.String("type", string(event.Type)),
				zap.String("conversation_id", event.ConversationID),
				zap.String("status", event.Status),
				zap.Duration("duration", time.Since(start)))
		}()

		next(event)
	}
}

// ValidationMiddleware drops malformed events before they reach handlers
func ValidationMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}

		if event.Type == "" {
			logger.Base().Error("Event type is empty", zap.String("conversation_id", event.ConversationID))
			return
		}

		if event.ConversationID == "" {
			logger.Base().Error("Conversation ID is empty", zap.String("type", string(event.Type)))
			return
		}

		next(event)
	}
}

// DefaultMiddlewareChain is the chain installed by the call service
func DefaultMiddlewareChain() []EventMiddleware {
	return []EventMiddleware{
		ValidationMiddleware,
		LoggingMiddleware,
	}
}
