package call

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClareAI/astra-callbot-service/internal/config"
	"github.com/ClareAI/astra-callbot-service/internal/core/event"
	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/internal/observability"
	"github.com/ClareAI/astra-callbot-service/internal/prompts"
	"github.com/ClareAI/astra-callbot-service/internal/store"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/ClareAI/astra-callbot-service/pkg/twilio"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Telephony places and hangs up outbound calls
type Telephony interface {
	PlaceCall(ctx context.Context, call twilio.OutboundCall) (string, error)
	CompleteCall(ctx context.Context, callSID string) error
}

// Completer turns a prompt into a reply. It never fails; errors become
// fallback replies inside the implementation.
type Completer interface {
	Complete(ctx context.Context, prompt string) string
}

// Config holds the call service settings
type Config struct {
	PublicBaseURL      string
	RingTimeoutSeconds int
	// MaxNoInputPrompts is how many consecutive re-prompts are spoken before
	// the call is given up. Zero or less never gives up.
	MaxNoInputPrompts int
	CallRatePerSecond float64
	CallRateBurst     int
	Persona           prompts.Persona
	Speech            twilio.SpeechOptions
}

// NewConfig derives the service settings from the process configuration
func NewConfig(cfg *config.CallConfig) Config {
	return Config{
		PublicBaseURL:      cfg.PublicBaseURL,
		RingTimeoutSeconds: cfg.RingTimeoutSeconds,
		MaxNoInputPrompts:  cfg.MaxNoInputPrompts,
		CallRatePerSecond:  cfg.CallRatePerSecond,
		CallRateBurst:      cfg.CallRateBurst,
		Persona: prompts.Persona{
			AssistantName: cfg.AssistantName,
			PrincipalName: cfg.PrincipalName,
		},
		Speech: twilio.SpeechOptions{
			Voice:         cfg.Voice,
			Language:      cfg.VoiceLanguage,
			SpeechModel:   cfg.SpeechModel,
			GatherTimeout: cfg.GatherTimeout,
			SpeechTimeout: cfg.SpeechTimeout,
			ListenPrompt:  ListenPrompt,
			NoInputText:   NoInputGoodbye,
		},
	}
}

// InitiateRequest holds the parameters of a new outbound call
type InitiateRequest struct {
	UserNumber       string
	TargetNumber     string
	IssueDescription string
	UserName         string
}

// InitiateResult identifies a placed call
type InitiateResult struct {
	ConversationID string
	ExternalCallID string
}

// Service runs outbound calls: it places them, answers their voice callbacks,
// and tracks their lifecycle
type Service struct {
	config    Config
	store     store.Store
	telephony Telephony
	completer Completer
	limiter   *rate.Limiter
	eventBus  event.EventBus
	metrics   *observability.Metrics
}

// NewService creates a new call service
func NewService(cfg Config, conversations store.Store, telephony Telephony, completer Completer, eventBus event.EventBus, metrics *observability.Metrics) *Service {
	limit := rate.Inf
	if cfg.CallRatePerSecond > 0 {
		limit = rate.Limit(cfg.CallRatePerSecond)
	}
	burst := cfg.CallRateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Service{
		config:    cfg,
		store:     conversations,
		telephony: telephony,
		completer: completer,
		limiter:   rate.NewLimiter(limit, burst),
		eventBus:  eventBus,
		metrics:   metrics,
	}
}

// InitiateCall creates a conversation and asks the provider to dial the
// target number. On provider failure the conversation is kept with status
// initiating and its id is still returned alongside the error.
func (s *Service) InitiateCall(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	req.UserNumber = strings.TrimSpace(req.UserNumber)
	req.TargetNumber = strings.TrimSpace(req.TargetNumber)
	req.IssueDescription = strings.TrimSpace(req.IssueDescription)
	req.UserName = strings.TrimSpace(req.UserName)

	if missing := missingFields(req); len(missing) > 0 {
		s.metrics.CallCounter.WithLabelValues("validation_error").Inc()
		return nil, fmt.Errorf("%w: missing required fields: %s", domain.ErrValidation, strings.Join(missing, ", "))
	}

	conversationID := uuid.NewString()
	conv := domain.NewConversation(conversationID, domain.CallContext{
		UserNumber:       req.UserNumber,
		TargetNumber:     req.TargetNumber,
		IssueDescription: req.IssueDescription,
		UserName:         req.UserName,
	}, time.Now())
	if err := s.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.publish(event.NewCallEvent(event.ConversationCreated, conversationID).WithStatus(domain.CallStatusInitiating))

	callSID, err := s.placeCall(ctx, conversationID, req.TargetNumber)
	if err != nil {
		s.metrics.CallCounter.WithLabelValues("provider_error").Inc()
		s.publish(event.NewCallEvent(event.CallInitiateFailed, conversationID).WithError(err))
		logger.Base().Error("Failed to initiate call",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return &InitiateResult{ConversationID: conversationID}, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}

	_, err = s.store.Update(ctx, conversationID, func(conv *domain.Conversation) error {
		if !conv.SetExternalCallID(callSID) {
			return fmt.Errorf("conversation %s already bound to call %s", conversationID, conv.Context.ExternalCallID)
		}
		// A status callback may already have moved the call past initiated
		conv.AdvanceStatus(domain.CallStatusInitiated)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record call sid: %w", err)
	}

	s.metrics.CallCounter.WithLabelValues("initiated").Inc()
	s.publish(event.NewCallEvent(event.CallInitiated, conversationID).
		WithCallID(callSID).
		WithStatus(domain.CallStatusInitiated))
	logger.Base().Info("Call initiated",
		zap.String("conversation_id", conversationID),
		zap.String("call_sid", callSID),
		zap.String("to", req.TargetNumber))

	return &InitiateResult{ConversationID: conversationID, ExternalCallID: callSID}, nil
}

// GetConversation returns a snapshot of a conversation
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.store.Get(ctx, conversationID)
}

// NotifyExpired publishes the removal of an idle conversation by the store
func (s *Service) NotifyExpired(conv *domain.Conversation) {
	s.publish(event.NewCallEvent(event.ConversationExpired, conv.ID).
		WithCallID(conv.Context.ExternalCallID).
		WithStatus(conv.Context.Status))
}

func (s *Service) placeCall(ctx context.Context, conversationID, to string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("call rate limit: %w", err)
	}

	return s.telephony.PlaceCall(ctx, twilio.OutboundCall{
		To:                to,
		AnswerURL:         s.callbackURL("voice", conversationID),
		StatusCallbackURL: s.callbackURL("call_status", conversationID),
		RingTimeout:       s.config.RingTimeoutSeconds,
		Record:            true,
	})
}

func (s *Service) callbackURL(route, conversationID string) string {
	return fmt.Sprintf("%s/%s/%s", s.config.PublicBaseURL, route, conversationID)
}

func (s *Service) publish(e *event.CallEvent) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishEvent(e); err != nil {
		logger.Base().Warn("Failed to publish call event",
			zap.String("event_type", string(e.Type)),
			zap.String("conversation_id", e.ConversationID),
			zap.Error(err))
	}
}

func missingFields(req InitiateRequest) []string {
	missing := make([]string, 0, 3)
	if req.UserNumber == "" {
		missing = append(missing, "user_number")
	}
	if req.TargetNumber == "" {
		missing = append(missing, "customer_service_number")
	}
	if req.IssueDescription == "" {
		missing = append(missing, "issue_description")
	}
	return missing
}
