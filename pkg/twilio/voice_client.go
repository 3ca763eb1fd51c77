package twilio

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Status events requested for every outbound call
var DefaultStatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// ErrDisabled is returned when the client was built without credentials
var ErrDisabled = errors.New("twilio voice client is disabled")

// callAPI is the subset of the Twilio REST API used for outbound calls
type callAPI interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// OutboundCall describes a call to place
type OutboundCall struct {
	To                string
	AnswerURL         string
	StatusCallbackURL string
	RingTimeout       int
	Record            bool
}

// VoiceClient places and completes calls through the Twilio REST API
type VoiceClient struct {
	api        callAPI
	fromNumber string
	enabled    bool
}

// NewVoiceClient creates a new Twilio voice client.
// If accountSID or authToken is empty, the client will be disabled.
func NewVoiceClient(accountSID, authToken, fromNumber string) *VoiceClient {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, outbound calls disabled")
		return &VoiceClient{enabled: false, fromNumber: fromNumber}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &VoiceClient{
		api:        client.Api,
		fromNumber: fromNumber,
		enabled:    true,
	}
}

// IsEnabled reports whether the client has credentials
func (c *VoiceClient) IsEnabled() bool {
	return c.enabled
}

// PlaceCall starts an outbound call and returns the Twilio call SID
func (c *VoiceClient) PlaceCall(ctx context.Context, call OutboundCall) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &api.CreateCallParams{}
	params.SetTo(call.To)
	params.SetFrom(c.fromNumber)
	params.SetUrl(call.AnswerURL)
	params.SetMethod("POST")
	params.SetRecord(call.Record)
	params.SetStatusCallback(call.StatusCallbackURL)
	params.SetStatusCallbackEvent(DefaultStatusCallbackEvents)
	params.SetStatusCallbackMethod("POST")
	if call.RingTimeout > 0 {
		params.SetTimeout(call.RingTimeout)
	}

	resp, err := c.api.CreateCall(params)
	if err != nil {
		logger.Base().Error("Failed to create Twilio call", zap.String("to", call.To), zap.Error(err))
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", errors.New("twilio returned a call without sid")
	}

	logger.Base().Info("Twilio call created", zap.String("call_sid", *resp.Sid), zap.String("to", call.To))
	return *resp.Sid, nil
}

// CompleteCall hangs up a live call
func (c *VoiceClient) CompleteCall(ctx context.Context, callSID string) error {
	if !c.enabled {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.api.UpdateCall(callSID, params); err != nil {
		logger.Base().Error("Failed to complete Twilio call", zap.String("call_sid", callSID), zap.Error(err))
		return fmt.Errorf("failed to complete call %s: %w", callSID, err)
	}

	logger.Base().Info("Twilio call completed", zap.String("call_sid", callSID))
	return nil
}
