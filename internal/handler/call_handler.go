package handler

import (
	"errors"
	"net/http"

	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/internal/services/call"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CallHandler exposes call control endpoints and the Twilio webhooks
type CallHandler struct {
	service *call.Service
}

// NewCallHandler creates a new call handler
func NewCallHandler(service *call.Service) *CallHandler {
	return &CallHandler{service: service}
}

// InitiateCallResponse is returned when a call was placed
type InitiateCallResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"call_sid"`
}

// ConversationResponse wraps a conversation snapshot
type ConversationResponse struct {
	Status       string               `json:"status"`
	Conversation *domain.Conversation `json:"conversation"`
}

// SetupCallRoutes sets up routes for call control and provider callbacks
func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	// POST /initiate_call - Place an outbound call
	router.HandleFunc("/initiate_call", h.HandleInitiateCall).Methods(http.MethodPost)

	// POST /voice/{conversationId} - Twilio voice webhook, one per turn
	router.HandleFunc("/voice/{conversationId}", h.HandleVoice).Methods(http.MethodPost)

	// POST /call_status/{conversationId} - Twilio status callback
	router.HandleFunc("/call_status/{conversationId}", h.HandleCallStatus).Methods(http.MethodPost)

	// GET /get_conversation/{conversationId} - Inspect a conversation
	router.HandleFunc("/get_conversation/{conversationId}", h.HandleGetConversation).Methods(http.MethodGet)

	// POST /end_call/{conversationId} - Hang up a live call
	router.HandleFunc("/end_call/{conversationId}", h.HandleEndCall).Methods(http.MethodPost)
}

// HandleInitiateCall godoc
// @Summary Initiate an outbound call
// @Accept x-www-form-urlencoded
// @Produce json
// @Param user_number formData string true "Number of the user the call is made for"
// @Param customer_service_number formData string true "Number to dial"
// @Param issue_description formData string true "Issue to resolve"
// @Param user_name formData string false "Name the assistant introduces itself for"
// @Success 200 {object} InitiateCallResponse
// @Failure 400 {object} map[string]string "Missing required fields"
// @Failure 500 {object} map[string]string "Provider failure"
// @Router /initiate_call [post]
func (h *CallHandler) HandleInitiateCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid form data"})
		return
	}

	result, err := h.service.InitiateCall(r.Context(), call.InitiateRequest{
		UserNumber:       r.FormValue("user_number"),
		TargetNumber:     r.FormValue("customer_service_number"),
		IssueDescription: r.FormValue("issue_description"),
		UserName:         r.FormValue("user_name"),
	})
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, domain.ErrProvider):
		body := map[string]string{"error": "Failed to initiate call"}
		if result != nil {
			body["conversation_id"] = result.ConversationID
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	case err != nil:
		logger.Base().Error("failed to initiate call", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, InitiateCallResponse{
		Status:         "call_initiated",
		ConversationID: result.ConversationID,
		CallSID:        result.ExternalCallID,
	})
}

// HandleVoice answers a Twilio voice callback with TwiML
func (h *CallHandler) HandleVoice(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationId"]
	if err := r.ParseForm(); err != nil {
		logger.Base().Warn("invalid voice callback form", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	twiml, err := h.service.HandleTurn(r.Context(), conversationID, r.PostFormValue("SpeechResult"))
	if err != nil {
		logger.Base().Error("failed to handle voice callback",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(twiml)); err != nil {
		logger.Base().Warn("failed to write voice response", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// HandleCallStatus records a Twilio status callback. It always answers 200.
func (h *CallHandler) HandleCallStatus(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationId"]
	if err := r.ParseForm(); err != nil {
		logger.Base().Warn("invalid status callback form", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	if err := h.service.RecordStatus(r.Context(), conversationID, r.PostFormValue("CallStatus")); err != nil {
		logger.Base().Error("failed to record call status",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}

// HandleGetConversation godoc
// @Summary Get a conversation
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} ConversationResponse
// @Failure 404 {object} map[string]string "Conversation not found"
// @Router /get_conversation/{conversationId} [get]
func (h *CallHandler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationId"]

	conv, err := h.service.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
			return
		}
		logger.Base().Error("failed to load conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, ConversationResponse{Status: "success", Conversation: conv})
}

// HandleEndCall godoc
// @Summary End a live call
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} map[string]string "Call ended"
// @Failure 404 {object} map[string]string "Conversation or call not found"
// @Failure 500 {object} map[string]string "Provider failure"
// @Router /end_call/{conversationId} [post]
func (h *CallHandler) HandleEndCall(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationId"]

	err := h.service.EndCall(r.Context(), conversationID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "call_ended"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
	default:
		logger.Base().Error("failed to end call", zap.String("conversation_id", conversationID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to end call"})
	}
}
