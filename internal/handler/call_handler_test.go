package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-callbot-service/internal/core/event"
	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/internal/observability"
	"github.com/ClareAI/astra-callbot-service/internal/prompts"
	"github.com/ClareAI/astra-callbot-service/internal/services/call"
	"github.com/ClareAI/astra-callbot-service/internal/store"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/ClareAI/astra-callbot-service/pkg/twilio"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubTelephony struct {
	mu          sync.Mutex
	placeErr    error
	completeErr error
	completed   []string
}

func (s *stubTelephony) PlaceCall(ctx context.Context, c twilio.OutboundCall) (string, error) {
	if s.placeErr != nil {
		return "", s.placeErr
	}
	return "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")[:32], nil
}

func (s *stubTelephony) CompleteCall(ctx context.Context, callSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, callSID)
	return s.completeErr
}

type stubCompleter struct{}

func (stubCompleter) Complete(ctx context.Context, prompt string) string {
	if strings.Contains(prompt, "create the greeting") {
		return "Hi, this is Otto calling about a billing error."
	}
	return "Could you tell me when the refund will arrive?"
}

type testServer struct {
	router    *mux.Router
	store     *store.MemoryStore
	telephony *stubTelephony
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conversations := store.NewMemoryStore()
	telephony := &stubTelephony{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	bus := event.NewEventBus()
	t.Cleanup(func() { _ = bus.Close() })

	service := call.NewService(call.Config{
		PublicBaseURL:      "https://callbot.example.test",
		RingTimeoutSeconds: 30,
		MaxNoInputPrompts:  3,
		Persona:            prompts.Persona{AssistantName: "Otto", PrincipalName: "the customer"},
		Speech: twilio.SpeechOptions{
			Voice:         "alice",
			Language:      "en-US",
			SpeechModel:   "experimental_conversations",
			GatherTimeout: 3,
			SpeechTimeout: 2,
			ListenPrompt:  call.ListenPrompt,
			NoInputText:   call.NoInputGoodbye,
		},
	}, conversations, telephony, stubCompleter{}, bus, metrics)

	router := mux.NewRouter()
	NewHandlerManager(service, metrics).SetupAllRoutes(router)
	return &testServer{router: router, store: conversations, telephony: telephony}
}

func (s *testServer) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) initiate(t *testing.T) string {
	t.Helper()
	rec := s.do(http.MethodPost, "/initiate_call", url.Values{
		"user_number":             {"+15551112222"},
		"customer_service_number": {"+15553334444"},
		"issue_description":       {"billing error"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp InitiateCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ConversationID
}

func (s *testServer) conversation(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	rec := s.do(http.MethodGet, "/get_conversation/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	return resp.Conversation
}

func TestInitiateCallScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/initiate_call", url.Values{
		"user_number":             {"+15551112222"},
		"customer_service_number": {"+15553334444"},
		"issue_description":       {"billing error"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp InitiateCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "call_initiated", resp.Status)
	assert.NotEmpty(t, resp.CallSID)
	_, err := uuid.Parse(resp.ConversationID)
	require.NoError(t, err)

	conv := s.conversation(t, resp.ConversationID)
	assert.Equal(t, domain.CallStatusInitiated, conv.Context.Status)
	assert.Equal(t, resp.CallSID, conv.Context.ExternalCallID)
	assert.Equal(t, "billing error", conv.Context.IssueDescription)
}

func TestInitiateCallMissingFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/initiate_call", url.Values{
		"user_number": {"+15551112222"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "customer_service_number")
	assert.Contains(t, body["error"], "issue_description")
	assert.Equal(t, 0, s.store.Len())
}

func TestInitiateCallProviderFailure(t *testing.T) {
	s := newTestServer(t)
	s.telephony.placeErr = errors.New("authentication failed")

	rec := s.do(http.MethodPost, "/initiate_call", url.Values{
		"user_number":             {"+15551112222"},
		"customer_service_number": {"+15553334444"},
		"issue_description":       {"billing error"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Failed to initiate call", body["error"])
	assert.NotContains(t, rec.Body.String(), "authentication failed")

	conv := s.conversation(t, body["conversation_id"])
	assert.Equal(t, domain.CallStatusInitiating, conv.Context.Status)
}

func TestVoiceCallbackScenario(t *testing.T) {
	s := newTestServer(t)
	id := s.initiate(t)

	rec := s.do(http.MethodPost, "/voice/"+id, url.Values{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Say")
	assert.Contains(t, rec.Body.String(), "<Gather")
	assert.Contains(t, rec.Body.String(), "Hi, this is Otto calling about a billing error.")

	conv := s.conversation(t, id)
	require.Len(t, conv.History, 1)
	assert.Equal(t, domain.RoleAssistant, conv.History[0].Role)

	rec = s.do(http.MethodPost, "/voice/"+id, url.Values{"SpeechResult": {"We can't process that refund"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could you tell me when the refund will arrive?")

	conv = s.conversation(t, id)
	require.Len(t, conv.History, 3)
	assert.Equal(t, domain.Turn{Role: domain.RoleServiceRep, Content: "We can't process that refund"}, conv.History[1])
	assert.Equal(t, domain.RoleAssistant, conv.History[2].Role)
}

func TestVoiceCallbackUnknownConversation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/voice/"+uuid.NewString(), url.Values{"SpeechResult": {"hello"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), call.UnknownConversationReply)
	assert.Contains(t, rec.Body.String(), "<Hangup")
	assert.Equal(t, 0, s.store.Len())
}

func TestCallStatusAlwaysOK(t *testing.T) {
	s := newTestServer(t)
	id := s.initiate(t)

	rec := s.do(http.MethodPost, "/call_status/"+id, url.Values{"CallStatus": {"completed"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CallStatusCompleted, s.conversation(t, id).Context.Status)

	rec = s.do(http.MethodPost, "/call_status/unknown-id", url.Values{"CallStatus": {"completed"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/call_status/"+id, url.Values{})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/get_conversation/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"not_found"}`, rec.Body.String())
}

func TestEndCall(t *testing.T) {
	s := newTestServer(t)
	id := s.initiate(t)

	rec := s.do(http.MethodPost, "/end_call/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"call_ended"}`, rec.Body.String())
	assert.Equal(t, domain.CallStatusEnded, s.conversation(t, id).Context.Status)

	rec = s.do(http.MethodPost, "/end_call/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"not_found"}`, rec.Body.String())
}

func TestEndCallWithoutCallSID(t *testing.T) {
	s := newTestServer(t)
	id := uuid.NewString()
	require.NoError(t, s.store.Create(context.Background(), domain.NewConversation(id, domain.CallContext{
		UserNumber: "+1", TargetNumber: "+2", IssueDescription: "refund",
	}, time.Now())))

	rec := s.do(http.MethodPost, "/end_call/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CallStatusInitiating, s.conversation(t, id).Context.Status)
}

func TestEndCallProviderFailure(t *testing.T) {
	s := newTestServer(t)
	id := s.initiate(t)
	s.telephony.completeErr = errors.New("twilio unavailable")

	rec := s.do(http.MethodPost, "/end_call/"+id, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to end call"}`, rec.Body.String())
	assert.Equal(t, domain.CallStatusInitiated, s.conversation(t, id).Context.Status)
}

func TestHealthMetricsAndPreflight(t *testing.T) {
	s := newTestServer(t)
	s.initiate(t)

	rec := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "callbot_calls_total")
	assert.Contains(t, rec.Body.String(), `route="/initiate_call"`)

	rec = s.do(http.MethodOptions, "/voice/abc", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddlewareHidesPanicCause(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	restore := logger.SetForTest(zap.New(core))
	defer restore()

	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret database password leaked")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic while handling request").Len())
}
