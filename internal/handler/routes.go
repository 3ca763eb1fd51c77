package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ClareAI/astra-callbot-service/internal/observability"
	"github.com/ClareAI/astra-callbot-service/internal/services/call"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	service *call.Service
	metrics *observability.Metrics
}

// NewHandlerManager creates a handler manager around the call service
func NewHandlerManager(service *call.Service, metrics *observability.Metrics) *HandlerManager {
	return &HandlerManager{
		service: service,
		metrics: metrics,
	}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	// Apply global middleware, outermost first
	router.Use(RecoveryMiddleware)
	router.Use(CORSMiddleware)
	router.Use(GlobalLoggingMiddleware(hm.metrics))

	hm.SetupCallRoutes(router)
	hm.SetupHealthRoutes(router)

	// Preflight for every path
	router.PathPrefix("/").HandlerFunc(handleCORS).Methods(http.MethodOptions)

	logger.Base().Info("all application routes registered")
}

// SetupCallRoutes sets up the call control API and the Twilio webhooks
func (hm *HandlerManager) SetupCallRoutes(router *mux.Router) {
	callHandler := NewCallHandler(hm.service)
	callHandler.SetupCallRoutes(router)

	logger.Base().Info("call routes registered")
}

// SetupHealthRoutes sets up liveness and metrics endpoints
func (hm *HandlerManager) SetupHealthRoutes(router *mux.Router) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if hm.metrics != nil {
		router.Handle("/metrics", hm.metrics.Handler()).Methods(http.MethodGet)
	}

	logger.Base().Info("health routes registered")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Warn("failed to encode response", zap.Error(err))
	}
}
