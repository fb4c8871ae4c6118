package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gptbridge/middleware"
	"gptbridge/models"
	"gptbridge/services"
	"gptbridge/usecases"
)

type StatusHandler struct {
	bridgeUseCase usecases.BridgeUseCaseInterface
	usageService  services.UsageService
}

func NewStatusHandler(
	bridgeUseCase usecases.BridgeUseCaseInterface,
	usageService services.UsageService,
) *StatusHandler {
	return &StatusHandler{
		bridgeUseCase: bridgeUseCase,
		usageService:  usageService,
	}
}

type StatusResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Events        models.BridgeStats  `json:"events"`
	Usage         *models.UsageTotals `json:"usage"`
}

func (h *StatusHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 Status request received from %s", r.RemoteAddr)

	stats := h.bridgeUseCase.Stats()

	usage, err := h.usageService.GetUsageTotals(r.Context())
	if err != nil {
		log.Printf("❌ Failed to get usage totals: %v", err)
		http.Error(w, "failed to get usage totals", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(stats.StartedAt).Seconds()),
		Events:        stats,
		Usage:         usage,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

func (h *StatusHandler) SetupEndpoints(router *mux.Router, authMiddleware *middleware.TokenAuthMiddleware) {
	log.Printf("🚀 Registering status endpoints")

	router.HandleFunc("/status", authMiddleware.WithAuth(h.HandleGetStatus)).Methods("GET")
	log.Printf("✅ GET /status endpoint registered")
}

func (h *StatusHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
