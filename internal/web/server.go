package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kinetic-fi/rhm/internal/engine"
	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/state"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes read-only HTTP endpoints over the engine and the
// persisted poke and vault history.
type WebServer struct {
	router *mux.Router
	port   string
	engine *engine.Engine
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, eng *engine.Engine) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		engine: eng,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Prometheus metrics
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{id}", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{id}/fee/preview", ws.handlePreviewFee).Methods("GET")
	api.HandleFunc("/pools/{id}/fee/history", ws.handleGetFeeHistory).Methods("GET")
	api.HandleFunc("/pools/{id}/vaults", ws.handleGetVaults).Methods("GET")
	api.HandleFunc("/pools/{id}/vaults/history", ws.handleGetVaultHistory).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	if !dbHealthy {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "rhm-fee-controller",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"paused":           ws.engine.Paused(),
			"pool_count":       len(ws.engine.PoolIDs()),
		},
	}

	statusCode := http.StatusOK
	if !dbHealthy {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetPools returns the status of every initialized pool
func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	ids := ws.engine.PoolIDs()
	pools := make([]engine.PoolStatus, 0, len(ids))
	for _, id := range ids {
		status, err := ws.engine.PoolStatus(id)
		if err != nil {
			webLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Failed to get pool status")
			continue
		}
		pools = append(pools, status)
	}

	response := map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPool returns the status of a specific pool
func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromRequest(w, r)
	if !ok {
		return
	}

	status, err := ws.engine.PoolStatus(id)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Pool not found")
		return
	}

	response := map[string]interface{}{
		"status":               status,
		"current_fee_fraction": utils.PipsToDec(status.FeeState.CurrentFee).String(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handlePreviewFee returns the fee update the controller would make for a
// given flow ratio, without mutating any state.
func (ws *WebServer) handlePreviewFee(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromRequest(w, r)
	if !ok {
		return
	}

	ratioStr := r.URL.Query().Get("ratio")
	if ratioStr == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Missing required query parameter: ratio")
		return
	}

	ratio, err := sdkmath.LegacyNewDecFromStr(ratioStr)
	if err != nil || ratio.IsNegative() {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid ratio")
		return
	}

	update, err := ws.engine.ComputeFeeUpdate(id, ratio)
	if err != nil {
		webLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Failed to compute fee preview")
		ws.writeErrorResponse(w, http.StatusNotFound, "Pool not found")
		return
	}

	response := map[string]interface{}{
		"pool_id": id,
		"ratio":   ratio,
		"update":  update,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetFeeHistory returns persisted poke outcomes for a pool
func (ws *WebServer) handleGetFeeHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromRequest(w, r)
	if !ok {
		return
	}

	limit := ws.limitFromRequest(r)

	records, err := state.GetFeeHistory(id, limit)
	if err != nil {
		webLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Failed to get fee history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve fee history")
		return
	}

	response := map[string]interface{}{
		"pool_id": id,
		"records": records,
		"count":   len(records),
		"limit":   limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaults returns the live vault wrapper status for a pool
func (ws *WebServer) handleGetVaults(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromRequest(w, r)
	if !ok {
		return
	}

	vaults, err := ws.engine.VaultStatuses(id)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Pool not found")
		return
	}

	feeFractions := make([]string, 0, len(vaults))
	for _, v := range vaults {
		feeFractions = append(feeFractions, utils.BpsToDec(v.State.FeeRateBps).String())
	}

	response := map[string]interface{}{
		"pool_id":            id,
		"vaults":             vaults,
		"fee_rate_fractions": feeFractions,
		"count":              len(vaults),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultHistory returns persisted vault snapshots for a pool
func (ws *WebServer) handleGetVaultHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromRequest(w, r)
	if !ok {
		return
	}

	limit := ws.limitFromRequest(r)

	snapshots, err := state.GetVaultHistory(id, limit)
	if err != nil {
		webLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Failed to get vault history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault history")
		return
	}

	response := map[string]interface{}{
		"pool_id":   id,
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// poolIDFromRequest parses the {id} path variable, writing a 400 on failure.
func (ws *WebServer) poolIDFromRequest(w http.ResponseWriter, r *http.Request) (types.PoolID, bool) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid pool ID")
		return 0, false
	}

	return types.PoolID(id), true
}

// limitFromRequest parses the optional limit query parameter.
func (ws *WebServer) limitFromRequest(r *http.Request) int {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture the status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
