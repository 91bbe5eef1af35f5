package api

import (
	"log/slog"
	"net/http"
	"time"

	"trailguard/pkg/db"
	"trailguard/pkg/logging"
)

// NewServer creates and configures the HTTP server.
func NewServer(addr string, database *db.DB, tel *TelemetryHandler, tourists *TouristHandler, alerts *AlertHandler, ai *AIHandler, zonesH *ZoneHandler, ws *WSHandler) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoints
	health := healthHandler(database)
	mux.HandleFunc("GET /{$}", health)
	mux.HandleFunc("GET /health", health)

	// 2. Tourist Endpoints
	mux.HandleFunc("POST /registerTourist", tourists.HandleRegister)
	mux.HandleFunc("GET /tourists", tourists.HandleList)
	mux.HandleFunc("GET /tourists/{id}", tourists.HandleGet)
	mux.HandleFunc("DELETE /tourists/{id}", tourists.HandleDeactivate)

	// 3. Telemetry Endpoints
	mux.HandleFunc("POST /sendLocation", tel.HandleSendLocation)
	mux.HandleFunc("POST /pressSOS", tel.HandlePressSOS)

	// 4. Alert Endpoints
	mux.HandleFunc("GET /getAlerts", alerts.HandleGetAlerts)
	mux.HandleFunc("POST /fileEFIR", alerts.HandleFileEFIR)
	mux.HandleFunc("PUT /resolveAlert/{id}", alerts.HandleResolve)
	mux.HandleFunc("PUT /acknowledgeAlert/{id}", alerts.HandleAcknowledge)

	// 5. AI Endpoints
	mux.HandleFunc("GET /ai/training/status", ai.HandleTrainingStatus)
	mux.HandleFunc("POST /ai/training/force", ai.HandleTrainingForce)
	mux.HandleFunc("GET /ai/data/stats", ai.HandleDataStats)
	mux.HandleFunc("GET /ai/data/heatmap", ai.HandleHeatmap)

	// 6. Zone Endpoints
	mux.HandleFunc("POST /zones/restricted", zonesH.HandleCreateRestricted)
	mux.HandleFunc("POST /zones/safe", zonesH.HandleCreateSafe)
	mux.HandleFunc("GET /zones", zonesH.HandleList)

	// 7. Live Alert Feed
	mux.HandleFunc("GET /ws/alerts", ws.HandleAlerts)

	return &http.Server{
		Addr:         addr,
		Handler:      requestLog(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// healthHandler reports liveness plus store reachability.
func healthHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"store":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLog writes one line per request to the requests logger.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket endpoint hijacks the connection; wrapping the
		// writer would break the upgrade.
		if r.URL.Path == "/ws/alerts" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger := logging.RequestLogger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond).String(),
			"remote", r.RemoteAddr,
		)
	})
}
