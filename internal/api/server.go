// Package api exposes the read surface: REST endpoints for hotlist,
// leaderboards, config, and health, a webhook for CEX listing events, and a
// WebSocket feed for live updates.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DelaneKay/memeradar/internal/config"
	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/orchestrator"
	"github.com/DelaneKay/memeradar/internal/telemetry"
)

// Server hosts the HTTP and WebSocket surface.
type Server struct {
	orch    *orchestrator.Orchestrator
	metrics *telemetry.Metrics
	hub     *Hub
	logger  zerolog.Logger
	srv     *http.Server
}

// NewServer builds the server and its routes.
func NewServer(orch *orchestrator.Orchestrator, metrics *telemetry.Metrics, listen string) *Server {
	s := &Server{
		orch:    orch,
		metrics: metrics,
		hub:     NewHub(orch, metrics),
		logger:  log.With().Str("component", "api").Logger(),
	}

	r := mux.NewRouter()
	r.Use(s.radarOnlyMiddleware)
	r.Use(s.requestLogMiddleware)

	r.HandleFunc("/api/hotlist", s.handleHotlist).Methods(http.MethodGet)
	r.HandleFunc("/api/leaderboards", s.handleLeaderboards).Methods(http.MethodGet)
	r.HandleFunc("/api/leaderboards/{category}", s.handleLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/webhooks/cex-listing", s.handleListingWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/config", s.handleAdminConfig).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.hub.HandleWS)
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	s.srv = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a 10s grace period.
func (s *Server) Run(ctx context.Context) error {
	s.hub.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// radarOnlyPaths is the allow-list enforced when the radar_only feature is
// set: read endpoints, the listing webhook, the live feed, and metrics.
var radarOnlyPaths = map[string]bool{
	"/api/hotlist":              true,
	"/api/leaderboards":         true,
	"/api/config":               true,
	"/api/health":               true,
	"/api/webhooks/cex-listing": true,
	"/api/admin/config":         true,
	"/ws":                       true,
	"/metrics":                  true,
}

func (s *Server) radarOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.orch.ConfigSnapshot().Features.RadarOnly {
			next.ServeHTTP(w, r)
			return
		}
		path := r.URL.Path
		if radarOnlyPaths[path] || strings.HasPrefix(path, "/api/leaderboards/") {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusForbidden, "endpoint disabled in radar-only mode")
	})
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).Msg("request")
	})
}

func (s *Server) handleHotlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens":    s.orch.Hotlist(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleLeaderboards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboards": s.orch.Leaderboards(),
		"timestamp":    time.Now().UnixMilli(),
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	cat := models.Category(mux.Vars(r)["category"])
	list, ok := s.orch.Leaderboard(cat)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown category %q", cat))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"category":  cat,
		"tokens":    list,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ConfigSnapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Health()
	status := http.StatusOK
	if snap.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

// handleListingWebhook accepts external CEX listing events and feeds them
// into the pipeline alongside sentinel-sourced ones.
func (s *Server) handleListingWebhook(w http.ResponseWriter, r *http.Request) {
	var ev models.CEXListingEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Exchange == "" || ev.Token.Symbol == "" {
		writeError(w, http.StatusBadRequest, "exchange and token.symbol are required")
		return
	}
	ev.Source = "cex_listing"
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	if ev.Confirmation == "" {
		if ev.Token.Address != "" {
			ev.Confirmation = models.ConfirmationAddress
		} else {
			ev.Confirmation = models.ConfirmationSymbolOnly
		}
	}
	s.orch.HandleListing(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// adminConfigRequest carries the runtime-tunable subset of the config.
// Absent fields keep their current values.
type adminConfigRequest struct {
	Thresholds *struct {
		MinLiqAlert   *float64 `json:"minLiqAlert"`
		MinLiqList    *float64 `json:"minLiqList"`
		MaxTax        *float64 `json:"maxTax"`
		MaxAgeHours   *float64 `json:"maxAgeHours"`
		ScoreAlert    *float64 `json:"scoreAlert"`
		Surge15Min    *float64 `json:"surge15Min"`
		Imbalance5Min *float64 `json:"imbalance5Min"`
	} `json:"thresholds"`
	AlertsPerHour *int     `json:"alertsPerHour"`
	Chains        []string `json:"chains"`
	LogLevel      *string  `json:"logLevel"`
}

func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	var req adminConfigRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var chains []models.ChainID
	for _, c := range req.Chains {
		parsed, err := models.ParseChain(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		chains = append(chains, parsed)
	}

	updated := s.orch.UpdateConfig(func(next *config.Config) {
		if t := req.Thresholds; t != nil {
			applyFloat(t.MinLiqAlert, &next.Thresholds.MinLiqAlert)
			applyFloat(t.MinLiqList, &next.Thresholds.MinLiqList)
			applyFloat(t.MaxTax, &next.Thresholds.MaxTax)
			applyFloat(t.MaxAgeHours, &next.Thresholds.MaxAgeHours)
			applyFloat(t.ScoreAlert, &next.Thresholds.ScoreAlert)
			applyFloat(t.Surge15Min, &next.Thresholds.Surge15Min)
			applyFloat(t.Imbalance5Min, &next.Thresholds.Imbalance5Min)
		}
		if req.AlertsPerHour != nil {
			next.AlertsPerHour = *req.AlertsPerHour
		}
		if len(chains) > 0 {
			next.Chains = chains
		}
		if req.LogLevel != nil {
			next.LogLevel = *req.LogLevel
		}
	})
	writeJSON(w, http.StatusOK, updated)
}

func applyFloat(src *float64, dst *float64) {
	if src != nil {
		*dst = *src
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
