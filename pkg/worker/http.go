package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/anomaly"
	"github.com/apployd/engine/pkg/clock"
	"github.com/apployd/engine/pkg/coordination"
	"github.com/apployd/engine/pkg/metrics"
	"github.com/apployd/engine/pkg/storage"
)

// NewHTTPHandler builds the worker process's HTTP surface: the
// Prometheus scrape endpoint, the wake-path receiver nginx's
// @error_fallback block proxies to on a 502/503/504 (§4.E's WakePath,
// §6's EDGE_WAKE_*), and an on-demand anomaly query. Grounded on
// wisbric-nightowl's internal/httpserver/server.go chi+cors+Recoverer
// shape; the wake route authenticates itself via wakeToken instead of
// the teacher's JWT/tenant middleware chain, since there is no tenant
// concept here.
func NewHTTPHandler(store *storage.Store, coordinator *coordination.Store, wakeToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/internal/wake/{projectId}", handleWakeRequest(store, coordinator, wakeToken))
	r.Get("/internal/anomaly", handleAnomalyDetect(store))

	return r
}

// handleAnomalyDetect exposes component P on demand: ?projectIds=a,b&windowMinutes=5&baselineMinutes=120.
func handleAnomalyDetect(store *storage.Store) http.HandlerFunc {
	detector := anomaly.New(store, clock.Real)

	return func(w http.ResponseWriter, r *http.Request) {
		idsParam := r.URL.Query().Get("projectIds")
		if idsParam == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		reports, err := detector.Detect(r.Context(), anomaly.Request{
			ProjectIDs:      strings.Split(idsParam, ","),
			WindowMinutes:   atoiOrZero(r.URL.Query().Get("windowMinutes")),
			BaselineMinutes: atoiOrZero(r.URL.Query().Get("baselineMinutes")),
		})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reports)
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func handleWakeRequest(store *storage.Store, coordinator *coordination.Store, wakeToken string) http.HandlerFunc {
	logger := log.WithComponent("worker-http")

	return func(w http.ResponseWriter, r *http.Request) {
		if wakeToken != "" && r.Header.Get("X-Wake-Token") != wakeToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		projectID := chi.URLParam(r, "projectId")
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		container, err := store.GetActiveContainerForProject(ctx, projectID)
		if err != nil {
			logger.Warn().Err(err).Str("project_id", projectID).Msg("wake request for project with no active container")
			w.WriteHeader(http.StatusNotFound)
			return
		}

		payload, err := json.Marshal(ActionPayload{
			Action:      "wake",
			ContainerID: container.ID,
			RuntimeID:   container.DockerContainerID,
		})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if err := coordinator.EnqueueContainerAction(ctx, payload); err != nil {
			logger.Error().Err(err).Str("project_id", projectID).Msg("failed to enqueue wake action")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}
