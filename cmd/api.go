package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/evaluate"
	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/monitor"
	"github.com/geowatch/geowatch/internal/store"
)

// newAPIHandler builds the read-only HTTP API. statsFn is nil when no
// worker pool runs in this process.
func newAPIHandler(st store.Store, statsFn func() monitor.Stats) http.Handler {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"uptime_secs": int64(time.Since(started).Seconds()),
		}
		if statsFn != nil {
			resp["pool"] = statsFn()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/zones", func(w http.ResponseWriter, r *http.Request) {
		filter := store.ZoneFilter{
			Status:  model.ZoneStatus(r.URL.Query().Get("status")),
			OwnerID: r.URL.Query().Get("owner_id"),
		}
		zones, err := st.ListZones(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list zones failed")
			return
		}
		if zones == nil {
			zones = []model.Zone{}
		}
		writeJSON(w, http.StatusOK, zones)
	})

	r.Get("/zones/{id}", func(w http.ResponseWriter, r *http.Request) {
		zone, err := st.GetZone(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, store.ErrZoneNotFound) {
				writeError(w, http.StatusNotFound, "zone not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "get zone failed")
			return
		}
		writeJSON(w, http.StatusOK, zone)
	})

	r.Get("/zones/{id}/changes", func(w http.ResponseWriter, r *http.Request) {
		recs, err := st.ListChangesByZone(r.Context(), chi.URLParam(r, "id"), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list changes failed")
			return
		}
		if recs == nil {
			recs = []model.ChangeRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	r.Get("/zones/{id}/ndvi", func(w http.ResponseWriter, r *http.Request) {
		points, err := st.ListNDVISeries(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list ndvi failed")
			return
		}

		trend := evaluate.Trend(points)
		resp := map[string]any{
			"points":            points,
			"trend":             trend.Trend,
			"trend_description": trend.Description,
		}
		if stats, ok := evaluate.Summarize(points); ok {
			resp["statistics"] = map[string]float64{
				"min":     stats.Min,
				"max":     stats.Max,
				"mean":    stats.Mean,
				"current": stats.Current,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encoding response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
