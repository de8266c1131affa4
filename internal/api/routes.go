// Package api provides the HTTP and WebSocket bridge for the heatmap server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/atlasmap-sc/heatmap/internal/cluster"
	"github.com/atlasmap-sc/heatmap/internal/data/dataset"
	"github.com/atlasmap-sc/heatmap/internal/metrics"
	"github.com/atlasmap-sc/heatmap/internal/queue"
	"github.com/atlasmap-sc/heatmap/internal/render"
	"github.com/atlasmap-sc/heatmap/internal/selection"
	"github.com/atlasmap-sc/heatmap/internal/service"
	"github.com/atlasmap-sc/heatmap/internal/session"
	"github.com/atlasmap-sc/heatmap/pkg/colormap"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service         *service.HeatmapService
	Queue           *queue.Queue
	Hub             *Hub
	Metrics         *metrics.Metrics
	CORSOrigins     []string
	Limiter         *rate.Limiter // shared with the hub; nil disables limiting
	MaxPayloadBytes int64
}

// NewIngestLimiter allows perSecond payloads with the given burst. A rate of
// zero or less never limits.
func NewIngestLimiter(perSecond float64, burst int) *rate.Limiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeHTTP)
	}

	ctrl := cfg.Service.Session()

	r.Route("/api", func(r chi.Router) {
		r.Post("/data", ingestHandler(cfg))
		r.Get("/queue", queueHandler(cfg.Queue))
		r.Get("/stats", statsHandler(cfg))
		r.Get("/colormaps", colormapsHandler(cfg.Service))

		r.Get("/state", stateHandler(cfg.Service))
		r.Get("/heatmap.png", heatmapPNGHandler(cfg.Service))
		r.Get("/heatmap.csv", heatmapCSVHandler(cfg.Service))

		r.Put("/selection", setSelectionHandler(ctrl))
		r.Post("/selection/move", moveSelectionHandler(ctrl))
		r.Post("/selection/merge", mergeHandler(ctrl))
		r.Post("/columns/{index}/toggle", toggleColumnHandler(ctrl))
		r.Put("/columns/{index}/name", renameHandler(ctrl))

		r.Put("/markers", initMarkersHandler(ctrl))
		r.Post("/markers/{index}/toggle", toggleMarkerHandler(ctrl))
		r.Post("/sort", sortHandler(ctrl))
		r.Put("/dendrogram", dendrogramHandler(ctrl))

		r.Put("/bounds", boundsHandler(ctrl))
		r.Delete("/bounds", resetBoundsHandler(ctrl))
		r.Put("/highlight", highlightHandler(ctrl))
		r.Put("/view", viewHandler(ctrl))

		r.Get("/available", availableHandler(ctrl))
		r.Post("/available", addAvailableHandler(ctrl))
		r.Post("/available/select", selectAvailableHandler(ctrl))
	})

	return r
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoDataset):
		status = http.StatusConflict
	case errors.Is(err, selection.ErrOutOfRange),
		errors.Is(err, dataset.ErrInvalidInput),
		errors.Is(err, cluster.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return 0, false
	}
	return i, true
}

func ingestHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Limiter != nil && !cfg.Limiter.Allow() {
			cfg.Metrics.QueueEvent("rate_limited")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many payloads", http.StatusTooManyRequests)
			return
		}

		body := r.Body
		if cfg.MaxPayloadBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, cfg.MaxPayloadBytes)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, fmt.Sprintf("payload exceeds %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read payload", http.StatusBadRequest)
			return
		}
		if len(payload) == 0 {
			http.Error(w, "empty payload", http.StatusBadRequest)
			return
		}

		cfg.Queue.Enqueue(payload)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"queued": true,
			"depth":  cfg.Queue.Depth(),
		})
	}
}

func queueHandler(q *queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"state": q.State().String(),
			"depth": q.Depth(),
			"stats": q.Stats(),
		})
	}
}

func statsHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients := 0
		if cfg.Hub != nil {
			clients = cfg.Hub.Clients()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"queue":   cfg.Queue.Stats(),
			"cache":   cfg.Service.CacheStats(),
			"clients": clients,
		})
	}
}

func colormapsHandler(svc *service.HeatmapService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"colormaps": colormap.Names(),
			"default":   svc.DefaultColormap(),
		})
	}
}

func stateHandler(svc *service.HeatmapService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, version, err := svc.State()
		if err != nil {
			writeError(w, err)
			return
		}
		etag := fmt.Sprintf(`"v%d"`, version)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", etag)
		w.Write(data)
	}
}

func heatmapPNGHandler(svc *service.HeatmapService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := render.Options{Colormap: r.URL.Query().Get("colormap")}
		if opts.Colormap != "" {
			if _, ok := colormap.ByName(opts.Colormap); !ok {
				http.Error(w, fmt.Sprintf("unknown colormap %q", opts.Colormap), http.StatusBadRequest)
				return
			}
		}
		if v := r.URL.Query().Get("discrete"); v != "" {
			discrete, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "invalid discrete", http.StatusBadRequest)
				return
			}
			opts.Discrete = discrete
		}

		data, version, err := svc.PNG(opts)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("ETag", fmt.Sprintf(`"v%d"`, version))
		w.Write(data)
	}
}

func heatmapCSVHandler(svc *service.HeatmapService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _, err := svc.CSV()
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="heatmap.csv"`)
		w.Write(data)
	}
}

type selectionRequest struct {
	Selection flagList `json:"selection"`
}

func setSelectionHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := ctrl.SetSelection(req.Selection); err != nil {
			writeError(w, err)
			return
		}
		snap := ctrl.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"version":     snap.Version,
			"selection":   snap.Selection,
			"permutation": snap.Permutation,
		})
	}
}

func toggleColumnHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, ok := indexParam(w, r)
		if !ok {
			return
		}
		additive := false
		if v := r.URL.Query().Get("additive"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "invalid additive", http.StatusBadRequest)
				return
			}
			additive = b
		}
		if err := ctrl.ToggleColumn(i, additive); err != nil {
			writeError(w, err)
			return
		}
		snap := ctrl.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"version":     snap.Version,
			"selection":   snap.Selection,
			"permutation": snap.Permutation,
		})
	}
}

func moveSelectionHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Direction string `json:"direction"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		dir, err := selection.ParseDirection(req.Direction)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := ctrl.MoveSelection(dir); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selection": ctrl.Snapshot().Selection})
	}
}

func mergeHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := ctrl.MergeSelected()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"item": item})
	}
}

func renameHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, ok := indexParam(w, r)
		if !ok {
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := ctrl.RenameItem(i, req.Name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"item": i, "name": req.Name})
	}
}

func initMarkersHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Markers flagList `json:"markers"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		applied := ctrl.InitMarkerSelection(req.Markers)
		writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
	}
}

func toggleMarkerHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := indexParam(w, r)
		if !ok {
			return
		}
		if err := ctrl.ToggleMarker(d); err != nil {
			writeError(w, err)
			return
		}
		snap := ctrl.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"version":        snap.Version,
			"markers":        snap.Markers,
			"active_markers": snap.ActiveMarkers,
			"permutation":    snap.Permutation,
		})
	}
}

func sortHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Marker int  `json:"marker"`
			Flip   bool `json:"flip"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		perm, err := ctrl.SortByMarker(req.Marker, req.Flip)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version":     ctrl.Version(),
			"permutation": perm,
		})
	}
}

func dendrogramHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := ctrl.SetDendrogram(req.Enabled); err != nil {
			writeError(w, err)
			return
		}
		snap := ctrl.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"version":     snap.Version,
			"strategy":    snap.Strategy,
			"permutation": snap.Permutation,
		})
	}
}

func boundsHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Min == nil || req.Max == nil {
			http.Error(w, "min and max are required", http.StatusBadRequest)
			return
		}
		if math.IsInf(*req.Min, 0) || math.IsInf(*req.Max, 0) {
			http.Error(w, "bounds must be finite", http.StatusBadRequest)
			return
		}
		bounds, err := ctrl.SetUserBounds(*req.Min, *req.Max)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bounds)
	}
}

func resetBoundsHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl.ResetUserBounds()
		writeJSON(w, http.StatusOK, ctrl.Snapshot().MarkerRange)
	}
}

func highlightHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Item int `json:"item"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := ctrl.SetHighlight(req.Item); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"highlight": req.Item})
	}
}

func viewHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MarkerSelectionMode *bool `json:"marker_selection_mode"`
			ShowVariation       *bool `json:"show_variation"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.MarkerSelectionMode != nil {
			if err := ctrl.SetMarkerSelectionMode(*req.MarkerSelectionMode); err != nil {
				writeError(w, err)
				return
			}
		}
		if req.ShowVariation != nil {
			ctrl.SetShowVariation(*req.ShowVariation)
		}
		snap := ctrl.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"marker_selection_mode": snap.MarkerSelectionMode,
			"show_variation":        snap.ShowVariation,
		})
	}
}

func availableHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"datasets": ctrl.AvailableDatasets()})
	}
}

func addAvailableHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		added, err := ctrl.AddAvailableDataset(req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if added {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"added":    added,
			"datasets": ctrl.AvailableDatasets(),
		})
	}
}

func selectAvailableHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		name := strings.TrimSpace(req.Name)
		if err := ctrl.SelectAvailableDataset(name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"requested": name})
	}
}
