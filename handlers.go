package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/tilemap/tiling"
	"go.uber.org/zap"
)

// resultReader is the read side of the prediction store
type resultReader interface {
	Get(ctx context.Context, index int) (*tiling.Result, error)
	List(ctx context.Context) ([]*tiling.Result, error)
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store resultReader, classes []tiling.ClassMeta, progress *tiling.ProgressTracker, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string                   `json:"status"`
			Timestamp time.Time                `json:"timestamp"`
			Progress  *tiling.ProgressSnapshot `json:"progress,omitempty"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
		}
		if progress != nil {
			snap := progress.Snapshot()
			status.Progress = &snap
		}
		writeJSON(w, logger, http.StatusOK, status)
	})

	mux.HandleFunc("GET /api/classes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, classes)
	})

	mux.HandleFunc("GET /api/images", func(w http.ResponseWriter, r *http.Request) {
		results, err := store.List(r.Context())
		if err != nil {
			logger.Error("listing results", zap.Error(err))
			http.Error(w, "failed to list results", http.StatusInternalServerError)
			return
		}
		if results == nil {
			results = []*tiling.Result{}
		}
		writeJSON(w, logger, http.StatusOK, results)
	})

	mux.HandleFunc("GET /api/images/{index}", func(w http.ResponseWriter, r *http.Request) {
		res, ok := lookupResult(w, r, store, logger)
		if !ok {
			return
		}
		writeJSON(w, logger, http.StatusOK, res)
	})

	mux.HandleFunc("GET /api/images/{index}/regions.geojson", func(w http.ResponseWriter, r *http.Request) {
		res, ok := lookupResult(w, r, store, logger)
		if !ok {
			return
		}
		fc := tiling.RegionsGeoJSON(res.Grid, res.Tile, classes)
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		data, err := fc.MarshalJSON()
		if err != nil {
			logger.Error("encoding regions", zap.Int("index", res.Index), zap.Error(err))
			http.Error(w, "failed to encode regions", http.StatusInternalServerError)
			return
		}
		if _, err := w.Write(data); err != nil {
			logger.Debug("writing response", zap.Error(err))
		}
	})

	return logRequests(mux, logger)
}

// lookupResult resolves the {index} path value. It writes the error response
// itself and reports whether the caller should continue.
func lookupResult(w http.ResponseWriter, r *http.Request, store resultReader, logger *zap.Logger) (*tiling.Result, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		http.Error(w, "invalid image index", http.StatusBadRequest)
		return nil, false
	}
	res, err := store.Get(r.Context(), index)
	if errors.Is(err, tiling.ErrNotFound) {
		http.Error(w, "image not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logger.Error("loading result", zap.Int("index", index), zap.Error(err))
		http.Error(w, "failed to load result", http.StatusInternalServerError)
		return nil, false
	}
	return res, true
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
