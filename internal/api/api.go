// Package api is the worker's thin read-only HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/you/slicerd/internal/queue"
	"github.com/you/slicerd/internal/stats"
)

// QueueStats reports queue depths and in-flight work.
type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Counters reports the in-memory outcome counters.
type Counters interface {
	Snapshot() stats.Snapshot
}

func Router(q QueueStats, c Counters, log *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Get("/info", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(time.Now().UTC().Format(time.RFC3339)))
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		qs, err := q.Stats(req.Context())
		if err != nil {
			log.Error("queue stats failed", zap.Error(err))
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		payload := struct {
			stats.Snapshot
			queue.Stats
		}{c.Snapshot(), qs}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Error("encode stats", zap.Error(err))
		}
	})

	return r
}
