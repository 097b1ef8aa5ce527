package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/pkg/metrics"
	"github.com/vulnsight/cverag/pkg/mid"
)

// Searcher runs one query end to end.
type Searcher interface {
	Search(ctx context.Context, q domain.Query) (*domain.RecordSet, error)
}

func newHandler(s Searcher, pm *metrics.Pipeline, corsOrigin string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleHealth)
	mux.HandleFunc("GET /search", handleSearch(s, logger))

	chain := []mid.Middleware{
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
	}
	if pm != nil {
		chain = append(chain, mid.Metrics(pm, "/", "/search"))
	}
	chain = append(chain, mid.OTel("cverag-api"), mid.CORS(corsOrigin))
	return mid.Chain(mux, chain...)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSearch(s Searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		set, err := s.Search(r.Context(), q)
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			logger.Error("search failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, set)
	}
}

// parseQuery reads q, top_k and severity. A missing top_k means the default;
// range checks are left to the service.
func parseQuery(r *http.Request) (domain.Query, error) {
	v := r.URL.Query()
	q := domain.Query{
		Text:     v.Get("q"),
		TopK:     domain.DefaultTopK,
		Severity: v.Get("severity"),
	}
	if raw := v.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, domain.NewValidationError("top_k", raw, domain.ErrTopKOutOfRange)
		}
		q.TopK = n
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
