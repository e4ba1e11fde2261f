package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"goflare.io/surge/internal/breaker"
)

func resourceKey(name, rawQuery string) string {
	if rawQuery == "" {
		return "resource:" + name
	}
	return "resource:" + name + "?" + rawQuery
}

func (s *Server) resource(w http.ResponseWriter, r *http.Request) (Resource, string, bool) {
	name := r.PathValue("name")
	res, ok := s.deps.Resources[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown resource")
		return Resource{}, "", false
	}
	// Encode 按鍵排序，等價的查詢共用同一項目
	return res, resourceKey(name, r.URL.Query().Encode()), true
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, key, ok := s.resource(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	result, err := res.Guard.Load(r.Context(), key, res.FreshTTL, func(ctx context.Context) (any, error) {
		return res.Fetch(ctx, query)
	}, nil)
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			s.logger.Warn("Shedding read while circuit is open", zap.String("key", key))
			writeOverloaded(w)
			return
		}
		s.logger.Error("Failed to load resource", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Upstream request failed")
		return
	}

	w.Header().Set("X-Cache-Status", result.CacheStatus())
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
		int(res.FreshTTL.Seconds()), int(res.StaleWindow.Seconds())))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInvalidateResource(w http.ResponseWriter, r *http.Request) {
	res, key, ok := s.resource(w, r)
	if !ok {
		return
	}
	if err := res.Guard.Invalidate(r.Context(), key); err != nil {
		s.logger.Error("Failed to invalidate resource", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to invalidate")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
