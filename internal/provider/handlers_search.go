package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

const maxQueryLen = 200

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	if len(q) > maxQueryLen {
		writeError(w, http.StatusBadRequest, "q is too long")
		return
	}

	res, err := s.resolver.Search(r.Context(), q)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithFields(log.Fields{"query": q, "error": err}).Warn("search failed")
		writeError(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
