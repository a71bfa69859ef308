package provider

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func videoIDParam(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("video_id"))
	return id, videoIDPattern.MatchString(id)
}

// HandleStreamURL redirects the player to the best playable URL.
func (s *Server) HandleStreamURL(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video_id")
		return
	}

	c, err := s.resolver.ResolveStream(r.Context(), id)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithFields(log.Fields{"video_id": id, "error": err}).Warn("stream resolution failed")
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	log.WithFields(log.Fields{"video_id": id, "tier": c.Tier, "source": c.Source}).Info("stream resolved")
	http.Redirect(w, r, c.URL, http.StatusTemporaryRedirect)
}
