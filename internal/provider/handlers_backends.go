package provider

import (
	"net/http"

	"stream-resolver-service/internal/mirror"

	"github.com/samber/lo"
)

// HandleBackends lists the mirror pool in the order the next race will use.
func (s *Server) HandleBackends(w http.ResponseWriter, r *http.Request) {
	scores := s.resolver.Scores()
	writeJSON(w, http.StatusOK, BackendsResponse{
		Backends: lo.Map(s.resolver.Backends(), func(b mirror.Backend, _ int) BackendStatus {
			return BackendStatus{BaseURL: b.BaseURL, Score: scores.Score(b)}
		}),
	})
}
