package mirror

import (
	"strings"

	"github.com/samber/lo"
)

// Role labels what a backend is being asked to do. The same pool serves both.
type Role string

const (
	RoleSearch Role = "search"
	RoleStream Role = "stream"
)

// Backend is one mirror instance, identified by its base URL.
type Backend struct {
	BaseURL string `json:"baseUrl"`
}

// endpoint joins the base URL with an absolute API path.
func (b Backend) endpoint(path string) string {
	return strings.TrimRight(b.BaseURL, "/") + path
}

// Registry is the fixed, deduplicated pool of mirrors configured at startup.
type Registry struct {
	backends []Backend
}

// NewRegistry drops blank entries and exact duplicates, keeping first-seen order.
func NewRegistry(urls []string) *Registry {
	trimmed := lo.FilterMap(urls, func(u string, _ int) (string, bool) {
		u = strings.TrimSpace(u)
		return u, u != ""
	})
	uniq := lo.Uniq(trimmed)

	return &Registry{
		backends: lo.Map(uniq, func(u string, _ int) Backend {
			return Backend{BaseURL: u}
		}),
	}
}

// All returns the pool in insertion order.
func (r *Registry) All() []Backend {
	out := make([]Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

func (r *Registry) Len() int {
	return len(r.backends)
}
