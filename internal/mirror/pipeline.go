package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the part of Client the pipeline depends on.
type Fetcher interface {
	FetchJSON(ctx context.Context, rawURL string, params url.Values) json.RawMessage
}

// SearchResult is the winning mirror's full hit list.
type SearchResult struct {
	Results []SearchHit `json:"results"`
	Source  string      `json:"source"`
}

// DefaultLookupTimeout bounds one shared lookup when ResolverConfig leaves it unset.
const DefaultLookupTimeout = 25 * time.Second

type ResolverConfig struct {
	HLSBaseURL        string
	ProxyBaseURL      string
	SearchQuerySuffix string

	// LookupTimeout bounds a coalesced lookup. Callers joined to it still
	// leave only when their own context ends.
	LookupTimeout time.Duration
}

// Resolver runs the search race and the stream fallback chain.
type Resolver struct {
	registry *Registry
	scores   ScoreStore
	fetch    Fetcher
	race     *Coordinator
	metrics  *Metrics
	cfg      ResolverConfig

	group singleflight.Group
}

func NewResolver(registry *Registry, scores ScoreStore, fetch Fetcher, race *Coordinator, metrics *Metrics, cfg ResolverConfig) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	return &Resolver{
		registry: registry,
		scores:   scores,
		fetch:    fetch,
		race:     race,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Backends returns the pool in current rank order.
func (r *Resolver) Backends() []Backend {
	return r.scores.Rank(r.registry.All())
}

func (r *Resolver) Scores() ScoreStore {
	return r.scores
}

// Search races every mirror and returns the first non-empty hit list.
func (r *Resolver) Search(ctx context.Context, query string) (SearchResult, error) {
	q := strings.TrimSpace(query)
	if suffix := strings.TrimSpace(r.cfg.SearchQuerySuffix); suffix != "" {
		q += " " + suffix
	}

	v, err := r.shared(ctx, "search:"+q, func(ctx context.Context) (any, error) {
		return r.search(ctx, q)
	})
	if err != nil {
		return SearchResult{}, err
	}
	return v.(SearchResult), nil
}

func (r *Resolver) search(ctx context.Context, q string) (SearchResult, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("type", "video")

	hits, winner, err := Race(ctx, r.race, RoleSearch, r.Backends(), func(ctx context.Context, b Backend) ([]SearchHit, bool) {
		raw := r.fetch.FetchJSON(ctx, b.endpoint("/api/v1/search"), params)
		if raw == nil {
			return nil, false
		}
		hits := ParseSearchHits(raw)
		return hits, len(hits) > 0
	})
	if err != nil {
		log.WithFields(log.Fields{"query": q, "error": err}).Warn("mirror: search unavailable")
		return SearchResult{}, err
	}
	return SearchResult{Results: hits, Source: winner.BaseURL}, nil
}

// ResolveStream walks HLS, mirror streams and the conversion proxy in that
// order and returns the first playable URL.
func (r *Resolver) ResolveStream(ctx context.Context, videoID string) (StreamCandidate, error) {
	return r.resolve(ctx, "stream:", videoID, true)
}

// ResolveDownload is ResolveStream without the HLS tier: a manifest cannot be
// saved as a single file.
func (r *Resolver) ResolveDownload(ctx context.Context, videoID string) (StreamCandidate, error) {
	return r.resolve(ctx, "download:", videoID, false)
}

func (r *Resolver) resolve(ctx context.Context, prefix, videoID string, withHLS bool) (StreamCandidate, error) {
	v, err := r.shared(ctx, prefix+videoID, func(ctx context.Context) (any, error) {
		return r.resolveStream(ctx, videoID, withHLS)
	})
	if err != nil {
		return StreamCandidate{}, err
	}
	return v.(StreamCandidate), nil
}

// shared runs fn once per key across concurrent callers. fn runs on a
// context detached from any single caller and bounded by LookupTimeout, so
// one caller going away never fails the others. Each caller returns early
// only when its own ctx ends.
func (r *Resolver) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := r.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.LookupTimeout)
		defer cancel()
		return fn(lookupCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			log.WithField("key", key).Debug("mirror: lookup coalesced with in-flight request")
		}
		if res.Err != nil && ctx.Err() == nil &&
			(errors.Is(res.Err, context.DeadlineExceeded) || errors.Is(res.Err, context.Canceled)) {
			// the lookup ran out of time, not this caller
			return nil, ErrUnavailable
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) resolveStream(ctx context.Context, videoID string, withHLS bool) (StreamCandidate, error) {
	fields := log.Fields{"video_id": videoID}

	if withHLS {
		if c, ok := r.external(ctx, r.cfg.HLSBaseURL, videoID, BestHLS); ok {
			r.metrics.resolved(string(TierHLS))
			return c, nil
		}
		log.WithFields(fields).Info("mirror: hls tier empty, racing mirrors")
	}

	path := "/api/v1/videos/" + url.PathEscape(videoID)
	c, _, err := Race(ctx, r.race, RoleStream, r.Backends(), func(ctx context.Context, b Backend) (StreamCandidate, bool) {
		raw := r.fetch.FetchJSON(ctx, b.endpoint(path), nil)
		if raw == nil {
			return StreamCandidate{}, false
		}
		return extractVideoStream(raw, b.BaseURL)
	})
	if err == nil {
		r.metrics.resolved(string(c.Tier))
		return c, nil
	}
	if ctx.Err() != nil {
		return StreamCandidate{}, ctx.Err()
	}
	log.WithFields(fields).Info("mirror: no mirror stream, trying conversion proxy")

	if c, ok := r.external(ctx, r.cfg.ProxyBaseURL, videoID, ProxyFormat); ok {
		r.metrics.resolved(string(TierExternalProxy))
		return c, nil
	}

	r.metrics.resolved("unavailable")
	log.WithFields(fields).Warn("mirror: every stream tier exhausted")
	return StreamCandidate{}, ErrUnavailable
}

// external queries a single fixed conversion service; it is never raced or scored.
func (r *Resolver) external(ctx context.Context, base, videoID string, extract func(json.RawMessage, string) (StreamCandidate, bool)) (StreamCandidate, bool) {
	if base == "" {
		return StreamCandidate{}, false
	}
	raw := r.fetch.FetchJSON(ctx, base+url.PathEscape(videoID), nil)
	if raw == nil {
		return StreamCandidate{}, false
	}
	return extract(raw, origin(base))
}

// origin reduces a service base such as https://host/m3u8/ to https://host.
func origin(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return base
	}
	return u.Scheme + "://" + u.Host
}
