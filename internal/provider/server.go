package provider

import (
	"context"
	"net/http"
	"time"

	"stream-resolver-service/internal/mirror"

	"github.com/redis/go-redis/v9"
)

const serviceName = "stream-resolver-service"

// Resolver is the part of mirror.Resolver the handlers use.
type Resolver interface {
	Search(ctx context.Context, query string) (mirror.SearchResult, error)
	ResolveStream(ctx context.Context, videoID string) (mirror.StreamCandidate, error)
	ResolveDownload(ctx context.Context, videoID string) (mirror.StreamCandidate, error)
	Backends() []mirror.Backend
	Scores() mirror.ScoreStore
}

type Options struct {
	// RequestTimeout bounds resolution; a download's byte copy is not bounded.
	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int
	AllowedOrigin  string
	UserAgent      string

	// DownloadClient fetches resolved media for /api/download.
	DownloadClient *http.Client
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Events is the live outcome feed mounted at /ws/outcomes when set.
	Events http.Handler
}

type Server struct {
	resolver Resolver
	rdb      *redis.Client
	download *http.Client
	opts     Options
}

func NewServer(res Resolver, rdb *redis.Client, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 25 * time.Second
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = opts.RateLimitRPS * 2
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = mirror.DefaultUserAgent
	}
	dl := opts.DownloadClient
	if dl == nil {
		dl = &http.Client{}
	}
	return &Server{
		resolver: res,
		rdb:      rdb,
		download: dl,
		opts:     opts,
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: serviceName,
		Redis:   s.redisStatus(r.Context()),
	})
}

func (s *Server) redisStatus(ctx context.Context) string {
	if s.rdb == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return "down"
	}
	return "ok"
}
