package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stream-resolver-service/internal/mirror"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// defaultMirrors is the public pool the service was first deployed against.
var defaultMirrors = []string{
	"https://iv.melmac.space",
	"https://pol1.iv.ggtyler.dev",
	"https://cal1.iv.ggtyler.dev",
	"https://invidious.0011.lt",
	"https://yt.omada.cafe",
	"https://invidious.exma.de/",
	"https://invidious.f5.si/",
	"https://siawaseok-wakame-server2.glitch.me/",
	"https://lekker.gay/",
	"https://id.420129.xyz/",
}

type Config struct {
	Port     string
	RedisURL string

	MirrorBackends []string
	HLSBaseURL     string
	ProxyBaseURL   string

	FetchTimeout         time.Duration
	FetchMaxConnsPerHost int
	FetchMaxIdleConns    int
	UserAgent            string

	RaceWorkers       int
	RaceMode          mirror.Mode
	SlowThreshold     time.Duration
	SearchQuerySuffix string

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int
	AllowedOrigin  string

	OutcomeChannel string
	LogLevel       string
	LogFormat      string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "3007")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("MIRROR_BACKENDS", strings.Join(defaultMirrors, ","))
	v.SetDefault("HLS_API_BASE_URL", "https://yudlp.vercel.app/m3u8/")
	v.SetDefault("STREAM_PROXY_BASE_URL", "https://yudlp.vercel.app/stream/")
	v.SetDefault("FETCH_TIMEOUT", mirror.DefaultFetchTimeout)
	v.SetDefault("FETCH_MAX_CONNS_PER_HOST", 8)
	v.SetDefault("FETCH_MAX_IDLE_CONNS", 64)
	v.SetDefault("USER_AGENT", mirror.DefaultUserAgent)
	v.SetDefault("RACE_WORKERS", 64)
	v.SetDefault("RACE_MODE", string(mirror.ModeConcurrent))
	v.SetDefault("SLOW_THRESHOLD", mirror.DefaultSlowThreshold)
	v.SetDefault("SEARCH_QUERY_SUFFIX", "topic audio")
	v.SetDefault("REQUEST_TIMEOUT", 25*time.Second)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("CORS_ALLOWED_ORIGIN", "*")
	v.SetDefault("OUTCOME_CHANNEL", "mirror.outcomes")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	return v
}

func loadConfig() (Config, error) {
	v := newViper()

	mode, err := mirror.ParseMode(strings.ToLower(strings.TrimSpace(v.GetString("RACE_MODE"))))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:     v.GetString("PORT"),
		RedisURL: v.GetString("REDIS_URL"),

		MirrorBackends: splitList(v.GetString("MIRROR_BACKENDS")),
		HLSBaseURL:     strings.TrimSpace(v.GetString("HLS_API_BASE_URL")),
		ProxyBaseURL:   strings.TrimSpace(v.GetString("STREAM_PROXY_BASE_URL")),

		FetchTimeout:         v.GetDuration("FETCH_TIMEOUT"),
		FetchMaxConnsPerHost: v.GetInt("FETCH_MAX_CONNS_PER_HOST"),
		FetchMaxIdleConns:    v.GetInt("FETCH_MAX_IDLE_CONNS"),
		UserAgent:            v.GetString("USER_AGENT"),

		RaceWorkers:       v.GetInt("RACE_WORKERS"),
		RaceMode:          mode,
		SlowThreshold:     v.GetDuration("SLOW_THRESHOLD"),
		SearchQuerySuffix: v.GetString("SEARCH_QUERY_SUFFIX"),

		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		RateLimitRPS:   v.GetInt("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
		AllowedOrigin:  v.GetString("CORS_ALLOWED_ORIGIN"),

		OutcomeChannel: v.GetString("OUTCOME_CHANNEL"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.MirrorBackends) == 0 {
		return errors.New("stream-resolver: MIRROR_BACKENDS is empty")
	}
	for _, b := range c.MirrorBackends {
		if err := checkHTTPURL(b); err != nil {
			return fmt.Errorf("stream-resolver: invalid MIRROR_BACKENDS entry %q: %w", b, err)
		}
	}
	for key, u := range map[string]string{"HLS_API_BASE_URL": c.HLSBaseURL, "STREAM_PROXY_BASE_URL": c.ProxyBaseURL} {
		// empty disables that tier
		if u == "" {
			continue
		}
		if err := checkHTTPURL(u); err != nil {
			return fmt.Errorf("stream-resolver: invalid %s: %w", key, err)
		}
	}
	if c.FetchTimeout <= 0 {
		return errors.New("stream-resolver: FETCH_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("stream-resolver: REQUEST_TIMEOUT must be positive")
	}
	if c.RaceWorkers <= 0 {
		return errors.New("stream-resolver: RACE_WORKERS must be positive")
	}
	if worst := c.worstCaseLookup(); worst > c.RequestTimeout {
		return fmt.Errorf("stream-resolver: worst-case lookup %s (FETCH_TIMEOUT %s, RACE_MODE %s) exceeds REQUEST_TIMEOUT %s",
			worst, c.FetchTimeout, c.RaceMode, c.RequestTimeout)
	}
	return nil
}

// worstCaseLookup is how long a stream lookup can take when every fetch hits
// FETCH_TIMEOUT: the HLS call, the mirror tier and the proxy call. A
// sequential race walks the whole pool one backend at a time.
func (c Config) worstCaseLookup() time.Duration {
	mirrorRounds := 1
	if c.RaceMode == mirror.ModeSequential {
		mirrorRounds = len(c.MirrorBackends)
	}
	return c.FetchTimeout * time.Duration(mirrorRounds+2)
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http(s)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// splitList reads a comma separated env value; viper's own slice parsing
// splits on whitespace.
func splitList(raw string) []string {
	return lo.FilterMap(strings.Split(raw, ","), func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
}
