package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultFetchTimeout = 6 * time.Second
	DefaultUserAgent    = "Mozilla/5.0"

	maxBodyBytes = 8 << 20
)

// ClientConfig bounds the shared connection pool used for every backend call.
type ClientConfig struct {
	Timeout         time.Duration
	MaxConnsPerHost int
	MaxIdleConns    int
	UserAgent       string
}

// Client is the HTTP client shared by all mirror and external-service calls.
type Client struct {
	http      *http.Client
	userAgent string
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 8
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 64
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = cfg.MaxIdleConns
	t.MaxIdleConnsPerHost = cfg.MaxConnsPerHost
	t.MaxConnsPerHost = cfg.MaxConnsPerHost
	t.IdleConnTimeout = 60 * time.Second
	t.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: t,
		},
		userAgent: cfg.UserAgent,
	}
}

// FetchJSON GETs rawURL with params and returns the body if it is valid JSON.
// Transport errors, non-200 statuses and unparsable bodies all yield nil.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, params url.Values) json.RawMessage {
	body, err := c.fetch(ctx, rawURL, params)
	if err != nil {
		log.WithFields(log.Fields{"url": rawURL, "error": err}).Debug("mirror: fetch failed")
		return nil
	}
	return body
}

func (c *Client) fetch(ctx context.Context, rawURL string, params url.Values) (json.RawMessage, error) {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid json body (%d bytes)", len(data))
	}
	return json.RawMessage(data), nil
}
