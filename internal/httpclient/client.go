package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ternarybob/graben/internal/interfaces"
)

const (
	defaultUserAgent = "graben/0.3 (+https://github.com/ternarybob/graben)"
	maxBodyBytes     = 64 * 1024 * 1024 // 64 MB cap on fetched bodies
)

// Options configures a polite client.
type Options struct {
	Timeout       time.Duration
	RequestDelay  time.Duration
	MaxConcurrent int64
	RespectRobots bool
	UserAgent     string
}

// PoliteClient is an HTTP fetcher that enforces a per-host politeness delay,
// a global concurrency ceiling and, when enabled, robots.txt. Acquiring the
// semaphore before a fetch and waiting on the per-host limiter after are the
// worker's first two suspension points.
type PoliteClient struct {
	client    *http.Client
	sem       *semaphore.Weighted
	userAgent string
	respect   bool
	delay     time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	robots   map[string]*robotstxt.RobotsData

	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.Fetcher = (*PoliteClient)(nil)

// New creates a polite client with the given options.
func New(opts Options, logger arbor.ILogger) *PoliteClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &PoliteClient{
		client:    &http.Client{Timeout: opts.Timeout},
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		userAgent: opts.UserAgent,
		respect:   opts.RespectRobots,
		delay:     opts.RequestDelay,
		limiters:  make(map[string]*rate.Limiter),
		robots:    make(map[string]*robotstxt.RobotsData),
		logger:    logger,
	}
}

// Get fetches a URL with politeness applied.
func (c *PoliteClient) Get(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	return c.do(ctx, http.MethodGet, rawURL)
}

// Head probes a URL with politeness applied. Bodies are not read.
func (c *PoliteClient) Head(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	return c.do(ctx, http.MethodHead, rawURL)
}

func (c *PoliteClient) do(ctx context.Context, method, rawURL string) (*interfaces.FetchResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", rawURL, err)
	}

	if c.respect && !c.allowedByRobots(ctx, parsed) {
		return nil, fmt.Errorf("fetch %s: disallowed by robots.txt", rawURL)
	}

	// Suspension point: global concurrency permit
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	// Suspension point: per-host politeness delay
	if err := c.hostLimiter(parsed.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	result := &interfaces.FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     resp.Header,
	}

	if method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
		}
		result.Body = body
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Int("bytes", len(result.Body)).
		Msg("Fetch completed")

	return result, nil
}

// hostLimiter returns (creating if needed) the rate limiter for a host.
// One request per delay window, burst 1.
func (c *PoliteClient) hostLimiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.delay > 0 {
			limit = rate.Every(c.delay)
		}
		limiter = rate.NewLimiter(limit, 1)
		c.limiters[host] = limiter
	}
	return limiter
}

// allowedByRobots checks robots.txt for the URL's host, caching per host.
// Unreachable or unparseable robots files allow everything.
func (c *PoliteClient) allowedByRobots(ctx context.Context, u *url.URL) bool {
	c.mu.Lock()
	data, ok := c.robots[u.Host]
	c.mu.Unlock()

	if !ok {
		data = c.fetchRobots(ctx, u)
		c.mu.Lock()
		c.robots[u.Host] = data
		c.mu.Unlock()
	}

	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, c.userAgent)
}

func (c *PoliteClient) fetchRobots(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Str("host", u.Host).Err(err).Msg("robots.txt unreachable - allowing all")
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.logger.Debug().Str("host", u.Host).Err(err).Msg("robots.txt unparseable - allowing all")
		return nil
	}
	return data
}
