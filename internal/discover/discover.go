// Package discover expands seed URLs into an audit task list by crawling
// same-host links up to configured depth and page caps.
package discover

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signaler-dev/signaler/internal/audit"
)

// Config bounds a discovery crawl.
type Config struct {
	// MaxDepth limits how many link hops from a seed are followed. Zero
	// means audit the seeds only.
	MaxDepth int
	// MaxPages caps the total number of discovered URLs.
	MaxPages int
	// RequestsPerSecond throttles the crawl politely. Zero disables the
	// limiter.
	RequestsPerSecond float64
	// UserAgent identifies the crawler.
	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.UserAgent == "" {
		c.UserAgent = "signaler-discover/1.0"
	}
	return c
}

// Discoverer turns seed URLs into a deduplicated, ordered URL list.
type Discoverer struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Discoverer{cfg: cfg, limiter: limiter, logger: logger}
}

// Discover crawls from the seeds and returns every same-host URL found, the
// seeds first, the rest sorted for stable task ordering.
func (d *Discoverer) Discover(ctx context.Context, seeds []string) ([]string, error) {
	hosts := map[string]bool{}
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid seed url %q", seed)
		}
		hosts[strings.ToLower(u.Host)] = true
	}

	var (
		mu    sync.Mutex
		seen  = map[string]bool{}
		found []string
	)
	add := func(raw string) bool {
		mu.Lock()
		defer mu.Unlock()
		if seen[raw] || len(found) >= d.cfg.MaxPages {
			return false
		}
		seen[raw] = true
		found = append(found, raw)
		return true
	}

	collector := colly.NewCollector(
		colly.MaxDepth(d.cfg.MaxDepth+1),
		colly.UserAgent(d.cfg.UserAgent),
	)
	collector.AllowURLRevisit = false

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				r.Abort()
				return
			}
		}
		if !hosts[strings.ToLower(r.URL.Host)] || !add(canonical(r.URL)) {
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			d.logger.Debug("skipping link", zap.String("url", link), zap.Error(err))
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		d.logger.Warn("discovery request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err))
	})

	for _, seed := range seeds {
		if err := collector.Visit(seed); err != nil {
			d.logger.Warn("failed to visit seed", zap.String("url", seed), zap.Error(err))
		}
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrAborted, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("discovery found no reachable pages")
	}

	return found, nil
}

// Tasks builds one audit task per (url, device) pair.
func Tasks(urls, devices []string, timeout time.Duration) []audit.Task {
	tasks := make([]audit.Task, 0, len(urls)*len(devices))
	for _, u := range urls {
		for _, d := range devices {
			tasks = append(tasks, audit.Task{
				ID:      uuid.NewString(),
				URL:     u,
				Label:   labelFor(u),
				Device:  d,
				Timeout: timeout,
			})
		}
	}
	return tasks
}

// canonical strips fragments so the same document is audited once.
func canonical(u *url.URL) string {
	c := *u
	c.Fragment = ""
	return c.String()
}

// labelFor derives a short human label from the URL path.
func labelFor(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return u.Host
	}
	return p
}
