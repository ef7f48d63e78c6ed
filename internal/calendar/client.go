// Package calendar downloads the daily leisure calendar image.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "moyubot/pkg/logx"
)

const (
	DefaultURL = "https://api.vvhan.com/api/moyu?type=image"

	maxRedirects = 10
	maxBodyBytes = 10 << 20
)

// ErrEmptyBody is returned when the API answers 2xx with no content.
var ErrEmptyBody = errors.New("calendar response is empty")

// FetchError describes a failed fetch. StatusCode is set for non-2xx
// answers; Err is set when the request never got an answer.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("calendar api returned status %d", e.StatusCode)
	}
	return "calendar request failed: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status of a FetchError (0 if none).
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

type Config struct {
	URL        string
	Timeout    time.Duration
	RatePerSec int
	// ShareTTL is how long a shared download is reused by later pushes.
	ShareTTL time.Duration
}

type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter // interactive queries
	log     logx.Logger

	// Shared fetches used by pushes: at most one upstream request in flight,
	// its result reused for ShareTTL.
	shareTTL  time.Duration
	pushLimit *rate.Limiter
	mu        sync.Mutex
	inflight  *call
	cached    []byte
	cachedAt  time.Time
	now       func() time.Time
}

type call struct {
	done chan struct{}
	body []byte
	err  error
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 2
	}
	ttl := cfg.ShareTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Client{
		url: url,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		log:       log,
		shareTTL:  ttl,
		pushLimit: rate.NewLimiter(rate.Limit(rps), rps),
		now:       time.Now,
	}
}

// Fetch downloads today's image for an interactive query. It makes exactly
// one request and never waits on pushes.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Err: err}
	}
	return c.get(ctx)
}

// FetchShared is Fetch for pushes. Concurrent callers share one upstream
// request, and a successful body is reused for ShareTTL. Failures are not
// cached. A caller whose ctx ends stops waiting without aborting the request
// other callers are waiting on.
func (c *Client) FetchShared(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.shareTTL {
		body := c.cached
		c.mu.Unlock()
		return body, nil
	}
	cl := c.inflight
	if cl == nil {
		cl = &call{done: make(chan struct{})}
		c.inflight = cl
		go c.runShared(context.WithoutCancel(ctx), cl)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.body, cl.err
	case <-ctx.Done():
		return nil, &FetchError{Err: ctx.Err()}
	}
}

func (c *Client) runShared(ctx context.Context, cl *call) {
	// The http client timeout bounds the request; the limiter wait is bounded too.
	ctx, cancel := context.WithTimeout(ctx, c.http.Timeout+time.Second)
	defer cancel()

	if err := c.pushLimit.Wait(ctx); err != nil {
		cl.err = &FetchError{Err: err}
	} else {
		cl.body, cl.err = c.get(ctx)
	}

	c.mu.Lock()
	if cl.err == nil {
		c.cached, c.cachedAt = cl.body, c.now()
	}
	c.inflight = nil
	c.mu.Unlock()
	close(cl.done)
}

func (c *Client) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if len(body) > maxBodyBytes {
		return nil, &FetchError{Err: fmt.Errorf("body exceeds %d bytes", maxBodyBytes)}
	}
	if len(body) == 0 {
		return nil, &FetchError{Err: ErrEmptyBody}
	}

	c.log.Debug("calendar fetched", logx.Int("bytes", len(body)), logx.String("content_type", resp.Header.Get("Content-Type")), logx.Duration("took", time.Since(start)))
	return body, nil
}
