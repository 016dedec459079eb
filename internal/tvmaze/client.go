// Package tvmaze implements the TVMaze API client. Every call is admitted by
// the sliding-window limiter; 429s and transient 5xx/timeouts are retried
// in-place so callers only ever see typed terminal failures.
package tvmaze

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/snapetech/showsyncr/internal/httpclient"
	"github.com/snapetech/showsyncr/internal/ratelimit"
	"github.com/snapetech/showsyncr/internal/safeurl"
)

const (
	defaultBaseURL = "https://api.tvmaze.com"

	// Window TVMaze rates against. The per-window budget comes from config.
	rateWindow = 10 * time.Second

	// Extra attempts after the first for 5xx / timeout, and the separate
	// budget for 429 waits. 429 waits do not consume the 5xx budget.
	maxRetries = 3

	retryAfterFallback = 10 * time.Second
	retryAfterCap      = 5 * time.Minute
)

var (
	// ErrNotFound marks a 404 for a single show. It is control flow: the
	// new-show probe walks IDs until it accumulates enough of these.
	ErrNotFound = errors.New("tvmaze: show not found")

	// ErrRateLimited is returned once 429 retries are exhausted. The
	// orchestrator backs off and resumes.
	ErrRateLimited = errors.New("tvmaze: rate limit exceeded")
)

// TransportError is a network failure or unexpected status after retries.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tvmaze: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tvmaze: %s: unexpected status %d", e.Op, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config configures a Client.
type Config struct {
	// APIKey is appended to every request when set. The public API works
	// without one, at a lower rate ceiling.
	APIKey string

	// RateLimit is the request budget per 10-second window.
	RateLimit int
}

func (c *Config) setDefaults() {
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
}

// Client talks to the TVMaze public API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *ratelimit.Limiter
	log     *slog.Logger

	// Unit for the 5xx/timeout backoff. Shortened in tests.
	backoffBase time.Duration

	// OnRequest, when set, observes every completed HTTP exchange.
	// Wired to the api_requests_total counter by main.
	OnRequest func(endpoint string, status int)
}

// New builds a client. A nil logger falls back to slog.Default.
func New(cfg Config, log *slog.Logger) *Client {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:     defaultBaseURL,
		apiKey:      cfg.APIKey,
		httpc:       httpclient.Default(),
		limiter:     ratelimit.New(cfg.RateLimit, rateWindow),
		log:         log.With("component", "tvmaze"),
		backoffBase: time.Second,
	}
}

// ShowsPage fetches one page of the paginated show index. A 404 means the
// index is exhausted and yields (nil, nil).
func (c *Client) ShowsPage(ctx context.Context, page int) ([]ShowRecord, error) {
	op := "shows_page"
	status, body, err := c.get(ctx, op, "/shows?page="+strconv.Itoa(page))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &TransportError{Op: op, Status: status}
	}

	var records []ShowRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode page %d: %w", page, err)}
	}
	return records, nil
}

// Show fetches a single show. A 404 yields ErrNotFound.
func (c *Client) Show(ctx context.Context, id int) (*ShowRecord, error) {
	op := "show"
	status, body, err := c.get(ctx, op, "/shows/"+strconv.Itoa(id))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("show %d: %w", id, ErrNotFound)
	}
	if status != http.StatusOK {
		return nil, &TransportError{Op: op, Status: status}
	}

	var rec ShowRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode show %d: %w", id, err)}
	}
	return &rec, nil
}

// Updates fetches the incremental feed: shows updated within the window
// (day, week or month), as a map of show ID to unix update time. The wire
// object keys are stringified IDs.
func (c *Client) Updates(ctx context.Context, since string) (map[int]int64, error) {
	op := "updates"
	status, body, err := c.get(ctx, op, "/updates/shows?since="+since)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &TransportError{Op: op, Status: status}
	}

	var raw map[string]int64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode updates: %w", err)}
	}
	updates := make(map[int]int64, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		updates[id] = v
	}
	return updates, nil
}

// get runs one logical GET with the retry policy: 429 sleeps Retry-After and
// retries on its own budget, 5xx and timeouts back off 2^attempt seconds up
// to maxRetries, other 4xx return immediately for the caller to interpret.
// Every attempt acquires a limiter token first.
func (c *Client) get(ctx context.Context, op, path string) (int, []byte, error) {
	reqURL := c.baseURL + path
	if c.apiKey != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		reqURL += sep + "apikey=" + c.apiKey
	}

	attempt := 0
	limitWaits := 0
	for {
		c.limiter.Acquire()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return 0, nil, &TransportError{Op: op, Err: err}
		}
		// Ask for brotli too: the API sits behind a CDN that prefers it.
		// Setting the header manually disables the transport's transparent
		// gzip, so both encodings are decoded below.
		req.Header.Set("Accept-Encoding", "gzip, br")

		resp, err := c.httpc.Do(req)
		if err != nil {
			redactURLError(err)
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if attempt >= maxRetries {
					return 0, nil, &TransportError{Op: op, Err: err}
				}
				c.log.Warn("request timeout, backing off",
					"op", op, "attempt", attempt+1, "max", maxRetries+1)
				if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
					return 0, nil, &TransportError{Op: op, Err: err}
				}
				attempt++
				continue
			}
			return 0, nil, &TransportError{Op: op, Err: err}
		}

		if c.OnRequest != nil {
			c.OnRequest(op, resp.StatusCode)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			if limitWaits >= maxRetries {
				return 0, nil, fmt.Errorf("%s: %w", op, ErrRateLimited)
			}
			limitWaits++
			wait := httpclient.ParseRetryAfter(
				resp.Header.Get("Retry-After"), retryAfterFallback, retryAfterCap)
			c.log.Warn("rate limited by tvmaze", "op", op, "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return 0, nil, &TransportError{Op: op, Err: err}
			}
			continue

		case resp.StatusCode >= 500 && attempt < maxRetries:
			drain(resp)
			c.log.Warn("server error, retrying",
				"op", op, "status", resp.StatusCode, "attempt", attempt+1, "max", maxRetries+1)
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return 0, nil, &TransportError{Op: op, Err: err}
			}
			attempt++
			continue
		}

		body, err := decodeBody(resp)
		resp.Body.Close()
		if err != nil {
			return 0, nil, &TransportError{Op: op, Err: err}
		}
		return resp.StatusCode, body, nil
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * c.backoffBase
}

// redactURLError scrubs the API key from the URL a transport error carries
// before the error escapes into logs.
func redactURLError(err error) {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = safeurl.Redact(ue.URL)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// decodeBody reads the response, applying the negotiated content encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
