// Package sonarr implements the Sonarr v3/v4 API client: startup validation
// of the configured library parameters, series lookup by TVDB ID, and adds.
package sonarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/snapetech/showsyncr/internal/httpclient"
)

// Sonarr is a local service, but a first full sync can push hundreds of adds
// in one cycle. Keep the request rate polite.
const (
	requestsPerSecond = 5
	requestBurst      = 10
)

// Config identifies the Sonarr instance and the library parameters to
// resolve at startup. Selector fields accept a name/path or a numeric ID.
type Config struct {
	URL             string
	APIKey          string
	RootFolder      string
	QualityProfile  string
	LanguageProfile string
	Tags            []string
}

// Series is one series resource as Sonarr returns it. Lookup results are
// POSTed back on add with the library parameters layered on top, so unknown
// fields must survive the round trip.
type Series map[string]any

// TVDBID returns the tvdbId field, 0 when absent.
func (s Series) TVDBID() int {
	v, _ := s["tvdbId"].(float64)
	return int(v)
}

// Title returns the title field, "" when absent.
func (s Series) Title() string {
	v, _ := s["title"].(string)
	return v
}

// AddParams carries everything one add needs. Built by the processor from
// the validated parameters plus the per-show identity.
type AddParams struct {
	Title             string
	TVDBID            int
	RootFolderPath    string
	QualityProfileID  int
	LanguageProfileID int
	Monitor           string
	SearchOnAdd       bool
	TagIDs            []int
}

// AddResult is the outcome of one add attempt. Exactly one of Success,
// Exists or Error is meaningful.
type AddResult struct {
	Success  bool
	SeriesID int
	Exists   bool
	Error    string
}

// Client talks to one Sonarr instance.
type Client struct {
	baseURL string
	apiKey  string
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter
	log     *slog.Logger

	version string
	params  *Params

	// OnRequest, when set, observes every completed HTTP exchange.
	OnRequest func(endpoint string, status int)
}

// New builds a client. Call ValidateConfig before using the add path.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		cfg:     cfg,
		httpc:   httpclient.Default(),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		log:     log.With("component", "sonarr"),
	}
}

// Version reports the server version discovered by ValidateConfig.
func (c *Client) Version() string { return c.version }

// Lookup resolves a TVDB ID to a series resource via Sonarr's search. An
// unknown ID yields (nil, nil); only transport failures return an error.
func (c *Client) Lookup(ctx context.Context, tvdbID int) (Series, error) {
	endpoint := "series/lookup?term=" + url.QueryEscape("tvdb:"+strconv.Itoa(tvdbID))
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup tvdb:%d: %w", tvdbID, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("lookup tvdb:%d: unexpected status %d", tvdbID, status)
	}
	var results []Series
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("lookup tvdb:%d: decode: %w", tvdbID, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Add submits a series. The details come from Lookup and are sent back with
// the library parameters layered on top. "Already exists" responses are an
// outcome, not an error.
func (c *Client) Add(ctx context.Context, p AddParams, details Series) AddResult {
	payload := make(map[string]any, len(details)+6)
	for k, v := range details {
		payload[k] = v
	}
	payload["qualityProfileId"] = p.QualityProfileID
	lang := p.LanguageProfileID
	if lang == 0 {
		// v4 ignores the field but rejects its absence on some versions.
		lang = 1
	}
	payload["languageProfileId"] = lang
	payload["rootFolderPath"] = p.RootFolderPath
	payload["seasonFolder"] = true
	payload["monitored"] = true
	payload["addOptions"] = map[string]any{
		"monitor":                  p.Monitor,
		"searchForMissingEpisodes": p.SearchOnAdd,
	}

	status, body, err := c.do(ctx, http.MethodPost, "series", payload)
	if err != nil {
		c.log.Error("add series request failed", "title", p.Title, "err", err)
		return AddResult{Error: err.Error()}
	}
	if status == http.StatusCreated || status == http.StatusOK {
		var created struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(body, &created); err != nil {
			return AddResult{Error: fmt.Sprintf("decode add response: %v", err)}
		}
		c.log.Info("added series", "title", p.Title, "series_id", created.ID)
		return AddResult{Success: true, SeriesID: created.ID}
	}

	msg := strings.ToLower(string(body))
	if strings.Contains(msg, "already been added") || strings.Contains(msg, "already exists") {
		c.log.Info("series already in Sonarr", "title", p.Title)
		return AddResult{Exists: true}
	}
	c.log.Warn("failed to add series",
		"title", p.Title, "status", status, "body", truncate(string(body), 300))
	return AddResult{Error: fmt.Sprintf("status %d: %s", status, truncate(string(body), 300))}
}

// AllSeries lists every series in the library. Used once per startup to
// reconcile the cache against shows added outside this daemon.
func (c *Client) AllSeries(ctx context.Context) ([]Series, error) {
	var all []Series
	if err := c.getJSON(ctx, "series", &all); err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return all, nil
}

// Healthy reports whether the server answers its status endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	var st systemStatus
	return c.getJSON(ctx, "system/status", &st) == nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", endpoint, status)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode payload: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v3/"+endpoint, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if c.OnRequest != nil {
		c.OnRequest(metricLabel(endpoint), resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// metricLabel strips query parameters so lookups don't explode cardinality.
func metricLabel(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
