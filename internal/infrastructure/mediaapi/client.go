package mediaapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

var (
	ErrNotConfigured    = errors.New("mediaapi: url or api key missing")
	ErrUnexpectedStatus = errors.New("mediaapi: unexpected status")
	ErrResponseTooLarge = errors.New("mediaapi: response body too large")
)

const (
	queuePageSize = 100
	// queueMaxPages bounds a single Queue call to queueMaxPages*queuePageSize items.
	queueMaxPages   = 20
	maxResponseSize = 4 << 20
)

// Client talks to the v3 API shared by Radarr and Sonarr.
type Client struct {
	kind    string
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logger.Logger
}

func NewClient(kind, baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		kind:    kind,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// NewSources builds the Radarr (movies) and Sonarr (episodes) clients that
// have credentials configured.
func NewSources(cfg config.APIConfig, log *logger.Logger) []*Client {
	var out []*Client
	if cfg.RadarrURL != "" && cfg.RadarrAPIKey != "" {
		out = append(out, NewClient("movie", cfg.RadarrURL, cfg.RadarrAPIKey, cfg.Timeout, log))
	}
	if cfg.SonarrURL != "" && cfg.SonarrAPIKey != "" {
		out = append(out, NewClient("episode", cfg.SonarrURL, cfg.SonarrAPIKey, cfg.Timeout, log))
	}
	return out
}

// Kind is the media kind this manager serves, used to key download records.
func (c *Client) Kind() string {
	return c.kind
}

type queuePage struct {
	TotalRecords int                `json:"totalRecords"`
	Records      []domain.QueueItem `json:"records"`
}

// Queue returns the current download queue, following pages until
// totalRecords items have been read.
func (c *Client) Queue(ctx context.Context) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	total := 0
	for pageNum := 1; pageNum <= queueMaxPages; pageNum++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(pageNum))
		q.Set("pageSize", strconv.Itoa(queuePageSize))
		q.Set("includeUnknownMovieItems", "false")

		var page queuePage
		if err := c.do(ctx, http.MethodGet, "/api/v3/queue", q, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Records...)
		total = page.TotalRecords
		if len(page.Records) == 0 || len(items) >= total {
			return items, nil
		}
	}
	c.logger.Warnw("media_queue_truncated", "kind", c.kind, "read", len(items), "total", total)
	return items, nil
}

// RemoveFromQueue deletes a queue item and its download client entry.
func (c *Client) RemoveFromQueue(ctx context.Context, id int) error {
	q := url.Values{}
	q.Set("removeFromClient", "true")
	q.Set("blocklist", "false")
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v3/queue/%d", id), q, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	if c.baseURL == "" || c.apiKey == "" {
		return ErrNotConfigured
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warnw("media_api_request_failed", "kind", c.kind, "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return fmt.Errorf("%w: %s %s exceeded %d bytes", ErrResponseTooLarge, method, path, maxResponseSize)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
