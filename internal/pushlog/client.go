package pushlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"l10nboard/internal/config"
	"l10nboard/internal/ingest"
	"l10nboard/internal/logging"
	"l10nboard/internal/services"
)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (primarily for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBackoff sets the initial delay between retried requests.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// Client fetches push records from json-pushes.
type Client struct {
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	batchSize   int
	backoff     time.Duration
	logger      *slog.Logger
}

// New constructs a client from the pushlog configuration.
func New(cfg config.Pushlog, logger *slog.Logger, opts ...Option) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	c := &Client{
		http:        &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		maxAttempts: max(cfg.MaxAttempts, 1),
		batchSize:   max(cfg.BatchSize, 1),
		backoff:     time.Second,
		logger:      logging.NewComponentLogger(logger, "pushlog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pushesResponse struct {
	LastPushID int64                  `json:"lastpushid"`
	Pushes     map[string]pushPayload `json:"pushes"`
}

type pushPayload struct {
	Changesets []string `json:"changesets"`
	Date       int64    `json:"date"`
	User       string   `json:"user"`
}

// Fetch returns up to the configured batch size of pushes with ids greater
// than startID, ordered by push id, together with the server's latest push id.
func (c *Client) Fetch(ctx context.Context, repoURL string, startID int64) ([]ingest.PushRecord, int64, error) {
	endpoint, err := pushesURL(repoURL, startID, startID+int64(c.batchSize))
	if err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "pushlog", "fetch", repoURL, err)
	}

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, 0, err
	}

	var payload pushesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, services.Wrap(services.ErrVCS, "pushlog", "decode", endpoint, err)
	}

	records := make([]ingest.PushRecord, 0, len(payload.Pushes))
	for key, push := range payload.Pushes {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, 0, services.Wrap(services.ErrVCS, "pushlog", "decode", fmt.Sprintf("push id %q", key), err)
		}
		records = append(records, ingest.PushRecord{
			PushID:    id,
			Date:      time.Unix(push.Date, 0).UTC(),
			User:      push.User,
			Revisions: push.Changesets,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PushID < records[j].PushID })
	return records, payload.LastPushID, nil
}

func pushesURL(repoURL string, startID, endID int64) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(repoURL, "/") + "/json-pushes")
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("repository url %q is not absolute", repoURL)
	}
	q := base.Query()
	q.Set("version", "2")
	q.Set("startID", strconv.FormatInt(startID, 10))
	q.Set("endID", strconv.FormatInt(endID, 10))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// get performs a rate-limited GET, retrying network errors, 429 and 5xx
// responses with exponential backoff.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying push log request",
				logging.String("url", endpoint),
				logging.Int("attempt", attempt+1),
				logging.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "pushlog", "request", endpoint, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return body, nil
		case isRetryableStatus(resp.StatusCode):
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		default:
			return nil, services.Wrap(services.ErrVCS, "pushlog", "request",
				fmt.Sprintf("%s returned status %d", endpoint, resp.StatusCode), nil)
		}
	}
	return nil, services.Wrap(services.ErrTransient, "pushlog", "request", endpoint, lastErr)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
