package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/themeindex/internal/logfields"
	"git.home.luguber.info/inful/themeindex/internal/retry"
)

const (
	defaultAPIURL = "https://api.github.com"
	userAgent     = "themeindex/2.0"
	apiVersion    = "2022-11-28"

	// rateLimitWaitCap bounds a single quota-reset pause so a bogus reset
	// header cannot stall the run.
	rateLimitWaitCap = 5 * time.Minute
)

// Options configures a Client.
type Options struct {
	APIURL string
	Token  string
	// Delay is the blocking pause enforced between consecutive requests.
	Delay  time.Duration
	Policy retry.Policy
}

// Client is a rate-limited, retrying GitHub API client. It is not safe for
// concurrent use; the pipeline drives it sequentially.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	delay      time.Duration
	policy     retry.Policy

	nextRequestAt time.Time
}

// NewClient creates a discovery client. An empty token selects the
// unauthenticated quota.
func NewClient(opts Options) *Client {
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     apiURL,
		token:      opts.Token,
		delay:      opts.Delay,
		policy:     opts.Policy,
	}
}

// Authenticated reports whether the client still holds a credential.
func (c *Client) Authenticated() bool { return c.token != "" }

// SearchTopic fetches one page of repositories tagged with the topic.
// The second return value reports whether another page may exist.
func (c *Client) SearchTopic(ctx context.Context, topic string, page, perPage int) ([]SearchResult, bool, error) {
	params := url.Values{}
	params.Set("q", fmt.Sprintf("topic:%s archived:false fork:false", topic))
	params.Set("sort", "updated")
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))

	var payload struct {
		Items []struct {
			FullName  string `json:"full_name"`
			UpdatedAt string `json:"updated_at"`
		} `json:"items"`
	}
	if err := c.requestJSON(ctx, "/search/repositories", params, &payload); err != nil {
		return nil, false, err
	}

	results := make([]SearchResult, 0, len(payload.Items))
	for _, item := range payload.Items {
		repo := NormalizeRepo(item.FullName)
		if repo == "" {
			continue
		}
		results = append(results, SearchResult{Repo: repo, UpdatedAt: item.UpdatedAt})
	}
	return results, len(payload.Items) == perPage, nil
}

// FetchRepository fetches full metadata for one repository.
func (c *Client) FetchRepository(ctx context.Context, repo string) (*RawRepository, error) {
	var payload struct {
		Name          string   `json:"name"`
		FullName      string   `json:"full_name"`
		Description   *string  `json:"description"`
		Homepage      *string  `json:"homepage"`
		Stars         int      `json:"stargazers_count"`
		Topics        []string `json:"topics"`
		Archived      bool     `json:"archived"`
		Disabled      bool     `json:"disabled"`
		UpdatedAt     string   `json:"updated_at"`
		DefaultBranch string   `json:"default_branch"`
		Owner         struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := c.requestJSON(ctx, "/repos/"+repo, nil, &payload); err != nil {
		return nil, err
	}
	if payload.FullName == "" || !strings.Contains(payload.FullName, "/") {
		return nil, fmt.Errorf("invalid repository payload for %s", repo)
	}

	raw := &RawRepository{
		Owner:         payload.Owner.Login,
		Name:          payload.Name,
		FullName:      NormalizeRepo(payload.FullName),
		Stars:         payload.Stars,
		Description:   emptyToNil(payload.Description),
		Homepage:      emptyToNil(payload.Homepage),
		Topics:        payload.Topics,
		Archived:      payload.Archived,
		Disabled:      payload.Disabled,
		UpdatedAt:     payload.UpdatedAt,
		DefaultBranch: payload.DefaultBranch,
	}
	if raw.DefaultBranch == "" {
		raw.DefaultBranch = "HEAD"
	}
	return raw, nil
}

// FetchTree fetches the recursive tree listing for the given ref. This is
// the second, independently retried request that feeds variant detection.
func (c *Client) FetchTree(ctx context.Context, repo, ref string) ([]TreeEntry, error) {
	params := url.Values{}
	params.Set("recursive", "1")

	var payload struct {
		Tree []TreeEntry `json:"tree"`
	}
	if err := c.requestJSON(ctx, fmt.Sprintf("/repos/%s/git/trees/%s", repo, ref), params, &payload); err != nil {
		return nil, err
	}
	return payload.Tree, nil
}

// requestJSON performs one API call with pacing, retries, quota-reset waits,
// and authentication degradation.
func (c *Client) requestJSON(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.apiURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	rateLimitWaits := 0
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.policy.Delay(attempt)); err != nil {
				return err
			}
		}
		if err := c.pace(ctx); err != nil {
			return err
		}

		status, retryAfter, err := c.doOnce(ctx, reqURL, out)
		c.markRequest()
		switch {
		case err == nil:
			return nil
		case err == ErrNotFound:
			return err
		case status == http.StatusUnauthorized && c.token != "":
			// Invalid credential: degrade to the unauthenticated quota
			// instead of failing the run.
			slog.Warn("Discovery credential rejected, degrading to unauthenticated quota")
			c.token = ""
			attempt--
			continue
		case retryAfter > 0 && rateLimitWaits < 3:
			// Primary quota exhausted: wait for the advertised reset without
			// consuming a retry attempt.
			rateLimitWaits++
			slog.Info("Rate limit reached, waiting for reset", slog.Duration("wait", retryAfter))
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return err
			}
			attempt--
			continue
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("request %s failed after %d attempts: %w", path, c.policy.MaxRetries+1, lastErr)
}

// doOnce performs a single HTTP round trip. It returns the status code and,
// for quota exhaustion, how long to wait before the quota resets.
func (c *Client) doOnce(ctx context.Context, reqURL string, out any) (status int, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, 0, ErrNotFound
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return resp.StatusCode, quotaResetWait(resp.Header.Get("X-RateLimit-Reset")), fmt.Errorf("rate limited: %s", resp.Status)
	case resp.StatusCode >= 400:
		return resp.StatusCode, 0, fmt.Errorf("API error: %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, 0, nil
}

// pace blocks until the configured inter-request delay has elapsed since the
// previous request.
func (c *Client) pace(ctx context.Context) error {
	if wait := time.Until(c.nextRequestAt); wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return nil
}

func (c *Client) markRequest() {
	c.nextRequestAt = time.Now().Add(c.delay)
}

func quotaResetWait(resetHeader string) time.Duration {
	reset, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return time.Minute
	}
	wait := time.Until(time.Unix(reset, 0)) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > rateLimitWaitCap {
		wait = rateLimitWaitCap
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// Discover runs every topic query and returns the deduplicated results in
// first-seen order, plus one error per page that failed after retries.
// Failed pages do not abort discovery; remaining topics and pages continue.
func (c *Client) Discover(ctx context.Context, topics []string, perPage, maxPages int) ([]SearchResult, []error) {
	var (
		ordered []SearchResult
		seen    = make(map[string]struct{})
		errs    []error
	)

	for _, topic := range topics {
		for page := 1; ; page++ {
			if ctx.Err() != nil {
				return ordered, append(errs, ctx.Err())
			}

			results, hasNext, err := c.SearchTopic(ctx, topic, page, perPage)
			if err != nil {
				errs = append(errs, fmt.Errorf("topic %s page %d: %w", topic, page, err))
				slog.Warn("Topic page failed, continuing",
					logfields.Topic(topic), logfields.Page(page), logfields.Error(err))
				break
			}
			if len(results) == 0 {
				break
			}

			for _, r := range results {
				if _, dup := seen[r.Repo]; dup {
					continue
				}
				seen[r.Repo] = struct{}{}
				ordered = append(ordered, r)
			}

			if !hasNext {
				break
			}
			if maxPages > 0 && page >= maxPages {
				break
			}
		}
	}
	return ordered, errs
}
