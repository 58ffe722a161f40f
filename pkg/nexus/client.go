// Package nexus is the HTTP boundary to a Nexus-style knowledge-graph store:
// resource reads and writes addressed by identifier URL, paginated queries,
// attachments and downloads.
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader carries the per-call correlation id
	RequestIDHeader = "X-Request-ID"

	// MediaTypeJSONLD is sent and accepted for resource documents
	MediaTypeJSONLD = "application/ld+json"

	// DefaultCacheTTL is used when a cache is configured without a TTL
	DefaultCacheTTL = 5 * time.Minute

	maxErrorBody = 4096
)

// DocumentCache stores raw resource documents by identifier
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Config holds the client configuration
type Config struct {
	// BaseURL is the API root, e.g. https://nexus.example.org/v0
	BaseURL string
	// HTTPClient defaults to a client without timeout; calls are bounded by their context
	HTTPClient *http.Client
	// Tokens supplies the bearer token; nil sends anonymous requests
	Tokens TokenProvider
	// Logger defaults to a no-op logger
	Logger *zap.Logger
	// Cache is an optional document cache consulted by Get
	Cache DocumentCache
	// CacheTTL is the lifetime of cached documents
	CacheTTL time.Duration
	// Metrics is optional
	Metrics *Metrics
	// UserAgent is sent with every request
	UserAgent string
}

// Client talks to the store
type Client struct {
	base       string
	http       *http.Client
	noRedirect *http.Client
	tokens     TokenProvider
	logger     *zap.Logger
	cache      DocumentCache
	cacheTTL   time.Duration
	metrics    *Metrics
	userAgent  string
	now        func() time.Time
	newID      func() string
}

// New creates a client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("nexus: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("nexus: invalid base URL: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "entitymanagement"
	}

	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: hc,
		noRedirect: &http.Client{
			Transport: hc.Transport,
			Jar:       hc.Jar,
			Timeout:   hc.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		tokens:    cfg.Tokens,
		logger:    logger,
		cache:     cfg.Cache,
		cacheTTL:  ttl,
		metrics:   cfg.Metrics,
		userAgent: ua,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}, nil
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.base
}

// Metrics returns the configured metrics, possibly nil
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// DataURL returns the URL of a collection or resource below /data
func (c *Client) DataURL(segments ...string) string {
	return c.base + "/data/" + joinSegments(segments)
}

// QueryURL returns the query endpoint for a collection
func (c *Client) QueryURL(segments ...string) string {
	return c.base + "/queries/" + joinSegments(segments)
}

func joinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Get fetches the document of a resource
func (c *Client) Get(ctx context.Context, id string) (map[string]interface{}, error) {
	if c.cache != nil {
		if data, err := c.cache.Get(ctx, id); err == nil {
			var doc map[string]interface{}
			if err := json.Unmarshal(data, &doc); err == nil {
				c.metrics.cacheHit()
				c.logger.Debug("document served from cache", zap.String("id", id))
				return doc, nil
			}
			c.logger.Warn("dropping unreadable cache entry", zap.String("id", id))
			_ = c.cache.Delete(ctx, id)
		}
	}

	resp, err := c.do(ctx, c.http, http.MethodGet, id, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", id, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, id, data, c.cacheTTL); err != nil {
			c.logger.Warn("failed to cache document", zap.String("id", id), zap.Error(err))
		}
	}
	return doc, nil
}

// Create posts a new resource to a collection URL. The response carries
// the identity the store assigned.
func (c *Client) Create(ctx context.Context, collectionURL string, doc map[string]interface{}) (map[string]interface{}, error) {
	return c.sendJSON(ctx, http.MethodPost, collectionURL, doc)
}

// Update replaces a resource at the given revision
func (c *Client) Update(ctx context.Context, id string, rev int, doc map[string]interface{}) (map[string]interface{}, error) {
	defer c.invalidate(ctx, id)
	return c.sendJSON(ctx, http.MethodPut, withRev(id, rev), doc)
}

// Deprecate tombstones a resource at the given revision
func (c *Client) Deprecate(ctx context.Context, id string, rev int) (map[string]interface{}, error) {
	defer c.invalidate(ctx, id)
	return c.sendJSON(ctx, http.MethodDelete, withRev(id, rev), nil)
}

// Attach uploads a file as the attachment of a resource at the given revision
func (c *Client) Attach(ctx context.Context, id string, rev int, fileName, contentType string, r io.Reader) (map[string]interface{}, error) {
	defer c.invalidate(ctx, id)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	target := withRev(strings.TrimRight(id, "/")+"/attachment", rev)
	resp, err := c.do(ctx, c.http, http.MethodPut, target, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	defer resp.Body.Close()
	return readDocument(resp)
}

// Blob is a streamed download
type Blob struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Download opens the content at url. The caller closes the body.
func (c *Client) Download(ctx context.Context, rawURL string) (*Blob, error) {
	resp, err := c.do(ctx, c.http, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return nil, err
	}
	return &Blob{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

// Hit is one query result
type Hit struct {
	ResultID string `json:"resultId"`
	Source   struct {
		ID   string      `json:"@id"`
		Type interface{} `json:"@type,omitempty"`
	} `json:"source"`
}

// Page is a window of query results
type Page struct {
	Total   int   `json:"total"`
	Results []Hit `json:"results"`
}

// QueryResult locates the results of a submitted query. Stores answer
// either with a redirect to a paginated location or with the first page
// inline.
type QueryResult struct {
	Location string
	Inline   *Page
}

// Query submits a filter to a query endpoint
func (c *Client) Query(ctx context.Context, queryURL string, filter interface{}) (*QueryResult, error) {
	body, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	resp, err := c.do(ctx, c.noRedirect, http.MethodPost, queryURL, bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &QueryResult{}
	if loc := resp.Header.Get("Location"); loc != "" {
		ref, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: bad query location %q", ErrUnexpectedResponse, loc)
		}
		base, _ := url.Parse(queryURL)
		result.Location = base.ResolveReference(ref).String()
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if result.Location == "" {
			return nil, fmt.Errorf("%w: redirect without location", ErrUnexpectedResponse)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return result, nil
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		if result.Location != "" {
			return result, nil
		}
		return nil, fmt.Errorf("%w: query response: %v", ErrUnexpectedResponse, err)
	}
	result.Inline = &page
	return result, nil
}

// Page fetches the window [from, from+size) of a query result location
func (c *Client) Page(ctx context.Context, location string, from, size int) (*Page, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid result location %q: %w", location, err)
	}
	q := u.Query()
	q.Set("from", strconv.Itoa(from))
	q.Set("size", strconv.Itoa(size))
	u.RawQuery = q.Encode()

	resp, err := c.do(ctx, c.http, http.MethodGet, u.String(), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: result page: %v", ErrUnexpectedResponse, err)
	}
	return &page, nil
}

func (c *Client) sendJSON(ctx context.Context, method, target string, doc map[string]interface{}) (map[string]interface{}, error) {
	var body io.Reader
	contentType := ""
	if doc != nil {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = MediaTypeJSONLD
	}

	resp, err := c.do(ctx, c.http, method, target, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readDocument(resp)
}

func (c *Client) invalidate(ctx context.Context, id string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, id); err != nil {
		c.logger.Warn("failed to invalidate cached document", zap.String("id", id), zap.Error(err))
	}
}

// do sends a request and turns non-success responses into *HTTPError
func (c *Client) do(ctx context.Context, hc *http.Client, method, target string, body io.Reader, contentType string) (*http.Response, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, target, err)
	}
	requestID := c.newID()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", MediaTypeJSONLD+", application/json;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()
	resp, err := hc.Do(req)
	elapsed := c.now().Sub(start)
	if err != nil {
		c.metrics.observeRequest(method, 0, elapsed)
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}

	c.metrics.observeRequest(method, resp.StatusCode, elapsed)
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("url", target),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	token, ok := tokenFromContext(ctx)
	if !ok && c.tokens != nil {
		var err error
		if token, err = c.tokens.Token(ctx); err != nil {
			return "", fmt.Errorf("failed to obtain access token: %w", err)
		}
	}
	if token == "" {
		return "", nil
	}
	if err := CheckExpiry(token, c.now()); err != nil {
		return "", err
	}
	return token, nil
}

func withRev(target string, rev int) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "rev=" + strconv.Itoa(rev)
}

func readDocument(resp *http.Response) (map[string]interface{}, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return decodeDocument(data)
}

func decodeDocument(data []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]interface{}{}, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return doc, nil
}
