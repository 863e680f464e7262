package capability

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultPageKeyPrefix = "relay:page:"
	defaultPageTTL       = time.Hour
	maxCacheResponseSize = 4 << 20
)

type UpstashCacheConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"1h"`
}

// Enabled reports whether the REST endpoint and token are both present.
func (c UpstashCacheConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

type CacheOption func(*UpstashPageCache)

func WithKeyPrefix(prefix string) CacheOption {
	return func(c *UpstashPageCache) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			c.keyPrefix = trimmed
		}
	}
}

func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *UpstashPageCache) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// UpstashPageCache keeps rendered page text in Upstash Redis via its REST API.
type UpstashPageCache struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ PageCache = (*UpstashPageCache)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashPageCache(cfg UpstashCacheConfig, opts ...CacheOption) (*UpstashPageCache, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultPageTTL
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	cache := &UpstashPageCache{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultPageKeyPrefix,
		ttl:        ttl,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache, nil
}

func (c *UpstashPageCache) Get(ctx context.Context, pageURL string) (string, bool, error) {
	resp, err := c.exec(ctx, []any{"GET", c.pageKey(pageURL)})
	if err != nil {
		return "", false, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return "", false, nil
	}

	var text string
	if err := json.Unmarshal(result, &text); err != nil {
		return "", false, fmt.Errorf("decode cached page: %w", err)
	}
	return text, true, nil
}

func (c *UpstashPageCache) Set(ctx context.Context, pageURL string, text string) error {
	_, err := c.exec(ctx, []any{"SET", c.pageKey(pageURL), text, "EX", ttlSeconds(c.ttl)})
	return err
}

// pageKey hashes the URL so arbitrarily long addresses map to a fixed-size key.
func (c *UpstashPageCache) pageKey(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return c.keyPrefix + hex.EncodeToString(sum[:])
}

func (c *UpstashPageCache) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
