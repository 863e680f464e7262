package capability

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

const defaultNavigationTimeout = 30 * time.Second

// Renderer turns a URL into the text a browser renders for it.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

type PageCache interface {
	Get(ctx context.Context, url string) (string, bool, error)
	Set(ctx context.Context, url string, text string) error
}

// Fetcher is the browser-backed fetch capability. One render runs at a time.
type Fetcher struct {
	renderer Renderer
	cache    PageCache
	timeout  time.Duration
	mu       sync.Mutex
}

var _ contractx.Capability = (*Fetcher)(nil)

type FetcherOption func(*Fetcher)

func WithPageCache(cache PageCache) FetcherOption {
	return func(f *Fetcher) {
		f.cache = cache
	}
}

func WithNavigationTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

func NewFetcher(renderer Renderer, opts ...FetcherOption) (*Fetcher, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	f := &Fetcher{
		renderer: renderer,
		timeout:  defaultNavigationTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Fetcher) Invoke(ctx context.Context, input string, _ contractx.Options) (string, error) {
	target, err := normalizeURL(input)
	if err != nil {
		return "", err
	}

	if f.cache != nil {
		text, ok, err := f.cache.Get(ctx, target)
		if err != nil {
			log.Warn().Err(err).Str("url", target).Msg("page cache read failed")
		} else if ok {
			log.Debug().Str("url", target).Msg("page cache hit")
			return text, nil
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	text, err := f.renderer.Render(callCtx, target)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: navigation timeout after %s url=%s", contractx.ErrFetch, f.timeout, target)
		}
		return "", fmt.Errorf("%w: render url=%s: %w", contractx.ErrFetch, target, err)
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, target, text); err != nil {
			log.Warn().Err(err).Str("url", target).Msg("page cache write failed")
		}
	}

	return text, nil
}

func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is empty", contractx.ErrFetch)
	}
	u, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %v", contractx.ErrFetch, trimmed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", contractx.ErrFetch, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", contractx.ErrFetch, trimmed)
	}
	return u.String(), nil
}
