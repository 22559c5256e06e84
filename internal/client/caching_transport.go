// Package client builds outbound HTTP clients.
package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// DefaultTimeout bounds every outbound request.
const DefaultTimeout = 30 * time.Second

// NewCachingHTTPClient creates an HTTP client that honours Cache-Control,
// ETag and Vary headers. It is used for GitHub API lookups during sign-in,
// where repeated requests for the same account revalidate instead of
// counting against the rate limit.
func NewCachingHTTPClient(cacheDir string) *http.Client {
	if cacheDir == "" {
		// Use in-memory cache if no cache directory specified
		return NewInMemoryCachingHTTPClient()
	}

	// Use disk-based cache for persistence across restarts
	cache := diskcache.New(cacheDir)
	transport := httpcache.NewTransport(cache)

	return &http.Client{
		Transport: transport,
		Timeout:   DefaultTimeout,
	}
}

// NewInMemoryCachingHTTPClient creates an HTTP client with in-memory caching only.
func NewInMemoryCachingHTTPClient() *http.Client {
	return &http.Client{
		Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
		Timeout:   DefaultTimeout,
	}
}
