// Package resolver implements the per-platform metadata and asset resolvers
// behind the shared Resolver capability interface.
package resolver

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tunepull/internal/core"
)

// Registry maps platform tags to their resolver variant.
type Registry struct {
	resolvers map[core.Platform]core.Resolver
}

func NewRegistry(resolvers ...core.Resolver) *Registry {
	r := &Registry{resolvers: make(map[core.Platform]core.Resolver, len(resolvers))}
	for _, res := range resolvers {
		r.resolvers[res.Platform()] = res
	}
	return r
}

// For returns the resolver for a platform tag.
func (r *Registry) For(p core.Platform) (core.Resolver, bool) {
	res, ok := r.resolvers[p]
	return res, ok
}

// newHTTPClient builds the API client the resolvers share, honoring the
// configured proxy when set.
func newHTTPClient(proxyURL string) *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
		}
	}
	return client
}

// fetchStatusError maps an asset endpoint HTTP status to a fetch error kind.
func fetchStatusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &core.FetchError{Kind: core.FetchAuthExpired, Cause: fmt.Sprintf("HTTP %d", code)}
	case code == http.StatusNotFound || code == http.StatusGone:
		return &core.FetchError{Kind: core.FetchQualityUnavailable, Cause: fmt.Sprintf("HTTP %d", code)}
	case code == http.StatusTooManyRequests || code >= 500:
		return &core.FetchError{Kind: core.FetchTransient, Cause: fmt.Sprintf("HTTP %d", code)}
	default:
		return &core.FetchError{Kind: core.FetchFatal, Cause: fmt.Sprintf("HTTP %d", code)}
	}
}
