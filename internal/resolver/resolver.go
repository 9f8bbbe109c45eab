// Package resolver turns possibly-relative image references into the absolute
// URL strings used as collection identity.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrMalformedURL is returned when neither the candidate nor the base can
// produce an absolute URL.
var ErrMalformedURL = errors.New("malformed url")

// DefaultCacheSize bounds the number of parsed base URLs kept by a Resolver.
const DefaultCacheSize = 128

// Resolver resolves references against base page URLs. A page is usually
// scanned many times, so parsed bases are kept in a small LRU.
type Resolver struct {
	bases *lru.Cache[string, *url.URL]
}

// New returns a Resolver caching up to size parsed base URLs.
func New(size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *url.URL](size)
	if err != nil {
		return nil, fmt.Errorf("creating base url cache: %w", err)
	}
	return &Resolver{bases: cache}, nil
}

var defaultResolver = mustNew(DefaultCacheSize)

func mustNew(size int) *Resolver {
	r, err := New(size)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve resolves candidate against base using the package default Resolver.
func Resolve(candidate, base string) (string, error) {
	return defaultResolver.Resolve(candidate, base)
}

// Resolve returns candidate unchanged when it is already absolute, otherwise
// the RFC 3986 resolution of candidate against base.
func (r *Resolver) Resolve(candidate, base string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty reference", ErrMalformedURL)
	}

	ref, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: reference %q: %v", ErrMalformedURL, candidate, err)
	}
	if ref.IsAbs() {
		return candidate, nil
	}

	baseURL, err := r.parseBase(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// parseBase returns the parsed absolute base, consulting the cache first.
// Cached values are never mutated; ResolveReference returns a fresh URL.
func (r *Resolver) parseBase(base string) (*url.URL, error) {
	base = strings.TrimSpace(base)
	if u, ok := r.bases.Get(base); ok {
		return u, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: base %q: %v", ErrMalformedURL, base, err)
	}
	if !u.IsAbs() || (u.Host == "" && u.Scheme != "file") {
		return nil, fmt.Errorf("%w: base %q is not an absolute url", ErrMalformedURL, base)
	}
	r.bases.Add(base, u)
	return u, nil
}
