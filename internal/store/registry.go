package store

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register makes a store factory available for scheme.
// Registering the same scheme twice replaces the previous factory.
func Register(scheme string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[scheme] = f
}

// Schemes returns the registered schemes, sorted
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	schemes := make([]string, 0, len(factories))
	for s := range factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open opens a session for rawURL with the factory registered for its scheme
func Open(ctx context.Context, rawURL string, opts Options) (Repository, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store URL %q: %w", rawURL, err)
	}

	registryMu.RLock()
	f, ok := factories[u.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	return f(ctx, u, opts)
}
