// Package auth resolves the forge credential.
//
// Credentials come from several places with a fixed precedence:
// explicit configuration, then environment variables, then a token
// file. A provider that has nothing returns ErrNoCredential and the
// chain moves on; any other error stops resolution, since a present
// but unreadable credential is worth surfacing rather than silently
// skipping.
//
// The literal token "offline" is a sentinel: it selects the fixture
// forge instead of the network, with every other code path unchanged.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoCredential means no credential source had a token. Callers
// surface a setup hint rather than retrying.
var ErrNoCredential = errors.New("no credential available")

// OfflineToken selects the offline fixture forge.
const OfflineToken = "offline"

// Provider yields a forge credential.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// IsOffline reports whether token is the offline sentinel.
func IsOffline(token string) bool {
	return token == OfflineToken
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a provider holding a fixed token. An empty token
// resolves to ErrNoCredential so Static can sit first in a chain fed
// straight from optional configuration.
func Static(token string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", ErrNoCredential
		}
		return token, nil
	})
}

// envVars is the lookup order for environment credentials.
var envVars = []string{"PERCH_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"}

// FromEnv returns a provider reading the first non-empty credential
// environment variable.
func FromEnv() Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		for _, name := range envVars {
			if v := strings.TrimSpace(os.Getenv(name)); v != "" {
				return v, nil
			}
		}
		return "", ErrNoCredential
	})
}

// FromFile returns a provider reading a trimmed token from path. A
// missing file means no credential; any other read failure is an
// error.
func FromFile(path string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoCredential
		}
		if err != nil {
			return "", fmt.Errorf("failed to read token file %s: %w", path, err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", ErrNoCredential
		}
		return token, nil
	})
}

// Chain tries each provider in order, returning the first token.
// ErrNoCredential moves to the next provider; other errors stop the
// chain.
func Chain(providers ...Provider) Provider {
	return ProviderFunc(func(ctx context.Context) (string, error) {
		for _, p := range providers {
			token, err := p.Token(ctx)
			if err == nil {
				return token, nil
			}
			if !errors.Is(err, ErrNoCredential) {
				return "", err
			}
		}
		return "", ErrNoCredential
	})
}

// cachedProvider memoizes the first successful resolution. Resolution
// can touch the filesystem and runs on every forge construction, so
// one lookup per process is enough.
type cachedProvider struct {
	inner Provider

	mu    sync.Mutex
	token string
	found bool
}

// Cached wraps p with memoization of the first successful token.
func Cached(p Provider) Provider {
	return &cachedProvider{inner: p}
}

func (c *cachedProvider) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.found {
		return c.token, nil
	}
	token, err := c.inner.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.found = true
	return token, nil
}
