package forge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/perch-review/perch/internal/cache"
)

// ErrorKind classifies a provider failure so callers can decide
// between waiting out a rate limit, prompting for credentials, and
// plain retry.
type ErrorKind string

const (
	// KindRateLimit means the provider throttled us.
	KindRateLimit ErrorKind = "rate-limit"
	// KindAuth means the credential was missing, expired or rejected.
	KindAuth ErrorKind = "auth"
	// KindNotFound means the repository or entity doesn't exist, or
	// the credential can't see it.
	KindNotFound ErrorKind = "not-found"
	// KindTransient covers network hiccups and 5xx responses; worth
	// retrying on the next sync.
	KindTransient ErrorKind = "transient"
)

var errNoSuchLabel = errors.New("no matching label")

// APIError wraps a provider failure with the operation and scope it
// happened on.
type APIError struct {
	Kind  ErrorKind
	Op    string
	Scope cache.Scope
	Err   error
}

func (e *APIError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Scope, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// wrapErr classifies err and attaches op/scope context. nil passes
// through so call sites can wrap unconditionally.
func wrapErr(op string, scope cache.Scope, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &APIError{Kind: classify(err), Op: op, Scope: scope, Err: err}
}

// classify maps an error onto the taxonomy. The GraphQL transport
// surfaces provider errors as message strings, so this is pattern
// matching on the phrases GitHub actually sends.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "secondary limit"),
		strings.Contains(msg, "was submitted too quickly"),
		strings.Contains(msg, "403"):
		return KindRateLimit
	case strings.Contains(msg, "bad credentials"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "requires authentication"),
		strings.Contains(msg, "resource not accessible"):
		return KindAuth
	case strings.Contains(msg, "could not resolve"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "404"):
		return KindNotFound
	default:
		return KindTransient
	}
}
