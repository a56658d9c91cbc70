package cache

import (
	"fmt"
	"strings"
)

// Scope identifies one repository as "owner/name".
type Scope string

// ParseScope validates raw and returns it as a Scope.
// The expected form is owner/name with non-empty halves.
func ParseScope(raw string) (Scope, error) {
	owner, name, ok := strings.Cut(raw, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("invalid scope %q: expected owner/name", raw)
	}
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid scope %q: expected owner/name", raw)
	}
	return Scope(raw), nil
}

// Owner returns the owner half of the scope.
func (s Scope) Owner() string {
	owner, _, _ := strings.Cut(string(s), "/")
	return owner
}

// Name returns the repository half of the scope.
func (s Scope) Name() string {
	_, name, _ := strings.Cut(string(s), "/")
	return name
}

// String returns the scope in owner/name form.
func (s Scope) String() string {
	return string(s)
}

// CompositeKey uniquely identifies one record within an entity kind:
// the scope plus the entity's stable number (PR/issue number, or the
// provider's numeric label ID).
type CompositeKey struct {
	Scope  Scope
	Number int
}

// Key constructs a CompositeKey.
func Key(scope Scope, number int) CompositeKey {
	return CompositeKey{Scope: scope, Number: number}
}

// String returns the key as "owner/name#number".
func (k CompositeKey) String() string {
	return fmt.Sprintf("%s#%d", k.Scope, k.Number)
}
