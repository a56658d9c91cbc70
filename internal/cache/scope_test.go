package cache

import "testing"

// TestParseScope verifies owner/name validation.
func TestParseScope(t *testing.T) {
	tests := []struct {
		raw     string
		want    Scope
		wantErr bool
	}{
		{"octo/reef", Scope("octo/reef"), false},
		{"a/b", Scope("a/b"), false},
		{"", "", true},
		{"no-slash", "", true},
		{"/name", "", true},
		{"owner/", "", true},
		{"a/b/c", "", true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseScope(%q) = %q, want error", tt.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseScope(%q) returned error: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScope(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

// TestScopeHalves verifies Owner and Name extraction.
func TestScopeHalves(t *testing.T) {
	s := Scope("octo/reef")
	if s.Owner() != "octo" {
		t.Errorf("Owner() = %q, want octo", s.Owner())
	}
	if s.Name() != "reef" {
		t.Errorf("Name() = %q, want reef", s.Name())
	}
}

// TestCompositeKeyString verifies the owner/name#number rendering.
func TestCompositeKeyString(t *testing.T) {
	k := Key("octo/reef", 42)
	if got := k.String(); got != "octo/reef#42" {
		t.Errorf("String() = %q, want octo/reef#42", got)
	}
}
