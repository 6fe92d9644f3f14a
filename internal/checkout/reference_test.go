package checkout

import "testing"

// TestParseReference classifies the instrument id formats seen in stored
// subscription and order metadata.
func TestParseReference(t *testing.T) {
	tests := []struct {
		id   string
		kind RefKind
	}{
		{"", RefNone},
		{"src_abc123", RefSource},
		{"card_abc123", RefSource},
		{"pm_abc123", RefMethod},
		{"tok_visa", RefMethod},
	}
	for _, tt := range tests {
		ref := ParseReference(tt.id)
		if ref.Kind != tt.kind {
			t.Errorf("ParseReference(%q).Kind = %v, want %v", tt.id, ref.Kind, tt.kind)
		}
		if tt.kind != RefNone && ref.ID != tt.id {
			t.Errorf("ParseReference(%q).ID = %q", tt.id, ref.ID)
		}
	}
	if !ParseReference("").IsZero() {
		t.Error("empty reference should be zero")
	}
}
