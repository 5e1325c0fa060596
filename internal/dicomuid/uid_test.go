package dicomuid

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		uid  string
		want bool
	}{
		{"1.2.3.4.5", true},
		{"1.2.840.10008.5.1.4.34.5", true},
		{"1.2.840.10008.5.1.4.34.5.1", true},
		{"1.2.840.10008.5.1.4.34.6.1", true},
		{"1.2.99999999999.3.4", true},
		{"0.1.2.3.4", true},
		{"1.0.3", true},
		{"7", true},
		{"", false},
		{"invalid.uid", false},
		{"1.2.3.", false},
		{"1..2.3.4", false},
		{".1.2.3.4", false},
		{"2.1.2.3.00.4", false},
		{"1.02.3", false},
		{"01.2.3", false},
		{"1.2.a", false},
		{"1.2.3 ", false},
		{"1." + strings.Repeat("1", 63), false},
	}

	for _, tt := range tests {
		if got := Validate(tt.uid); got != tt.want {
			t.Errorf("Validate(%q) = %v, want %v", tt.uid, got, tt.want)
		}
	}
}

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		uid := Generate()
		if !strings.HasPrefix(uid, "2.25.") {
			t.Fatalf("generated uid %q lacks 2.25 root", uid)
		}
		if !Validate(uid) {
			t.Fatalf("generated uid %q is not valid", uid)
		}
		if seen[uid] {
			t.Fatalf("duplicate uid %q", uid)
		}
		seen[uid] = true
	}
}
