package storage

import (
	"testing"

	"github.com/google/uuid"
)

func TestEnrollmentImageKey(t *testing.T) {
	id := uuid.MustParse("6f1c1c6e-8a38-4c1b-9d4e-1b2f1f0c9a11")
	got := EnrollmentImageKey("alice", id)
	want := "enrollments/alice/6f1c1c6e-8a38-4c1b-9d4e-1b2f1f0c9a11.jpg"
	if got != want {
		t.Errorf("EnrollmentImageKey = %q, want %q", got, want)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alice@Example.COM", "alice@example.com"},
		{"  bob@example.com\n", "bob@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeEmail(tt.in); got != tt.want {
			t.Errorf("normalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
