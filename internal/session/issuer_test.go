package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/your-org/faceid/internal/faceid"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	iss, err := NewIssuer(testSecret, "faceid-test", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	sess, err := iss.Start(context.Background(), "u1", faceid.MethodFace)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.IdentityID != "u1" || sess.Method != faceid.MethodFace {
		t.Errorf("session = %+v", sess)
	}
	if got := sess.ExpiresAt.Sub(sess.IssuedAt); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}

	back, err := iss.Verify(sess.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if back.ID != sess.ID || back.IdentityID != "u1" || back.Method != faceid.MethodFace {
		t.Errorf("verified session = %+v, want %+v", back, sess)
	}
}

func TestVerifyRejects(t *testing.T) {
	iss, _ := NewIssuer(testSecret, "faceid-test", time.Hour)
	other, _ := NewIssuer("ffffffffffffffffffffffffffffffff", "faceid-test", time.Hour)
	otherIssuer, _ := NewIssuer(testSecret, "someone-else", time.Hour)

	foreign, _ := other.Start(context.Background(), "u1", faceid.MethodPassword)
	wrongIss, _ := otherIssuer.Start(context.Background(), "u1", faceid.MethodPassword)

	expiredIss, _ := NewIssuer(testSecret, "faceid-test", time.Minute)
	expiredIss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := expiredIss.Start(context.Background(), "u1", faceid.MethodFace)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign.Token},
		{"wrong issuer", wrongIss.Token},
		{"expired", expired.Token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := iss.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify(%s) error = %v, want ErrInvalidToken", tt.name, err)
			}
		})
	}
}

func TestNewIssuerShortSecret(t *testing.T) {
	if _, err := NewIssuer("short", "x", time.Hour); err == nil {
		t.Error("NewIssuer with short secret: want error")
	}
}

func TestStartRequiresIdentity(t *testing.T) {
	iss, _ := NewIssuer(testSecret, "faceid-test", time.Hour)
	if _, err := iss.Start(context.Background(), "", faceid.MethodFace); !errors.Is(err, faceid.ErrEmptyIdentity) {
		t.Errorf("Start with empty identity: err = %v", err)
	}
}
