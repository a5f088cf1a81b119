package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/momentum/internal/model"
)

func TestMagicLinkIssuer_RoundTrip(t *testing.T) {
	issuer := NewMagicLinkIssuer("secret", 10*time.Minute)

	token, issued, err := issuer.Issue("alice@example.com", "/organizations")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.TokenID != issued.TokenID {
		t.Errorf("TokenID = %q, want %q", claims.TokenID, issued.TokenID)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if claims.RedirectTo != "/organizations" {
		t.Errorf("RedirectTo = %q", claims.RedirectTo)
	}
	if d := time.Until(claims.ExpiresAt); d <= 9*time.Minute || d > 10*time.Minute {
		t.Errorf("ExpiresAt is %v from now, want about 10m", d)
	}
}

func TestMagicLinkIssuer_Rejects(t *testing.T) {
	issuer := NewMagicLinkIssuer("secret", time.Minute)
	token, _, err := issuer.Issue("alice@example.com", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewMagicLinkIssuer("another-secret", time.Minute)
	if _, err := other.Parse(token); !errors.Is(err, model.NewMagicLinkInvalidError()) {
		t.Errorf("wrong secret: got %v, want MAGIC_LINK_INVALID", err)
	}

	if _, err := issuer.Parse(""); !errors.Is(err, model.NewMagicLinkInvalidError()) {
		t.Errorf("empty token: got %v, want MAGIC_LINK_INVALID", err)
	}

	if _, err := issuer.Parse(token + "x"); !errors.Is(err, model.NewMagicLinkInvalidError()) {
		t.Errorf("tampered token: got %v, want MAGIC_LINK_INVALID", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := issuer.Parse(token); !errors.Is(err, model.NewMagicLinkExpiredError()) {
		t.Errorf("expired token: got %v, want MAGIC_LINK_EXPIRED", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "user@example.com", want: "user@example.com"},
		{input: "  User@Example.COM ", want: "user@example.com"},
		{input: "first.last+tag@sub.example.org", want: "first.last+tag@sub.example.org"},
		{input: "", wantErr: true},
		{input: "not-an-email", wantErr: true},
		{input: "Alice <alice@example.com>", wantErr: true},
		{input: "@example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeEmail(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeEmail(%q) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeEmail(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
