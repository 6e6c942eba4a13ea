package auth

import (
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "noteboard-auth",
		Audience:      "noteboard-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })

	token, expiresIn, err := issuer.IssueToken(Identity{UserID: "user-1", DisplayName: "User One"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry: %d", expiresIn)
	}

	identity, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if identity.UserID != "user-1" || identity.DisplayName != "User One" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issued := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return issued })

	token, _, err := issuer.IssueToken(Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	later := newTestIssuer(func() time.Time { return issued.Add(31 * time.Minute) })
	if _, err := later.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })
	token, _, err := issuer.IssueToken(Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        "noteboard-auth",
		Audience:      "noteboard-api",
		Clock:         func() time.Time { return now },
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	issuer := newTestIssuer(time.Now)
	if _, _, err := issuer.IssueToken(Identity{}); err == nil {
		t.Fatalf("expected an error for an empty subject")
	}
}
