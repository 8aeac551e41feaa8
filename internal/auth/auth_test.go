package auth

import (
	"testing"
	"time"

	"github.com/ehrlich-b/perch/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIssueAndValidate(t *testing.T) {
	s := openTestStore(t)
	secret, err := GenerateOrLoadSecret(s, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(secret) != 32 {
		t.Errorf("secret length = %d, want 32", len(secret))
	}

	token, exp, err := IssueToken(secret, "cli", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if exp.Before(time.Now()) {
		t.Error("token already expired")
	}

	claims, err := ValidateToken(secret, token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Client != "cli" || claims.Subject != "cli" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestSecretPersistsInStore(t *testing.T) {
	s := openTestStore(t)

	first, err := GenerateOrLoadSecret(s, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := GenerateOrLoadSecret(s, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("secret changed between loads")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	s := openTestStore(t)
	secret, err := GenerateOrLoadSecret(s, "")
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := IssueToken(secret, "cli", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	other := make([]byte, 32)
	if _, err := ValidateToken(other, token); err == nil {
		t.Error("token validated with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	s := openTestStore(t)
	secret, err := GenerateOrLoadSecret(s, "")
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := IssueToken(secret, "cli", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(secret, token); err == nil {
		t.Error("expired token validated")
	}
}
