package auth

import (
	"strings"
	"testing"
	"time"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !CheckPassword(hash, "hunter2") {
		t.Error("expected correct password to verify")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("expected wrong password to fail")
	}
}

func TestTokenIssueAndVerify(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)

	token, err := mgr.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := mgr.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("expected alice, got %s", claims.Username)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := NewManager("secret-b", time.Hour).VerifyToken(token); err == nil {
		t.Error("expected verification to fail with wrong secret")
	}
}

func TestTokenExpired(t *testing.T) {
	mgr := NewManager("test-secret", -time.Minute)

	token, err := mgr.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	_, err = mgr.VerifyToken(token)
	if err == nil {
		t.Fatal("expected expired token to fail verification")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("expected expiry error, got %v", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	if _, err := mgr.VerifyToken("not.a.token"); err == nil {
		t.Error("expected garbage token to fail verification")
	}
}
