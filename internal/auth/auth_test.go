package auth

import (
	"testing"

	"github.com/google/uuid"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("hash should not equal plaintext")
	}

	if err := VerifyPassword(hash, "hunter22"); err != nil {
		t.Errorf("VerifyPassword with correct password: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err != ErrEmptyPassword {
		t.Errorf("expected ErrEmptyPassword, got %v", err)
	}
	if err := VerifyPassword("whatever", ""); err != ErrEmptyPassword {
		t.Errorf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	mgr := NewJWTManager("test-secret")
	id := uuid.New()

	token, err := mgr.GenerateToken(id, "buyer@example.com", false)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.CustomerID != id {
		t.Errorf("CustomerID = %s, want %s", claims.CustomerID, id)
	}
	if claims.Email != "buyer@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if claims.IsAdmin {
		t.Error("IsAdmin should be false")
	}
}

func TestJWTAdminClaim(t *testing.T) {
	mgr := NewJWTManager("test-secret")
	token, err := mgr.GenerateToken(uuid.New(), "admin@example.com", true)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !claims.IsAdmin {
		t.Error("IsAdmin should be true")
	}
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-a").GenerateToken(uuid.New(), "a@b.c", false)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := NewJWTManager("secret-b").ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTGarbage(t *testing.T) {
	if _, err := NewJWTManager("s").ValidateToken("not.a.token"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
