package statestore

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.GenerateToken("server", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if jt.Token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	role, err := tm.ValidateToken(jt.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if role != "server" {
		t.Errorf("ValidateToken() role = %v, want server", role)
	}
}

func TestValidateTokenUnknown(t *testing.T) {
	tm := NewTokenManager()
	if _, err := tm.ValidateToken("does-not-exist"); err == nil {
		t.Error("ValidateToken() with unknown token should error")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.GenerateToken("pod:pod-1", -time.Second)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := tm.ValidateToken(jt.Token); err == nil {
		t.Error("ValidateToken() with expired token should error")
	}
}

func TestRevokeToken(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.GenerateToken("browser", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tm.RevokeToken(jt.Token)
	if _, err := tm.ValidateToken(jt.Token); err == nil {
		t.Error("ValidateToken() after revoke should error")
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	tm := NewTokenManager()

	expired, err := tm.GenerateToken("server", -time.Second)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	live, err := tm.GenerateToken("server", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tm.CleanupExpiredTokens()

	tokens := tm.ListTokens()
	if len(tokens) != 1 || tokens[0].Token != live.Token {
		t.Errorf("ListTokens() after cleanup = %+v, want only %v", tokens, live.Token)
	}
	_ = expired
}

func TestListTokensIncludesAllRoles(t *testing.T) {
	tm := NewTokenManager()

	if _, err := tm.GenerateToken("server", time.Minute); err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := tm.GenerateToken("pod:pod-7", 5*time.Minute); err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tokens := tm.ListTokens()
	if len(tokens) != 2 {
		t.Fatalf("ListTokens() len = %d, want 2", len(tokens))
	}
}
