package voice

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDisabledWithoutCredentials(t *testing.T) {
	s := NewService("", "", "", 0)
	if s.Enabled() {
		t.Fatal("expected service to be disabled with empty credentials")
	}
	if _, err := s.IssueToken("room1", "peer1"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestIssueTokenClaims(t *testing.T) {
	s := NewService("key123", "secret123", "wss://sfu.example.com", time.Hour)
	if !s.Enabled() {
		t.Fatal("expected service to be enabled")
	}

	signed, err := s.IssueToken("project-abc", "peer-1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	var claims accessTokenClaims
	parsed, err := jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return []byte("secret123"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("ParseWithClaims: %v (valid=%v)", err, parsed.Valid)
	}

	if claims.Issuer != "key123" {
		t.Fatalf("expected issuer key123, got %s", claims.Issuer)
	}
	if claims.Subject != "peer-1" {
		t.Fatalf("expected subject peer-1, got %s", claims.Subject)
	}
	if claims.ID == "" {
		t.Fatal("expected a non-empty jti")
	}
	if claims.Video.Room != "project-abc" || !claims.Video.RoomJoin || !claims.Video.CanPublish {
		t.Fatalf("unexpected video grant: %+v", claims.Video)
	}
}
