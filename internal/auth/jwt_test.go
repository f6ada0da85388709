package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestSign(t *testing.T) {
	tok, err := Sign("secret", "user-1", true, 60)
	if err != nil {
		t.Fatal(err)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token should verify: %v", err)
	}
	if claims.Sub != "user-1" || !claims.IsAdmin || claims.Issuer != "h2all" {
		t.Errorf("unexpected claims %+v", claims)
	}

	if _, err := Sign("", "user-1", false, 60); err == nil {
		t.Error("empty secret should be rejected")
	}
	if _, err := Sign("secret", "user-1", false, 0); err == nil {
		t.Error("non-positive ttl should be rejected")
	}
}
