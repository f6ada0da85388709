package auth

import (
    "errors"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

type Claims struct {
    Sub     string `json:"sub"`
    IsAdmin bool   `json:"is_admin"`
    jwt.RegisteredClaims
}

// Sign issues an HS256 token for sub valid for ttlSeconds.
func Sign(secret, sub string, isAdmin bool, ttlSeconds int64) (string, error) {
    if secret == "" {
        return "", errors.New("jwt secret must not be empty")
    }
    if ttlSeconds <= 0 {
        return "", errors.New("jwt ttl must be positive")
    }
    now := time.Now()
    claims := Claims{
        Sub:     sub,
        IsAdmin: isAdmin,
        RegisteredClaims: jwt.RegisteredClaims{
            ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second)),
            IssuedAt:  jwt.NewNumericDate(now),
            Subject:   sub,
            Issuer:    "h2all",
        },
    }
    token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    return token.SignedString([]byte(secret))
}
