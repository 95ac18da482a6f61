package auth

import "github.com/golang-jwt/jwt/v5"

// AccessTokenPayload captures the identity published by the authentication collaborator.
type AccessTokenPayload struct {
	UserID   string
	Username string
	JTI      string
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}
