// Package auth verifies connection credentials. Token issuance is the
// platform's concern; this side only checks signatures and claims.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stagehall/stagehall/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	UserID      domain.UserID
	DisplayName string
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	sub, _ := (*claims)["sub"].(string)
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	name, _ := (*claims)["name"].(string)
	if name == "" {
		name = sub
	}

	return Identity{UserID: domain.UserID(sub), DisplayName: name}, nil
}
