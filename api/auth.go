package api

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/campus-events/event-registration/registration"
	"github.com/golang-jwt/jwt/v5"
)

const adminRole = "admin"

// User is the caller identified by a verified bearer token.
type User struct {
	ID    string
	Email string
	Roles []string
}

func (u User) IsAdmin() bool {
	return slices.Contains(u.Roles, adminRole)
}

func (u User) Actor() registration.Actor {
	return registration.Actor{UserID: u.ID, IsAdmin: u.IsAdmin()}
}

func (u User) Registrant() registration.Registrant {
	return registration.Registrant{UserID: u.ID, Email: u.Email}
}

type TokenVerifier interface {
	Verify(token string) (User, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

var _ TokenVerifier = &JWTVerifier{}

// JWTVerifier accepts HS256 tokens issued by the campus session service.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *JWTVerifier) Verify(token string) (User, error) {
	claims := &tokenClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return User{}, fmt.Errorf("invalid token: %w", err)
	}

	if claims.Subject == "" {
		return User{}, errors.New("token has no subject")
	}

	return User{
		ID:    claims.Subject,
		Email: claims.Email,
		Roles: claims.Roles,
	}, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
