package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

var _ IdentityVerifier = (*allowListVerifier)(nil) // ensure allowListVerifier implements IdentityVerifier.

// Identity is an authenticated caller.
type Identity struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// IdentityVerifier resolves a username/password pair into an Identity.
type IdentityVerifier interface {
	Verify(username, password string) (Identity, error)
}

// allowListVerifier checks credentials against a static list of bcrypt hashes.
type allowListVerifier struct {
	users map[string]UserConfig
}

// NewAllowListVerifier builds a verifier from the configured users.
func NewAllowListVerifier(users []UserConfig) IdentityVerifier {
	m := make(map[string]UserConfig, len(users))
	for _, u := range users {
		m[u.Username] = u
	}
	return &allowListVerifier{users: m}
}

// Verify compares the password with the stored hash of that user.
func (v *allowListVerifier) Verify(username, password string) (Identity, error) {
	u, ok := v.users[username]
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{Username: u.Username, Admin: u.Admin}, nil
}

// HashPassword creates a bcrypt hash suitable for the users allow-list.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// TokenService issues and parses the HS256 bearer tokens of logged in users.
type TokenService struct {
	secret   []byte
	issuer   string
	duration time.Duration
	clock    Clocker
}

// Claims embeds the caller identity into the registered jwt claims.
type Claims struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// NewTokenService provides a token service from the auth configuration.
func NewTokenService(config *AuthConfig, clock Clocker) *TokenService {
	return &TokenService{
		secret:   []byte(config.TokenSecret),
		issuer:   config.TokenIssuer,
		duration: config.TokenTTL,
		clock:    clock,
	}
}

// Sign returns a signed token for id and its expiry time.
func (ts *TokenService) Sign(id Identity) (string, time.Time, error) {
	now := ts.clock.Now()
	exp := now.Add(ts.duration)
	claims := Claims{
		Username: id.Username,
		Admin:    id.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   id.Username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

// Parse validates a token and returns the identity it carries.
func (ts *TokenService) Parse(tokenString string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secret, nil
	}, jwt.WithTimeFunc(ts.clock.Now), jwt.WithIssuer(ts.issuer))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.Username == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Username: claims.Username, Admin: claims.Admin}, nil
}
