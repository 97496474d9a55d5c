package jwtinfra

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-identity-core/internal/config"
	"github.com/go-identity-core/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Parse failures. Each wraps the domain sentinel handlers map to a status code.
var (
	ErrMalformed        = fmt.Errorf("malformed token: %w", domain.ErrInvalidToken)
	ErrSignatureInvalid = fmt.Errorf("token signature invalid: %w", domain.ErrInvalidToken)
	ErrWrongTokenType   = fmt.Errorf("wrong token type: %w", domain.ErrInvalidToken)
	ErrExpired          = fmt.Errorf("token expired: %w", domain.ErrTokenExpired)
)

// Claims holds the JWT payload fields. Subject is the account email.
type Claims struct {
	UserID        string   `json:"user_id,omitempty"`
	Roles         []string `json:"roles"`
	EmailVerified bool     `json:"email_verified"`
	Status        string   `json:"status,omitempty"`
	TokenType     string   `json:"typ"`
	jwt.RegisteredClaims
}

// Provider signs and verifies RS256 JWTs. It holds no mutable state after
// construction and is safe for concurrent use.
type Provider struct {
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
	parser        *jwt.Parser
}

// Option customizes a Provider.
type Option func(*Provider)

// WithClock replaces time.Now for minting and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProvider(cfg *config.Config, opts ...Option) (*Provider, error) {
	privBytes, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return NewProviderFromKeys(privKey, pubKey, cfg.JWTIssuer, cfg.JWTExpiry, cfg.RefreshTokenExpiry, opts...)
}

// NewProviderFromKeys builds a Provider from already-parsed keys.
func NewProviderFromKeys(priv *rsa.PrivateKey, pub *rsa.PublicKey, issuer string, accessExpiry, refreshExpiry time.Duration, opts ...Option) (*Provider, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("missing signing key: %w", domain.ErrInternal)
	}
	if accessExpiry <= 0 || refreshExpiry <= 0 {
		return nil, fmt.Errorf("token expiry must be positive: %w", domain.ErrInternal)
	}
	// exp is a NumericDate with second precision.
	if accessExpiry%time.Second != 0 || refreshExpiry%time.Second != 0 {
		return nil, fmt.Errorf("token expiry must be a whole number of seconds: %w", domain.ErrInternal)
	}
	p := &Provider{
		privateKey:    priv,
		publicKey:     pub,
		issuer:        issuer,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	p.parser = jwt.NewParser(parserOpts...)
	return p, nil
}

// Mint signs claims for subject, expiring ttl after the issue time. ttl must
// be a whole number of seconds. Errors are configuration failures only.
func (p *Provider) Mint(subject string, claims Claims, ttl time.Duration) (string, error) {
	if ttl%time.Second != 0 {
		return "", fmt.Errorf("token ttl %s is not whole seconds: %w", ttl, domain.ErrInternal)
	}
	return p.mintAt(subject, claims, p.now().Truncate(time.Second), ttl)
}

func (p *Provider) mintAt(subject string, claims Claims, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims.Subject = subject
	claims.Issuer = p.issuer
	claims.IssuedAt = jwt.NewNumericDate(issuedAt)
	claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %v: %w", err, domain.ErrInternal)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of tokenStr.
func (p *Provider) Parse(tokenStr string) (*Claims, error) {
	token, err := p.parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// IsValid reports whether tokenStr parses, is unexpired and belongs to
// expectedSubject. The subject comparison is exact and case-sensitive.
func (p *Provider) IsValid(tokenStr, expectedSubject string) bool {
	claims, err := p.Parse(tokenStr)
	if err != nil {
		return false
	}
	return claims.Subject == expectedSubject
}

// Verify parses an access token.
func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	return p.parseTyped(tokenStr, TokenTypeAccess)
}

// ParseRefresh parses a refresh token. Access tokens are rejected.
func (p *Provider) ParseRefresh(tokenStr string) (*Claims, error) {
	return p.parseTyped(tokenStr, TokenTypeRefresh)
}

// IssuePair mints an access and a refresh token for the account.
func (p *Provider) IssuePair(a *domain.Account) (*domain.TokenPair, error) {
	base := Claims{
		UserID:        a.AccountID,
		Roles:         []string{a.Role},
		EmailVerified: a.EmailVerified,
		Status:        string(a.Status),
	}

	issuedAt := p.now().Truncate(time.Second)

	access := base
	access.TokenType = TokenTypeAccess
	accessToken, err := p.mintAt(a.Email, access, issuedAt, p.accessExpiry)
	if err != nil {
		return nil, err
	}

	refresh := base
	refresh.TokenType = TokenTypeRefresh
	refreshToken, err := p.mintAt(a.Email, refresh, issuedAt, p.refreshExpiry)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  issuedAt.Add(p.accessExpiry),
		RefreshExpiresAt: issuedAt.Add(p.refreshExpiry),
	}, nil
}

func (p *Provider) parseTyped(tokenStr, typ string) (*Claims, error) {
	claims, err := p.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != typ {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	default:
		return ErrMalformed
	}
}
