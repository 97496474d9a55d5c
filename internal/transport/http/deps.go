package http

import (
	"context"

	"github.com/go-identity-core/internal/application/otp"
	"github.com/go-identity-core/internal/domain"
	"github.com/go-identity-core/internal/infrastructure/google"
)

// AccountRepository is the minimal interface the router requires from an account store.
type AccountRepository interface {
	Create(ctx context.Context, a *domain.Account) error
	// Get looks the account up by id through the account_id-index.
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Update(ctx context.Context, email string, updates map[string]interface{}) error
	// Transition applies updates only while the stored status equals from.
	Transition(ctx context.Context, email string, from domain.Status, updates map[string]interface{}) error
}

// OTPEngine issues, re-issues and verifies one-time codes per namespace and
// reports session counters.
type OTPEngine interface {
	Send(ctx context.Context, ns otp.Namespace, email string) error
	Resend(ctx context.Context, ns otp.Namespace, email string) error
	Verify(ctx context.Context, ns otp.Namespace, code, email string) error
	State(ctx context.Context, ns otp.Namespace, email string) (otp.State, error)
}

// FederatedVerifier checks third-party identity tokens.
type FederatedVerifier interface {
	Verify(ctx context.Context, token string) (*google.Payload, error)
}

// PasswordHasher hashes and compares account passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Matches(hash, plain string) bool
}

// Pinger reports whether the ephemeral key store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
