package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-identity-core/internal/application/otp"
	"github.com/go-identity-core/internal/domain"
	"github.com/go-identity-core/internal/infrastructure/google"
	jwtinfra "github.com/go-identity-core/internal/infrastructure/jwt"
	"github.com/go-identity-core/internal/pkg/id"
)

// DynamoDB attribute names used in partial update maps.
const (
	fieldStatus        = "status"
	fieldProvider      = "provider"
	fieldEmailVerified = "email_verified"
	fieldPasswordHash  = "password_hash"
	fieldFullName      = "full_name"
	fieldBirthDate     = "birth_date"
)

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type GoogleAuthRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ValidateOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type Service interface {
	SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.Account, error)
	SignIn(ctx context.Context, req domain.SignInRequest) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	GoogleAuth(ctx context.Context, idToken string) (*domain.TokenPair, error)
	SendOTP(ctx context.Context, email string) error
	ResendOTP(ctx context.Context, email string) error
	ValidateOTP(ctx context.Context, email, code string) error
	CompleteAuth(ctx context.Context, req domain.CompleteAuthRequest) (*domain.TokenPair, error)
	RequestPasswordRecovery(ctx context.Context, email string) error
	ResendPasswordRecovery(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
	Me(ctx context.Context, accountID string) (*domain.Account, error)
	Block(ctx context.Context, email string) error
}

type accountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Update(ctx context.Context, email string, updates map[string]interface{}) error
	Transition(ctx context.Context, email string, from domain.Status, updates map[string]interface{}) error
}

type passwordHasher interface {
	Hash(plain string) (string, error)
	Matches(hash, plain string) bool
}

type tokenIssuer interface {
	IssuePair(a *domain.Account) (*domain.TokenPair, error)
	ParseRefresh(token string) (*jwtinfra.Claims, error)
}

type otpEngine interface {
	Send(ctx context.Context, ns otp.Namespace, email string) error
	Resend(ctx context.Context, ns otp.Namespace, email string) error
	Verify(ctx context.Context, ns otp.Namespace, code, email string) error
	State(ctx context.Context, ns otp.Namespace, email string) (otp.State, error)
}

type federatedVerifier interface {
	Verify(ctx context.Context, token string) (*google.Payload, error)
}

type service struct {
	accounts   accountStore
	hasher     passwordHasher
	tokens     tokenIssuer
	otp        otpEngine
	verifyNS   otp.Namespace
	recoveryNS otp.Namespace
	federated  federatedVerifier
	now        func() time.Time
	logger     *slog.Logger
}

type ServiceDeps struct {
	AccountRepo       accountStore
	Hasher            passwordHasher
	Tokens            tokenIssuer
	OTP               otpEngine
	EmailVerification otp.Namespace
	PasswordRecovery  otp.Namespace
	Federated         federatedVerifier
	// Now defaults to time.Now.
	Now func() time.Time
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		accounts:   deps.AccountRepo,
		hasher:     deps.Hasher,
		tokens:     deps.Tokens,
		otp:        deps.OTP,
		verifyNS:   deps.EmailVerification,
		recoveryNS: deps.PasswordRecovery,
		federated:  deps.Federated,
		now:        deps.Now,
		logger:     deps.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SignUp registers a local account. It stays INCOMPLETE until the email is
// verified and the profile is completed.
func (s *service) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.Account, error) {
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &domain.Account{
		AccountID:    id.New(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Status:       domain.StatusIncomplete,
		Provider:     domain.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *service) SignIn(ctx context.Context, req domain.SignInRequest) (*domain.TokenPair, error) {
	a, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if err := domain.CanSignIn(a); err != nil {
		return nil, err
	}
	if a.PasswordHash == "" || !s.hasher.Matches(a.PasswordHash, req.Password) {
		return nil, domain.ErrWrongCredentials
	}
	return s.tokens.IssuePair(a)
}

// Refresh mints a new pair from a refresh token. Claims are rebuilt from the
// current account so role and status changes take effect.
func (s *service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	a, err := s.accounts.GetByEmail(ctx, claims.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("unknown subject: %w", domain.ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	if err := domain.CanSignIn(a); err != nil {
		return nil, err
	}
	return s.tokens.IssuePair(a)
}

// GoogleAuth signs in with a Google ID token, creating the account on first
// use and activating INCOMPLETE accounts.
func (s *service) GoogleAuth(ctx context.Context, idToken string) (*domain.TokenPair, error) {
	p, err := s.federated.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrAccessDenied)
	}

	a, err := s.accounts.GetByEmail(ctx, p.Email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a, err = s.createFederated(ctx, p)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if domain.PromoteFederated(a, domain.ProviderGoogle) {
			err := s.accounts.Transition(ctx, a.Email, domain.StatusIncomplete, map[string]interface{}{
				fieldStatus:        a.Status,
				fieldProvider:      a.Provider,
				fieldEmailVerified: true,
				fieldPasswordHash:  a.PasswordHash,
			})
			if errors.Is(err, domain.ErrConflict) {
				// Someone else moved the account first; gate on what is stored now.
				a, err = s.accounts.GetByEmail(ctx, p.Email)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	if err := domain.CanSignIn(a); err != nil {
		return nil, err
	}
	return s.tokens.IssuePair(a)
}

func (s *service) createFederated(ctx context.Context, p *google.Payload) (*domain.Account, error) {
	now := s.now().UTC()
	a := &domain.Account{
		AccountID: id.New(),
		Email:     p.Email,
		Role:      domain.RoleUser,
		Status:    domain.StatusIncomplete,
		FullName:  p.FullName(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	domain.PromoteFederated(a, domain.ProviderGoogle)
	err := s.accounts.Create(ctx, a)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost a race with a concurrent sign-up; use the stored account.
		return s.accounts.GetByEmail(ctx, p.Email)
	}
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "created federated account", "account_id", a.AccountID, "provider", a.Provider)
	return a, nil
}

func (s *service) SendOTP(ctx context.Context, email string) error {
	if _, err := s.accounts.GetByEmail(ctx, email); err != nil {
		return err
	}
	return s.otp.Send(ctx, s.verifyNS, email)
}

func (s *service) ResendOTP(ctx context.Context, email string) error {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.throttled(ctx, s.verifyNS, a, s.otp.Resend(ctx, s.verifyNS, email))
}

// ValidateOTP consumes an email-verification code and marks the email verified.
func (s *service) ValidateOTP(ctx context.Context, email, code string) error {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.otp.Verify(ctx, s.verifyNS, code, email); err != nil {
		return s.throttled(ctx, s.verifyNS, a, err)
	}
	if a.EmailVerified {
		return nil
	}
	return s.accounts.Update(ctx, email, map[string]interface{}{fieldEmailVerified: true})
}

// throttled passes err through, logging the OTP session counters when err is
// a throttle refusal. The code itself is never logged.
func (s *service) throttled(ctx context.Context, ns otp.Namespace, a *domain.Account, err error) error {
	if !errors.Is(err, domain.ErrTooManyRequests) {
		return err
	}
	st, serr := s.otp.State(ctx, ns, a.Email)
	if serr != nil {
		s.logger.WarnContext(ctx, "otp state unavailable", "namespace", ns.Name, "account_id", a.AccountID, "error", serr)
		return err
	}
	s.logger.WarnContext(ctx, "otp throttled",
		"namespace", ns.Name,
		"account_id", a.AccountID,
		"session", st.Kind.String(),
		"resends", st.Attempts,
		"checks", st.Failures,
		"expires_in", st.ExpiresIn,
	)
	return err
}

// CompleteAuth stores the profile and activates the account. The password is
// required because INCOMPLETE accounts cannot hold tokens.
func (s *service) CompleteAuth(ctx context.Context, req domain.CompleteAuthRequest) (*domain.TokenPair, error) {
	a, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if a.PasswordHash == "" || !s.hasher.Matches(a.PasswordHash, req.Password) {
		return nil, domain.ErrWrongCredentials
	}
	if err := domain.CanActivate(a); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		fieldStatus:   domain.StatusActive,
		fieldFullName: req.FullName,
	}
	if req.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("birth_date must be in YYYY-MM-DD format: %w", domain.ErrBadRequest)
		}
		updates[fieldBirthDate] = bd
		a.BirthDate = &bd
	}

	err = s.accounts.Transition(ctx, a.Email, domain.StatusIncomplete, updates)
	if errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("concurrent activation: %w", domain.ErrAlreadyActivated)
	}
	if err != nil {
		return nil, err
	}
	a.Status = domain.StatusActive
	a.FullName = req.FullName
	return s.tokens.IssuePair(a)
}

func (s *service) RequestPasswordRecovery(ctx context.Context, email string) error {
	if _, err := s.accounts.GetByEmail(ctx, email); err != nil {
		return err
	}
	return s.otp.Send(ctx, s.recoveryNS, email)
}

func (s *service) ResendPasswordRecovery(ctx context.Context, email string) error {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.throttled(ctx, s.recoveryNS, a, s.otp.Resend(ctx, s.recoveryNS, email))
}

// ResetPassword consumes a recovery code and replaces the password hash.
func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	a, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	if err := s.otp.Verify(ctx, s.recoveryNS, req.OTP, req.Email); err != nil {
		return s.throttled(ctx, s.recoveryNS, a, err)
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	return s.accounts.Update(ctx, req.Email, map[string]interface{}{fieldPasswordHash: hash})
}

// Me resolves the account by id, so a token keeps working across an email
// change.
func (s *service) Me(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.accounts.Get(ctx, accountID)
}

// Block moves an account to BLOCKED. Blocked accounts cannot sign in or refresh.
func (s *service) Block(ctx context.Context, email string) error {
	if err := s.accounts.Update(ctx, email, map[string]interface{}{fieldStatus: domain.StatusBlocked}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "account blocked", "email", email)
	return nil
}
