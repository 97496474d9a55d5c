package otp

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-identity-core/internal/config"
)

// KeyRole selects one of the keys an OTP session is made of.
type KeyRole int

const (
	// RoleOTP maps otp -> email.
	RoleOTP KeyRole = iota
	// RoleEmail maps email -> otp and guards against a second send.
	RoleEmail
	// RoleAttempts maps email -> resend count.
	RoleAttempts
	// RoleFailures maps email -> verification checks since the last success.
	RoleFailures
)

var keyRoles = []KeyRole{RoleOTP, RoleEmail, RoleAttempts, RoleFailures}

func (r KeyRole) String() string {
	switch r {
	case RoleOTP:
		return "otp"
	case RoleEmail:
		return "email"
	case RoleAttempts:
		return "attempts"
	case RoleFailures:
		return "failures"
	}
	return fmt.Sprintf("KeyRole(%d)", int(r))
}

// KeySpec is a key prefix and the lifetime of keys built from it.
type KeySpec struct {
	Prefix string
	TTL    time.Duration
}

// Namespace binds the key specs for one OTP purpose. Distinct namespaces use
// distinct prefixes so that they never collide in a shared store.
type Namespace struct {
	Name        string
	OTP         KeySpec
	Email       KeySpec
	Attempts    KeySpec
	Failures    KeySpec
	MaxAttempts int
	MaxFailures int
}

const (
	NameEmailVerification = "email-verification"
	NamePasswordRecovery  = "password-recovery"
)

const (
	defaultMaxAttempts = 3
	defaultMaxFailures = 5
)

// NewNamespace builds a namespace from its configuration block.
func NewNamespace(name string, c config.OTPNamespace) Namespace {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	maxFailures := c.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	return Namespace{
		Name:        name,
		OTP:         KeySpec{Prefix: c.OTPPrefix, TTL: c.OTPTTL},
		Email:       KeySpec{Prefix: c.EmailPrefix, TTL: c.EmailTTL},
		Attempts:    KeySpec{Prefix: c.AttemptsPrefix, TTL: c.AttemptsTTL},
		Failures:    KeySpec{Prefix: c.FailuresPrefix, TTL: c.FailuresTTL},
		MaxAttempts: maxAttempts,
		MaxFailures: maxFailures,
	}
}

// Spec returns the key spec for role.
func (n Namespace) Spec(role KeyRole) KeySpec {
	switch role {
	case RoleEmail:
		return n.Email
	case RoleAttempts:
		return n.Attempts
	case RoleFailures:
		return n.Failures
	default:
		return n.OTP
	}
}

// Key derives the store key for value under role.
func (n Namespace) Key(role KeyRole, value string) string {
	return n.Spec(role).Prefix + value
}

// Validate rejects namespaces whose keys could collide or never expire.
func (n Namespace) Validate() error {
	var errs []error
	seen := map[string]KeyRole{}
	for _, role := range keyRoles {
		spec := n.Spec(role)
		if spec.Prefix == "" {
			errs = append(errs, fmt.Errorf("%s: %s prefix is empty", n.Name, role))
		} else if other, dup := seen[spec.Prefix]; dup {
			errs = append(errs, fmt.Errorf("%s: %s prefix %q also used by %s", n.Name, role, spec.Prefix, other))
		}
		seen[spec.Prefix] = role
		if spec.TTL <= 0 {
			errs = append(errs, fmt.Errorf("%s: %s ttl must be positive", n.Name, role))
		}
	}
	return errors.Join(errs...)
}

// Disjoint reports an error when any prefix of a is also a prefix of b.
func Disjoint(a, b Namespace) error {
	for _, ra := range keyRoles {
		for _, rb := range keyRoles {
			if a.Spec(ra).Prefix == b.Spec(rb).Prefix {
				return fmt.Errorf("namespaces %s and %s share prefix %q", a.Name, b.Name, a.Spec(ra).Prefix)
			}
		}
	}
	return nil
}
