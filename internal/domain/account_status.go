package domain

import "fmt"

// CanSignIn allows sign-in only for ACTIVE accounts.
func CanSignIn(a *Account) error {
	if a.Status != StatusActive {
		return fmt.Errorf("status %s: %w", a.Status, ErrAccountNotActive)
	}
	return nil
}

// CanActivate checks the INCOMPLETE -> ACTIVE transition. The email must be
// verified first, blocked accounts stay blocked, and activation happens once.
func CanActivate(a *Account) error {
	if !a.EmailVerified {
		return ErrEmailNotVerified
	}
	switch a.Status {
	case StatusBlocked:
		return ErrBlocked
	case StatusActive:
		return ErrAlreadyActivated
	}
	return nil
}

// PromoteFederated activates an INCOMPLETE account signing in through a
// trusted identity provider, which has already verified the email. It reports
// whether the account changed.
//
// The provider proves who owns the address now, not who chose the password.
// A password set on an address nobody verified is dropped.
func PromoteFederated(a *Account, p Provider) bool {
	if a.Status != StatusIncomplete {
		return false
	}
	if !a.EmailVerified {
		a.PasswordHash = ""
	}
	a.Status = StatusActive
	a.Provider = p
	a.EmailVerified = true
	return true
}
