package otp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-identity-core/internal/domain"
)

// maxCodeCollisions bounds how many fresh codes Send tries when the generated
// code is already live for another email in the same namespace.
const maxCodeCollisions = 5

// KeyStore is the TTL-keyed string store OTP sessions live in.
type KeyStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	HasKey(ctx context.Context, key string) (bool, error)
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	IncrementWithCeiling(ctx context.Context, key string, ceiling int64, ttl time.Duration) (int64, bool, error)
}

// Delivery is a passcode handed to a Notifier.
type Delivery struct {
	Namespace string
	Email     string
	Code      string
	Resend    bool
}

// Notifier delivers passcodes out of band. Delivery is fire-and-forget:
// failures are logged and the session stays valid.
type Notifier interface {
	DeliverOTP(ctx context.Context, d Delivery) error
}

// StateKind is the session state inferred from the keys present in the store.
type StateKind int

const (
	StateNoSession StateKind = iota
	StatePending
	StateThrottled
)

func (k StateKind) String() string {
	switch k {
	case StatePending:
		return "pending"
	case StateThrottled:
		return "throttled"
	}
	return "none"
}

// State is a snapshot of one (namespace, email) session.
type State struct {
	Kind     StateKind
	OTP      string
	Attempts int
	// Failures counts verification checks since the last success.
	Failures int
	// ExpiresIn is what remains of the session guard.
	ExpiresIn time.Duration
}

// Engine runs the OTP lifecycle: send, resend with a bounded number of
// attempts, and single-use verification.
type Engine struct {
	store    KeyStore
	notifier Notifier
	generate CodeGenerator
	logger   *slog.Logger
}

type EngineDeps struct {
	Store    KeyStore
	Notifier Notifier
	// Generate defaults to RandomCode.
	Generate CodeGenerator
	Logger   *slog.Logger
}

func NewEngine(deps EngineDeps) *Engine {
	e := &Engine{
		store:    deps.Store,
		notifier: deps.Notifier,
		generate: deps.Generate,
		logger:   deps.Logger,
	}
	if e.generate == nil {
		e.generate = RandomCode
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Send opens a new session for email and delivers its code. A live session
// fails with domain.ErrAlreadySent; the attempts counter is not consulted.
func (e *Engine) Send(ctx context.Context, ns Namespace, email string) error {
	emailKey := ns.Key(RoleEmail, email)
	issued, err := e.store.HasKey(ctx, emailKey)
	if err != nil {
		return err
	}
	if issued {
		return fmt.Errorf("%s: %w", ns.Name, domain.ErrAlreadySent)
	}

	code, err := e.claimCode(ctx, ns, email)
	if err != nil {
		return err
	}
	claimed, err := e.store.SetIfAbsent(ctx, emailKey, code, ns.Email.TTL)
	if err != nil || !claimed {
		// A concurrent Send won the guard; drop the forward key we wrote.
		if delErr := e.store.Delete(ctx, ns.Key(RoleOTP, code)); delErr != nil {
			e.logger.WarnContext(ctx, "failed to discard unclaimed otp", "namespace", ns.Name, "err", delErr)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", ns.Name, domain.ErrAlreadySent)
	}

	e.deliver(ctx, Delivery{Namespace: ns.Name, Email: email, Code: code})
	return nil
}

// Resend redelivers the code of a live session. Every call counts against
// ns.MaxAttempts until the attempts key expires. If the code itself expired
// while the session guard is still live, a new code replaces it.
func (e *Engine) Resend(ctx context.Context, ns Namespace, email string) error {
	emailKey := ns.Key(RoleEmail, email)
	code, found, err := e.store.Get(ctx, emailKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", ns.Name, domain.ErrSessionExpired)
	}

	count, allowed, err := e.store.IncrementWithCeiling(ctx, ns.Key(RoleAttempts, email), int64(ns.MaxAttempts), ns.Attempts.TTL)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%s: %d resends used: %w", ns.Name, count, domain.ErrTooManyRequests)
	}

	owner, live, err := e.store.Get(ctx, ns.Key(RoleOTP, code))
	if err != nil {
		return err
	}
	if !live || owner != email {
		code, err = e.claimCode(ctx, ns, email)
		if err != nil {
			return err
		}
		if err := e.store.Set(ctx, emailKey, code, ns.Email.TTL); err != nil {
			return err
		}
	}

	e.deliver(ctx, Delivery{Namespace: ns.Name, Email: email, Code: code, Resend: true})
	return nil
}

// Verify consumes code for email. A code that is unknown or expired fails
// with domain.ErrOTPExpired; a live code issued to another email fails with
// domain.ErrInvalidOTP and leaves every key in place.
//
// Every check counts against ns.MaxFailures for email and a success clears
// the count. Once the ceiling is reached checks fail with
// domain.ErrTooManyRequests, even for the right code, until the failures key
// expires.
func (e *Engine) Verify(ctx context.Context, ns Namespace, code, email string) error {
	failuresKey := ns.Key(RoleFailures, email)
	checks, allowed, err := e.store.IncrementWithCeiling(ctx, failuresKey, int64(ns.MaxFailures), ns.Failures.TTL)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%s: %d failed checks: %w", ns.Name, checks, domain.ErrTooManyRequests)
	}

	otpKey := ns.Key(RoleOTP, code)
	owner, found, err := e.store.Get(ctx, otpKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", ns.Name, domain.ErrOTPExpired)
	}
	if subtle.ConstantTimeCompare([]byte(owner), []byte(email)) != 1 {
		return fmt.Errorf("%s: %w", ns.Name, domain.ErrInvalidOTP)
	}

	if err := e.store.Delete(ctx, otpKey, ns.Key(RoleEmail, email), ns.Key(RoleAttempts, email), failuresKey); err != nil {
		e.logger.WarnContext(ctx, "failed to delete consumed otp session", "namespace", ns.Name, "err", err)
	}
	return nil
}

// State reads the session guard and both counters in one round trip, then
// the guard's remaining lifetime.
func (e *Engine) State(ctx context.Context, ns Namespace, email string) (State, error) {
	emailKey := ns.Key(RoleEmail, email)
	attemptsKey := ns.Key(RoleAttempts, email)
	failuresKey := ns.Key(RoleFailures, email)
	vals, err := e.store.GetMany(ctx, emailKey, attemptsKey, failuresKey)
	if err != nil {
		return State{}, err
	}

	var st State
	if st.Attempts, err = counter(ns, vals, attemptsKey); err != nil {
		return State{}, err
	}
	if st.Failures, err = counter(ns, vals, failuresKey); err != nil {
		return State{}, err
	}
	code, issued := vals[emailKey]
	if !issued {
		return st, nil
	}
	ttl, live, err := e.store.TTL(ctx, emailKey)
	if err != nil {
		return State{}, err
	}
	if !live {
		// Expired between the two reads.
		return st, nil
	}
	st.OTP = code
	st.ExpiresIn = ttl
	st.Kind = StatePending
	if st.Attempts >= ns.MaxAttempts {
		st.Kind = StateThrottled
	}
	return st, nil
}

func counter(ns Namespace, vals map[string]string, key string) (int, error) {
	raw, ok := vals[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: counter %s=%q: %w", ns.Name, key, raw, domain.ErrInternal)
	}
	return n, nil
}

// claimCode writes a fresh otp -> email key, retrying on codes that are
// already live in the namespace.
func (e *Engine) claimCode(ctx context.Context, ns Namespace, email string) (string, error) {
	for i := 0; i < maxCodeCollisions; i++ {
		code, err := e.generate()
		if err != nil {
			return "", fmt.Errorf("%v: %w", err, domain.ErrInternal)
		}
		ok, err := e.store.SetIfAbsent(ctx, ns.Key(RoleOTP, code), email, ns.OTP.TTL)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("%s: no free code after %d tries: %w", ns.Name, maxCodeCollisions, domain.ErrInternal)
}

func (e *Engine) deliver(ctx context.Context, d Delivery) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.DeliverOTP(ctx, d); err != nil {
		e.logger.WarnContext(ctx, "otp delivery failed", "namespace", d.Namespace, "resend", d.Resend, "err", err)
	}
}
