package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-identity-core/internal/domain"
	redisinfra "github.com/go-identity-core/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) DeliverOTP(ctx context.Context, d Delivery) error {
	return m.Called(ctx, d).Error(0)
}

// --- helpers ---

// sequence returns a generator yielding codes in order, then repeating the last.
func sequence(codes ...string) CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}

type fixture struct {
	engine   *Engine
	store    *redisinfra.Store
	mr       *miniredis.Miniredis
	notifier *mockNotifier
	ns       Namespace
}

func newFixture(t *testing.T, gen CodeGenerator) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisinfra.NewStore(rdb)
	n := &mockNotifier{}
	return &fixture{
		engine:   NewEngine(EngineDeps{Store: store, Notifier: n, Generate: gen}),
		store:    store,
		mr:       mr,
		notifier: n,
		ns:       testNamespace(NameEmailVerification, "verify"),
	}
}

func (f *fixture) get(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, found, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	return v, found
}

// --- Send ---

func TestSend_WritesBothKeysAndDelivers(t *testing.T) {
	f := newFixture(t, sequence("042317"))
	f.notifier.On("DeliverOTP", mock.Anything, Delivery{Namespace: NameEmailVerification, Email: "a@b.com", Code: "042317"}).Return(nil)

	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))

	owner, ok := f.get(t, "verify:otp:042317")
	assert.True(t, ok)
	assert.Equal(t, "a@b.com", owner)
	code, ok := f.get(t, "verify:email:a@b.com")
	assert.True(t, ok)
	assert.Equal(t, "042317", code)
	assert.Equal(t, 5*time.Minute, f.mr.TTL("verify:otp:042317"))
	assert.Equal(t, 10*time.Minute, f.mr.TTL("verify:email:a@b.com"))
	f.notifier.AssertExpectations(t)
}

func TestSend_SecondCallFailsAndKeepsOriginalCode(t *testing.T) {
	f := newFixture(t, sequence("111111", "222222"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))
	err := f.engine.Send(context.Background(), f.ns, "a@b.com")

	assert.ErrorIs(t, err, domain.ErrAlreadySent)
	code, _ := f.get(t, "verify:email:a@b.com")
	assert.Equal(t, "111111", code)
	_, ok := f.get(t, "verify:otp:222222")
	assert.False(t, ok)
	f.notifier.AssertExpectations(t)
}

func TestSend_AllowedAgainAfterGuardExpires(t *testing.T) {
	f := newFixture(t, sequence("111111", "222222"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))
	f.mr.FastForward(10 * time.Minute)
	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))

	code, _ := f.get(t, "verify:email:a@b.com")
	assert.Equal(t, "222222", code)
}

func TestSend_IgnoresAttemptsCounter(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	f.mr.Set("verify:attempts:a@b.com", "3")

	assert.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))
}

func TestSend_NotifierFailureKeepsSession(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))

	_, ok := f.get(t, "verify:otp:111111")
	assert.True(t, ok)
	assert.NoError(t, f.engine.Verify(context.Background(), f.ns, "111111", "a@b.com"))
}

func TestSend_RegeneratesOnCodeCollision(t *testing.T) {
	f := newFixture(t, sequence("111111", "111111", "333333"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))
	require.NoError(t, f.engine.Send(context.Background(), f.ns, "c@d.com"))

	owner, _ := f.get(t, "verify:otp:111111")
	assert.Equal(t, "a@b.com", owner)
	code, _ := f.get(t, "verify:email:c@d.com")
	assert.Equal(t, "333333", code)
}

func TestSend_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))
	err := f.engine.Send(context.Background(), f.ns, "c@d.com")

	assert.ErrorIs(t, err, domain.ErrInternal)
	_, ok := f.get(t, "verify:email:c@d.com")
	assert.False(t, ok)
}

func TestSend_ConcurrentCallsIssueOneSession(t *testing.T) {
	var mu sync.Mutex
	n := 0
	gen := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%06d", n), nil
	}
	f := newFixture(t, gen)
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.engine.Send(context.Background(), f.ns, "a@b.com")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadySent)
	}
	assert.Equal(t, 1, ok)

	code, _ := f.get(t, "verify:email:a@b.com")
	owner, found := f.get(t, "verify:otp:"+code)
	assert.True(t, found)
	assert.Equal(t, "a@b.com", owner)
	assert.Len(t, f.mr.Keys(), 2)
}

func TestSend_NamespacesAreIndependent(t *testing.T) {
	f := newFixture(t, sequence("111111", "222222"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	recovery := testNamespace(NamePasswordRecovery, "recovery")

	require.NoError(t, f.engine.Send(context.Background(), f.ns, "a@b.com"))
	require.NoError(t, f.engine.Send(context.Background(), recovery, "a@b.com"))

	code, _ := f.get(t, "recovery:email:a@b.com")
	assert.Equal(t, "222222", code)
}

// --- Resend ---

func TestResend_WithoutSessionFails(t *testing.T) {
	f := newFixture(t, sequence("111111"))

	err := f.engine.Resend(context.Background(), f.ns, "a@b.com")

	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	f.notifier.AssertNotCalled(t, "DeliverOTP", mock.Anything, mock.Anything)
}

func TestResend_AttemptCeiling(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, Delivery{Namespace: NameEmailVerification, Email: "a@b.com", Code: "111111"}).Return(nil).Once()
	f.notifier.On("DeliverOTP", mock.Anything, Delivery{Namespace: NameEmailVerification, Email: "a@b.com", Code: "111111", Resend: true}).Return(nil).Times(3)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"), "resend %d", i+1)
	}
	err := f.engine.Resend(ctx, f.ns, "a@b.com")

	assert.ErrorIs(t, err, domain.ErrTooManyRequests)
	count, _ := f.get(t, "verify:attempts:a@b.com")
	assert.Equal(t, "3", count)
	f.notifier.AssertExpectations(t)

	st, err := f.engine.State(ctx, f.ns, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, StateThrottled, st.Kind)
	assert.Equal(t, 3, st.Attempts)
}

func TestResend_CounterResetsWhenAttemptsKeyExpires(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()
	// Long-lived guard so only the attempts key expires.
	f.ns.Email.TTL = 2 * time.Hour
	f.ns.OTP.TTL = 2 * time.Hour

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"))
	}
	require.ErrorIs(t, f.engine.Resend(ctx, f.ns, "a@b.com"), domain.ErrTooManyRequests)

	f.mr.FastForward(time.Hour)

	assert.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"))
	count, _ := f.get(t, "verify:attempts:a@b.com")
	assert.Equal(t, "1", count)
}

func TestResend_RegeneratesExpiredCode(t *testing.T) {
	f := newFixture(t, sequence("111111", "222222"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	f.mr.FastForward(5 * time.Minute) // otp key gone, email guard still live

	require.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"))

	code, _ := f.get(t, "verify:email:a@b.com")
	assert.Equal(t, "222222", code)
	owner, ok := f.get(t, "verify:otp:222222")
	assert.True(t, ok)
	assert.Equal(t, "a@b.com", owner)
	f.notifier.AssertCalled(t, "DeliverOTP", mock.Anything, Delivery{Namespace: NameEmailVerification, Email: "a@b.com", Code: "222222", Resend: true})

	count, _ := f.get(t, "verify:attempts:a@b.com")
	assert.Equal(t, "1", count)
}

func TestResend_NotifierFailureStillCounts(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	require.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"))

	count, _ := f.get(t, "verify:attempts:a@b.com")
	assert.Equal(t, "1", count)
}

// --- Verify ---

func TestVerify_ConsumesOnce(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	require.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"))

	require.NoError(t, f.engine.Verify(ctx, f.ns, "111111", "a@b.com"))
	assert.Empty(t, f.mr.Keys())

	err := f.engine.Verify(ctx, f.ns, "111111", "a@b.com")
	assert.ErrorIs(t, err, domain.ErrOTPExpired)

	st, err := f.engine.State(ctx, f.ns, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, StateNoSession, st.Kind)
}

func TestVerify_MismatchKeepsKeys(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	require.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"))

	err := f.engine.Verify(ctx, f.ns, "111111", "intruder@b.com")

	assert.ErrorIs(t, err, domain.ErrInvalidOTP)
	assert.ElementsMatch(t, []string{
		"verify:otp:111111", "verify:email:a@b.com", "verify:attempts:a@b.com", "verify:failures:intruder@b.com",
	}, f.mr.Keys())
}

func TestVerify_LocksAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	for i := 0; i < f.ns.MaxFailures; i++ {
		assert.ErrorIs(t, f.engine.Verify(ctx, f.ns, fmt.Sprintf("90000%d", i), "a@b.com"), domain.ErrOTPExpired)
	}

	// The right code is refused too while the lock holds.
	assert.ErrorIs(t, f.engine.Verify(ctx, f.ns, "111111", "a@b.com"), domain.ErrTooManyRequests)
	count, _ := f.get(t, "verify:failures:a@b.com")
	assert.Equal(t, "5", count)
	_, live := f.get(t, "verify:otp:111111")
	assert.True(t, live)

	f.mr.FastForward(time.Minute)
	require.NoError(t, f.engine.Verify(ctx, f.ns, "111111", "a@b.com"))
	assert.Empty(t, f.mr.Keys())
}

func TestVerify_SuccessClearsFailures(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	assert.ErrorIs(t, f.engine.Verify(ctx, f.ns, "222222", "a@b.com"), domain.ErrOTPExpired)
	assert.ErrorIs(t, f.engine.Verify(ctx, f.ns, "333333", "a@b.com"), domain.ErrOTPExpired)

	st, err := f.engine.State(ctx, f.ns, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Failures)

	require.NoError(t, f.engine.Verify(ctx, f.ns, "111111", "a@b.com"))
	assert.Empty(t, f.mr.Keys())
}

func TestVerify_UnknownCode(t *testing.T) {
	f := newFixture(t, sequence("111111"))

	err := f.engine.Verify(context.Background(), f.ns, "999999", "a@b.com")
	assert.ErrorIs(t, err, domain.ErrOTPExpired)
}

func TestVerify_ExpiredCode(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	f.mr.FastForward(5 * time.Minute)

	assert.ErrorIs(t, f.engine.Verify(ctx, f.ns, "111111", "a@b.com"), domain.ErrOTPExpired)
}

func TestVerify_WrongNamespace(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))

	err := f.engine.Verify(ctx, testNamespace(NamePasswordRecovery, "recovery"), "111111", "a@b.com")
	assert.ErrorIs(t, err, domain.ErrOTPExpired)
}

// --- State ---

func TestState_Pending(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.notifier.On("DeliverOTP", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Send(ctx, f.ns, "a@b.com"))
	st, err := f.engine.State(ctx, f.ns, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, State{Kind: StatePending, OTP: "111111", ExpiresIn: 10 * time.Minute}, st)

	require.NoError(t, f.engine.Resend(ctx, f.ns, "a@b.com"))
	st, err = f.engine.State(ctx, f.ns, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, State{Kind: StatePending, OTP: "111111", Attempts: 1, ExpiresIn: 10 * time.Minute}, st)

	f.mr.FastForward(4 * time.Minute)
	st, err = f.engine.State(ctx, f.ns, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Minute, st.ExpiresIn)
}

func TestState_CorruptCounter(t *testing.T) {
	f := newFixture(t, sequence("111111"))
	f.mr.Set("verify:attempts:a@b.com", "many")

	_, err := f.engine.State(context.Background(), f.ns, "a@b.com")
	assert.ErrorIs(t, err, domain.ErrInternal)
}
