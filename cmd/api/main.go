package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-identity-core/internal/application/otp"
	"github.com/go-identity-core/internal/config"
	"github.com/go-identity-core/internal/infrastructure/dynamo"
	"github.com/go-identity-core/internal/infrastructure/google"
	jwtinfra "github.com/go-identity-core/internal/infrastructure/jwt"
	redisinfra "github.com/go-identity-core/internal/infrastructure/redis"
	"github.com/go-identity-core/internal/infrastructure/smtp"
	"github.com/go-identity-core/internal/infrastructure/sns"
	"github.com/go-identity-core/internal/pkg/password"
	transporthttp "github.com/go-identity-core/internal/transport/http"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Info("no .env file found, reading from environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Ephemeral key store for OTP sessions.
	redisClient := redisinfra.NewClient(cfg)
	defer redisClient.Close()
	store := redisinfra.NewStore(redisClient)
	if err := store.Ping(ctx); err != nil {
		// Not fatal: OTP operations fail with an internal error until Redis is reachable.
		slog.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "err", err)
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dynamodb client: %w", err)
	}
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	// Unlike the other backends the token codec is mandatory.
	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("jwt provider: %w", err)
	}

	verification := otp.NewNamespace(otp.NameEmailVerification, cfg.EmailVerificationOTP)
	recovery := otp.NewNamespace(otp.NamePasswordRecovery, cfg.PasswordRecoveryOTP)
	if err := errors.Join(verification.Validate(), recovery.Validate(), otp.Disjoint(verification, recovery)); err != nil {
		return fmt.Errorf("otp namespaces: %w", err)
	}

	notifier, err := newNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	engine := otp.NewEngine(otp.EngineDeps{
		Store:    store,
		Notifier: notifier,
		Logger:   logger.With("component", "otp"),
	})

	deps := &transporthttp.Deps{
		AccountRepo:       dynamo.NewAccountRepo(dynamoClient, cfg.DynamoTables.Accounts),
		OTP:               engine,
		EmailVerification: verification,
		PasswordRecovery:  recovery,
		Hasher:            password.NewHasher(bcrypt.DefaultCost),
		Federated:         google.NewVerifier(cfg.GoogleClientID),
		JWTProvider:       jwtProvider,
		Health:            store,
		Logger:            logger.With("component", "auth"),
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "otp_delivery", cfg.OTPDelivery)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}

// newNotifier picks the OTP delivery channel: direct SMTP, or an SNS topic
// that a downstream mail worker subscribes to.
func newNotifier(ctx context.Context, cfg *config.Config) (otp.Notifier, error) {
	switch cfg.OTPDelivery {
	case "smtp":
		return smtp.NewOTPNotifier(smtp.NewMailer(cfg)), nil
	case "sns":
		if cfg.SNSTopicARN == "" {
			return nil, errors.New("OTP_DELIVERY=sns requires SNS_OTP_TOPIC_ARN")
		}
		client, err := sns.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		return sns.NewPublisher(client, cfg.SNSTopicARN), nil
	default:
		return nil, fmt.Errorf("unknown OTP_DELIVERY %q", cfg.OTPDelivery)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
