package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-identity-core/internal/application/auth"
	"github.com/go-identity-core/internal/application/otp"
	"github.com/go-identity-core/internal/config"
	"github.com/go-identity-core/internal/domain"
	jwtinfra "github.com/go-identity-core/internal/infrastructure/jwt"
	"github.com/go-identity-core/internal/transport/http/handler"
	appmiddleware "github.com/go-identity-core/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	AccountRepo       AccountRepository
	OTP               OTPEngine
	EmailVerification otp.Namespace
	PasswordRecovery  otp.Namespace
	Hasher            PasswordHasher
	Federated         FederatedVerifier
	JWTProvider       *jwtinfra.Provider
	// Health is optional; when set, /v1/health-check/ready pings it.
	Health Pinger
	Logger *slog.Logger
}

// NewRouter builds and returns the application router. ctx bounds the
// lifetime of the rate limiter's cleanup goroutine.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		// Must run before the logger and the rate limiter read RemoteAddr.
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, on every endpoint that accepts
	// credentials or codes.
	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10)

	authSvc := auth.NewService(auth.ServiceDeps{
		AccountRepo:       deps.AccountRepo,
		Hasher:            deps.Hasher,
		Tokens:            deps.JWTProvider,
		OTP:               deps.OTP,
		EmailVerification: deps.EmailVerification,
		PasswordRecovery:  deps.PasswordRecovery,
		Federated:         deps.Federated,
		Logger:            deps.Logger,
	})

	healthH := handler.NewHealthHandler(deps.Health)
	authH := handler.NewAuthHandler(authSvc)
	otpH := handler.NewOTPHandler(authSvc)
	pwH := handler.NewPasswordRecoveryHandler(authSvc)
	accountH := handler.NewAccountHandler(authSvc)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Route("/auth", func(r chi.Router) {
			r.Use(sensitiveRL.Limit)
			r.Post("/sign-up", authH.SignUp)
			r.Post("/sign-in", authH.SignIn)
			r.Post("/refresh", authH.Refresh)
			r.Post("/google", authH.Google)
			r.Post("/complete", authH.Complete)
			r.Post("/otp/send", otpH.Send)
			r.Post("/otp/resend", otpH.Resend)
			r.Post("/otp/validate", otpH.Validate)
		})
		r.With(sensitiveRL.Limit).Post("/password-recovery/{action}", pwH.Action)

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))

			r.Get("/accounts/me", accountH.Me)

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.Put("/accounts/{email}/block", accountH.Block)
			})
		})
	})

	return r
}
