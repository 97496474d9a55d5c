package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	JWTPrivateKeyPath  string
	JWTPublicKeyPath   string
	JWTIssuer          string
	JWTExpiry          time.Duration
	RefreshTokenExpiry time.Duration

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration

	EmailVerificationOTP OTPNamespace
	PasswordRecoveryOTP  OTPNamespace

	OTPDelivery string // "smtp" | "sns"

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	SNSRegion   string
	SNSTopicARN string

	GoogleClientID string

	AllowedOrigins []string // CORS allowed origins
	// TrustProxyHeaders lets X-Forwarded-For/X-Real-IP replace the peer
	// address. Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Accounts string
}

// OTPNamespace holds the key prefixes and lifetimes for one OTP purpose.
type OTPNamespace struct {
	OTPPrefix      string
	OTPTTL         time.Duration
	EmailPrefix    string
	EmailTTL       time.Duration
	AttemptsPrefix string
	AttemptsTTL    time.Duration
	MaxAttempts    int
	FailuresPrefix string
	FailuresTTL    time.Duration
	MaxFailures    int
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Accounts: getEnv("DYNAMO_TABLE_ACCOUNTS", "accounts"),
		},

		JWTPrivateKeyPath:  getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:   getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTIssuer:          getEnv("JWT_ISSUER", "identity-core"),
		JWTExpiry:          getEnvDuration("JWT_EXPIRY", 15*time.Minute),
		RefreshTokenExpiry: getEnvDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),

		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisDialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),

		EmailVerificationOTP: OTPNamespace{
			OTPPrefix:      getEnv("EMAIL_OTP_PREFIX", "verify:otp:"),
			OTPTTL:         getEnvSeconds("EMAIL_OTP_TTL_SECONDS", 300),
			EmailPrefix:    getEnv("EMAIL_OTP_EMAIL_PREFIX", "verify:email:"),
			EmailTTL:       getEnvSeconds("EMAIL_OTP_EMAIL_TTL_SECONDS", 600),
			AttemptsPrefix: getEnv("EMAIL_OTP_ATTEMPTS_PREFIX", "verify:attempts:"),
			AttemptsTTL:    getEnvSeconds("EMAIL_OTP_ATTEMPTS_TTL_SECONDS", 3600),
			MaxAttempts:    getEnvInt("EMAIL_OTP_MAX_ATTEMPTS", 3),
			FailuresPrefix: getEnv("EMAIL_OTP_FAILURES_PREFIX", "verify:failures:"),
			FailuresTTL:    getEnvSeconds("EMAIL_OTP_FAILURES_TTL_SECONDS", 900),
			MaxFailures:    getEnvInt("EMAIL_OTP_MAX_FAILURES", 5),
		},
		PasswordRecoveryOTP: OTPNamespace{
			OTPPrefix:      getEnv("RECOVERY_OTP_PREFIX", "recovery:otp:"),
			OTPTTL:         getEnvSeconds("RECOVERY_OTP_TTL_SECONDS", 300),
			EmailPrefix:    getEnv("RECOVERY_OTP_EMAIL_PREFIX", "recovery:email:"),
			EmailTTL:       getEnvSeconds("RECOVERY_OTP_EMAIL_TTL_SECONDS", 600),
			AttemptsPrefix: getEnv("RECOVERY_OTP_ATTEMPTS_PREFIX", "recovery:attempts:"),
			AttemptsTTL:    getEnvSeconds("RECOVERY_OTP_ATTEMPTS_TTL_SECONDS", 3600),
			MaxAttempts:    getEnvInt("RECOVERY_OTP_MAX_ATTEMPTS", 3),
			FailuresPrefix: getEnv("RECOVERY_OTP_FAILURES_PREFIX", "recovery:failures:"),
			FailuresTTL:    getEnvSeconds("RECOVERY_OTP_FAILURES_TTL_SECONDS", 900),
			MaxFailures:    getEnvInt("RECOVERY_OTP_MAX_FAILURES", 5),
		},

		OTPDelivery: strings.ToLower(getEnv("OTP_DELIVERY", "smtp")),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		SNSRegion:   getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN: getEnv("SNS_OTP_TOPIC_ARN", ""),

		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),

		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvSeconds reads a whole number of seconds, the unit the OTP TTLs are
// documented in.
func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
