package domain

import "time"

// Status is the lifecycle state of an account.
type Status string

const (
	StatusIncomplete Status = "INCOMPLETE"
	StatusActive     Status = "ACTIVE"
	StatusBlocked    Status = "BLOCKED"
)

// Provider names the identity source an account signs in with.
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
)

type Account struct {
	AccountID     string     `json:"id" dynamodbav:"account_id"`
	Email         string     `json:"email" dynamodbav:"email"`
	PasswordHash  string     `json:"-" dynamodbav:"password_hash"`
	Role          string     `json:"role" dynamodbav:"role"`
	Status        Status     `json:"status" dynamodbav:"status"`
	Provider      Provider   `json:"provider" dynamodbav:"provider"`
	EmailVerified bool       `json:"email_verified" dynamodbav:"email_verified"`
	FullName      string     `json:"full_name,omitempty" dynamodbav:"full_name,omitempty"`
	BirthDate     *time.Time `json:"birth_date,omitempty" dynamodbav:"birth_date,omitempty"`
	CreatedAt     time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt     time.Time  `json:"updated" dynamodbav:"updated_at"`
}

type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type CompleteAuthRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FullName  string `json:"full_name" validate:"required,max=120"`
	BirthDate string `json:"birth_date"` // expected format: YYYY-MM-DD
}
