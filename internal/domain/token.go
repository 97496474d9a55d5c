package domain

import "time"

// TokenPair is an access/refresh token pair minted together. The two tokens
// expire independently and revoking one never affects the other.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
