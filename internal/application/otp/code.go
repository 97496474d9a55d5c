package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var codeSpace = big.NewInt(1_000_000)

// CodeGenerator produces a new passcode.
type CodeGenerator func() (string, error)

// RandomCode returns a 6-digit code drawn uniformly from [000000, 999999].
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
