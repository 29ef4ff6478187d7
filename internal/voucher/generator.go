// Package voucher mints access vouchers for completed orders.
package voucher

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeGenerator produces voucher codes. The format changed over the life of
// the product (12-char alphanumeric, then 4 numeric digits for easier manual
// entry), so the format stays pluggable.
type CodeGenerator interface {
	Generate() (string, error)
}

// Numeric generates fixed-length codes of random decimal digits.
type Numeric struct {
	Length int
}

// Generate returns a random digit string of the configured length.
func (g Numeric) Generate() (string, error) {
	length := g.Length
	if length <= 0 {
		length = 4
	}

	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

// legacyAlphabet excludes ambiguous characters (I, O, 0, 1).
const legacyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Legacy generates the original 12-character dashed format
// (XXXX-XXXX-XXXX), kept for routers still carrying old-format users.
type Legacy struct{}

// Generate returns a legacy-format code.
func (g Legacy) Generate() (string, error) {
	code := make([]byte, 0, 14)
	for i := 0; i < 12; i++ {
		if i == 4 || i == 8 {
			code = append(code, '-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(legacyAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code = append(code, legacyAlphabet[n.Int64()])
	}
	return string(code), nil
}
