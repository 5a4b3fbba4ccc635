// Package token defines the prepaid credit token model.
package token

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/types"
)

// Token is a single-use voucher for a fixed quantity of water, issued
// against a completed payment. Its only state transition is
// Issued → Redeemed; expiry is implicit by time and checked at
// redemption, never stored as a transition.
type Token struct {
	types.Entity
	ID           id.TokenID    `json:"id"`
	PropertyID   id.PropertyID `json:"property_id"`
	PaymentID    id.PaymentID  `json:"payment_id"`
	Code         string        `json:"code"` // unique redemption code, keypad-friendly digits
	Units        types.Volume  `json:"units"`
	IssuedAmount types.Money   `json:"issued_amount"` // for audit
	IsRedeemed   bool          `json:"is_redeemed"`
	RedeemedAt   *time.Time    `json:"redeemed_at,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Expired reports whether the token can no longer be redeemed at now.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// codeDigits is the length of a redemption code. Twenty digits matches
// the keypad-entry vending convention and leaves collision probability
// negligible even at a retry-on-conflict uniqueness guarantee.
const codeDigits = 20

// GenerateCode returns a new random numeric redemption code as a bare
// 20-digit string, the canonical stored form. Uniqueness is not
// guaranteed here; the store enforces it and issuance re-rolls on
// conflict.
func GenerateCode() string {
	buf := make([]byte, codeDigits)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the platform is broken; there is no
		// reasonable fallback for a value that gates money.
		panic(fmt.Sprintf("token: generate code: %v", err))
	}

	out := make([]byte, codeDigits)
	for i, c := range buf {
		out[i] = '0' + c%10
	}
	return string(out)
}

// FormatCode groups a bare code into keypad-friendly blocks of four:
// "1234-5678-9012-3456-7890".
func FormatCode(code string) string {
	var b strings.Builder
	b.Grow(len(code) + len(code)/4)
	for i := 0; i < len(code); i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 4
		if end > len(code) {
			end = len(code)
		}
		b.WriteString(code[i:end])
	}
	return b.String()
}

// NormalizeCode strips separators and spaces so that codes entered with
// or without grouping compare equal. The stored canonical form is the
// bare digit string.
func NormalizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
