package prepaid

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("prepaid: not found")
	ErrAlreadyExists = errors.New("prepaid: already exists")
	ErrInvalidInput  = errors.New("prepaid: invalid input")

	// Rate errors
	ErrRateNotConfigured = errors.New("prepaid: no rate schedule configured")
	ErrInvalidSchedule   = errors.New("prepaid: invalid rate schedule")

	// Conversion errors
	ErrBelowMinimumCharge = errors.New("prepaid: payment below minimum charge")

	// Payment / issuance errors
	ErrPaymentNotCompleted = errors.New("prepaid: payment not completed")
	ErrDuplicateCode       = errors.New("prepaid: duplicate token code")

	// Token errors
	ErrTokenNotFound        = errors.New("prepaid: token not found")
	ErrTokenAlreadyRedeemed = errors.New("prepaid: token already redeemed")
	ErrTokenExpired         = errors.New("prepaid: token expired")

	// Property / balance errors
	ErrPropertyNotFound    = errors.New("prepaid: property not found")
	ErrInsufficientBalance = errors.New("prepaid: insufficient balance")

	// Reading errors
	ErrReadingNotFound     = errors.New("prepaid: meter reading not found")
	ErrNonMonotonicReading = errors.New("prepaid: reading lower than previous reading")
	ErrNotLatestReading    = errors.New("prepaid: only the most recent reading can be amended")

	// Store errors
	ErrStoreNotReady     = errors.New("prepaid: store not ready")
	ErrStoreClosed       = errors.New("prepaid: store is closed")
	ErrTransactionFailed = errors.New("prepaid: transaction failed")
	ErrMigrationFailed   = errors.New("prepaid: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("prepaid: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrPropertyNotFound) ||
		errors.Is(err, ErrReadingNotFound)
}

// IsConflict returns true for state-conflict errors that cannot succeed
// on retry with the same input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTokenAlreadyRedeemed) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsValidation returns true for errors caused by rejected input; nothing
// was applied and the same input will always be rejected.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.Is(err, ErrBelowMinimumCharge) ||
		errors.Is(err, ErrNonMonotonicReading) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.As(err, &ve)
}

// IsRetryable returns true if the error is temporary and the whole
// operation can be retried safely. All core operations leave no partial
// state on failure, so infrastructure errors are retryable as a unit.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrDuplicateCode)
}
