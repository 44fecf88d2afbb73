package billing

import (
	"errors"
	"fmt"
)

// Sentinel errors for the billing core. Callers classify failures with
// errors.Is; the HTTP layer maps these onto status codes.
var (
	// ErrValidation marks malformed input. Caller-fixable, never retried.
	ErrValidation = errors.New("validation error")

	// ErrConflict marks a concurrent-write or overlapping-period conflict.
	// The caller should re-read state and retry if still applicable.
	ErrConflict = errors.New("conflict")

	// ErrGateway marks a failed remote payment-gateway call. Local state is
	// left unchanged when this is returned.
	ErrGateway = errors.New("gateway error")

	// ErrNotFound marks a missing subscription, campaign, tier or invoice.
	ErrNotFound = errors.New("not found")

	// ErrSignature marks a webhook payload that failed the authenticity
	// check. Fatal for that request; the gateway redelivers on its own.
	ErrSignature = errors.New("invalid signature")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func gatewayf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %v", ErrGateway, fmt.Sprintf(format, args...), err)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
