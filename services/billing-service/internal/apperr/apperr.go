// Package apperr is the error taxonomy shared by the orchestrator, the
// webhook dispatcher and the HTTP edge.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds. Every named error below wraps exactly one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrProvider     = errors.New("provider error")
	ErrVerification = errors.New("verification failed")
	ErrInvalidState = errors.New("invalid state")
)

var (
	ErrUserNotFound            = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrPlanNotFound            = fmt.Errorf("%w: plan not found", ErrNotFound)
	ErrSubscriptionNotFound    = fmt.Errorf("%w: subscription not found", ErrNotFound)
	ErrInvoiceNotFound         = fmt.Errorf("%w: invoice not found", ErrNotFound)
	ErrCustomerNotFound        = fmt.Errorf("%w: customer not found", ErrNotFound)
	ErrCheckoutSessionNotFound = fmt.Errorf("%w: checkout session not found", ErrNotFound)

	ErrAlreadyRefunded = fmt.Errorf("%w: charge already refunded", ErrConflict)
	ErrEmailTaken      = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrPlanExists      = fmt.Errorf("%w: plan already exists", ErrConflict)

	ErrInvalidPaymentStatus = fmt.Errorf("%w: invalid payment status", ErrInvalidState)
	ErrPaymentNotSucceeded  = fmt.Errorf("%w: payment not succeeded", ErrInvalidState)
	ErrCancelNotConfirmed   = fmt.Errorf("%w: cancellation not confirmed", ErrInvalidState)

	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrVerification)
)

// Provider wraps a failed remote call so it matches ErrProvider while keeping
// the underlying cause inspectable.
func Provider(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrVerification):
		return http.StatusBadRequest
	case errors.Is(err, ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client facing text for err. Unknown errors are not echoed.
func Message(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
