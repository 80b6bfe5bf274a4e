package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies a class of checkout failure.
type ErrorCode string

const (
	CodeInvalidPackage     ErrorCode = "INVALID_PACKAGE"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	CodePaymentRejected    ErrorCode = "PAYMENT_REJECTED"
	CodeMalformedResponse  ErrorCode = "MALFORMED_GATEWAY_RESPONSE"
	CodeUnknownGateway     ErrorCode = "UNKNOWN_GATEWAY_ERROR"
)

var defaultMessages = map[ErrorCode]string{
	CodeInvalidPackage:     "This package cannot be purchased because its pricing is invalid.",
	CodeRateLimited:        "The payment gateway is receiving too many requests. Please wait for the countdown to finish or use an alternative payment method.",
	CodeGatewayUnavailable: "The payment gateway is temporarily unavailable. Please try again.",
	CodePaymentRejected:    "The payment was rejected. Please check your payment details or choose a different package.",
	CodeMalformedResponse:  "We received an unexpected response from the payment gateway. Please contact support.",
	CodeUnknownGateway:     "Something went wrong while starting your payment. Please try again.",
}

// GatewayError is the classified error every checkout failure is reported as.
type GatewayError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sentinels for errors.Is; matching is by code.
var (
	ErrInvalidPackage     = &GatewayError{Code: CodeInvalidPackage, Message: defaultMessages[CodeInvalidPackage]}
	ErrRateLimited        = &GatewayError{Code: CodeRateLimited, Message: defaultMessages[CodeRateLimited]}
	ErrGatewayUnavailable = &GatewayError{Code: CodeGatewayUnavailable, Message: defaultMessages[CodeGatewayUnavailable]}
	ErrPaymentRejected    = &GatewayError{Code: CodePaymentRejected, Message: defaultMessages[CodePaymentRejected]}
	ErrMalformedResponse  = &GatewayError{Code: CodeMalformedResponse, Message: defaultMessages[CodeMalformedResponse]}
	ErrUnknownGateway     = &GatewayError{Code: CodeUnknownGateway, Message: defaultMessages[CodeUnknownGateway]}
)

var (
	ErrUserIDRequired    = errors.New("user id is required")
	ErrUserEmailRequired = errors.New("a valid user email is required")
)

// NewGatewayError builds a classified error with the default user-facing message.
func NewGatewayError(code ErrorCode, details string, statusCode int) *GatewayError {
	return &GatewayError{
		Code:       code,
		Message:    defaultMessages[code],
		Details:    details,
		StatusCode: statusCode,
		Timestamp:  time.Now().UTC(),
	}
}

// NewInvalidPackageError reports a package whose pricing inputs are unusable.
func NewInvalidPackageError(details string) *GatewayError {
	return NewGatewayError(CodeInvalidPackage, details, 0)
}

func (e *GatewayError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any GatewayError carrying the same code.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the user may submit again.
func (e *GatewayError) Retryable() bool {
	switch e.Code {
	case CodeRateLimited, CodeGatewayUnavailable, CodeUnknownGateway:
		return true
	}
	return false
}

// CountsTowardFallback reports whether the failure is a capacity problem that
// contributes to escalating a session to the manual payment path.
func (e *GatewayError) CountsTowardFallback() bool {
	return e.Retryable()
}

// AsGatewayError unwraps err into a GatewayError. Errors that carry no
// classification are reported as unknown gateway errors.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return NewGatewayError(CodeUnknownGateway, err.Error(), 0)
}
