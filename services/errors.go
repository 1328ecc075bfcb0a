package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures the donation services can return.
// The routes layer maps kinds to HTTP statuses; services never pick statuses.
type ErrorKind string

const (
	ErrInvalidAmount        ErrorKind = "InvalidAmount"
	ErrAmountTooLarge       ErrorKind = "AmountTooLarge"
	ErrMissingDonorIdentity ErrorKind = "MissingDonorIdentity"
	ErrMissingPaymentFields ErrorKind = "MissingPaymentFields"
	ErrDonationNotFound     ErrorKind = "DonationNotFound"
	ErrInvalidSignature     ErrorKind = "InvalidSignature"
	ErrInvalidState         ErrorKind = "InvalidState"
	ErrGateway              ErrorKind = "GatewayError"
	ErrStorage              ErrorKind = "StorageError"
)

type ServiceError struct {
	Kind    ErrorKind
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func serviceErr(kind ErrorKind, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
