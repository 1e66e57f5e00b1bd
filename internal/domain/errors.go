package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrAlreadyEnrolled       = errors.New("already enrolled")
	ErrPaymentRequired       = errors.New("payment required")
	ErrExternalService       = errors.New("external service error")
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrUnauthorized          = errors.New("unauthorized")

	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrUserAlreadyExists = fmt.Errorf("user already exists: %w", ErrConflict)
)
