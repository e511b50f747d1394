package auth

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired  = errors.New("authentication required")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrInvalidToken            = errors.New("invalid token")
	ErrNotFound                = errors.New("not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrConflict                = errors.New("resource conflict")
)

// PermissionError names the token a caller was missing.
type PermissionError struct {
	Permission string
	Role       Role
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("insufficient permissions: %s required", e.Permission)
}

func (e *PermissionError) Unwrap() error { return ErrInsufficientPermissions }
