package service

import (
	"errors"
	"strings"
)

var (
	ErrUnauthenticated      = errors.New("authentication required")
	ErrInvalidPackage       = errors.New("invalid migration package")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrNoRelevantState      = errors.New("no relevant state for this platform")
	ErrNoProjectState       = errors.New("no project state to export")
	ErrTransport            = errors.New("remote backend unavailable")
)

// ValidationError lists what was wrong with a rejected migration package.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidPackage.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPackage
}
