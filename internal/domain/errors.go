package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")
)
