package app

import "fmt"

// DomainError is the one error type the HTTP layer knows how to render.
// Code is a stable machine-readable tag (NOT_FOUND, VALIDATION_ERROR,
// CONFLICT, FORBIDDEN, PUBLISH_BLOCKED); Details carries structured
// context for the client, such as the current version on a CAS conflict.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
