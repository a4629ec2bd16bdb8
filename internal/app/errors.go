package app

import (
	"fmt"
	"net/http"
)

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

func errNotFound(entity string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", entity+" not found", nil)
}

func errBanned(reason string) *DomainError {
	message := "Ban error: You are banned from this community"
	if reason != "" {
		message = "Ban error: " + reason
	}
	return domainError(http.StatusForbidden, "BANNED", message, nil)
}

func errThreadArchived() *DomainError {
	return domainError(http.StatusConflict, "THREAD_ARCHIVED", "Thread is archived", nil)
}

func errThreadReadOnly() *DomainError {
	return domainError(http.StatusForbidden, "THREAD_READ_ONLY", "Thread is read-only", nil)
}

func errNotOwned() *DomainError {
	return domainError(http.StatusForbidden, "NOT_OWNED", "Not owned by this user", nil)
}

func errPermissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, "PERMISSION_DENIED", message, nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errInvalidParent() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_PARENT", "Invalid parent comment", nil)
}

func errNestingTooDeep() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "NESTING_TOO_DEEP", "Comments can only be nested 8 levels deep", nil)
}

func errServer(message string) *DomainError {
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", message, nil)
}
