// Package apperrors holds the error taxonomy shared by the webhook pipeline.
// Each error carries the HTTP status it is answered with.
package apperrors

import (
	"fmt"
	"net/http"
)

// ValidationError reports missing or malformed required input.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status for validation failures.
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// NewValidationError creates a validation error for the given fields.
func NewValidationError(message string, fields ...string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// ProvisioningStep names the persistence step that failed.
type ProvisioningStep string

const (
	StepIdentity     ProvisioningStep = "identity"
	StepSubscription ProvisioningStep = "subscription"
	StepCancellation ProvisioningStep = "cancellation"
)

// ProvisioningError reports a failure in identity, subscription or
// transaction persistence.
type ProvisioningError struct {
	Step    ProvisioningStep
	Message string
	Err     error
}

func (e *ProvisioningError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Message, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status for provisioning failures.
func (e *ProvisioningError) StatusCode() int { return http.StatusInternalServerError }

// NewProvisioningError wraps err as a failure of step.
func NewProvisioningError(step ProvisioningStep, message string, err error) *ProvisioningError {
	return &ProvisioningError{Step: step, Message: message, Err: err}
}

// MethodNotAllowedError reports a request with a method other than the
// one accepted by the endpoint.
type MethodNotAllowedError struct {
	Method  string
	Allowed string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("Método não permitido. Use %s.", e.Allowed)
}

// StatusCode returns the HTTP status for disallowed methods.
func (e *MethodNotAllowedError) StatusCode() int { return http.StatusMethodNotAllowed }
