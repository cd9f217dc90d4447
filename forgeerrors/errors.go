// Package forgeerrors contains the error types returned across package boundaries.
// HTTP handlers look for the types defined in this file (using errors.As, so wrapped
// errors are found too) and translate them into status codes with HTTPStatus.
package forgeerrors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ValidationError describes one field that failed schema validation.
type ValidationError struct {
	// Path of the offending field, e.g. "job_name" or "spark_conf[1].key"
	Field string `json:"field"`
	// Human-readable reason
	Reason string `json:"reason"`
}

func (err ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", err.Field, err.Reason)
}

// ValidationErrors is returned when a candidate payload fails validation.
// It holds exactly one entry per violated field.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the field paths named by the errors, in order.
func (errs ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(errs))
	for _, err := range errs {
		fields = append(fields, err.Field)
	}
	return fields
}

// Has reports whether field is among the failing fields.
func (errs ValidationErrors) Has(field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ConfigurationError means an integration is missing local configuration (e.g. credentials).
// It is not retryable and only affects the integration named.
type ConfigurationError struct {
	Integration string
	Message     string
}

func (err *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: %s", err.Integration, err.Message)
}

// RemoteServiceError is returned when a remote service could not be reached or rejected a request.
type RemoteServiceError struct {
	// Service name, e.g. "artifact-search"
	Service string
	// Step of the exchange that failed, e.g. "token" or "search"
	Step string
	// HTTP status code; zero when no response was received
	StatusCode int
	// Response body, if any
	Body string
	// Underlying transport error, if any
	Err error
}

func (err *RemoteServiceError) Error() string {
	if err.Unreachable() {
		return fmt.Sprintf("%s %s: cannot reach service: %v", err.Service, err.Step, err.Err)
	}
	s := fmt.Sprintf("%s %s: service rejected request with status %d", err.Service, err.Step, err.StatusCode)
	if err.Body != "" {
		s += ": " + err.Body
	}
	if err.Err != nil {
		s += fmt.Sprintf(" (%v)", err.Err)
	}
	return s
}

func (err *RemoteServiceError) Unwrap() error {
	return err.Err
}

// Unreachable reports whether no response was received at all, as opposed to the
// service answering with a non-success status.
func (err *RemoteServiceError) Unreachable() bool {
	return err.StatusCode == 0
}

// StorageError wraps a failure of the template store.
type StorageError struct {
	Op      string // e.g. "list", "save"
	Backend string // e.g. "sqlite"
	Err     error
}

func (err *StorageError) Error() string {
	return fmt.Sprintf("%s store %s failed: %v", err.Backend, err.Op, err.Err)
}

func (err *StorageError) Unwrap() error {
	return err.Err
}

// NotFoundError is returned whenever a referenced resource does not exist.
type NotFoundError struct {
	Type  string // e.g. "template"
	Value string // e.g. the id
}

func (err *NotFoundError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("%s %q does not exist", err.Type, err.Value)
	}
	return fmt.Sprintf("resource %q does not exist", err.Value)
}

// InvalidArgumentError is returned on an invalid argument outside of payload validation.
type InvalidArgumentError struct {
	Name    string
	Value   interface{}
	Message string
}

func (err *InvalidArgumentError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ConfirmationError is returned when a typed confirmation does not match what was expected.
type ConfirmationError struct {
	Action   string
	Expected string
}

func (err *ConfirmationError) Error() string {
	return fmt.Sprintf("confirmation for %s did not match; type %q to proceed", err.Action, err.Expected)
}

// ReadOnlyError is returned when a change is requested on something opened read-only.
type ReadOnlyError struct {
	Resource string
	Reason   string
}

func (err *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s is read-only: %s", err.Resource, err.Reason)
}

// HTTPStatus maps error types to HTTP status codes.
// Uses errors.As to look through the chain of errors.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var validationErrs ValidationErrors
	var validationErr ValidationError
	var configErr *ConfigurationError
	var remoteErr *RemoteServiceError
	var storageErr *StorageError
	var notFoundErr *NotFoundError
	var invalidErr *InvalidArgumentError
	var confirmErr *ConfirmationError
	var readOnlyErr *ReadOnlyError

	switch {
	case errors.As(err, &validationErrs), errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &invalidErr), errors.As(err, &confirmErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &readOnlyErr):
		return http.StatusConflict
	case errors.As(err, &configErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &remoteErr):
		if remoteErr.Unreachable() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.As(err, &storageErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
