package forgeerrors

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := map[string]struct {
		err    error
		status int
	}{
		"nil": {
			err:    nil,
			status: http.StatusOK,
		},
		"validation": {
			err:    ValidationErrors{{Field: "job_name", Reason: "Job Name is required."}},
			status: http.StatusUnprocessableEntity,
		},
		"wrapped validation": {
			err:    errors.Wrap(ValidationErrors{{Field: "job_name", Reason: "x"}}, "save"),
			status: http.StatusUnprocessableEntity,
		},
		"invalid argument": {
			err:    &InvalidArgumentError{Name: "name", Value: ""},
			status: http.StatusBadRequest,
		},
		"confirmation": {
			err:    &ConfirmationError{Action: "delete", Expected: "abc"},
			status: http.StatusBadRequest,
		},
		"not found": {
			err:    errors.WithStack(&NotFoundError{Type: "template", Value: "abc"}),
			status: http.StatusNotFound,
		},
		"read only": {
			err:    &ReadOnlyError{Resource: "template", Reason: "opened in use mode"},
			status: http.StatusConflict,
		},
		"configuration": {
			err:    &ConfigurationError{Integration: "artifact-search", Message: "missing credentials"},
			status: http.StatusServiceUnavailable,
		},
		"remote unreachable": {
			err:    &RemoteServiceError{Service: "artifact-search", Step: "token", Err: errors.New("connection refused")},
			status: http.StatusServiceUnavailable,
		},
		"remote rejected": {
			err:    &RemoteServiceError{Service: "artifact-search", Step: "token", StatusCode: 401, Body: "bad credentials"},
			status: http.StatusBadGateway,
		},
		"storage": {
			err:    &StorageError{Op: "list", Backend: "memory", Err: errors.New("boom")},
			status: http.StatusServiceUnavailable,
		},
		"unknown": {
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.status, HTTPStatus(tc.err))
		})
	}
}

func TestRemoteServiceError_Message(t *testing.T) {
	unreachable := &RemoteServiceError{Service: "artifact-search", Step: "search", Err: errors.New("dial tcp: connection refused")}
	assert.True(t, unreachable.Unreachable())
	assert.Contains(t, unreachable.Error(), "cannot reach service")

	rejected := &RemoteServiceError{Service: "artifact-search", Step: "search", StatusCode: 500, Body: "oops"}
	assert.False(t, rejected.Unreachable())
	assert.Contains(t, rejected.Error(), "status 500")
	assert.Contains(t, rejected.Error(), "oops")
}

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{
		{Field: "job_name", Reason: "Job Name is required."},
		{Field: "stop_job_after_minutes", Reason: "Must be a positive integer."},
	}
	assert.Equal(t, []string{"job_name", "stop_job_after_minutes"}, errs.Fields())
	assert.True(t, errs.Has("job_name"))
	assert.False(t, errs.Has("main_class"))
	assert.Contains(t, errs.Error(), "job_name: Job Name is required.")
}
