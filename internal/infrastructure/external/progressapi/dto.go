package progressapi

import (
	"fmt"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
)

// PutRequestDTO is the body of POST /progress. The store server decodes the
// same type.
type PutRequestDTO struct {
	ContentID string            `json:"contentId" validate:"required,max=128"`
	Progress  progress.Snapshot `json:"progress"`
}

// ErrorDTO is the error body returned by the progress API.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   ErrorDTO
}

func (e *StatusError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// Temporary reports whether the failure is on the server side.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == 429
}
