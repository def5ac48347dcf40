package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spellbook-dev/spellbook/api"
)

// APIError is a non-2xx answer from the server, carrying the decoded
// error contract.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is the server saying the swarm or worker
// does not exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a duplicate registration.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsValidation reports whether the server rejected the request shape or a
// state rule; Details on the error name the offending fields.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity
}

// apiErrorFromResponse decodes an error body. A body that is not the JSON
// error contract still yields an APIError with the raw text as message, so
// callers always get the status code.
func apiErrorFromResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("reading error body: %v", err)}
	}

	var wire api.ErrorResponse
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil || wire.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       wire.Code,
		Message:    wire.Error,
		Details:    wire.Details,
	}
}
