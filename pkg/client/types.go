package client

import (
	"fmt"
	"net/http"
)

// ExhaustedCode is the code the API returns when every execution slot is busy.
const ExhaustedCode = "53400"

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Statement string `json:"statement"`
}

// Result is the native outcome of a statement as rendered by the API.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Slot is one execution slot and whether a statement currently holds it.
type Slot struct {
	ID   int  `json:"id"`
	Busy bool `json:"busy"`
}

// ResetResponse is the body of POST /slots/reset.
type ResetResponse struct {
	OK   bool  `json:"ok"`
	Kept []int `json:"kept,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// Exhausted reports whether the server ran out of execution slots; the
// request may succeed later.
func (e *APIError) Exhausted() bool {
	return e.Status == http.StatusServiceUnavailable && e.Code == ExhaustedCode
}

// RateLimited reports whether the server shed the request before trying it.
func (e *APIError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }
