package client

import "fmt"

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d body=%q", e.StatusCode, e.Message)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
