package forge

import "fmt"

// APIError is a generic remote fault. The message is human-readable and
// names the missing resource where the status allows it.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// AuthError means the credential is invalid, expired, or revoked.
// Operator action is required; callers never auto-retry.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// RateLimitError is a subtype of APIError. Callers may back off and
// retry on the next scheduled tick.
type RateLimitError struct {
	APIError
}

// Unwrap lets errors.As treat a rate limit as a generic API error.
func (e *RateLimitError) Unwrap() error {
	return &e.APIError
}

func newNotFound(context string) *APIError {
	return &APIError{StatusCode: 404, Message: context}
}

func newAPIError(status int, message string) *APIError {
	if message == "" {
		message = fmt.Sprintf("forge API returned status %d", status)
	}
	return &APIError{StatusCode: status, Message: message}
}
