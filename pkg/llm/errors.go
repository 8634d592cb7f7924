package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorKind classifies embedding failures.
type ErrorKind string

const (
	ErrorKindAuth        ErrorKind = "auth"
	ErrorKindRateLimit   ErrorKind = "rate_limit"
	ErrorKindServer      ErrorKind = "server"
	ErrorKindConnection  ErrorKind = "connection"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindRequest     ErrorKind = "bad_request"
	ErrorKindEmpty       ErrorKind = "empty_response"
	ErrorKindDisabled    ErrorKind = "disabled"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindUnknown     ErrorKind = "unknown"
)

// EmbeddingError is the typed failure of an embedding request. It is kept
// distinct from schema and lifecycle errors so callers can map it separately.
type EmbeddingError struct {
	Kind       ErrorKind
	Message    string
	Retryable  bool
	StatusCode int
	Model      string
	Cause      error
}

func (e *EmbeddingError) Error() string {
	var parts []string
	parts = append(parts, "embedding", string(e.Kind))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *EmbeddingError) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *EmbeddingError) IsRetryable() bool {
	return e.Retryable
}

// ClassifyError converts a client failure into an *EmbeddingError.
// HTTP status codes reported by go-openai take precedence over message text.
func ClassifyError(err error, model string) *EmbeddingError {
	if err == nil {
		return nil
	}

	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return embErr
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	out := &EmbeddingError{StatusCode: status, Model: model, Cause: err}
	lower := strings.ToLower(err.Error())

	switch {
	case status == 401 || status == 403 || strings.Contains(lower, "invalid api key"):
		out.Kind, out.Message = ErrorKindAuth, "authentication failed"
	case status == 429 || strings.Contains(lower, "rate limit"):
		out.Kind, out.Message, out.Retryable = ErrorKindRateLimit, "rate limited", true
	case status >= 500:
		out.Kind, out.Message, out.Retryable = ErrorKindServer, "server error", true
	case status >= 400:
		out.Kind, out.Message = ErrorKindRequest, "request rejected"
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout"):
		out.Kind, out.Message, out.Retryable = ErrorKindTimeout, "request timeout", true
	case errors.Is(err, context.Canceled):
		out.Kind, out.Message = ErrorKindTimeout, "request canceled"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset"):
		out.Kind, out.Message, out.Retryable = ErrorKindConnection, "connection failed", true
	default:
		out.Kind, out.Message = ErrorKindUnknown, "embedding request failed"
	}
	return out
}
