package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a completion failure
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindTimeout     ErrorKind = "timeout"
	KindRateLimit   ErrorKind = "rate_limit"
	KindUnavailable ErrorKind = "unavailable"
	KindEmpty       ErrorKind = "empty"
)

// ServiceError is returned by a Client when the completion service fails.
// Every caller treats it as a reason to use its fallback.
type ServiceError struct {
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("llm %s", e.Kind)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError checks if err is a completion service failure
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// Request is a single completion call
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Client completes prompts
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Disabled is a Client that always fails, used when no LLM is configured
type Disabled struct{}

// Complete implements Client
func (Disabled) Complete(ctx context.Context, req Request) (string, error) {
	return "", &ServiceError{Kind: KindUnavailable, Err: errors.New("llm not configured")}
}
