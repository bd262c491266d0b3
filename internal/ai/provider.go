package ai

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
)

// Turn is one entry of the conversation window, oldest-first.
type Turn struct {
	Role    string
	Content string
}

// Request is a single generation call: optional system prompt, bounded
// history, and the new user turn already appended by the caller.
type Request struct {
	Turns       []Turn
	Temperature float64
	MaxTokens   int
}

// Usage is best-effort token accounting. Providers that do not report usage
// leave it zero-valued.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the raw provider output before the gateway derives display hints.
type Result struct {
	Text  string
	Usage Usage
}

type Provider interface {
	Chat(ctx context.Context, req Request) (*Result, error)
}

// ErrorKind classifies a generation failure so callers can branch on it
// instead of string-matching provider messages.
type ErrorKind string

const (
	// KindTransient covers network errors, timeouts and upstream 5xx. Retryable.
	KindTransient ErrorKind = "transient"
	// KindPermanentlyRejected covers malformed requests and content-safety
	// blocks. Never retried.
	KindPermanentlyRejected ErrorKind = "permanently_rejected"
	// KindQuotaExceeded covers upstream rate/quota signals. Retried with
	// backoff, but not indefinitely.
	KindQuotaExceeded ErrorKind = "quota_exceeded"
)

type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func transientErr(err error) error {
	return &GenerationError{Kind: KindTransient, Err: err}
}

func permanentErr(err error) error {
	return &GenerationError{Kind: KindPermanentlyRejected, Err: err}
}

func quotaErr(err error) error {
	return &GenerationError{Kind: KindQuotaExceeded, Err: err}
}

// classifyStatus maps an HTTP status from a provider to an error kind.
// 429 is a rate/quota signal, other 4xx mean the request itself is bad,
// everything else (5xx and friends) is worth retrying.
func classifyStatus(status int, err error) error {
	switch {
	case status == 429:
		return quotaErr(err)
	case status >= 400 && status < 500:
		return permanentErr(err)
	default:
		return transientErr(err)
	}
}

// KindOf extracts the classification of err, treating anything that is not a
// GenerationError as transient: an unclassified failure must not be able to
// burn the job's retry budget permanently.
func KindOf(err error) ErrorKind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindTransient
}
