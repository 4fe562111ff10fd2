package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the deployment pipeline.
var (
	ErrScenarioNotFound = errors.New("scenario not found in repository")
	ErrFetchTimeout     = errors.New("scenario fetch timed out")
	ErrBootstrapTimeout = errors.New("bootstrap did not stabilize before deadline")
	ErrBootstrapFailed  = errors.New("bootstrap stack entered a failed state")
	ErrDeployTimeout    = errors.New("stack did not reach a terminal state before deadline")
	ErrEmptyStackName   = errors.New("stack name is empty after sanitization")
	ErrMissingLeaseID   = errors.New("lease id is required")
	ErrNoScenario       = errors.New("lease has no scenario to deploy")
	ErrLeaseNotFound    = errors.New("lease record not found")
	ErrAuthentication   = errors.New("git authentication failed")
	ErrPollCeiling      = errors.New("poll ceiling exceeded")
	ErrSynthesisFailed  = errors.New("cdk synthesis produced no template")
	ErrSynthTimeout     = errors.New("cdk synthesis timed out")
)

// Category classifies a failure for notification payloads and retry decisions.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryValidation    Category = "validation"
	CategoryPermission    Category = "permission"
	CategoryNotFound      Category = "not_found"
	CategoryResource      Category = "resource"
	CategoryNetwork       Category = "network"
	CategoryUnknown       Category = "unknown"
)

// DeployError is a categorized error carrying enough structure for downstream
// consumers (notifier, retry engine) to branch on kind rather than message text.
type DeployError struct {
	Category  Category
	Code      string // provider error code, when known
	Status    int    // HTTP status, when known
	Message   string
	Retryable bool
	Err       error
}

func (e *DeployError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// NewValidation creates a non-retryable validation error.
func NewValidation(format string, args ...any) *DeployError {
	return &DeployError{
		Category: CategoryValidation,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewConfiguration creates a non-retryable configuration error.
func NewConfiguration(format string, args ...any) *DeployError {
	return &DeployError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewPermission creates a non-retryable permission error.
func NewPermission(format string, args ...any) *DeployError {
	return &DeployError{
		Category: CategoryPermission,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewTransient creates a retryable network/transient error wrapping err.
func NewTransient(err error, format string, args ...any) *DeployError {
	return &DeployError{
		Category:  CategoryNetwork,
		Message:   fmt.Sprintf(format, args...),
		Retryable: true,
		Err:       err,
	}
}

// Wrap attaches a category to an existing error without changing its message.
func Wrap(err error, category Category) *DeployError {
	return &DeployError{
		Category: category,
		Message:  err.Error(),
		Err:      err,
	}
}

// IsRetryable reports whether err has been explicitly marked retryable.
// Errors without a category are never retryable.
func IsRetryable(err error) bool {
	var de *DeployError
	if errors.As(err, &de) {
		return de.Retryable
	}
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RateLimitError indicates the repository API refused the request with an
// exhausted rate-limit quota. ResetAt tells the caller when quota returns,
// so deferral is possible instead of blind retry.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("repository api rate limited until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// RepoAPIError is any non-2xx repository API response that is neither a 404
// nor a quota-exhausted 403.
type RepoAPIError struct {
	StatusCode int
}

func (e *RepoAPIError) Error() string {
	return fmt.Sprintf("repository api returned status %d", e.StatusCode)
}

// StackFailureError indicates a stack reached a failure-class terminal state.
type StackFailureError struct {
	StackName string
	Status    string
	Reason    string
}

func (e *StackFailureError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stack %s entered %s: %s", e.StackName, e.Status, e.Reason)
	}
	return fmt.Sprintf("stack %s entered %s", e.StackName, e.Status)
}
