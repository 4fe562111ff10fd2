package errors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
)

// Provider error codes, grouped by the category they imply.
var (
	permissionCodes = map[string]bool{
		"AccessDenied":          true,
		"AccessDeniedException": true,
		"UnauthorizedOperation": true,
		"ExpiredToken":          true,
		"ExpiredTokenException": true,
		"InvalidClientTokenId":  true,
	}
	resourceCodes = map[string]bool{
		"LimitExceededException":            true,
		"LimitExceeded":                     true,
		"AlreadyExistsException":            true,
		"ResourceConflict":                  true,
		"InsufficientCapabilitiesException": true,
	}
	transientCodes = map[string]bool{
		"Throttling":                     true,
		"ThrottlingException":            true,
		"TooManyRequestsException":       true,
		"RequestLimitExceeded":           true,
		"ServiceUnavailable":             true,
		"ServiceUnavailableException":    true,
		"InternalServiceError":           true,
		"RequestTimeout":                 true,
		"RequestTimeoutException":        true,
		"IDPCommunicationErrorException": true,
	}
)

// Categorize maps any error to a DeployError with a category, preferring
// structured fields (existing category, provider error code, HTTP status)
// over message text. The priority order is
// validation > permission > resource > network > unknown. Substring matching
// over the message is kept only as a last resort; it can mis-classify
// messages that merely mention words like "timeout", so every structured
// signal is consulted first.
func Categorize(err error) *DeployError {
	if err == nil {
		return nil
	}

	// Already categorized.
	var de *DeployError
	if errors.As(err, &de) && de.Category != "" && de.Category != CategoryUnknown {
		return de
	}

	if errors.Is(err, ErrScenarioNotFound) || errors.Is(err, ErrLeaseNotFound) {
		return &DeployError{Category: CategoryNotFound, Message: err.Error(), Err: err}
	}

	if errors.Is(err, ErrAuthentication) {
		return &DeployError{Category: CategoryPermission, Message: err.Error(), Err: err}
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return &DeployError{
			Category:  CategoryPermission,
			Code:      "RateLimited",
			Status:    http.StatusForbidden,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	var repoErr *RepoAPIError
	if errors.As(err, &repoErr) {
		return categorizeHTTPStatus(repoErr.StatusCode, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return categorizeProviderCode(apiErr, err)
	}

	if errors.Is(err, ErrFetchTimeout) || errors.Is(err, ErrBootstrapTimeout) || errors.Is(err, ErrDeployTimeout) {
		return &DeployError{Category: CategoryNetwork, Message: err.Error(), Err: err}
	}

	var stackErr *StackFailureError
	if errors.As(err, &stackErr) {
		return &DeployError{
			Category: CategoryResource,
			Code:     stackErr.Status,
			Message:  err.Error(),
			Err:      err,
		}
	}

	return categorizeMessage(err)
}

func categorizeProviderCode(apiErr smithy.APIError, err error) *DeployError {
	code := apiErr.ErrorCode()
	switch {
	case code == "ValidationError":
		return &DeployError{Category: CategoryValidation, Code: code, Message: err.Error(), Err: err}
	case permissionCodes[code]:
		return &DeployError{Category: CategoryPermission, Code: code, Message: err.Error(), Err: err}
	case resourceCodes[code]:
		return &DeployError{Category: CategoryResource, Code: code, Message: err.Error(), Err: err}
	case transientCodes[code]:
		return &DeployError{Category: CategoryNetwork, Code: code, Message: err.Error(), Retryable: true, Err: err}
	default:
		return &DeployError{Category: CategoryUnknown, Code: code, Message: err.Error(), Err: err}
	}
}

func categorizeHTTPStatus(status int, err error) *DeployError {
	out := &DeployError{Status: status, Message: err.Error(), Err: err}
	switch {
	case status == http.StatusNotFound:
		out.Category = CategoryNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		out.Category = CategoryPermission
	case status == http.StatusTooManyRequests:
		out.Category = CategoryNetwork
		out.Retryable = true
	case status >= 500:
		out.Category = CategoryNetwork
		out.Retryable = true
	case status >= 400:
		out.Category = CategoryValidation
	default:
		out.Category = CategoryUnknown
	}
	return out
}

// categorizeMessage is the substring fallback. Priority order matches the
// structured chain so a message containing both "invalid" and "timeout"
// classifies as validation, not network.
func categorizeMessage(err error) *DeployError {
	msg := strings.ToLower(err.Error())
	out := &DeployError{Message: err.Error(), Err: err}
	switch {
	case containsAny(msg, "invalid", "malformed", "validation"):
		out.Category = CategoryValidation
	case containsAny(msg, "access denied", "forbidden", "unauthorized", "not authorized"):
		out.Category = CategoryPermission
	case containsAny(msg, "limit exceeded", "quota", "already exists", "conflict"):
		out.Category = CategoryResource
	case containsAny(msg, "timeout", "timed out", "connection reset", "connection refused", "throttl", "eof"):
		out.Category = CategoryNetwork
		out.Retryable = true
	default:
		out.Category = CategoryUnknown
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
