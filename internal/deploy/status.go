package deploy

import (
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// terminal stack statuses, split into success and failure classes. Anything
// else is in flight.
var (
	successStatuses = map[types.StackStatus]bool{
		types.StackStatusCreateComplete: true,
		types.StackStatusUpdateComplete: true,
		types.StackStatusImportComplete: true,
	}
	failureStatuses = map[types.StackStatus]bool{
		types.StackStatusCreateFailed:           true,
		types.StackStatusUpdateFailed:           true,
		types.StackStatusDeleteFailed:           true,
		types.StackStatusRollbackFailed:         true,
		types.StackStatusRollbackComplete:       true,
		types.StackStatusUpdateRollbackFailed:   true,
		types.StackStatusUpdateRollbackComplete: true,
		types.StackStatusImportRollbackFailed:   true,
		types.StackStatusImportRollbackComplete: true,
	}
)

// IsTerminal reports whether status admits no further automatic transition.
func IsTerminal(status types.StackStatus) bool {
	return successStatuses[status] || failureStatuses[status] || status == types.StackStatusDeleteComplete
}

// IsFailure reports whether status is a failure-class terminal state.
func IsFailure(status types.StackStatus) bool {
	return failureStatuses[status]
}

// IsStableComplete reports whether status allows issuing an update.
func IsStableComplete(status types.StackStatus) bool {
	return successStatuses[status]
}

// InProgress reports whether a stack operation is currently running.
func InProgress(status types.StackStatus) bool {
	return !IsTerminal(status)
}
