package deploy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/retry"
)

// fakeCFN simulates enough of CloudFormation for the manager's state machine:
// a stack with a scripted sequence of statuses after each mutation.
type fakeCFN struct {
	stack         *types.Stack
	statusScript  []types.StackStatus // consumed one per DescribeStacks after a mutation
	createCalls   int
	updateCalls   int
	describeCalls int
	updateErr     error
	createErr     error
}

func (f *fakeCFN) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	f.describeCalls++
	if f.stack == nil {
		return nil, &smithy.GenericAPIError{
			Code:    "ValidationError",
			Message: fmt.Sprintf("Stack with id %s does not exist", aws.ToString(params.StackName)),
		}
	}
	if len(f.statusScript) > 0 {
		f.stack.StackStatus = f.statusScript[0]
		if len(f.statusScript) > 1 {
			f.statusScript = f.statusScript[1:]
		}
	}
	stack := *f.stack
	return &cloudformation.DescribeStacksOutput{Stacks: []types.Stack{stack}}, nil
}

func (f *fakeCFN) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.stack = &types.Stack{
		StackId:     aws.String("arn:aws:cloudformation:us-east-1:123456789012:stack/" + aws.ToString(params.StackName)),
		StackName:   params.StackName,
		StackStatus: types.StackStatusCreateInProgress,
	}
	return &cloudformation.CreateStackOutput{StackId: f.stack.StackId}, nil
}

func (f *fakeCFN) UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cloudformation.UpdateStackOutput{StackId: f.stack.StackId}, nil
}

func fastManager(cfn CloudFormationAPI) *Manager {
	return NewManager(cfn, WithPollConfig(retry.PollConfig{
		Interval: time.Millisecond,
		Ceiling:  time.Second,
	}))
}

func existingStack(status types.StackStatus) *types.Stack {
	return &types.Stack{
		StackId:     aws.String("arn:aws:cloudformation:us-east-1:123456789012:stack/isb-app-lease-1"),
		StackName:   aws.String("isb-app-lease-1"),
		StackStatus: status,
	}
}

func TestDeployOrUpdate_CreatesWhenAbsent(t *testing.T) {
	cfn := &fakeCFN{
		statusScript: []types.StackStatus{
			types.StackStatusCreateInProgress,
			types.StackStatusCreateComplete,
		},
	}
	mgr := fastManager(cfn)

	outcome, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, outcome.Action)
	assert.Contains(t, outcome.StackID, "isb-app-lease-1")
	assert.Equal(t, 1, cfn.createCalls)
	assert.Equal(t, 0, cfn.updateCalls)
}

func TestDeployOrUpdate_NoChangesIsExists(t *testing.T) {
	cfn := &fakeCFN{
		stack: existingStack(types.StackStatusCreateComplete),
		updateErr: &smithy.GenericAPIError{
			Code:    "ValidationError",
			Message: "No updates are to be performed.",
		},
	}
	mgr := fastManager(cfn)

	outcome, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionExists, outcome.Action)
	assert.Equal(t, 1, cfn.updateCalls)
	assert.Equal(t, 0, cfn.createCalls)
}

// Idempotency: a second call against an unchanged target is a no-op, never a
// duplicate stack or an error.
func TestDeployOrUpdate_SecondCallIsIdempotent(t *testing.T) {
	cfn := &fakeCFN{
		statusScript: []types.StackStatus{
			types.StackStatusCreateInProgress,
			types.StackStatusCreateComplete,
		},
	}
	mgr := fastManager(cfn)

	first, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	require.NoError(t, err)
	require.Equal(t, ActionCreated, first.Action)

	cfn.updateErr = &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "No updates are to be performed.",
	}

	second, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionExists, second.Action)
	assert.Equal(t, 1, cfn.createCalls, "no duplicate stack")
}

func TestDeployOrUpdate_InProgressSkips(t *testing.T) {
	cfn := &fakeCFN{stack: existingStack(types.StackStatusUpdateInProgress)}
	mgr := fastManager(cfn)

	outcome, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, outcome.Action)
	assert.Equal(t, 0, cfn.createCalls)
	assert.Equal(t, 0, cfn.updateCalls)
}

func TestDeployOrUpdate_FailureStateSurfaces(t *testing.T) {
	cfn := &fakeCFN{stack: existingStack(types.StackStatusRollbackComplete)}
	mgr := fastManager(cfn)

	_, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	var failure *apperrors.StackFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, string(types.StackStatusRollbackComplete), failure.Status)
}

func TestDeployOrUpdate_CreateRollsBack(t *testing.T) {
	cfn := &fakeCFN{
		statusScript: []types.StackStatus{
			types.StackStatusCreateInProgress,
			types.StackStatusRollbackComplete,
		},
	}
	mgr := fastManager(cfn)

	_, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	var failure *apperrors.StackFailureError
	require.ErrorAs(t, err, &failure)
}

func TestDeployOrUpdate_PollTimeout(t *testing.T) {
	cfn := &fakeCFN{
		statusScript: []types.StackStatus{types.StackStatusCreateInProgress},
	}
	mgr := NewManager(cfn, WithPollConfig(retry.PollConfig{
		Interval: 5 * time.Millisecond,
		Ceiling:  12 * time.Millisecond,
	}))

	_, err := mgr.DeployOrUpdate(context.Background(), "isb-app-lease-1", "Resources: {}", nil)
	assert.ErrorIs(t, err, apperrors.ErrDeployTimeout)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status   types.StackStatus
		terminal bool
		failure  bool
	}{
		{types.StackStatusCreateComplete, true, false},
		{types.StackStatusUpdateComplete, true, false},
		{types.StackStatusRollbackComplete, true, true},
		{types.StackStatusUpdateRollbackComplete, true, true},
		{types.StackStatusCreateFailed, true, true},
		{types.StackStatusDeleteFailed, true, true},
		{types.StackStatusCreateInProgress, false, false},
		{types.StackStatusUpdateInProgress, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, IsTerminal(tt.status))
			assert.Equal(t, tt.failure, IsFailure(tt.status))
		})
	}
}
