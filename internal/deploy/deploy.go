// Package deploy performs the idempotent create-or-update of a scenario's
// CloudFormation stack in the target account.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/retry"
)

// Action is what the deployment manager actually did.
type Action string

const (
	// ActionCreated means a new stack was created and reached a stable state.
	ActionCreated Action = "created"
	// ActionExists means a prior successful deployment is already complete.
	ActionExists Action = "exists"
	// ActionSkipped means a concurrent operation owns the stack right now.
	ActionSkipped Action = "skipped"
)

// Outcome reports one idempotent deployment.
type Outcome struct {
	StackID   string `json:"stack_id"`
	StackName string `json:"stack_name"`
	Action    Action `json:"action"`
}

// CloudFormationAPI is the slice of the CloudFormation client the manager
// uses; narrowed so tests can substitute a fake.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
}

// Manager deploys stacks and waits for them to stabilize.
type Manager struct {
	cfn  CloudFormationAPI
	poll retry.PollConfig
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPollConfig overrides the status polling bounds.
func WithPollConfig(cfg retry.PollConfig) ManagerOption {
	return func(m *Manager) {
		m.poll = cfg
	}
}

// NewManager creates a deployment manager around the given client.
func NewManager(cfn CloudFormationAPI, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfn: cfn,
		poll: retry.PollConfig{
			Interval: 10 * time.Second,
			Ceiling:  10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeployOrUpdate performs the idempotent create-or-update for stackName.
// Absence creates; a stable complete stack updates (a "no changes" response
// maps to ActionExists); an in-progress stack returns ActionSkipped without
// issuing a new mutation, since the in-flight operation owns the outcome.
func (m *Manager) DeployOrUpdate(ctx context.Context, stackName, templateBody string, parameters []types.Parameter) (*Outcome, error) {
	logger := zerolog.Ctx(ctx)

	current, err := m.describe(ctx, stackName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if stack exists: %w", err)
	}

	switch {
	case current == nil:
		return m.create(ctx, stackName, templateBody, parameters)

	case InProgress(current.StackStatus):
		logger.Info().
			Str("stack_name", stackName).
			Str("status", string(current.StackStatus)).
			Msg("Stack operation already in progress, skipping")
		return &Outcome{
			StackID:   aws.ToString(current.StackId),
			StackName: stackName,
			Action:    ActionSkipped,
		}, nil

	case IsStableComplete(current.StackStatus):
		return m.update(ctx, stackName, templateBody, parameters, aws.ToString(current.StackId))

	default:
		// Failure-class terminal state from an earlier run; updating a stack
		// in ROLLBACK_COMPLETE is not possible, surface it.
		return nil, &apperrors.StackFailureError{
			StackName: stackName,
			Status:    string(current.StackStatus),
			Reason:    aws.ToString(current.StackStatusReason),
		}
	}
}

func (m *Manager) create(ctx context.Context, stackName, templateBody string, parameters []types.Parameter) (*Outcome, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("stack_name", stackName).Msg("Creating stack")

	result, err := m.cfn.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(templateBody),
		Parameters:   parameters,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
		Tags: []types.Tag{
			{
				Key:   aws.String("ManagedBy"),
				Value: aws.String("scenario-deployer"),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stack: %w", err)
	}

	if err := m.waitForStable(ctx, stackName); err != nil {
		return nil, err
	}

	return &Outcome{
		StackID:   aws.ToString(result.StackId),
		StackName: stackName,
		Action:    ActionCreated,
	}, nil
}

func (m *Manager) update(ctx context.Context, stackName, templateBody string, parameters []types.Parameter, stackID string) (*Outcome, error) {
	logger := zerolog.Ctx(ctx)

	result, err := m.cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(templateBody),
		Parameters:   parameters,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		if isNoUpdatesError(err) {
			logger.Info().Str("stack_name", stackName).Msg("No updates needed for stack")
			return &Outcome{
				StackID:   stackID,
				StackName: stackName,
				Action:    ActionExists,
			}, nil
		}
		return nil, fmt.Errorf("failed to update stack: %w", err)
	}

	if err := m.waitForStable(ctx, stackName); err != nil {
		return nil, err
	}

	return &Outcome{
		StackID:   aws.ToString(result.StackId),
		StackName: stackName,
		Action:    ActionExists,
	}, nil
}

// describe returns the stack or nil when it does not exist.
func (m *Manager) describe(ctx context.Context, stackName string) (*types.Stack, error) {
	result, err := m.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isDoesNotExistError(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(result.Stacks) == 0 {
		return nil, nil
	}
	return &result.Stacks[0], nil
}

// waitForStable polls on the shared bounded primitive until the stack reaches
// a terminal state. Failure-class states surface as StackFailureError; hitting
// the ceiling maps to the deployment-specific timeout kind.
func (m *Manager) waitForStable(ctx context.Context, stackName string) error {
	logger := zerolog.Ctx(ctx)

	_, err := retry.Poll(ctx, m.poll, func(ctx context.Context) (types.StackStatus, bool, error) {
		stack, err := m.describe(ctx, stackName)
		if err != nil {
			return "", false, err
		}
		if stack == nil {
			return "", false, fmt.Errorf("stack %s disappeared while waiting", stackName)
		}

		status := stack.StackStatus
		logger.Info().
			Str("stack_name", stackName).
			Str("status", string(status)).
			Msg("Stack status")

		if IsFailure(status) {
			return "", false, &apperrors.StackFailureError{
				StackName: stackName,
				Status:    string(status),
				Reason:    aws.ToString(stack.StackStatusReason),
			}
		}
		return status, IsTerminal(status), nil
	})
	if errors.Is(err, apperrors.ErrPollCeiling) {
		return fmt.Errorf("%w: %s", apperrors.ErrDeployTimeout, stackName)
	}
	return err
}

func isDoesNotExistError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

func isNoUpdatesError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			(strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed") ||
				strings.Contains(apiErr.ErrorMessage(), "No updates to be performed"))
	}
	return false
}
