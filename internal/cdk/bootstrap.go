// Package cdk covers the CDK-specific half of the pipeline: ensuring the
// target account carries the one-time toolkit stack and synthesizing a
// fetched CDK project into a deployable template body.
package cdk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/sandboxhq/scenario-deployer/internal/deploy"
	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/gitrepo"
	"github.com/sandboxhq/scenario-deployer/internal/retry"
)

const (
	// MinBootstrapVersion is the lowest toolkit version this deployer accepts.
	MinBootstrapVersion = 6

	toolkitStackName = "CDKToolkit"
	versionParameter = "/cdk-bootstrap/hnb659fds/version"

	defaultBootstrapTimeout = 5 * time.Minute
)

// SSMAPI is the slice of the SSM client the bootstrapper uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// CloudFormationAPI is the slice of the CloudFormation client the
// bootstrapper uses.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// Bootstrapper ensures a target account/region is ready for CDK deployments.
// Clients must already be bound to the sandbox account's credentials.
type Bootstrapper struct {
	ssm     SSMAPI
	cfn     CloudFormationAPI
	runner  gitrepo.CommandRunner
	creds   aws.Credentials
	timeout time.Duration
	poll    retry.PollConfig
}

// BootstrapperOption configures a Bootstrapper.
type BootstrapperOption func(*Bootstrapper)

// WithBootstrapRunner overrides the command runner, mainly for tests.
func WithBootstrapRunner(runner gitrepo.CommandRunner) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.runner = runner
	}
}

// WithBootstrapPoll overrides the status polling bounds.
func WithBootstrapPoll(cfg retry.PollConfig) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.poll = cfg
	}
}

// NewBootstrapper creates a Bootstrapper for a sandbox account.
func NewBootstrapper(ssmClient SSMAPI, cfnClient CloudFormationAPI, creds aws.Credentials, opts ...BootstrapperOption) *Bootstrapper {
	b := &Bootstrapper{
		ssm:     ssmClient,
		cfn:     cfnClient,
		runner:  gitrepo.ExecRunner{},
		creds:   creds,
		timeout: defaultBootstrapTimeout,
		poll: retry.PollConfig{
			Interval: 10 * time.Second,
			Ceiling:  5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CheckVersion reads the toolkit version parameter from the target account.
// An absent parameter is the normal "not yet bootstrapped" result, not an
// error; any other read failure propagates.
func (b *Bootstrapper) CheckVersion(ctx context.Context) (int, bool, error) {
	result, err := b.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(versionParameter),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ParameterNotFound" {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read bootstrap version: %w", err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return 0, false, nil
	}

	version, err := strconv.Atoi(aws.ToString(result.Parameter.Value))
	if err != nil {
		return 0, false, fmt.Errorf("bootstrap version parameter is not numeric: %w", err)
	}
	return version, true, nil
}

// EnsureBootstrapped makes the account/region ready for CDK deployments,
// bootstrapping or upgrading when the recorded version is absent or too old.
// The check-then-act is not atomic against concurrent invocations; the
// in-progress and no-changes branches of bootstrap absorb the race.
func (b *Bootstrapper) EnsureBootstrapped(ctx context.Context, accountID, region string) error {
	logger := zerolog.Ctx(ctx)

	version, found, err := b.CheckVersion(ctx)
	if err != nil {
		return err
	}
	if found && version >= MinBootstrapVersion {
		logger.Info().
			Int("version", version).
			Str("account_id", accountID).
			Msg("Account already bootstrapped")
		return nil
	}

	logger.Info().
		Bool("bootstrapped", found).
		Int("version", version).
		Str("account_id", accountID).
		Str("region", region).
		Msg("Bootstrapping account")

	return b.bootstrap(ctx, accountID, region)
}

func (b *Bootstrapper) bootstrap(ctx context.Context, accountID, region string) error {
	logger := zerolog.Ctx(ctx)

	// A toolkit stack mid-operation belongs to a concurrent bootstrap; wait
	// for it instead of issuing a conflicting mutation.
	stack, err := b.describeToolkit(ctx)
	if err != nil {
		return err
	}
	if stack != nil && deploy.InProgress(stack.StackStatus) {
		logger.Info().
			Str("status", string(stack.StackStatus)).
			Msg("Toolkit stack operation already in progress, waiting")
		return b.waitForStable(ctx)
	}

	ctx2, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	env := []string{
		"PATH=" + pathEnv(),
		"AWS_REGION=" + region,
		"AWS_DEFAULT_REGION=" + region,
		"AWS_ACCESS_KEY_ID=" + b.creds.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY=" + b.creds.SecretAccessKey,
		"CDK_DISABLE_VERSION_CHECK=true",
	}
	if b.creds.SessionToken != "" {
		env = append(env, "AWS_SESSION_TOKEN="+b.creds.SessionToken)
	}

	target := fmt.Sprintf("aws://%s/%s", accountID, region)
	output, err := b.runner.RunOutput(ctx2, "", env, "cdk", "bootstrap", "--require-approval", "never", target)
	if err != nil {
		if errors.Is(ctx2.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: cdk bootstrap", apperrors.ErrBootstrapTimeout)
		}
		return fmt.Errorf("cdk bootstrap failed: %s: %w", gitrepo.RedactTokens(string(output)), err)
	}

	return b.waitForStable(ctx)
}

func (b *Bootstrapper) describeToolkit(ctx context.Context) (*cfntypes.Stack, error) {
	result, err := b.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(toolkitStackName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "does not exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe toolkit stack: %w", err)
	}
	if len(result.Stacks) == 0 {
		return nil, nil
	}
	return &result.Stacks[0], nil
}

func (b *Bootstrapper) waitForStable(ctx context.Context) error {
	_, err := retry.Poll(ctx, b.poll, func(ctx context.Context) (cfntypes.StackStatus, bool, error) {
		stack, err := b.describeToolkit(ctx)
		if err != nil {
			return "", false, err
		}
		if stack == nil {
			return "", false, fmt.Errorf("toolkit stack vanished while waiting")
		}

		status := stack.StackStatus
		if deploy.IsFailure(status) {
			return "", false, fmt.Errorf("%w: %s", apperrors.ErrBootstrapFailed, status)
		}
		return status, deploy.IsTerminal(status), nil
	})
	if errors.Is(err, apperrors.ErrPollCeiling) {
		return fmt.Errorf("%w: toolkit stack", apperrors.ErrBootstrapTimeout)
	}
	return err
}
