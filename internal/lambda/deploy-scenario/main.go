package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/sandboxhq/scenario-deployer/internal/di"
	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/orchestrator"
)

// approvalDetail is the lease-approval event payload. Scenario optionally
// overrides the template recorded on the lease.
type approvalDetail struct {
	LeaseID  string `json:"leaseId"`
	Scenario string `json:"scenario,omitempty"`
}

// deployRunner is the slice of the orchestrator the handler needs.
type deployRunner interface {
	Deploy(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

type Handler struct {
	runner deployRunner
}

func NewHandler(env string) (*Handler, error) {
	container, err := di.New(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	var runner *orchestrator.Orchestrator
	if err := container.Invoke(func(o *orchestrator.Orchestrator) { runner = o }); err != nil {
		return nil, fmt.Errorf("failed to resolve orchestrator: %w", err)
	}

	return &Handler{runner: runner}, nil
}

// HandleEvent processes one lease-approval event. Expected no-op outcomes
// (lease without a scenario, scenario absent from the repository, concurrent
// deployment in progress) complete the invocation successfully; deployment
// failures propagate so the event source can redeliver.
func (h *Handler) HandleEvent(ctx context.Context, event events.CloudWatchEvent) error {
	logger := zerolog.Ctx(ctx)

	detail, err := parseDetail(event.Detail)
	if err != nil {
		logger.Error().Err(err).Str("event_id", event.ID).Msg("Malformed approval event")
		// Malformed events never become deliverable by retrying.
		return nil
	}

	result, err := h.runner.Deploy(ctx, orchestrator.Request{
		LeaseID:  detail.LeaseID,
		Scenario: detail.Scenario,
	})
	if err != nil {
		categorized := apperrors.Categorize(err)
		logger.Error().
			Err(err).
			Str("lease_id", detail.LeaseID).
			Str("category", string(categorized.Category)).
			Msg("Deployment failed")
		return err
	}

	logger.Info().
		Str("lease_id", result.LeaseID).
		Str("action", string(result.Action)).
		Str("stack_name", result.StackName).
		Str("reason", result.Reason).
		Msg("Deployment run complete")
	return nil
}

func parseDetail(raw json.RawMessage) (approvalDetail, error) {
	var detail approvalDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return approvalDetail{}, fmt.Errorf("failed to parse event detail: %w", err)
	}
	if detail.LeaseID == "" {
		return approvalDetail{}, fmt.Errorf("%w: event detail has no leaseId", apperrors.ErrMissingLeaseID)
	}
	return detail, nil
}

// syncDisableSSM mirrors the --disable-ssm flag into DISABLE_SSM, which is
// the only switch the provider graph consults.
func syncDisableSSM(c *cli.Context) error {
	if !c.Bool("disable-ssm") {
		return nil
	}
	return os.Setenv("DISABLE_SSM", "true")
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "deploy-scenario").Logger()

	// Get environment from ENV or ENVIRONMENT variable
	env := os.Getenv("ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		logger.Error().Msg("ENV or ENVIRONMENT variable is required")
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		// Lambda mode
		handler, err := NewHandler(env)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create handler")
			os.Exit(1)
		}

		// Wrap handler to inject logger into context
		wrappedHandler := func(ctx context.Context, event events.CloudWatchEvent) error {
			ctx = logger.WithContext(ctx)
			return handler.HandleEvent(ctx, event)
		}
		lambda.Start(wrappedHandler)
		return
	}

	// CLI mode
	app := &cli.App{
		Name:  "deploy-scenario",
		Usage: "Deploy a sandbox scenario for an approved lease",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "lease-id",
				Usage:    "Lease id to deploy for",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "scenario",
				Usage: "Scenario reference (name[@branch]), overriding the lease's template",
			},
			&cli.BoolFlag{
				Name:    "disable-ssm",
				Usage:   "Disable AWS Systems Manager Parameter Store (use environment variables)",
				EnvVars: []string{"DISABLE_SSM"},
			},
		},
		Action: func(c *cli.Context) error {
			if err := syncDisableSSM(c); err != nil {
				return err
			}

			handler, err := NewHandler(env)
			if err != nil {
				return fmt.Errorf("failed to create handler: %w", err)
			}

			ctx := logger.WithContext(c.Context)
			result, err := handler.runner.Deploy(ctx, orchestrator.Request{
				LeaseID:  c.String("lease-id"),
				Scenario: c.String("scenario"),
			})
			if err != nil {
				return err
			}

			logger.Info().
				Str("action", string(result.Action)).
				Str("stack_name", result.StackName).
				Str("stack_id", result.StackID).
				Int("parameters_used", result.ParametersUsed).
				Int("parameters_skipped", result.ParametersSkipped).
				Msg("Deployment run complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
