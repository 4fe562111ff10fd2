// Package orchestrator drives the lease-approval to deployed-stack pipeline:
// resolve the scenario reference, classify it, materialize the template,
// prepare the target account when synthesis is required, and perform one
// idempotent stack deployment, reporting the outcome either way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/rs/zerolog"

	"github.com/sandboxhq/scenario-deployer/internal/dao/leasedao"
	"github.com/sandboxhq/scenario-deployer/internal/deploy"
	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/gitrepo"
	"github.com/sandboxhq/scenario-deployer/internal/retry"
	"github.com/sandboxhq/scenario-deployer/internal/scenario"
	"github.com/sandboxhq/scenario-deployer/internal/services"
)

// Request identifies one deployment run. Scenario optionally overrides the
// template name recorded on the lease.
type Request struct {
	LeaseID  string
	Scenario string
}

// Action is the orchestration-level outcome. It extends the deployment
// manager's created/exists/skipped with notFound, the graceful no-deployment
// outcome for leases whose scenario does not resolve.
type Action string

const (
	ActionCreated  Action = "created"
	ActionExists   Action = "exists"
	ActionSkipped  Action = "skipped"
	ActionNotFound Action = "notFound"
)

// Result describes what one run did.
type Result struct {
	Action            Action
	Reason            string
	LeaseID           string
	AccountID         string
	TemplateName      string
	StackName         string
	StackID           string
	ParametersUsed    int
	ParametersSkipped int
}

// LeaseStore reads the lease snapshot that drives a run.
type LeaseStore interface {
	Find(ctx context.Context, leaseID string) (leasedao.Record, error)
}

// RepoClient is the repository read surface: classification and raw
// template download.
type RepoClient interface {
	Detect(ctx context.Context, scenarioName, ref string) (gitrepo.Classification, error)
	DownloadTemplate(ctx context.Context, scenarioName, ref string) (string, error)
}

// ScenarioFetcher materializes a scenario folder into a local workspace.
type ScenarioFetcher interface {
	Fetch(ctx context.Context, templateName, branch, workspaceRoot, token string) (string, func(), error)
}

// TemplateValidator checks a template body against the sandbox guardrails.
type TemplateValidator interface {
	ValidateBody(ctx context.Context, body string) error
}

// TokenSource resolves the repository access token.
type TokenSource interface {
	GetRepoToken(ctx context.Context, secretPath string) (string, error)
}

// CredentialSource mints target-account credentials and client configs.
type CredentialSource interface {
	ForAccount(ctx context.Context, accountID string) (aws.Credentials, error)
	ConfigForAccount(ctx context.Context, accountID, region string) (aws.Config, error)
}

// EventSink receives the outcome notifications.
type EventSink interface {
	DeploymentSucceeded(ctx context.Context, event services.DeploymentEvent)
	DeploymentFailed(ctx context.Context, event services.DeploymentEvent)
}

// StackDeployer performs the idempotent create-or-update.
type StackDeployer interface {
	DeployOrUpdate(ctx context.Context, stackName, templateBody string, parameters []cfntypes.Parameter) (*deploy.Outcome, error)
}

// Bootstrap ensures the target account is ready for synthesized templates.
type Bootstrap interface {
	EnsureBootstrapped(ctx context.Context, accountID, region string) error
}

// TemplateSynthesizer turns a fetched project directory into a template body.
type TemplateSynthesizer interface {
	Synthesize(ctx context.Context, projectDir string) (string, error)
}

// Params carries the orchestrator's collaborators.
type Params struct {
	Leases    LeaseStore
	Repo      RepoClient
	Fetcher   ScenarioFetcher
	Validator TemplateValidator
	Tokens    TokenSource
	Creds     CredentialSource
	Notifier  EventSink
	Config    *services.Config

	// NewDeployer and NewBootstrapper build per-account collaborators from
	// the target account's client config. Defaults construct the real ones.
	NewDeployer     func(aws.Config) StackDeployer
	NewBootstrapper func(aws.Config, aws.Credentials) Bootstrap
	Synthesizer     TemplateSynthesizer

	WorkspaceRoot string
	RetryPolicy   retry.Policy
}

// Orchestrator composes the pipeline components into one run per event.
type Orchestrator struct {
	p Params
}

// New creates an Orchestrator. Zero-valued optional fields get defaults.
func New(p Params) *Orchestrator {
	if p.WorkspaceRoot == "" {
		p.WorkspaceRoot = os.TempDir()
	}
	if p.RetryPolicy.MaxAttempts == 0 {
		p.RetryPolicy = retry.DefaultPolicy
	}
	return &Orchestrator{p: p}
}

// Deploy runs the full pipeline for one lease-approval event. A lease with no
// scenario, or a scenario absent from the repository, returns a notFound
// result without error. All other terminal failures are reported through the
// notifier before they propagate.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	if req.LeaseID == "" {
		return nil, apperrors.ErrMissingLeaseID
	}

	lease, err := o.p.Leases.Find(ctx, req.LeaseID)
	if err != nil {
		o.notifyFailure(ctx, services.DeploymentEvent{LeaseID: req.LeaseID}, err)
		return nil, fmt.Errorf("failed to load lease %s: %w", req.LeaseID, err)
	}

	templateText := req.Scenario
	if templateText == "" {
		templateText = lease.TemplateName
	}
	if templateText == "" {
		logger.Info().Str("lease_id", lease.LeaseID).Msg("Lease has no scenario, nothing to deploy")
		return &Result{
			Action:    ActionNotFound,
			Reason:    "lease has no scenario",
			LeaseID:   lease.LeaseID,
			AccountID: lease.AccountID,
		}, nil
	}

	event := services.DeploymentEvent{
		LeaseID:      lease.LeaseID,
		AccountID:    lease.AccountID,
		TemplateName: templateText,
	}

	result, err := o.run(ctx, lease, templateText, &event)
	if err != nil {
		o.notifyFailure(ctx, event, err)
		return nil, err
	}

	if result.Action != ActionNotFound {
		event.StackName = result.StackName
		event.StackID = result.StackID
		event.Action = string(result.Action)
		o.p.Notifier.DeploymentSucceeded(ctx, event)
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, lease leasedao.Record, templateText string, event *services.DeploymentEvent) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	ref, err := scenario.ParseRef(templateText)
	if err != nil {
		return nil, err
	}
	branch := ref.EffectiveBranch(o.p.Config.RepoBranch)
	event.TemplateName = ref.Name

	classification, err := o.p.Repo.Detect(ctx, ref.Name, branch)
	if errors.Is(err, apperrors.ErrScenarioNotFound) {
		// Expected when a lease references a retired scenario. Not a defect.
		logger.Info().
			Str("lease_id", lease.LeaseID).
			Str("scenario", ref.Name).
			Str("branch", branch).
			Msg("Scenario not found in repository, skipping deployment")
		return &Result{
			Action:       ActionNotFound,
			Reason:       "scenario not found",
			LeaseID:      lease.LeaseID,
			AccountID:    lease.AccountID,
			TemplateName: ref.Name,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to classify scenario %s: %w", ref.Name, err)
	}

	targetCfg, err := o.p.Creds.ConfigForAccount(ctx, lease.AccountID, o.p.Config.DeployRegion)
	if err != nil {
		return nil, err
	}

	var templateBody string
	if classification.IsCDK() {
		templateBody, err = o.synthesize(ctx, lease, ref.Name, branch, classification, targetCfg)
	} else {
		templateBody, err = o.p.Repo.DownloadTemplate(ctx, ref.Name, branch)
		if errors.Is(err, apperrors.ErrScenarioNotFound) {
			logger.Info().
				Str("lease_id", lease.LeaseID).
				Str("scenario", ref.Name).
				Msg("Scenario template not found, skipping deployment")
			return &Result{
				Action:       ActionNotFound,
				Reason:       "template not found",
				LeaseID:      lease.LeaseID,
				AccountID:    lease.AccountID,
				TemplateName: ref.Name,
			}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if err := o.p.Validator.ValidateBody(ctx, templateBody); err != nil {
		return nil, err
	}

	declared, err := scenario.TemplateParameterNames(templateBody)
	if err != nil {
		return nil, apperrors.NewValidation("failed to read template parameters: %s", err)
	}
	parameters := scenario.MapParameters(lease, declared)

	stackName, err := scenario.GenerateStackName(ref.Name, lease.LeaseID)
	if err != nil {
		return nil, err
	}

	deployer := o.p.NewDeployer(targetCfg)
	outcome, err := retry.Do(ctx, o.p.RetryPolicy, func(ctx context.Context) (*deploy.Outcome, error) {
		return deployer.DeployOrUpdate(ctx, stackName, templateBody, parameters)
	}, apperrors.IsRetryable)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("lease_id", lease.LeaseID).
		Str("stack_name", outcome.StackName).
		Str("action", string(outcome.Action)).
		Int("parameters_used", len(parameters)).
		Int("parameters_skipped", len(declared)-len(parameters)).
		Msg("Deployment finished")

	return &Result{
		Action:            Action(outcome.Action),
		LeaseID:           lease.LeaseID,
		AccountID:         lease.AccountID,
		TemplateName:      ref.Name,
		StackName:         outcome.StackName,
		StackID:           outcome.StackID,
		ParametersUsed:    len(parameters),
		ParametersSkipped: len(declared) - len(parameters),
	}, nil
}

// synthesize prepares the target account for CDK, fetches the scenario
// project, and synthesizes it into a template body.
func (o *Orchestrator) synthesize(ctx context.Context, lease leasedao.Record, name, branch string, classification gitrepo.Classification, targetCfg aws.Config) (string, error) {
	creds, err := o.p.Creds.ForAccount(ctx, lease.AccountID)
	if err != nil {
		return "", err
	}

	bootstrapper := o.p.NewBootstrapper(targetCfg, creds)
	if err := bootstrapper.EnsureBootstrapped(ctx, lease.AccountID, o.p.Config.DeployRegion); err != nil {
		return "", err
	}

	token, err := o.repoToken(ctx)
	if err != nil {
		return "", err
	}

	localPath, cleanup, err := o.p.Fetcher.Fetch(ctx, name, branch, o.p.WorkspaceRoot, token)
	if err != nil {
		return "", err
	}
	defer cleanup()

	projectDir := filepath.Join(localPath, filepath.FromSlash(classification.ProjectDir()))
	return o.p.Synthesizer.Synthesize(ctx, projectDir)
}

func (o *Orchestrator) repoToken(ctx context.Context) (string, error) {
	if o.p.Config.TokenSecretName == "" {
		return "", nil
	}
	token, err := o.p.Tokens.GetRepoToken(ctx, o.p.Config.TokenSecretName)
	if err != nil {
		return "", apperrors.NewConfiguration("failed to resolve repository token: %s", err)
	}
	return token, nil
}

func (o *Orchestrator) notifyFailure(ctx context.Context, event services.DeploymentEvent, err error) {
	categorized := apperrors.Categorize(err)
	event.ErrorMessage = categorized.Message
	event.ErrorCode = categorized.Code
	event.Category = string(categorized.Category)
	o.p.Notifier.DeploymentFailed(ctx, event)
}
