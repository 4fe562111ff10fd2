package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/sandboxhq/scenario-deployer/internal/cdk"
	"github.com/sandboxhq/scenario-deployer/internal/dao/leasedao"
	"github.com/sandboxhq/scenario-deployer/internal/deploy"
	"github.com/sandboxhq/scenario-deployer/internal/gitrepo"
	"github.com/sandboxhq/scenario-deployer/internal/orchestrator"
	"github.com/sandboxhq/scenario-deployer/internal/policy"
	"github.com/sandboxhq/scenario-deployer/internal/services"
)

func ProvideSecretsManager(client *secretsmanager.Client) *services.SecretsManagerService {
	return services.NewSecretsManagerService(client)
}

func ProvideCredentialsBroker(stsClient *sts.Client, awsConfig aws.Config, config *services.Config) *services.CredentialsBroker {
	var opts []services.BrokerOption
	if config.HubRoleARN != "" {
		opts = append(opts, services.WithHubRole(config.HubRoleARN))
	}
	return services.NewCredentialsBroker(stsClient, awsConfig, config.SandboxRoleName, opts...)
}

func ProvideNotifier(client *eventbridge.Client, config *services.Config) *services.Notifier {
	return services.NewNotifier(client, config.EventBusName)
}

// ProvideRepoClient builds the repository client, attaching the access token
// when one is configured. The token is resolved once per container.
func ProvideRepoClient(ctx context.Context, config *services.Config, secrets *services.SecretsManagerService) (*gitrepo.Client, error) {
	coords := gitrepo.Coordinates{
		Org:      config.RepoOrg,
		Repo:     config.RepoName,
		BasePath: config.RepoBasePath,
		Branch:   config.RepoBranch,
	}

	var opts []gitrepo.Option
	if config.TokenSecretName != "" {
		token, err := secrets.GetRepoToken(ctx, config.TokenSecretName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gitrepo.WithToken(token))
	}

	return gitrepo.NewClient(coords, opts...), nil
}

func ProvideFetcher(client *gitrepo.Client) *gitrepo.Fetcher {
	return gitrepo.NewFetcher(client)
}

func ProvideValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

func ProvideOrchestrator(
	leases *leasedao.DAO,
	repo *gitrepo.Client,
	fetcher *gitrepo.Fetcher,
	validator *policy.Validator,
	secrets *services.SecretsManagerService,
	broker *services.CredentialsBroker,
	notifier *services.Notifier,
	config *services.Config,
) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Params{
		Leases:    leases,
		Repo:      repo,
		Fetcher:   fetcher,
		Validator: validator,
		Tokens:    secrets,
		Creds:     broker,
		Notifier:  notifier,
		Config:    config,
		NewDeployer: func(cfg aws.Config) orchestrator.StackDeployer {
			return deploy.NewManager(cloudformation.NewFromConfig(cfg))
		},
		NewBootstrapper: func(cfg aws.Config, creds aws.Credentials) orchestrator.Bootstrap {
			return cdk.NewBootstrapper(ssm.NewFromConfig(cfg), cloudformation.NewFromConfig(cfg), creds)
		},
		Synthesizer: cdk.NewSynthesizer(),
	})
}
