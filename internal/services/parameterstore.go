package services

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds all application configuration values from Parameter Store
type Config struct {
	RepoOrg         string
	RepoName        string
	RepoBranch      string
	RepoBasePath    string
	SandboxRoleName string
	HubRoleARN      string
	DeployRegion    string
	LogLevel        string
	TokenSecretName string
	LeaseTableName  string
	EventBusName    string
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all application configuration from Parameter Store
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMAPI is the subset of the SSM client used by the parameter store.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client SSMAPI
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMAPI, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all application configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/scenario-deployer", s.env)

	// Use GetParametersByPath for efficient batch retrieval
	result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
	}

	params := make(map[string]string)
	for _, param := range result.Parameters {
		if param.Name != nil && param.Value != nil {
			params[*param.Name] = *param.Value
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	config := &Config{
		RepoOrg:         params[fmt.Sprintf("/%s/scenario-deployer/repo-org", s.env)],
		RepoName:        params[fmt.Sprintf("/%s/scenario-deployer/repo-name", s.env)],
		RepoBranch:      params[fmt.Sprintf("/%s/scenario-deployer/repo-branch", s.env)],
		RepoBasePath:    params[fmt.Sprintf("/%s/scenario-deployer/repo-base-path", s.env)],
		SandboxRoleName: params[fmt.Sprintf("/%s/scenario-deployer/sandbox-role-name", s.env)],
		HubRoleARN:      params[fmt.Sprintf("/%s/scenario-deployer/hub-role-arn", s.env)],
		DeployRegion:    params[fmt.Sprintf("/%s/scenario-deployer/deploy-region", s.env)],
		LogLevel:        params[fmt.Sprintf("/%s/scenario-deployer/log-level", s.env)],
		TokenSecretName: params[fmt.Sprintf("/%s/scenario-deployer/token-secret-name", s.env)],
		LeaseTableName:  params[fmt.Sprintf("/%s/scenario-deployer/lease-table-name", s.env)],
		EventBusName:    params[fmt.Sprintf("/%s/scenario-deployer/event-bus-name", s.env)],
	}

	applyConfigDefaults(config)

	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables.
// This is a fallback implementation for local development without AWS access.
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetConfig loads all application configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := &Config{
		RepoOrg:         os.Getenv("SCENARIO_REPO_ORG"),
		RepoName:        os.Getenv("SCENARIO_REPO_NAME"),
		RepoBranch:      os.Getenv("SCENARIO_REPO_BRANCH"),
		RepoBasePath:    os.Getenv("SCENARIO_REPO_BASE_PATH"),
		SandboxRoleName: os.Getenv("SANDBOX_ROLE_NAME"),
		HubRoleARN:      os.Getenv("HUB_ROLE_ARN"),
		DeployRegion:    os.Getenv("DEPLOY_REGION"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		TokenSecretName: os.Getenv("TOKEN_SECRET_NAME"),
		LeaseTableName:  os.Getenv("LEASE_TABLE_NAME"),
		EventBusName:    os.Getenv("EVENT_BUS_NAME"),
	}

	applyConfigDefaults(config)

	return config, nil
}

func applyConfigDefaults(config *Config) {
	if config.RepoBranch == "" {
		config.RepoBranch = "main"
	}
	if config.RepoBasePath == "" {
		config.RepoBasePath = "scenarios"
	}
	if config.SandboxRoleName == "" {
		config.SandboxRoleName = "SandboxDeploymentRole"
	}
	// TokenSecretName has no default: an empty value means the scenario
	// repository is public and no token is attached.
	if config.EventBusName == "" {
		config.EventBusName = "default"
	}
}

func boolPtr(b bool) *bool {
	return &b
}
