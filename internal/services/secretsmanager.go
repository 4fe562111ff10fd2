package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerService fetches secrets, caching values for the lifetime of
// the process so repeated deployments in one Lambda container do not hit the
// API again.
type SecretsManagerService struct {
	client SecretsAPI
	mu     sync.RWMutex
	cache  map[string]string
}

func NewSecretsManagerService(client SecretsAPI) *SecretsManagerService {
	return &SecretsManagerService{
		client: client,
		cache:  make(map[string]string),
	}
}

type repoTokenSecret struct {
	Token string `json:"token"`
}

// GetSecret retrieves a secret value by path from AWS Secrets Manager
func (s *SecretsManagerService) GetSecret(ctx context.Context, secretPath string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[secretPath]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", secretPath, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretPath)
	}

	value := *result.SecretString

	s.mu.Lock()
	s.cache[secretPath] = value
	s.mu.Unlock()

	return value, nil
}

// GetRepoToken retrieves the scenario repository access token. The secret may
// be stored either as a JSON object with a "token" field or as a plain string.
func (s *SecretsManagerService) GetRepoToken(ctx context.Context, secretPath string) (string, error) {
	raw, err := s.GetSecret(ctx, secretPath)
	if err != nil {
		return "", err
	}

	var secret repoTokenSecret
	if err := json.Unmarshal([]byte(raw), &secret); err == nil && secret.Token != "" {
		return secret.Token, nil
	}

	if raw == "" {
		return "", fmt.Errorf("secret %s is empty", secretPath)
	}
	return raw, nil
}
