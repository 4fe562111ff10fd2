package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	secrets map[string]string
	calls   int
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	value, ok := f.secrets[aws.ToString(input.SecretId)]
	if !ok {
		return nil, fmt.Errorf("ResourceNotFoundException: %s", aws.ToString(input.SecretId))
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func TestGetRepoToken(t *testing.T) {
	testCases := []struct {
		name     string
		secret   string
		expected string
		wantErr  bool
	}{
		{
			name:     "json secret with token field",
			secret:   `{"token":"ghp_abc123"}`,
			expected: "ghp_abc123",
		},
		{
			name:     "plain string secret",
			secret:   "ghp_plain456",
			expected: "ghp_plain456",
		},
		{
			name:    "empty secret",
			secret:  "",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewSecretsManagerService(&fakeSecrets{
				secrets: map[string]string{"scenario-deployer/dev/repo-token": tc.secret},
			})

			token, err := svc.GetRepoToken(context.Background(), "scenario-deployer/dev/repo-token")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, token)
		})
	}
}

func TestGetSecret_Caching(t *testing.T) {
	client := &fakeSecrets{secrets: map[string]string{"path": "value"}}
	svc := NewSecretsManagerService(client)

	for i := 0; i < 3; i++ {
		value, err := svc.GetSecret(context.Background(), "path")
		require.NoError(t, err)
		assert.Equal(t, "value", value)
	}
	assert.Equal(t, 1, client.calls)
}

func TestGetSecret_NotFound(t *testing.T) {
	svc := NewSecretsManagerService(&fakeSecrets{secrets: map[string]string{}})
	_, err := svc.GetSecret(context.Background(), "missing")
	assert.Error(t, err)
}
