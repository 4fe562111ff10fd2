package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/rs/zerolog"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

// STSAPI abstracts the STS AssumeRole operation for testing
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// expiryMargin forces a refresh before credentials actually lapse so a long
// deployment never starts with nearly-expired credentials.
const expiryMargin = 5 * time.Minute

const sessionDuration = int32(3600)

// CredentialsBroker mints short-lived credentials scoped to a sandbox
// account. When a hub role ARN is configured the broker hops through it
// first: the orchestrator assumes the hub role, then uses that session to
// assume the deployment role inside the target account. Sessions are cached
// per account until close to expiry.
type CredentialsBroker struct {
	stsClient  STSAPI
	cfg        aws.Config
	hubRoleARN string
	roleName   string

	// newSTSClient builds an STS client from hop-one credentials. Tests
	// swap this out to avoid real client construction.
	newSTSClient func(aws.Credentials) STSAPI

	mu    sync.Mutex
	cache map[string]aws.Credentials
}

type BrokerOption func(*CredentialsBroker)

// WithHubRole routes all sandbox role assumptions through an intermediate
// hub role.
func WithHubRole(arn string) BrokerOption {
	return func(b *CredentialsBroker) { b.hubRoleARN = arn }
}

func WithSTSFactory(fn func(aws.Credentials) STSAPI) BrokerOption {
	return func(b *CredentialsBroker) { b.newSTSClient = fn }
}

// NewCredentialsBroker creates a broker that assumes roleName inside target
// accounts using the supplied base STS client.
func NewCredentialsBroker(stsClient STSAPI, cfg aws.Config, roleName string, opts ...BrokerOption) *CredentialsBroker {
	b := &CredentialsBroker{
		stsClient: stsClient,
		cfg:       cfg,
		roleName:  roleName,
		cache:     make(map[string]aws.Credentials),
	}
	b.newSTSClient = func(creds aws.Credentials) STSAPI {
		hopCfg := cfg.Copy()
		hopCfg.Credentials = aws.NewCredentialsCache(credentialsProvider(creds))
		return sts.NewFromConfig(hopCfg)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ForAccount returns credentials for the deployment role in the given
// account, reusing a cached session when one is still comfortably valid.
func (b *CredentialsBroker) ForAccount(ctx context.Context, accountID string) (aws.Credentials, error) {
	b.mu.Lock()
	if creds, ok := b.cache[accountID]; ok && time.Until(creds.Expires) > expiryMargin {
		b.mu.Unlock()
		return creds, nil
	}
	b.mu.Unlock()

	creds, err := b.assume(ctx, accountID)
	if err != nil {
		return aws.Credentials{}, err
	}

	b.mu.Lock()
	b.cache[accountID] = creds
	b.mu.Unlock()

	zerolog.Ctx(ctx).Debug().
		Str("account_id", accountID).
		Time("expires", creds.Expires).
		Msg("assumed sandbox deployment role")

	return creds, nil
}

// ConfigForAccount returns an aws.Config carrying credentials for the target
// account, suitable for constructing service clients against it.
func (b *CredentialsBroker) ConfigForAccount(ctx context.Context, accountID, region string) (aws.Config, error) {
	creds, err := b.ForAccount(ctx, accountID)
	if err != nil {
		return aws.Config{}, err
	}

	targetCfg := b.cfg.Copy()
	targetCfg.Credentials = aws.NewCredentialsCache(credentialsProvider(creds))
	if region != "" {
		targetCfg.Region = region
	}
	return targetCfg, nil
}

func (b *CredentialsBroker) assume(ctx context.Context, accountID string) (aws.Credentials, error) {
	client := b.stsClient

	if b.hubRoleARN != "" {
		hubCreds, err := assumeRole(ctx, client, b.hubRoleARN, "scenario-deployer-hub")
		if err != nil {
			return aws.Credentials{}, apperrors.NewPermission("failed to assume hub role: %s", err)
		}
		client = b.newSTSClient(hubCreds)
	}

	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, b.roleName)
	creds, err := assumeRole(ctx, client, roleARN, fmt.Sprintf("scenario-deploy-%s", accountID))
	if err != nil {
		return aws.Credentials{}, apperrors.NewPermission("failed to assume role in account %s: %s", accountID, err)
	}
	return creds, nil
}

func assumeRole(ctx context.Context, client STSAPI, roleARN, sessionName string) (aws.Credentials, error) {
	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(sessionDuration),
	})
	if err != nil {
		return aws.Credentials{}, err
	}
	return fromSTSCredentials(out.Credentials)
}

func fromSTSCredentials(c *ststypes.Credentials) (aws.Credentials, error) {
	if c == nil || c.AccessKeyId == nil || c.SecretAccessKey == nil || c.SessionToken == nil {
		return aws.Credentials{}, fmt.Errorf("assume role response missing credentials")
	}
	creds := aws.Credentials{
		AccessKeyID:     *c.AccessKeyId,
		SecretAccessKey: *c.SecretAccessKey,
		SessionToken:    *c.SessionToken,
		CanExpire:       true,
	}
	if c.Expiration != nil {
		creds.Expires = *c.Expiration
	}
	return creds, nil
}

func credentialsProvider(creds aws.Credentials) aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(
		creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
}
