package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/scenario"
)

const (
	defaultFetchTimeout = 2 * time.Minute

	askpassFileName = "askpass.sh"
	tokenEnvVar     = "SCENARIO_GIT_TOKEN"
)

// shellMetachars are rejected outright in template names before any process
// is spawned. Arguments are passed as a fixed vector so these could never be
// interpreted anyway, but a name containing them has no legitimate use.
const shellMetachars = ";&|`$()*?[]~^<>!\\'\""

// CommandRunner executes an external command with an explicit environment.
// The environment is a parameter, not inherited: the narrowed env is a
// security property of the fetcher, not a convenience.
type CommandRunner interface {
	RunOutput(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)
}

// ExecRunner is the os/exec-backed CommandRunner.
type ExecRunner struct{}

func (r ExecRunner) RunOutput(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd.CombinedOutput()
}

// Fetcher materializes a scenario folder from the repository into an
// ephemeral local workspace.
type Fetcher struct {
	client  *Client
	runner  CommandRunner
	timeout time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRunner overrides the command runner, mainly for tests.
func WithRunner(runner CommandRunner) FetcherOption {
	return func(f *Fetcher) {
		f.runner = runner
	}
}

// WithFetchTimeout overrides the wall-clock bound on the git invocation.
func WithFetchTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.timeout = timeout
	}
}

// NewFetcher creates a Fetcher for the client's repository.
func NewFetcher(client *Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:  client,
		runner:  ExecRunner{},
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ValidateFetchName is the fetcher's pre-flight gate: names with traversal
// sequences, whitespace, shell metacharacters, or excessive length fail here,
// before any external process exists to receive them.
func ValidateFetchName(templateName string) error {
	if templateName == "" {
		return apperrors.NewValidation("template name is empty")
	}
	if len(templateName) > 100 {
		return apperrors.NewValidation("template name exceeds 100 characters")
	}
	if strings.Contains(templateName, "..") || strings.ContainsAny(templateName, "/\\") {
		return apperrors.NewValidation("template name %q contains a path traversal sequence", templateName)
	}
	if strings.ContainsAny(templateName, " \t\n\r") {
		return apperrors.NewValidation("template name %q contains whitespace", templateName)
	}
	if strings.ContainsAny(templateName, shellMetachars) {
		return apperrors.NewValidation("template name %q contains shell metacharacters", templateName)
	}
	return scenario.ValidateName(templateName)
}

// Fetch exports the scenario folder for templateName at branch into a fresh
// workspace under workspaceRoot and returns the scenario's local path plus a
// cleanup function. The caller owns calling cleanup on every exit path; the
// fetcher removes the workspace itself whenever it fails.
func (f *Fetcher) Fetch(ctx context.Context, templateName, branch, workspaceRoot, token string) (string, func(), error) {
	logger := zerolog.Ctx(ctx)

	if err := ValidateFetchName(templateName); err != nil {
		return "", nil, err
	}
	if err := scenario.ValidateBranch(branch); err != nil {
		return "", nil, err
	}

	workspace := filepath.Join(workspaceRoot, "scenario-"+ksuid.New().String())
	if err := os.MkdirAll(workspace, 0o700); err != nil {
		return "", nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(workspace); err != nil {
			// Cleanup must never mask the primary result.
			logger.Warn().Err(err).Str("workspace", workspace).Msg("Failed to remove workspace")
		}
	}

	env, err := f.buildEnv(workspace, token)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	scenarioPath := filepath.ToSlash(filepath.Join(f.client.coords.BasePath, templateName))
	repoDir := filepath.Join(workspace, "repo")

	cloneArgs := []string{
		"clone",
		"--depth", "1",
		"--branch", branch,
		"--single-branch",
		"--no-tags",
		"--filter=blob:none",
		"--sparse",
		"--",
		f.client.CloneURL(),
		repoDir,
	}
	if err := f.runGit(ctx, workspace, env, cloneArgs...); err != nil {
		cleanup()
		return "", nil, err
	}

	if err := f.runGit(ctx, repoDir, env, "sparse-checkout", "set", "--", scenarioPath); err != nil {
		cleanup()
		return "", nil, err
	}

	localPath := filepath.Join(repoDir, filepath.FromSlash(scenarioPath))
	if info, err := os.Stat(localPath); err != nil || !info.IsDir() {
		cleanup()
		return "", nil, fmt.Errorf("%w: %s", apperrors.ErrScenarioNotFound, templateName)
	}

	logger.Info().
		Str("scenario", templateName).
		Str("branch", branch).
		Str("path", localPath).
		Msg("Fetched scenario into workspace")
	return localPath, cleanup, nil
}

func (f *Fetcher) runGit(ctx context.Context, dir string, env []string, args ...string) error {
	output, err := f.runner.RunOutput(ctx, dir, env, "git", args...)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: git %s", apperrors.ErrFetchTimeout, args[0])
	}
	return sanitizeProcessError(string(output))
}

// buildEnv assembles the minimal explicit environment for the git child
// process: non-interactive mode forced, no inherited shell state, and the
// token delivered through an askpass helper so it never appears on a command
// line.
func (f *Fetcher) buildEnv(workspace, token string) ([]string, error) {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workspace,
		"GIT_TERMINAL_PROMPT=0",
		"GIT_CONFIG_NOSYSTEM=1",
	}
	if token == "" {
		return env, nil
	}

	askpass := filepath.Join(workspace, askpassFileName)
	script := fmt.Sprintf("#!/bin/sh\necho \"$%s\"\n", tokenEnvVar)
	if err := os.WriteFile(askpass, []byte(script), 0o700); err != nil {
		return nil, fmt.Errorf("failed to write askpass helper: %w", err)
	}

	env = append(env,
		"GIT_ASKPASS="+askpass,
		tokenEnvVar+"="+token,
	)
	return env, nil
}
