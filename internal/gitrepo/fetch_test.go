package gitrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

// fakeRunner records invocations and plays back canned results. When
// materialize is set, it creates the scenario directory the way a successful
// sparse checkout would.
type fakeRunner struct {
	calls       [][]string
	envs        [][]string
	err         error
	output      string
	materialize string
}

func (r *fakeRunner) RunOutput(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	r.envs = append(r.envs, env)
	if r.err != nil {
		return []byte(r.output), r.err
	}
	if r.materialize != "" && args[0] == "sparse-checkout" {
		if err := os.MkdirAll(filepath.Join(dir, r.materialize), 0o700); err != nil {
			return nil, err
		}
	}
	return []byte(r.output), nil
}

func newTestFetcher(t *testing.T, runner CommandRunner) *Fetcher {
	t.Helper()
	client := NewClient(Coordinates{Org: "sandboxhq", Repo: "scenarios", BasePath: "scenarios", Branch: "main"})
	return NewFetcher(client, WithRunner(runner))
}

func TestFetch_PreflightRejectsBeforeSpawn(t *testing.T) {
	inputs := []string{
		"../etc/passwd",
		"app;rm -rf",
		"app$(whoami)",
		"app name",
		strings.Repeat("a", 101),
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			runner := &fakeRunner{}
			fetcher := newTestFetcher(t, runner)

			_, _, err := fetcher.Fetch(context.Background(), input, "main", t.TempDir(), "")
			require.Error(t, err)

			var de *apperrors.DeployError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, apperrors.CategoryValidation, de.Category)
			assert.Empty(t, runner.calls, "no process may be spawned for a rejected name")
		})
	}
}

func TestFetch_Success(t *testing.T) {
	runner := &fakeRunner{materialize: "scenarios/vpc-setup"}
	fetcher := newTestFetcher(t, runner)
	root := t.TempDir()

	localPath, cleanup, err := fetcher.Fetch(context.Background(), "vpc-setup", "main", root, "ghp_secret123")
	require.NoError(t, err)
	defer cleanup()

	assert.DirExists(t, localPath)
	assert.True(t, strings.HasSuffix(localPath, filepath.Join("scenarios", "vpc-setup")))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "git", runner.calls[0][0])
	assert.Equal(t, "clone", runner.calls[0][1])
	assert.Contains(t, runner.calls[0], "--depth")
	assert.Contains(t, runner.calls[0], "main")
	assert.Equal(t, []string{"git", "sparse-checkout", "set", "--", "scenarios/vpc-setup"}, runner.calls[1])

	// Token travels via askpass helper, never on the argument vector.
	for _, call := range runner.calls {
		for _, arg := range call {
			assert.NotContains(t, arg, "ghp_secret123")
		}
	}
	env := runner.envs[0]
	assert.Contains(t, env, "GIT_TERMINAL_PROMPT=0")
	assert.Contains(t, env, tokenEnvVar+"=ghp_secret123")
	foundAskpass := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "GIT_ASKPASS=") {
			foundAskpass = true
		}
	}
	assert.True(t, foundAskpass)

	cleanup()
	workspaceGone, _ := filepath.Glob(filepath.Join(root, "scenario-*"))
	assert.Empty(t, workspaceGone)
}

func TestFetch_WorkspaceRemovedOnFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 128"), output: "fatal: repository vanished"}
	fetcher := newTestFetcher(t, runner)
	root := t.TempDir()

	_, _, err := fetcher.Fetch(context.Background(), "vpc-setup", "main", root, "")
	require.Error(t, err)

	leftovers, _ := filepath.Glob(filepath.Join(root, "scenario-*"))
	assert.Empty(t, leftovers)
}

func TestFetch_AuthFailureIsGeneric(t *testing.T) {
	runner := &fakeRunner{
		err:    errors.New("exit status 128"),
		output: "fatal: Authentication failed for 'https://github.com/sandboxhq/scenarios.git' using token ghp_secret123",
	}
	fetcher := newTestFetcher(t, runner)

	_, _, err := fetcher.Fetch(context.Background(), "vpc-setup", "main", t.TempDir(), "ghp_secret123")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
	assert.NotContains(t, err.Error(), "ghp_secret123")
	assert.NotContains(t, err.Error(), "github.com")
}

func TestFetch_RedactsTokensInErrors(t *testing.T) {
	runner := &fakeRunner{
		err:    errors.New("exit status 128"),
		output: "fatal: unable to access remote with ghp_abc123DEF456",
	}
	fetcher := newTestFetcher(t, runner)

	_, _, err := fetcher.Fetch(context.Background(), "vpc-setup", "main", t.TempDir(), "")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "ghp_abc123DEF456")
	assert.Contains(t, err.Error(), redactedMarker)
}

func TestFetch_Timeout(t *testing.T) {
	slow := &slowRunner{delay: 50 * time.Millisecond}
	client := NewClient(Coordinates{Org: "sandboxhq", Repo: "scenarios", BasePath: "scenarios"})
	fetcher := NewFetcher(client, WithRunner(slow), WithFetchTimeout(5*time.Millisecond))

	_, _, err := fetcher.Fetch(context.Background(), "vpc-setup", "main", t.TempDir(), "")
	assert.ErrorIs(t, err, apperrors.ErrFetchTimeout)
}

type slowRunner struct {
	delay time.Duration
}

func (r *slowRunner) RunOutput(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.delay):
		return nil, errors.New("should have timed out")
	}
}
