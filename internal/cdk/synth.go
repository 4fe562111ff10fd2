package cdk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/gitrepo"
)

const defaultSynthTimeout = 3 * time.Minute

// Synthesizer turns a fetched CDK project directory into a template body.
type Synthesizer struct {
	runner  gitrepo.CommandRunner
	timeout time.Duration
}

// SynthOption configures a Synthesizer.
type SynthOption func(*Synthesizer)

// WithSynthRunner overrides the command runner, mainly for tests.
func WithSynthRunner(runner gitrepo.CommandRunner) SynthOption {
	return func(s *Synthesizer) {
		s.runner = runner
	}
}

// WithSynthTimeout overrides the wall-clock bound on synthesis.
func WithSynthTimeout(timeout time.Duration) SynthOption {
	return func(s *Synthesizer) {
		s.timeout = timeout
	}
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(opts ...SynthOption) *Synthesizer {
	s := &Synthesizer{
		runner:  gitrepo.ExecRunner{},
		timeout: defaultSynthTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize runs the CDK toolchain in projectDir and returns the emitted
// template body. Dependencies install first so a freshly exported project
// synthesizes in a cold workspace.
func (s *Synthesizer) Synthesize(ctx context.Context, projectDir string) (string, error) {
	logger := zerolog.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	env := []string{
		"PATH=" + pathEnv(),
		"HOME=" + projectDir,
		"CDK_DISABLE_VERSION_CHECK=true",
		"npm_config_audit=false",
		"npm_config_fund=false",
	}

	if output, err := s.runner.RunOutput(ctx, projectDir, env, "npm", "install", "--no-progress"); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: npm install", apperrors.ErrSynthTimeout)
		}
		return "", fmt.Errorf("npm install failed: %s: %w", gitrepo.RedactTokens(string(output)), err)
	}

	outDir := filepath.Join(projectDir, "cdk.out")
	output, err := s.runner.RunOutput(ctx, projectDir, env, "cdk", "synth", "--no-lookups", "--output", outDir)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: cdk synth", apperrors.ErrSynthTimeout)
		}
		return "", fmt.Errorf("cdk synth failed: %s: %w", gitrepo.RedactTokens(string(output)), err)
	}

	// A scenario synthesizes to exactly one stack template.
	matches, err := filepath.Glob(filepath.Join(outDir, "*.template.json"))
	if err != nil {
		return "", fmt.Errorf("failed to scan synth output: %w", err)
	}
	if len(matches) == 0 {
		return "", apperrors.ErrSynthesisFailed
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("%w: expected one stack, found %d", apperrors.ErrSynthesisFailed, len(matches))
	}

	raw, err := os.ReadFile(matches[0])
	if err != nil {
		return "", fmt.Errorf("failed to read synthesized template: %w", err)
	}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return "", apperrors.ErrSynthesisFailed
	}

	logger.Info().
		Str("project_dir", projectDir).
		Int("template_bytes", len(body)).
		Msg("Synthesized CDK project")
	return body, nil
}

func pathEnv() string {
	return os.Getenv("PATH")
}
