package cdk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

// synthRunner materializes a synthesized template when cdk synth runs.
type synthRunner struct {
	calls     [][]string
	templates map[string]string // filename -> body, written into cdk.out
	synthErr  error
}

func (r *synthRunner) RunOutput(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if name != "cdk" {
		return nil, nil
	}
	if r.synthErr != nil {
		return []byte("synth exploded"), r.synthErr
	}
	outDir := filepath.Join(dir, "cdk.out")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return nil, err
	}
	for file, body := range r.templates {
		if err := os.WriteFile(filepath.Join(outDir, file), []byte(body), 0o600); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestSynthesize(t *testing.T) {
	runner := &synthRunner{templates: map[string]string{
		"SandboxStack.template.json": `{"Resources":{}}`,
	}}
	s := NewSynthesizer(WithSynthRunner(runner))

	body, err := s.Synthesize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, `{"Resources":{}}`, body)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "npm", runner.calls[0][0])
	assert.Equal(t, []string{"cdk", "synth", "--no-lookups", "--output"}, runner.calls[1][:4])
}

func TestSynthesize_NoTemplate(t *testing.T) {
	runner := &synthRunner{templates: map[string]string{}}
	s := NewSynthesizer(WithSynthRunner(runner))

	_, err := s.Synthesize(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrSynthesisFailed)
}

func TestSynthesize_MultipleStacksRejected(t *testing.T) {
	runner := &synthRunner{templates: map[string]string{
		"One.template.json": `{}`,
		"Two.template.json": `{}`,
	}}
	s := NewSynthesizer(WithSynthRunner(runner))

	_, err := s.Synthesize(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrSynthesisFailed)
}

func TestSynthesize_SynthFailure(t *testing.T) {
	runner := &synthRunner{synthErr: errors.New("exit status 1")}
	s := NewSynthesizer(WithSynthRunner(runner))

	_, err := s.Synthesize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cdk synth failed")
}
