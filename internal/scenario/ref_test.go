package scenario

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantName   string
		wantBranch string
		wantErr    bool
	}{
		{
			name:     "name only",
			input:    "vpc-setup",
			wantName: "vpc-setup",
		},
		{
			name:       "name with branch",
			input:      "vpc-setup@feature/new-vpc",
			wantName:   "vpc-setup",
			wantBranch: "feature/new-vpc",
		},
		{
			name:     "name with dots and underscores",
			input:    "data_lake.v2",
			wantName: "data_lake.v2",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "empty name with branch",
			input:   "@main",
			wantErr: true,
		},
		{
			name:    "name with spaces",
			input:   "my scenario",
			wantErr: true,
		},
		{
			name:    "name with shell metacharacters",
			input:   "app;rm -rf",
			wantErr: true,
		},
		{
			name:    "name with path traversal",
			input:   "../etc/passwd",
			wantErr: true,
		},
		{
			name:    "oversized name",
			input:   strings.Repeat("a", 101),
			wantErr: true,
		},
		{
			name:    "second at-sign lands in branch and is rejected",
			input:   "app@branch@extra",
			wantErr: true,
		},
		{
			name:    "branch with leading dash",
			input:   "app@-rf",
			wantErr: true,
		},
		{
			name:    "branch with leading slash",
			input:   "app@/main",
			wantErr: true,
		},
		{
			name:    "branch with consecutive dots",
			input:   "app@main..other",
			wantErr: true,
		},
		{
			name:    "branch with lock suffix",
			input:   "app@main.lock",
			wantErr: true,
		},
		{
			name:    "branch with shell metacharacters",
			input:   "app@$(whoami)",
			wantErr: true,
		},
		{
			name:    "branch with whitespace",
			input:   "app@my branch",
			wantErr: true,
		},
		{
			name:    "oversized branch",
			input:   "app@" + strings.Repeat("b", 257),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, ref.Name)
			assert.Equal(t, tt.wantBranch, ref.BranchOverride)
		})
	}
}

func TestEffectiveBranch(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		defaultBranch string
		want          string
	}{
		{
			name:          "no override uses default",
			input:         "vpc-setup",
			defaultBranch: "main",
			want:          "main",
		},
		{
			name:          "override wins",
			input:         "vpc-setup@develop",
			defaultBranch: "main",
			want:          "develop",
		},
		{
			name:          "override equal to default still explicit",
			input:         "vpc-setup@main",
			defaultBranch: "main",
			want:          "main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref.EffectiveBranch(tt.defaultBranch))
		})
	}
}

// Round-trip: for every accepted name@branch, the effective branch is exactly
// the branch segment regardless of the default.
func TestParseRefRoundTrip(t *testing.T) {
	inputs := []string{
		"app@main",
		"vpc-setup@release-1.2",
		"data_lake.v2@feature/ingest",
		"a@b",
	}
	for _, input := range inputs {
		ref, err := ParseRef(input)
		require.NoError(t, err, input)
		branch := input[strings.Index(input, "@")+1:]
		assert.Equal(t, branch, ref.EffectiveBranch("some-default"), input)
	}
}
