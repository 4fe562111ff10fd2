package scenario

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStackName(t *testing.T) {
	tests := []struct {
		name         string
		templateName string
		leaseID      string
		want         string
		wantErr      bool
	}{
		{
			name:         "yaml extension folded into name",
			templateName: "vpc-setup.yaml",
			leaseID:      "lease-123",
			want:         "isb-vpc-setup-yaml-lease-123",
		},
		{
			name:         "underscores become hyphens",
			templateName: "data_lake_v2",
			leaseID:      "lease-9",
			want:         "isb-data-lake-v2-lease-9",
		},
		{
			name:         "leading digits stripped",
			templateName: "123app",
			leaseID:      "lease-1",
			want:         "isb-app-lease-1",
		},
		{
			name:         "repeated separators collapse",
			templateName: "my..app__x",
			leaseID:      "lease-1",
			want:         "isb-my-app-x-lease-1",
		},
		{
			name:         "template sanitizes to nothing",
			templateName: "1234",
			leaseID:      "lease-1",
			wantErr:      true,
		},
		{
			name:         "lease sanitizes to nothing",
			templateName: "app",
			leaseID:      "***",
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateStackName(tt.templateName, tt.leaseID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateStackName_Deterministic(t *testing.T) {
	first, err := GenerateStackName("vpc-setup.yaml", "lease-123")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := GenerateStackName("vpc-setup.yaml", "lease-123")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestGenerateStackName_TruncatesTemplateNeverLease(t *testing.T) {
	templateName := strings.Repeat("ab", 49) // 98 chars, under the name limit
	leaseID := "lease-" + strings.Repeat("x", 60)

	got, err := GenerateStackName(templateName, leaseID)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(got), maxStackName)
	// Lease segment is the idempotency key and survives intact.
	assert.True(t, strings.HasSuffix(got, "lease-"+strings.Repeat("x", 60)))
	assert.Regexp(t, `^[A-Za-z][A-Za-z0-9-]*$`, got)
}
