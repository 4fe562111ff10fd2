package scenario

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxhq/scenario-deployer/internal/dao/leasedao"
)

func TestMapParameters(t *testing.T) {
	budget := 500.0
	lease := leasedao.Record{
		LeaseID:        "lease-123",
		AccountID:      "123456789012",
		RequesterEmail: "dev@example.com",
		BudgetAmount:   &budget,
		ExpiresAt:      1750000000,
	}

	tests := []struct {
		name     string
		lease    leasedao.Record
		required []string
		want     map[string]string
	}{
		{
			name:     "unmapped and empty parameters are omitted",
			lease:    leasedao.Record{AccountID: "123456789012"},
			required: []string{"AccountId", "Unmapped", "Budget"},
			want:     map[string]string{"AccountId": "123456789012"},
		},
		{
			name:     "synonyms resolve to the same attribute",
			lease:    lease,
			required: []string{"AWSAccountId", "Account"},
			want: map[string]string{
				"AWSAccountId": "123456789012",
				"Account":      "123456789012",
			},
		},
		{
			name:     "all mapped attributes",
			lease:    lease,
			required: []string{"AccountId", "LeaseId", "RequesterEmail", "BudgetAmount", "ExpirationDate"},
			want: map[string]string{
				"AccountId":      "123456789012",
				"LeaseId":        "lease-123",
				"RequesterEmail": "dev@example.com",
				"BudgetAmount":   "500",
				"ExpirationDate": "2025-06-15T15:06:40Z",
			},
		},
		{
			name:     "no required parameters",
			lease:    lease,
			required: nil,
			want:     map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapParameters(tt.lease, tt.required)
			require.Len(t, got, len(tt.want))
			for _, p := range got {
				assert.Equal(t, tt.want[aws.ToString(p.ParameterKey)], aws.ToString(p.ParameterValue))
			}
		})
	}
}

func TestMapParameters_PreservesInputOrder(t *testing.T) {
	lease := leasedao.Record{
		LeaseID:        "lease-1",
		AccountID:      "111122223333",
		RequesterEmail: "a@b.com",
	}

	got := MapParameters(lease, []string{"RequesterEmail", "AccountId", "LeaseId"})
	require.Len(t, got, 3)
	assert.Equal(t, "RequesterEmail", aws.ToString(got[0].ParameterKey))
	assert.Equal(t, "AccountId", aws.ToString(got[1].ParameterKey))
	assert.Equal(t, "LeaseId", aws.ToString(got[2].ParameterKey))
}
