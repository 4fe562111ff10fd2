package scenario

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/sandboxhq/scenario-deployer/internal/dao/leasedao"
)

// attributeFor maps template parameter names to lease attributes by
// convention, covering the common synonyms template authors use.
var attributeFor = map[string]func(leasedao.Record) string{
	"AccountId":       leaseAccountID,
	"Account":         leaseAccountID,
	"AWSAccountId":    leaseAccountID,
	"AwsAccountId":    leaseAccountID,
	"LeaseId":         leaseID,
	"LeaseID":         leaseID,
	"SandboxLeaseId":  leaseID,
	"RequesterEmail":  leaseRequester,
	"Requester":       leaseRequester,
	"UserEmail":       leaseRequester,
	"OwnerEmail":      leaseRequester,
	"BudgetAmount":    leaseBudget,
	"Budget":          leaseBudget,
	"MaxBudget":       leaseBudget,
	"ExpirationDate":  leaseExpiry,
	"ExpiresAt":       leaseExpiry,
	"LeaseExpiration": leaseExpiry,
}

// MapParameters projects the lease onto the template's declared inputs.
// A required name with no mapping, or whose resolved value is empty, is
// silently omitted: the template may carry its own default. Output order
// follows the input order of required.
func MapParameters(lease leasedao.Record, required []string) []types.Parameter {
	var out []types.Parameter
	for _, name := range required {
		resolve, ok := attributeFor[name]
		if !ok {
			continue
		}
		value := resolve(lease)
		if value == "" {
			continue
		}
		out = append(out, types.Parameter{
			ParameterKey:   aws.String(name),
			ParameterValue: aws.String(value),
		})
	}
	return out
}

func leaseAccountID(r leasedao.Record) string { return r.AccountID }
func leaseID(r leasedao.Record) string        { return r.LeaseID }
func leaseRequester(r leasedao.Record) string { return r.RequesterEmail }

func leaseBudget(r leasedao.Record) string {
	if r.BudgetAmount == nil {
		return ""
	}
	return strconv.FormatFloat(*r.BudgetAmount, 'f', -1, 64)
}

func leaseExpiry(r leasedao.Record) string {
	if r.ExpiresAt == 0 {
		return ""
	}
	return r.Expiration().Format(time.RFC3339)
}
