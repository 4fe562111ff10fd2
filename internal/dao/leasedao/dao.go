// Package leasedao reads lease records from the sandbox platform's DynamoDB
// table. The deployer only ever reads: the lease lifecycle itself is owned by
// the surrounding platform.
package leasedao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

// PK represents a DynamoDB partition key in format lease/{leaseId}
type PK string

// NewPK creates a partition key from a lease id
func NewPK(leaseID string) PK {
	return PK(fmt.Sprintf("lease/%s", leaseID))
}

// ParsePK parses a partition key into its lease id component
func ParsePK(pk PK) (leaseID string, err error) {
	s := string(pk)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] != "lease" || parts[1] == "" {
		return "", fmt.Errorf("invalid PK format: %s, expected lease/{leaseId}", s)
	}
	return parts[1], nil
}

// String returns the string representation of the partition key
func (pk PK) String() string {
	return string(pk)
}

// skDetails is the fixed sort key for the lease detail item.
const skDetails = "details"

// LeaseStatus represents the current lifecycle status of a lease
type LeaseStatus string

const (
	LeaseStatusPendingApproval LeaseStatus = "PENDING_APPROVAL"
	LeaseStatusActive          LeaseStatus = "ACTIVE"
	LeaseStatusExpired         LeaseStatus = "EXPIRED"
	LeaseStatusTerminated      LeaseStatus = "TERMINATED"
)

// Record is the read-only snapshot of a lease used for one orchestration run.
type Record struct {
	PK             PK          `ddb:"hash" dynamodbav:"pk"`
	SK             string      `ddb:"range" dynamodbav:"sk"`
	LeaseID        string      `dynamodbav:"lease_id,omitempty"`
	AccountID      string      `dynamodbav:"account_id,omitempty"`      // target sandbox account
	RequesterEmail string      `dynamodbav:"requester_email,omitempty"` // identity that requested the lease
	BudgetAmount   *float64    `dynamodbav:"budget_amount,omitempty"`   // dollars; nil when unbudgeted
	ExpiresAt      int64       `dynamodbav:"expires_at,omitempty"`      // unix epoch
	Status         LeaseStatus `dynamodbav:"status,omitempty"`
	TemplateName   string      `dynamodbav:"template_name,omitempty"` // optional scenario reference
	CreatedAt      int64       `dynamodbav:"created_at,omitempty"`
	UpdatedAt      int64       `dynamodbav:"updated_at,omitempty"`
}

// Expiration returns the lease expiry as a time.Time, zero when unset.
func (r *Record) Expiration() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(r.ExpiresAt, 0).UTC()
}

// TableName derives the lease table name from the environment
func TableName(env string) string {
	return fmt.Sprintf("%s-sandbox-leases", env)
}

// DAO provides read access to lease records
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Find retrieves the lease record for the given lease id.
// Returns apperrors.ErrLeaseNotFound when no record exists.
func (d *DAO) Find(ctx context.Context, leaseID string) (Record, error) {
	if leaseID == "" {
		return Record{}, apperrors.ErrMissingLeaseID
	}

	var record Record
	err := d.table.Get(NewPK(leaseID).String()).
		Range(skDetails).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("%w: %s", apperrors.ErrLeaseNotFound, leaseID)
		}
		return Record{}, fmt.Errorf("failed to find lease record: %w", err)
	}

	// If all fields are empty, item doesn't exist
	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("%w: %s", apperrors.ErrLeaseNotFound, leaseID)
	}

	return record, nil
}
