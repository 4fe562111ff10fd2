package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog"
)

const eventSource = "scenario-deployer"

const (
	DetailTypeSucceeded = "Deployment Succeeded"
	DetailTypeFailed    = "Deployment Failed"
)

// EventBridgeAPI abstracts the PutEvents operation for testing
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// DeploymentEvent is the event detail published after each deployment
// attempt. Failure fields are empty on success.
type DeploymentEvent struct {
	LeaseID      string `json:"leaseId"`
	AccountID    string `json:"accountId"`
	TemplateName string `json:"templateName"`
	StackName    string `json:"stackName,omitempty"`
	StackID      string `json:"stackId,omitempty"`
	Action       string `json:"action,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Category     string `json:"category,omitempty"`
}

// Notifier publishes deployment outcomes to an EventBridge bus. Emission is
// best-effort: a failed publish must never fail the deployment it reports on,
// so errors are logged and swallowed.
type Notifier struct {
	client  EventBridgeAPI
	busName string
}

func NewNotifier(client EventBridgeAPI, busName string) *Notifier {
	if busName == "" {
		busName = "default"
	}
	return &Notifier{
		client:  client,
		busName: busName,
	}
}

// DeploymentSucceeded publishes a success event for the lease
func (n *Notifier) DeploymentSucceeded(ctx context.Context, event DeploymentEvent) {
	n.publish(ctx, DetailTypeSucceeded, event)
}

// DeploymentFailed publishes a failure event for the lease
func (n *Notifier) DeploymentFailed(ctx context.Context, event DeploymentEvent) {
	n.publish(ctx, DetailTypeFailed, event)
}

func (n *Notifier) publish(ctx context.Context, detailType string, event DeploymentEvent) {
	logger := zerolog.Ctx(ctx)

	detail, err := json.Marshal(event)
	if err != nil {
		logger.Warn().Err(err).Str("detail_type", detailType).Msg("failed to marshal deployment event")
		return
	}

	out, err := n.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(n.busName),
				Source:       aws.String(eventSource),
				DetailType:   aws.String(detailType),
				Detail:       aws.String(string(detail)),
			},
		},
	})
	if err == nil && out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		err = fmt.Errorf("put events entry failed: %s %s",
			aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
	}
	if err != nil {
		logger.Warn().Err(err).
			Str("detail_type", detailType).
			Str("lease_id", event.LeaseID).
			Msg("failed to publish deployment event")
		return
	}

	logger.Info().
		Str("detail_type", detailType).
		Str("lease_id", event.LeaseID).
		Str("stack_name", event.StackName).
		Msg("published deployment event")
}
