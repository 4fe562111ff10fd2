// Package policy validates scenario templates against the sandbox guardrail
// policy before anything reaches the target account.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"gopkg.in/yaml.v3"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

//go:embed scenario.rego
var policyContent string

type Validator struct {
	allowQuery      rego.PreparedEvalQuery
	violationsQuery rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

func NewValidator() (*Validator, error) {
	ctx := context.Background()

	allowQuery, err := rego.New(
		rego.Query("data.scenario.allow"),
		rego.Module("scenario.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	violationsQuery, err := rego.New(
		rego.Query("data.scenario.violations"),
		rego.Module("scenario.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	return &Validator{
		allowQuery:      allowQuery,
		violationsQuery: violationsQuery,
	}, nil
}

// ValidateBody parses a template body (YAML or JSON) and evaluates it against
// the guardrail policy. A disallowed template returns a validation-category
// error listing the violations. Parsing walks the node tree directly so
// shorthand intrinsic tags (!Ref, !Sub, ...) elsewhere in the template do not
// break the policy check.
func (v *Validator) ValidateBody(ctx context.Context, templateBody string) error {
	template, err := extractResources(templateBody)
	if err != nil {
		return apperrors.NewValidation("failed to parse template for policy check: %s", err)
	}

	result, err := v.ValidateTemplate(ctx, template)
	if err != nil {
		return fmt.Errorf("policy validation error: %w", err)
	}
	if !result.Allowed {
		return apperrors.NewValidation("policy violations: %v", result.Violations)
	}
	return nil
}

func (v *Validator) ValidateTemplate(ctx context.Context, template map[string]interface{}) (*ValidationResult, error) {
	input := map[string]interface{}{
		"Resources": template["Resources"],
	}

	results, err := v.allowQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned non-boolean result"},
		}, nil
	}

	result := &ValidationResult{Allowed: allowed}
	if !allowed {
		violations, err := v.getViolations(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to get violations: %w", err)
		}
		result.Violations = violations
	}

	return result, nil
}

// extractResources pulls {Resources: {name: {Type: ...}}} out of a template
// body without fully decoding it, so only the fields the policy inspects need
// to be well-formed.
func extractResources(body string) (map[string]interface{}, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return map[string]interface{}{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template root is not a mapping")
	}

	resources := map[string]interface{}{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "Resources" {
			continue
		}
		section := root.Content[i+1]
		if section.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("template Resources section is not a mapping")
		}
		for j := 0; j+1 < len(section.Content); j += 2 {
			name := section.Content[j].Value
			resource := section.Content[j+1]
			entry := map[string]interface{}{}
			if resource.Kind == yaml.MappingNode {
				for k := 0; k+1 < len(resource.Content); k += 2 {
					if resource.Content[k].Value == "Type" {
						entry["Type"] = resource.Content[k+1].Value
					}
				}
			}
			resources[name] = entry
		}
	}
	return map[string]interface{}{"Resources": resources}, nil
}

func (v *Validator) getViolations(ctx context.Context, input map[string]interface{}) ([]string, error) {
	results, err := v.violationsQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}

	var violations []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, value := range values {
				if s, ok := value.(string); ok {
					violations = append(violations, s)
				}
			}
		}
	}
	return violations, nil
}
