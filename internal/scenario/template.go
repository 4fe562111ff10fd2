package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TemplateParameterNames returns the names declared under a template's
// Parameters section in document order. A template without a Parameters
// section declares no inputs; that is not an error.
func TemplateParameterNames(body string) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template root is not a mapping")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "Parameters" {
			continue
		}
		params := root.Content[i+1]
		if params.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("template Parameters section is not a mapping")
		}
		names := make([]string, 0, len(params.Content)/2)
		for j := 0; j+1 < len(params.Content); j += 2 {
			names = append(names, params.Content[j].Value)
		}
		return names, nil
	}
	return nil, nil
}
