package scenario

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

const (
	stackNamePrefix = "isb"
	maxStackName    = 128
)

var (
	stackNameRe     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)
	disallowedRunes = regexp.MustCompile(`[^A-Za-z0-9-]`)
	leadingJunk     = regexp.MustCompile(`^[0-9-]+`)
	repeatedHyphens = regexp.MustCompile(`-{2,}`)
)

// GenerateStackName derives the deterministic stack name for a (template,
// lease) pair. The lease segment is the idempotency key and is never
// truncated; when the composed name is too long, the template segment gives
// way.
func GenerateStackName(templateName, leaseID string) (string, error) {
	templateSeg := sanitizeSegment(templateName)
	if templateSeg == "" {
		return "", fmt.Errorf("%w: template name %q", apperrors.ErrEmptyStackName, templateName)
	}
	leaseSeg := sanitizeSegment(leaseID)
	if leaseSeg == "" {
		return "", fmt.Errorf("%w: lease id %q", apperrors.ErrEmptyStackName, leaseID)
	}

	overhead := len(stackNamePrefix) + 2 // two joining hyphens
	if overhead+len(templateSeg)+len(leaseSeg) > maxStackName {
		keep := maxStackName - overhead - len(leaseSeg)
		if keep < 1 {
			return "", apperrors.NewValidation("lease id %q leaves no room for the template segment", leaseID)
		}
		templateSeg = strings.TrimRight(templateSeg[:keep], "-")
		if templateSeg == "" {
			return "", fmt.Errorf("%w: template name %q after truncation", apperrors.ErrEmptyStackName, templateName)
		}
	}

	name := fmt.Sprintf("%s-%s-%s", stackNamePrefix, templateSeg, leaseSeg)
	if !stackNameRe.MatchString(name) {
		return "", apperrors.NewValidation("derived stack name %q is not a valid stack name", name)
	}
	return name, nil
}

// sanitizeSegment normalizes one input independently: underscores and dots
// become hyphens, everything else outside [A-Za-z0-9-] is dropped, leading
// digits and hyphens are stripped, repeated hyphens collapse, and trailing
// hyphens are removed.
func sanitizeSegment(s string) string {
	s = strings.NewReplacer("_", "-", ".", "-").Replace(s)
	s = disallowedRunes.ReplaceAllString(s, "")
	s = leadingJunk.ReplaceAllString(s, "")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	return strings.TrimRight(s, "-")
}
