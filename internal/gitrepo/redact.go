package gitrepo

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

const redactedMarker = "[REDACTED]"

// tokenRe matches the four GitHub token shapes: personal (ghp_), fine-grained
// (github_pat_), OAuth (gho_), and server-to-server (ghs_).
var tokenRe = regexp.MustCompile(`(ghp_[A-Za-z0-9]+|github_pat_[A-Za-z0-9_]+|gho_[A-Za-z0-9]+|ghs_[A-Za-z0-9]+)`)

var authFailureMarkers = []string{
	"authentication failed",
	"could not read username",
	"could not read password",
	"invalid username or password",
	"403 forbidden",
	"401 unauthorized",
	"fatal: authentication",
}

// RedactTokens replaces token-shaped substrings with a redaction marker.
func RedactTokens(s string) string {
	return tokenRe.ReplaceAllString(s, redactedMarker)
}

// sanitizeProcessError converts raw git output into a safe error. An
// authentication-class failure is replaced wholesale with a generic error
// carrying zero excerpted text; anything else is redacted before surfacing.
func sanitizeProcessError(output string) error {
	lower := strings.ToLower(output)
	for _, marker := range authFailureMarkers {
		if strings.Contains(lower, marker) {
			return apperrors.ErrAuthentication
		}
	}
	return &apperrors.DeployError{
		Category: apperrors.CategoryUnknown,
		Message:  fmt.Sprintf("git export failed: %s", RedactTokens(strings.TrimSpace(output))),
	}
}
