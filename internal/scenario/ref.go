// Package scenario holds the pure deployment-input logic: parsing
// user-supplied scenario references, deriving stack names, and mapping lease
// attributes onto template parameters.
package scenario

import (
	"regexp"
	"strings"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

const (
	maxNameLength   = 100
	maxBranchLength = 256
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Ref identifies a scenario by name with an optional branch override.
// A Ref is constructed once per invocation by ParseRef and never mutated.
type Ref struct {
	Name           string
	BranchOverride string
}

// ParseRef parses a "name[@branch]" reference. The split happens on the first
// "@" only; a second "@" lands in the branch candidate and is rejected by
// branch validation rather than silently truncated.
func ParseRef(text string) (Ref, error) {
	name := text
	branch := ""
	if idx := strings.Index(text, "@"); idx >= 0 {
		name = text[:idx]
		branch = text[idx+1:]
	}

	if err := ValidateName(name); err != nil {
		return Ref{}, err
	}
	if branch != "" {
		if err := ValidateBranch(branch); err != nil {
			return Ref{}, err
		}
	}

	return Ref{Name: name, BranchOverride: branch}, nil
}

// EffectiveBranch returns the override when present, else defaultBranch.
// An override equal to the default still counts as explicit.
func (r Ref) EffectiveBranch(defaultBranch string) string {
	if r.BranchOverride != "" {
		return r.BranchOverride
	}
	return defaultBranch
}

// ValidateName checks a scenario name against the allowed character set.
func ValidateName(name string) error {
	if name == "" {
		return apperrors.NewValidation("scenario name is empty")
	}
	if len(name) > maxNameLength {
		return apperrors.NewValidation("scenario name exceeds %d characters", maxNameLength)
	}
	if !nameRe.MatchString(name) {
		return apperrors.NewValidation("scenario name %q contains disallowed characters", name)
	}
	return nil
}

// ValidateBranch checks that a branch candidate is a syntactically safe git
// ref: no leading "-", ".", or "/", no consecutive dots or slashes, no
// ".lock" suffix, and no whitespace or shell metacharacters. The same rules
// gate both the git invocation and the repository API query.
func ValidateBranch(branch string) error {
	if branch == "" {
		return apperrors.NewValidation("branch is empty")
	}
	if len(branch) > maxBranchLength {
		return apperrors.NewValidation("branch exceeds %d characters", maxBranchLength)
	}
	switch branch[0] {
	case '-', '.', '/':
		return apperrors.NewValidation("branch %q has a disallowed leading character", branch)
	}
	if strings.HasSuffix(branch, ".lock") || strings.HasSuffix(branch, "/") {
		return apperrors.NewValidation("branch %q has a disallowed suffix", branch)
	}
	if strings.Contains(branch, "..") || strings.Contains(branch, "//") {
		return apperrors.NewValidation("branch %q contains consecutive dots or slashes", branch)
	}
	if strings.ContainsAny(branch, " \t\n\r~^:?*[]\\@{}$;&|`'\"<>()!#%") {
		return apperrors.NewValidation("branch %q contains disallowed characters", branch)
	}
	return nil
}
