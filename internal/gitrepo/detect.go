package gitrepo

import (
	"context"
	"path"

	"github.com/rs/zerolog"
	"github.com/savaki/gox/slicex"

	"github.com/sandboxhq/scenario-deployer/internal/scenario"
)

const (
	cdkDescriptor = "cdk.json"
	cdkSubdirName = "cdk"
)

// Kind classifies how a scenario deploys.
type Kind int

const (
	// KindPlainTemplate is a declarative template deployed as-is.
	KindPlainTemplate Kind = iota
	// KindCDKAtRoot is a CDK project whose descriptor sits at the scenario root.
	KindCDKAtRoot
	// KindCDKSubfolder is a CDK project under a conventional subdirectory.
	KindCDKSubfolder
)

func (k Kind) String() string {
	switch k {
	case KindCDKAtRoot:
		return "cdk"
	case KindCDKSubfolder:
		return "cdk-subfolder"
	default:
		return "template"
	}
}

// Classification is the detector's verdict. Subdir is set only for
// KindCDKSubfolder and is relative to the scenario folder.
type Classification struct {
	Kind   Kind
	Subdir string
}

// IsCDK reports whether the scenario requires synthesis and bootstrap.
func (c Classification) IsCDK() bool {
	return c.Kind != KindPlainTemplate
}

// ProjectDir returns the CDK project directory relative to the scenario root.
func (c Classification) ProjectDir() string {
	if c.Kind == KindCDKSubfolder {
		return c.Subdir
	}
	return "."
}

// Detect classifies a scenario by listing its repository folder. A cdk.json
// at the folder root means a CDK project; failing that, one extra listing of
// the conventional "cdk" subdirectory is issued before falling through to
// plain-template.
func (c *Client) Detect(ctx context.Context, scenarioName, ref string) (Classification, error) {
	logger := zerolog.Ctx(ctx)

	if err := scenario.ValidateName(scenarioName); err != nil {
		return Classification{}, err
	}

	folder := path.Join(c.coords.BasePath, scenarioName)
	entries, err := c.ListContents(ctx, folder, ref)
	if err != nil {
		return Classification{}, err
	}

	hasCDKSubdir := false
	for _, entry := range entries {
		if entry.Type == "file" && entry.Name == cdkDescriptor {
			logger.Info().Str("scenario", scenarioName).Msg("Detected CDK project at scenario root")
			return Classification{Kind: KindCDKAtRoot}, nil
		}
		if entry.Type == "dir" && entry.Name == cdkSubdirName {
			hasCDKSubdir = true
		}
	}

	if hasCDKSubdir {
		subEntries, err := c.ListContents(ctx, path.Join(folder, cdkSubdirName), ref)
		if err != nil {
			return Classification{}, err
		}
		for _, entry := range subEntries {
			if entry.Type == "file" && entry.Name == cdkDescriptor {
				logger.Info().Str("scenario", scenarioName).Msg("Detected CDK project in subfolder")
				return Classification{Kind: KindCDKSubfolder, Subdir: cdkSubdirName}, nil
			}
		}
	}

	logger.Info().
		Str("scenario", scenarioName).
		Strs("entries", slicex.Map(entries, func(e Entry) string { return e.Name })).
		Msg("Detected plain template scenario")
	return Classification{Kind: KindPlainTemplate}, nil
}
