package engine

import (
	"fmt"
	"regexp"

	goversion "github.com/hashicorp/go-version"
)

// DefaultMinVersion is the oldest runtime the engine supports.
const DefaultMinVersion = "18.17.0"

var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)\.(\d+)`)

// ParseRuntimeVersion extracts the semantic version from `node -v` output.
func ParseRuntimeVersion(output string) (*goversion.Version, error) {
	match := versionPattern.FindString(output)
	if match == "" {
		return nil, fmt.Errorf("%w: cannot parse version from %q", ErrEngineUnavailable, output)
	}

	ver, err := goversion.NewVersion(match)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", match, err)
	}

	return ver, nil
}

// CheckMinVersion fails when actual is older than minimum.
func CheckMinVersion(actual *goversion.Version, minimum string) error {
	constraint, err := goversion.NewConstraint(">= " + minimum)
	if err != nil {
		return fmt.Errorf("parse minimum version %q: %w", minimum, err)
	}

	if !constraint.Check(actual) {
		return fmt.Errorf("%w: found %s, %s or later is required", ErrUnsupportedVersion, actual, minimum)
	}

	return nil
}
