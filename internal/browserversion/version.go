// Package browserversion determines the installed Chrome version, which selects the
// matching chromedriver build.
package browserversion

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MilestoneThreshold is the first major version served by the per-milestone manifest.
// Older majors use the legacy LATEST_RELEASE endpoint.
const MilestoneThreshold = 114

// ErrVersionDetectionFailed is returned when no probe yields a parsable version.
var ErrVersionDetectionFailed = errors.New("browser version detection failed")

var versionRegex = regexp.MustCompile(`\d+(?:\.\d+){1,3}`)

// Version is a dotted browser version such as "115.0.5790.170".
type Version string

// Parse extracts the first dotted version from probe output.
func Parse(text string) (Version, error) {
	match := versionRegex.FindString(text)
	if match == "" {
		return "", fmt.Errorf("%w: no version in %q", ErrVersionDetectionFailed, strings.TrimSpace(text))
	}
	return Version(match), nil
}

// Major returns the leading numeric component.
func (v Version) Major() (int, error) {
	head, _, _ := strings.Cut(string(v), ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed version %q", ErrVersionDetectionFailed, string(v))
	}
	return major, nil
}

// UsesMilestoneManifest reports whether the driver for v is published in the
// per-milestone manifest rather than the legacy storage bucket.
func (v Version) UsesMilestoneManifest() (bool, error) {
	major, err := v.Major()
	if err != nil {
		return false, err
	}
	return major >= MilestoneThreshold, nil
}

func (v Version) String() string { return string(v) }
