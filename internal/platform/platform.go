// Package platform maps a host OS/architecture to chromedriver file names and download
// artefacts.
package platform

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrUnsupportedOS is returned when no chromedriver build exists for the host OS.
// It is fatal and never retried.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// Platform identifies a host.
type Platform struct {
	GOOS   string
	GOARCH string
}

// Current returns the platform this binary runs on.
func Current() Platform {
	return Platform{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

func (p Platform) String() string {
	return p.GOOS + "/" + p.GOARCH
}

type artefacts struct {
	cft    string // Chrome for Testing platform identifier
	legacy string // legacy storage archive suffix
	exe    string
}

var table = map[string]artefacts{
	"linux":   {cft: "linux64", legacy: "linux64"},
	"darwin":  {cft: "mac-x64", legacy: "mac64"},
	"windows": {cft: "win64", legacy: "win32", exe: ".exe"},
}

func (p Platform) lookup() (artefacts, error) {
	a, ok := table[p.GOOS]
	if !ok {
		return artefacts{}, fmt.Errorf("%w: %s", ErrUnsupportedOS, p)
	}
	return a, nil
}

// Supported reports whether a chromedriver build exists for the platform.
func (p Platform) Supported() bool {
	_, err := p.lookup()
	return err == nil
}

// DriverName is the raw executable name, also the archive member to extract.
func (p Platform) DriverName() (string, error) {
	a, err := p.lookup()
	if err != nil {
		return "", err
	}
	return "chromedriver" + a.exe, nil
}

// PatchedName is the executable name after signature scrubbing.
func (p Platform) PatchedName() (string, error) {
	a, err := p.lookup()
	if err != nil {
		return "", err
	}
	return "chromedriver_PATCHED" + a.exe, nil
}

// CfTPlatform is the Chrome for Testing platform identifier, e.g. "linux64".
func (p Platform) CfTPlatform() (string, error) {
	a, err := p.lookup()
	if err != nil {
		return "", err
	}
	if p.GOOS == "darwin" && p.GOARCH == "arm64" {
		return "mac-arm64", nil
	}
	return a.cft, nil
}

// LegacyArchive is the archive file name on the legacy storage bucket.
func (p Platform) LegacyArchive() (string, error) {
	a, err := p.lookup()
	if err != nil {
		return "", err
	}
	return "chromedriver_" + a.legacy + ".zip", nil
}
