// Package fetch locates, downloads and installs the chromedriver build that matches the
// installed browser.
//
// Two publishing schemes exist. Majors from 114 on are listed in the Chrome for Testing
// per-milestone JSON manifest; older majors are resolved through the legacy
// LATEST_RELEASE_<major> text endpoint.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stealthdriver/internal/browserversion"
	"github.com/xkilldash9x/stealthdriver/internal/config"
	"github.com/xkilldash9x/stealthdriver/internal/platform"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxArchiveSize bounds the in-memory download. Current driver archives are under 15 MiB.
const maxArchiveSize = 256 << 20

// Protocol names the publishing scheme a Locator was resolved through.
type Protocol int

const (
	ProtocolLegacy Protocol = iota
	ProtocolMilestone
)

func (p Protocol) String() string {
	if p == ProtocolMilestone {
		return "milestone"
	}
	return "legacy"
}

// Locator describes where a driver build is published.
type Locator struct {
	ArchiveURL    string
	DriverVersion string
	Member        string
	Protocol      Protocol
	// Path is set once the executable has been installed.
	Path string
}

// Doer is the subset of *http.Client the fetcher needs. *network.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher resolves and installs driver builds. Each HTTP call is attempted once.
type Fetcher struct {
	logger     *zap.Logger
	client     Doer
	endpoints  config.EndpointsConfig
	installDir string
}

// NewFetcher creates a Fetcher that installs into installDir.
func NewFetcher(logger *zap.Logger, client Doer, endpoints config.EndpointsConfig, installDir string) *Fetcher {
	return &Fetcher{
		logger:     logger.Named("fetch"),
		client:     client,
		endpoints:  endpoints,
		installDir: installDir,
	}
}

type milestoneManifest struct {
	Milestones map[string]struct {
		Milestone string `json:"milestone"`
		Version   string `json:"version"`
		Revision  string `json:"revision"`
	} `json:"milestones"`
}

// Locate resolves the archive URL for the driver matching version on p.
func (f *Fetcher) Locate(ctx context.Context, version browserversion.Version, p platform.Platform) (Locator, error) {
	member, err := p.DriverName()
	if err != nil {
		return Locator{}, err
	}
	major, err := version.Major()
	if err != nil {
		return Locator{}, err
	}

	if major >= browserversion.MilestoneThreshold {
		return f.locateMilestone(ctx, major, member, p)
	}
	return f.locateLegacy(ctx, major, member, p)
}

func (f *Fetcher) locateMilestone(ctx context.Context, major int, member string, p platform.Platform) (Locator, error) {
	cft, err := p.CfTPlatform()
	if err != nil {
		return Locator{}, err
	}

	manifestURL := f.endpoints.MilestoneManifestURL
	body, err := f.get(ctx, "manifest", manifestURL, 0)
	if err != nil {
		return Locator{}, err
	}

	var manifest milestoneManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return Locator{}, &FetchError{Op: "decode", URL: manifestURL, Err: err}
	}
	entry, ok := manifest.Milestones[strconv.Itoa(major)]
	if !ok || entry.Version == "" {
		return Locator{}, fmt.Errorf("%w: milestone %d is not in the manifest", ErrNoMatchingDriverVersion, major)
	}

	archiveURL := fmt.Sprintf("%s/%s/%s/chromedriver-%s.zip",
		strings.TrimRight(f.endpoints.CfTDownloadBaseURL, "/"), entry.Version, cft, cft)
	return Locator{
		ArchiveURL:    archiveURL,
		DriverVersion: entry.Version,
		Member:        member,
		Protocol:      ProtocolMilestone,
	}, nil
}

func (f *Fetcher) locateLegacy(ctx context.Context, major int, member string, p platform.Platform) (Locator, error) {
	archive, err := p.LegacyArchive()
	if err != nil {
		return Locator{}, err
	}

	base := strings.TrimRight(f.endpoints.LegacyBaseURL, "/")
	releaseURL := fmt.Sprintf("%s/LATEST_RELEASE_%d", base, major)
	body, err := f.get(ctx, "latest_release", releaseURL, 0)
	if err != nil {
		return Locator{}, err
	}
	release := strings.TrimSpace(string(body))
	if release == "" {
		return Locator{}, fmt.Errorf("%w: empty LATEST_RELEASE_%d", ErrNoMatchingDriverVersion, major)
	}

	return Locator{
		ArchiveURL:    fmt.Sprintf("%s/%s/%s", base, release, archive),
		DriverVersion: release,
		Member:        member,
		Protocol:      ProtocolLegacy,
	}, nil
}

// Fetch locates, downloads and installs the driver. The returned Locator carries the
// installed Path.
func (f *Fetcher) Fetch(ctx context.Context, version browserversion.Version, p platform.Platform) (Locator, error) {
	loc, err := f.Locate(ctx, version, p)
	if err != nil {
		return Locator{}, err
	}
	f.logger.Info("Downloading chromedriver.",
		zap.String("browser_version", version.String()),
		zap.String("driver_version", loc.DriverVersion),
		zap.Stringer("protocol", loc.Protocol),
		zap.String("url", loc.ArchiveURL))

	archive, err := f.get(ctx, "download", loc.ArchiveURL, maxArchiveSize)
	if err != nil {
		return Locator{}, err
	}

	path, err := Extract(archive, loc.Member, f.installDir)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.URL == "" {
			fe.URL = loc.ArchiveURL
		}
		return Locator{}, err
	}
	loc.Path = path
	f.logger.Info("Installed chromedriver.", zap.String("path", path), zap.Int("archive_bytes", len(archive)))
	return loc, nil
}

// get performs one GET and returns the body. limit of zero means unbounded.
func (f *Fetcher) get(ctx context.Context, op, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Op: op, URL: url, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Op: op, URL: url, Err: &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}}
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, &FetchError{Op: op, URL: url, Err: fmt.Errorf("reading body: %w", err)}
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, &FetchError{Op: op, URL: url, Err: fmt.Errorf("body exceeds %d bytes", limit)}
	}
	return body, nil
}
