// Package index fetches and queries the upstream Go release manifest.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/model"
	"github.com/glorpus-work/gvm/pkg/platform"
)

const (
	// DefaultBaseURL is the upstream download page; archives live directly
	// under it and the JSON manifest behind ?mode=json.
	DefaultBaseURL = "https://go.dev/dl/"

	manifestQuery = "?mode=json&include=all"

	// maxManifestSize bounds the manifest read; the live manifest is well
	// under 4 MiB.
	maxManifestSize = 16 << 20
)

// Manager is the version index client. It issues a single HTTPS GET to the
// manifest endpoint and keeps the parsed result for the lifetime of the
// process. Manifest fetches are not retried; the downloader's retry policy
// applies to archive fetches only.
type Manager struct {
	client   *http.Client
	baseURL  string
	platform platform.Descriptor

	mu       sync.Mutex
	releases []model.Release
}

// NewManager creates an index client for the given platform. A zero timeout
// falls back to 60 seconds.
func NewManager(desc platform.Descriptor, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Manager{
		client:   &http.Client{Timeout: timeout},
		baseURL:  DefaultBaseURL,
		platform: desc,
	}
}

// NewManagerWithBaseURL creates an index client against a non-default
// download base. Used by tests and mirror configurations.
func NewManagerWithBaseURL(desc platform.Descriptor, timeout time.Duration, baseURL string) *Manager {
	m := NewManager(desc, timeout)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		m.baseURL = baseURL
	}
	return m
}

// Releases returns all manifest entries, fetching them on first use.
func (m *Manager) Releases(ctx context.Context) ([]model.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releases != nil {
		return m.releases, nil
	}

	releases, err := m.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	m.releases = releases
	return releases, nil
}

// ListAvailable returns the canonical versions that publish an archive for
// the current platform: stable releases newest first. Pre-release cuts are
// included only when includeUnstable is set, newest first after all stable
// releases.
func (m *Manager) ListAvailable(ctx context.Context, includeUnstable bool) ([]string, error) {
	releases, err := m.Releases(ctx)
	if err != nil {
		return nil, err
	}

	var stable, unstable []string
	for i := range releases {
		rel := &releases[i]
		if _, ok := rel.ArchiveFor(m.platform); !ok {
			continue
		}
		if rel.Stable {
			stable = append(stable, rel.Semver())
		} else {
			unstable = append(unstable, rel.Semver())
		}
	}
	model.SortDesc(stable)
	if !includeUnstable {
		return stable, nil
	}
	model.SortDesc(unstable)
	return append(stable, unstable...), nil
}

// Resolve returns the archive descriptor for a canonical version on the
// current platform. The descriptor's URL is absolute.
func (m *Manager) Resolve(ctx context.Context, version string) (model.FileDescriptor, error) {
	releases, err := m.Releases(ctx)
	if err != nil {
		return model.FileDescriptor{}, err
	}

	want := model.ManifestName(version)
	for i := range releases {
		rel := &releases[i]
		if rel.Version != want {
			continue
		}
		fd, ok := rel.ArchiveFor(m.platform)
		if !ok {
			return model.FileDescriptor{}, errors.Wrapf(errors.ErrUnsupportedPlatform,
				"version %s publishes no archive for %s", version, m.platform)
		}
		fd.URL = m.baseURL + fd.Filename
		return fd, nil
	}
	return model.FileDescriptor{}, errors.Wrapf(errors.ErrVersionNotFound, "go%s", version)
}

func (m *Manager) fetchManifest(ctx context.Context) ([]model.Release, error) {
	url := m.baseURL + manifestQuery
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create manifest request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching %s: %w: %s", url, errors.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.NewHTTPStatusError(resp.StatusCode), "fetching %s", url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w: %s", errors.ErrNetwork, err)
	}

	var releases []model.Release
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrManifestParse, err)
	}
	return releases, nil
}
