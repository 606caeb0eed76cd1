// Package testutil provides a fixture download host for integration tests:
// a release manifest endpoint plus ranged archive serving, with optional
// fault injection.
package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glorpus-work/gvm/pkg/archive"
	"github.com/glorpus-work/gvm/pkg/model"
	"github.com/glorpus-work/gvm/pkg/platform"
)

// DownloadHost mimics the upstream download site for tests. It serves
// /dl/?mode=json and /dl/<filename> with full Range support.
type DownloadHost struct {
	Server   *httptest.Server
	releases []model.Release
	archives map[string][]byte

	// ArchiveRequests counts GET requests to archive files.
	ArchiveRequests atomic.Int32

	// FailArchiveWith, when non-zero, makes archive requests answer that
	// status instead of the payload.
	FailArchiveWith atomic.Int32
}

// NewDownloadHost starts a fixture host. Register archives with AddRelease
// before issuing requests.
func NewDownloadHost(t *testing.T) *DownloadHost {
	t.Helper()
	h := &DownloadHost{archives: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("/dl/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dl/" && r.URL.Query().Get("mode") == "json" {
			_ = json.NewEncoder(w).Encode(h.releases)
			return
		}
		name := filepath.Base(r.URL.Path)
		payload, ok := h.archives[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			h.ArchiveRequests.Add(1)
		}
		if code := h.FailArchiveWith.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		http.ServeContent(w, r, name, time.Unix(0, 0), bytes.NewReader(payload))
	})

	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Server.Close)
	return h
}

// BaseURL returns the download base of the fixture host.
func (h *DownloadHost) BaseURL() string {
	return h.Server.URL + "/dl/"
}

// AddRelease registers a release whose archive payload is served for the
// given platform, and returns the payload's descriptor.
func (h *DownloadHost) AddRelease(t *testing.T, version string, stable bool, desc platform.Descriptor, payload []byte) model.FileDescriptor {
	t.Helper()
	filename := desc.ArchiveFilename(version)
	sum := sha256.Sum256(payload)

	fd := model.FileDescriptor{
		Filename: filename,
		OS:       desc.OS,
		Arch:     desc.Arch,
		Version:  model.ManifestName(version),
		SHA256:   hex.EncodeToString(sum[:]),
		Size:     int64(len(payload)),
		Kind:     model.KindArchive,
	}
	h.archives[filename] = payload
	h.releases = append(h.releases, model.Release{
		Version: model.ManifestName(version),
		Stable:  stable,
		Files:   []model.FileDescriptor{fd},
	})
	return fd
}

// ReplaceArchive swaps the served payload for a filename without touching
// the manifest, e.g. to provoke checksum mismatches.
func (h *DownloadHost) ReplaceArchive(filename string, payload []byte) {
	h.archives[filename] = payload
}

// BuildGoArchive produces an archive payload containing a minimal go/ tree
// (bin/go, bin/gofmt, VERSION) for the platform's archive kind.
func BuildGoArchive(t *testing.T, version string, desc platform.Descriptor) []byte {
	t.Helper()
	tmp := t.TempDir()
	tree := filepath.Join(tmp, "tree")
	binDir := filepath.Join(tree, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("building fixture tree: %v", err)
	}
	files := map[string]string{
		filepath.Join(binDir, "go"+desc.ExeSuffix):    "#!/bin/sh\necho go" + version + "\n",
		filepath.Join(binDir, "gofmt"+desc.ExeSuffix): "#!/bin/sh\n",
		filepath.Join(tree, "VERSION"):                model.ManifestName(version),
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			t.Fatalf("writing fixture file %s: %v", path, err)
		}
	}

	archivePath := filepath.Join(tmp, desc.ArchiveFilename(version))
	if err := archive.Create(context.Background(), tree, archivePath, desc.ArchiveKind); err != nil {
		t.Fatalf("creating fixture archive: %v", err)
	}
	payload, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("reading fixture archive: %v", err)
	}
	return payload
}
