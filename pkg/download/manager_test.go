package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/gvm/pkg/errors"
)

func testPayload(n int) []byte {
	payload := make([]byte, n)
	rnd := rand.New(rand.NewSource(42))
	_, _ = rnd.Read(payload)
	return payload
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// rangedServer serves payload with full Range support via http.ServeContent.
func rangedServer(t *testing.T, payload []byte, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		http.ServeContent(w, r, "archive.bin", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func smallChunkManager(concurrency int) *Manager {
	cfg := DefaultConfig()
	cfg.Concurrency = concurrency
	cfg.MinChunkSize = 1 << 10 // let small fixtures exercise the chunked path
	cfg.RetryBaseDelay = time.Millisecond
	return NewManager(cfg)
}

func TestFetchChunked(t *testing.T) {
	payload := testPayload(64 << 10)
	srv := rangedServer(t, payload, nil)
	out := filepath.Join(t.TempDir(), "archive.bin")

	mgr := smallChunkManager(4)
	err := mgr.Fetch(context.Background(), srv.URL, sha256Hex(payload), out, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// No transient state remains after the commit rename.
	assert.NoFileExists(t, out+PartSuffix)
	assert.NoFileExists(t, out+MapSuffix)
}

func TestFetchSingleStreamFallback(t *testing.T) {
	payload := testPayload(8 << 10)
	// A server that never advertises ranges.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "8192")
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	out := filepath.Join(t.TempDir(), "archive.bin")
	mgr := smallChunkManager(4)
	err := mgr.Fetch(context.Background(), srv.URL, sha256Hex(payload), out, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetchChecksumMismatch(t *testing.T) {
	payload := testPayload(4 << 10)
	srv := rangedServer(t, payload, nil)
	out := filepath.Join(t.TempDir(), "archive.bin")

	mgr := smallChunkManager(2)
	err := mgr.Fetch(context.Background(), srv.URL, strings.Repeat("a", 64), out, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrChecksumMismatch)

	// The mismatch is definitive: no partial state survives it.
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+PartSuffix)
	assert.NoFileExists(t, out+MapSuffix)
}

func TestFetchFatal404(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	out := filepath.Join(t.TempDir(), "archive.bin")
	mgr := smallChunkManager(2)
	err := mgr.Fetch(context.Background(), srv.URL, "", out, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHTTPStatus)
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusCode(err))

	// HEAD + ranged probe only; the fatal status is not retried.
	assert.LessOrEqual(t, requests.Load(), int32(2))
}

func TestFetchRetriesOn5xx(t *testing.T) {
	payload := testPayload(2 << 10)
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.ServeContent(w, r, "archive.bin", time.Unix(0, 0), bytes.NewReader(payload))
			return
		}
		if gets.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "archive.bin", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)

	out := filepath.Join(t.TempDir(), "archive.bin")
	mgr := smallChunkManager(1)
	err := mgr.Fetch(context.Background(), srv.URL, sha256Hex(payload), out, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gets.Load(), int32(3))
}

func TestFetchResumeSkipsCompletedChunks(t *testing.T) {
	payload := testPayload(32 << 10)
	dir := t.TempDir()
	out := filepath.Join(dir, "archive.bin")

	mgr := smallChunkManager(4)

	// Simulate an interrupted run: plan the same chunks, fill the first two
	// from the real payload and record them done in the sidecar.
	planned := planChunks(int64(len(payload)), mgr.config.MinChunkSize, mgr.config.Concurrency)
	require.Greater(t, len(planned), 2)

	part := make([]byte, len(payload))
	copy(part[planned[0].Start:planned[0].End+1], payload[planned[0].Start:planned[0].End+1])
	copy(part[planned[1].Start:planned[1].End+1], payload[planned[1].Start:planned[1].End+1])
	require.NoError(t, os.WriteFile(out+PartSuffix, part, 0o644))

	cm := &chunkMap{Size: int64(len(payload)), Chunks: planned, Done: make([]bool, len(planned))}
	cm.Done[0], cm.Done[1] = true, true
	sidecar := &sidecarWriter{path: out + MapSuffix, cm: cm}
	sidecar.mu.Lock()
	require.NoError(t, sidecar.flushLocked())
	sidecar.mu.Unlock()

	// Serve garbage for the completed ranges: if the resume re-fetched them
	// the checksum would fail.
	resumeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		for _, done := range []chunk{planned[0], planned[1]} {
			if rangeHeader == fmt.Sprintf("bytes=%d-%d", done.Start, done.End) {
				t.Errorf("re-fetched completed chunk %d (%s)", done.Index, rangeHeader)
			}
		}
		http.ServeContent(w, r, "archive.bin", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	t.Cleanup(resumeSrv.Close)

	err := mgr.Fetch(context.Background(), resumeSrv.URL, sha256Hex(payload), out, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetchCancellationLeavesResumableState(t *testing.T) {
	payload := testPayload(64 << 10)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.ServeContent(w, r, "archive.bin", time.Unix(0, 0), bytes.NewReader(payload))
			return
		}
		<-release
		http.ServeContent(w, r, "archive.bin", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	out := filepath.Join(t.TempDir(), "archive.bin")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	mgr := smallChunkManager(2)
	err := mgr.Fetch(ctx, srv.URL, sha256Hex(payload), out, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Partial state stays behind for a later resume.
	assert.NoFileExists(t, out)
	assert.FileExists(t, out+PartSuffix)
	assert.FileExists(t, out+MapSuffix)
}

func TestFetchReportsProgress(t *testing.T) {
	payload := testPayload(32 << 10)
	srv := rangedServer(t, payload, nil)
	out := filepath.Join(t.TempDir(), "archive.bin")

	var calls atomic.Int32
	var lastDone, lastTotal atomic.Int64
	progress := func(done, total int64, _ time.Duration) {
		calls.Add(1)
		lastDone.Store(done)
		lastTotal.Store(total)
	}

	mgr := smallChunkManager(4)
	err := mgr.Fetch(context.Background(), srv.URL, sha256Hex(payload), out, progress)
	require.NoError(t, err)

	assert.Positive(t, calls.Load())
	assert.Equal(t, int64(len(payload)), lastDone.Load())
	assert.Equal(t, int64(len(payload)), lastTotal.Load())
}

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		name        string
		size        int64
		minChunk    int64
		concurrency int
		wantChunks  int
	}{
		{name: "splits into concurrency chunks", size: 100 << 20, minChunk: 8 << 20, concurrency: 4, wantChunks: 4},
		{name: "bounded by minimum chunk size", size: 10 << 20, minChunk: 8 << 20, concurrency: 4, wantChunks: 2},
		{name: "small payload single chunk", size: 1 << 20, minChunk: 8 << 20, concurrency: 4, wantChunks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := planChunks(tt.size, tt.minChunk, tt.concurrency)
			require.Len(t, chunks, tt.wantChunks)

			// Chunks must cover [0, size) exactly, without gaps or overlap.
			var covered int64
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				if i == 0 {
					assert.Zero(t, c.Start)
				} else {
					assert.Equal(t, chunks[i-1].End+1, c.Start)
				}
				covered += c.size()
			}
			assert.Equal(t, tt.size, covered)
			assert.Equal(t, tt.size-1, chunks[len(chunks)-1].End)
		})
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	assert.Equal(t, int64(66700288), parseContentRangeTotal("bytes 0-0/66700288"))
	assert.Zero(t, parseContentRangeTotal("bytes 0-0/*"))
	assert.Zero(t, parseContentRangeTotal(""))
}
