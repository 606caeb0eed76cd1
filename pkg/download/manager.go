// Package download implements the HTTP downloader used for release archives:
// optional Range-based parallel chunking, resume via a sidecar chunk map,
// bounded retries with exponential backoff, and a streaming SHA-256 gate
// before the final rename.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/fsutil"
)

// Default transfer tuning. Mirrors the values the CLI exposes through config.
const (
	DefaultConcurrency  = 4
	DefaultMinChunkSize = 8 << 20 // 8 MiB
	DefaultMaxRetries   = 3

	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultConnectTimeout = 15 * time.Second
	defaultProbeTimeout   = 60 * time.Second

	// PartSuffix marks an in-flight download next to its final path.
	PartSuffix = ".part"
	// MapSuffix marks the chunk-map sidecar of a partial download.
	MapSuffix = ".part.map"

	progressInterval = 100 * time.Millisecond
)

// Config holds the transfer tuning for a Manager.
type Config struct {
	UserAgent      string
	Concurrency    int
	MinChunkSize   int64
	MaxRetries     int
	RetryBaseDelay time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns the default transfer tuning.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "gvm/1.0",
		Concurrency:    DefaultConcurrency,
		MinChunkSize:   DefaultMinChunkSize,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: defaultRetryBaseDelay,
		ConnectTimeout: defaultConnectTimeout,
	}
}

// Progress receives transfer notifications at a bounded rate (at most one
// call per 100ms). Implementations must be cheap and non-blocking; a slow
// callback only delays the reporter, never the transfer.
type Progress func(done, total int64, elapsed time.Duration)

// Manager performs archive downloads. Body streaming is unbounded; only the
// dial/TLS phase is subject to the connect timeout.
type Manager struct {
	client *http.Client
	config Config
}

// NewManager creates a download manager with the given tuning. Zero fields
// fall back to defaults, except MaxRetries: zero disables retries and only a
// negative value selects the default.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}
	return &Manager{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

// Fetch downloads url into outPath, verifying the payload against
// expectedSHA256 (lower/upper hex accepted) before the final rename makes it
// observable. A partial file plus chunk map left by a cancelled run is
// resumed when it still matches the origin's size.
func (m *Manager) Fetch(ctx context.Context, url, expectedSHA256, outPath string, progress Progress) error {
	if outPath == "" {
		return errors.Wrap(errors.ErrInvalidPath, "empty download target")
	}
	if err := fsutil.EnsureFileDir(outPath); err != nil {
		return errors.Wrap(err, "could not create download dir")
	}

	partPath := outPath + PartSuffix
	mapPath := outPath + MapSuffix
	started := time.Now()

	probe, err := m.probe(ctx, url)
	if err != nil {
		return err
	}

	var done atomic.Int64
	stopReporting := m.startReporter(ctx, &done, probe.size, started, progress)
	defer stopReporting()

	if probe.supportsRanges && probe.size >= m.config.MinChunkSize {
		err = m.fetchChunked(ctx, url, partPath, mapPath, probe.size, &done)
	} else {
		err = m.fetchSingle(ctx, url, partPath, &done)
	}
	if err != nil {
		// The partial file and sidecar stay behind for a later resume.
		return err
	}

	if err := verifySHA256(partPath, expectedSHA256); err != nil {
		// A mismatch is definitive: drop the partial state entirely.
		_ = os.Remove(partPath)
		_ = os.Remove(mapPath)
		return err
	}

	if err := os.Rename(partPath, outPath); err != nil {
		return errors.Wrapf(err, "could not finalize %s", outPath)
	}
	_ = os.Remove(mapPath)

	stopReporting()
	if progress != nil {
		progress(probe.size, probe.size, time.Since(started))
	}
	return nil
}

// probeResult carries what the origin told us about the resource.
type probeResult struct {
	size           int64
	supportsRanges bool
}

// probe learns the total size and byte-range support. HEAD first; origins
// that reject HEAD get a one-byte ranged GET.
func (m *Manager) probe(ctx context.Context, url string) (probeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return probeResult{}, errors.Wrap(err, "failed to create probe request")
	}
	req.Header.Set("User-Agent", m.config.UserAgent)

	resp, err := m.client.Do(req)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			return probeResult{
				size:           resp.ContentLength,
				supportsRanges: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
			}, nil
		}
	}

	return m.probeRanged(probeCtx, url)
}

// probeRanged issues GET with Range: bytes=0-0. A 206 answer proves range
// support and carries the total size in Content-Range.
func (m *Manager) probeRanged(ctx context.Context, url string) (probeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return probeResult{}, errors.Wrap(err, "failed to create probe request")
	}
	req.Header.Set("User-Agent", m.config.UserAgent)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return probeResult{}, ctx.Err()
		}
		return probeResult{}, fmt.Errorf("probing %s: %w: %s", url, errors.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1))

	switch resp.StatusCode {
	case http.StatusPartialContent:
		size := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		return probeResult{size: size, supportsRanges: size > 0}, nil
	case http.StatusOK:
		return probeResult{size: resp.ContentLength, supportsRanges: false}, nil
	default:
		return probeResult{}, errors.Wrapf(errors.NewHTTPStatusError(resp.StatusCode), "probing %s", url)
	}
}

// parseContentRangeTotal extracts the total from "bytes 0-0/12345".
func parseContentRangeTotal(header string) int64 {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 {
		return 0
	}
	var total int64
	if _, err := fmt.Sscanf(header[idx+1:], "%d", &total); err != nil {
		return 0
	}
	return total
}

// fetchSingle streams the whole body in one GET, with the chunk retry policy
// applied to the request as a whole.
func (m *Manager) fetchSingle(ctx context.Context, url, partPath string, done *atomic.Int64) error {
	return m.withRetries(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return errors.Wrap(err, "failed to create request")
		}
		req.Header.Set("User-Agent", m.config.UserAgent)

		resp, err := m.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("downloading %s: %w: %s", url, errors.ErrNetwork, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return errors.Wrapf(statusError(resp), "downloading %s", url)
		}

		file, err := fsutil.CreateFilePerm(partPath, fsutil.FileModeDefault)
		if err != nil {
			return errors.Wrap(err, "could not create partial file")
		}
		defer func() { _ = file.Close() }()

		done.Store(0)
		written, err := io.Copy(file, &countingReader{r: resp.Body, n: done})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("downloading %s after %d bytes: %w: %s", url, written, errors.ErrNetwork, err)
		}
		return file.Sync()
	})
}

// countingReader bumps the shared progress counter as bytes flow through.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n.Add(int64(n))
	}
	return n, err
}

// startReporter runs the bounded-rate progress loop. The returned stop
// function is idempotent.
func (m *Manager) startReporter(ctx context.Context, done *atomic.Int64, total int64, started time.Time, progress Progress) func() {
	if progress == nil {
		return func() {}
	}
	stopped := make(chan struct{})
	var stopOnce atomic.Bool
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopped:
				return
			case <-ticker.C:
				progress(done.Load(), total, time.Since(started))
			}
		}
	}()
	return func() {
		if stopOnce.CompareAndSwap(false, true) {
			close(stopped)
		}
	}
}

// statusError classifies an unexpected response status, carrying a 429's
// Retry-After through to the backoff policy.
func statusError(resp *http.Response) error {
	err := errors.NewHTTPStatusError(resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		return RetryAfter(err, resp.Header.Get("Retry-After"))
	}
	return err
}

// retryableStatus reports whether a status code is worth retrying: 5xx plus
// 408 and 429. Other 4xx are definitive.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// VerifyFile streams a file through SHA-256 and compares against the
// expected hex digest. Used by callers validating cached archives before
// reuse.
func VerifyFile(path, wantHex string) error {
	return verifySHA256(path, wantHex)
}

// verifySHA256 streams the file through SHA-256 and compares against the
// expected hex digest. An empty expectation skips the gate.
func verifySHA256(path, wantHex string) error {
	if wantHex == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open for checksum")
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return errors.Wrap(err, "hashing")
	}
	got := hex.EncodeToString(h.Sum(nil))
	want := strings.ToLower(strings.TrimSpace(wantHex))
	if got != want {
		return errors.Wrapf(errors.ErrChecksumMismatch, "want %s, got %s", want, got)
	}
	return nil
}
