package download

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/fsutil"
)

// chunk is one byte interval of a chunked transfer. Bounds are inclusive.
type chunk struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (c chunk) size() int64 { return c.End - c.Start + 1 }

// chunkMap is the sidecar persisted next to the partial file. A resumed run
// only trusts it when the recorded size still matches the origin.
type chunkMap struct {
	Size   int64   `json:"size"`
	Chunks []chunk `json:"chunks"`
	Done   []bool  `json:"done"`
}

// planChunks splits [0, size) into n roughly equal intervals where
// n = min(concurrency, ceil(size / minChunkSize)).
func planChunks(size, minChunkSize int64, concurrency int) []chunk {
	n := int((size + minChunkSize - 1) / minChunkSize)
	if n > concurrency {
		n = concurrency
	}
	if n < 1 {
		n = 1
	}

	per := size / int64(n)
	chunks := make([]chunk, 0, n)
	var start int64
	for i := 0; i < n; i++ {
		end := start + per - 1
		if i == n-1 {
			end = size - 1
		}
		chunks = append(chunks, chunk{Index: i, Start: start, End: end})
		start = end + 1
	}
	return chunks
}

// loadChunkMap restores a sidecar if it matches the expected size and plan.
func loadChunkMap(mapPath string, size int64, planned []chunk) (*chunkMap, bool) {
	data, err := os.ReadFile(mapPath)
	if err != nil {
		return nil, false
	}
	var cm chunkMap
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, false
	}
	if cm.Size != size || len(cm.Chunks) != len(planned) || len(cm.Done) != len(planned) {
		return nil, false
	}
	for i := range planned {
		if cm.Chunks[i] != planned[i] {
			return nil, false
		}
	}
	return &cm, true
}

// sidecarWriter serialises chunk-map updates to disk.
type sidecarWriter struct {
	mu   sync.Mutex
	path string
	cm   *chunkMap
}

func (s *sidecarWriter) markDone(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cm.Done[index] = true
	return s.flushLocked()
}

func (s *sidecarWriter) flushLocked() error {
	data, err := json.Marshal(s.cm)
	if err != nil {
		return errors.Wrap(err, "encoding chunk map")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fsutil.FileModeDefault); err != nil {
		return errors.Wrap(err, "writing chunk map")
	}
	return os.Rename(tmp, s.path)
}

// fetchChunked downloads the byte intervals in parallel into a preallocated
// partial file, keeping the sidecar in sync so a cancelled run resumes with
// only the still-missing ranges.
func (m *Manager) fetchChunked(ctx context.Context, url, partPath, mapPath string, size int64, done *atomic.Int64) error {
	planned := planChunks(size, m.config.MinChunkSize, m.config.Concurrency)

	cm, resumed := loadChunkMap(mapPath, size, planned)
	if !resumed {
		cm = &chunkMap{Size: size, Chunks: planned, Done: make([]bool, len(planned))}
	}

	file, err := openPartFile(partPath, size, resumed)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	sidecar := &sidecarWriter{path: mapPath, cm: cm}
	if err := func() error { sidecar.mu.Lock(); defer sidecar.mu.Unlock(); return sidecar.flushLocked() }(); err != nil {
		return err
	}

	// Credit already-present chunks so progress starts where the cancelled
	// run left off.
	var pending []chunk
	for i, c := range planned {
		if cm.Done[i] {
			done.Add(c.size())
			continue
		}
		pending = append(pending, c)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan chunk)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	workers := m.config.Concurrency
	if workers > len(pending) {
		workers = len(pending)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range tasks {
				err := m.fetchChunk(workerCtx, url, file, c, done)
				if err == nil {
					err = sidecar.markDone(c.Index)
				}
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
			}
		}()
	}

	feed := func() {
		defer close(tasks)
		for _, c := range pending {
			select {
			case tasks <- c:
			case <-workerCtx.Done():
				return
			}
		}
	}
	feed()
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return file.Sync()
}

// openPartFile creates or reopens the preallocated partial file.
func openPartFile(partPath string, size int64, resumed bool) (*os.File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if !resumed {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(partPath, flags, fsutil.FileModeDefault)
	if err != nil {
		return nil, errors.Wrap(err, "could not create partial file")
	}
	if err := file.Truncate(size); err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "could not preallocate partial file")
	}
	return file, nil
}

// fetchChunk GETs one byte interval with the retry policy and writes it at
// its offset. WriteAt keeps concurrent chunk writers independent.
func (m *Manager) fetchChunk(ctx context.Context, url string, file *os.File, c chunk, done *atomic.Int64) error {
	return m.withRetries(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return errors.Wrap(err, "failed to create chunk request")
		}
		req.Header.Set("User-Agent", m.config.UserAgent)
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", c.Start, c.End))

		resp, err := m.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chunk %d of %s: %w: %s", c.Index, url, errors.ErrNetwork, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusPartialContent {
			return errors.Wrapf(statusError(resp), "chunk %d of %s", c.Index, url)
		}

		written, err := copyAt(file, resp.Body, c.Start, c.size(), done)
		if err != nil {
			done.Add(-written)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chunk %d of %s: %w: %s", c.Index, url, errors.ErrNetwork, err)
		}
		if written != c.size() {
			done.Add(-written)
			return fmt.Errorf("chunk %d of %s: short body (%d of %d bytes): %w",
				c.Index, url, written, c.size(), errors.ErrNetwork)
		}
		return nil
	})
}

// copyAt copies exactly want bytes from r to the file starting at offset,
// crediting the progress counter as bytes land.
func copyAt(file *os.File, r io.Reader, offset, want int64, done *atomic.Int64) (int64, error) {
	buf := make([]byte, 128<<10)
	var written int64
	for written < want {
		toRead := int64(len(buf))
		if remaining := want - written; remaining < toRead {
			toRead = remaining
		}
		n, readErr := r.Read(buf[:toRead])
		if n > 0 {
			if _, err := file.WriteAt(buf[:n], offset+written); err != nil {
				return written, err
			}
			written += int64(n)
			done.Add(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}
	return written, nil
}

// withRetries runs fn up to MaxRetries+1 times with exponential backoff and
// ±25% jitter. Definitive failures (4xx except 408/429, checksum, context
// cancellation) surface immediately; a 429 honours Retry-After.
func (m *Manager) withRetries(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.backoffDelay(attempt, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// backoffDelay computes base * 2^(attempt-1) with ±25% jitter, overridden by
// a parsable Retry-After from the previous response.
func (m *Manager) backoffDelay(attempt int, lastErr error) time.Duration {
	if after, ok := retryAfter(lastErr); ok {
		return after
	}
	delay := m.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	return delay + jitter
}

// retryAfterError annotates a 429 with the server-requested delay.
type retryAfterError struct {
	err   error
	after time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// RetryAfter wraps err with a server-requested retry delay, as carried by a
// Retry-After response header.
func RetryAfter(err error, header string) error {
	if header == "" {
		return err
	}
	secs, parseErr := strconv.Atoi(header)
	if parseErr != nil || secs < 0 {
		return err
	}
	return &retryAfterError{err: err, after: time.Duration(secs) * time.Second}
}

func retryAfter(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if stderrors.As(err, &ra) {
		return ra.after, true
	}
	return 0, false
}

// retryable classifies an error for the retry loop.
func retryable(err error) bool {
	if code := errors.HTTPStatusCode(err); code != 0 {
		return retryableStatus(code)
	}
	// Transport-level failures are retryable; everything else (I/O on the
	// local file, invalid input) is not.
	return stderrors.Is(err, errors.ErrNetwork)
}
