package download

import "context"

// Fetcher downloads a URL to a local path, verifying its SHA-256 before the
// result becomes observable at outPath.
type Fetcher interface {
	Fetch(ctx context.Context, url, expectedSHA256, outPath string, progress Progress) error
}

var _ Fetcher = (*Manager)(nil)
