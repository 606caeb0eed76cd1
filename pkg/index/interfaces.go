package index

import (
	"context"

	"github.com/glorpus-work/gvm/pkg/model"
)

// Resolver answers version queries against the upstream manifest.
type Resolver interface {
	ListAvailable(ctx context.Context, includeUnstable bool) ([]string, error)
	Resolve(ctx context.Context, version string) (model.FileDescriptor, error)
}

var _ Resolver = (*Manager)(nil)
