//go:generate mockgen -destination=./mocks/download.go -package=mocks . Fetcher,Resolver,Extractor,Unpacker,Committer

package download

import (
	"context"
	"io"

	"github.com/glorpus-work/coursedl/pkg/model"
	"github.com/glorpus-work/coursedl/pkg/resolve"
)

// Fetcher is the subset of the platform client the orchestrator streams
// direct content through.
type Fetcher interface {
	OpenStream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Resolver turns indirect view URLs into media references.
type Resolver interface {
	Resolve(ctx context.Context, viewURL string) (*resolve.Media, error)
}

// Extractor fetches resolved media through the external tool.
type Extractor interface {
	Extract(ctx context.Context, ref, cookieHeader, targetPath string) error
}

// Unpacker extracts downloaded archive artifacts.
type Unpacker interface {
	ExtractAll(ctx context.Context, archivePath, destDir string) error
}

// Committer is the subset of the fingerprint store the run ends with.
type Committer interface {
	Commit(outcomes []model.Outcome) error
}
