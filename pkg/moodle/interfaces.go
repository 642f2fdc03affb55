//go:generate mockgen -destination=./mocks/moodle.go -package=mocks . ListingProvider,Fetcher

package moodle

import (
	"context"
	"io"

	"github.com/glorpus-work/coursedl/pkg/model"
)

// ListingProvider enumerates the courses a user is enrolled in and the file
// descriptors each course currently exposes.
type ListingProvider interface {
	Courses(ctx context.Context) ([]model.Course, error)
	ListEntries(ctx context.Context, course model.Course) ([]model.FileDescriptor, error)
}

// Fetcher opens a byte stream for a descriptor's content URL, injecting the
// credentials platform-served files require.
type Fetcher interface {
	OpenStream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}
