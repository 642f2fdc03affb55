//go:generate mockgen -destination=./mocks/extract.go -package=mocks . Tool

package extract

import "context"

// Tool fetches a resolved media reference into a local file using the
// external download binary.
type Tool interface {
	Extract(ctx context.Context, ref, cookieHeader, targetPath string) error
}
