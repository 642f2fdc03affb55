//go:generate mockgen -destination=./mocks/resolve.go -package=mocks . Resolver

package resolve

import (
	"context"
	"net/http"
	"net/url"
)

// Media is the terminal result of a resolution chain: a reference the
// external extraction tool can fetch, plus the credentials it needs.
type Media struct {
	// Ref is the tool-facing media reference: "kaltura:<partner>:<entry>"
	// for platform-hosted video, or a plain URL for embedded sources.
	Ref string

	// CookieHeader carries the session cookies for authenticated sources.
	CookieHeader string
}

// Credentials is the slice of the session the resolver needs: an
// authenticated HTTP client and the cookie header for a given URL.
// Satisfied by *session.Session.
type Credentials interface {
	Client() *http.Client
	CookieHeader(u *url.URL) string
}

// CredentialSource yields valid credentials for one resolution. Each call
// may trigger a session refresh, so cookies that expire mid-run are renewed
// instead of failing every remaining indirect task.
type CredentialSource interface {
	EnsureValid(ctx context.Context) (Credentials, error)
}

// Resolver turns an indirect resource's view URL into a fetchable media
// reference.
type Resolver interface {
	Resolve(ctx context.Context, viewURL string) (*Media, error)
}
