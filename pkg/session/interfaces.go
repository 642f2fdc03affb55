//go:generate mockgen -destination=./mocks/session.go -package=mocks . AutologinAPI

package session

import "context"

// AutologinKey is the short-lived key the platform hands out in exchange for
// a private token. Posting it to the login URL yields fresh session cookies.
type AutologinKey struct {
	Key      string
	LoginURL string
}

// AutologinAPI is the slice of the platform API the session manager needs
// for a refresh. Implemented by the moodle client; mocked in tests.
type AutologinAPI interface {
	FetchAutologinKey(ctx context.Context, privateToken string) (*AutologinKey, error)
}
