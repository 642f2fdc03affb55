// Package session keeps the pair of credentials every task depends on (the
// platform API token and the browser-style cookie jar) valid across a run.
// Cookies go stale independently of the token; the manager refreshes them
// from the token through the platform's autologin exchange, coalescing
// concurrent refreshes into one request.
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

// loggedInMarker appears on every platform page rendered for an
// authenticated browser session.
const loggedInMarker = "login/logout.php"

// Session is the shared credential pair. Tasks hold a read reference; all
// mutation funnels through the manager's refresh.
type Session struct {
	Token        string
	PrivateToken string
	UserID       string

	jar    http.CookieJar
	client *http.Client
}

// Client returns the HTTP client carrying the session cookies.
func (s *Session) Client() *http.Client { return s.client }

// CookieHeader renders the current cookies for u as a single header value,
// for handing authenticated URLs to the external extraction tool.
func (s *Session) CookieHeader(u *url.URL) string {
	cookies := s.jar.Cookies(u)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Config carries the settings for a session manager.
type Config struct {
	BaseURL      string
	Token        string
	PrivateToken string
	UserID       string
	CookieFile   string // optional; cookies persist across runs when set
	HTTPTimeout  time.Duration
}

// ManagerImpl validates and refreshes the session. Only one refresh is ever
// in flight; concurrent EnsureValid callers wait on it.
type ManagerImpl struct {
	base    *url.URL
	api     AutologinAPI
	session *Session

	cookieFile string
	sf         singleflight.Group
	mu         sync.RWMutex
}

// NewManager builds a session manager. The cookie jar is loaded from
// cfg.CookieFile when the file exists.
func NewManager(cfg Config, api AutologinAPI) (*ManagerImpl, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid platform URL %q: %w", cfg.BaseURL, errors.ErrConfigValidation)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cookie jar")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	m := &ManagerImpl{
		base:       base,
		api:        api,
		cookieFile: cfg.CookieFile,
		session: &Session{
			Token:        cfg.Token,
			PrivateToken: cfg.PrivateToken,
			UserID:       cfg.UserID,
			jar:          jar,
			client:       &http.Client{Jar: jar, Timeout: timeout},
		},
	}
	if cfg.CookieFile != "" {
		if err := m.loadCookies(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// EnsureValid returns the current session if the validity probe passes,
// refreshing the cookies first when it does not. Concurrent callers during
// an expired session share a single refresh; if that refresh fails, every
// waiter gets the same auth error. Callers must not retry auth failures.
func (m *ManagerImpl) EnsureValid(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()

	ok, err := m.probe(ctx, s)
	if err != nil {
		return nil, err
	}
	if ok {
		return s, nil
	}

	// Coalesced: one refresh in flight, later callers join it. The refresh
	// outcome is shared by every waiter, so it runs detached from the
	// initiating caller's cancellation.
	_, err, _ = m.sf.Do("refresh", func() (interface{}, error) {
		return nil, m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, nil
}

// probe performs the cheap validity check: fetch the platform front page
// with the session cookies and look for the logged-in marker.
func (m *ManagerImpl) probe(ctx context.Context, s *Session) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base.String(), http.NoBody)
	if err != nil {
		return false, errors.Wrap(err, "failed to create probe request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, errors.Wrapf(errors.ErrNetwork, "session probe: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := errors.ClassifyStatus(resp.StatusCode); err != nil {
		// An unauthenticated front page still renders 200; a hard status
		// here is a transport or platform problem, not a stale cookie.
		return false, errors.Wrap(err, "session probe")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, errors.Wrapf(errors.ErrNetwork, "session probe read: %v", err)
	}
	return strings.Contains(string(body), loggedInMarker), nil
}

// refresh exchanges the private token for an autologin key, posts it to the
// login URL so the jar picks up fresh cookies, then re-probes. Any failure
// is an auth error: the caller's task fails and the operator has to
// remediate credentials.
func (m *ManagerImpl) refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.PrivateToken == "" {
		return errors.Wrap(errors.ErrAuth, "cookies expired and no private token is configured")
	}

	key, err := m.api.FetchAutologinKey(ctx, m.session.PrivateToken)
	if err != nil {
		return errors.Wrapf(errors.ErrAuth, "autologin key request failed: %v", err)
	}

	form := url.Values{}
	form.Set("key", key.Key)
	form.Set("userid", m.session.UserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, key.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to create autologin request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.session.client.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrAuth, "autologin request failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	ok, err := m.probeLocked(ctx)
	if err != nil {
		return errors.Wrapf(errors.ErrAuth, "post-refresh probe failed: %v", err)
	}
	if !ok {
		return errors.Wrap(errors.ErrAuth, "session refresh did not produce a valid login")
	}

	if m.cookieFile != "" {
		if err := m.saveCookies(); err != nil {
			return err
		}
	}
	return nil
}

// probeLocked is probe for callers already holding the write lock.
func (m *ManagerImpl) probeLocked(ctx context.Context) (bool, error) {
	s := m.session
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base.String(), http.NoBody)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	return strings.Contains(string(body), loggedInMarker), nil
}
