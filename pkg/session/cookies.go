package session

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

// cookieExpiryClamp pins persisted cookie lifetimes far into the future.
// Platform session cookies are issued without usable expiry metadata, and
// whether they still work is decided by the probe, not by the clock.
var cookieExpiryClamp = time.Unix(2147483647, 0)

// storedCookie is the persisted form of one cookie.
type storedCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Secure bool   `json:"secure,omitempty"`
}

// saveCookies writes the jar's cookies for the platform host to the cookie
// file. Caller holds the write lock.
func (m *ManagerImpl) saveCookies() error {
	cookies := m.session.jar.Cookies(m.base)
	out := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, storedCookie{Name: c.Name, Value: c.Value, Path: c.Path, Secure: c.Secure})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal cookies")
	}
	if err := os.MkdirAll(filepath.Dir(m.cookieFile), 0o750); err != nil {
		return errors.Wrap(err, "failed to create cookie directory")
	}
	if err := os.WriteFile(m.cookieFile, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write cookie file")
	}
	return nil
}

// loadCookies seeds the jar from the cookie file, if present.
func (m *ManagerImpl) loadCookies() error {
	data, err := os.ReadFile(m.cookieFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read cookie file")
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return errors.Wrap(err, "failed to parse cookie file")
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Secure:  c.Secure,
			Expires: cookieExpiryClamp,
		})
	}
	m.session.jar.SetCookies(m.base, cookies)
	return nil
}
