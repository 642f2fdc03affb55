// Package moodle speaks the learning platform's web-service REST dialect:
// function calls go to a single endpoint with the function name in the query
// and the token in the form body, and errors come back as 200 responses with
// an error payload. The client maps both transport- and payload-level
// failures onto the shared error taxonomy.
package moodle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

const (
	restPath  = "/webservice/rest/server.php"
	tokenPath = "/login/token.php"

	// userAgent mimics the official mobile app; several platform installs
	// gate web-service access on it.
	userAgent = "MoodleMobile"

	// serviceName is the web-service the token exchange asks for.
	serviceName = "moodle_mobile_app"

	maxResponseSize = 64 << 20
)

// authErrorCodes are the payload error codes that mean the credentials are
// at fault rather than the request.
var authErrorCodes = map[string]bool{
	"invalidtoken":      true,
	"requireloginerror": true,
	"accessdenied":      true,
	"nopermission":      true,
}

// apiError is the error payload the REST endpoint returns with HTTP 200.
type apiError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

func (e *apiError) isError() bool {
	return e.Exception != "" || e.ErrorCode != "" || e.Error != ""
}

func (e *apiError) toError() error {
	msg := e.Message
	if msg == "" {
		msg = e.Error
	}
	if authErrorCodes[e.ErrorCode] {
		return errors.Wrapf(errors.ErrAuth, "%s (%s)", msg, e.ErrorCode)
	}
	return errors.Wrapf(errors.ErrAPI, "%s (%s)", msg, e.ErrorCode)
}

// Config carries the settings for a platform client.
type Config struct {
	BaseURL string
	Token   string
	UserID  int

	// FoldersAsZip lists folder modules as one zip-export artifact instead
	// of individual files.
	FoldersAsZip bool
}

// Client calls the platform's REST web services over an authenticated
// session client.
type Client struct {
	base         *url.URL
	token        string
	userID       int
	foldersAsZip bool
	http         *http.Client
}

// NewClient builds a platform client. httpClient normally comes from the
// session manager so cookie-gated downloads work.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, errors.Wrapf(errors.ErrConfigValidation, "invalid platform URL %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:         base,
		token:        cfg.Token,
		userID:       cfg.UserID,
		foldersAsZip: cfg.FoldersAsZip,
		http:         httpClient,
	}, nil
}

// call invokes one web-service function and decodes the response into out.
func (c *Client) call(ctx context.Context, wsfunction string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("wstoken", c.token)

	endpoint := *c.base
	endpoint.Path = endpoint.Path + restPath
	endpoint.RawQuery = url.Values{
		"moodlewsrestformat": {"json"},
		"wsfunction":         {wsfunction},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(params.Encode()))
	if err != nil {
		return errors.Wrapf(errors.ErrAPI, "building %s request: %v", wsfunction, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrNetwork, "%s: %v", wsfunction, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := errors.ClassifyStatus(resp.StatusCode); err != nil {
		return errors.Wrap(err, wsfunction)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrapf(errors.ErrNetwork, "%s: reading response: %v", wsfunction, err)
	}

	// The endpoint reports its own failures inside a 200 response.
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.isError() {
		return errors.Wrap(apiErr.toError(), wsfunction)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(errors.ErrAPI, "%s: malformed response: %v", wsfunction, err)
	}
	return nil
}

// OpenStream opens a byte stream for a content URL. Platform-served files
// need the token appended; external URLs are fetched as-is through the same
// session client.
func (c *Client) OpenStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrAPI, "invalid content URL %q", rawURL)
	}
	if u.Host == c.base.Host && strings.Contains(u.Path, "pluginfile.php") {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrAPI, "building download request for %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetwork, "fetching %s: %v", rawURL, err)
	}
	if err := errors.ClassifyStatus(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		return nil, errors.Wrapf(err, "fetching %s", rawURL)
	}
	return resp.Body, nil
}

// SiteInfo is the subset of core_webservice_get_site_info the tool uses.
type SiteInfo struct {
	SiteName string `json:"sitename"`
	UserID   int    `json:"userid"`
	Username string `json:"username"`
	Release  string `json:"release"`
}

// FetchSiteInfo returns the site metadata for the configured token,
// including the user id later calls need.
func (c *Client) FetchSiteInfo(ctx context.Context) (*SiteInfo, error) {
	var info SiteInfo
	if err := c.call(ctx, "core_webservice_get_site_info", nil, &info); err != nil {
		return nil, err
	}
	if c.userID == 0 {
		c.userID = info.UserID
	}
	return &info, nil
}
