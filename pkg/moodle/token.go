package moodle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/session"
)

// TokenPair is the result of a credential exchange. The private token is
// only issued over HTTPS and may be empty.
type TokenPair struct {
	Token        string `json:"token"`
	PrivateToken string `json:"privatetoken"`
}

// ExchangeToken trades a username and password for a web-service token pair.
// Used once at setup; afterwards only the tokens are stored.
func ExchangeToken(ctx context.Context, httpClient *http.Client, baseURL, username, password string) (*TokenPair, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, errors.Wrapf(errors.ErrConfigValidation, "invalid platform URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("service", serviceName)

	endpoint := *base
	endpoint.Path = endpoint.Path + tokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrAPI, "building token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetwork, "token exchange: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := errors.ClassifyStatus(resp.StatusCode); err != nil {
		return nil, errors.Wrap(err, "token exchange")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetwork, "token exchange: reading response: %v", err)
	}

	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.isError() {
		// The token endpoint rejects bad credentials with its own codes.
		return nil, errors.Wrapf(errors.ErrAuth, "token exchange rejected: %s (%s)", apiErr.Error, apiErr.ErrorCode)
	}

	var pair TokenPair
	if err := json.Unmarshal(data, &pair); err != nil || pair.Token == "" {
		return nil, errors.Wrap(errors.ErrAPI, "token exchange: malformed response")
	}
	return &pair, nil
}

// autologinResponse is the payload of tool_mobile_get_autologin_key.
type autologinResponse struct {
	Key          string `json:"key"`
	AutologinURL string `json:"autologinurl"`
}

// FetchAutologinKey exchanges the private token for a short-lived autologin
// key. Implements session.AutologinAPI.
func (c *Client) FetchAutologinKey(ctx context.Context, privateToken string) (*session.AutologinKey, error) {
	params := url.Values{}
	params.Set("privatetoken", privateToken)

	var resp autologinResponse
	if err := c.call(ctx, "tool_mobile_get_autologin_key", params, &resp); err != nil {
		return nil, err
	}
	if resp.Key == "" || resp.AutologinURL == "" {
		return nil, errors.Wrap(errors.ErrAPI, "autologin key response incomplete")
	}
	return &session.AutologinKey{Key: resp.Key, LoginURL: resp.AutologinURL}, nil
}
