package moodle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret-token", UserID: 7}, srv.Client())
	require.NoError(t, err)
	return c
}

func TestCall_SendsTokenInBodyAndFunctionInQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, restPath, r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("moodlewsrestformat"))
		assert.Equal(t, "core_webservice_get_site_info", r.URL.Query().Get("wsfunction"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret-token", r.PostFormValue("wstoken"))
		assert.Empty(t, r.URL.Query().Get("wstoken"), "token must never appear in the URL")

		fmt.Fprint(w, `{"sitename": "Test Campus", "userid": 42, "username": "student"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	info, err := c.FetchSiteInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test Campus", info.SiteName)
	assert.Equal(t, 42, info.UserID)
}

func TestCall_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{
			name:   "invalid token payload",
			status: http.StatusOK,
			body:   `{"exception": "moodle_exception", "errorcode": "invalidtoken", "message": "Invalid token"}`,
			want:   errors.ErrAuth,
		},
		{
			name:   "require login payload",
			status: http.StatusOK,
			body:   `{"exception": "require_login_exception", "errorcode": "requireloginerror", "message": "Please log in"}`,
			want:   errors.ErrAuth,
		},
		{
			name:   "access denied payload",
			status: http.StatusOK,
			body:   `{"exception": "webservice_access_exception", "errorcode": "accessdenied", "message": "Denied"}`,
			want:   errors.ErrAuth,
		},
		{
			name:   "other error payload",
			status: http.StatusOK,
			body:   `{"exception": "invalid_parameter_exception", "errorcode": "invalidparameter", "message": "Bad value"}`,
			want:   errors.ErrAPI,
		},
		{
			name:   "malformed response",
			status: http.StatusOK,
			body:   `{not json`,
			want:   errors.ErrAPI,
		},
		{
			name:   "service unavailable",
			status: http.StatusServiceUnavailable,
			body:   ``,
			want:   errors.ErrNetwork,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   ``,
			want:   errors.ErrNetwork,
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   ``,
			want:   errors.ErrAuth,
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   ``,
			want:   errors.ErrAPI,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			_, err := c.FetchSiteInfo(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCall_ConnectionFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := srv.Client()
	srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "t"}, client)
	require.NoError(t, err)

	_, err = c.FetchSiteInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNetwork)
	assert.True(t, errors.IsRetryable(err))
}

func TestOpenStream_InjectsTokenForPlatformFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-token", r.URL.Query().Get("token"))
		fmt.Fprint(w, "file-bytes")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	body, err := c.OpenStream(context.Background(), srv.URL+"/webservice/pluginfile.php/12/mod_resource/content/1/notes.pdf")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "file-bytes", string(data))
}

func TestOpenStream_LeavesExternalURLsAlone(t *testing.T) {
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("token"), "token must not leak to external hosts")
		fmt.Fprint(w, "external-bytes")
	}))
	defer external.Close()

	platform := httptest.NewServer(http.NotFoundHandler())
	defer platform.Close()

	c := newTestClient(t, platform)
	body, err := c.OpenStream(context.Background(), external.URL+"/some/file.pdf")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "external-bytes", string(data))
}

func TestOpenStream_StatusMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.OpenStream(context.Background(), srv.URL+"/gone.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAPI)
	assert.False(t, errors.IsRetryable(err))
}

func TestExchangeToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tokenPath, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "student", r.PostFormValue("username"))
		assert.Equal(t, serviceName, r.PostFormValue("service"))
		fmt.Fprint(w, `{"token": "tok", "privatetoken": "priv"}`)
	}))
	defer srv.Close()

	pair, err := ExchangeToken(context.Background(), srv.Client(), srv.URL, "student", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok", pair.Token)
	assert.Equal(t, "priv", pair.PrivateToken)
}

func TestExchangeToken_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error": "Invalid login, please try again", "errorcode": "invalidlogin"}`)
	}))
	defer srv.Close()

	_, err := ExchangeToken(context.Background(), srv.Client(), srv.URL, "student", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAuth)
}

func TestFetchAutologinKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tool_mobile_get_autologin_key", r.URL.Query().Get("wsfunction"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "priv", r.PostFormValue("privatetoken"))
		fmt.Fprint(w, `{"key": "k123", "autologinurl": "https://campus.example/admin/tool/mobile/autologin.php"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	key, err := c.FetchAutologinKey(context.Background(), "priv")
	require.NoError(t, err)
	assert.Equal(t, "k123", key.Key)
	assert.Contains(t, key.LoginURL, "autologin.php")
}
