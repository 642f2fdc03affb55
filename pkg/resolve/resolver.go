// Package resolve walks the chain of HTML pages behind an embedded-video
// module until it reaches a media reference the external extraction tool can
// fetch. The chain is view page, player iframe, LTI launch form, scripted
// redirect, player page. Every structural mismatch along the way is a
// resolution error; only transport failures are retryable.
package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

// maxHops bounds the number of HTTP round trips a single resolution may
// take. The full chain needs four; anything past five is a loop.
const maxHops = 5

const maxPageSize = 4 << 20

var (
	redirectRe = regexp.MustCompile(`window\.location\.href\s*=\s*'([^']+)'`)
	entryRe    = regexp.MustCompile(`entry_?[Ii]d["']?\s*[:=]\s*["']?(\d_[A-Za-z0-9]+)`)
	partnerRe  = regexp.MustCompile(`partner_?[Ii]d["']?\s*[:=]\s*["']?(\d+)`)
)

// ResolverImpl resolves indirect resources over an authenticated session.
type ResolverImpl struct {
	source CredentialSource
}

// New creates a resolver that acquires credentials from the given source.
func New(source CredentialSource) *ResolverImpl {
	return &ResolverImpl{source: source}
}

// Resolve follows the chain from the module view page to a media reference.
// The session is validated first; a stale one is refreshed before any page
// is fetched.
func (r *ResolverImpl) Resolve(ctx context.Context, viewURL string) (*Media, error) {
	creds, err := r.source.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(viewURL)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrResolution, "invalid view URL %q", viewURL)
	}

	hops := 0
	fetch := func(method, target string, form url.Values) (string, error) {
		hops++
		if hops > maxHops {
			return "", errors.Wrapf(errors.ErrResolution, "resolution exceeded %d hops", maxHops)
		}
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		} else {
			body = http.NoBody
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return "", errors.Wrapf(errors.ErrResolution, "invalid URL %q", target)
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		resp, err := creds.Client().Do(req)
		if err != nil {
			return "", errors.Wrapf(errors.ErrNetwork, "fetching %s: %v", target, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if err := errors.ClassifyStatus(resp.StatusCode); err != nil {
			return "", errors.Wrapf(err, "fetching %s", target)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		if err != nil {
			return "", errors.Wrapf(errors.ErrNetwork, "reading %s: %v", target, err)
		}
		return string(data), nil
	}

	viewPage, err := fetch(http.MethodGet, viewURL, nil)
	if err != nil {
		return nil, err
	}

	iframeSrc, err := playerIframeSrc(viewPage)
	if err != nil {
		return nil, err
	}
	launchURL, err := base.Parse(iframeSrc)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrResolution, "invalid player iframe src %q", iframeSrc)
	}

	// Directly embedded sources carry the media URL in the launch query and
	// skip the LTI handshake entirely.
	if src := launchURL.Query().Get("source"); src != "" {
		return &Media{Ref: src, CookieHeader: creds.CookieHeader(launchURL)}, nil
	}

	launchPage, err := fetch(http.MethodGet, launchURL.String(), nil)
	if err != nil {
		return nil, err
	}

	action, fields, err := launchForm(launchPage)
	if err != nil {
		return nil, err
	}
	actionURL, err := launchURL.Parse(action)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrResolution, "invalid launch form action %q", action)
	}

	launchResp, err := fetch(http.MethodPost, actionURL.String(), fields)
	if err != nil {
		return nil, err
	}

	m := redirectRe.FindStringSubmatch(launchResp)
	if m == nil {
		return nil, errors.Wrap(errors.ErrResolution, "launch response carries no redirect")
	}
	redirectURL, err := actionURL.Parse(m[1])
	if err != nil {
		return nil, errors.Wrapf(errors.ErrResolution, "invalid launch redirect %q", m[1])
	}

	playerPage, err := fetch(http.MethodGet, redirectURL.String(), nil)
	if err != nil {
		return nil, err
	}

	entry := entryRe.FindStringSubmatch(playerPage)
	if entry == nil {
		return nil, errors.Wrap(errors.ErrResolution, "player page carries no entry id")
	}
	partner := partnerRe.FindStringSubmatch(playerPage)
	if partner == nil {
		return nil, errors.Wrap(errors.ErrResolution, "player page carries no partner id")
	}

	return &Media{
		Ref:          fmt.Sprintf("kaltura:%s:%s", partner[1], entry[1]),
		CookieHeader: creds.CookieHeader(redirectURL),
	}, nil
}

// playerIframeSrc extracts the src of the embedded player iframe from the
// module view page.
func playerIframeSrc(page string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", errors.Wrap(errors.ErrResolution, "failed to parse view page")
	}
	var src string
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "iframe" {
			return true
		}
		if !strings.Contains(attr(n, "class"), "kaltura-player-iframe") {
			return true
		}
		src = attr(n, "src")
		return false
	})
	if src == "" {
		return "", errors.Wrap(errors.ErrResolution, "view page carries no player iframe")
	}
	return src, nil
}

// launchForm extracts the LTI launch form's action and its input fields from
// the iframe page.
func launchForm(page string) (string, url.Values, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrResolution, "failed to parse launch page")
	}
	var form *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "form" && attr(n, "id") == "ltiLaunchForm" {
			form = n
			return false
		}
		return true
	})
	if form == nil {
		return "", nil, errors.Wrap(errors.ErrResolution, "launch page carries no launch form")
	}
	action := attr(form, "action")
	if action == "" {
		return "", nil, errors.Wrap(errors.ErrResolution, "launch form has no action")
	}
	fields := url.Values{}
	walk(form, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "input" {
			if name := attr(n, "name"); name != "" {
				fields.Set(name, attr(n, "value"))
			}
		}
		return true
	})
	return action, fields, nil
}

// walk visits nodes depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
