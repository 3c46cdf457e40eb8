package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

// Page is the host page as the SSO flows see it.
type Page interface {
	// URL is the current address of the host page.
	URL() string
	// Navigate sends the whole page to url.
	Navigate(url string) error
	// ReplaceURL rewrites the address without navigating.
	ReplaceURL(url string) error
	// AwaitGesture shows a trigger labelled label in container and returns
	// once the user activates it.
	AwaitGesture(ctx context.Context, container, label string) error
	// OpenWindow opens a popup window at url.
	OpenWindow(url string) (Window, error)
}

// Window is a popup opened by Page.OpenWindow.
type Window interface {
	// Completed is closed when the window reports SSO completion.
	Completed() <-chan struct{}
	// Closed is closed when the user dismisses the window.
	Closed() <-chan struct{}
	Close() error
}

// ErrPopupUnsupported is returned by pages that cannot open windows.
var ErrPopupUnsupported = errors.New("popup windows are not supported by this page")

// HeadlessPage is a Page for processes without a browser. Navigation is
// recorded and logged; popups are refused.
type HeadlessPage struct {
	mu   sync.Mutex
	url  string
	hops []string
}

// NewHeadlessPage returns a page sitting at pageURL.
func NewHeadlessPage(pageURL string) *HeadlessPage {
	return &HeadlessPage{url: pageURL}
}

func (p *HeadlessPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *HeadlessPage) Navigate(u string) error {
	slog.Info("SSO redirect required", "url", u)
	p.mu.Lock()
	p.hops = append(p.hops, u)
	p.url = u
	p.mu.Unlock()
	return nil
}

func (p *HeadlessPage) ReplaceURL(u string) error {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
	return nil
}

// Navigations lists the addresses passed to Navigate.
func (p *HeadlessPage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hops...)
}

func (p *HeadlessPage) AwaitGesture(context.Context, string, string) error { return nil }

func (p *HeadlessPage) OpenWindow(string) (Window, error) { return nil, ErrPopupUnsupported }

// SSO return marker appended to the redirect target's fragment.
const (
	SSOMarkerGUID  = "5e16222e-ef02-43e9-9fbd-24226bf3ce5b"
	SSOMarkerParam = "ssoMarker"
	ssoMarker      = SSOMarkerParam + "=" + SSOMarkerGUID
)

// RedirectURL is where the SSO provider sends the browser back to: the
// current page, or redirectPath on the same origin, with the marker in the
// fragment.
func RedirectURL(current, redirectPath string) string {
	target := current
	if redirectPath != "" {
		if u, err := url.Parse(current); err == nil && u.Host != "" {
			ref, err := url.Parse(redirectPath)
			if err == nil {
				target = u.ResolveReference(ref).String()
			}
		}
	}
	return appendToFragment(target, ssoMarker)
}

func appendToFragment(u, param string) string {
	i := strings.IndexByte(u, '#')
	if i < 0 {
		return u + "#" + param
	}
	frag := u[i+1:]
	switch {
	case frag == "":
		return u + param
	case strings.Contains(frag, "?"):
		return u + "&" + param
	default:
		return u + "?" + param
	}
}

// HasSSOMarker reports whether u is a return from the SSO provider.
func HasSSOMarker(u string) bool {
	return strings.Contains(u, SSOMarkerGUID)
}

// StripSSOMarker removes the marker, and any separator left dangling, from u.
func StripSSOMarker(u string) string {
	if strings.Contains(u, "#"+ssoMarker+"&") || strings.Contains(u, "?"+ssoMarker+"&") {
		return strings.Replace(u, ssoMarker+"&", "", 1)
	}
	for _, sep := range []string{"&", "?", "#"} {
		if strings.Contains(u, sep+ssoMarker) {
			return strings.Replace(u, sep+ssoMarker, "", 1)
		}
	}
	return strings.Replace(u, SSOMarkerGUID, "", 1)
}
