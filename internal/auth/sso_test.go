package auth

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/session"
)

type fakeWindow struct {
	completed chan struct{}
	closed    chan struct{}
	closes    atomic.Int32
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{completed: make(chan struct{}), closed: make(chan struct{})}
}

func (w *fakeWindow) Completed() <-chan struct{} { return w.completed }
func (w *fakeWindow) Closed() <-chan struct{}    { return w.closed }

func (w *fakeWindow) Close() error {
	w.closes.Add(1)
	return nil
}

// popupPage is a HeadlessPage that can open windows.
type popupPage struct {
	*HeadlessPage
	window *fakeWindow
	onOpen func()

	mu     sync.Mutex
	opened []string
}

func (p *popupPage) OpenWindow(u string) (Window, error) {
	p.mu.Lock()
	p.opened = append(p.opened, u)
	p.mu.Unlock()
	if p.onOpen != nil {
		p.onOpen()
	}
	return p.window, nil
}

func (p *popupPage) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opened)
}

func TestSamlRedirectNavigatesAway(t *testing.T) {
	remote := newFakeRemote(t)
	page := NewHeadlessPage("https://app.example.com/dash")
	c, sess := newController(t, config.EmbedConfig{ThoughtSpotHost: remote.srv.URL, AuthType: config.AuthSSO},
		WithPage(page))

	ok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, sess.IsLoggedIn())

	hops := page.Navigations()
	require.Len(t, hops, 1)
	assert.Equal(t, remote.srv.URL+EndpointSAMLLogin+"?targeturl="+
		url.QueryEscape("https://app.example.com/dash#ssoMarker="+SSOMarkerGUID), hops[0])
}

func TestSamlRedirectPath(t *testing.T) {
	remote := newFakeRemote(t)
	page := NewHeadlessPage("https://app.example.com/dash?x=1")
	c, _ := newController(t, config.EmbedConfig{
		ThoughtSpotHost: remote.srv.URL, AuthType: config.AuthOIDC, RedirectPath: "/sso/return",
	}, WithPage(page))

	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	hops := page.Navigations()
	require.Len(t, hops, 1)
	assert.Contains(t, hops[0], EndpointOIDCLogin)
	assert.Contains(t, hops[0], url.QueryEscape("https://app.example.com/sso/return#ssoMarker="))
}

func TestSamlReturnWithSession(t *testing.T) {
	remote := newFakeRemote(t)
	remote.setLoggedIn(true)
	page := NewHeadlessPage("https://app.example.com/dash#/home?ssoMarker=" + SSOMarkerGUID)
	c, _ := newController(t, config.EmbedConfig{ThoughtSpotHost: remote.srv.URL, AuthType: config.AuthSSO},
		WithPage(page))

	ok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://app.example.com/dash#/home", page.URL())
	assert.Empty(t, page.Navigations())
}

func TestSamlReturnWithoutSessionDoesNotLoop(t *testing.T) {
	remote := newFakeRemote(t)
	page := NewHeadlessPage("https://app.example.com/dash#ssoMarker=" + SSOMarkerGUID)
	c, _ := newController(t, config.EmbedConfig{ThoughtSpotHost: remote.srv.URL, AuthType: config.AuthSSO},
		WithPage(page))

	ok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, page.Navigations())
	assert.False(t, HasSSOMarker(page.URL()))
}

func TestSamlPopupSharedAcrossCallers(t *testing.T) {
	remote := newFakeRemote(t)
	page := &popupPage{
		HeadlessPage: NewHeadlessPage("https://app.example.com/"),
		window:       newFakeWindow(),
	}
	c, sess := newController(t, config.EmbedConfig{
		ThoughtSpotHost: remote.srv.URL, AuthType: config.AuthSSO, NoRedirect: true,
	}, WithPage(page))

	var waiting atomic.Int32
	sess.Subscribe(func(n session.Notification) {
		if n.Event == session.AuthEventWaitingForPopup {
			waiting.Add(1)
		}
	})

	const callers = 5
	results := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := c.doSamlAuth(context.Background(), sess.Config())
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}

	require.Eventually(t, func() bool { return remote.infoCalls.Load() >= callers },
		time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return page.openCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	remote.setLoggedIn(true)
	close(page.window.completed)
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "caller %d", i)
	}
	assert.Equal(t, 1, page.openCount())
	assert.Equal(t, int32(1), waiting.Load())
	assert.Equal(t, int32(1), page.window.closes.Load())
	assert.Contains(t, page.opened[0], url.QueryEscape(remote.srv.URL+SSOCompletePath))
}

func TestSamlPopupClosedWithoutAuth(t *testing.T) {
	remote := newFakeRemote(t)
	page := &popupPage{
		HeadlessPage: NewHeadlessPage("https://app.example.com/"),
		window:       newFakeWindow(),
	}
	close(page.window.closed)
	c, sess := newController(t, config.EmbedConfig{
		ThoughtSpotHost: remote.srv.URL, AuthType: config.AuthSSO, InPopup: true,
	}, WithPage(page))

	var events []session.AuthEvent
	var mu sync.Mutex
	sess.Subscribe(func(n session.Notification) {
		mu.Lock()
		events = append(events, n.Event)
		mu.Unlock()
	})

	ok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, session.AuthEventPopupClosedNoAuth)
	assert.Contains(t, events, session.AuthEventWaitingForPopup)
}

func TestSamlPopupUnsupportedPage(t *testing.T) {
	remote := newFakeRemote(t)
	c, sess := newController(t, config.EmbedConfig{
		ThoughtSpotHost: remote.srv.URL, AuthType: config.AuthSSO, NoRedirect: true,
	})

	ok, err := c.Authenticate(context.Background())
	require.NoError(t, err, "popup failures are not fatal")
	assert.False(t, ok)
	assert.Equal(t, session.StatusLoggedOut, sess.Status())

	f, created := sess.PopupFuture()
	assert.True(t, created, "a failed popup must not stay memoized")
	f.Resolve(false, nil)
}

func TestSSOMarkerHelpers(t *testing.T) {
	tests := []struct {
		in       string
		redirect string
		stripped string
	}{
		{"https://a.com/p", "https://a.com/p#ssoMarker=" + SSOMarkerGUID, "https://a.com/p"},
		{"https://a.com/p#", "https://a.com/p#ssoMarker=" + SSOMarkerGUID, "https://a.com/p"},
		{"https://a.com/p#/home", "https://a.com/p#/home?ssoMarker=" + SSOMarkerGUID, "https://a.com/p#/home"},
		{"https://a.com/p#/home?tab=1", "https://a.com/p#/home?tab=1&ssoMarker=" + SSOMarkerGUID, "https://a.com/p#/home?tab=1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := RedirectURL(tt.in, "")
			assert.Equal(t, tt.redirect, got)
			assert.True(t, HasSSOMarker(got))
			assert.Equal(t, tt.stripped, StripSSOMarker(got))
		})
	}
}
