// Package embed places the remote analytics application into frames on a
// host page and drives it: process-wide init and auth, per-instance frame
// lifecycle, the prerender cache, and the reserved protocol handlers.
package embed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/auth"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/connectivity"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/errorreport"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/future"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/logging"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/prerender"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/session"
)

// SDKVersion is reported to the embedded app.
const SDKVersion = "1.41.0"

// Interceptor sees an API call the embedded app is about to make and
// returns the payload to answer with. Returning the request unchanged lets
// the call proceed.
type Interceptor func(ctx context.Context, req json.RawMessage) (json.RawMessage, error)

// SDK is the process-wide entry point: one session, one auth controller, one
// render queue and one prerender cache shared by every instance.
type SDK struct {
	host        frame.Host
	sess        *session.Session
	auth        *auth.Controller
	authOpts    []auth.Option
	queue       *renderQueue
	cache       *prerender.Cache
	preauth     PreauthPolicy
	interceptor Interceptor
	hostAppURL  string

	mu       sync.Mutex
	monitor  *connectivity.Monitor
	reporter *errorreport.Reporter
}

// Option configures an SDK.
type Option func(*SDK)

// WithAuthOptions passes options to the auth controller.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(s *SDK) { s.authOpts = append(s.authOpts, opts...) }
}

// WithInterceptor installs the ApiIntercept hook.
func WithInterceptor(fn Interceptor) Option {
	return func(s *SDK) { s.interceptor = fn }
}

// WithPreauthPolicy replaces DefaultPreauthPolicy.
func WithPreauthPolicy(p PreauthPolicy) Option {
	return func(s *SDK) { s.preauth = p }
}

// WithHostAppURL sets the host page address reported to the embedded app.
func WithHostAppURL(u string) Option {
	return func(s *SDK) { s.hostAppURL = u }
}

// New returns an SDK placing frames through host. Init must be called
// before instances can render.
func New(host frame.Host, opts ...Option) *SDK {
	s := &SDK{
		host:       host,
		sess:       session.New(),
		queue:      &renderQueue{},
		cache:      prerender.New(),
		preauth:    DefaultPreauthPolicy,
		hostAppURL: "local-host",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auth = auth.NewController(s.sess, s.authOpts...)
	return s
}

// Init installs cfg, replacing any earlier config, and starts
// authentication in the background. Only configuration errors are returned;
// the auth outcome is observed through WaitForAuth, IsAuthenticated or
// session notifications.
func (s *SDK) Init(ctx context.Context, cfg config.EmbedConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.sess.Init(cfg)
	s.auth.ClearTokenCache()
	active := s.sess.Config()

	authDone := future.New[bool]()
	s.sess.SetAuthFuture(authDone)
	authCtx := context.WithoutCancel(ctx)
	go func() {
		ok, err := s.auth.Authenticate(authCtx)
		authDone.Resolve(ok, err)
	}()

	logging.SetLevel(active.LogLevel)
	s.startMonitor(active)
	s.startReporter(active)
	slog.Info("Embed SDK initialized", "host", active.ThoughtSpotHost, "authType", active.AuthType)
	return nil
}

func (s *SDK) startMonitor(cfg *config.EmbedConfig) {
	client := &http.Client{Timeout: cfg.RequestTimeout}
	m := connectivity.NewMonitor(connectivity.Config{
		Probe:    connectivity.HTTPProbe(client, cfg.ThoughtSpotHost+auth.EndpointSessionInfo),
		Interval: cfg.NetworkProbeInterval,
	})

	s.mu.Lock()
	prev := s.monitor
	s.monitor = m
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	go m.Start()
}

func (s *SDK) startReporter(cfg *config.EmbedConfig) {
	r := errorreport.New(errorreport.Config{
		Endpoint:    cfg.ErrorReportURL,
		Token:       cfg.ErrorReportToken,
		Host:        cfg.ThoughtSpotHost,
		SDKVersion:  SDKVersion,
		HTTPTimeout: cfg.RequestTimeout,
	})
	r.Start()

	s.mu.Lock()
	prev := s.reporter
	s.reporter = r
	s.mu.Unlock()
	prev.Close()
}

// errorReporter returns the error forwarder of the current init; nil when
// forwarding is off.
func (s *SDK) errorReporter() *errorreport.Reporter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reporter
}

// Network returns the connectivity monitor of the current init, or nil.
func (s *SDK) Network() *connectivity.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor
}

// WaitForAuth blocks until the authentication started by Init settles.
func (s *SDK) WaitForAuth(ctx context.Context) (bool, error) {
	f := s.sess.AuthFuture()
	if f == nil {
		return false, sdkerr.ErrInitRequired
	}
	return f.Wait(ctx)
}

// IsAuthenticated reports the most recent authentication result.
func (s *SDK) IsAuthenticated() bool {
	return s.sess.IsLoggedIn()
}

// Logout ends the remote session.
func (s *SDK) Logout(ctx context.Context) error {
	return s.auth.Logout(ctx)
}

// Reset tears down every prerendered frame and returns the session to the
// uninitialized state.
func (s *SDK) Reset() {
	s.mu.Lock()
	m, r := s.monitor, s.reporter
	s.monitor, s.reporter = nil, nil
	s.mu.Unlock()
	if m != nil {
		m.Stop()
	}
	r.Close()
	s.cache.Clear()
	s.auth.ClearTokenCache()
	s.sess.Reset()
}

// Close releases background resources.
func (s *SDK) Close() {
	s.Reset()
	s.auth.Close()
}

// Session exposes the process-wide session.
func (s *SDK) Session() *session.Session { return s.sess }

// Auth exposes the auth controller.
func (s *SDK) Auth() *auth.Controller { return s.auth }

// PreRenderCache exposes the prerender registry.
func (s *SDK) PreRenderCache() *prerender.Cache { return s.cache }

// PendingRenders returns the number of renders holding or waiting for a
// render queue turn.
func (s *SDK) PendingRenders() int { return s.queue.Len() }
