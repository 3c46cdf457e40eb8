// Package auth authenticates the embed session against the remote host.
//
// The Controller picks a strategy from the configured AuthType, talks to the
// remote session endpoints over a cookie-keeping HTTP client and drives the
// Session state machine:
//
//	LoggedOut -> Authenticating -> {LoggedIn | LoggedOut}
//	Expired   -> Reauthenticating -> {LoggedIn | LoggedOut}
//
// Configuration errors are returned to the caller. Network and remote
// failures only downgrade the session to LoggedOut.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/backoff"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/session"
)

// Remote endpoints, relative to the host.
const (
	EndpointSessionInfo = "/callosum/v1/session/info"
	EndpointBasicLogin  = "/callosum/v1/tspublic/v1/session/login"
	EndpointTokenLogin  = "/callosum/v1/tspublic/v1/session/login/token"
	EndpointSAMLLogin   = "/callosum/v1/saml/login"
	EndpointOIDCLogin   = "/callosum/v1/oidc/login"
	EndpointLogout      = "/callosum/v1/session/logout"
	SSOCompletePath     = "/v2/#/embed/saml-complete"
)

// Strategy performs one kind of authentication. Method expressions on
// *Controller satisfy it.
type Strategy func(c *Controller, ctx context.Context, cfg *config.EmbedConfig) (bool, error)

// DefaultStrategies maps every AuthType to its strategy.
func DefaultStrategies() map[config.AuthType]Strategy {
	return map[config.AuthType]Strategy{
		config.AuthNone:                       authNone,
		config.AuthBasic:                      (*Controller).doBasicAuth,
		config.AuthSSO:                        (*Controller).doSamlAuth,
		config.AuthOIDC:                       (*Controller).doOIDCAuth,
		config.AuthTrustedAuthToken:           (*Controller).doTokenAuth,
		config.AuthTrustedAuthTokenCookieless: (*Controller).doCookielessTokenAuth,
		config.AuthEmbeddedSSO:                authNone,
	}
}

func authNone(*Controller, context.Context, *config.EmbedConfig) (bool, error) {
	return true, nil
}

// Controller runs authentication for one Session. Only the Controller writes
// the session's logged-in state.
type Controller struct {
	sess       *session.Session
	client     *http.Client
	page       Page
	strategies map[config.AuthType]Strategy
	retry      backoff.Policy
	now        func() time.Time

	tokenMu     sync.Mutex
	cookieless  string
	verifierMu  sync.Mutex
	verifier    *TokenVerifier
	verifierURL string
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient replaces the HTTP client. The client should keep cookies.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) { c.client = hc }
}

// WithPage sets the page used by the SSO flows.
func WithPage(p Page) Option {
	return func(c *Controller) { c.page = p }
}

// WithRetryPolicy sets the backoff used for auth endpoint fetches.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(c *Controller) { c.retry = p }
}

// NewController creates a Controller for sess.
func NewController(sess *session.Session, opts ...Option) *Controller {
	jar, _ := cookiejar.New(nil)
	c := &Controller{
		sess:       sess,
		client:     &http.Client{Jar: jar},
		page:       NewHeadlessPage(""),
		strategies: DefaultStrategies(),
		retry:      backoff.TokenFetch(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session the controller writes to.
func (c *Controller) Session() *session.Session {
	return c.sess
}

// Authenticate runs the configured strategy and records the outcome. If the
// session is re-initialised, reset or logged out while the strategy runs,
// the outcome belongs to a superseded generation: it is dropped without
// touching the session and reported as not logged in.
func (c *Controller) Authenticate(ctx context.Context) (bool, error) {
	cfg, gen := c.sess.Snapshot()
	if cfg == nil {
		return false, sdkerr.ErrInitRequired
	}
	strategy, ok := c.strategies[cfg.AuthType]
	if !ok {
		return false, sdkerr.Validation(sdkerr.CodeInvalidAuthType, fmt.Sprintf("invalid authType %q", cfg.AuthType))
	}

	next := session.StatusAuthenticating
	if c.sess.Status() == session.StatusExpired {
		next = session.StatusReauthenticating
	}
	if !c.sess.SetStatusIf(gen, next) {
		return c.superseded(cfg)
	}

	loggedIn, err := strategy(c, ctx, cfg)
	if err != nil {
		if !c.sess.SetStatusIf(gen, session.StatusLoggedOut) {
			return c.superseded(cfg)
		}
		c.sess.NotifyFailure(session.FailureSDK, err)
		if sdkerr.IsFatal(err) {
			return false, err
		}
		slog.Warn("Authentication failed", "authType", cfg.AuthType, "error", err)
		return false, nil
	}

	if !loggedIn {
		if !c.sess.SetStatusIf(gen, session.StatusLoggedOut) {
			return c.superseded(cfg)
		}
		c.sess.NotifyFailure(session.FailureSDK, nil)
		return false, nil
	}
	if !c.sess.SetStatusIf(gen, session.StatusLoggedIn) {
		return c.superseded(cfg)
	}
	c.sess.Notify(session.Notification{Event: session.AuthEventSuccess})
	return true, nil
}

func (c *Controller) superseded(cfg *config.EmbedConfig) (bool, error) {
	slog.Debug("Discarding superseded authentication result", "host", cfg.ThoughtSpotHost, "authType", cfg.AuthType)
	return false, nil
}

// Reauthenticate marks the session expired and authenticates again.
func (c *Controller) Reauthenticate(ctx context.Context) (bool, error) {
	c.sess.SetStatus(session.StatusExpired)
	return c.Authenticate(ctx)
}

// Logout ends the remote session and clears local auth state. Local state
// is cleared even when the remote call fails.
func (c *Controller) Logout(ctx context.Context) error {
	cfg := c.sess.Config()
	if cfg == nil {
		return sdkerr.ErrInitRequired
	}

	var remoteErr error
	resp, err := c.post(ctx, cfg, cfg.ThoughtSpotHost+EndpointLogout, nil)
	if err != nil {
		remoteErr = sdkerr.Wrap(sdkerr.TypeNetwork, sdkerr.CodeLoginFailed, "logout request failed", err)
	} else {
		drain(resp)
	}

	c.ClearTokenCache()
	c.sess.Logout()
	c.sess.Notify(session.Notification{Event: session.AuthEventLogout})
	return remoteErr
}

// ClearTokenCache forgets the cached cookieless token.
func (c *Controller) ClearTokenCache() {
	c.tokenMu.Lock()
	c.cookieless = ""
	c.tokenMu.Unlock()
}

// Close releases the JWKS verifier, if one was created.
func (c *Controller) Close() {
	c.verifierMu.Lock()
	defer c.verifierMu.Unlock()
	if c.verifier != nil {
		c.verifier.Close()
		c.verifier = nil
	}
}

type sessionInfo struct {
	ReleaseVersion string `json:"releaseVersion"`
}

// IsLoggedIn asks the remote host whether the session cookie is valid and
// records the remote release version. Any failure counts as logged out.
func (c *Controller) IsLoggedIn(ctx context.Context, host string) bool {
	cfg := c.sess.Config()
	ctx, cancel := c.requestContext(ctx, cfg)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+EndpointSessionInfo, nil)
	if err != nil {
		slog.Debug("Session info request invalid", "error", err)
		return false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-By", "ThoughtSpot")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Debug("Session info request failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	var info sessionInfo
	if err := json.Unmarshal(body, &info); err == nil {
		c.sess.SetReleaseVersion(info.ReleaseVersion)
		c.sess.SetSessionInfo(json.RawMessage(body))
	}
	return true
}

func (c *Controller) doBasicAuth(ctx context.Context, cfg *config.EmbedConfig) (bool, error) {
	if c.IsLoggedIn(ctx, cfg.ThoughtSpotHost) {
		return true, nil
	}

	form := url.Values{}
	form.Set("username", cfg.Username)
	form.Set("password", cfg.Password)
	form.Set("rememberme", "true")
	resp, err := c.post(ctx, cfg, cfg.ThoughtSpotHost+EndpointBasicLogin, form)
	if err != nil {
		return false, sdkerr.Wrap(sdkerr.TypeNetwork, sdkerr.CodeLoginFailed, "basic login request failed", err)
	}
	drain(resp)
	loggedIn := resp.StatusCode >= 200 && resp.StatusCode < 300

	if loggedIn && cfg.DetectCookieAccessSlow {
		loggedIn = c.confirmCookieAccess(ctx, cfg)
	}
	return loggedIn, nil
}

func (c *Controller) doTokenAuth(ctx context.Context, cfg *config.EmbedConfig) (bool, error) {
	if cfg.AuthEndpoint == "" && cfg.GetAuthToken == nil {
		return false, sdkerr.ErrMissingTokenSource
	}
	if c.IsLoggedIn(ctx, cfg.ThoughtSpotHost) {
		return true, nil
	}

	token, err := c.fetchToken(ctx, cfg)
	if err != nil {
		return false, err
	}
	if err := c.sess.ConsumeToken(token); err != nil {
		return false, err
	}
	if err := c.verifyToken(ctx, cfg, token); err != nil {
		return false, err
	}

	form := url.Values{}
	form.Set("username", cfg.Username)
	form.Set("auth_token", token)
	resp, err := c.post(ctx, cfg, cfg.ThoughtSpotHost+EndpointTokenLogin, form)
	if err != nil {
		return false, sdkerr.Wrap(sdkerr.TypeNetwork, sdkerr.CodeLoginFailed, "token login request failed", err)
	}
	drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Token login rejected", "status", resp.StatusCode)
		return false, nil
	}

	if cfg.DetectCookieAccessSlow {
		return c.confirmCookieAccess(ctx, cfg), nil
	}
	return true, nil
}

func (c *Controller) doCookielessTokenAuth(ctx context.Context, cfg *config.EmbedConfig) (bool, error) {
	if cfg.AuthEndpoint == "" && cfg.GetAuthToken == nil {
		return false, sdkerr.ErrMissingTokenSource
	}
	token, err := c.CookielessToken(ctx, false)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// CookielessToken returns the token handed to the embedded app in place of a
// session cookie. The cached value is reused unless force is set or it has
// expired.
func (c *Controller) CookielessToken(ctx context.Context, force bool) (string, error) {
	cfg := c.sess.Config()
	if cfg == nil {
		return "", sdkerr.ErrInitRequired
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if !force && c.cookieless != "" && !c.expired(c.cookieless) {
		return c.cookieless, nil
	}

	token, err := c.fetchToken(ctx, cfg)
	if err != nil {
		return "", err
	}
	if err := c.sess.ConsumeToken(token); err != nil {
		return "", err
	}
	if err := c.verifyToken(ctx, cfg, token); err != nil {
		return "", err
	}
	c.cookieless = token
	return token, nil
}

func (c *Controller) expired(token string) bool {
	exp, ok := tokenExpiry(token)
	return ok && !c.now().Before(exp)
}

// confirmCookieAccess re-checks the session after login. A login that
// succeeded without a usable session means third-party cookies are blocked.
func (c *Controller) confirmCookieAccess(ctx context.Context, cfg *config.EmbedConfig) bool {
	if c.IsLoggedIn(ctx, cfg.ThoughtSpotHost) {
		return true
	}
	c.sess.NotifyFailure(session.FailureNoCookieAccess, nil)
	return false
}

func (c *Controller) fetchToken(ctx context.Context, cfg *config.EmbedConfig) (string, error) {
	var token string
	var err error
	if cfg.GetAuthToken != nil {
		token, err = cfg.GetAuthToken(ctx)
	} else {
		token, err = c.fetchTokenFromEndpoint(ctx, cfg)
	}
	if err != nil {
		return "", sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeTokenFetchFailed, "failed to fetch auth token", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", sdkerr.New(sdkerr.TypeAuth, sdkerr.CodeTokenFetchFailed, "auth token is empty")
	}
	return token, nil
}

func (c *Controller) fetchTokenFromEndpoint(ctx context.Context, cfg *config.EmbedConfig) (string, error) {
	var token string
	err := backoff.Retry(ctx, c.retry, "fetch auth token", func(ctx context.Context) error {
		reqCtx, cancel := c.requestContext(ctx, cfg)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.AuthEndpoint, nil)
		if err != nil {
			return backoff.Stop(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Stop(fmt.Errorf("auth endpoint returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("auth endpoint returned %d", resp.StatusCode)
		}
		token = string(body)
		return nil
	})
	return token, err
}

func (c *Controller) verifyToken(ctx context.Context, cfg *config.EmbedConfig, token string) error {
	if cfg.TokenJWKSURL == "" {
		return nil
	}
	v, err := c.tokenVerifier(ctx, cfg.TokenJWKSURL)
	if err != nil {
		return sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeTokenVerifyFailed, "failed to load token keys", err)
	}
	if _, err := v.Verify(token); err != nil {
		return sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeTokenVerifyFailed, "auth token rejected", err)
	}
	return nil
}

func (c *Controller) tokenVerifier(ctx context.Context, jwksURL string) (*TokenVerifier, error) {
	c.verifierMu.Lock()
	defer c.verifierMu.Unlock()
	if c.verifier != nil && c.verifierURL == jwksURL {
		return c.verifier, nil
	}
	if c.verifier != nil {
		c.verifier.Close()
		c.verifier = nil
	}
	v, err := NewTokenVerifier(context.WithoutCancel(ctx), jwksURL)
	if err != nil {
		return nil, err
	}
	c.verifier = v
	c.verifierURL = jwksURL
	return v, nil
}

func (c *Controller) post(ctx context.Context, cfg *config.EmbedConfig, endpoint string, form url.Values) (*http.Response, error) {
	ctx, cancel := c.requestContext(ctx, cfg)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-By", "ThoughtSpot")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	// The body must be read before cancel runs.
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(strings.NewReader(string(data)))
	return resp, nil
}

func (c *Controller) requestContext(ctx context.Context, cfg *config.EmbedConfig) (context.Context, context.CancelFunc) {
	timeout := config.DefaultRequestTimeout
	if cfg != nil && cfg.RequestTimeout > 0 {
		timeout = cfg.RequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
