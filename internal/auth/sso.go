package auth

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/future"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/session"
)

func (c *Controller) doSamlAuth(ctx context.Context, cfg *config.EmbedConfig) (bool, error) {
	return c.doSSOAuth(ctx, cfg, EndpointSAMLLogin)
}

func (c *Controller) doOIDCAuth(ctx context.Context, cfg *config.EmbedConfig) (bool, error) {
	return c.doSSOAuth(ctx, cfg, EndpointOIDCLogin)
}

// SSOLoginURL builds the provider login address for the given flow.
func SSOLoginURL(cfg *config.EmbedConfig, loginPath, pageURL string) string {
	var target string
	if usesPopup(cfg) {
		target = cfg.ThoughtSpotHost + SSOCompletePath
	} else {
		target = RedirectURL(pageURL, cfg.RedirectPath)
	}
	return cfg.ThoughtSpotHost + loginPath + "?targeturl=" + url.QueryEscape(target)
}

func usesPopup(cfg *config.EmbedConfig) bool {
	return cfg.NoRedirect || cfg.InPopup
}

func (c *Controller) doSSOAuth(ctx context.Context, cfg *config.EmbedConfig, loginPath string) (bool, error) {
	current := c.page.URL()
	returned := HasSSOMarker(current)

	if c.IsLoggedIn(ctx, cfg.ThoughtSpotHost) {
		if returned {
			c.clearMarker(current)
		}
		return true, nil
	}
	// A return from the provider that still has no session means the
	// attempt failed; do not loop back into the provider.
	if returned {
		c.clearMarker(current)
		return false, nil
	}

	ssoURL := SSOLoginURL(cfg, loginPath, current)
	if usesPopup(cfg) {
		return c.samlPopupFlow(ctx, cfg, ssoURL)
	}
	if err := c.page.Navigate(ssoURL); err != nil {
		return false, sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeLoginFailed, "SSO redirect failed", err)
	}
	return false, nil
}

func (c *Controller) clearMarker(current string) {
	if err := c.page.ReplaceURL(StripSSOMarker(current)); err != nil {
		slog.Warn("Failed to strip SSO marker", "error", err)
	}
}

// samlPopupFlow waits for the user to complete SSO in a popup. Concurrent
// callers share one popup through the session's popup future.
func (c *Controller) samlPopupFlow(ctx context.Context, cfg *config.EmbedConfig, ssoURL string) (bool, error) {
	f, created := c.sess.PopupFuture()
	if created {
		go c.drivePopup(context.WithoutCancel(ctx), cfg, ssoURL, f)
	}
	if _, err := f.Wait(ctx); err != nil {
		return false, err
	}
	return c.IsLoggedIn(ctx, cfg.ThoughtSpotHost), nil
}

func (c *Controller) drivePopup(ctx context.Context, cfg *config.EmbedConfig, ssoURL string, f *future.Future[bool]) {
	defer c.sess.ClearPopup(f)

	c.sess.Notify(session.Notification{Event: session.AuthEventWaitingForPopup})
	if err := c.page.AwaitGesture(ctx, cfg.AuthTriggerContainer, cfg.AuthTriggerText); err != nil {
		f.Resolve(false, sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeLoginFailed, "SSO trigger failed", err))
		return
	}

	w, err := c.page.OpenWindow(ssoURL)
	if err != nil {
		f.Resolve(false, sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeLoginFailed, "SSO popup could not be opened", err))
		return
	}

	select {
	case <-w.Completed():
		if err := w.Close(); err != nil {
			slog.Debug("SSO popup close failed", "error", err)
		}
		f.Resolve(true, nil)
	case <-w.Closed():
		c.sess.Notify(session.Notification{Event: session.AuthEventPopupClosedNoAuth})
		f.Resolve(false, nil)
	}
}
