package embed

import (
	"context"
	"errors"
	"time"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/router"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/session"
)

// authInitSettleDelay is how long the legacy AuthInit readiness signal waits
// before it is honored.
var authInitSettleDelay = time.Second

// registerReserved installs the handlers that must exist before any user
// handler.
func (i *Instance) registerReserved() {
	i.router.On(protocol.EventAppInit, i.handleAppInit)
	i.router.On(protocol.EventAuthExpire, i.handleSessionLoss(session.FailureExpiry))
	i.router.On(protocol.EventIdleSessionTimeout, i.handleSessionLoss(session.FailureIdleSessionTimeout))
	i.router.On(protocol.EventListenerReady, func(protocol.Message, router.Responder) { i.markReady() })
	i.router.On(protocol.EventAuthInit, i.handleAuthInit)
	i.router.On(protocol.EventAPIIntercept, i.handleAPIIntercept)
	i.router.On(protocol.EventNoCookieAccess, func(protocol.Message, router.Responder) {
		i.sdk.sess.NotifyFailure(session.FailureNoCookieAccess, nil)
	})
}

// markReady drains the readiness queue, and records readiness on a shared
// prerender slot so instances connecting later inherit it.
func (i *Instance) markReady() {
	i.mu.Lock()
	slot := i.slot
	i.mu.Unlock()
	if slot != nil {
		slot.MarkReady()
	}
	i.router.MarkReady()
}

func (i *Instance) handleAuthInit(protocol.Message, router.Responder) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.settle != nil || i.state == StateDestroyed {
		return
	}
	i.settle = time.AfterFunc(authInitSettleDelay, i.markReady)
}

func (i *Instance) handleAppInit(msg protocol.Message, reply router.Responder) {
	go func() {
		cfg := i.sdk.sess.Config()
		if cfg == nil {
			i.log.Warn("Handshake before init")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		i.respond(reply, protocol.EventAppInit, i.appInitPayload(ctx, cfg))
	}()
}

// handleSessionLoss raises the auth failure notification and, under
// auto-login, refreshes credentials and answers with them.
func (i *Instance) handleSessionLoss(ft session.FailureType) router.Handler {
	return func(msg protocol.Message, reply router.Responder) {
		i.sdk.sess.NotifyFailure(ft, nil)
		cfg := i.sdk.sess.Config()
		if cfg == nil || !cfg.IsAutoLogin() {
			return
		}
		go i.refreshAuth(cfg, msg.Type, reply)
	}
}

func (i *Instance) refreshAuth(cfg *config.EmbedConfig, msgType string, reply router.Responder) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	if cfg.AuthType == config.AuthTrustedAuthTokenCookieless {
		token, err := i.sdk.auth.CookielessToken(ctx, true)
		if err != nil {
			i.report(sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeTokenFetchFailed, "failed to refresh auth token", err))
			return
		}
		i.respond(reply, msgType, map[string]any{"authToken": token})
		return
	}

	ok, err := i.sdk.auth.Reauthenticate(ctx)
	if err != nil || !ok {
		if err == nil {
			err = sdkerr.ErrLoginFailed
		}
		i.report(sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeLoginFailed, "re-authentication failed", err))
		return
	}
	i.respond(reply, msgType, map[string]any{"loggedIn": true})
}

func (i *Instance) handleAPIIntercept(msg protocol.Message, reply router.Responder) {
	hook := i.sdk.interceptor
	go func() {
		out := msg.Data
		if hook != nil {
			cfg := i.sdk.sess.Config()
			timeout := config.DefaultRequestTimeout
			if cfg != nil {
				timeout = cfg.RequestTimeout
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			res, err := hook(ctx, msg.Data)
			if err != nil {
				i.log.Warn("API intercept hook failed", "error", err)
				i.respond(reply, protocol.EventAPIIntercept, map[string]any{"error": err.Error()})
				return
			}
			out = res
		}
		i.respond(reply, protocol.EventAPIIntercept, out)
	}()
}

// respond answers on the message's private channel.
func (i *Instance) respond(reply router.Responder, msgType string, data any) {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		i.log.Error("Failed to build reply", "type", msgType, "error", err)
		return
	}
	if err := reply(msg); err != nil {
		if errors.Is(err, router.ErrNoReplyChannel) {
			i.log.Debug("Message expected a reply but carried no channel", "type", msgType)
			return
		}
		i.log.Warn("Failed to send reply", "type", msgType, "error", err)
	}
}
