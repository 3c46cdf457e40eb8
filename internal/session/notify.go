package session

import (
	"log/slog"
)

// AuthEvent names an authentication status notification.
type AuthEvent string

const (
	AuthEventSuccess           AuthEvent = "SDK_SUCCESS"
	AuthEventFailure           AuthEvent = "FAILURE"
	AuthEventLogout            AuthEvent = "LOGOUT"
	AuthEventWaitingForPopup   AuthEvent = "WAITING_FOR_POPUP"
	AuthEventPopupClosedNoAuth AuthEvent = "SAML_POPUP_CLOSED_NO_AUTH"
)

// FailureType refines AuthEventFailure.
type FailureType string

const (
	FailureSDK                FailureType = "SDK"
	FailureNoCookieAccess     FailureType = "NO_COOKIE_ACCESS"
	FailureExpiry             FailureType = "EXPIRY"
	FailureIdleSessionTimeout FailureType = "IDLE_SESSION_TIMEOUT"
	FailureOther              FailureType = "OTHER"
)

// Notification is delivered to auth subscribers.
type Notification struct {
	Event   AuthEvent
	Failure FailureType
	Err     error
}

// Subscribe registers fn for auth notifications and returns its
// unsubscribe handle.
func (s *Session) Subscribe(fn func(Notification)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Notify delivers n to every subscriber synchronously.
func (s *Session) Notify(n Notification) {
	s.subMu.Lock()
	fns := make([]func(Notification), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	if n.Event == AuthEventFailure {
		slog.Warn("Auth failure", "failureType", n.Failure, "error", n.Err)
	}
	for _, fn := range fns {
		fn(n)
	}
}

// NotifyFailure is shorthand for an AuthEventFailure notification.
func (s *Session) NotifyFailure(ft FailureType, err error) {
	s.Notify(Notification{Event: AuthEventFailure, Failure: ft, Err: err})
}
