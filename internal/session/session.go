// Package session holds the process-wide embed configuration and the mutable
// authentication state that the auth controller maintains.
package session

import (
	"encoding/json"
	"sync"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/future"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

// Status is the authentication state machine position.
type Status int

const (
	StatusLoggedOut Status = iota
	StatusAuthenticating
	StatusLoggedIn
	StatusExpired
	StatusReauthenticating
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticating:
		return "authenticating"
	case StatusLoggedIn:
		return "logged_in"
	case StatusExpired:
		return "expired"
	case StatusReauthenticating:
		return "reauthenticating"
	default:
		return "logged_out"
	}
}

// Session is the single owner of EmbedConfig and AuthSession state.
// Reads are open to every component; writes to the auth fields are made by
// the auth controller only.
type Session struct {
	mu sync.RWMutex

	cfg       *config.EmbedConfig
	gen       uint64
	initDone  chan struct{}
	initFired bool

	status         Status
	loggedIn       bool
	releaseVersion string
	info           json.RawMessage
	lastToken      string
	popup          *future.Future[bool]
	authFuture     *future.Future[bool]

	subMu  sync.Mutex
	subs   map[uint64]func(Notification)
	nextID uint64
}

// New returns an uninitialised Session.
func New() *Session {
	return &Session{
		initDone: make(chan struct{}),
		subs:     make(map[uint64]func(Notification)),
	}
}

// Init installs cfg and discards all prior authentication state. The
// init-completed signal fires on the first call and stays fired until Reset.
func (s *Session) Init(cfg config.EmbedConfig) {
	c := cfg.WithDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = &c
	s.clearAuthLocked()
	if !s.initFired {
		s.initFired = true
		close(s.initDone)
	}
}

// Reset returns the Session to the uninitialised state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = nil
	s.clearAuthLocked()
	if s.initFired {
		s.initDone = make(chan struct{})
		s.initFired = false
	}
}

func (s *Session) clearAuthLocked() {
	s.gen++
	s.status = StatusLoggedOut
	s.loggedIn = false
	s.releaseVersion = ""
	s.info = nil
	s.lastToken = ""
	s.popup = nil
	s.authFuture = nil
}

// Config returns a copy of the active config, or nil before Init.
func (s *Session) Config() *config.EmbedConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	c := *s.cfg
	return &c
}

// Snapshot returns the active config together with the generation it
// belongs to. The generation advances on Init, Reset and Logout, so a result
// computed for an earlier generation can be recognised and dropped.
func (s *Session) Snapshot() (*config.EmbedConfig, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, s.gen
	}
	c := *s.cfg
	return &c, s.gen
}

// Generation returns the current auth generation.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Initialized reports whether Init has been called since the last Reset.
func (s *Session) Initialized() bool {
	select {
	case <-s.InitDone():
		return true
	default:
		return false
	}
}

// InitDone is closed once Init has completed.
func (s *Session) InitDone() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initDone
}

// SetAuthFuture installs the in-flight authentication result.
func (s *Session) SetAuthFuture(f *future.Future[bool]) {
	s.mu.Lock()
	s.authFuture = f
	s.mu.Unlock()
}

// AuthFuture returns the current authentication result, or nil if none was
// started.
func (s *Session) AuthFuture() *future.Future[bool] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authFuture
}

// IsLoggedIn returns the most recently computed logged-in flag.
func (s *Session) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// Status returns the state machine position.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus moves the state machine. LoggedIn and LoggedOut also update the
// logged-in flag.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(st)
}

// SetStatusIf moves the state machine only while gen is still current and
// reports whether it did.
func (s *Session) SetStatusIf(gen uint64, st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.setStatusLocked(st)
	return true
}

func (s *Session) setStatusLocked(st Status) {
	s.status = st
	switch st {
	case StatusLoggedIn:
		s.loggedIn = true
	case StatusLoggedOut, StatusExpired:
		s.loggedIn = false
	}
}

// ReleaseVersion is the last remote release version seen.
func (s *Session) ReleaseVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.releaseVersion
}

// SetReleaseVersion records the remote release version.
func (s *Session) SetReleaseVersion(v string) {
	s.mu.Lock()
	s.releaseVersion = v
	s.mu.Unlock()
}

// SessionInfo returns the cached session info blob.
func (s *Session) SessionInfo() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// SetSessionInfo caches the session info blob.
func (s *Session) SetSessionInfo(info json.RawMessage) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

// ConsumeToken records token as used. Presenting the same value twice in a
// row fails with ErrDuplicateToken.
func (s *Session) ConsumeToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != "" && token == s.lastToken {
		return sdkerr.ErrDuplicateToken
	}
	s.lastToken = token
	return nil
}

// PopupFuture returns the in-flight SSO popup future, creating it when none
// exists. created is true for the caller that must drive the popup.
func (s *Session) PopupFuture() (f *future.Future[bool], created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popup != nil {
		if _, _, done := s.popup.Peek(); !done {
			return s.popup, false
		}
	}
	s.popup = future.New[bool]()
	return s.popup, true
}

// ClearPopup forgets f if it is still the memoized popup future.
func (s *Session) ClearPopup(f *future.Future[bool]) {
	s.mu.Lock()
	if s.popup == f {
		s.popup = nil
	}
	s.mu.Unlock()
}

// Logout clears the authentication state but keeps the config. The auth
// result is left settled as logged out, so waiters see false rather than a
// missing init.
func (s *Session) Logout() {
	s.mu.Lock()
	cfgKept := s.cfg
	s.clearAuthLocked()
	s.cfg = cfgKept
	if cfgKept != nil {
		s.authFuture = future.Resolved(false, nil)
	}
	s.mu.Unlock()
}
