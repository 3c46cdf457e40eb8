// Package config provides the embed configuration and its loader.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

// AuthType selects the authentication strategy.
type AuthType string

const (
	AuthNone                       AuthType = "None"
	AuthBasic                      AuthType = "Basic"
	AuthSSO                        AuthType = "SSO_SAML"
	AuthOIDC                       AuthType = "SSO_OIDC"
	AuthTrustedAuthToken           AuthType = "AuthServer"
	AuthTrustedAuthTokenCookieless AuthType = "AuthServerCookieless"
	AuthEmbeddedSSO                AuthType = "EmbeddedSSO"

	// AuthServer is the older name of AuthTrustedAuthToken.
	AuthServer = AuthTrustedAuthToken
)

// AuthTypes lists every accepted strategy.
var AuthTypes = []AuthType{
	AuthNone,
	AuthBasic,
	AuthSSO,
	AuthOIDC,
	AuthTrustedAuthToken,
	AuthTrustedAuthTokenCookieless,
	AuthEmbeddedSSO,
}

// Valid reports whether a is a known strategy.
func (a AuthType) Valid() bool {
	for _, t := range AuthTypes {
		if a == t {
			return true
		}
	}
	return false
}

// UsesToken reports whether the strategy needs a token source.
func (a AuthType) UsesToken() bool {
	return a == AuthTrustedAuthToken || a == AuthTrustedAuthTokenCookieless
}

// TokenProvider mints a fresh auth token for the current user.
type TokenProvider func(ctx context.Context) (string, error)

// Customizations are style and text overrides sent to the embedded app.
type Customizations struct {
	Style   StyleCustomizations  `json:"style,omitempty"`
	Content ContentCustomization `json:"content,omitempty"`
}

// StyleCustomizations holds CSS variable overrides.
type StyleCustomizations struct {
	CustomCSSURL string            `json:"customCSSUrl,omitempty"`
	Variables    map[string]string `json:"customCSS,omitempty"`
}

// ContentCustomization holds string replacements.
type ContentCustomization struct {
	Strings map[string]string `json:"strings,omitempty"`
}

// IsZero reports whether no customization is set.
func (c Customizations) IsZero() bool {
	return c.Style.CustomCSSURL == "" && len(c.Style.Variables) == 0 && len(c.Content.Strings) == 0
}

// EmbedConfig holds the process-wide configuration given to Init.
type EmbedConfig struct {
	// Remote host
	ThoughtSpotHost string

	// Authentication
	AuthType             AuthType
	GetAuthToken         TokenProvider
	AuthEndpoint         string
	Username             string
	Password             string
	NoRedirect           bool
	InPopup              bool
	RedirectPath         string
	AutoLogin            *bool
	TokenJWKSURL         string
	AuthTriggerContainer string
	AuthTriggerText      string

	// Behaviour flags
	DetectCookieAccessSlow     bool
	WaitForCleanupOnDestroy    bool
	CleanupTimeout             time.Duration
	ShouldEncodeURLQueryParams bool
	DisablePreauthCache        bool
	OverrideOrgID              int
	LoginFailedMessage         string
	SuppressErrorAlerts        bool
	LogLevel                   string
	AdditionalFlags            map[string]any
	Customizations             Customizations

	// Error forwarding
	ErrorReportURL   string
	ErrorReportToken string

	// Timeouts
	RequestTimeout       time.Duration
	TriggerTimeout       time.Duration
	FrameLoadTimeout     time.Duration
	NetworkProbeInterval time.Duration
}

const (
	DefaultCleanupTimeout     = 5 * time.Second
	DefaultRequestTimeout     = 15 * time.Second
	DefaultTriggerTimeout     = 30 * time.Second
	DefaultFrameLoadTimeout   = 30 * time.Second
	DefaultLoginFailedMessage = "Not logged in"
	DefaultAuthTriggerText    = "Authorize"
)

// IsAutoLogin applies the auto-login policy: cookieless token auth defaults
// to true, every other strategy to false, and an explicit value wins.
func (c *EmbedConfig) IsAutoLogin() bool {
	if c.AutoLogin != nil {
		return *c.AutoLogin
	}
	return c.AuthType == AuthTrustedAuthTokenCookieless
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c EmbedConfig) WithDefaults() EmbedConfig {
	if c.AuthType == "" {
		c.AuthType = AuthNone
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = DefaultCleanupTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.TriggerTimeout == 0 {
		c.TriggerTimeout = DefaultTriggerTimeout
	}
	if c.FrameLoadTimeout <= 0 {
		c.FrameLoadTimeout = DefaultFrameLoadTimeout
	}
	if c.LoginFailedMessage == "" {
		c.LoginFailedMessage = DefaultLoginFailedMessage
	}
	if c.AuthTriggerText == "" {
		c.AuthTriggerText = DefaultAuthTriggerText
	}
	c.ThoughtSpotHost = NormalizeHost(c.ThoughtSpotHost)
	return c
}

// Validate checks the fields Init cannot proceed without.
func (c *EmbedConfig) Validate() error {
	if strings.TrimSpace(c.ThoughtSpotHost) == "" {
		return sdkerr.Validation(sdkerr.CodeInvalidHost, "thoughtSpotHost is required")
	}
	u, err := url.Parse(NormalizeHost(c.ThoughtSpotHost))
	if err != nil || u.Host == "" {
		return sdkerr.Wrap(sdkerr.TypeValidation, sdkerr.CodeInvalidHost,
			fmt.Sprintf("invalid thoughtSpotHost %q", c.ThoughtSpotHost), err)
	}
	if c.AuthType != "" && !c.AuthType.Valid() {
		return sdkerr.Validation(sdkerr.CodeInvalidAuthType, fmt.Sprintf("invalid authType %q", c.AuthType))
	}
	if c.AuthType.UsesToken() && c.AuthEndpoint == "" && c.GetAuthToken == nil {
		return sdkerr.ErrMissingTokenSource
	}
	if c.AuthEndpoint != "" {
		if _, err := url.ParseRequestURI(c.AuthEndpoint); err != nil {
			return sdkerr.Wrap(sdkerr.TypeValidation, sdkerr.CodeInvalidConfig,
				fmt.Sprintf("invalid authEndpoint %q", c.AuthEndpoint), err)
		}
	}
	if c.ErrorReportURL != "" {
		if _, err := url.ParseRequestURI(c.ErrorReportURL); err != nil {
			return sdkerr.Wrap(sdkerr.TypeValidation, sdkerr.CodeInvalidConfig,
				fmt.Sprintf("invalid errorReportUrl %q", c.ErrorReportURL), err)
		}
	}
	if c.TriggerTimeout < 0 {
		return sdkerr.Validation(sdkerr.CodeInvalidConfig, "triggerTimeout must not be negative")
	}
	return nil
}

// NormalizeHost trims the host and adds an https scheme when none is given.
func NormalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host
}

// Load builds an EmbedConfig from EMBED_* environment variables and, when
// path is not empty, a config file whose format follows its extension.
func Load(path string) (*EmbedConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("EMBED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("auth_type", string(AuthNone))
	v.SetDefault("cleanup_timeout", DefaultCleanupTimeout)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("trigger_timeout", DefaultTriggerTimeout)
	v.SetDefault("frame_load_timeout", DefaultFrameLoadTimeout)
	v.SetDefault("login_failed_message", DefaultLoginFailedMessage)
	v.SetDefault("auth_trigger_text", DefaultAuthTriggerText)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &EmbedConfig{
		ThoughtSpotHost:            v.GetString("thoughtspot_host"),
		AuthType:                   AuthType(v.GetString("auth_type")),
		AuthEndpoint:               v.GetString("auth_endpoint"),
		Username:                   v.GetString("username"),
		Password:                   v.GetString("password"),
		NoRedirect:                 v.GetBool("no_redirect"),
		InPopup:                    v.GetBool("in_popup"),
		RedirectPath:               v.GetString("redirect_path"),
		TokenJWKSURL:               v.GetString("token_jwks_url"),
		AuthTriggerContainer:       v.GetString("auth_trigger_container"),
		AuthTriggerText:            v.GetString("auth_trigger_text"),
		DetectCookieAccessSlow:     v.GetBool("detect_cookie_access_slow"),
		WaitForCleanupOnDestroy:    v.GetBool("wait_for_cleanup_on_destroy"),
		CleanupTimeout:             v.GetDuration("cleanup_timeout"),
		ShouldEncodeURLQueryParams: v.GetBool("should_encode_url_query_params"),
		DisablePreauthCache:        v.GetBool("disable_preauth_cache"),
		OverrideOrgID:              v.GetInt("override_org_id"),
		LoginFailedMessage:         v.GetString("login_failed_message"),
		SuppressErrorAlerts:        v.GetBool("suppress_error_alerts"),
		LogLevel:                   v.GetString("log_level"),
		RequestTimeout:             v.GetDuration("request_timeout"),
		TriggerTimeout:             v.GetDuration("trigger_timeout"),
		FrameLoadTimeout:           v.GetDuration("frame_load_timeout"),
		NetworkProbeInterval:       v.GetDuration("network_probe_interval"),
		ErrorReportURL:             v.GetString("error_report_url"),
		ErrorReportToken:           v.GetString("error_report_token"),
	}
	if v.IsSet("auto_login") {
		autoLogin := v.GetBool("auto_login")
		cfg.AutoLogin = &autoLogin
	}
	if flags := v.GetStringMap("additional_flags"); len(flags) > 0 {
		cfg.AdditionalFlags = flags
	}
	if vars := v.GetStringMapString("customizations.style.variables"); len(vars) > 0 {
		cfg.Customizations.Style.Variables = vars
	}
	cfg.Customizations.Style.CustomCSSURL = v.GetString("customizations.style.custom_css_url")
	if strs := v.GetStringMapString("customizations.content.strings"); len(strs) > 0 {
		cfg.Customizations.Content.Strings = strs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
