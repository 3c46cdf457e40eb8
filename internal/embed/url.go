package embed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
)

// Query parameter names understood by the embedded app.
const (
	paramEmbedApp          = "embedApp"
	paramHostAppURL        = "hostAppUrl"
	paramSDKVersion        = "sdkVersion"
	paramAuthType          = "authType"
	paramBlockFullApp      = "blockNonEmbedFullAppAccess"
	paramHideActions       = "hideAction"
	paramVisibleActions    = "visibleAction"
	paramDisableActions    = "disableAction"
	paramDisableHint       = "disableHint"
	paramHideTabs          = "hideTabs"
	paramVisibleTabs       = "visibleTabs"
	paramLocale            = "locale"
	paramForceSAMLRedirect = "forceSAMLAutoRedirect"
	paramOverrideOrgID     = "overrideOrgId"
	paramPreauthCache      = "preAuthCache"
	paramEncodedFlags      = "base64UrlEncodedFlags"
)

// PreauthPolicy decides whether the embedded app may serve from its
// pre-authentication cache.
type PreauthPolicy func(cfg *config.EmbedConfig, v ViewConfig) bool

// DefaultPreauthPolicy disables the cache when it is switched off
// explicitly, when an org override is active, and for the full app with its
// primary navigation shown.
func DefaultPreauthPolicy(cfg *config.EmbedConfig, v ViewConfig) bool {
	if cfg.DisablePreauthCache || cfg.OverrideOrgID != 0 {
		return false
	}
	if app, ok := v.(*AppViewConfig); ok && app.ShowPrimaryNavbar {
		return false
	}
	return true
}

// frameQuery collects every query parameter of the frame address.
func frameQuery(cfg *config.EmbedConfig, v ViewConfig, hostAppURL string, preauth bool) url.Values {
	b := v.base()
	q := url.Values{}
	q.Set(paramEmbedApp, "true")
	q.Set(paramHostAppURL, hostAppURL)
	q.Set(paramSDKVersion, SDKVersion)
	q.Set(paramAuthType, string(cfg.AuthType))
	q.Set(paramBlockFullApp, "true")

	if b.HiddenActions != nil {
		q.Set(paramHideActions, jsonList(b.HiddenActions))
	}
	if b.VisibleActions != nil {
		q.Set(paramVisibleActions, jsonList(b.VisibleActions))
	}
	if b.DisabledActions != nil {
		q.Set(paramDisableActions, jsonList(b.DisabledActions))
		if b.DisabledActionReason != "" {
			q.Set(paramDisableHint, b.DisabledActionReason)
		}
	}
	if b.HiddenTabs != nil {
		q.Set(paramHideTabs, jsonList(b.HiddenTabs))
	}
	if b.VisibleTabs != nil {
		q.Set(paramVisibleTabs, jsonList(b.VisibleTabs))
	}
	if b.Locale != "" {
		q.Set(paramLocale, b.Locale)
	}

	for i, f := range b.RuntimeFilters {
		n := strconv.Itoa(i + 1)
		q.Set("col"+n, f.ColumnName)
		q.Set("op"+n, f.Operator)
		for _, val := range f.Values {
			q.Add("val"+n, flagValue(val))
		}
	}
	for i, p := range b.RuntimeParameters {
		n := strconv.Itoa(i + 1)
		q.Set("param"+n, p.Name)
		q.Set("paramVal"+n, flagValue(p.Value))
	}

	if cfg.AuthType == config.AuthEmbeddedSSO {
		q.Set(paramForceSAMLRedirect, "true")
	}
	if cfg.OverrideOrgID != 0 {
		q.Set(paramOverrideOrgID, strconv.Itoa(cfg.OverrideOrgID))
	}
	if !preauth {
		q.Set(paramPreauthCache, "false")
	}

	v.params(q)

	for k, val := range cfg.AdditionalFlags {
		q.Set(k, flagValue(val))
	}
	for k, val := range b.AdditionalFlags {
		q.Set(k, flagValue(val))
	}
	return q
}

// FrameURL returns the address the embedded frame is loaded from:
// {host}/?{params}#{path}.
func FrameURL(cfg *config.EmbedConfig, v ViewConfig, hostAppURL string, preauth bool) string {
	q := frameQuery(cfg, v, hostAppURL, preauth)
	query := q.Encode()
	if cfg.ShouldEncodeURLQueryParams {
		query = paramEncodedFlags + "=" + base64.RawURLEncoding.EncodeToString([]byte(query))
	}
	return cfg.ThoughtSpotHost + "/?" + query + "#" + v.path()
}

// embedParams is the view's parameter set as compared when a prerendered
// frame is reused.
func embedParams(cfg *config.EmbedConfig, v ViewConfig, hostAppURL string, preauth bool) map[string]any {
	q := frameQuery(cfg, v, hostAppURL, preauth)
	q.Del(paramHostAppURL)
	out := make(map[string]any, len(q)+1)
	for k, vals := range q {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	out["path"] = v.path()
	return out
}

func flagValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int, int32, int64, float32, float64:
		return fmt.Sprint(t)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
