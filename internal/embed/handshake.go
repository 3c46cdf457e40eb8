package embed

import (
	"context"
	"maps"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

// AppInitPayload is the bootstrap data returned to the embedded app's
// APP_INIT request.
type AppInitPayload struct {
	Customisations           config.Customizations `json:"customisations"`
	AuthToken                string                `json:"authToken,omitempty"`
	ReleaseVersion           string                `json:"releaseVersion,omitempty"`
	HiddenHomepageModules    []string              `json:"hiddenHomepageModules,omitempty"`
	ReorderedHomepageModules []string              `json:"reorderedHomepageModules,omitempty"`
	HiddenHomeLeftNavItems   []string              `json:"hiddenHomeLeftNavItems,omitempty"`
	CustomActions            []CustomAction        `json:"customActions"`
	HostEventsConfig         map[string]any        `json:"hostConfig,omitempty"`
	InterceptURLs            []string              `json:"interceptUrls,omitempty"`
}

func (i *Instance) appInitPayload(ctx context.Context, cfg *config.EmbedConfig) AppInitPayload {
	b := i.view.base()
	p := AppInitPayload{
		Customisations:           mergeCustomizations(cfg.Customizations, b.Customizations),
		ReleaseVersion:           i.sdk.sess.ReleaseVersion(),
		HiddenHomepageModules:    b.HiddenHomepageModules,
		ReorderedHomepageModules: b.ReorderedHomepageModules,
		HiddenHomeLeftNavItems:   b.HiddenHomeLeftNavItems,
		CustomActions:            ValidCustomActions(b.CustomActions),
		HostEventsConfig:         b.HostEventsConfig,
		InterceptURLs:            b.InterceptURLs,
	}
	if cfg.AuthType == config.AuthTrustedAuthTokenCookieless {
		token, err := i.sdk.auth.CookielessToken(ctx, false)
		if err != nil {
			i.report(sdkerr.Wrap(sdkerr.TypeAuth, sdkerr.CodeTokenFetchFailed, "failed to fetch auth token for handshake", err))
		}
		p.AuthToken = token
	}
	return p
}

// mergeCustomizations overlays the view's customizations on the global
// ones; the view wins per key.
func mergeCustomizations(global config.Customizations, view *config.Customizations) config.Customizations {
	out := config.Customizations{
		Style: config.StyleCustomizations{
			CustomCSSURL: global.Style.CustomCSSURL,
			Variables:    maps.Clone(global.Style.Variables),
		},
		Content: config.ContentCustomization{Strings: maps.Clone(global.Content.Strings)},
	}
	if view == nil {
		return out
	}
	if view.Style.CustomCSSURL != "" {
		out.Style.CustomCSSURL = view.Style.CustomCSSURL
	}
	out.Style.Variables = overlay(out.Style.Variables, view.Style.Variables)
	out.Content.Strings = overlay(out.Content.Strings, view.Content.Strings)
	return out
}

func overlay(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}
