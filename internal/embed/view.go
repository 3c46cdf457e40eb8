package embed

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
)

// FrameParams sizes the embedded frame.
type FrameParams struct {
	Width      string
	Height     string
	Attributes map[string]string
}

// RuntimeFilter narrows the embedded content on one column.
type RuntimeFilter struct {
	ColumnName string
	Operator   string
	Values     []any
}

// RuntimeParameter overrides one parameter value.
type RuntimeParameter struct {
	Name  string
	Value any
}

// BaseViewConfig holds the options shared by every embed kind. Nil slices
// are unset; a non-nil slice, even an empty one, is set.
type BaseViewConfig struct {
	// Container is the mount point. Empty means the page body.
	Container       string
	InsertAsSibling bool
	FrameParams     FrameParams

	HiddenActions        []string
	VisibleActions       []string
	DisabledActions      []string
	DisabledActionReason string
	HiddenTabs           []string
	VisibleTabs          []string

	Locale          string
	AdditionalFlags map[string]any
	CustomActions   []CustomAction
	Customizations  *config.Customizations

	HiddenHomepageModules    []string
	ReorderedHomepageModules []string
	HiddenHomeLeftNavItems   []string

	RuntimeFilters    []RuntimeFilter
	RuntimeParameters []RuntimeParameter

	PreRenderID             string
	DoNotTrackPreRenderSize bool
	HostEventsConfig        map[string]any
	InterceptURLs           []string
}

// ViewConfig is one embed kind. The concrete types are AppViewConfig,
// LiveboardViewConfig, SearchViewConfig and SearchBarViewConfig.
type ViewConfig interface {
	base() *BaseViewConfig
	// path is the route inside the embedded app.
	path() string
	// params adds the kind's own query parameters.
	params(q url.Values)
}

// Page is a top-level page of the full application.
type Page string

const (
	PageHome       Page = "home"
	PageSearch     Page = "search"
	PageAnswers    Page = "answers"
	PageLiveboards Page = "pinboards"
	PageData       Page = "data"
	PageSpotIQ     Page = "insights/results"
)

// AppViewConfig embeds the full application.
type AppViewConfig struct {
	BaseViewConfig

	PageID                Page
	Path                  string
	ShowPrimaryNavbar     bool
	DisableProfileAndHelp bool
	HideObjectSearch      bool
	Tag                   string
}

func (c *AppViewConfig) base() *BaseViewConfig { return &c.BaseViewConfig }

func (c *AppViewConfig) path() string {
	if c.Path != "" {
		return "/" + strings.TrimLeft(c.Path, "/")
	}
	if c.PageID != "" {
		return "/" + string(c.PageID)
	}
	return "/" + string(PageHome)
}

func (c *AppViewConfig) params(q url.Values) {
	q.Set("primaryNavHidden", strconv.FormatBool(!c.ShowPrimaryNavbar))
	q.Set("profileAndHelpInNavBarHidden", strconv.FormatBool(c.DisableProfileAndHelp))
	if c.HideObjectSearch {
		q.Set("hideObjectSearch", "true")
	}
	if c.Tag != "" {
		q.Set("tag", c.Tag)
	}
}

// LiveboardViewConfig embeds one liveboard, or one visualization on it.
type LiveboardViewConfig struct {
	BaseViewConfig

	LiveboardID              string
	VizID                    string
	ActiveTabID              string
	FullHeight               bool
	EnableVizTransformations bool
}

func (c *LiveboardViewConfig) base() *BaseViewConfig { return &c.BaseViewConfig }

func (c *LiveboardViewConfig) path() string {
	p := "/embed/viz/" + c.LiveboardID
	if c.VizID != "" {
		p += "/" + c.VizID
	} else if c.ActiveTabID != "" {
		p += "/tab/" + c.ActiveTabID
	}
	return p
}

func (c *LiveboardViewConfig) params(q url.Values) {
	if c.FullHeight {
		q.Set("isLiveboardHeightDynamic", "true")
	}
	if c.EnableVizTransformations {
		q.Set("enableVizTransform", "true")
	}
}

// SearchViewConfig embeds the search experience.
type SearchViewConfig struct {
	BaseViewConfig

	AnswerID            string
	DataSources         []string
	SearchQuery         string
	ExecuteSearch       bool
	CollapseDataSources bool
}

func (c *SearchViewConfig) base() *BaseViewConfig { return &c.BaseViewConfig }

func (c *SearchViewConfig) path() string {
	if c.AnswerID != "" {
		return "/embed/saved-answer/" + c.AnswerID
	}
	return "/answer"
}

func (c *SearchViewConfig) params(q url.Values) {
	if c.DataSources != nil {
		q.Set("dataSources", jsonList(c.DataSources))
	}
	if c.SearchQuery != "" {
		q.Set("searchTokenString", c.SearchQuery)
		if c.ExecuteSearch {
			q.Set("executeSearch", "true")
		}
	}
	if c.CollapseDataSources {
		q.Set("dataSourceMode", "collapse")
	}
}

// SearchBarViewConfig embeds the search bar alone.
type SearchBarViewConfig struct {
	BaseViewConfig

	DataSource  string
	SearchQuery string
}

func (c *SearchBarViewConfig) base() *BaseViewConfig { return &c.BaseViewConfig }

func (c *SearchBarViewConfig) path() string { return "/embed/search-bar-embed" }

func (c *SearchBarViewConfig) params(q url.Values) {
	if c.DataSource != "" {
		q.Set("dataSources", jsonList([]string{c.DataSource}))
	}
	if c.SearchQuery != "" {
		q.Set("searchTokenString", c.SearchQuery)
	}
}

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}
