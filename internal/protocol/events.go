package protocol

// Events emitted by the embedded application (or raised locally on its
// behalf) that host code can subscribe to.
const (
	EventAll                = "*"
	EventInit               = "init"
	EventAuthInit           = "authInit"
	EventLoad               = "load"
	EventData               = "data"
	EventError              = "Error"
	EventAlert              = "alert"
	EventAuthExpire         = "ThoughtspotAuthExpired"
	EventIdleSessionTimeout = "IdleSessionTimeout"
	EventAppInit            = "APP_INIT"
	EventListenerReady      = "EmbedListenerReady"
	EventAPIIntercept       = "ApiIntercept"
	EventCustomAction       = "customAction"
	EventRouteChange        = "ROUTE_CHANGE"
	EventDialogOpen         = "dialog-open"
	EventDialogClose        = "dialog-close"
	EventNoCookieAccess     = "noCookieAccess"
	EventParameterChanged   = "parameterChanged"
)

// Commands the host sends into the embedded application.
const (
	HostReload            = "reload"
	HostNavigate          = "Navigate"
	HostSearch            = "search"
	HostPin               = "pin"
	HostDownload          = "downloadAsPdf"
	HostGetTML            = "getTML"
	HostPresent           = "present"
	HostUpdateFilters     = "UpdateRuntimeFilters"
	HostUpdateParameters  = "UpdateParameters"
	HostUpdateEmbedParams = "updateEmbedParams"
	HostDestroyEmbed      = "EmbedDestroyed"
	HostUIPassthrough     = "UiPassthrough"
	HostGetParameters     = "GetParameters"
	HostSetVisibleTabs    = "SetPinboardVisibleTabs"
	HostSetActiveTab      = "SetActiveTab"
	HostSetHiddenTabs     = "SetPinboardHiddenTabs"
	HostInfoSuccess       = "InfoSuccess"
)
