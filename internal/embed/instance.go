package embed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/connectivity"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/hostevent"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/logging"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/prerender"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/router"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

const (
	frameName    = "ThoughtSpot Embedded Analytics"
	defaultSize  = "100%"
	framePrefix  = "tsEmbed-"
	initWaitTime = 30 * time.Second
)

// State is an instance's lifecycle position.
type State int

const (
	StateUnrendered State = iota
	StateWaitingForInit
	StateWaitingForAuth
	StateFailed
	StateReady
	StatePrerenderedHidden
	StatePrerenderedVisible
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateWaitingForInit:
		return "waiting_for_init"
	case StateWaitingForAuth:
		return "waiting_for_auth"
	case StateFailed:
		return "failed"
	case StateReady:
		return "ready"
	case StatePrerenderedHidden:
		return "prerendered_hidden"
	case StatePrerenderedVisible:
		return "prerendered_visible"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unrendered"
	}
}

// Instance is one embed object: its view, its frame and its handlers.
type Instance struct {
	sdk    *SDK
	id     string
	view   ViewConfig
	log    *slog.Logger
	router *router.Router
	events *hostevent.Client

	mu       sync.Mutex
	state    State
	frame    frame.Frame
	slot     *prerender.Slot
	err      error
	unsubNet func()
	settle   *time.Timer
}

// NewEmbed creates an instance for view. Reserved protocol handlers are
// registered before it is returned.
func (s *SDK) NewEmbed(view ViewConfig) *Instance {
	id := uuid.NewString()
	i := &Instance{
		sdk:    s,
		id:     id,
		view:   view,
		log:    logging.Component("embed").With("instance", id),
		router: router.New(id),
	}
	i.events = hostevent.New(hostevent.FrameProviderFunc(i.LiveFrame), 0)
	i.registerReserved()
	return i
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id }

// View returns the instance's view configuration.
func (i *Instance) View() ViewConfig { return i.view }

// State returns the lifecycle position.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the error that failed the instance, if any.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// LiveFrame returns the instance's frame while it holds one.
func (i *Instance) LiveFrame() (frame.Frame, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.frame == nil || i.state == StateDestroyed {
		return nil, false
	}
	return i.frame, true
}

// setState moves the instance to st. Nothing leaves StateDestroyed.
func (i *Instance) setState(st State) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateDestroyed {
		return false
	}
	i.state = st
	return true
}

func (i *Instance) destroyed() bool {
	return i.State() == StateDestroyed
}

// On registers h for messages of eventType.
func (i *Instance) On(eventType string, h router.Handler, opts ...router.Options) *router.Subscription {
	return i.router.On(eventType, h, opts...)
}

// Off removes a registration made with On.
func (i *Instance) Off(eventType string, sub *router.Subscription) {
	i.router.Off(eventType, sub)
}

// Trigger sends a host event into the frame and returns the reply payload.
func (i *Instance) Trigger(ctx context.Context, eventType string, payload any) (json.RawMessage, error) {
	return i.TriggerInContext(ctx, eventType, payload, "")
}

// TriggerInContext is Trigger scoped to a context type inside the embedded
// app, such as a particular visualization.
func (i *Instance) TriggerInContext(ctx context.Context, eventType string, payload any, contextType string) (json.RawMessage, error) {
	if i.destroyed() {
		return nil, sdkerr.ErrDestroyed
	}
	ctx, cancel, err := i.triggerContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return i.events.Trigger(ctx, eventType, payload, contextType)
}

// TriggerUIPassThrough invokes apiName inside the embedded app.
func (i *Instance) TriggerUIPassThrough(ctx context.Context, apiName string, params any) ([]hostevent.PassThroughResult, error) {
	if i.destroyed() {
		return nil, sdkerr.ErrDestroyed
	}
	ctx, cancel, err := i.triggerContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return i.events.TriggerUIPassThrough(ctx, apiName, params)
}

func (i *Instance) triggerContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	cfg := i.sdk.sess.Config()
	if cfg == nil {
		return nil, nil, sdkerr.ErrInitRequired
	}
	if _, ok := ctx.Deadline(); !ok && cfg.TriggerTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, cfg.TriggerTimeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// validateView rejects option combinations the embedded app cannot honor.
func validateView(v ViewConfig) error {
	b := v.base()
	if b.HiddenActions != nil && b.VisibleActions != nil {
		return sdkerr.ErrConflictingActions
	}
	if b.HiddenTabs != nil && b.VisibleTabs != nil {
		return sdkerr.ErrConflictingTabs
	}
	return nil
}

// Render places the instance's frame. It waits for init, then for auth,
// then for its render queue turn. On auth failure the login-failed message
// replaces the frame and no listener is attached.
func (i *Instance) Render(ctx context.Context) error {
	if i.destroyed() {
		return sdkerr.ErrDestroyed
	}
	if err := validateView(i.view); err != nil {
		i.fail(err)
		return err
	}

	t := i.sdk.queue.enqueue()
	cfg, err := i.awaitSession(ctx)
	if err != nil {
		t.release()
		return err
	}
	if err := t.wait(ctx); err != nil {
		t.release()
		return err
	}

	f, err := i.mount(ctx, cfg)
	if err != nil {
		t.release()
		if !errors.Is(err, sdkerr.ErrDestroyed) {
			i.fail(err)
		}
		return err
	}
	go i.holdQueue(t, f, cfg.FrameLoadTimeout)
	return nil
}

// awaitSession waits for the init signal and the auth result.
func (i *Instance) awaitSession(ctx context.Context) (*config.EmbedConfig, error) {
	sess := i.sdk.sess
	i.setState(StateWaitingForInit)
	if !sess.Initialized() {
		waitCtx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, initWaitTime)
			defer cancel()
		}
		select {
		case <-sess.InitDone():
		case <-waitCtx.Done():
			i.fail(sdkerr.ErrInitRequired)
			return nil, sdkerr.ErrInitRequired
		}
	}

	i.setState(StateWaitingForAuth)
	cfg := sess.Config()
	if cfg == nil {
		i.fail(sdkerr.ErrInitRequired)
		return nil, sdkerr.ErrInitRequired
	}

	var (
		loggedIn bool
		authErr  error
	)
	if f := sess.AuthFuture(); f != nil {
		loggedIn, authErr = f.Wait(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if loggedIn {
		return cfg, nil
	}

	if err := i.sdk.host.ShowMessage(i.view.base().Container, cfg.LoginFailedMessage); err != nil {
		i.log.Warn("Failed to show login failure message", "error", err)
	}
	loginErr := error(sdkerr.ErrLoginFailed)
	if authErr != nil {
		loginErr = sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeLoginFailed, sdkerr.MsgLoginFailed, authErr)
	}
	i.fail(loginErr)
	return nil, loginErr
}

// mount creates the frame, replaces any earlier one, inserts it and only
// then subscribes the router.
func (i *Instance) mount(ctx context.Context, cfg *config.EmbedConfig) (frame.Frame, error) {
	b := i.view.base()
	spec := i.frameSpec(framePrefix+uuid.NewString(), FrameURL(cfg, i.view, i.sdk.hostAppURL, i.sdk.preauth(cfg, i.view)))
	f, err := i.sdk.host.CreateFrame(ctx, spec)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeFrameLoadFailed, "failed to create frame", err)
	}

	i.mu.Lock()
	old := i.frame
	i.frame = nil
	i.mu.Unlock()
	i.router.Unlisten()
	i.router.ResetReady()
	if old != nil {
		if err := old.Remove(); err != nil {
			i.log.Debug("Previous frame already removed", "frame", old.ID(), "error", err)
		}
	}

	pos := frame.InsertInside
	if b.InsertAsSibling {
		pos = frame.InsertAfter
	}
	if err := i.sdk.host.Insert(b.Container, pos, f); err != nil {
		_ = f.Remove()
		return nil, sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeFrameLoadFailed, "failed to insert frame", err)
	}

	i.mu.Lock()
	if i.state == StateDestroyed {
		i.mu.Unlock()
		_ = f.Remove()
		return nil, sdkerr.ErrDestroyed
	}
	i.frame = f
	i.state = StateReady
	i.err = nil
	i.mu.Unlock()

	i.router.Listen(f)
	i.watchNetwork()
	i.log.Info("Embed rendered", "frame", f.ID())
	return f, nil
}

func (i *Instance) frameSpec(id, src string) frame.Spec {
	fp := i.view.base().FrameParams
	spec := frame.Spec{
		ID:         id,
		Src:        src,
		Name:       frameName,
		Width:      fp.Width,
		Height:     fp.Height,
		Attributes: fp.Attributes,
	}
	if spec.Width == "" {
		spec.Width = defaultSize
	}
	if spec.Height == "" {
		spec.Height = defaultSize
	}
	return spec
}

// holdQueue keeps the render queue turn until f fires load or error, or
// until timeout so one stuck frame cannot stall every other render.
func (i *Instance) holdQueue(t *ticket, f frame.Frame, timeout time.Duration) {
	defer t.release()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.Done():
		if err := f.Err(); err != nil {
			i.fail(sdkerr.Wrap(sdkerr.TypeNetwork, sdkerr.CodeFrameLoadFailed, "embedded frame failed to load", err))
			return
		}
		i.router.Emit(protocol.EventLoad, map[string]any{"frame": f.ID()})
	case <-timer.C:
		i.log.Warn("Frame did not load in time; releasing render queue", "frame", f.ID(), "timeout", timeout)
	}
}

// fail marks the instance errored and reports err.
func (i *Instance) fail(err error) {
	i.mu.Lock()
	if i.state != StateDestroyed {
		i.state = StateFailed
		i.err = err
	}
	i.mu.Unlock()
	i.report(err)
}

// report delivers err to the instance's Error handlers without changing
// its state.
func (i *Instance) report(err error) {
	e, ok := sdkerr.As(err)
	if !ok {
		e = sdkerr.Wrap(sdkerr.TypeAPI, "", err.Error(), err)
	}
	if cfg := i.sdk.sess.Config(); cfg != nil && cfg.SuppressErrorAlerts {
		i.log.Debug("Embed error", "type", e.Type, "code", e.Code, "error", err)
	} else {
		i.log.Error("Embed error", "type", e.Type, "code", e.Code, "error", err)
	}
	i.sdk.errorReporter().ReportError(e, i.id)
	i.router.Emit(protocol.EventError, e.Payload())
}

func (i *Instance) watchNetwork() {
	m := i.sdk.Network()
	if m == nil {
		return
	}
	unsub := m.Subscribe(i.onNetworkChange)
	i.mu.Lock()
	prev := i.unsubNet
	i.unsubNet = unsub
	i.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (i *Instance) unwatchNetwork() {
	i.mu.Lock()
	unsub := i.unsubNet
	i.unsubNet = nil
	i.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// onNetworkChange warns when the host goes offline and reloads the embedded
// app when it comes back.
func (i *Instance) onNetworkChange(st connectivity.State) {
	switch st {
	case connectivity.StateOffline:
		i.log.Warn(sdkerr.MsgOffline)
		i.report(sdkerr.ErrOffline)
	case connectivity.StateOnline:
		go func() {
			if _, err := i.Trigger(context.Background(), protocol.HostReload, nil); err != nil {
				i.log.Warn("Reload after reconnect failed", "error", err)
			}
		}()
	}
}

// Destroy removes the instance's frame and listeners. When configured it
// first lets the embedded app clean up, waiting at most CleanupTimeout.
// Destroy never fails; problems are logged.
//
// An instance connected to a prerender slot shares the slot's frame with
// every other instance connected to it. Destroying any of them, owner or
// not, removes the slot together with that shared frame; use HidePreRender
// to detach without tearing it down.
func (i *Instance) Destroy(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("Destroy panicked", "panic", r)
		}
	}()

	i.mu.Lock()
	if i.state == StateDestroyed {
		i.mu.Unlock()
		return
	}
	i.state = StateDestroyed
	f, slot, settle := i.frame, i.slot, i.settle
	i.frame, i.slot, i.settle = nil, nil, nil
	i.mu.Unlock()

	if settle != nil {
		settle.Stop()
	}
	i.unwatchNetwork()
	i.router.Unlisten()
	if f == nil {
		return
	}

	i.cleanup(ctx, f)
	if slot != nil {
		i.sdk.cache.Destroy(slot.ID)
		return
	}
	if err := f.Remove(); err != nil {
		i.log.Warn("Failed to remove frame", "frame", f.ID(), "error", err)
	}
	i.log.Info("Embed destroyed", "frame", f.ID())
}

// cleanup tells the embedded app it is about to be removed.
func (i *Instance) cleanup(ctx context.Context, f frame.Frame) {
	cfg := i.sdk.sess.Config()
	if cfg == nil || !cfg.WaitForCleanupOnDestroy {
		msg, _ := protocol.NewMessage(protocol.HostDestroyEmbed, nil)
		if err := f.PostMessage(msg, nil); err != nil {
			i.log.Debug("Cleanup message not delivered", "error", err)
		}
		return
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.CleanupTimeout)
	defer cancel()
	client := hostevent.New(hostevent.FrameProviderFunc(func() (frame.Frame, bool) { return f, true }), 0)
	if _, err := client.Trigger(cctx, protocol.HostDestroyEmbed, nil, ""); err != nil {
		i.log.Warn("Embedded app cleanup did not finish", "timeout", cfg.CleanupTimeout, "error", err)
	}
}
