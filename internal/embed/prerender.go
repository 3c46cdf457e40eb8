package embed

import (
	"context"
	"errors"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/prerender"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

// PrerenderFrameID and PrerenderWrapperID name the nodes of a prerender
// slot.
func PrerenderFrameID(id string) string   { return framePrefix + "pre-render-" + id }
func PrerenderWrapperID(id string) string { return framePrefix + "pre-render-wrapper-" + id }

// PreRender builds a hidden frame registered under the view's PreRenderID.
// An existing slot is reused unless replace is set.
func (i *Instance) PreRender(ctx context.Context, replace bool) error {
	if i.destroyed() {
		return sdkerr.ErrDestroyed
	}
	id := i.view.base().PreRenderID
	if id == "" {
		i.fail(sdkerr.ErrPreRenderIDMissing)
		return sdkerr.ErrPreRenderIDMissing
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

	preauth := i.sdk.preauth(cfg, i.view)
	slot, created, err := i.sdk.cache.CreateIfAbsent(id, replace, func() (*prerender.Slot, error) {
		if err := t.wait(ctx); err != nil {
			return nil, err
		}
		return i.buildSlot(ctx, id, FrameURL(cfg, i.view, i.sdk.hostAppURL, preauth),
			embedParams(cfg, i.view, i.sdk.hostAppURL, preauth))
	})
	if err != nil {
		t.release()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e := sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeFrameLoadFailed, "failed to prerender embed", err)
		i.fail(e)
		return e
	}

	if created {
		go i.holdQueue(t, slot.Frame, cfg.FrameLoadTimeout)
	} else {
		t.release()
		i.sdk.cache.Connect(id, i.id)
	}

	if !i.attach(slot) {
		return sdkerr.ErrDestroyed
	}
	if created {
		// The builder answers the handshake while hidden.
		i.router.Listen(slot.Frame)
	}
	i.setState(StatePrerenderedHidden)
	i.log.Info("Embed prerendered", "preRenderId", id, "created", created)
	return nil
}

func (i *Instance) buildSlot(ctx context.Context, id, src string, params map[string]any) (*prerender.Slot, error) {
	host := i.sdk.host
	f, err := host.CreateFrame(ctx, i.frameSpec(PrerenderFrameID(id), src))
	if err != nil {
		return nil, err
	}
	w, err := host.CreateWrapper(PrerenderWrapperID(id))
	if err != nil {
		_ = f.Remove()
		return nil, err
	}
	w.SetVisible(false)
	if err := w.Append(f); err != nil {
		_ = f.Remove()
		_ = w.Remove()
		return nil, err
	}
	if err := host.Insert(frame.BodyContainer, frame.InsertAfter, w); err != nil {
		_ = w.Remove()
		_ = f.Remove()
		return nil, err
	}
	return prerender.NewSlot(id, i.id, w, f, params), nil
}

// attach makes slot the instance's frame source.
func (i *Instance) attach(slot *prerender.Slot) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateDestroyed {
		return false
	}
	i.slot = slot
	i.frame = slot.Frame
	return true
}

// ShowPreRender makes the prerendered frame visible over the instance's
// container, prerendering first when no slot exists yet. Parameters that
// differ from the slot's are pushed with an update RPC once the embedded
// app is ready; parameters fixed at build time keep their original value.
func (i *Instance) ShowPreRender(ctx context.Context) error {
	if i.destroyed() {
		return sdkerr.ErrDestroyed
	}
	b := i.view.base()
	if b.PreRenderID == "" {
		i.fail(sdkerr.ErrPreRenderIDMissing)
		return sdkerr.ErrPreRenderIDMissing
	}

	slot, ok := i.sdk.cache.Connect(b.PreRenderID, i.id)
	if !ok {
		if err := i.PreRender(ctx, false); err != nil {
			return err
		}
		if slot, ok = i.sdk.cache.Get(b.PreRenderID); !ok {
			return sdkerr.ErrNotRendered
		}
	}
	if !i.attach(slot) {
		return sdkerr.ErrDestroyed
	}

	host := i.sdk.host
	bounds, err := host.Bounds(b.Container)
	if err != nil {
		i.log.Warn("Failed to read container bounds", "container", b.Container, "error", err)
	}
	var watch func(func(frame.Rect)) func()
	if !b.DoNotTrackPreRenderSize {
		watch = func(fn func(frame.Rect)) func() { return host.WatchBounds(b.Container, fn) }
	}
	slot.Show(bounds, watch)

	i.router.Listen(slot.Frame)
	if slot.Ready() {
		i.router.MarkReady()
	}
	i.watchNetwork()
	i.setState(StatePrerenderedVisible)

	cfg := i.sdk.sess.Config()
	if cfg == nil {
		return sdkerr.ErrInitRequired
	}
	updates, conflicts := slot.Reconcile(i.id, embedParams(cfg, i.view, i.sdk.hostAppURL, i.sdk.preauth(cfg, i.view)))
	for _, k := range conflicts {
		i.log.Warn("Prerendered embed keeps the value it was built with", "preRenderId", slot.ID, "param", k)
	}
	if len(updates) > 0 {
		i.router.WhenReady(func() { go i.pushParams(updates) })
	}
	return nil
}

func (i *Instance) pushParams(updates map[string]any) {
	if _, err := i.Trigger(context.Background(), protocol.HostUpdateEmbedParams, updates); err != nil {
		if errors.Is(err, sdkerr.ErrDestroyed) {
			return
		}
		i.report(sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeUpdateParamsFailed, sdkerr.MsgUpdateParamsFailed, err))
	}
}

// HidePreRender hides the prerendered frame, stops following the container
// and detaches listeners. The frame stays alive in its slot.
func (i *Instance) HidePreRender() {
	i.mu.Lock()
	slot := i.slot
	i.mu.Unlock()
	if slot == nil {
		return
	}
	slot.Hide()
	i.router.Unlisten()
	i.unwatchNetwork()
	i.setState(StatePrerenderedHidden)
}
