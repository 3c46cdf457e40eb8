package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/connectivity"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame/frametest"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/router"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

const testHost = "https://ts.example.com"

func newTestSDK(t *testing.T, opts ...Option) (*SDK, *frametest.Host) {
	t.Helper()
	host := frametest.NewHost()
	sdk := New(host, opts...)
	t.Cleanup(sdk.Close)
	return sdk, host
}

func initSDK(t *testing.T, sdk *SDK, mutate ...func(*config.EmbedConfig)) {
	t.Helper()
	cfg := config.EmbedConfig{ThoughtSpotHost: testHost, AuthType: config.AuthNone}
	for _, fn := range mutate {
		fn(&cfg)
	}
	require.NoError(t, sdk.Init(context.Background(), cfg))
}

// echo answers every posted message on its reply channel.
func echo(_ *frametest.Frame, msg protocol.Message, reply protocol.Port) {
	if reply == nil {
		return
	}
	_ = reply.Post(protocol.Message{Type: msg.Type, Data: json.RawMessage(`{"ok":true}`)})
}

func appView(container string) *AppViewConfig {
	return &AppViewConfig{BaseViewConfig: BaseViewConfig{Container: container}}
}

// errorLog records the codes of Error events delivered to an instance.
type errorLog struct {
	mu    sync.Mutex
	codes []string
}

func watchErrors(i *Instance) *errorLog {
	l := &errorLog{}
	i.On(protocol.EventError, func(msg protocol.Message, _ router.Responder) {
		var p map[string]any
		_ = msg.Decode(&p)
		l.mu.Lock()
		l.codes = append(l.codes, fmt.Sprint(p["code"]))
		l.mu.Unlock()
	})
	return l
}

func (l *errorLog) Codes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.codes...)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRenderPlacesFrame(t *testing.T) {
	sdk, host := newTestSDK(t)
	initSDK(t, sdk, func(c *config.EmbedConfig) { c.ThoughtSpotHost = "h" })

	inst := sdk.NewEmbed(appView("#embed"))
	errs := watchErrors(inst)
	loaded := make(chan struct{})
	var once sync.Once
	inst.On(protocol.EventLoad, func(protocol.Message, router.Responder) {
		once.Do(func() { close(loaded) })
	})

	require.NoError(t, inst.Render(context.Background()))
	waitFor(t, loaded, "load event")

	f := host.LastFrame()
	require.NotNil(t, f)
	assert.True(t, strings.HasPrefix(f.Src(), "https://h/?"), f.Src())
	assert.True(t, strings.HasSuffix(f.Src(), "#/home"), f.Src())
	assert.Equal(t, frameName, f.Spec().Name)
	assert.Equal(t, "100%", f.Spec().Width)
	assert.Equal(t, StateReady, inst.State())
	assert.Equal(t, 1, f.SubscriberCount())
	assert.Empty(t, errs.Codes())

	live, ok := inst.LiveFrame()
	require.True(t, ok)
	assert.Equal(t, f.ID(), live.ID())
	assert.Zero(t, sdk.PendingRenders())
}

func TestRenderAsSiblingReplacesPreviousFrame(t *testing.T) {
	sdk, host := newTestSDK(t)
	initSDK(t, sdk)

	view := appView("#anchor")
	view.InsertAsSibling = true
	inst := sdk.NewEmbed(view)

	require.NoError(t, inst.Render(context.Background()))
	require.NoError(t, inst.Render(context.Background()))

	frames := host.Frames()
	require.Len(t, frames, 2)
	assert.True(t, frames[0].Removed())
	assert.Zero(t, frames[0].SubscriberCount())
	assert.False(t, frames[1].Removed())
	assert.Equal(t, 1, frames[1].SubscriberCount())
	assert.Len(t, host.LiveFrames(), 1)
}

func TestConcurrentRendersKeepCallOrder(t *testing.T) {
	sdk, host := newTestSDK(t)
	host.ManualLoad = true
	initSDK(t, sdk)

	const n = 5
	insts := make([]*Instance, n)
	errs := make(chan error, n)
	for k := range n {
		insts[k] = sdk.NewEmbed(appView(fmt.Sprintf("#c%d", k)))
		go func(i *Instance) { errs <- i.Render(context.Background()) }(insts[k])
		require.Eventually(t, func() bool { return sdk.PendingRenders() == k+1 },
			2*time.Second, 5*time.Millisecond)
	}

	for k := range n {
		require.Eventually(t, func() bool { return len(host.Insertions()) == k+1 },
			2*time.Second, 5*time.Millisecond, "render %d not inserted", k)
		assert.Len(t, host.Insertions(), k+1, "render %d inserted out of turn", k)
		host.LastFrame().Load(nil)
	}
	for range n {
		require.NoError(t, <-errs)
	}

	ids := host.Insertions()
	for k, inst := range insts {
		f, ok := inst.LiveFrame()
		require.True(t, ok)
		assert.Equal(t, ids[k], f.ID(), "instance %d", k)
	}
	for _, f := range host.Frames() {
		assert.Equal(t, 1, f.SubscriberCount(), "frame %s", f.ID())
	}
	require.Eventually(t, func() bool { return sdk.PendingRenders() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestConflictingViewConfigFailsWithoutTouchingHost(t *testing.T) {
	tests := []struct {
		name string
		view ViewConfig
		want error
	}{
		{
			name: "empty action lists",
			view: &AppViewConfig{BaseViewConfig: BaseViewConfig{
				Container: "#embed", HiddenActions: []string{}, VisibleActions: []string{},
			}},
			want: sdkerr.ErrConflictingActions,
		},
		{
			name: "tab lists",
			view: &LiveboardViewConfig{BaseViewConfig: BaseViewConfig{
				Container: "#embed", HiddenTabs: []string{"t1"}, VisibleTabs: []string{},
			}, LiveboardID: "lb"},
			want: sdkerr.ErrConflictingTabs,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sdk, host := newTestSDK(t)
			initSDK(t, sdk)

			inst := sdk.NewEmbed(tt.view)
			errs := watchErrors(inst)
			err := inst.Render(context.Background())
			require.ErrorIs(t, err, tt.want)

			assert.Equal(t, StateFailed, inst.State())
			assert.ErrorIs(t, inst.Err(), tt.want)
			e, ok := sdkerr.As(tt.want)
			require.True(t, ok)
			assert.Equal(t, []string{string(e.Code)}, errs.Codes())
			assert.Empty(t, host.Frames())
			assert.Zero(t, host.NodeCount())
			_, shown := host.Message("#embed")
			assert.False(t, shown)
			assert.Zero(t, sdk.PendingRenders())
		})
	}
}

func TestRenderShowsLoginFailedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	sdk, host := newTestSDK(t)
	initSDK(t, sdk, func(c *config.EmbedConfig) {
		c.ThoughtSpotHost = srv.URL
		c.AuthType = config.AuthBasic
		c.Username = "tsadmin"
		c.Password = "wrong"
		c.LoginFailedMessage = "Please sign in"
	})

	inst := sdk.NewEmbed(appView("#embed"))
	errs := watchErrors(inst)
	err := inst.Render(context.Background())
	require.ErrorIs(t, err, sdkerr.ErrLoginFailed)

	msg, ok := host.Message("#embed")
	require.True(t, ok)
	assert.Equal(t, "Please sign in", msg)
	assert.Empty(t, host.Frames())
	assert.Equal(t, StateFailed, inst.State())
	assert.Contains(t, errs.Codes(), string(sdkerr.CodeLoginFailed))
	assert.False(t, sdk.IsAuthenticated())
}

func TestRenderWaitsForInit(t *testing.T) {
	sdk, host := newTestSDK(t)
	inst := sdk.NewEmbed(appView("#embed"))

	done := make(chan error, 1)
	go func() { done <- inst.Render(context.Background()) }()
	require.Eventually(t, func() bool { return inst.State() == StateWaitingForInit },
		2*time.Second, 5*time.Millisecond)
	assert.Empty(t, host.Frames())

	initSDK(t, sdk)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("render did not resume after init")
	}
	assert.Len(t, host.Frames(), 1)
}

func TestRenderWithoutInitFails(t *testing.T) {
	sdk, host := newTestSDK(t)
	inst := sdk.NewEmbed(appView("#embed"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := inst.Render(ctx)
	require.ErrorIs(t, err, sdkerr.ErrInitRequired)
	assert.Equal(t, StateFailed, inst.State())
	assert.Empty(t, host.Frames())
	assert.Zero(t, sdk.PendingRenders())
}

func TestTriggerBeforeRender(t *testing.T) {
	sdk, _ := newTestSDK(t)
	inst := sdk.NewEmbed(appView("#embed"))

	_, err := inst.Trigger(context.Background(), protocol.HostReload, nil)
	require.ErrorIs(t, err, sdkerr.ErrInitRequired)

	initSDK(t, sdk)
	_, err = inst.Trigger(context.Background(), protocol.HostReload, nil)
	require.ErrorIs(t, err, sdkerr.ErrNotRendered)
}

func TestTriggerReturnsReply(t *testing.T) {
	sdk, host := newTestSDK(t)
	host.Respond = echo
	initSDK(t, sdk)

	inst := sdk.NewEmbed(appView("#embed"))
	require.NoError(t, inst.Render(context.Background()))

	data, err := inst.TriggerInContext(context.Background(), protocol.HostSearch,
		map[string]string{"searchQuery": "revenue"}, "viz-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	posted := host.LastFrame().Posted()
	require.NotEmpty(t, posted)
	last := posted[len(posted)-1]
	assert.Equal(t, protocol.HostSearch, last.Type)
	assert.Equal(t, "viz-1", last.Context)
	assert.JSONEq(t, `{"searchQuery":"revenue"}`, string(last.Data))
}

func TestTriggerTimesOut(t *testing.T) {
	sdk, _ := newTestSDK(t)
	initSDK(t, sdk, func(c *config.EmbedConfig) { c.TriggerTimeout = 50 * time.Millisecond })

	inst := sdk.NewEmbed(appView("#embed"))
	require.NoError(t, inst.Render(context.Background()))

	start := time.Now()
	_, err := inst.Trigger(context.Background(), protocol.HostReload, nil)
	require.ErrorIs(t, err, sdkerr.ErrTriggerTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTriggerUIPassThrough(t *testing.T) {
	sdk, host := newTestSDK(t)
	host.Respond = func(_ *frametest.Frame, msg protocol.Message, reply protocol.Port) {
		if reply == nil || msg.Type != protocol.HostUIPassthrough {
			return
		}
		_ = reply.Post(protocol.Message{Type: msg.Type, Data: json.RawMessage(
			`[{"refId":"a","value":{"vizId":"v1"}},{"refId":"b"}]`)})
	}
	initSDK(t, sdk)

	inst := sdk.NewEmbed(appView("#embed"))
	require.NoError(t, inst.Render(context.Background()))

	res, err := inst.TriggerUIPassThrough(context.Background(), "addVizToLiveboard", map[string]string{"vizId": "v1"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].RefID)
	assert.JSONEq(t, `{"vizId":"v1"}`, string(res[0].Value))
}

func TestDestroyRemovesFrameAndListeners(t *testing.T) {
	sdk, host := newTestSDK(t)
	initSDK(t, sdk)

	inst := sdk.NewEmbed(appView("#embed"))
	require.NoError(t, inst.Render(context.Background()))
	f := host.LastFrame()

	inst.Destroy(context.Background())
	inst.Destroy(context.Background())

	assert.True(t, f.Removed())
	assert.Zero(t, f.SubscriberCount())
	assert.Contains(t, f.PostedTypes(), protocol.HostDestroyEmbed)
	assert.Equal(t, StateDestroyed, inst.State())
	assert.Zero(t, host.NodeCount())

	_, ok := inst.LiveFrame()
	assert.False(t, ok)
	require.ErrorIs(t, inst.Render(context.Background()), sdkerr.ErrDestroyed)
	_, err := inst.Trigger(context.Background(), protocol.HostReload, nil)
	require.ErrorIs(t, err, sdkerr.ErrDestroyed)
}

func TestDestroyWaitsForCleanup(t *testing.T) {
	t.Run("bounded by cleanup timeout", func(t *testing.T) {
		sdk, host := newTestSDK(t)
		initSDK(t, sdk, func(c *config.EmbedConfig) {
			c.WaitForCleanupOnDestroy = true
			c.CleanupTimeout = 50 * time.Millisecond
		})
		inst := sdk.NewEmbed(appView("#embed"))
		require.NoError(t, inst.Render(context.Background()))
		f := host.LastFrame()

		start := time.Now()
		inst.Destroy(context.Background())
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
		assert.Less(t, elapsed, time.Second)
		assert.True(t, f.Removed())
	})

	t.Run("returns once the app acknowledges", func(t *testing.T) {
		sdk, host := newTestSDK(t)
		host.Respond = echo
		initSDK(t, sdk, func(c *config.EmbedConfig) {
			c.WaitForCleanupOnDestroy = true
			c.CleanupTimeout = 5 * time.Second
		})
		inst := sdk.NewEmbed(appView("#embed"))
		require.NoError(t, inst.Render(context.Background()))
		f := host.LastFrame()

		start := time.Now()
		inst.Destroy(context.Background())
		assert.Less(t, time.Since(start), time.Second)
		assert.Contains(t, f.PostedTypes(), protocol.HostDestroyEmbed)
		assert.True(t, f.Removed())
	})
}

func TestNetworkTransitions(t *testing.T) {
	sdk, host := newTestSDK(t)
	host.Respond = echo
	initSDK(t, sdk)

	inst := sdk.NewEmbed(appView("#embed"))
	errs := watchErrors(inst)
	require.NoError(t, inst.Render(context.Background()))
	f := host.LastFrame()

	m := sdk.Network()
	require.NotNil(t, m)
	m.Set(connectivity.StateOnline)
	assert.Empty(t, errs.Codes())

	m.Set(connectivity.StateOffline)
	assert.Equal(t, []string{string(sdkerr.CodeOffline)}, errs.Codes())
	assert.Equal(t, StateReady, inst.State())

	m.Set(connectivity.StateOnline)
	require.Eventually(t, func() bool {
		return slices.Contains(f.PostedTypes(), protocol.HostReload)
	}, 2*time.Second, 5*time.Millisecond)

	inst.Destroy(context.Background())
	m.Set(connectivity.StateOffline)
	assert.Len(t, errs.Codes(), 1)
}

func TestFrameLoadFailureFailsInstance(t *testing.T) {
	sdk, host := newTestSDK(t)
	host.ManualLoad = true
	initSDK(t, sdk)

	inst := sdk.NewEmbed(appView("#embed"))
	errs := watchErrors(inst)
	require.NoError(t, inst.Render(context.Background()))
	host.LastFrame().Load(errors.New("connection refused"))

	require.Eventually(t, func() bool { return inst.State() == StateFailed },
		2*time.Second, 5*time.Millisecond)
	assert.Contains(t, errs.Codes(), string(sdkerr.CodeFrameLoadFailed))
	assert.Zero(t, sdk.PendingRenders())
}

func TestInsertFailureRemovesNewFrame(t *testing.T) {
	sdk, host := newTestSDK(t)
	initSDK(t, sdk)

	inst := sdk.NewEmbed(appView("#embed"))
	require.NoError(t, inst.Render(context.Background()))
	first := host.LastFrame()

	host.InsertErr = errors.New("container detached")
	errs := watchErrors(inst)
	require.Error(t, inst.Render(context.Background()))

	second := host.LastFrame()
	require.NotSame(t, first, second)
	assert.True(t, first.Removed())
	assert.True(t, second.Removed(), "frame that was never placed must be released")
	assert.Zero(t, host.NodeCount())
	assert.Equal(t, StateFailed, inst.State())
	assert.Contains(t, errs.Codes(), string(sdkerr.CodeFrameLoadFailed))
}
