package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/auth"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/embed"
)

// wireMessage mirrors the frame host's websocket envelope.
type wireMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	InReplyTo string          `json:"inReplyTo,omitempty"`
}

// embeddedApp answers every message that expects a reply with the message
// type it received, and reports the route it was opened on.
func embeddedApp(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		select {
		case paths <- r.URL.Query().Get("embedPath"):
		default:
		}
		for {
			var in wireMessage
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			if in.ReplyTo == "" {
				continue
			}
			data, _ := json.Marshal(map[string]string{"received": in.Type})
			if err := conn.WriteJSON(wireMessage{Type: in.Type, Data: data, InReplyTo: in.ReplyTo}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, paths
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunTriggersAndPrintsReplies(t *testing.T) {
	srv, paths := embeddedApp(t)
	cfg := writeConfig(t, "thoughtspot_host: "+srv.URL+"\nauth_type: None\n")

	out, err := execute(t, "run", "--config", cfg, "--liveboard", "lb-1",
		"--trigger", "reload", "--trigger", `search={"searchQuery":"revenue"}`, "--once")
	require.NoError(t, err)

	assert.Equal(t, "reload {\"received\":\"reload\"}\nsearch {\"received\":\"search\"}\n", out)
	assert.Equal(t, "/embed/viz/lb-1", <-paths)
}

func TestRunRejectsBadTrigger(t *testing.T) {
	cfg := writeConfig(t, "thoughtspot_host: https://ts.example.com\n")
	_, err := execute(t, "run", "--config", cfg, "--trigger", "search={not json", "--once")
	assert.ErrorContains(t, err, "payload is not JSON")
}

func TestSessionPrintsState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(auth.EndpointSessionInfo, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"releaseVersion":"10.1.0.cl"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	cfg := writeConfig(t, "thoughtspot_host: "+srv.URL+"\nauth_type: Basic\nusername: tsadmin\npassword: secret\n")

	out, err := execute(t, "session", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "loggedIn: true")
	assert.Contains(t, out, "releaseVersion: 10.1.0.cl")

	out, err = execute(t, "session", "--config", cfg, "--json")
	require.NoError(t, err)
	var status sessionStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, srv.URL, status.Host)
	assert.Equal(t, "Basic", status.AuthType)
	assert.True(t, status.LoggedIn)
}

func TestParseTriggers(t *testing.T) {
	got, err := parseTriggers([]string{"reload", ` Navigate = "pinboards" `})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "reload", got[0].Type)
	assert.Nil(t, got[0].Payload)
	assert.Equal(t, "Navigate", got[1].Type)
	assert.JSONEq(t, `"pinboards"`, string(got[1].Payload))

	_, err = parseTriggers([]string{"=1"})
	assert.ErrorContains(t, err, "missing event type")
}

func TestBuildView(t *testing.T) {
	v := buildView(&runOptions{container: "#c", page: string(embed.PageData)})
	app, ok := v.(*embed.AppViewConfig)
	require.True(t, ok)
	assert.Equal(t, embed.PageData, app.PageID)
	assert.Equal(t, "#c", app.Container)

	v = buildView(&runOptions{container: "#c", liveboardID: "lb", vizID: "viz"})
	lb, ok := v.(*embed.LiveboardViewConfig)
	require.True(t, ok)
	assert.Equal(t, "lb", lb.LiveboardID)
	assert.Equal(t, "viz", lb.VizID)
}
