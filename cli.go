package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/config"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/embed"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/router"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/wshost"
)

// destroyTimeout bounds Destroy during shutdown.
const destroyTimeout = 10 * time.Second

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "embedctl",
		Short:         "Render and drive an embedded analytics app",
		Long:          "embedctl loads an embed configuration, authenticates against the analytics host and renders an embed into a websocket frame host, where host events can be triggered from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml); EMBED_* environment variables apply too")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newSessionCmd(opts),
	)
	return rootCmd
}

type runOptions struct {
	container   string
	page        string
	liveboardID string
	vizID       string
	triggers    []string
	once        bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render an embed and keep it alive until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			triggers, err := parseTriggers(opts.triggers)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runEmbed(ctx, cmd, cfg, buildView(opts), triggers, opts.once)
		},
	}
	cmd.Flags().StringVar(&opts.container, "container", "#embed", "mount point for the frame")
	cmd.Flags().StringVar(&opts.page, "page", string(embed.PageHome), "app page to open when no liveboard is given")
	cmd.Flags().StringVar(&opts.liveboardID, "liveboard", "", "liveboard to embed")
	cmd.Flags().StringVar(&opts.vizID, "viz", "", "visualization on the liveboard")
	cmd.Flags().StringArrayVar(&opts.triggers, "trigger", nil, "host event to send once loaded, as type or type=json (repeatable)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "exit after the triggers instead of waiting for a signal")
	return cmd
}

func buildView(opts *runOptions) embed.ViewConfig {
	base := embed.BaseViewConfig{Container: opts.container}
	if opts.liveboardID != "" {
		return &embed.LiveboardViewConfig{BaseViewConfig: base, LiveboardID: opts.liveboardID, VizID: opts.vizID}
	}
	return &embed.AppViewConfig{BaseViewConfig: base, PageID: embed.Page(opts.page)}
}

// hostTrigger is one --trigger flag.
type hostTrigger struct {
	Type    string
	Payload json.RawMessage
}

func parseTriggers(raw []string) ([]hostTrigger, error) {
	out := make([]hostTrigger, 0, len(raw))
	for _, s := range raw {
		typ, payload, _ := strings.Cut(s, "=")
		typ = strings.TrimSpace(typ)
		if typ == "" {
			return nil, fmt.Errorf("invalid --trigger %q: missing event type", s)
		}
		t := hostTrigger{Type: typ}
		if payload = strings.TrimSpace(payload); payload != "" {
			if !json.Valid([]byte(payload)) {
				return nil, fmt.Errorf("invalid --trigger %q: payload is not JSON", s)
			}
			t.Payload = json.RawMessage(payload)
		}
		out = append(out, t)
	}
	return out, nil
}

func runEmbed(ctx context.Context, cmd *cobra.Command, cfg *config.EmbedConfig, view embed.ViewConfig, triggers []hostTrigger, once bool) error {
	host := wshost.New(wshost.Options{})
	defer host.Close()
	sdk := embed.New(host)
	defer sdk.Close()

	if err := sdk.Init(ctx, *cfg); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	inst := sdk.NewEmbed(view)
	inst.On(protocol.EventError, func(msg protocol.Message, _ router.Responder) {
		slog.Error("Embed reported an error", "data", string(msg.Data))
	})
	loaded := make(chan struct{})
	var loadOnce sync.Once
	inst.On(protocol.EventLoad, func(protocol.Message, router.Responder) {
		loadOnce.Do(func() { close(loaded) })
	})

	if err := inst.Render(ctx); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
		defer cancel()
		inst.Destroy(dctx)
	}()

	loadTimeout := cfg.WithDefaults().FrameLoadTimeout
	select {
	case <-loaded:
	case <-time.After(loadTimeout):
		if err := inst.Err(); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		return fmt.Errorf("frame did not load within %s", loadTimeout)
	case <-ctx.Done():
		return nil
	}
	slog.Info("Embed loaded", "instance", inst.ID())

	for _, t := range triggers {
		var payload any
		if t.Payload != nil {
			payload = t.Payload
		}
		data, err := inst.Trigger(ctx, t.Type, payload)
		if err != nil {
			return fmt.Errorf("trigger %s: %w", t.Type, err)
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", t.Type, data); err != nil {
			return err
		}
	}
	if once {
		return nil
	}

	<-ctx.Done()
	slog.Info("Received signal, destroying embed")
	return nil
}

func newSessionCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Authenticate and print the session state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			return printSession(cmd, cfg, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type sessionStatus struct {
	Host           string `json:"host"`
	AuthType       string `json:"authType"`
	LoggedIn       bool   `json:"loggedIn"`
	ReleaseVersion string `json:"releaseVersion,omitempty"`
}

func printSession(cmd *cobra.Command, cfg *config.EmbedConfig, asJSON bool) error {
	host := wshost.New(wshost.Options{})
	defer host.Close()
	sdk := embed.New(host)
	defer sdk.Close()

	if err := sdk.Init(cmd.Context(), *cfg); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.WithDefaults().RequestTimeout)
	defer cancel()
	loggedIn, err := sdk.WaitForAuth(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	active := sdk.Session().Config()
	status := sessionStatus{
		Host:           active.ThoughtSpotHost,
		AuthType:       string(active.AuthType),
		LoggedIn:       loggedIn,
		ReleaseVersion: sdk.Session().ReleaseVersion(),
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "host: %s\nauthType: %s\nloggedIn: %t\nreleaseVersion: %s\n",
		status.Host, status.AuthType, status.LoggedIn, status.ReleaseVersion)
	return err
}
