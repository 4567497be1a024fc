package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sectograph/internal/calendar"
	"sectograph/internal/capture"
	"sectograph/internal/config"
	"sectograph/internal/hass"
	"sectograph/internal/ics"
	appLog "sectograph/internal/log"
	"sectograph/internal/session"
	"sectograph/internal/web"
)

type runOptions struct {
	ConfigPath string
	Listen     string
	Once       bool
	Output     string
}

func run(ctx context.Context, opts runOptions) error {
	appLog.Info("sectograph starting", "version", version)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"entities", len(cfg.Entities),
		"full_day_encoding", cfg.FullDayEncoding,
		"hide_full_day_events", cfg.HideFullDayEvents,
		"tick_seconds", cfg.TickSeconds,
		"reload_cron", cfg.ReloadCron,
		"once", opts.Once,
	)

	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	sess := session.New(session.OptionsFromConfig(cfg, gw))

	if opts.Once {
		return runOnce(ctx, cfg, sess, opts.Output)
	}
	return serve(ctx, cfg, sess)
}

// buildGateway wires only the sources the configured entities need.
func buildGateway(cfg *config.Config) (*calendar.Router, error) {
	loc := cfg.Location()
	enc := cfg.Strategy().Encoding()

	router := &calendar.Router{}
	for _, e := range cfg.Entities {
		switch {
		case e.IsICS() && router.ICS == nil:
			router.ICS = ics.NewGateway(ics.NewFetcher(cfg.CacheDir, nil), loc, enc)
		case !e.IsICS() && router.HomeAssistant == nil:
			hg, err := hass.NewGateway(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, loc, enc)
			if err != nil {
				return nil, &config.ConfigurationError{Field: "home_assistant.url", Reason: err.Error()}
			}
			router.HomeAssistant = hg
		}
	}
	return router, nil
}

func serve(ctx context.Context, cfg *config.Config, sess *session.Session) error {
	if err := sess.Start(); err != nil {
		return err
	}
	defer sess.Close()

	// Warm the data so the first page load does not wait on every source.
	go func() {
		events := sess.EnsureData(ctx)
		appLog.Info("initial fetch done", "events", len(events))
	}()

	previewURL := "http://" + loopbackAddr(cfg.Listen) + "/"
	srv, err := web.NewServer(cfg, sess, web.Options{
		PreviewPath: filepath.Join(cfg.CacheDir, "preview.png"),
		Capture: func(ctx context.Context) ([]byte, error) {
			return capture.CaptureDialPNG(ctx, capture.CaptureOptions{
				URL:     previewURL,
				Headers: authHeaders(cfg),
			})
		},
	})
	if err != nil {
		return err
	}

	err = web.Serve(ctx, cfg.Listen, srv.Handler())
	appLog.Info("sectograph exiting")
	return err
}

// runOnce renders a single snapshot. JSON output needs no browser; PNG
// output serves the page on an ephemeral loopback port and captures it.
func runOnce(ctx context.Context, cfg *config.Config, sess *session.Session, output string) error {
	snap := sess.Snapshot(ctx)
	appLog.Info("snapshot ready", "events", snap.Events, "arcs", len(snap.Arcs))

	if strings.EqualFold(filepath.Ext(output), ".json") {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return err
		}
		return os.WriteFile(output, data, 0o644)
	}

	srv, err := web.NewServer(cfg, sess, web.Options{})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for capture: %w", err)
	}
	hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("capture server failed", err)
		}
	}()
	defer hs.Close()

	_, err = capture.CaptureDialPNG(ctx, capture.CaptureOptions{
		URL:        "http://" + ln.Addr().String() + "/",
		OutputPath: output,
		Headers:    authHeaders(cfg),
	})
	if err != nil {
		return err
	}
	appLog.Info("dial captured", "output", output)
	return nil
}

// loopbackAddr turns a listen address into one a local browser can reach.
func loopbackAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func authHeaders(cfg *config.Config) map[string]string {
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(cfg.BasicAuth.Username + ":" + cfg.BasicAuth.Password))
	return map[string]string{"Authorization": "Basic " + token}
}
