package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sectograph/internal/config"
	"sectograph/internal/model"
	"sectograph/internal/session"
)

type stubGateway struct{}

func (stubGateway) FetchEvents(_ context.Context, _ config.Entity, ws, _ time.Time) ([]model.CalendarEvent, error) {
	return []model.CalendarEvent{{Summary: "Work", Start: ws.Add(9 * time.Hour), End: ws.Add(17 * time.Hour)}}, nil
}

func TestLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		":8080":          "127.0.0.1:8080",
		"0.0.0.0:9000":   "127.0.0.1:9000",
		"10.0.0.5:8080":  "10.0.0.5:8080",
		"localhost:8080": "localhost:8080",
	}
	for in, want := range tests {
		require.Equal(t, want, loopbackAddr(in), in)
	}
}

func TestAuthHeaders(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	require.Nil(t, authHeaders(cfg))

	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	require.Equal(t, map[string]string{"Authorization": "Basic YWRtaW46cHc="}, authHeaders(cfg))
}

func TestBuildGateway(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Entities = []config.Entity{{ID: "work", URL: "https://example.com/work.ics"}}
	router, err := buildGateway(cfg)
	require.NoError(t, err)
	require.NotNil(t, router.ICS)
	require.Nil(t, router.HomeAssistant)

	cfg.Entities = append(cfg.Entities, config.Entity{ID: "calendar.family"})
	cfg.HomeAssistant = &config.HomeAssistantConfig{URL: "ftp://ha", Token: "t"}
	_, err = buildGateway(cfg)
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	cfg.HomeAssistant.URL = "http://homeassistant.local:8123"
	router, err = buildGateway(cfg)
	require.NoError(t, err)
	require.NotNil(t, router.HomeAssistant)
}

func TestRunOnceJSON(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	sess := session.New(session.Options{
		Gateway:  stubGateway{},
		Entities: []config.Entity{{ID: "calendar.family"}},
		Location: time.UTC,
	})

	out := filepath.Join(t.TempDir(), "snap", "dial.json")
	require.NoError(t, runOnce(context.Background(), cfg, sess, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, 1, snap.Events)
	require.Len(t, snap.Arcs, 1)
	require.Len(t, snap.Face.Major, 24)
}

func TestRunRejectsMissingEntities(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	err := run(context.Background(), runOptions{ConfigPath: path, Once: true})

	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "entities", cfgErr.Field)
}
