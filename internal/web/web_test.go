package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sectograph/internal/config"
	"sectograph/internal/dial"
	"sectograph/internal/model"
	"sectograph/internal/session"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type stubGateway struct {
	calls atomic.Int32
}

func (g *stubGateway) FetchEvents(_ context.Context, _ config.Entity, ws, _ time.Time) ([]model.CalendarEvent, error) {
	g.calls.Add(1)
	return []model.CalendarEvent{
		{Summary: "Work", Start: ws.Add(9 * time.Hour), End: ws.Add(17 * time.Hour)},
		{Summary: "Night <shift>", Start: ws.Add(22 * time.Hour), End: ws.Add(26 * time.Hour)},
		{Summary: "Holiday", Start: ws, End: ws.AddDate(0, 0, 1)},
	}, nil
}

func newTestServer(t *testing.T, cfg *config.Config, opts Options) (*Server, *stubGateway) {
	t.Helper()

	gw := &stubGateway{}
	sess := session.New(session.Options{
		Gateway:    gw,
		Entities:   []config.Entity{{ID: "calendar.family"}},
		Location:   time.UTC,
		LabelStyle: dial.LabelShort,
		Clock:      fixedClock(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)),
	})
	srv, err := NewServer(cfg, sess, opts)
	require.NoError(t, err)
	return srv, gw
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Entities = []config.Entity{{ID: "calendar.family"}}
	return cfg
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig(), Options{})
	rec := do(t, srv.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestAPIArcs(t *testing.T) {
	t.Parallel()

	srv, gw := newTestServer(t, testConfig(), Options{})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/arcs")
	require.Equal(t, http.StatusOK, rec.Code)

	var arcs []dial.ArcDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &arcs))
	require.Len(t, arcs, 3)

	assert.InDelta(t, 33.333, arcs[0].SpanPercent, 1e-3)
	assert.True(t, arcs[0].State.InProgress)

	require.NotNil(t, arcs[1].Continuation)
	assert.InDelta(t, 8.333, arcs[1].SpanPercent, 1e-3)
	assert.InDelta(t, 30, float64(arcs[1].Continuation.Rotation), 1e-9)

	assert.Equal(t, dial.DescriptorFullDay, arcs[2].Kind)

	_ = do(t, h, http.MethodGet, "/api/arcs")
	assert.EqualValues(t, 1, gw.calls.Load())
}

func TestAPIFaceAndDial(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig(), Options{})
	h := srv.Handler()

	var face dial.Face
	rec := do(t, h, http.MethodGet, "/api/face")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &face))
	require.Equal(t, "12:00", face.Time)
	require.Equal(t, "Sat 17", face.Day)
	require.Len(t, face.Major, 24)
	require.Len(t, face.Minor, 72)

	var snap session.Snapshot
	rec = do(t, h, http.MethodGet, "/api/dial")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 3, snap.Events)
	require.Equal(t, 17, snap.Window.Today.Day())
}

func TestReloadRefetches(t *testing.T) {
	t.Parallel()

	srv, gw := newTestServer(t, testConfig(), Options{})
	h := srv.Handler()

	_ = do(t, h, http.MethodGet, "/api/arcs")
	rec := do(t, h, http.MethodPost, "/api/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"events":3`)
	require.EqualValues(t, 2, gw.calls.Load())

	rec = do(t, h, http.MethodGet, "/api/reload")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPage(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig(), Options{})
	rec := do(t, srv.Handler(), http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, `<meta http-equiv="refresh" content="10">`)
	assert.Contains(t, body, "conic-gradient(#58afe4 33.3333%, transparent 0)")
	assert.Contains(t, body, "transform: rotate(135.0000deg)")
	assert.Contains(t, body, `class="text-vertical-right">Work<`)
	assert.Contains(t, body, "Night &lt;shift&gt;")
	assert.Contains(t, body, `class="full-day-event"`)
	assert.Contains(t, body, `class="continues"`)
	assert.Equal(t, 2, strings.Count(body, `class="event`))

	// The plain marker of an upcoming overnight event must have a fill too.
	start := strings.Index(body, ".continues::before {")
	require.GreaterOrEqual(t, start, 0)
	rule := body[start : start+strings.Index(body[start:], "}")]
	assert.Contains(t, rule, "background-image")

	rec = do(t, srv.Handler(), http.MethodGet, "/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	srv, _ := newTestServer(t, cfg, Options{})
	h := srv.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/face")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/face", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "preview.png")
	var captures atomic.Int32
	srv, _ := newTestServer(t, testConfig(), Options{
		PreviewPath: path,
		Capture: func(context.Context) ([]byte, error) {
			captures.Add(1)
			return []byte("\x89PNG fake"), nil
		},
	})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/preview.png")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "\x89PNG fake", string(stored))

	// Stored capture is reused until a refresh is requested.
	_ = do(t, h, http.MethodGet, "/preview.png")
	require.EqualValues(t, 1, captures.Load())
	_ = do(t, h, http.MethodGet, "/preview.png?refresh=1")
	require.EqualValues(t, 2, captures.Load())
}

func TestPreviewCaptureFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig(), Options{
		Capture: func(context.Context) ([]byte, error) { return nil, errors.New("no chromium") },
	})
	rec := do(t, srv.Handler(), http.MethodGet, "/preview.png")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	srv, _ = newTestServer(t, testConfig(), Options{})
	rec = do(t, srv.Handler(), http.MethodGet, "/preview.png")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
