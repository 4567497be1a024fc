// Package session holds the rendering context of one dial: the current time,
// the day window, the fetched events and the ticker that moves the hand.
//
// Events are fetched at most once per window. The ticker only advances the
// clock; data changes only through Reload, which is triggered from outside
// (HTTP or the optional reload schedule).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sectograph/internal/calendar"
	"sectograph/internal/config"
	"sectograph/internal/dial"
	appLog "sectograph/internal/log"
	"sectograph/internal/model"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("session closed")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Options configures a Session. Use OptionsFromConfig for the usual wiring.
type Options struct {
	Gateway    calendar.Gateway
	Entities   []config.Entity
	Location   *time.Location
	Layout     dial.Options
	LabelStyle dial.LabelStyle
	Tick       time.Duration
	ReloadCron string
	Clock      Clock
}

// OptionsFromConfig maps a validated config onto session options.
func OptionsFromConfig(cfg *config.Config, gw calendar.Gateway) Options {
	return Options{
		Gateway:  gw,
		Entities: cfg.Entities,
		Location: cfg.Location(),
		Layout: dial.Options{
			HideFullDayEvents: cfg.HideFullDayEvents,
			Strategy:          cfg.Strategy(),
		},
		LabelStyle: cfg.LabelStyle(),
		Tick:       cfg.Tick(),
		ReloadCron: cfg.ReloadCron,
	}
}

// Snapshot is a consistent view of the dial at one instant.
type Snapshot struct {
	Now    time.Time            `json:"now"`
	Window model.DayWindow      `json:"window"`
	Face   dial.Face            `json:"face"`
	Arcs   []dial.ArcDescriptor `json:"arcs"`
	Events int                  `json:"events"`
}

// Session is safe for concurrent use.
type Session struct {
	opts Options

	mu      sync.RWMutex
	now     time.Time
	window  model.DayWindow
	data    []model.CalendarEvent
	fetched bool
	gen     uint64
	ticker  *cron.Cron
	closed  bool

	// jobCtx bounds scheduled jobs; Close cancels it.
	jobCtx    context.Context
	cancelJob context.CancelFunc

	// fetchMu serializes fetches so concurrent renders share one.
	fetchMu sync.Mutex
}

// New creates a session and computes its day window from the clock.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Tick <= 0 {
		opts.Tick = config.DefaultTickSeconds * time.Second
	}
	s := &Session{opts: opts}
	s.jobCtx, s.cancelJob = context.WithCancel(context.Background())
	s.now = s.clockNow()
	s.window = model.NewDayWindow(s.now)
	return s
}

func (s *Session) clockNow() time.Time {
	return s.opts.Clock.Now().In(s.opts.Location)
}

// Start launches the ticker and, if configured, the reload schedule.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.ticker != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(s.opts.Location))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.opts.Tick), s.tick); err != nil {
		return fmt.Errorf("schedule ticker: %w", err)
	}
	if s.opts.ReloadCron != "" {
		if _, err := c.AddFunc(s.opts.ReloadCron, s.scheduledReload); err != nil {
			return fmt.Errorf("schedule reload %q: %w", s.opts.ReloadCron, err)
		}
	}
	c.Start()
	s.ticker = c

	appLog.Info("session started",
		"tick", s.opts.Tick.String(),
		"reload_cron", s.opts.ReloadCron,
		"window", model.DateString(s.window.Today),
	)
	return nil
}

// Close cancels a running scheduled reload, stops the ticker and waits for
// the job to return. Calling it again is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	c := s.ticker
	s.ticker = nil
	s.mu.Unlock()

	s.cancelJob()
	if c != nil {
		<-c.Stop().Done()
	}
	appLog.Info("session closed")
}

func (s *Session) tick() {
	now := s.clockNow()
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	appLog.Debug("tick", "now", now.Format(time.TimeOnly))
}

func (s *Session) scheduledReload() {
	s.Reload()
	ctx, cancel := context.WithTimeout(s.jobCtx, time.Minute)
	defer cancel()
	events := s.EnsureData(ctx)
	appLog.Info("scheduled reload done", "events", len(events))
}

// Reload refreshes the clock and the day window and drops fetched data, so
// the next render fetches again.
func (s *Session) Reload() {
	now := s.clockNow()
	win := model.NewDayWindow(now)
	s.mu.Lock()
	s.now = now
	s.window = win
	s.data = nil
	s.fetched = false
	s.gen++
	s.mu.Unlock()
	appLog.Info("session reloaded", "window", model.DateString(win.Today))
}

// EnsureData returns the window's events, fetching them on first use. A
// fetch cut short by ctx is returned but not kept.
func (s *Session) EnsureData(ctx context.Context) []model.CalendarEvent {
	if data, ok := s.cached(); ok {
		return data
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	if data, ok := s.cached(); ok {
		return data
	}

	s.mu.RLock()
	win, gen := s.window, s.gen
	s.mu.RUnlock()

	events := calendar.Collect(ctx, s.opts.Gateway, s.opts.Entities, win)
	if ctx.Err() != nil {
		return events
	}

	s.mu.Lock()
	if s.gen == gen {
		s.data = events
		s.fetched = true
	}
	s.mu.Unlock()
	return events
}

func (s *Session) cached() ([]model.CalendarEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.fetched
}

// Now is the time the hand points at, as of the last tick.
func (s *Session) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// Window is the day the dial represents.
func (s *Session) Window() model.DayWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// Face returns the clock face for the current time.
func (s *Session) Face() dial.Face {
	return dial.ClockFace(s.Now(), s.opts.LabelStyle)
}

// Arcs lays out the window's events for the current time.
func (s *Session) Arcs(ctx context.Context) []dial.ArcDescriptor {
	events := s.EnsureData(ctx)
	s.mu.RLock()
	now, win := s.now, s.window
	s.mu.RUnlock()
	return dial.Layout(events, now, win, s.opts.Layout)
}

// Snapshot returns face and arcs computed from the same instant.
func (s *Session) Snapshot(ctx context.Context) Snapshot {
	events := s.EnsureData(ctx)
	s.mu.RLock()
	now, win := s.now, s.window
	s.mu.RUnlock()
	return Snapshot{
		Now:    now,
		Window: win,
		Face:   dial.ClockFace(now, s.opts.LabelStyle),
		Arcs:   dial.Layout(events, now, win, s.opts.Layout),
		Events: len(events),
	}
}
