package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"browserpilot-mcp-server/internal/journal"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Close reasons recorded in session_closed facts.
const (
	ReasonClosed   = "closed"
	ReasonExpired  = "expired"
	ReasonShutdown = "shutdown"
)

// sweepParallelism bounds how many browser processes are released at once.
const sweepParallelism = 4

// FactSink receives lifecycle facts. *journal.Engine satisfies it.
type FactSink interface {
	AddFacts(ctx context.Context, facts []journal.Fact) error
}

// Session is one isolated browser process plus its browsing context.
type Session struct {
	ID        string
	CreatedAt time.Time
	Options   LaunchOptions

	instance Instance

	pagesMu sync.RWMutex
	pages   map[string]Page
	order   []string

	// closing is guarded by Registry.mu.
	closing   bool
	closeOnce sync.Once
	closeErr  error
}

// NewPage opens a tab in the session's own context. The page is not
// reachable by id until it is passed to Registry.AddPage.
func (s *Session) NewPage(ctx context.Context) (Page, error) {
	return s.instance.NewPage(ctx)
}

// PageIDs returns the session's page ids in creation order.
func (s *Session) PageIDs() []string {
	s.pagesMu.RLock()
	defer s.pagesMu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Session) release() (first bool, err error) {
	s.closeOnce.Do(func() {
		first = true
		s.closeErr = s.instance.Close()
	})
	return first, s.closeErr
}

// SessionInfo is the listing view of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Headless  bool      `json:"headless"`
	Viewport  Viewport  `json:"viewport"`
	Pages     []string  `json:"pages"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry owns every live session. Identifiers are the only way in:
// callers re-resolve them on every call and never keep handles.
type Registry struct {
	driver      Driver
	log         logrus.FieldLogger
	sink        FactSink
	now         func() time.Time
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = l }
}

// WithFactSink routes lifecycle facts to sink.
func WithFactSink(sink FactSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithClock overrides time.Now, mostly for age-based cleanup tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMaxSessions caps concurrent sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(r *Registry) { r.maxSessions = n }
}

// NewRegistry returns an empty registry backed by driver.
func NewRegistry(driver Driver, opts ...Option) *Registry {
	r := &Registry{
		driver:   driver,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession launches a new browser and registers it. Launch failures
// come back as *LaunchError. After Shutdown it returns ErrRegistryClosed.
func (r *Registry) CreateSession(ctx context.Context, opts LaunchOptions) (string, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", ErrRegistryClosed
	}
	if r.atLimit() {
		return "", ErrSessionLimit
	}

	inst, err := r.driver.Launch(ctx, opts)
	if err != nil {
		return "", &LaunchError{Err: err}
	}

	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: r.now(),
		Options:   opts,
		instance:  inst,
		pages:     make(map[string]Page),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if cerr := inst.Close(); cerr != nil {
			r.log.WithError(cerr).Warn("release browser launched during shutdown")
		}
		return "", ErrRegistryClosed
	}
	if r.maxSessions > 0 && r.liveCountLocked() >= r.maxSessions {
		r.mu.Unlock()
		if cerr := inst.Close(); cerr != nil {
			r.log.WithError(cerr).Warn("release browser after hitting session limit")
		}
		return "", ErrSessionLimit
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"headless":   opts.Headless,
	}).Info("session launched")
	r.emit(ctx, journal.Fact{
		Predicate: journal.PredSessionLaunched,
		Args:      []interface{}{s.ID, opts.Headless},
		Timestamp: s.CreatedAt,
	})
	return s.ID, nil
}

// GetSession resolves a live session. Sessions being closed are not found.
func (r *Registry) GetSession(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s.closing {
		return nil, false
	}
	return s, true
}

// AddPage registers page under a fresh id within the session. It reports
// false when the session is unknown or closing.
func (r *Registry) AddPage(sessionID string, page Page) (string, bool) {
	url := page.URL()

	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	if !ok || s.closing {
		r.mu.RUnlock()
		return "", false
	}
	s.pagesMu.Lock()
	id := ulid.Make().String()
	for _, taken := s.pages[id]; taken; _, taken = s.pages[id] {
		id = ulid.Make().String()
	}
	s.pages[id] = page
	s.order = append(s.order, id)
	s.pagesMu.Unlock()
	r.mu.RUnlock()

	r.log.WithFields(logrus.Fields{"session_id": sessionID, "page_id": id}).Debug("page added")
	r.emit(context.Background(), journal.Fact{
		Predicate: journal.PredPageOpened,
		Args:      []interface{}{sessionID, id, url},
		Timestamp: r.now(),
	})
	return id, true
}

// GetPage resolves pageID inside sessionID only. A page id that belongs to
// another session is not found.
func (r *Registry) GetPage(sessionID, pageID string) (Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.closing {
		return nil, false
	}
	s.pagesMu.RLock()
	defer s.pagesMu.RUnlock()
	p, ok := s.pages[pageID]
	return p, ok
}

// ResolvePage is GetPage with the lookup miss as a typed error.
func (r *Registry) ResolvePage(sessionID, pageID string) (Page, error) {
	if _, ok := r.GetSession(sessionID); !ok {
		return nil, UnknownSession(sessionID)
	}
	p, ok := r.GetPage(sessionID, pageID)
	if !ok {
		if _, live := r.GetSession(sessionID); !live {
			return nil, UnknownSession(sessionID)
		}
		return nil, UnknownPage(pageID)
	}
	return p, nil
}

// CloseSession releases the session's browser process and then drops the
// entry. Unknown ids are a no-op.
func (r *Registry) CloseSession(ctx context.Context, id string) error {
	return r.closeSession(ctx, id, ReasonClosed)
}

func (r *Registry) closeSession(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	s.closing = true
	r.mu.Unlock()

	first, err := s.release()

	r.mu.Lock()
	if r.sessions[id] == s {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	// Only the caller that performed the release reports on it.
	if !first {
		return nil
	}

	entry := r.log.WithFields(logrus.Fields{"session_id": id, "reason": reason})
	if err != nil {
		entry.WithError(err).Warn("session closed with error")
		reason = "error"
	} else {
		entry.Info("session closed")
	}
	r.emit(ctx, journal.Fact{
		Predicate: journal.PredSessionClosed,
		Args:      []interface{}{id, reason},
		Timestamp: r.now(),
	})

	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	return nil
}

// CleanupOldSessions closes every session older than maxAge. Each close is
// independent; failures are logged, never returned. It reports the ids it
// closed cleanly, sorted.
func (r *Registry) CleanupOldSessions(ctx context.Context, maxAge time.Duration) []string {
	now := r.now()

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if !s.closing && now.Sub(s.CreatedAt) > maxAge {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		closed []string
		g      errgroup.Group
	)
	g.SetLimit(sweepParallelism)
	for _, id := range stale {
		g.Go(func() error {
			if err := r.closeSession(ctx, id, ReasonExpired); err != nil {
				r.log.WithError(err).WithField("session_id", id).Error("cleanup failed")
				return nil
			}
			mu.Lock()
			closed = append(closed, id)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(closed)
	r.log.WithFields(logrus.Fields{
		"stale":  len(stale),
		"closed": len(closed),
	}).Info("session cleanup finished")
	return closed
}

// Shutdown closes every session and joins their errors. The registry
// refuses new sessions from the moment Shutdown starts, including launches
// already in flight. If ctx ends first, Shutdown returns without waiting for
// the remaining closes, which keep running in the background.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(sweepParallelism)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range ids {
			g.Go(func() error {
				if err := r.closeSession(ctx, id, ReasonShutdown); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.WithField("sessions", len(ids)).Warn("registry shutdown interrupted")
		mu.Lock()
		partial := append([]error(nil), errs...)
		mu.Unlock()
		return errors.Join(append(partial, fmt.Errorf("shutdown: %w", ctx.Err()))...)
	}

	r.log.WithField("sessions", len(ids)).Info("registry shutdown complete")
	return errors.Join(errs...)
}

// List returns a snapshot of live sessions, oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.closing {
			live = append(live, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID < live[j].ID
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})

	out := make([]SessionInfo, 0, len(live))
	for _, s := range live {
		out = append(out, SessionInfo{
			ID:        s.ID,
			Headless:  s.Options.Headless,
			Viewport:  s.Options.Viewport,
			Pages:     s.PageIDs(),
			CreatedAt: s.CreatedAt,
		})
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveCountLocked()
}

func (r *Registry) atLimit() bool {
	if r.maxSessions <= 0 {
		return false
	}
	return r.Len() >= r.maxSessions
}

func (r *Registry) liveCountLocked() int {
	n := 0
	for _, s := range r.sessions {
		if !s.closing {
			n++
		}
	}
	return n
}

func (r *Registry) emit(ctx context.Context, facts ...journal.Fact) {
	if r.sink == nil {
		return
	}
	if err := r.sink.AddFacts(ctx, facts); err != nil {
		r.log.WithError(err).Debug("journal rejected facts")
	}
}
