// Package feed keeps a guild's visible page of violations in step with both
// the paginated history and the live push stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/models"
	"github.com/tullo/moddash/internal/push"
)

// LogSource reads pages of violation history.
type LogSource interface {
	GetLogs(ctx context.Context, guildID string, page, limit int) (*models.FeedPage, error)
}

// State is a point-in-time snapshot for presentation.
type State struct {
	Items      []models.ViolationEvent `json:"items"`
	Page       int                     `json:"page"`
	TotalPages int                     `json:"total_pages"`
	TotalCount int                     `json:"total_count"`
	HasMore    bool                    `json:"has_more"`
	Loading    bool                    `json:"loading"`
	Refreshing bool                    `json:"refreshing"`
	// Stale is raised when a live event arrived while a page other than the
	// first was displayed.
	Stale bool  `json:"stale"`
	Err   error `json:"-"`
}

// Synchronizer owns one guild's visible feed window.
type Synchronizer struct {
	guildID string
	source  LogSource
	rooms   *push.Manager
	clock   clockwork.Clock
	log     *slog.Logger

	mu         sync.Mutex
	items      []models.ViolationEvent
	page       int
	totalCount int
	hasMore    bool
	loaded     bool
	loading    bool
	refreshing bool
	stale      bool
	err        error
	gen        uint64
	closed     bool
	sub        *push.Subscription
}

// New creates a Synchronizer for guildID showing page 1. rooms may be nil,
// in which case Mount is a no-op.
func New(guildID string, source LogSource, rooms *push.Manager, clock clockwork.Clock, log *slog.Logger) *Synchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Synchronizer{
		guildID: guildID,
		source:  source,
		rooms:   rooms,
		clock:   clock,
		log:     log.With("component", "feed", "guild_id", guildID),
		items:   []models.ViolationEvent{},
		page:    1,
	}
}

// GuildID returns the guild this synchronizer displays.
func (s *Synchronizer) GuildID() string {
	return s.guildID
}

// Mount joins the guild's push room.
func (s *Synchronizer) Mount(ctx context.Context) error {
	if s.rooms == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperr.ErrStaleContext
	}
	if s.sub != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sub, err := s.rooms.Subscribe(ctx, s.guildID, s.OnPushEvent)
	if err != nil {
		return fmt.Errorf("join guild room: %w", err)
	}

	s.mu.Lock()
	closed, mounted := s.closed, s.sub != nil
	if !closed && !mounted {
		s.sub = sub
	}
	s.mu.Unlock()

	switch {
	case closed:
		sub.Close()
		return apperr.ErrStaleContext
	case mounted:
		sub.Close()
	}
	return nil
}

// Close leaves the push room and invalidates every in-flight load. No state
// changes after Close.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// LoadPage replaces the visible window with page n. Out-of-range pages are
// rejected once the total is known. A load superseded by a newer one, or
// finishing after Close, returns apperr.ErrStaleContext and is not applied.
func (s *Synchronizer) LoadPage(ctx context.Context, n int) error {
	return s.load(ctx, n, false, true)
}

// Refresh reloads the current page. The result replaces the window, so
// items already inserted by push are not duplicated.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	n := s.page
	s.mu.Unlock()
	return s.load(ctx, n, true, true)
}

func (s *Synchronizer) load(ctx context.Context, n int, refresh, clamp bool) error {
	gen, err := s.begin(n, refresh)
	if err != nil {
		return err
	}

	fp, err := s.source.GetLogs(ctx, s.guildID, n, models.PageSize)

	last, err := s.finish(gen, n, fp, err)
	if err != nil {
		return err
	}
	if last > 0 && clamp {
		s.log.Info("page beyond server total, clamping", "requested", n, "last", last)
		return s.load(ctx, last, refresh, false)
	}
	return nil
}

func (s *Synchronizer) begin(n int, refresh bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperr.ErrStaleContext
	}
	if n < 1 {
		return 0, apperr.NewValidationError("page", fmt.Sprintf("page %d is out of range", n))
	}
	if s.loaded {
		if total := models.TotalPages(s.totalCount, models.PageSize); n > total {
			return 0, apperr.NewValidationError("page", fmt.Sprintf("page %d is out of range [1, %d]", n, total))
		}
	}

	s.gen++
	if refresh {
		s.refreshing = true
	} else {
		s.loading = true
	}
	return s.gen, nil
}

// finish applies a load result. It returns a page to retry when the server
// answered a page beyond its own total.
func (s *Synchronizer) finish(gen uint64, n int, fp *models.FeedPage, err error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		s.log.Debug("dropping stale feed response", "page", n)
		return 0, apperr.ErrStaleContext
	}
	s.loading = false
	s.refreshing = false

	if err != nil {
		s.err = err
		s.log.Warn("failed to load feed page", "page", n, "error", err)
		return 0, err
	}

	if last := models.TotalPages(fp.TotalCount, models.PageSize); len(fp.Items) == 0 && n > last {
		s.totalCount = fp.TotalCount
		s.loaded = true
		return last, nil
	}

	items := make([]models.ViolationEvent, 0, len(fp.Items))
	seen := make(map[string]struct{}, len(fp.Items))
	for _, item := range fp.Items {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}

	s.items = items
	s.page = n
	s.totalCount = fp.TotalCount
	s.hasMore = fp.HasMore
	s.loaded = true
	s.stale = false
	s.err = nil
	return 0, nil
}

// OnPushEvent is the room handler. Only new violations for this guild are
// considered; see Insert.
func (s *Synchronizer) OnPushEvent(evt models.PushEvent) {
	if evt.Type != models.EventFilterActionLogged || evt.GuildID != s.guildID {
		return
	}

	var p models.ViolationPush
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		s.log.Warn("dropping malformed violation push", "error", err)
		return
	}
	s.Insert(p.ToEvent(s.clock.Now()))
}

// Insert applies a live violation. On page 1 it is prepended unless its id
// is already visible, and the window is truncated to the page size. On other
// pages only the stale flag is raised. It reports whether the window changed.
func (s *Synchronizer) Insert(v models.ViolationEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.page != 1 {
		s.stale = true
		return false
	}
	for _, item := range s.items {
		if item.ID == v.ID {
			return false
		}
	}

	n := min(len(s.items)+1, models.PageSize)
	items := make([]models.ViolationEvent, 0, n)
	items = append(items, v)
	items = append(items, s.items[:n-1]...)
	s.items = items
	s.totalCount++
	return true
}

// State returns a snapshot.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.ViolationEvent, len(s.items))
	copy(items, s.items)
	return State{
		Items:      items,
		Page:       s.page,
		TotalPages: models.TotalPages(s.totalCount, models.PageSize),
		TotalCount: s.totalCount,
		HasMore:    s.hasMore || s.page < models.TotalPages(s.totalCount, models.PageSize),
		Loading:    s.loading,
		Refreshing: s.refreshing,
		Stale:      s.stale,
		Err:        s.err,
	}
}
