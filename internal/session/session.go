// Package session owns the per-guild dashboard state: entering a guild
// builds its synchronizer, configuration machine and membership toggles;
// switching away tears them down so late results are dropped.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/escalation"
	"github.com/tullo/moddash/internal/export"
	"github.com/tullo/moddash/internal/feed"
	"github.com/tullo/moddash/internal/membership"
	"github.com/tullo/moddash/internal/models"
	"github.com/tullo/moddash/internal/push"
)

// Remote is everything a guild context reads from or writes to the
// moderation service.
type Remote interface {
	feed.LogSource
	escalation.ConfigStore
	membership.SetStore
	GetChannels(ctx context.Context, guildID string) ([]models.Channel, error)
	GetRoles(ctx context.Context, guildID string) ([]models.Role, error)
}

// Options configure every guild context a Manager builds.
type Options struct {
	ReconcileDelay     time.Duration
	AutoCorrectChannel bool
	ExportLimit        int
	Clock              clockwork.Clock
	// OnSetUpdate, when set, is told about every confirmed membership change.
	OnSetUpdate func(guildID string, kind models.SetKind, items []string)
}

// SetKinds lists the membership sets every guild context carries.
var SetKinds = []models.SetKind{models.SetKindRole, models.SetKindChannel, models.SetKindWord}

// Guild is the state of one entered guild.
type Guild struct {
	ID     string
	Feed   *feed.Synchronizer
	Config *escalation.Machine
	Export *export.Job

	sets   map[models.SetKind]*membership.Toggle
	remote Remote
	rooms  *push.Manager
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	channels []models.Channel
	roles    []models.Role
	sub      *push.Subscription
}

// Set returns the toggle for kind.
func (g *Guild) Set(kind models.SetKind) (*membership.Toggle, error) {
	t, ok := g.sets[kind]
	if !ok {
		return nil, apperr.NewValidationError("kind", "unknown set kind "+string(kind))
	}
	return t, nil
}

// Channels returns the guild's text channels, or nil while not loaded.
func (g *Guild) Channels() []models.Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.channels == nil {
		return nil
	}
	return append([]models.Channel{}, g.channels...)
}

// Roles returns the guild's assignable roles, or nil while not loaded.
func (g *Guild) Roles() []models.Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.roles == nil {
		return nil
	}
	return append([]models.Role{}, g.roles...)
}

// Closed reports whether the guild context was torn down.
func (g *Guild) Closed() bool {
	return g.ctx.Err() != nil
}

// LoadCatalog refreshes the channel and role lists.
func (g *Guild) LoadCatalog(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	var channels []models.Channel
	var roles []models.Role
	eg.Go(func() error {
		var err error
		channels, err = g.remote.GetChannels(ctx, g.ID)
		return err
	})
	eg.Go(func() error {
		var err error
		roles, err = g.remote.GetRoles(ctx, g.ID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	if g.Closed() {
		return apperr.ErrStaleContext
	}
	g.mu.Lock()
	g.channels = channels
	g.roles = roles
	g.mu.Unlock()
	return nil
}

// enter mounts the push room and loads every component concurrently. Only
// leaving the guild cancels the loads; a failed load leaves its siblings
// running and the errors are joined.
func (g *Guild) enter(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()

	if err := g.Feed.Mount(ctx); err != nil {
		return err
	}
	if g.rooms != nil {
		sub, err := g.rooms.Subscribe(ctx, g.ID, g.route)
		if err != nil {
			return err
		}
		g.mu.Lock()
		g.sub = sub
		g.mu.Unlock()
		if g.Closed() {
			sub.Close()
			return apperr.ErrStaleContext
		}
	}

	loads := []func(context.Context) error{
		func(ctx context.Context) error { return g.Feed.LoadPage(ctx, 1) },
		g.Config.Load,
		g.LoadCatalog,
	}
	for _, kind := range SetKinds {
		loads = append(loads, g.sets[kind].Load)
	}

	errs := make([]error, len(loads))
	var wg sync.WaitGroup
	for i, load := range loads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = load(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// route handles the room events that are not violations.
func (g *Guild) route(evt models.PushEvent) {
	switch evt.Type {
	case models.EventSettingsUpdated:
		g.Config.OnSettingsChanged(evt)
	case models.EventWordsUpdated:
		go func() {
			err := g.sets[models.SetKindWord].Load(g.ctx)
			if err != nil && !errors.Is(err, apperr.ErrBusy) && !errors.Is(err, apperr.ErrStaleContext) {
				g.log.Warn("failed to reload words after push", "error", err)
			}
		}()
	}
}

func (g *Guild) close() {
	g.cancel()
	g.Feed.Close()
	g.Config.Close()
	for _, t := range g.sets {
		t.Close()
	}
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Manager holds the active guild of one dashboard user.
type Manager struct {
	remote Remote
	rooms  *push.Manager
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	current *Guild
}

// NewManager creates a Manager with no guild selected. rooms may be nil.
func NewManager(remote Remote, rooms *push.Manager, opts Options, log *slog.Logger) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Manager{remote: remote, rooms: rooms, opts: opts, log: log.With("component", "session")}
}

// Switch leaves the current guild, if any, and enters guildID. The new
// context is returned even when some of its loads failed; they can be
// retried per component.
func (m *Manager) Switch(ctx context.Context, guildID string) (*Guild, error) {
	if guildID == "" {
		return nil, apperr.NewValidationError("guild_id", "must not be empty")
	}

	g := m.newGuild(guildID)

	m.mu.Lock()
	prev := m.current
	m.current = g
	m.mu.Unlock()

	if prev != nil {
		prev.close()
		m.log.Info("left guild", "guild_id", prev.ID)
	}
	m.log.Info("entering guild", "guild_id", guildID)

	if err := g.enter(ctx); err != nil {
		if g.Closed() {
			return nil, apperr.ErrStaleContext
		}
		m.log.Warn("guild entered with errors", "guild_id", guildID, "error", err)
		return g, err
	}
	return g, nil
}

func (m *Manager) newGuild(guildID string) *Guild {
	ctx, cancel := context.WithCancel(context.Background())
	log := m.log.With("guild_id", guildID)

	onUpdate := func(kind models.SetKind, items []string) {
		log.Debug("membership updated", "kind", kind, "size", len(items))
		if m.opts.OnSetUpdate != nil {
			m.opts.OnSetUpdate(guildID, kind, items)
		}
	}

	sets := make(map[models.SetKind]*membership.Toggle, len(SetKinds))
	for _, kind := range SetKinds {
		sets[kind] = membership.New(guildID, kind, m.remote, onUpdate, m.log)
	}

	return &Guild{
		ID:   guildID,
		Feed: feed.New(guildID, m.remote, m.rooms, m.opts.Clock, m.log),
		Config: escalation.New(guildID, m.remote, escalation.Options{
			ReconcileDelay:     m.opts.ReconcileDelay,
			AutoCorrectChannel: m.opts.AutoCorrectChannel,
			Clock:              m.opts.Clock,
		}, m.log),
		Export: export.NewJob(m.remote, m.opts.ExportLimit, m.log),
		sets:   sets,
		remote: m.remote,
		rooms:  m.rooms,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Current returns the active guild.
func (m *Manager) Current() (*Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, apperr.NewValidationError("guild_id", "no guild selected")
	}
	return m.current, nil
}

// Close leaves the current guild.
func (m *Manager) Close() {
	m.mu.Lock()
	g := m.current
	m.current = nil
	m.mu.Unlock()
	if g != nil {
		g.close()
	}
}

// Registry keeps one Manager per dashboard user.
type Registry struct {
	remote Remote
	rooms  *push.Manager
	opts   Options
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Manager
}

// NewRegistry creates an empty Registry.
func NewRegistry(remote Remote, rooms *push.Manager, opts Options, log *slog.Logger) *Registry {
	return &Registry{
		remote:   remote,
		rooms:    rooms,
		opts:     opts,
		log:      log,
		sessions: make(map[uuid.UUID]*Manager),
	}
}

// For returns the user's Manager, creating it on first use.
func (r *Registry) For(userID uuid.UUID) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[userID]
	if !ok {
		m = NewManager(r.remote, r.rooms, r.opts, r.log.With("user_id", userID))
		r.sessions[userID] = m
	}
	return m
}

// End tears down the user's session, e.g. on logout.
func (r *Registry) End(userID uuid.UUID) {
	r.mu.Lock()
	m, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		m.Close()
	}
}

// Close tears down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uuid.UUID]*Manager)
	r.mu.Unlock()
	for _, m := range sessions {
		m.Close()
	}
}
