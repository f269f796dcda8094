// Package membership edits a guild's bypass roles, bypass channels and
// blocked words with one optimistic command in flight at a time.
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/models"
)

const clearPrompt = "Remove every entry from this list? This cannot be undone."

// SetStore is the remote side of the membership sets.
type SetStore interface {
	GetMembers(ctx context.Context, guildID string, kind models.SetKind) ([]string, error)
	AddMembers(ctx context.Context, guildID string, kind models.SetKind, ids []string) error
	RemoveMembers(ctx context.Context, guildID string, kind models.SetKind, ids []string) error
}

// Direction is what a command does to the set.
type Direction string

const (
	DirectionAdd    Direction = "add"
	DirectionRemove Direction = "remove"
)

// command captures one optimistic change so it can be reverted.
type command struct {
	ids       []string
	direction Direction
	previous  *models.MembershipSet
}

// UpdateFunc is notified after a change is confirmed by the service.
type UpdateFunc func(kind models.SetKind, items []string)

// State is a snapshot for presentation.
type State struct {
	Kind    models.SetKind `json:"kind"`
	Items   []string       `json:"items"`
	Loaded  bool           `json:"loaded"`
	Pending bool           `json:"pending"`
	// PendingIDs and PendingDirection describe the unconfirmed command.
	PendingIDs       []string  `json:"pending_ids,omitempty"`
	PendingDirection Direction `json:"pending_direction,omitempty"`
	Err              error     `json:"-"`
}

// Toggle owns one membership set of one guild.
type Toggle struct {
	guildID  string
	kind     models.SetKind
	store    SetStore
	onUpdate UpdateFunc
	log      *slog.Logger

	mu      sync.Mutex
	set     *models.MembershipSet
	pending *command
	loaded  bool
	err     error
	gen     uint64
	closed  bool
}

// New creates a Toggle with an empty set. onUpdate may be nil.
func New(guildID string, kind models.SetKind, store SetStore, onUpdate UpdateFunc, log *slog.Logger) *Toggle {
	return &Toggle{
		guildID:  guildID,
		kind:     kind,
		store:    store,
		onUpdate: onUpdate,
		log:      log.With("component", "membership", "guild_id", guildID, "kind", kind),
		set:      models.NewMembershipSet(),
	}
}

// Kind returns the set kind.
func (t *Toggle) Kind() models.SetKind {
	return t.kind
}

// Close drops every in-flight result.
func (t *Toggle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.gen++
}

// Load replaces the local set with the authoritative one.
func (t *Toggle) Load(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return apperr.ErrStaleContext
	}
	if t.pending != nil {
		t.mu.Unlock()
		return apperr.ErrBusy
	}
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	ids, err := t.store.GetMembers(ctx, t.guildID, t.kind)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen || t.pending != nil {
		return apperr.ErrStaleContext
	}
	if err != nil {
		t.err = err
		return err
	}
	t.set = models.NewMembershipSet(ids...)
	t.loaded = true
	t.err = nil
	return nil
}

// Items returns the current members.
func (t *Toggle) Items() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.Items()
}

// Contains reports membership.
func (t *Toggle) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.Contains(t.normalize(id))
}

// State returns a snapshot.
func (t *Toggle) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Kind:    t.kind,
		Items:   t.set.Items(),
		Loaded:  t.loaded,
		Pending: t.pending != nil,
		Err:     t.err,
	}
	if t.pending != nil {
		st.PendingIDs = append([]string(nil), t.pending.ids...)
		st.PendingDirection = t.pending.direction
	}
	return st
}

// Toggle removes id when present and adds it otherwise. A call made while
// another command is in flight returns apperr.ErrBusy without a request.
func (t *Toggle) Toggle(ctx context.Context, id string) (Direction, error) {
	id = t.normalize(id)
	if id == "" {
		return "", apperr.NewValidationError("id", "must not be empty")
	}

	t.mu.Lock()
	if err := t.ready(); err != nil {
		t.mu.Unlock()
		return "", err
	}
	dir := DirectionAdd
	if t.set.Contains(id) {
		dir = DirectionRemove
	}
	cmd := t.begin(dir, []string{id})
	t.mu.Unlock()

	return dir, t.commit(ctx, cmd)
}

// BulkAdd adds every id not yet present. Input is trimmed and deduplicated;
// when nothing remains apperr.ErrNothingToDo is returned without a request.
// It returns how many ids were added.
func (t *Toggle) BulkAdd(ctx context.Context, ids []string) (int, error) {
	t.mu.Lock()
	if err := t.ready(); err != nil {
		t.mu.Unlock()
		return 0, err
	}

	fresh := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = t.normalize(id)
		if id == "" || t.set.Contains(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		t.mu.Unlock()
		return 0, apperr.ErrNothingToDo
	}
	cmd := t.begin(DirectionAdd, fresh)
	t.mu.Unlock()

	if err := t.commit(ctx, cmd); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// Remove removes the given ids that are present.
func (t *Toggle) Remove(ctx context.Context, ids []string) error {
	t.mu.Lock()
	if err := t.ready(); err != nil {
		t.mu.Unlock()
		return err
	}

	present := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = t.normalize(id)
		if !t.set.Contains(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		present = append(present, id)
	}
	if len(present) == 0 {
		t.mu.Unlock()
		return apperr.ErrNothingToDo
	}
	cmd := t.begin(DirectionRemove, present)
	t.mu.Unlock()

	return t.commit(ctx, cmd)
}

// Clear removes the whole set once confirm agrees.
func (t *Toggle) Clear(ctx context.Context, confirm models.Confirmer) error {
	t.mu.Lock()
	if err := t.ready(); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.set.Len() == 0 {
		t.mu.Unlock()
		return apperr.ErrNothingToDo
	}
	t.mu.Unlock()

	if confirm == nil || !confirm.Confirm(clearPrompt) {
		return apperr.ErrNotConfirmed
	}

	t.mu.Lock()
	if err := t.ready(); err != nil {
		t.mu.Unlock()
		return err
	}
	all := t.set.Items()
	if len(all) == 0 {
		t.mu.Unlock()
		return apperr.ErrNothingToDo
	}
	cmd := t.begin(DirectionRemove, all)
	t.mu.Unlock()

	return t.commit(ctx, cmd)
}

// ready must be called with t.mu held.
func (t *Toggle) ready() error {
	if t.closed {
		return apperr.ErrStaleContext
	}
	if t.pending != nil {
		return apperr.ErrBusy
	}
	if !t.loaded {
		return apperr.ErrNotLoaded
	}
	return nil
}

// begin applies cmd locally and marks it pending. t.mu must be held.
func (t *Toggle) begin(dir Direction, ids []string) *command {
	cmd := &command{ids: ids, direction: dir, previous: t.set.Clone()}
	for _, id := range ids {
		if dir == DirectionAdd {
			t.set.Add(id)
		} else {
			t.set.Remove(id)
		}
	}
	t.pending = cmd
	return cmd
}

// commit sends cmd and either confirms it or restores the previous set.
func (t *Toggle) commit(ctx context.Context, cmd *command) error {
	var err error
	if cmd.direction == DirectionAdd {
		err = t.store.AddMembers(ctx, t.guildID, t.kind, cmd.ids)
	} else {
		err = t.store.RemoveMembers(ctx, t.guildID, t.kind, cmd.ids)
	}

	t.mu.Lock()
	if t.closed || t.pending != cmd {
		t.mu.Unlock()
		return apperr.ErrStaleContext
	}
	t.pending = nil
	if err != nil {
		t.set = cmd.previous
		t.err = err
		t.mu.Unlock()
		t.log.Warn("membership change failed, rolled back", "direction", cmd.direction, "count", len(cmd.ids), "error", err)
		return fmt.Errorf("%s %s: %w", cmd.direction, t.kind, err)
	}
	t.err = nil
	items := t.set.Items()
	t.mu.Unlock()

	t.log.Debug("membership change confirmed", "direction", cmd.direction, "count", len(cmd.ids))
	if t.onUpdate != nil {
		t.onUpdate(t.kind, items)
	}
	return nil
}

// normalize trims ids; words are also lower-cased.
func (t *Toggle) normalize(id string) string {
	id = strings.TrimSpace(id)
	if t.kind == models.SetKindWord {
		id = strings.ToLower(id)
	}
	return id
}
