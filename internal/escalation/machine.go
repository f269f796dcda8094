// Package escalation holds the editable escalation configuration of one
// guild: dependent-field setters, local validation, and the two-phase
// save-then-reconcile protocol.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/models"
)

// MinReconcileDelay is the shortest wait between a successful save and the
// reconciliation read.
const MinReconcileDelay = 500 * time.Millisecond

// reconcileTimeout bounds the reconciliation read.
const reconcileTimeout = 10 * time.Second

const resetPrompt = "Reset all settings to their defaults? Unsaved changes will be lost."

// ConfigStore is the remote side of the configuration.
type ConfigStore interface {
	GetConfig(ctx context.Context, guildID string) (models.ModerationConfig, error)
	UpdateConfig(ctx context.Context, guildID string, cfg models.ModerationConfig) error
}

// SaveStatus is the position in the save protocol.
type SaveStatus string

const (
	StatusIdle        SaveStatus = "idle"
	StatusSaving      SaveStatus = "saving"
	StatusSaved       SaveStatus = "saved"
	StatusReconciling SaveStatus = "reconciling"
)

// Options tune a Machine.
type Options struct {
	// ReconcileDelay is raised to MinReconcileDelay when shorter.
	ReconcileDelay time.Duration
	// AutoCorrectChannel rewrites a fuzzily matched log channel id in the
	// working copy. When false the match is only suggested.
	AutoCorrectChannel bool
	Clock              clockwork.Clock
}

// State is a snapshot for presentation.
type State struct {
	Config         models.ModerationConfig `json:"config"`
	RelevantFields []string                `json:"relevant_fields"`
	Valid          bool                    `json:"valid"`
	Errors         []apperr.FieldError     `json:"errors,omitempty"`
	Loaded         bool                    `json:"loaded"`
	Dirty          bool                    `json:"dirty"`
	Status         SaveStatus              `json:"status"`
	LastSaved      *time.Time              `json:"last_saved,omitempty"`
	// RemoteChanged is set when another writer changed the settings while
	// the working copy had unsaved edits.
	RemoteChanged bool  `json:"remote_changed"`
	Err           error `json:"-"`
	ReconcileErr  error `json:"-"`
}

// Machine owns the working copy of one guild's configuration.
type Machine struct {
	guildID string
	store   ConfigStore
	opts    Options
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	working       models.ModerationConfig
	baseline      models.ModerationConfig
	loaded        bool
	status        SaveStatus
	lastSaved     time.Time
	err           error
	reconcileErr  error
	remoteChanged bool
	loadGen       uint64
	saveGen       uint64
	timer         clockwork.Timer
	closed        bool
}

// New creates a Machine whose working copy starts at the defaults.
func New(guildID string, store ConfigStore, opts Options, log *slog.Logger) *Machine {
	if opts.ReconcileDelay < MinReconcileDelay {
		opts.ReconcileDelay = MinReconcileDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		guildID:  guildID,
		store:    store,
		opts:     opts,
		log:      log.With("component", "escalation", "guild_id", guildID),
		ctx:      ctx,
		cancel:   cancel,
		working:  models.DefaultModerationConfig(),
		baseline: models.DefaultModerationConfig(),
		status:   StatusIdle,
	}
}

// GuildID returns the guild this machine edits.
func (m *Machine) GuildID() string {
	return m.guildID
}

// Close stops any pending reconciliation and drops in-flight results.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.loadGen++
	m.saveGen++
	if m.timer != nil {
		m.timer.Stop()
	}
	m.cancel()
}

// Load replaces the working copy with the remote configuration.
func (m *Machine) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperr.ErrStaleContext
	}
	if m.status == StatusSaving {
		m.mu.Unlock()
		return apperr.ErrBusy
	}
	m.loadGen++
	gen := m.loadGen
	m.mu.Unlock()

	cfg, err := m.store.GetConfig(ctx, m.guildID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.loadGen {
		return apperr.ErrStaleContext
	}
	if err != nil {
		m.err = err
		m.log.Warn("failed to load configuration", "error", err)
		return err
	}
	m.working = cfg.Clone()
	m.baseline = cfg.Clone()
	m.loaded = true
	m.remoteChanged = false
	m.err = nil
	return nil
}

// RelevantFields lists the threshold fields the action type uses.
func RelevantFields(t models.ActionType) []string {
	switch t {
	case models.ActionTypeDeleteTimeout:
		return []string{models.FieldTimeoutAfterCount, models.FieldTimeoutMinutes}
	case models.ActionTypeDeleteTimeoutKick:
		return []string{models.FieldTimeoutAfterCount, models.FieldTimeoutMinutes, models.FieldKickAfterCount}
	}
	return []string{}
}

// State returns a snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		Config:         m.working.Clone(),
		RelevantFields: RelevantFields(m.working.ActionType),
		Valid:          true,
		Loaded:         m.loaded,
		Dirty:          !m.working.Equal(m.baseline),
		Status:         m.status,
		RemoteChanged:  m.remoteChanged,
		Err:            m.err,
		ReconcileErr:   m.reconcileErr,
	}
	var verr *apperr.ValidationError
	if errors.As(m.working.Validate(), &verr) {
		st.Valid = false
		st.Errors = verr.Errors
	}
	if !m.lastSaved.IsZero() {
		t := m.lastSaved
		st.LastSaved = &t
	}
	return st
}

// Config returns a copy of the working configuration.
func (m *Machine) Config() models.ModerationConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.working.Clone()
}

// Status returns the save protocol state.
func (m *Machine) Status() SaveStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Valid reports whether the working copy may be saved.
func (m *Machine) Valid() bool {
	return m.Validate() == nil
}

// Validate returns the working copy's *apperr.ValidationError, if any.
func (m *Machine) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.working.Validate()
}

// Setters

func (m *Machine) SetEnabled(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.working.Enabled = v
}

// SetActionType switches the escalation tier. Thresholds are kept so the
// user can switch back without re-entering them.
func (m *Machine) SetActionType(t models.ActionType) error {
	if !t.Valid() {
		return apperr.NewValidationError(models.FieldActionType, fmt.Sprintf("unknown action type %q", t))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.working.ActionType = t
	return nil
}

// SetTimeoutAfterCount clamps n to [1,50] and returns the stored value.
func (m *Machine) SetTimeoutAfterCount(n int) int {
	return m.setInt(&m.working.TimeoutAfterCount, n, models.MinSwearCount, models.MaxSwearCount)
}

// SetTimeoutMinutes clamps n to [1,1440] and returns the stored value.
func (m *Machine) SetTimeoutMinutes(n int) int {
	return m.setInt(&m.working.TimeoutMinutes, n, models.MinTimeoutMinutes, models.MaxTimeoutMinutes)
}

// SetKickAfterCount clamps n to [1,50] and returns the stored value.
func (m *Machine) SetKickAfterCount(n int) int {
	return m.setInt(&m.working.KickAfterCount, n, models.MinSwearCount, models.MaxSwearCount)
}

// SetTimeoutAfterCountText takes raw user input. Non-numeric text keeps the
// previous value.
func (m *Machine) SetTimeoutAfterCountText(text string) int {
	return m.setText(&m.working.TimeoutAfterCount, text, models.MinSwearCount, models.MaxSwearCount)
}

func (m *Machine) SetTimeoutMinutesText(text string) int {
	return m.setText(&m.working.TimeoutMinutes, text, models.MinTimeoutMinutes, models.MaxTimeoutMinutes)
}

func (m *Machine) SetKickAfterCountText(text string) int {
	return m.setText(&m.working.KickAfterCount, text, models.MinSwearCount, models.MaxSwearCount)
}

// SetLogChannel sets the log channel; nil disables logging.
func (m *Machine) SetLogChannel(id *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == nil || strings.TrimSpace(*id) == "" {
		m.working.LogChannelID = nil
		return
	}
	v := strings.TrimSpace(*id)
	m.working.LogChannelID = &v
}

func (m *Machine) setInt(field *int, n, lo, hi int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field = clamp(n, lo, hi)
	return *field
}

func (m *Machine) setText(field *int, text string, lo, hi int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := parseClamped(text, lo, hi); ok {
		*field = n
	}
	return *field
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

// parseClamped parses an integer, clamping values too large for int64 to
// the matching bound instead of rejecting them.
func parseClamped(text string, lo, hi int) (int, bool) {
	text = strings.TrimSpace(text)
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			if strings.HasPrefix(text, "-") {
				return lo, true
			}
			return hi, true
		}
		return 0, false
	}
	switch {
	case n < int64(lo):
		return lo, true
	case n > int64(hi):
		return hi, true
	}
	return int(n), true
}

// Reset reverts the working copy, not the server, to the defaults once
// confirm agrees.
func (m *Machine) Reset(confirm models.Confirmer) error {
	if confirm == nil || !confirm.Confirm(resetPrompt) {
		return apperr.ErrNotConfirmed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.working = models.DefaultModerationConfig()
	return nil
}

// Save writes the whole working copy. It fails with apperr.ErrNotLoaded until
// a Load has succeeded. Invalid configurations are rejected
// locally. After a successful write the machine waits ReconcileDelay and
// re-reads the configuration, adopting the server's log channel id.
func (m *Machine) Save(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperr.ErrStaleContext
	}
	if m.status == StatusSaving {
		m.mu.Unlock()
		return apperr.ErrBusy
	}
	if !m.loaded {
		m.mu.Unlock()
		return apperr.ErrNotLoaded
	}
	if err := m.working.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.saveGen++
	gen := m.saveGen
	m.status = StatusSaving
	snapshot := m.working.Clone()
	m.mu.Unlock()

	err := m.store.UpdateConfig(ctx, m.guildID, snapshot)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.saveGen {
		return apperr.ErrStaleContext
	}
	if err != nil {
		m.status = StatusIdle
		m.err = err
		m.log.Warn("failed to save configuration", "error", err)
		return err
	}

	m.status = StatusSaved
	m.lastSaved = m.opts.Clock.Now()
	m.baseline = snapshot
	m.err = nil
	m.reconcileErr = nil
	m.remoteChanged = false
	m.timer = m.opts.Clock.AfterFunc(m.opts.ReconcileDelay, func() { m.reconcile(gen) })
	m.log.Info("configuration saved", "action_type", snapshot.ActionType)
	return nil
}

func (m *Machine) reconcile(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.saveGen {
		m.mu.Unlock()
		return
	}
	m.status = StatusReconciling
	m.timer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.ctx, reconcileTimeout)
	defer cancel()
	cfg, err := m.store.GetConfig(ctx, m.guildID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.saveGen {
		return
	}
	m.status = StatusIdle
	if err != nil {
		m.reconcileErr = err
		m.log.Warn("failed to reconcile configuration", "error", err)
		return
	}

	m.working.LogChannelID = cfg.Clone().LogChannelID
	m.baseline.LogChannelID = cfg.Clone().LogChannelID
}

// OnSettingsChanged handles a settings_updated push for this guild. A clean
// working copy adopts the remote values; a dirty one only records that the
// remote changed underneath it.
func (m *Machine) OnSettingsChanged(evt models.PushEvent) {
	if evt.Type != models.EventSettingsUpdated || evt.GuildID != m.guildID {
		return
	}
	patch, err := decodeSettingsPatch(evt.Payload)
	if err != nil {
		m.log.Warn("dropping malformed settings push", "error", err)
		return
	}
	if patch.empty() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.status != StatusIdle || !m.working.Equal(m.baseline) {
		m.remoteChanged = true
		return
	}
	patch.apply(&m.working)
	patch.apply(&m.baseline)
}

// LogChannelStatus resolves the working copy's log channel against the
// known channel list. channels == nil means the list is not loaded yet.
func (m *Machine) LogChannelStatus(channels []models.Channel) ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.working.LogChannelID == nil {
		return ChannelStatus{State: ChannelDisabled}
	}
	id := *m.working.LogChannelID
	if channels == nil {
		return ChannelStatus{State: ChannelLoading, ChannelID: id}
	}

	res := ResolveChannel(id, channels)
	switch res.Kind {
	case MatchExact:
		return ChannelStatus{State: ChannelResolved, ChannelID: id, Channel: res.Channel}
	case MatchFuzzy:
		if m.opts.AutoCorrectChannel {
			corrected := res.Channel.ID
			m.working.LogChannelID = &corrected
			m.log.Info("corrected log channel id", "from", id, "to", corrected)
			return ChannelStatus{State: ChannelResolved, ChannelID: corrected, Channel: res.Channel, Corrected: true}
		}
		return ChannelStatus{State: ChannelResolved, ChannelID: id, Channel: res.Channel, Suggested: res.Channel}
	}
	return ChannelStatus{
		State:     ChannelNotFound,
		ChannelID: id,
		Err:       &apperr.NotFoundError{Entity: "log channel", ID: id},
	}
}

// ChannelState distinguishes a disabled log channel from a broken one.
type ChannelState string

const (
	ChannelDisabled ChannelState = "disabled"
	ChannelResolved ChannelState = "resolved"
	ChannelLoading  ChannelState = "loading"
	ChannelNotFound ChannelState = "notFound"
)

// ChannelStatus is the display state of the log channel.
type ChannelStatus struct {
	State     ChannelState    `json:"state"`
	ChannelID string          `json:"channel_id,omitempty"`
	Channel   *models.Channel `json:"channel,omitempty"`
	// Suggested is a fuzzy match that was not applied.
	Suggested *models.Channel `json:"suggested,omitempty"`
	Corrected bool            `json:"corrected,omitempty"`
	Err       error           `json:"-"`
}
