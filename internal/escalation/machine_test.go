package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/logging"
	"github.com/tullo/moddash/internal/models"
)

const guild = "42"

// fakeStore keeps one configuration and can normalize the log channel id on
// write the way the real service does.
type fakeStore struct {
	mu        sync.Mutex
	cfg       models.ModerationConfig
	normalize func(string) string
	getErr    error
	putErr    error
	gets      int
	puts      int
	putGate   chan struct{}
}

func newFakeStore(cfg models.ModerationConfig) *fakeStore {
	return &fakeStore{cfg: cfg}
}

func (f *fakeStore) GetConfig(context.Context, string) (models.ModerationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return models.ModerationConfig{}, f.getErr
	}
	return f.cfg.Clone(), nil
}

func (f *fakeStore) UpdateConfig(_ context.Context, _ string, cfg models.ModerationConfig) error {
	f.mu.Lock()
	f.puts++
	gate := f.putGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.cfg = cfg.Clone()
	if f.normalize != nil && f.cfg.LogChannelID != nil {
		id := f.normalize(*f.cfg.LogChannelID)
		f.cfg.LogChannelID = &id
	}
	return nil
}

func (f *fakeStore) counts() (gets, puts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.puts
}

func ptr(s string) *string { return &s }

func newMachine(store ConfigStore, clock clockwork.Clock, autoCorrect bool) *Machine {
	return New(guild, store, Options{Clock: clock, AutoCorrectChannel: autoCorrect}, logging.Discard())
}

// loadedMachine returns a machine that has read the store once.
func loadedMachine(t *testing.T, store *fakeStore, clock clockwork.Clock) *Machine {
	t.Helper()
	m := newMachine(store, clock, false)
	require.NoError(t, m.Load(context.Background()))
	return m
}

func TestSave_RejectedBeforeLoad(t *testing.T) {
	remote := models.DefaultModerationConfig()
	remote.ActionType = models.ActionTypeDeleteTimeoutKick
	remote.TimeoutMinutes = 60
	remote.LogChannelID = ptr("77")
	store := newFakeStore(remote)
	store.getErr = &apperr.NetworkError{Op: "load settings", Err: errors.New("refused")}
	m := newMachine(store, clockwork.NewFakeClock(), false)

	assert.ErrorIs(t, m.Load(context.Background()), apperr.ErrNetwork)
	assert.False(t, m.State().Loaded)

	m.SetTimeoutMinutes(30)
	assert.ErrorIs(t, m.Save(context.Background()), apperr.ErrNotLoaded)
	_, puts := store.counts()
	assert.Zero(t, puts, "defaults must never overwrite the remote configuration")
	assert.Equal(t, StatusIdle, m.Status())

	store.mu.Lock()
	store.getErr = nil
	store.mu.Unlock()
	require.NoError(t, m.Load(context.Background()))
	m.SetTimeoutMinutes(30)
	require.NoError(t, m.Save(context.Background()))

	store.mu.Lock()
	saved := store.cfg
	store.mu.Unlock()
	assert.Equal(t, 30, saved.TimeoutMinutes)
	require.NotNil(t, saved.LogChannelID)
	assert.Equal(t, "77", *saved.LogChannelID)
}

func TestSave_RejectsKickNotAboveTimeoutWithoutNetwork(t *testing.T) {
	store := newFakeStore(models.DefaultModerationConfig())
	m := loadedMachine(t, store, clockwork.NewFakeClock())

	require.NoError(t, m.SetActionType(models.ActionTypeDeleteTimeoutKick))
	m.SetTimeoutAfterCount(5)
	m.SetKickAfterCount(3)

	err := m.Save(context.Background())
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has(models.FieldKickAfterCount))
	assert.False(t, m.Valid())
	assert.False(t, m.State().Valid)

	m.SetKickAfterCount(5)
	assert.Error(t, m.Validate(), "equal thresholds are rejected too")

	_, puts := store.counts()
	assert.Zero(t, puts)
	assert.Equal(t, StatusIdle, m.Status())
}

func TestSave_ReconcileAdoptsCanonicalLogChannel(t *testing.T) {
	store := newFakeStore(models.DefaultModerationConfig())
	store.normalize = func(id string) string { return "1234567890123456789" }
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))
	m := loadedMachine(t, store, clock)

	require.NoError(t, m.SetActionType(models.ActionTypeDeleteTimeout))
	m.SetTimeoutMinutes(10)
	m.SetLogChannel(ptr("<#1234567890123456789>"))

	require.NoError(t, m.Save(context.Background()))
	st := m.State()
	assert.Equal(t, StatusSaved, st.Status)
	require.NotNil(t, st.LastSaved)
	assert.Equal(t, clock.Now(), *st.LastSaved)
	assert.Equal(t, "<#1234567890123456789>", *st.Config.LogChannelID)

	// another writer changes an unrelated field before the reconcile read
	store.mu.Lock()
	store.cfg.TimeoutMinutes = 99
	store.mu.Unlock()

	clock.Advance(MinReconcileDelay - time.Millisecond)
	assert.Equal(t, StatusSaved, m.Status())
	gets, _ := store.counts()
	assert.Equal(t, 1, gets, "only the initial load so far")

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return m.Status() == StatusIdle }, time.Second, time.Millisecond)

	cfg := m.Config()
	require.NotNil(t, cfg.LogChannelID)
	assert.Equal(t, "1234567890123456789", *cfg.LogChannelID)
	assert.Equal(t, 10, cfg.TimeoutMinutes, "only the log channel is reconciled")
	assert.False(t, m.State().Dirty)
}

func TestSave_FailureKeepsWorkingCopy(t *testing.T) {
	store := newFakeStore(models.DefaultModerationConfig())
	store.putErr = &apperr.ServiceError{Op: "save settings", StatusCode: 500, Message: "boom"}
	m := loadedMachine(t, store, clockwork.NewFakeClock())

	m.SetEnabled(false)
	m.SetTimeoutAfterCount(7)
	before := m.Config()

	err := m.Save(context.Background())
	assert.ErrorIs(t, err, apperr.ErrService)

	st := m.State()
	assert.Equal(t, before, st.Config)
	assert.True(t, st.Dirty)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Nil(t, st.LastSaved)
	assert.ErrorIs(t, st.Err, apperr.ErrService)
}

func TestSave_ReconcileFailureDoesNotRollBack(t *testing.T) {
	store := newFakeStore(models.DefaultModerationConfig())
	clock := clockwork.NewFakeClock()
	m := loadedMachine(t, store, clock)

	m.SetLogChannel(ptr("555"))
	require.NoError(t, m.Save(context.Background()))

	store.mu.Lock()
	store.getErr = &apperr.NetworkError{Op: "load settings", Err: errors.New("timeout")}
	store.mu.Unlock()

	clock.Advance(MinReconcileDelay)
	require.Eventually(t, func() bool { return m.Status() == StatusIdle }, time.Second, time.Millisecond)

	st := m.State()
	assert.ErrorIs(t, st.ReconcileErr, apperr.ErrNetwork)
	assert.Equal(t, "555", *st.Config.LogChannelID)
	assert.False(t, st.Dirty)
	assert.NotNil(t, st.LastSaved)
}

func TestSave_BusyWhileSaving(t *testing.T) {
	store := newFakeStore(models.DefaultModerationConfig())
	store.putGate = make(chan struct{})
	m := loadedMachine(t, store, clockwork.NewFakeClock())

	done := make(chan error, 1)
	go func() { done <- m.Save(context.Background()) }()
	require.Eventually(t, func() bool { return m.Status() == StatusSaving }, time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Save(context.Background()), apperr.ErrBusy)
	assert.ErrorIs(t, m.Load(context.Background()), apperr.ErrBusy)

	close(store.putGate)
	require.NoError(t, <-done)
	_, puts := store.counts()
	assert.Equal(t, 1, puts)
}

func TestReconcileDelayHasFloor(t *testing.T) {
	m := New(guild, newFakeStore(models.DefaultModerationConfig()), Options{ReconcileDelay: 50 * time.Millisecond}, logging.Discard())
	assert.Equal(t, MinReconcileDelay, m.opts.ReconcileDelay)
}

func TestSetters_Clamp(t *testing.T) {
	m := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), false)

	assert.Equal(t, 1, m.SetTimeoutAfterCount(0))
	assert.Equal(t, 50, m.SetTimeoutAfterCount(51))
	assert.Equal(t, 1440, m.SetTimeoutMinutes(100000))
	assert.Equal(t, 1, m.SetTimeoutMinutes(-5))
	assert.Equal(t, 50, m.SetKickAfterCount(1000))

	assert.Equal(t, 12, m.SetTimeoutAfterCountText(" 12 "))
	assert.Equal(t, 12, m.SetTimeoutAfterCountText("abc"), "non-numeric keeps the prior value")
	assert.Equal(t, 12, m.SetTimeoutAfterCountText(""))
	assert.Equal(t, 12, m.SetTimeoutAfterCountText("3.5"))
	assert.Equal(t, 50, m.SetTimeoutAfterCountText("99999999999999999999999"))
	assert.Equal(t, 1, m.SetTimeoutMinutesText("-99999999999999999999999"))
	assert.Equal(t, 30, m.SetKickAfterCountText("30"))
}

func TestSetActionType_KeepsThresholds(t *testing.T) {
	m := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), false)

	require.NoError(t, m.SetActionType(models.ActionTypeDeleteTimeoutKick))
	m.SetTimeoutAfterCount(4)
	m.SetKickAfterCount(9)
	assert.Equal(t, []string{models.FieldTimeoutAfterCount, models.FieldTimeoutMinutes, models.FieldKickAfterCount}, m.State().RelevantFields)

	require.NoError(t, m.SetActionType(models.ActionTypeDeleteOnly))
	assert.Empty(t, m.State().RelevantFields)
	require.NoError(t, m.SetActionType(models.ActionTypeDeleteTimeoutKick))

	cfg := m.Config()
	assert.Equal(t, 4, cfg.TimeoutAfterCount)
	assert.Equal(t, 9, cfg.KickAfterCount)

	err := m.SetActionType("ban_everyone")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, models.ActionTypeDeleteTimeoutKick, m.Config().ActionType)
}

func TestDeleteOnly_IgnoresThresholds(t *testing.T) {
	m := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), false)
	m.SetTimeoutAfterCount(10)
	m.SetKickAfterCount(2)
	assert.True(t, m.Valid(), "kick ordering only applies to the full tier")
}

func TestReset_RequiresConfirmation(t *testing.T) {
	store := newFakeStore(models.DefaultModerationConfig())
	m := newMachine(store, clockwork.NewFakeClock(), false)
	m.SetEnabled(false)
	m.SetLogChannel(ptr("9"))

	assert.ErrorIs(t, m.Reset(nil), apperr.ErrNotConfirmed)
	assert.ErrorIs(t, m.Reset(models.ConfirmFunc(func(string) bool { return false })), apperr.ErrNotConfirmed)
	assert.False(t, m.Config().Enabled)

	var prompt string
	require.NoError(t, m.Reset(models.ConfirmFunc(func(p string) bool { prompt = p; return true })))
	assert.NotEmpty(t, prompt)
	assert.Equal(t, models.DefaultModerationConfig(), m.Config())

	gets, puts := store.counts()
	assert.Zero(t, gets+puts, "reset never touches the server")
}

func TestLoad_AndStaleAfterClose(t *testing.T) {
	remote := models.DefaultModerationConfig()
	remote.ActionType = models.ActionTypeDeleteTimeout
	remote.LogChannelID = ptr("77")
	store := newFakeStore(remote)
	m := newMachine(store, clockwork.NewFakeClock(), false)

	require.NoError(t, m.Load(context.Background()))
	st := m.State()
	assert.True(t, st.Loaded)
	assert.False(t, st.Dirty)
	assert.Equal(t, remote, st.Config)

	m.Close()
	assert.ErrorIs(t, m.Load(context.Background()), apperr.ErrStaleContext)
	assert.ErrorIs(t, m.Save(context.Background()), apperr.ErrStaleContext)
}

func TestOnSettingsChanged(t *testing.T) {
	settings := func(body string) models.PushEvent {
		return models.PushEvent{
			Type:    models.EventSettingsUpdated,
			GuildID: guild,
			Payload: []byte(`{"guild_id":"42","settings":` + body + `}`),
		}
	}

	t.Run("clean copy adopts remote values", func(t *testing.T) {
		m := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), false)
		m.OnSettingsChanged(settings(`{"action_type":"delete_timeout","timeout_minutes":60,"log_channel_id":1234567890123456789}`))

		cfg := m.Config()
		assert.Equal(t, models.ActionTypeDeleteTimeout, cfg.ActionType)
		assert.Equal(t, 60, cfg.TimeoutMinutes)
		assert.Equal(t, "1234567890123456789", *cfg.LogChannelID)
		assert.False(t, m.State().Dirty)
		assert.False(t, m.State().RemoteChanged)

		m.OnSettingsChanged(settings(`{"log_channel_id":null}`))
		assert.Nil(t, m.Config().LogChannelID)
	})

	t.Run("dirty copy is flagged, not overwritten", func(t *testing.T) {
		m := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), false)
		m.SetEnabled(false)
		m.OnSettingsChanged(settings(`{"enabled":true,"timeout_minutes":60}`))

		st := m.State()
		assert.False(t, st.Config.Enabled)
		assert.Equal(t, 5, st.Config.TimeoutMinutes)
		assert.True(t, st.RemoteChanged)
	})

	t.Run("other guilds and garbage are ignored", func(t *testing.T) {
		m := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), false)
		evt := settings(`{"enabled":false}`)
		evt.GuildID = "other"
		m.OnSettingsChanged(evt)
		m.OnSettingsChanged(settings(`[1,2]`))
		assert.True(t, m.Config().Enabled)
	})
}

func TestResolveChannel(t *testing.T) {
	channels := []models.Channel{
		{ID: "111111111111111001", Name: "general"},
		{ID: "222222222222222001", Name: "mod-log"},
		{ID: "333333333333333001", Name: "a"},
		{ID: "333333333333333002", Name: "b"},
	}

	tests := []struct {
		name string
		id   string
		kind MatchKind
		want string
	}{
		{"exact", "222222222222222001", MatchExact, "mod-log"},
		{"fuzzy single candidate", "222222222222222999", MatchFuzzy, "mod-log"},
		{"ambiguous prefix", "333333333333333999", MatchNotFound, ""},
		{"no candidate", "999999999999999999", MatchNotFound, ""},
		{"short id never fuzzes past its length", "2222", MatchNotFound, ""},
		{"empty", "", MatchNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveChannel(tt.id, channels)
			assert.Equal(t, tt.kind, res.Kind)
			if tt.want == "" {
				assert.Nil(t, res.Channel)
				return
			}
			require.NotNil(t, res.Channel)
			assert.Equal(t, tt.want, res.Channel.Name)
		})
	}

	assert.Equal(t, 2, ResolveChannel("333333333333333999", channels).Candidates)
}

func TestLogChannelStatus(t *testing.T) {
	channels := []models.Channel{{ID: "222222222222222001", Name: "mod-log"}}

	m := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), false)
	assert.Equal(t, ChannelDisabled, m.LogChannelStatus(channels).State)

	m.SetLogChannel(ptr("222222222222222999"))
	assert.Equal(t, ChannelLoading, m.LogChannelStatus(nil).State)

	st := m.LogChannelStatus(channels)
	assert.Equal(t, ChannelResolved, st.State)
	require.NotNil(t, st.Suggested)
	assert.False(t, st.Corrected)
	assert.Equal(t, "222222222222222999", *m.Config().LogChannelID, "suggestion only")

	m.SetLogChannel(ptr("999"))
	st = m.LogChannelStatus(channels)
	assert.Equal(t, ChannelNotFound, st.State)
	assert.ErrorIs(t, st.Err, apperr.ErrNotFound)

	auto := newMachine(newFakeStore(models.DefaultModerationConfig()), clockwork.NewFakeClock(), true)
	auto.SetLogChannel(ptr("222222222222222999"))
	st = auto.LogChannelStatus(channels)
	assert.True(t, st.Corrected)
	assert.Equal(t, "222222222222222001", *auto.Config().LogChannelID)
	assert.Equal(t, ChannelResolved, auto.LogChannelStatus(channels).State)
}
