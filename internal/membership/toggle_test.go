package membership

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/logging"
	"github.com/tullo/moddash/internal/models"
)

type call struct {
	op  string
	ids []string
}

type fakeStore struct {
	mu      sync.Mutex
	members []string
	calls   []call
	err     error
	gate    chan struct{}
}

func (f *fakeStore) GetMembers(context.Context, string, models.SetKind) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "get"})
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.members...), nil
}

func (f *fakeStore) AddMembers(_ context.Context, _ string, _ models.SetKind, ids []string) error {
	return f.mutate("add", ids)
}

func (f *fakeStore) RemoveMembers(_ context.Context, _ string, _ models.SetKind, ids []string) error {
	return f.mutate("remove", ids)
}

func (f *fakeStore) mutate(op string, ids []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{op: op, ids: append([]string(nil), ids...)})
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStore) callLog() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func loaded(t *testing.T, kind models.SetKind, store *fakeStore, onUpdate UpdateFunc) *Toggle {
	t.Helper()
	tg := New("42", kind, store, onUpdate, logging.Discard())
	require.NoError(t, tg.Load(context.Background()))
	return tg
}

func TestToggle_Idempotence(t *testing.T) {
	store := &fakeStore{members: []string{"r1"}}
	var updates [][]string
	tg := loaded(t, models.SetKindRole, store, func(_ models.SetKind, items []string) {
		updates = append(updates, items)
	})
	ctx := context.Background()

	dir, err := tg.Toggle(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, DirectionAdd, dir)
	assert.True(t, tg.Contains("r2"))

	dir, err = tg.Toggle(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, DirectionRemove, dir)
	assert.False(t, tg.Contains("r2"))

	assert.Equal(t, [][]string{{"r1", "r2"}, {"r1"}}, updates)
	assert.Equal(t, []call{{op: "get"}, {op: "add", ids: []string{"r2"}}, {op: "remove", ids: []string{"r2"}}}, store.callLog())
}

func TestToggle_BusyWhilePending(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	tg := loaded(t, models.SetKindChannel, store, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := tg.Toggle(ctx, "c1")
		done <- err
	}()
	require.Eventually(t, func() bool { return tg.State().Pending }, time.Second, time.Millisecond)

	st := tg.State()
	assert.Equal(t, []string{"c1"}, st.PendingIDs)
	assert.Equal(t, DirectionAdd, st.PendingDirection)

	for i := 0; i < 3; i++ {
		_, err := tg.Toggle(ctx, "c1")
		assert.ErrorIs(t, err, apperr.ErrBusy)
	}
	_, err := tg.BulkAdd(ctx, []string{"c9"})
	assert.ErrorIs(t, err, apperr.ErrBusy)
	assert.ErrorIs(t, tg.Load(ctx), apperr.ErrBusy)

	close(store.gate)
	require.NoError(t, <-done)
	assert.True(t, tg.Contains("c1"))
	assert.Len(t, store.callLog(), 2, "one load and exactly one add")
}

func TestToggle_RollsBackOnFailure(t *testing.T) {
	store := &fakeStore{members: []string{"a", "b"}}
	updated := false
	tg := loaded(t, models.SetKindWord, store, func(models.SetKind, []string) { updated = true })

	store.err = &apperr.ServiceError{Op: "remove words", StatusCode: 500, Message: "boom"}
	_, err := tg.Toggle(context.Background(), "A")
	assert.ErrorIs(t, err, apperr.ErrService)

	st := tg.State()
	assert.Equal(t, []string{"a", "b"}, st.Items)
	assert.False(t, st.Pending)
	assert.ErrorIs(t, st.Err, apperr.ErrService)
	assert.False(t, updated)
}

func TestBulkAdd_PreFilters(t *testing.T) {
	store := &fakeStore{members: []string{"darn"}}
	tg := loaded(t, models.SetKindWord, store, nil)
	ctx := context.Background()

	n, err := tg.BulkAdd(ctx, []string{" Heck ", "darn", "", "heck", "DARN", "gosh"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"darn", "heck", "gosh"}, tg.Items())

	calls := store.callLog()
	assert.Equal(t, call{op: "add", ids: []string{"heck", "gosh"}}, calls[len(calls)-1])

	_, err = tg.BulkAdd(ctx, []string{"darn", "  ", "HECK"})
	assert.ErrorIs(t, err, apperr.ErrNothingToDo)
	_, err = tg.BulkAdd(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrNothingToDo)
	assert.Len(t, store.callLog(), len(calls), "nothing-to-do never reaches the service")
}

func TestClear(t *testing.T) {
	store := &fakeStore{members: []string{"r1", "r2", "r3"}}
	tg := loaded(t, models.SetKindRole, store, nil)
	ctx := context.Background()

	assert.ErrorIs(t, tg.Clear(ctx, nil), apperr.ErrNotConfirmed)
	assert.ErrorIs(t, tg.Clear(ctx, models.ConfirmFunc(func(string) bool { return false })), apperr.ErrNotConfirmed)
	assert.Len(t, tg.Items(), 3)

	require.NoError(t, tg.Clear(ctx, models.Confirmed))
	assert.Empty(t, tg.Items())
	calls := store.callLog()
	assert.Equal(t, call{op: "remove", ids: []string{"r1", "r2", "r3"}}, calls[len(calls)-1])

	assert.ErrorIs(t, tg.Clear(ctx, models.Confirmed), apperr.ErrNothingToDo)
}

func TestRemove_OnlyPresent(t *testing.T) {
	store := &fakeStore{members: []string{"a", "b", "c"}}
	tg := loaded(t, models.SetKindWord, store, nil)
	ctx := context.Background()

	require.NoError(t, tg.Remove(ctx, []string{"c", "zzz", "A", "a"}))
	assert.Equal(t, []string{"b"}, tg.Items())
	calls := store.callLog()
	assert.Equal(t, call{op: "remove", ids: []string{"c", "a"}}, calls[len(calls)-1])

	assert.ErrorIs(t, tg.Remove(ctx, []string{"zzz"}), apperr.ErrNothingToDo)
}

func TestToggle_RejectsEmptyAndStale(t *testing.T) {
	store := &fakeStore{}
	tg := loaded(t, models.SetKindRole, store, nil)

	_, err := tg.Toggle(context.Background(), "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	store.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := tg.Toggle(context.Background(), "r1")
		done <- err
	}()
	require.Eventually(t, func() bool { return tg.State().Pending }, time.Second, time.Millisecond)
	tg.Close()
	close(store.gate)
	assert.ErrorIs(t, <-done, apperr.ErrStaleContext)
	assert.ErrorIs(t, tg.Load(context.Background()), apperr.ErrStaleContext)
}

func TestToggle_RejectedBeforeLoad(t *testing.T) {
	store := &fakeStore{members: []string{"r1"}, err: &apperr.NetworkError{Op: "load roles", Err: errors.New("refused")}}
	tg := New("42", models.SetKindRole, store, nil, logging.Discard())
	ctx := context.Background()

	assert.ErrorIs(t, tg.Load(ctx), apperr.ErrNetwork)
	assert.False(t, tg.State().Loaded)

	_, err := tg.Toggle(ctx, "r1")
	assert.ErrorIs(t, err, apperr.ErrNotLoaded)
	_, err = tg.BulkAdd(ctx, []string{"r2"})
	assert.ErrorIs(t, err, apperr.ErrNotLoaded)
	assert.ErrorIs(t, tg.Remove(ctx, []string{"r1"}), apperr.ErrNotLoaded)
	assert.ErrorIs(t, tg.Clear(ctx, models.ConfirmFunc(func(string) bool { return true })), apperr.ErrNotLoaded)
	assert.Equal(t, []call{{op: "get"}}, store.callLog(), "no write before the set is known")
	assert.Empty(t, tg.Items())

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	require.NoError(t, tg.Load(ctx))
	dir, err := tg.Toggle(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, DirectionRemove, dir)
	assert.Empty(t, tg.Items())
}

func TestLoad_FailureKeepsSet(t *testing.T) {
	store := &fakeStore{members: []string{"x"}}
	tg := loaded(t, models.SetKindChannel, store, nil)

	store.err = &apperr.NetworkError{Op: "load settings", Err: errors.New("refused")}
	assert.ErrorIs(t, tg.Load(context.Background()), apperr.ErrNetwork)
	assert.Equal(t, []string{"x"}, tg.Items())
}

func TestParseWordList(t *testing.T) {
	in := "Darn\n\n  HECK , gosh;drat:blast\r\n\tbother  \n"
	words, err := ParseWordList(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"darn", "heck", "gosh", "drat", "blast", "bother"}, words)

	words, err = ParseWordList(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, words)
}
