package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/fbrt/internal/appstate"
	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/limiter"
	"github.com/and161185/fbrt/internal/model"
	"github.com/and161185/fbrt/internal/repository"
)

type fakeAccounts struct {
	byName map[string]*model.Account

	createErr error
}

var _ repository.AccountRepository = (*fakeAccounts)(nil)

func (f *fakeAccounts) Create(_ context.Context, a *model.Account) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.Account{}
	}
	if _, exists := f.byName[a.Name]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *a
	f.byName[a.Name] = &cpy
	return nil
}

func (f *fakeAccounts) Get(_ context.Context, name string) (*model.Account, error) {
	a, ok := f.byName[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (f *fakeAccounts) List(_ context.Context) ([]model.Account, error) {
	out := make([]model.Account, 0, len(f.byName))
	for _, a := range f.byName {
		out = append(out, model.Account{Name: a.Name, UserID: a.UserID, LastSeqID: a.LastSeqID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeAccounts) Replace(_ context.Context, a *model.Account) error {
	if _, ok := f.byName[a.Name]; !ok {
		return errs.ErrNotFound
	}
	cpy := *a
	cpy.LastSeqID = 0
	f.byName[a.Name] = &cpy
	return nil
}

func (f *fakeAccounts) SaveCursor(_ context.Context, name string, seq int64) error {
	if a, ok := f.byName[name]; ok && seq > a.LastSeqID {
		a.LastSeqID = seq
	}
	return nil
}

func (f *fakeAccounts) Delete(_ context.Context, name string) error {
	if _, ok := f.byName[name]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byName, name)
	return nil
}

const state = `[{"key":"c_user","value":"100"},{"key":"xs","value":"secret"}]`

func cookieMap(t *testing.T, cookies []*http.Cookie) map[string]string {
	t.Helper()
	m := map[string]string{}
	for _, c := range cookies {
		m[c.Name] = c.Value
	}
	return m
}

func TestImportOpen(t *testing.T) {
	repo := &fakeAccounts{}
	s := NewAccountService(repo, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	a, err := s.Import(ctx, "main", []byte(state), []byte("pw"), false)
	require.NoError(t, err)
	require.Equal(t, "100", a.UserID)
	require.NotContains(t, string(repo.byName["main"].Sealed), "secret")

	got, cookies, err := s.Open(ctx, "main", []byte("pw"))
	require.NoError(t, err)
	require.Equal(t, "main", got.Name)
	require.Equal(t, map[string]string{"c_user": "100", "xs": "secret"}, cookieMap(t, cookies))

	_, _, err = s.Open(ctx, "main", []byte("nope"))
	require.ErrorIs(t, err, errs.ErrBadPassphrase)

	_, _, err = s.Open(ctx, "other", []byte("pw"))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestImport_Validation(t *testing.T) {
	s := NewAccountService(&fakeAccounts{}, nil, nil)
	ctx := context.Background()

	_, err := s.Import(ctx, "", []byte(state), []byte("pw"), false)
	require.Error(t, err)
	_, err = s.Import(ctx, "main", []byte(state), nil, false)
	require.Error(t, err)
	_, err = s.Import(ctx, "main", []byte(`xs=1`), []byte("pw"), false)
	require.ErrorIs(t, err, errs.ErrMissingCredential)
	_, err = s.Import(ctx, "main", []byte(`[{"key":`), []byte("pw"), false)
	require.Error(t, err)

	boom := errors.New("db down")
	s = NewAccountService(&fakeAccounts{createErr: boom}, nil, nil)
	_, err = s.Import(ctx, "main", []byte(state), []byte("pw"), false)
	require.ErrorIs(t, err, boom)
}

func TestImport_Overwrite(t *testing.T) {
	repo := &fakeAccounts{}
	s := NewAccountService(repo, nil, nil)
	ctx := context.Background()

	_, err := s.Import(ctx, "main", []byte(state), []byte("pw"), false)
	require.NoError(t, err)
	require.NoError(t, s.SaveCursor(ctx, "main", 50))

	_, err = s.Import(ctx, "main", []byte("c_user=200; xs=x"), []byte("pw2"), false)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	a, err := s.Import(ctx, "main", []byte("c_user=200; xs=x"), []byte("pw2"), true)
	require.NoError(t, err)
	require.Equal(t, "200", a.UserID)
	require.Zero(t, repo.byName["main"].LastSeqID)

	_, cookies, err := s.Open(ctx, "main", []byte("pw2"))
	require.NoError(t, err)
	require.Equal(t, "200", cookieMap(t, cookies)["c_user"])
}

func TestRefresh(t *testing.T) {
	repo := &fakeAccounts{}
	s := NewAccountService(repo, nil, nil)
	ctx := context.Background()

	_, err := s.Import(ctx, "main", []byte(state), []byte("pw"), false)
	require.NoError(t, err)

	rotated, err := appstate.Parse([]byte("c_user=100; xs=rotated"))
	require.NoError(t, err)
	jar, err := appstate.NewJar(rotated)
	require.NoError(t, err)

	require.ErrorIs(t, s.Refresh(ctx, "main", []byte("nope"), jar), errs.ErrBadPassphrase)
	require.NoError(t, s.Refresh(ctx, "main", []byte("pw"), jar))

	_, cookies, err := s.Open(ctx, "main", []byte("pw"))
	require.NoError(t, err)
	require.Equal(t, "rotated", cookieMap(t, cookies)["xs"])
}

func TestCursorAndPassphrase(t *testing.T) {
	repo := &fakeAccounts{}
	s := NewAccountService(repo, nil, nil)
	ctx := context.Background()

	_, err := s.Import(ctx, "main", []byte(state), []byte("pw"), false)
	require.NoError(t, err)

	require.NoError(t, s.SaveCursor(ctx, "main", 0))
	require.NoError(t, s.SaveCursor(ctx, "main", 90))
	require.NoError(t, s.SaveCursor(ctx, "main", 40))
	require.Equal(t, int64(90), repo.byName["main"].LastSeqID)

	require.ErrorIs(t, s.ChangePassphrase(ctx, "main", []byte("bad"), []byte("new")), errs.ErrBadPassphrase)
	require.Error(t, s.ChangePassphrase(ctx, "main", []byte("pw"), nil))
	require.NoError(t, s.ChangePassphrase(ctx, "main", []byte("pw"), []byte("new")))
	require.Equal(t, int64(90), repo.byName["main"].LastSeqID)

	_, _, err = s.Open(ctx, "main", []byte("new"))
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, "main"))
	require.ErrorIs(t, s.Delete(ctx, "main"), errs.ErrNotFound)
}

type fakeLimiter struct {
	fails    map[string]int
	maxFails int
	resets   int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (f *fakeLimiter) Allow(_ context.Context, account string) (bool, time.Duration, error) {
	if f.fails[account] >= f.maxFails {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func (f *fakeLimiter) Success(_ context.Context, account string) error {
	f.resets++
	delete(f.fails, account)
	return nil
}

func (f *fakeLimiter) Failure(_ context.Context, account string) (bool, time.Duration, error) {
	f.fails[account]++
	return f.fails[account] >= f.maxFails, time.Minute, nil
}

func TestOpen_Limited(t *testing.T) {
	lim := &fakeLimiter{fails: map[string]int{}, maxFails: 2}
	s := NewAccountService(&fakeAccounts{}, lim, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := s.Import(ctx, "main", []byte(state), []byte("pw"), false)
	require.NoError(t, err)

	_, _, err = s.Open(ctx, "main", []byte("pw"))
	require.NoError(t, err)
	require.Equal(t, 1, lim.resets)

	_, _, err = s.Open(ctx, "main", []byte("bad"))
	require.ErrorIs(t, err, errs.ErrBadPassphrase)
	require.ErrorIs(t, s.ChangePassphrase(ctx, "main", []byte("bad"), []byte("x")), errs.ErrBadPassphrase)

	_, _, err = s.Open(ctx, "main", []byte("pw"))
	require.ErrorIs(t, err, errs.ErrTooManyAttempts)
	require.Equal(t, 1, lim.resets)
}
