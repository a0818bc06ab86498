package session

import (
	"context"
	"errors"
	"testing"

	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/services/backend"
	"github.com/pedichat-go/internal/services/storage"
	"github.com/pedichat-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	resp *models.AuthResponse
	err  error

	loginCalls    int
	registerCalls int
	fullName      string
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	f.loginCalls++
	return f.resp, f.err
}

func (f *fakeAuth) Register(ctx context.Context, email, password, fullName string) (*models.AuthResponse, error) {
	f.registerCalls++
	f.fullName = fullName
	return f.resp, f.err
}

func newTestStore(auth Authenticator) (*Store, *storage.Manager) {
	st := storage.NewManagerWith(storage.NewMemoryStorage(), nil, logger.Discard())
	return NewStore(st, auth, logger.Discard()), st
}

func okResponse() *models.AuthResponse {
	return &models.AuthResponse{
		AccessToken: "tok-1",
		TokenType:   "bearer",
		User:        models.User{ID: 5, Email: "ana@example.com", FullName: "Ana"},
	}
}

func TestLoginPersistsSession(t *testing.T) {
	ctx := context.Background()
	store, st := newTestStore(&fakeAuth{resp: okResponse()})

	assert.False(t, store.IsAuthenticated())
	assert.Nil(t, store.User())

	user, err := store.Login(ctx, "ana@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.FullName)
	assert.True(t, store.IsAuthenticated())
	assert.Equal(t, "tok-1", store.Token())
	assert.False(t, store.IsFirstTime())

	token, _ := st.Get(ctx, storage.KeyAccessToken)
	assert.Equal(t, "tok-1", token)

	var stored models.User
	found, err := st.GetJSON(ctx, storage.KeyUserInfo, &stored)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(5), stored.ID)
}

func TestRegisterMarksFirstTime(t *testing.T) {
	auth := &fakeAuth{resp: okResponse()}
	store, _ := newTestStore(auth)

	_, err := store.Register(context.Background(), "ana@example.com", "pw", "Ana")
	require.NoError(t, err)
	assert.True(t, store.IsFirstTime())
	assert.Equal(t, "Ana", auth.fullName)

	store.ClearFirstTime()
	assert.False(t, store.IsFirstTime())
}

func TestLoginFailure(t *testing.T) {
	t.Run("backend detail", func(t *testing.T) {
		store, _ := newTestStore(&fakeAuth{err: &backend.APIError{StatusCode: 401, Detail: "Incorrect email or password"}})

		_, err := store.Login(context.Background(), "a@b.c", "bad")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Incorrect email or password", authErr.Detail)
		assert.True(t, backend.IsUnauthorized(err))
		assert.False(t, store.IsAuthenticated())
	})

	t.Run("default detail", func(t *testing.T) {
		store, _ := newTestStore(&fakeAuth{err: errors.New("connection refused")})

		_, err := store.Login(context.Background(), "a@b.c", "pw")
		require.Error(t, err)
		assert.Equal(t, defaultLoginDetail, err.Error())

		_, err = store.Register(context.Background(), "a@b.c", "pw", "A")
		require.Error(t, err)
		assert.Equal(t, defaultRegisterDetail, err.Error())
	})

	t.Run("missing token", func(t *testing.T) {
		store, st := newTestStore(&fakeAuth{resp: &models.AuthResponse{}})

		_, err := store.Login(context.Background(), "a@b.c", "pw")
		require.Error(t, err)
		assert.False(t, store.IsAuthenticated())
		token, _ := st.Get(context.Background(), storage.KeyAccessToken)
		assert.Equal(t, "", token)
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store, st := newTestStore(&fakeAuth{})

	ok, err := store.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, storage.KeyAccessToken, "saved"))
	require.NoError(t, st.SetJSON(ctx, storage.KeyUserInfo, models.User{ID: 9, FullName: "Sam"}))

	ok, err = store.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "saved", store.Token())
	assert.Equal(t, "Sam", store.User().FullName)
	assert.False(t, store.IsFirstTime())
}

func TestRestoreWithUnreadableUser(t *testing.T) {
	ctx := context.Background()
	store, st := newTestStore(&fakeAuth{})
	require.NoError(t, st.Set(ctx, storage.KeyAccessToken, "saved"))
	require.NoError(t, st.Set(ctx, storage.KeyUserInfo, "{"))

	ok, err := store.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, store.User())
}

func TestLogoutKeepsLanguage(t *testing.T) {
	ctx := context.Background()
	store, st := newTestStore(&fakeAuth{resp: okResponse()})
	require.NoError(t, st.Set(ctx, storage.KeyUserLanguage, "es"))

	_, err := store.Register(ctx, "ana@example.com", "pw", "Ana")
	require.NoError(t, err)

	store.Logout(ctx)
	assert.False(t, store.IsAuthenticated())
	assert.Nil(t, store.User())
	assert.False(t, store.IsFirstTime())

	token, _ := st.Get(ctx, storage.KeyAccessToken)
	assert.Equal(t, "", token)
	info, _ := st.Get(ctx, storage.KeyUserInfo)
	assert.Equal(t, "", info)
	lang, _ := st.Get(ctx, storage.KeyUserLanguage)
	assert.Equal(t, "es", lang)
}

func TestUserReturnsCopy(t *testing.T) {
	store, _ := newTestStore(&fakeAuth{resp: okResponse()})
	_, err := store.Login(context.Background(), "ana@example.com", "pw")
	require.NoError(t, err)

	store.User().FullName = "Mallory"
	assert.Equal(t, "Ana", store.User().FullName)
}

func TestChangeEmail(t *testing.T) {
	ctx := context.Background()
	store, st := newTestStore(&fakeAuth{resp: okResponse()})

	_, err := store.ChangeEmail(ctx, "new@example.com")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = store.Login(ctx, "ana@example.com", "pw")
	require.NoError(t, err)

	for _, bad := range []string{"", "not-an-email", "Ana <ana@example.com>"} {
		_, err = store.ChangeEmail(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidEmail, bad)
	}

	change, err := store.ChangeEmail(ctx, "  new@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", change.Email)
	assert.False(t, change.Persisted)
	assert.Equal(t, "new@example.com", store.User().Email)

	var stored models.User
	_, err = st.GetJSON(ctx, storage.KeyUserInfo, &stored)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", stored.Email)
}

func TestChangePassword(t *testing.T) {
	store, _ := newTestStore(&fakeAuth{resp: okResponse()})

	assert.ErrorIs(t, store.ChangePassword("a", "b", "b"), ErrNotAuthenticated)

	_, err := store.Login(context.Background(), "ana@example.com", "pw")
	require.NoError(t, err)

	assert.ErrorIs(t, store.ChangePassword("pw", "new", "other"), ErrPasswordMismatch)
	assert.ErrorIs(t, store.ChangePassword("pw", "new", "new"), ErrPasswordChangeUnavailable)
}
