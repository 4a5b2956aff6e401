package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campussite/campussite-go/internal/crypto"
	"github.com/campussite/campussite-go/internal/handler"
	"github.com/campussite/campussite-go/internal/model"
	"github.com/campussite/campussite-go/internal/repository"
	"github.com/campussite/campussite-go/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ---- fake API ----

type fakeAPI struct {
	loginResp model.AuthResponse
	loginErr  error
	meResp    model.UserResponse
	meErr     error

	// release, when set, blocks calls until closed.
	release chan struct{}
	started chan struct{}

	meTokens []string
}

func (f *fakeAPI) wait() {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
}

func (f *fakeAPI) Register(ctx context.Context, email, password string) error { return nil }

func (f *fakeAPI) Login(ctx context.Context, email, password string) (model.AuthResponse, error) {
	f.wait()
	return f.loginResp, f.loginErr
}

func (f *fakeAPI) Me(ctx context.Context, token string) (model.UserResponse, error) {
	f.wait()
	f.meTokens = append(f.meTokens, token)
	return f.meResp, f.meErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var alice = model.UserResponse{ID: "u1", Email: "alice@x.com", Role: model.RoleUser}

// ---- unit tests ----

func TestBootstrapWithoutToken(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, NewMemoryStore(""), quietLogger())

	require.NoError(t, s.Bootstrap(context.Background()))
	assert.Empty(t, api.meTokens, "no identity call without a token")
	assert.Equal(t, State{}, s.State())
}

func TestBootstrapRestoresUser(t *testing.T) {
	api := &fakeAPI{meResp: alice}
	store := NewMemoryStore("stored-token")
	s := New(api, store, quietLogger())

	require.NoError(t, s.Bootstrap(context.Background()))

	assert.Equal(t, []string{"stored-token"}, api.meTokens)
	user, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, alice, user)
	st := s.State()
	assert.False(t, st.Loading)
	assert.Empty(t, st.Err)
}

func TestBootstrapFailureDiscardsToken(t *testing.T) {
	for name, meErr := range map[string]error{
		"rejected": &APIError{Status: http.StatusUnauthorized, Code: "unauthorized"},
		"network":  errors.New("dial tcp: connection refused"),
	} {
		t.Run(name, func(t *testing.T) {
			store := NewMemoryStore("stale-token")
			s := New(&fakeAPI{meErr: meErr}, store, quietLogger())

			err := s.Bootstrap(context.Background())
			require.ErrorIs(t, err, meErr)

			_, loadErr := store.Load()
			assert.ErrorIs(t, loadErr, ErrNoToken)
			_, ok := s.User()
			assert.False(t, ok)
			st := s.State()
			assert.Equal(t, MsgSessionExpired, st.Err)
			assert.False(t, st.Loading)
		})
	}
}

func TestLoginSuccessPersistsToken(t *testing.T) {
	store := NewMemoryStore("")
	api := &fakeAPI{loginResp: model.AuthResponse{Token: "new-token", User: alice}}
	s := New(api, store, quietLogger())

	require.NoError(t, s.Login(context.Background(), "alice@x.com", "pw123"))

	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new-token", token)
	user, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, alice, user)
	assert.Empty(t, s.State().Err)
	assert.False(t, s.IsAdmin())
}

func TestLoginFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"server message", &APIError{Status: 400, Code: "invalid_credentials", Message: "invalid credentials"}, "invalid credentials"},
		{"no message", &APIError{Status: 400}, MsgInvalidCredentials},
		{"network", errors.New("connection reset"), MsgUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore("")
			s := New(&fakeAPI{loginErr: tt.err}, store, quietLogger())

			err := s.Login(context.Background(), "alice@x.com", "wrongpw")
			require.ErrorIs(t, err, tt.err)

			_, loadErr := store.Load()
			assert.ErrorIs(t, loadErr, ErrNoToken, "nothing persisted on failure")
			_, ok := s.User()
			assert.False(t, ok)
			assert.Equal(t, tt.wantMsg, s.State().Err)
		})
	}
}

func TestLoginClearsPreviousError(t *testing.T) {
	api := &fakeAPI{loginErr: &APIError{Status: 400, Message: "invalid credentials"}}
	s := New(api, NewMemoryStore(""), quietLogger())

	require.Error(t, s.Login(context.Background(), "alice@x.com", "bad"))
	require.NotEmpty(t, s.State().Err)

	api.loginErr = nil
	api.loginResp = model.AuthResponse{Token: "t", User: alice}
	require.NoError(t, s.Login(context.Background(), "alice@x.com", "pw123"))
	assert.Empty(t, s.State().Err)
}

func TestLogoutIdempotent(t *testing.T) {
	store := NewMemoryStore("")
	s := New(&fakeAPI{loginResp: model.AuthResponse{Token: "t", User: alice}}, store, quietLogger())
	require.NoError(t, s.Login(context.Background(), "alice@x.com", "pw123"))

	s.Logout()
	first := s.State()
	s.Logout()
	s.Logout()

	assert.Equal(t, first, s.State())
	assert.Nil(t, first.User)
	assert.Empty(t, first.Err)
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestIsAdmin(t *testing.T) {
	admin := model.UserResponse{ID: "a", Email: "admin@x.com", Role: model.RoleAdmin}
	s := New(&fakeAPI{loginResp: model.AuthResponse{Token: "t", User: admin}}, NewMemoryStore(""), quietLogger())

	assert.False(t, s.IsAdmin(), "logged out is never admin")
	require.NoError(t, s.Login(context.Background(), "admin@x.com", "pw"))
	assert.True(t, s.IsAdmin())
	s.Logout()
	assert.False(t, s.IsAdmin())
}

func TestLoadingDuringLogin(t *testing.T) {
	api := &fakeAPI{
		loginResp: model.AuthResponse{Token: "t", User: alice},
		release:   make(chan struct{}),
		started:   make(chan struct{}),
	}
	s := New(api, NewMemoryStore(""), quietLogger())

	done := make(chan error, 1)
	go func() { done <- s.Login(context.Background(), "alice@x.com", "pw123") }()

	<-api.started
	assert.True(t, s.State().Loading)

	close(api.release)
	require.NoError(t, <-done)
	assert.False(t, s.State().Loading)
}

func TestLogoutDiscardsLateLogin(t *testing.T) {
	store := NewMemoryStore("")
	api := &fakeAPI{
		loginResp: model.AuthResponse{Token: "late-token", User: alice},
		release:   make(chan struct{}),
		started:   make(chan struct{}),
	}
	s := New(api, store, quietLogger())

	done := make(chan error, 1)
	go func() { done <- s.Login(context.Background(), "alice@x.com", "pw123") }()

	<-api.started
	s.Logout()
	close(api.release)

	require.ErrorIs(t, <-done, ErrStaleResult)
	_, ok := s.User()
	assert.False(t, ok)
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoToken)
}

// blockingMe holds Me open until release is closed; Login answers at once.
type blockingMe struct {
	fakeAPI
	meStarted chan struct{}
	meRelease chan struct{}
}

func (b *blockingMe) Me(ctx context.Context, token string) (model.UserResponse, error) {
	close(b.meStarted)
	<-b.meRelease
	return b.meResp, b.meErr
}

func TestLoginDiscardsLateBootstrapFailure(t *testing.T) {
	store := NewMemoryStore("expired-token")
	api := &blockingMe{
		fakeAPI: fakeAPI{
			loginResp: model.AuthResponse{Token: "fresh-token", User: alice},
			meErr:     &APIError{Status: http.StatusUnauthorized, Code: "unauthorized"},
		},
		meStarted: make(chan struct{}),
		meRelease: make(chan struct{}),
	}
	s := New(api, store, quietLogger())

	done := make(chan error, 1)
	go func() { done <- s.Bootstrap(context.Background()) }()

	<-api.meStarted
	require.NoError(t, s.Login(context.Background(), "alice@x.com", "pw123"))
	close(api.meRelease)

	require.ErrorIs(t, <-done, ErrStaleResult)

	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	user, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, alice, user)
	st := s.State()
	assert.Empty(t, st.Err)
	assert.False(t, st.Loading)
}

// ---- against the real HTTP surface ----

type server struct {
	url    string
	store  *repository.MemoryUserRepository
	issuer *crypto.TokenIssuer
}

func newServer(t *testing.T) *server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	users := repository.NewMemoryUserRepository()
	hasher, err := crypto.NewHasher(crypto.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	issuer := crypto.NewTokenIssuer("test-secret", time.Hour, "campussite", "campussite-api")

	auth, err := service.NewAuthService(users, hasher, issuer, quietLogger())
	require.NoError(t, err)

	router := handler.NewRouter(ctx, handler.RouterOptions{
		Auth:   auth,
		Tokens: issuer,
		Logger: quietLogger(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &server{url: srv.URL, store: users, issuer: issuer}
}

func TestSessionAgainstServer(t *testing.T) {
	srv := newServer(t)
	api := NewHTTPClient(srv.url, &http.Client{Timeout: 5 * time.Second})
	ctx := context.Background()

	require.NoError(t, api.Register(ctx, "alice@x.com", "pw123"))

	var apiErr *APIError
	err := api.Register(ctx, "alice@x.com", "pw123")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "duplicate_identity", apiErr.Code)

	store := NewMemoryStore("")
	s := New(api, store, quietLogger())

	err = s.Login(ctx, "alice@x.com", "wrongpw")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid credentials", s.State().Err)

	require.NoError(t, s.Login(ctx, "alice@x.com", "pw123"))
	user, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, "alice@x.com", user.Email)

	// A fresh process restores the same user from the persisted token.
	restored := New(api, store, quietLogger())
	require.NoError(t, restored.Bootstrap(ctx))
	again, ok := restored.User()
	require.True(t, ok)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, model.RoleUser, again.Role)
}

func TestBootstrapWithExpiredTokenAgainstServer(t *testing.T) {
	srv := newServer(t)
	api := NewHTTPClient(srv.url, &http.Client{Timeout: 5 * time.Second})
	ctx := context.Background()

	require.NoError(t, api.Register(ctx, "alice@x.com", "pw123"))
	u, err := srv.store.GetByEmail(ctx, "alice@x.com")
	require.NoError(t, err)

	expired, err := srv.issuer.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).Issue(u.ID, u.Role)
	require.NoError(t, err)

	store := NewMemoryStore(expired)
	s := New(api, store, quietLogger())

	err = s.Bootstrap(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, loadErr := store.Load()
	assert.ErrorIs(t, loadErr, ErrNoToken)
	_, ok := s.User()
	assert.False(t, ok)
	assert.Equal(t, MsgSessionExpired, s.State().Err)
	assert.False(t, s.State().Loading)
}

func TestHTTPClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	s := New(NewHTTPClient(addr, nil), NewMemoryStore(""), quietLogger())
	err := s.Login(context.Background(), "alice@x.com", "pw123")
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Equal(t, MsgUnreachable, s.State().Err)
}
