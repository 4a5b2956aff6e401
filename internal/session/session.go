// Package session is the client-side half of authentication: it persists
// the access token, restores the session on start-up and answers who the
// current user is.
//
// A Session performs at most one network round trip per operation and never
// retries. It does not serialize concurrent Login calls; callers that want a
// single submission should check State().Loading first.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/campussite/campussite-go/internal/model"
)

// User-facing messages stored in State.Err.
const (
	MsgSessionExpired     = "Session expired. Please log in again."
	MsgInvalidCredentials = "Invalid credentials"
	MsgUnreachable        = "Unable to reach the server. Please try again."
	MsgSaveFailed         = "Could not save the session on this device."
)

// ErrStaleResult is returned when Logout or a successful Login ran while a
// Login or Bootstrap request was in flight; the late result is discarded.
var ErrStaleResult = errors.New("session changed while request was in flight")

// Controller is the surface UI code consumes.
type Controller interface {
	User() (model.UserResponse, bool)
	Login(ctx context.Context, email, password string) error
	Logout()
	IsAdmin() bool
}

// State is a snapshot of the session.
type State struct {
	User    *model.UserResponse
	Loading bool
	Err     string
}

// Session owns the client session state and the persisted token.
type Session struct {
	api    AuthAPI
	store  TokenStore
	logger *slog.Logger

	mu       sync.Mutex
	user     *model.UserResponse
	inflight int
	err      string
	gen      uint64
}

var _ Controller = (*Session)(nil)

// New creates a logged-out Session.
func New(api AuthAPI, store TokenStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{api: api, store: store, logger: logger}
}

// Bootstrap restores the session from a persisted token. Without a token it
// does nothing. If the server rejects the token, or cannot be reached, the
// token is discarded and the session stays logged out with MsgSessionExpired.
func (s *Session) Bootstrap(ctx context.Context) error {
	token, err := s.store.Load()
	if errors.Is(err, ErrNoToken) {
		return nil
	}

	gen := s.begin(false)
	defer s.end()

	var profile model.UserResponse
	if err == nil {
		profile, err = s.api.Me(ctx, token)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return ErrStaleResult
	}

	if err != nil {
		if clearErr := s.store.Clear(); clearErr != nil {
			s.logger.WarnContext(ctx, "discard stored token", "error", clearErr)
		}
		s.user = nil
		s.err = MsgSessionExpired
		return fmt.Errorf("restore session: %w", err)
	}

	s.user = &profile
	s.err = ""
	return nil
}

// Login exchanges credentials for a token. The token is persisted only
// after the server accepted the credentials.
func (s *Session) Login(ctx context.Context, email, password string) error {
	gen := s.begin(true)
	defer s.end()

	resp, err := s.api.Login(ctx, email, password)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return ErrStaleResult
	}

	if err != nil {
		s.err = loginMessage(err)
		return err
	}

	if err := s.store.Save(resp.Token); err != nil {
		s.err = MsgSaveFailed
		return err
	}

	// A committed login supersedes any request started before it.
	s.gen++
	user := resp.User
	s.user = &user
	s.err = ""
	return nil
}

// Logout forgets the token and the user. It is safe to call repeatedly.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if err := s.store.Clear(); err != nil {
		s.logger.Warn("clear stored token", "error", err)
	}
	s.user = nil
	s.err = ""
}

// User returns the current profile, if any.
func (s *Session) User() (model.UserResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return model.UserResponse{}, false
	}
	return *s.user, true
}

// IsAdmin reports whether the current user has the admin role.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.user != nil && s.user.Role == model.RoleAdmin
}

// State returns a copy of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{Loading: s.inflight > 0, Err: s.err}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	return st
}

func (s *Session) begin(clearErr bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight++
	if clearErr {
		s.err = ""
	}
	return s.gen
}

func (s *Session) end() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
}

func loginMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return MsgInvalidCredentials
	}
	return MsgUnreachable
}
