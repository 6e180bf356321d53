package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/issuewatch/internal/api"
	"github.com/rickgao/issuewatch/internal/model"
)

// Client is the subset of the REST client used for signing in.
type Client interface {
	Login(ctx context.Context, email, password string) (model.Token, error)
	Register(ctx context.Context, in model.UserCreate) (model.Token, error)
	MeWithToken(ctx context.Context, token string) (model.User, error)
}

// Authenticator holds the signed-in user and token. It is the token source
// for the REST client and the credential provider for the realtime channel.
type Authenticator struct {
	client Client
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	token    string
	user     *model.User
	onLogout []func()
}

// NewAuthenticator creates a signed-out Authenticator.
func NewAuthenticator(client Client, store *Store, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		client: client,
		store:  store,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
}

// Init restores the cached session if the server still accepts its token.
// A rejected or unverifiable session is removed from the cache. Init
// returns an error only when the server could not be asked.
func (a *Authenticator) Init(ctx context.Context) error {
	sess, err := a.store.Load()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		a.logger.Warn("discarding unreadable session", "path", a.store.Path(), "error", err)
		return a.store.Clear()
	}

	user, err := a.client.MeWithToken(ctx, sess.Token)
	if err != nil {
		if clearErr := a.store.Clear(); clearErr != nil {
			a.logger.Warn("failed to clear session", "error", clearErr)
		}
		a.reset()
		if api.IsUnauthorized(err) {
			a.logger.Info("cached session expired")
			return nil
		}
		return fmt.Errorf("validate cached session: %w", err)
	}

	a.adopt(sess.Token, user)
	a.logger.Info("session restored", "user", user.Email, "role", user.Role)
	return nil
}

// Login signs in with email and password and caches the session.
func (a *Authenticator) Login(ctx context.Context, email, password string) error {
	tok, err := a.client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return a.establish(ctx, tok)
}

// Register creates an account, signs in and caches the session. The role
// defaults to reporter.
func (a *Authenticator) Register(ctx context.Context, in model.UserCreate) error {
	if in.Role == "" {
		in.Role = model.RoleReporter
	}
	tok, err := a.client.Register(ctx, in)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return a.establish(ctx, tok)
}

func (a *Authenticator) establish(ctx context.Context, tok model.Token) error {
	user, err := a.client.MeWithToken(ctx, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}

	if err := a.store.Save(Session{
		Token:     tok.AccessToken,
		TokenType: tok.TokenType,
		User:      &user,
		SavedAt:   a.now().UTC(),
	}); err != nil {
		return err
	}

	a.adopt(tok.AccessToken, user)
	a.logger.Info("signed in", "user", user.Email, "role", user.Role)
	return nil
}

// Logout forgets the session and runs the logout hooks.
func (a *Authenticator) Logout() error {
	err := a.store.Clear()

	a.mu.Lock()
	wasSignedIn := a.token != ""
	a.token = ""
	a.user = nil
	hooks := append([]func(){}, a.onLogout...)
	a.mu.Unlock()

	if wasSignedIn {
		a.logger.Info("signed out")
		for _, fn := range hooks {
			fn()
		}
	}
	return err
}

// ObserveError signs out when err says the token was rejected, and reports
// whether it did.
func (a *Authenticator) ObserveError(err error) bool {
	if !api.IsUnauthorized(err) || !a.IsAuthenticated() {
		return false
	}
	a.logger.Warn("token rejected by server")
	if logoutErr := a.Logout(); logoutErr != nil {
		a.logger.Warn("failed to clear session", "error", logoutErr)
	}
	return true
}

// OnLogout registers fn to run after every sign-out.
func (a *Authenticator) OnLogout(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLogout = append(a.onLogout, fn)
}

// Token returns the bearer token, or "" when signed out.
func (a *Authenticator) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// User returns the signed-in user.
func (a *Authenticator) User() (model.User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.user == nil {
		return model.User{}, false
	}
	return *a.user, true
}

// IsAuthenticated reports whether a user is signed in.
func (a *Authenticator) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != "" && a.user != nil
}

// HasRole reports whether the signed-in user's role is at least role.
func (a *Authenticator) HasRole(role model.Role) bool {
	user, ok := a.User()
	return ok && user.Role.AtLeast(role)
}

func (a *Authenticator) adopt(token string, user model.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.user = &user
}

func (a *Authenticator) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	a.user = nil
}
