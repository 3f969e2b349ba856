package guard

import (
	"context"

	"github.com/staffhub/presence/internal/domain"
)

type Session struct {
	UserID string
	Token  string
}

type AuthEventKind int

const (
	EventSignedIn AuthEventKind = iota
	EventSignedOut
	EventPasswordRecovery
)

func (k AuthEventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventPasswordRecovery:
		return "password_recovery"
	default:
		return "unknown"
	}
}

type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// AuthProvider is the slice of the authentication backend the agent
// consumes. OnAuthStateChange registers an observer and returns its disposer.
type AuthProvider interface {
	CurrentSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// ProfileStore is the slice of the profile persistence layer the agent
// consumes: whole-record reads and partial-field merges keyed by user id.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	Update(ctx context.Context, id string, fields map[string]any) error
}

type Notifier interface {
	Notice(message string)
	NavigateToLogin()
}

type Visibility interface {
	Visible() bool
}

type alwaysVisible struct{}

func (alwaysVisible) Visible() bool { return true }

// AlwaysVisible suits headless agents that have no hidden state.
func AlwaysVisible() Visibility { return alwaysVisible{} }
