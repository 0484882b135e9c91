// Package username drives the identity entry screen: it loads any
// persisted display name, validates submissions, and emits a single
// proceed effect once a valid name is in place.
package username

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/identity"
	"github.com/mrocha/chatline/internal/mvi"
)

// State is the entry screen's observable state.
type State struct {
	Username  string
	Error     string // validation error, "" when clear
	IsLoading bool
}

// Intent is a user action on the entry screen.
type Intent interface{ usernameIntent() }

// Submit proposes a display name.
type Submit struct {
	Username string
}

// ClearError dismisses the current validation error.
type ClearError struct{}

func (Submit) usernameIntent()     {}
func (ClearError) usernameIntent() {}

// Effect is a one-shot side effect.
type Effect interface{ usernameEffect() }

// NavigateToChat fires exactly once, when a valid username is persisted or
// was already present on start.
type NavigateToChat struct{}

// ShowError surfaces a transient failure.
type ShowError struct {
	Message string
}

func (NavigateToChat) usernameEffect() {}
func (ShowError) usernameEffect()      {}

// Machine is the identity entry state machine.
type Machine struct {
	*mvi.Machine[State, Intent, Effect]

	identity *identity.Store
	logger   *zap.Logger

	proceeded bool // NavigateToChat already emitted
}

// NewMachine wires a stopped machine.
func NewMachine(id *identity.Store, logger *zap.Logger) *Machine {
	u := &Machine{identity: id, logger: logger}
	u.Machine = mvi.New(State{IsLoading: true},
		func(ctx context.Context, _ *mvi.Machine[State, Intent, Effect], intent Intent) {
			u.handle(ctx, intent)
		})
	return u
}

// Start loads the persisted username and, if one exists, proceeds straight
// to the chat screen.
func (u *Machine) Start(ctx context.Context) error {
	name, err := u.identity.Username()
	if err != nil {
		return err
	}

	u.Machine.Start(ctx)
	u.Post(func(context.Context) {
		u.SetState(func(s State) State {
			s.Username = name
			s.IsLoading = false
			return s
		})
		if name != "" {
			u.proceed()
		}
	})
	return nil
}

func (u *Machine) handle(_ context.Context, intent Intent) {
	switch it := intent.(type) {
	case Submit:
		u.handleSubmit(it.Username)
	case ClearError:
		u.SetState(func(s State) State {
			s.Error = ""
			return s
		})
	}
}

// handleSubmit validates and persists synchronously; the write is a single
// local statement and needs no retry machinery.
func (u *Machine) handleSubmit(name string) {
	err := u.identity.SetUsername(name)
	if errors.Is(err, identity.ErrUsernameLength) {
		u.SetState(func(s State) State {
			s.Error = err.Error()
			return s
		})
		return
	}
	if err != nil {
		u.logger.Error("persist username", zap.Error(err))
		u.SetState(func(s State) State {
			s.Error = "could not save username"
			return s
		})
		u.Effect(ShowError{Message: "could not save username"})
		return
	}

	// State mirrors what was persisted, which is the trimmed value.
	trimmed := strings.TrimSpace(name)
	u.SetState(func(s State) State {
		s.Username = trimmed
		s.Error = ""
		return s
	})
	u.proceed()
}

// proceed emits NavigateToChat at most once per machine.
func (u *Machine) proceed() {
	if u.proceeded {
		return
	}
	u.proceeded = true
	u.Effect(NavigateToChat{})
}
