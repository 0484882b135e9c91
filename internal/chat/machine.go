package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/backend"
	"github.com/mrocha/chatline/internal/bus"
	"github.com/mrocha/chatline/internal/identity"
	"github.com/mrocha/chatline/internal/mvi"
)

// Sender is the send entry point the chat machine delegates to. Satisfied
// by the outbox queue.
type Sender interface {
	Queue(ctx context.Context, text string, mediaURIs []string) (string, error)
}

// Machine drives the chat room: it folds user intents and live backend
// events into one State value and emits one-shot effects.
type Machine struct {
	*mvi.Machine[State, Intent, Effect]

	gateway  backend.Gateway
	sender   Sender
	identity *identity.Store
	bus      *bus.Bus
	logger   *zap.Logger

	scrolled bool // first non-empty window already triggered the scroll effect

	// typingCancel stops the refresh loop keeping our typing advertisement
	// alive. Touched only on the machine loop.
	typingCancel  context.CancelFunc
	typingRefresh time.Duration
}

// NewMachine wires a stopped chat machine.
func NewMachine(gw backend.Gateway, sender Sender, id *identity.Store, b *bus.Bus, logger *zap.Logger) *Machine {
	c := &Machine{
		gateway:       gw,
		sender:        sender,
		identity:      id,
		bus:           b,
		logger:        logger,
		typingRefresh: backend.TypingTTL / 2,
	}
	c.Machine = mvi.New(State{IsLoading: true, HasMoreMessages: true},
		func(ctx context.Context, _ *mvi.Machine[State, Intent, Effect], intent Intent) {
			c.handle(ctx, intent)
		})
	return c
}

// Start loads the local identity, opens the live subscriptions, and runs
// the machine until ctx is cancelled.
func (c *Machine) Start(ctx context.Context) error {
	deviceID, err := c.identity.DeviceID()
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}
	name, err := c.identity.Username()
	if err != nil {
		return fmt.Errorf("load username: %w", err)
	}
	c.SetState(func(s State) State {
		s.CurrentUserID = deviceID
		s.CurrentUserName = name
		return s
	})

	sub, err := c.gateway.Subscribe(ctx, backend.DefaultWindow)
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	typing, err := c.gateway.SubscribeTyping(ctx)
	if err != nil {
		return fmt.Errorf("subscribe typing: %w", err)
	}

	c.Machine.Start(ctx)
	go c.observeWindows(ctx, sub)
	go c.observeTyping(ctx, typing)
	go c.observeIdentity(ctx)
	return nil
}

func (c *Machine) handle(ctx context.Context, intent Intent) {
	switch it := intent.(type) {
	case SendMessage:
		c.handleSend(ctx, it)
	case DeleteMessage:
		c.handleDelete(ctx, it.ID)
	case RetryMessage:
		c.handleRetry(ctx, it.Message)
	case LoadMoreMessages:
		c.handleLoadMore(ctx)
	case SetTyping:
		c.handleSetTyping(ctx, it.Typing)
	case ClearError:
		c.SetState(func(s State) State {
			s.Error = ""
			return s
		})
	}
}

// handleSend hands the message to the outbox and returns immediately; the
// optimistic SENDING record arrives through the window subscription.
func (c *Machine) handleSend(ctx context.Context, it SendMessage) {
	go func() {
		if _, err := c.sender.Queue(ctx, it.Text, it.MediaURIs); err != nil {
			c.failWith(fmt.Sprintf("could not send message: %v", err))
		}
	}()
}

// handleDelete is fire-and-forget: removal is observed through the window
// subscription, and failure only surfaces an effect.
func (c *Machine) handleDelete(ctx context.Context, id string) {
	go func() {
		if err := c.gateway.Delete(ctx, id); err != nil {
			c.logger.Warn("delete message", zap.String("message_id", id), zap.Error(err))
			c.Effect(ShowError{Message: "could not delete message"})
		}
	}()
}

// handleRetry removes the failed record and re-submits the same content,
// which re-enters the full upload/send pipeline under a new id.
func (c *Machine) handleRetry(ctx context.Context, msg backend.Message) {
	go func() {
		if err := c.gateway.Delete(ctx, msg.ID); err != nil {
			c.logger.Warn("retry delete", zap.String("message_id", msg.ID), zap.Error(err))
			c.Effect(ShowError{Message: "could not retry message"})
			return
		}
		var text string
		if msg.Text != nil {
			text = *msg.Text
		}
		if _, err := c.sender.Queue(ctx, text, msg.MediaURLs); err != nil {
			c.failWith(fmt.Sprintf("could not retry message: %v", err))
		}
	}()
}

func (c *Machine) handleLoadMore(ctx context.Context) {
	s := c.State()
	if !s.HasMoreMessages || s.IsPaginatedLoading || s.IsLoading || len(s.Messages) == 0 {
		return
	}
	oldest := s.Messages[0].Timestamp
	c.SetState(func(s State) State {
		s.IsPaginatedLoading = true
		return s
	})

	go func() {
		page, err := c.gateway.FetchOlder(ctx, oldest, backend.DefaultPageSize)
		c.Post(func(context.Context) {
			c.SetState(func(s State) State {
				s.IsPaginatedLoading = false
				if err != nil {
					s.Error = "could not load older messages"
					return s
				}
				if len(page) == 0 {
					s.HasMoreMessages = false
					return s
				}
				s.Messages = lo.UniqBy(append(page, s.Messages...), func(m backend.Message) string {
					return m.ID
				})
				return s
			})
			if err != nil {
				c.logger.Warn("load older messages", zap.Error(err))
				c.Effect(ShowError{Message: "could not load older messages"})
			}
		})
	}()
}

// handleSetTyping is advisory; failures are logged and otherwise ignored.
// The advertisement carries a TTL, so while typing stays on a refresh loop
// re-writes it; stop-typing (or machine shutdown) halts the loop and
// clears the key explicitly.
func (c *Machine) handleSetTyping(ctx context.Context, typing bool) {
	s := c.State()
	name := s.CurrentUserName
	deviceID := s.CurrentUserID

	if !typing {
		c.stopTypingRefresh()
		go func() {
			if err := c.gateway.ClearTyping(ctx, deviceID); err != nil {
				c.logger.Debug("clear typing", zap.Error(err))
			}
		}()
		return
	}

	if c.typingCancel != nil {
		// Refresh loop is already keeping the key alive.
		return
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	c.typingCancel = cancel
	go func() {
		write := func() {
			if err := c.gateway.SetTyping(refreshCtx, deviceID, name); err != nil {
				c.logger.Debug("set typing", zap.Error(err))
			}
		}
		write()

		ticker := time.NewTicker(c.typingRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				write()
			}
		}
	}()
}

func (c *Machine) stopTypingRefresh() {
	if c.typingCancel != nil {
		c.typingCancel()
		c.typingCancel = nil
	}
}

// observeWindows folds every full-window emission into state. The list is
// replaced wholesale; there is no incremental merge.
func (c *Machine) observeWindows(ctx context.Context, sub *backend.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case win, ok := <-sub.Windows:
			if !ok {
				return
			}
			c.Post(func(context.Context) {
				c.SetState(func(s State) State {
					s.Messages = win
					s.IsLoading = false
					return s
				})
				if !c.scrolled && len(win) > 0 {
					c.scrolled = true
					c.Effect(ScrollToBottom{})
				}
			})
		case err, ok := <-sub.Errs:
			if !ok {
				continue
			}
			c.logger.Warn("message subscription", zap.Error(err))
			c.failWith("connection problem, messages may be stale")
		}
	}
}

// observeTyping folds the typing set into state, dropping the local user's
// own name.
func (c *Machine) observeTyping(ctx context.Context, typing <-chan []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case names, ok := <-typing:
			if !ok {
				return
			}
			c.Post(func(context.Context) {
				c.SetState(func(s State) State {
					s.TypingUsers = lo.Without(names, s.CurrentUserName)
					return s
				})
			})
		}
	}
}

// observeIdentity keeps the displayed sender name in sync when the user
// renames themselves.
func (c *Machine) observeIdentity(ctx context.Context) {
	events, cancel := c.bus.Subscribe(bus.KindIdentityChanged, 4)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			name, _ := evt.Payload.(string)
			if name == "" {
				continue
			}
			c.Post(func(context.Context) {
				c.SetState(func(s State) State {
					s.CurrentUserName = name
					return s
				})
			})
		}
	}
}

// failWith records the error in state and emits it as an effect.
func (c *Machine) failWith(msg string) {
	c.Post(func(context.Context) {
		c.SetState(func(s State) State {
			s.Error = msg
			return s
		})
		c.Effect(ShowError{Message: msg})
	})
}
