package chat

import "github.com/mrocha/chatline/internal/backend"

// State is the chat room's observable state. One value, replaced wholesale
// on every change.
type State struct {
	Messages           []backend.Message // ascending by timestamp
	IsLoading          bool              // initial window fetch in flight
	IsPaginatedLoading bool              // older-page fetch in flight
	Error              string            // last non-fatal error, "" when clear
	CurrentUserID      string
	CurrentUserName    string
	HasMoreMessages    bool
	TypingUsers        []string // other users currently typing, self excluded
}

// Intent is a user action against the chat room.
type Intent interface{ chatIntent() }

// SendMessage submits text and/or media references for delivery.
type SendMessage struct {
	Text      string
	MediaURIs []string
}

// DeleteMessage hard-deletes a message by id.
type DeleteMessage struct {
	ID string
}

// RetryMessage re-submits a failed message: the old record is deleted and
// an equivalent send re-enters the pipeline.
type RetryMessage struct {
	Message backend.Message
}

// LoadMoreMessages pages backwards through history.
type LoadMoreMessages struct{}

// SetTyping advertises or clears the local user's typing indicator.
type SetTyping struct {
	Typing bool
}

// ClearError dismisses the current error.
type ClearError struct{}

func (SendMessage) chatIntent()      {}
func (DeleteMessage) chatIntent()    {}
func (RetryMessage) chatIntent()     {}
func (LoadMoreMessages) chatIntent() {}
func (SetTyping) chatIntent()        {}
func (ClearError) chatIntent()       {}

// Effect is a one-shot side effect, delivered at most once.
type Effect interface{ chatEffect() }

// ShowError asks the consumer to surface a transient error.
type ShowError struct {
	Message string
}

// ScrollToBottom fires once the first non-empty window arrives.
type ScrollToBottom struct{}

func (ShowError) chatEffect()      {}
func (ScrollToBottom) chatEffect() {}
