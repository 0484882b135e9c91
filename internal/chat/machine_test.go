package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/backend"
	"github.com/mrocha/chatline/internal/bus"
	"github.com/mrocha/chatline/internal/identity"
	"github.com/mrocha/chatline/internal/store"
)

type fakeGateway struct {
	mu           sync.Mutex
	windows      chan []backend.Message
	subErrs      chan error
	typing       chan []string
	deletes      []string
	deleteErr    error
	fetchCalls   []int64
	fetchPage    []backend.Message
	fetchErr     error
	setTypings   int
	clearTypings int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		windows: make(chan []backend.Message, 8),
		subErrs: make(chan error, 8),
		typing:  make(chan []string, 8),
	}
}

func (f *fakeGateway) Send(context.Context, backend.Message) error { return nil }

func (f *fakeGateway) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeGateway) FetchOlder(_ context.Context, beforeTs int64, _ int) ([]backend.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, beforeTs)
	return f.fetchPage, f.fetchErr
}

func (f *fakeGateway) Subscribe(context.Context, int) (*backend.Subscription, error) {
	return &backend.Subscription{Windows: f.windows, Errs: f.subErrs}, nil
}

func (f *fakeGateway) SetTyping(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setTypings++
	return nil
}

func (f *fakeGateway) ClearTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearTypings++
	return nil
}
func (f *fakeGateway) SubscribeTyping(context.Context) (<-chan []string, error) {
	return f.typing, nil
}
func (f *fakeGateway) Close() error { return nil }

func (f *fakeGateway) typingCounts() (set, clear int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setTypings, f.clearTypings
}

func (f *fakeGateway) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletes))
	copy(out, f.deletes)
	return out
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	text  string
	media []string
}

func (f *fakeSender) Queue(_ context.Context, text string, media []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, sendCall{text: text, media: media})
	return "new-id", nil
}

func (f *fakeSender) queued() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func testMachine(t *testing.T) (*Machine, *fakeGateway, *fakeSender, *identity.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	id := identity.NewStore(db, b, zap.NewNop())
	gw := newFakeGateway()
	sender := &fakeSender{}
	m := NewMachine(gw, sender, id, b, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return m, gw, sender, id
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func waitEffect(t *testing.T, m *Machine, want func(Effect) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-m.Effects():
			if want(e) {
				return
			}
		case <-deadline:
			t.Fatal("effect never delivered")
		}
	}
}

func msg(id string, ts int64) backend.Message {
	return backend.Message{ID: id, Timestamp: ts, Status: backend.StatusSent}
}

func TestWindowReplacesMessagesWholesale(t *testing.T) {
	m, gw, _, _ := testMachine(t)

	gw.windows <- []backend.Message{msg("a", 100), msg("b", 200)}
	waitFor(t, func() bool { return len(m.State().Messages) == 2 && !m.State().IsLoading })

	gw.windows <- []backend.Message{msg("b", 200), msg("c", 300)}
	waitFor(t, func() bool {
		s := m.State()
		return len(s.Messages) == 2 && s.Messages[0].ID == "b" && s.Messages[1].ID == "c"
	})
}

func TestFirstNonEmptyWindowScrollsOnce(t *testing.T) {
	m, gw, _, _ := testMachine(t)

	gw.windows <- nil
	gw.windows <- []backend.Message{msg("a", 100)}

	waitEffect(t, m, func(e Effect) bool {
		_, ok := e.(ScrollToBottom)
		return ok
	})

	gw.windows <- []backend.Message{msg("a", 100), msg("b", 200)}
	waitFor(t, func() bool { return len(m.State().Messages) == 2 })

	select {
	case e := <-m.Effects():
		if _, ok := e.(ScrollToBottom); ok {
			t.Error("scroll effect fired twice")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoadMoreFetchesStrictlyOlderAndDeduplicates(t *testing.T) {
	m, gw, _, _ := testMachine(t)

	gw.windows <- []backend.Message{msg("c", 300), msg("d", 400)}
	waitFor(t, func() bool { return !m.State().IsLoading && len(m.State().Messages) == 2 })

	// Page overlaps the window on "c"; the merge must not duplicate it.
	gw.fetchPage = []backend.Message{msg("a", 100), msg("b", 200), msg("c", 300)}
	m.Dispatch(LoadMoreMessages{})

	waitFor(t, func() bool { return len(m.State().Messages) == 4 })

	gw.mu.Lock()
	calls := append([]int64(nil), gw.fetchCalls...)
	gw.mu.Unlock()
	if len(calls) != 1 || calls[0] != 300 {
		t.Errorf("fetch calls = %v, want one call with beforeTs 300", calls)
	}

	s := m.State()
	for i, want := range []string{"a", "b", "c", "d"} {
		if s.Messages[i].ID != want {
			t.Errorf("messages[%d] = %s, want %s", i, s.Messages[i].ID, want)
		}
	}
	if s.IsPaginatedLoading {
		t.Error("paginated-loading flag still set")
	}
}

func TestLoadMoreEmptyPageStopsPagination(t *testing.T) {
	m, gw, _, _ := testMachine(t)

	gw.windows <- []backend.Message{msg("a", 100)}
	waitFor(t, func() bool { return !m.State().IsLoading })

	m.Dispatch(LoadMoreMessages{})
	waitFor(t, func() bool { return !m.State().HasMoreMessages })

	// Further load-more intents are no-ops.
	m.Dispatch(LoadMoreMessages{})
	time.Sleep(50 * time.Millisecond)
	gw.mu.Lock()
	calls := len(gw.fetchCalls)
	gw.mu.Unlock()
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
}

func TestLoadMoreFailureSetsErrorState(t *testing.T) {
	m, gw, _, _ := testMachine(t)

	gw.windows <- []backend.Message{msg("a", 100)}
	waitFor(t, func() bool { return !m.State().IsLoading })

	gw.fetchErr = errors.New("backend down")
	m.Dispatch(LoadMoreMessages{})

	waitFor(t, func() bool { return m.State().Error != "" })
	waitEffect(t, m, func(e Effect) bool {
		_, ok := e.(ShowError)
		return ok
	})
	if m.State().IsPaginatedLoading {
		t.Error("paginated-loading flag still set after failure")
	}
}

func TestSendDelegatesToOutbox(t *testing.T) {
	m, _, sender, _ := testMachine(t)

	m.Dispatch(SendMessage{Text: "hi", MediaURIs: []string{"/tmp/a.jpg"}})

	waitFor(t, func() bool { return len(sender.queued()) == 1 })
	call := sender.queued()[0]
	if call.text != "hi" || len(call.media) != 1 {
		t.Errorf("queued call = %+v", call)
	}
}

func TestSendFailureSetsErrorAndEmitsEffect(t *testing.T) {
	m, _, sender, _ := testMachine(t)
	sender.err = errors.New("empty message")

	m.Dispatch(SendMessage{})

	waitFor(t, func() bool { return m.State().Error != "" })
	waitEffect(t, m, func(e Effect) bool {
		_, ok := e.(ShowError)
		return ok
	})

	m.Dispatch(ClearError{})
	waitFor(t, func() bool { return m.State().Error == "" })
}

func TestDeleteFailureEmitsEffectOnly(t *testing.T) {
	m, gw, _, _ := testMachine(t)
	gw.deleteErr = errors.New("backend down")

	m.Dispatch(DeleteMessage{ID: "m1"})

	waitEffect(t, m, func(e Effect) bool {
		_, ok := e.(ShowError)
		return ok
	})
	if m.State().Error != "" {
		t.Errorf("delete failure wrote error state %q, want effect only", m.State().Error)
	}
}

func TestRetryDeletesThenResends(t *testing.T) {
	m, gw, sender, _ := testMachine(t)

	text := "try again"
	failed := backend.Message{
		ID:        "m1",
		Text:      &text,
		MediaURLs: []string{"https://cdn/a.jpg"},
		Status:    backend.StatusFailed,
	}
	m.Dispatch(RetryMessage{Message: failed})

	waitFor(t, func() bool { return len(sender.queued()) == 1 })
	if deleted := gw.deleted(); len(deleted) != 1 || deleted[0] != "m1" {
		t.Errorf("deleted = %v, want [m1]", gw.deleted())
	}
	call := sender.queued()[0]
	if call.text != text || len(call.media) != 1 || call.media[0] != "https://cdn/a.jpg" {
		t.Errorf("resend call = %+v, want original content", call)
	}
}

// While typing stays on, the TTL'd advertisement must be re-written so it
// never expires out of the presence set mid-typing.
func TestTypingAdvertisementRefreshedWhileTyping(t *testing.T) {
	m, gw, _, _ := testMachine(t)
	m.typingRefresh = 10 * time.Millisecond

	m.Dispatch(SetTyping{Typing: true})

	// Initial write plus at least two refreshes: the key is re-armed well
	// past its first TTL window.
	waitFor(t, func() bool {
		set, _ := gw.typingCounts()
		return set >= 3
	})

	m.Dispatch(SetTyping{Typing: false})
	waitFor(t, func() bool {
		_, clear := gw.typingCounts()
		return clear == 1
	})

	// The refresh loop stops once typing is off.
	set, _ := gw.typingCounts()
	time.Sleep(50 * time.Millisecond)
	after, _ := gw.typingCounts()
	if after > set+1 {
		t.Errorf("refresh loop still running after stop: %d writes then %d", set, after)
	}
}

// A repeated typing=true intent must not stack a second refresh loop.
func TestTypingTrueTwiceKeepsOneRefresher(t *testing.T) {
	m, gw, _, _ := testMachine(t)
	m.typingRefresh = time.Hour

	m.Dispatch(SetTyping{Typing: true})
	m.Dispatch(SetTyping{Typing: true})

	waitFor(t, func() bool {
		set, _ := gw.typingCounts()
		return set >= 1
	})
	time.Sleep(50 * time.Millisecond)
	if set, _ := gw.typingCounts(); set != 1 {
		t.Errorf("SetTyping written %d times, want 1 (no duplicate refresher)", set)
	}
}

func TestTypingFiltersOwnName(t *testing.T) {
	m, gw, _, id := testMachine(t)
	if err := id.SetUsername("alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return m.State().CurrentUserName == "alice" })

	gw.typing <- []string{"alice", "bob", "carol"}

	waitFor(t, func() bool { return len(m.State().TypingUsers) == 2 })
	for _, name := range m.State().TypingUsers {
		if name == "alice" {
			t.Error("own name present in typing list")
		}
	}
}

func TestSubscriptionErrorSurfacesInState(t *testing.T) {
	m, gw, _, _ := testMachine(t)

	gw.subErrs <- errors.New("connection reset")

	waitFor(t, func() bool { return m.State().Error != "" })
	waitEffect(t, m, func(e Effect) bool {
		_, ok := e.(ShowError)
		return ok
	})
}
