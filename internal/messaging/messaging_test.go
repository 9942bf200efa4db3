package messaging

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeClient struct {
	updates     []Message
	sendErr     error
	sendCalls   []sendCall
	failParseMode bool
}

type sendCall struct {
	chatID    int64
	text      string
	parseMode string
}

func (f *fakeClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Message, error) {
	var out []Message
	for _, m := range f.updates {
		if m.UpdateID >= offset {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, chatID int64, text string, parseMode string) error {
	f.sendCalls = append(f.sendCalls, sendCall{chatID, text, parseMode})
	if f.failParseMode && parseMode != "" {
		return f.sendErr
	}
	return nil
}

func TestTruncateCapsAt3900Characters(t *testing.T) {
	long := strings.Repeat("a", 5000)
	got := Truncate(long)
	if len(got) != maxMessageLength {
		t.Fatalf("expected truncated length %d, got %d", maxMessageLength, len(got))
	}
}

func TestTruncateLeavesShortTextUnchanged(t *testing.T) {
	if got := Truncate("hello"); got != "hello" {
		t.Fatalf("expected unchanged text, got %q", got)
	}
}

func TestInboxFiltersByChatIDAndBumpsOffset(t *testing.T) {
	client := &fakeClient{updates: []Message{
		{UpdateID: 1, ChatID: 99, Text: "not for us"},
		{UpdateID: 2, ChatID: 42, Text: "hello"},
	}}
	inbox := NewInbox(client, 42)

	msgs, err := inbox.Poll(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("expected one matching message, got %+v", msgs)
	}
	if inbox.Offset() != 3 {
		t.Fatalf("expected offset bumped past both updates (replay prevention), got %d", inbox.Offset())
	}
}

func TestInboxDoesNotRedeliverPastUpdates(t *testing.T) {
	client := &fakeClient{updates: []Message{{UpdateID: 1, ChatID: 1, Text: "first"}}}
	inbox := NewInbox(client, 1)

	first, _ := inbox.Poll(context.Background(), time.Second)
	if len(first) != 1 {
		t.Fatalf("expected first poll to return the message, got %d", len(first))
	}

	second, _ := inbox.Poll(context.Background(), time.Second)
	if len(second) != 0 {
		t.Fatalf("expected second poll to return nothing (no replay), got %d", len(second))
	}
}

func TestRouterDispatchesRegisteredCommand(t *testing.T) {
	r := NewRouter()
	r.Register("status", func(ctx context.Context, args string) (string, error) {
		return "ok:" + args, nil
	})

	out, err := r.Dispatch(context.Background(), "/status verbose")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out != "ok:verbose" {
		t.Fatalf("expected ok:verbose, got %q", out)
	}
}

func TestRouterUnknownCommandReportsUnknown(t *testing.T) {
	r := NewRouter()
	out, err := r.Dispatch(context.Background(), "/nonexistent")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(out, "unknown command") {
		t.Fatalf("expected unknown command message, got %q", out)
	}
}

func TestRouterFallsBackForPlainText(t *testing.T) {
	var gotQuery string
	r := NewRouter()
	r.Fallback = func(ctx context.Context, args string) (string, error) {
		gotQuery = args
		return "introspected", nil
	}

	out, err := r.Dispatch(context.Background(), "what is your roadmap?")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out != "introspected" || gotQuery != "what is your roadmap?" {
		t.Fatalf("expected fallback invoked with query text, got out=%q query=%q", out, gotQuery)
	}
}
