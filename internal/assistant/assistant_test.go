package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	reply string
	err   error

	calls    int
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func newTestAssistant(model llms.Model) *Assistant {
	a := New(model, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n := 0
	a.newID = func() string {
		n++
		return "id-" + string(rune('0'+n))
	}
	return a
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	if len(m.Parts) != 1 {
		t.Fatalf("expected one part, got %d", len(m.Parts))
	}
	part, ok := m.Parts[0].(llms.TextContent)
	if !ok {
		t.Fatalf("expected text part, got %T", m.Parts[0])
	}
	return part.Text
}

func TestChatDetectsClosingTurn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		reply    string
		complete bool
	}{
		{name: "question", reply: "What is your full name?", complete: false},
		{name: "closing line", reply: ClosingLine, complete: true},
		{name: "case insensitive", reply: "OK, LET ME GENERATE it.", complete: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			model := &fakeModel{reply: tt.reply}
			a := newTestAssistant(model)

			reply, complete, err := a.Chat(context.Background(), []Message{
				{Role: RoleAssistant, Content: "Hi! What's your name?"},
				{Role: RoleUser, Content: "Ada Lovelace"},
			})
			if err != nil {
				t.Fatalf("chat: %v", err)
			}
			if reply != tt.reply || complete != tt.complete {
				t.Fatalf("got (%q, %v), want (%q, %v)", reply, complete, tt.reply, tt.complete)
			}
			if len(model.messages) != 3 {
				t.Fatalf("expected system prompt plus history, got %d messages", len(model.messages))
			}
			if model.messages[0].Role != llms.ChatMessageTypeSystem || !strings.Contains(textOf(t, model.messages[0]), "CV building assistant") {
				t.Fatalf("expected builder prompt first")
			}
			if model.messages[1].Role != llms.ChatMessageTypeAI || model.messages[2].Role != llms.ChatMessageTypeHuman {
				t.Fatalf("unexpected role mapping: %v, %v", model.messages[1].Role, model.messages[2].Role)
			}
		})
	}
}

func TestChatRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	model := &fakeModel{reply: "hi"}
	a := newTestAssistant(model)

	_, _, err := a.Chat(context.Background(), []Message{{Role: "tool", Content: "x"}})
	var roleErr *RoleError
	if !errors.As(err, &roleErr) || roleErr.Index != 0 {
		t.Fatalf("expected RoleError, got %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("model must not be called for an invalid history")
	}
}

func TestExtractFromConversation(t *testing.T) {
	t.Parallel()

	model := &fakeModel{reply: "```json\n" + `{
		"personalInfo": {"fullName": "Ada Lovelace", "email": "ada@example.com"},
		"experience": [{"company": "Analytical Engines", "position": "Programmer", "current": true, "endDate": "Present"}],
		"skills": [{"id": "s1", "category": "Math"}]
	}` + "\n```"}
	a := newTestAssistant(model)

	r, err := a.ExtractFromConversation(context.Background(), []Message{
		{Role: RoleUser, Content: "I'm Ada Lovelace"},
		{Role: RoleAssistant, Content: "Where do you work?"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if r.PersonalInfo.FullName != "Ada Lovelace" {
		t.Fatalf("unexpected name %q", r.PersonalInfo.FullName)
	}
	if len(r.Experience) != 1 || r.Experience[0].ID != "id-1" || !r.Experience[0].Current {
		t.Fatalf("unexpected experience %+v", r.Experience)
	}
	if r.Skills[0].ID != "s1" || r.Skills[0].Items == nil {
		t.Fatalf("expected existing id kept and items normalized, got %+v", r.Skills[0])
	}
	if r.Education == nil {
		t.Fatalf("expected education normalized to an empty list")
	}

	user := textOf(t, model.messages[1])
	if !strings.Contains(user, "user: I'm Ada Lovelace\n\nassistant: Where do you work?") {
		t.Fatalf("unexpected transcript %q", user)
	}
}

func TestExtractFromText(t *testing.T) {
	t.Parallel()

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		model := &fakeModel{}
		if _, err := newTestAssistant(model).ExtractFromText(context.Background(), "  \n"); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("expected ErrEmptyText, got %v", err)
		}
		if model.calls != 0 {
			t.Fatalf("model must not be called for empty text")
		}
	})

	t.Run("malformed reply", func(t *testing.T) {
		t.Parallel()
		model := &fakeModel{reply: "Sorry, I cannot help with that."}
		if _, err := newTestAssistant(model).ExtractFromText(context.Background(), "Ada Lovelace"); err == nil {
			t.Fatalf("expected decode error")
		}
	})

	t.Run("model failure", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("429 too many requests")
		model := &fakeModel{err: boom}
		if _, err := newTestAssistant(model).ExtractFromText(context.Background(), "Ada Lovelace"); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped model error, got %v", err)
		}
	})
}
