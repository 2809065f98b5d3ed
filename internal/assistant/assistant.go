package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"cvforge/internal/config"
	"cvforge/internal/resume"
)

// Roles accepted in a conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var (
	// ErrEmptyText is returned when there is nothing to extract from.
	ErrEmptyText = errors.New("no text to extract from")
	// ErrEmptyReply is returned when the model produced no choices.
	ErrEmptyReply = errors.New("model returned no content")
)

// completionPhrases mark the interviewer's closing turn.
var completionPhrases = []string{
	"generate your professional resume",
	"generate your resume",
	"let me generate",
}

// Message is one turn of a chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleError reports a history entry with a role the model cannot take.
type RoleError struct {
	Index int
	Role  string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("message %d: unsupported role %q", e.Index, e.Role)
}

// Assistant runs the résumé interview and turns free text into a Resume.
type Assistant struct {
	model  llms.Model
	logger *slog.Logger
	newID  func() string
}

// New wraps an already constructed model.
func New(model llms.Model, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		model:  model,
		logger: logger.With(slog.String("component", "assistant")),
		newID:  uuid.NewString,
	}
}

// NewAzure connects to the configured Azure OpenAI deployment.
func NewAzure(cfg config.AssistantConfig, logger *slog.Logger) (*Assistant, error) {
	if !cfg.Enabled() {
		return nil, errors.New("assistant endpoint and api key are required")
	}
	llm, err := openai.New(
		openai.WithAPIType(openai.APITypeAzure),
		openai.WithBaseURL(strings.TrimRight(cfg.Endpoint, "/")),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Deployment),
		openai.WithAPIVersion(cfg.APIVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("create azure openai client: %w", err)
	}
	return New(llm, logger), nil
}

// Chat continues the interview and reports whether the reply is the closing turn.
func (a *Assistant) Chat(ctx context.Context, history []Message) (string, bool, error) {
	contents, err := toContents(history)
	if err != nil {
		return "", false, err
	}
	contents = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, builderPrompt)}, contents...)

	reply, err := a.generate(ctx, contents)
	if err != nil {
		return "", false, fmt.Errorf("chat: %w", err)
	}
	return reply, IsComplete(reply), nil
}

// ExtractFromConversation builds a Resume from everything said so far.
func (a *Assistant) ExtractFromConversation(ctx context.Context, history []Message) (resume.Resume, error) {
	if _, err := toContents(history); err != nil {
		return resume.Resume{}, err
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return a.extract(ctx, conversationExtractPrompt,
		"Extract all CV information from this conversation:\n\n"+strings.Join(lines, "\n\n"))
}

// ExtractFromText builds a Resume from the plain text of an uploaded document.
func (a *Assistant) ExtractFromText(ctx context.Context, text string) (resume.Resume, error) {
	if strings.TrimSpace(text) == "" {
		return resume.Resume{}, ErrEmptyText
	}
	return a.extract(ctx, textExtractPrompt, "Parse the following resume and extract all information:\n\n"+text)
}

func (a *Assistant) extract(ctx context.Context, system, user string) (resume.Resume, error) {
	reply, err := a.generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system+outputContract),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, llms.WithJSONMode())
	if err != nil {
		return resume.Resume{}, fmt.Errorf("extract cv data: %w", err)
	}

	var r resume.Resume
	if err := json.Unmarshal([]byte(stripFences(reply)), &r); err != nil {
		a.logger.Warn("model returned malformed cv json", slog.Int("reply_len", len(reply)), slog.Any("error", err))
		return resume.Resume{}, fmt.Errorf("decode extracted cv data: %w", err)
	}
	r.Normalize()
	a.fillIDs(&r)
	return r, nil
}

func (a *Assistant) generate(ctx context.Context, contents []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	resp, err := a.model.GenerateContent(ctx, contents, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Content, nil
}

// fillIDs gives every list item an id; the model does not always comply.
func (a *Assistant) fillIDs(r *resume.Resume) {
	for i := range r.Experience {
		if r.Experience[i].ID == "" {
			r.Experience[i].ID = a.newID()
		}
	}
	for i := range r.Education {
		if r.Education[i].ID == "" {
			r.Education[i].ID = a.newID()
		}
	}
	for i := range r.Skills {
		if r.Skills[i].ID == "" {
			r.Skills[i].ID = a.newID()
		}
	}
	for i := range r.Projects {
		if r.Projects[i].ID == "" {
			r.Projects[i].ID = a.newID()
		}
	}
	for i := range r.Certificates {
		if r.Certificates[i].ID == "" {
			r.Certificates[i].ID = a.newID()
		}
	}
}

// IsComplete reports whether reply announces that the résumé is about to be generated.
func IsComplete(reply string) bool {
	lower := strings.ToLower(reply)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func toContents(history []Message) ([]llms.MessageContent, error) {
	contents := make([]llms.MessageContent, 0, len(history))
	for i, m := range history {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleUser:
			role = llms.ChatMessageTypeHuman
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		default:
			return nil, &RoleError{Index: i, Role: m.Role}
		}
		contents = append(contents, llms.TextParts(role, m.Content))
	}
	return contents, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
