package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langgraphgo/graph"

	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/common/telemetry"
	"github.com/chatdochq/chatdoc/internal/docs"
	"github.com/chatdochq/chatdoc/internal/history"
	"github.com/chatdochq/chatdoc/internal/index"
	"github.com/chatdochq/chatdoc/internal/llm/providers"
	"github.com/chatdochq/chatdoc/internal/retriever"
)

const (
	defaultLastN = 5

	systemPrompt = "You are a helpful assistant that answers questions about the user's uploaded documents. " +
		"Ground your answer in the provided document excerpts when they are relevant. " +
		"If the excerpts do not contain the answer, say so instead of guessing."
)

// Answer is one assistant turn with the provenance it drew from.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// Bot runs the retrieve-then-generate conversation flow for a session:
// recent history plus retrieved excerpts go into the model, the reply comes
// back with citations and both turns land in the history store.
type Bot struct {
	provider  providers.Provider
	manager   *index.Manager
	retriever *retriever.Retriever
	history   *history.Store
	lastN     int
}

func NewBot(provider providers.Provider, manager *index.Manager, retr *retriever.Retriever, hist *history.Store) *Bot {
	lastN := defaultLastN
	if raw := strings.TrimSpace(os.Getenv("LAST_N_MESSAGES")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			lastN = parsed
		}
	}
	return &Bot{
		provider:  provider,
		manager:   manager,
		retriever: retr,
		history:   hist,
		lastN:     lastN,
	}
}

// Send answers one user prompt within a session. A retrieval backend outage
// degrades to an uncited answer rather than failing the turn; invalid input
// still errors.
func (b *Bot) Send(ctx context.Context, sessionID, prompt string) (Answer, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Answer{}, fmt.Errorf("%w: prompt required", docs.ErrInvalidConfig)
	}
	col, err := b.manager.Open(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}
	start := time.Now()

	var retrieved []docs.RetrievalResult

	flow := graph.NewMessageGraph()
	flow.AddNode("retrieve", func(ctx context.Context, state []llms.MessageContent) ([]llms.MessageContent, error) {
		results, err := b.retriever.Retrieve(ctx, col.Name(), prompt, col.Config())
		if err != nil {
			if errors.Is(err, docs.ErrBackendUnavailable) {
				common.Logger().Warn("chat: retrieval unavailable, answering without context", "session", sessionID, "error", err)
				return state, nil
			}
			return nil, err
		}
		retrieved = results
		if block := contextBlock(results); block != "" {
			state = append(state, llms.TextParts(llms.ChatMessageTypeSystem, block))
		}
		return state, nil
	})
	flow.AddNode("generate", func(ctx context.Context, state []llms.MessageContent) ([]llms.MessageContent, error) {
		reply, err := b.provider.Chat(ctx, toProviderMessages(state))
		if err != nil {
			return nil, fmt.Errorf("%w: chat completion: %v", docs.ErrBackendUnavailable, err)
		}
		return append(state, llms.TextParts(llms.ChatMessageTypeAI, reply)), nil
	})
	flow.AddEdge("retrieve", "generate")
	flow.AddEdge("generate", graph.END)
	flow.SetEntryPoint("retrieve")

	runnable, err := flow.Compile()
	if err != nil {
		return Answer{}, fmt.Errorf("compile chat flow: %w", err)
	}

	state := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt)}
	state = append(state, b.historyMessages(ctx, sessionID)...)
	state = append(state, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	final, err := runnable.Invoke(ctx, state)
	if err != nil {
		return Answer{}, err
	}
	reply := lastAssistantText(final)
	if reply == "" {
		return Answer{}, fmt.Errorf("%w: model returned no reply", docs.ErrBackendUnavailable)
	}

	citations := citationsFrom(retrieved)
	text := reply + formatCitations(citations)

	b.recordTurn(ctx, sessionID, "user", prompt)
	b.recordTurn(ctx, sessionID, "assistant", text)
	telemetry.RecordChat(time.Since(start))
	common.Logger().Info("chat: turn complete", "session", sessionID, "citations", len(citations), "provider", b.provider.Name())
	return Answer{Text: text, Citations: citations}, nil
}

// historyMessages loads the recent conversation window. History is advisory
// context; a read failure is logged, not surfaced.
func (b *Bot) historyMessages(ctx context.Context, sessionID string) []llms.MessageContent {
	if b.history == nil || b.lastN == 0 {
		return nil
	}
	turns, err := b.history.RecentMessages(ctx, sessionID, b.lastN)
	if err != nil {
		common.Logger().Warn("chat: history unavailable", "session", sessionID, "error", err)
		return nil
	}
	out := make([]llms.MessageContent, 0, len(turns))
	for _, turn := range turns {
		role := llms.ChatMessageTypeHuman
		if turn.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, turn.Content))
	}
	return out
}

func (b *Bot) recordTurn(ctx context.Context, sessionID, role, content string) {
	if b.history == nil {
		return
	}
	if err := b.history.AppendMessage(ctx, sessionID, role, content); err != nil {
		common.Logger().Warn("chat: failed to persist turn", "session", sessionID, "role", role, "error", err)
	}
}

// contextBlock renders retrieved passages as a single system message.
func contextBlock(results []docs.RetrievalResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Document excerpts relevant to the user's question:\n")
	for _, res := range results {
		fmt.Fprintf(&b, "\n[%d] (%s, page %d)\n%s\n", res.Rank, res.Source, res.Page, res.ChunkText)
	}
	return b.String()
}

func toProviderMessages(state []llms.MessageContent) []providers.Message {
	out := make([]providers.Message, 0, len(state))
	for _, msg := range state {
		role := "user"
		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			role = "system"
		case llms.ChatMessageTypeAI:
			role = "assistant"
		}
		out = append(out, providers.Message{Role: role, Content: messageText(msg)})
	}
	return out
}

func messageText(msg llms.MessageContent) string {
	var b strings.Builder
	for _, part := range msg.Parts {
		if text, ok := part.(llms.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

func lastAssistantText(state []llms.MessageContent) string {
	for i := len(state) - 1; i >= 0; i-- {
		if state[i].Role == llms.ChatMessageTypeAI {
			return strings.TrimSpace(messageText(state[i]))
		}
	}
	return ""
}
