package chatapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/memsubstrate/internal/budget"
	apierrors "github.com/yungbote/memsubstrate/internal/errors"
	"github.com/yungbote/memsubstrate/internal/memstore"
	"github.com/yungbote/memsubstrate/internal/retrieval"
	"github.com/yungbote/memsubstrate/internal/tracker"
)

const maxRequestBytes = 10 << 20

func writeAPIError(w http.ResponseWriter, err *apierrors.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message":        err.Error(),
			"type":           string(err.Class),
			"code":           err.Code,
			"correlation_id": w.Header().Get("X-Correlation-ID"),
		},
	})
}

func (o *Orchestrator) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{
		Object: "list",
		Data: []ModelEntry{
			{ID: "memsubstrate", Object: "model", OwnedBy: "memsubstrate"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// resolveSessionID derives the session identity from X-Conversation-ID, or
// synthesizes sha256(client_ip:user_agent)[:16] when absent, per spec.md §4.12.
func resolveSessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Conversation-ID")); id != "" {
		return id
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	ua := r.Header.Get("User-Agent")
	sum := sha256.Sum256([]byte(ip + ":" + ua))
	return hex.EncodeToString(sum[:])[:16]
}

func (o *Orchestrator) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierrors.Input("invalid_request_body", err))
		return
	}
	if len(req.Messages) == 0 {
		writeAPIError(w, apierrors.Input("messages_required", nil))
		return
	}
	lastUser := lastUserMessage(req.Messages)
	if strings.TrimSpace(lastUser) == "" {
		writeAPIError(w, apierrors.Input("empty_user_message", nil))
		return
	}

	sessionID := resolveSessionID(r)
	o.kickOffBoundaryTracking(sessionID, req.Messages)

	ctx := r.Context()
	instructions, retrievedIDs := o.buildContext(ctx, lastUser)

	if req.Stream {
		o.streamCompletion(ctx, w, req, instructions, retrievedIDs)
		return
	}
	o.respondCompletion(ctx, w, req, instructions, retrievedIDs)
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.EqualFold(messages[i].Role, "user") {
			return messages[i].Content
		}
	}
	return ""
}

// kickOffBoundaryTracking evaluates the boundary without awaiting it on the
// chat request's critical path, per spec.md §4.12 step 2.
func (o *Orchestrator) kickOffBoundaryTracking(sessionID string, messages []Message) {
	if o.sessions == nil {
		return
	}
	trackerMessages := make([]tracker.Message, len(messages))
	now := time.Now()
	for i, m := range messages {
		trackerMessages[i] = tracker.Message{Role: m.Role, Content: m.Content, Timestamp: now}
	}
	go func() {
		result := o.sessions.ProcessRequest(sessionID, trackerMessages)
		if result.ClosedTranscript != nil {
			o.runMemoryPipeline(context.Background(), *result.ClosedTranscript)
		}
	}()
}

// runMemoryPipeline is C3 -> C4 -> C5 -> C6 for a just-closed session. It is
// always run off the hot path; every failure is logged and swallowed.
func (o *Orchestrator) runMemoryPipeline(ctx context.Context, t tracker.Transcript) {
	if o.extractor == nil {
		return
	}
	result := o.extractor.ExtractMemories(ctx, t)
	if !result.IsSuccessful() {
		if o.log != nil {
			o.log.Warn("memory pipeline: extraction failed", "session_id", t.SessionID, "error", result.Error)
		}
		return
	}
	if len(result.Memories) == 0 {
		return
	}
	if o.memstore == nil || !o.memstore.Enabled() {
		return
	}

	newMemories := make([]memstore.NewMemory, len(result.Memories))
	for i, m := range result.Memories {
		newMemories[i] = memstore.NewMemory{
			MemoryType:           memstore.MemoryType(m.MemoryType),
			Content:              m.Content,
			Confidence:           m.Confidence,
			SourceConversationID: m.SourceConversationID,
			ExtractionTimestamp:  m.ExtractionTimestamp,
			Supersedes:           m.Supersedes,
			Metadata:             m.Metadata,
		}
	}

	if o.embed != nil {
		contents := make([]string, len(newMemories))
		for i, m := range newMemories {
			contents[i] = m.Content
		}
		if vecs, err := o.embed.EmbedBatch(ctx, contents); err == nil && len(vecs) == len(newMemories) {
			for i := range newMemories {
				newMemories[i].Embedding = vecs[i]
			}
		} else if err != nil && o.log != nil {
			o.log.Warn("memory pipeline: embedding failed, storing without vectors", "session_id", t.SessionID, "error", err.Error())
		}
	}

	storeTranscript := memstore.Transcript{
		SessionID:    t.SessionID,
		StartTime:    t.StartTime,
		EndTime:      t.EndTime,
		MessageCount: t.MessageCount,
	}
	if _, err := o.memstore.StoreExtractionResult(ctx, storeTranscript, newMemories); err != nil && o.log != nil {
		o.log.Error("memory pipeline: store failed", "session_id", t.SessionID, "error", err.Error())
	}
}

// buildContext runs C8 -> C9/C10 (inside retrieval) -> C12 against the
// query text, and records the surfaced memories' access via C11. On any
// retrieval error it degrades to an empty context, per spec.md §4.12 step 4.
func (o *Orchestrator) buildContext(ctx context.Context, queryText string) (string, []string) {
	if o.retriever == nil {
		return o.cfg.SystemPrompt, nil
	}

	resp, err := o.retriever.Retrieve(ctx, retrieval.Query{QueryText: queryText, TopK: 10})
	if err != nil {
		if o.log != nil {
			o.log.Warn("chat: retrieval failed, proceeding with empty context", "error", err.Error())
		}
		return o.cfg.SystemPrompt, nil
	}
	if len(resp.Results) == 0 {
		return o.cfg.SystemPrompt, nil
	}

	items := make([]budget.Item, len(resp.Results))
	for i, ranked := range resp.Results {
		items[i] = budget.Item{
			MemoryID:       ranked.Memory.MemoryID,
			Content:        ranked.Memory.Content,
			RelevanceScore: ranked.Score,
		}
	}

	var fitted budget.Result
	if o.budgetMgr != nil {
		fitted = o.budgetMgr.Fit(items, o.cfg.MaxContextTokens, o.cfg.BudgetStrategy)
	} else {
		fitted = budget.Result{Items: toBudgetedItems(items)}
	}

	var b strings.Builder
	for _, it := range fitted.Items {
		if strings.TrimSpace(it.Content) == "" {
			continue
		}
		b.WriteString("- " + it.Content + "\n")
	}

	instructions := strings.TrimSpace(o.cfg.SystemPrompt)
	if b.Len() > 0 {
		instructions = strings.TrimSpace(instructions + "\n\nRelevant memory about this user:\n" + b.String())
	}

	if o.access != nil {
		o.access.RecordAccess(ctx, resp.MemoryIDs())
	}
	return instructions, resp.MemoryIDs()
}

func toBudgetedItems(items []budget.Item) []budget.BudgetedItem {
	out := make([]budget.BudgetedItem, len(items))
	for i, it := range items {
		out[i] = budget.BudgetedItem{MemoryID: it.MemoryID, Content: it.Content}
	}
	return out
}

func (o *Orchestrator) respondCompletion(ctx context.Context, w http.ResponseWriter, req ChatCompletionRequest, instructions string, _ []string) {
	messages := toClientMessages(req.Messages)
	text, err := o.chat.StreamChat(ctx, instructions, messages, func(string) {})
	if err != nil {
		writeAPIError(w, apierrors.TransientRemote("chat_completion_failed", err))
		return
	}

	promptTokens := o.countTokens(instructions + renderMessages(messages))
	completionTokens := o.countTokens(text)

	resp := ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{Index: 0, Message: Message{Role: "assistant", Content: text}, FinishReason: "stop"},
		},
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (o *Orchestrator) streamCompletion(ctx context.Context, w http.ResponseWriter, req ChatCompletionRequest, instructions string, _ []string) {
	flusher, ok := prepareSSE(w)
	if !ok {
		writeAPIError(w, apierrors.Internal(nil))
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	_ = writeSSEData(w, ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
		Choices: []ChunkChoice{{Index: 0, Delta: Delta{Role: "assistant"}}},
	})
	flusher.Flush()

	messages := toClientMessages(req.Messages)
	text, err := o.chat.StreamChat(ctx, instructions, messages, func(delta string) {
		if delta == "" {
			return
		}
		_ = writeSSEData(w, ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
			Choices: []ChunkChoice{{Index: 0, Delta: Delta{Content: delta}}},
		})
		flusher.Flush()
	})
	if err != nil {
		if o.log != nil {
			o.log.Warn("chat: stream failed mid-response", "error", err.Error())
		}
		_ = writeSSEData(w, ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
			Choices: []ChunkChoice{{Index: 0, FinishReason: "error"}},
		})
		flusher.Flush()
		_ = writeSSEDone(w)
		flusher.Flush()
		return
	}

	promptTokens := o.countTokens(instructions + renderMessages(messages))
	completionTokens := o.countTokens(text)
	usage := &Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: promptTokens + completionTokens}

	_ = writeSSEData(w, ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
		Choices: []ChunkChoice{{Index: 0, FinishReason: "stop"}},
		Usage:   usage,
	})
	flusher.Flush()
	_ = writeSSEDone(w)
	flusher.Flush()
}

func (o *Orchestrator) countTokens(text string) int {
	if o.budgetMgr != nil {
		return o.budgetMgr.CountTokens(text)
	}
	return budget.EstimateTokens(text)
}

func toClientMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

func renderMessages(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role + ": " + m.Content + "\n")
	}
	return b.String()
}
