package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"

	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/memory/longterm"
	"github.com/maestrokit/maestro/pkg/models"
)

// userContextBudget caps the rendered user-context block, in characters.
// Entries are admitted importance-first until the budget runs out.
const userContextBudget = 2048

// retrievalLimit is the per-tier hit count composed into the prompt.
const retrievalLimit = 8

// compose assembles the turn's message list: one system message carrying
// the agent prompt plus the memory blocks, then the user message last.
func (a *Agent) compose(ctx context.Context, input TurnInput) []llm.ConversationMessage {
	var sections []string
	if a.cfg.SystemPrompt != "" {
		sections = append(sections, a.cfg.SystemPrompt)
	}
	if block := a.userContextBlock(ctx, input.UserID); block != "" {
		sections = append(sections, block)
	}
	if block := a.retrievalBlock(ctx, input); block != "" {
		sections = append(sections, block)
	}
	if block := a.knowledgeBlock(ctx, input.Message); block != "" {
		sections = append(sections, block)
	}

	messages := make([]llm.ConversationMessage, 0, 2)
	if len(sections) > 0 {
		messages = append(messages, llm.ConversationMessage{
			Role:    string(models.RoleSystem),
			Content: strings.Join(sections, "\n\n"),
		})
	}
	return append(messages, llm.ConversationMessage{
		Role:    string(models.RoleUser),
		Content: input.Message,
	})
}

// userContextBlock renders known user facts as key: value lines, highest
// importance first, truncated to the character budget.
func (a *Agent) userContextBlock(ctx context.Context, userID int64) string {
	if a.deps.UserCtx == nil || userID == 0 {
		return ""
	}
	facts, err := a.deps.UserCtx.Get(ctx, userID)
	if err != nil {
		slog.Warn("User context unavailable; composing without it",
			"agent_id", a.id, "user_id", userID, "error", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	type fact struct {
		key        string
		line       string
		importance float64
	}
	ordered := make([]fact, 0, len(facts))
	for key, v := range facts {
		ordered = append(ordered, fact{
			key:        key,
			line:       fmt.Sprintf("%s: %s", key, renderValue(v.Value)),
			importance: v.Importance,
		})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].importance != ordered[j].importance {
			return ordered[i].importance > ordered[j].importance
		}
		return ordered[i].key < ordered[j].key
	})

	var sb strings.Builder
	sb.WriteString("Known facts about this user:")
	used := 0
	for _, f := range ordered {
		if used+len(f.line)+1 > userContextBudget {
			break
		}
		sb.WriteString("\n")
		sb.WriteString(f.line)
		used += len(f.line) + 1
	}
	if used == 0 {
		return ""
	}
	return sb.String()
}

// retrievalBlock merges buffer and long-term hits for the message: buffer
// search with the agent's recency bias, long-term filtered by user id,
// deduplicated by content, rendered oldest first. A failing long-term tier
// degrades to buffer-only composition.
func (a *Agent) retrievalBlock(ctx context.Context, input TurnInput) string {
	bias := 0.0
	if a.deps.Memory != nil {
		bias = a.deps.Memory.Buffer.DefaultRecencyBias
	}
	if a.cfg.RecencyBias != nil {
		bias = *a.cfg.RecencyBias
	}

	// Anonymous turns scope recall to the conversation; known users recall
	// across their whole partition.
	filter := map[string]any{models.MetaUserID: input.UserID}
	if input.UserID == 0 {
		filter = map[string]any{models.MetaConversationID: input.ConversationID}
	}
	hits := a.deps.Buffer.Search(ctx, input.Message, retrievalLimit, filter, bias)

	if input.UserID != 0 && a.deps.LongTerm != nil {
		ltHits, err := a.deps.LongTerm.Search(ctx, input.Message, retrievalLimit, longterm.Filter{UserID: input.UserID})
		if err != nil {
			slog.Warn("Long-term retrieval unavailable; composing from buffer only",
				"agent_id", a.id, "user_id", input.UserID, "trace_id", input.TraceID, "error", err)
		} else {
			hits = append(hits, ltHits...)
		}
	}
	if len(hits) == 0 {
		return ""
	}

	seen := make(map[uint64]struct{}, len(hits))
	merged := hits[:0]
	for _, h := range hits {
		key := contentHash(h.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, h)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	var sb strings.Builder
	sb.WriteString("Relevant prior conversation and memories, oldest first:")
	for _, h := range merged {
		sb.WriteString("\n- ")
		sb.WriteString(h.Content)
	}
	return sb.String()
}

// knowledgeBlock renders reference chunks from the agent's attached sources,
// provenance inline. Source-level thresholds and top-k already applied.
func (a *Agent) knowledgeBlock(ctx context.Context, message string) string {
	if a.deps.Knowledge == nil || len(a.cfg.KnowledgeSources) == 0 {
		return ""
	}
	hits, err := a.deps.Knowledge.Search(ctx, a.cfg.KnowledgeSources, message)
	if err != nil {
		slog.Warn("Knowledge retrieval failed; composing without it",
			"agent_id", a.id, "error", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Reference material:")
	for _, h := range hits {
		fmt.Fprintf(&sb, "\n- [%s] %s", h.Source, h.Content)
	}
	return sb.String()
}

func renderValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(raw)
	}
}

func contentHash(content string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(content))
	return h.Sum64()
}
